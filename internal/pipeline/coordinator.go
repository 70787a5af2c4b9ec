// Package pipeline coordinates a run through extraction, enhancement and
// generation.
//
// Each stage tries its capable adapters in configured order. An adapter
// attempt is bounded by the stage timeout and retried with exponential
// backoff while it fails with a transient kind; a NotAvailable adapter, or
// one that exhausts its attempts, hands over to the next. Every status
// change is persisted so callers can poll the run, and cancellation is
// honoured between stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/semaphore"

	"github.com/jackzampolin/qforge/internal/adapters"
	"github.com/jackzampolin/qforge/internal/metrics"
	"github.com/jackzampolin/qforge/internal/store"
	"github.com/jackzampolin/qforge/internal/types"
)

// ErrCancelled is the cause recorded when a run stops on request.
var ErrCancelled = errors.New("run cancelled")

// Coordinator drives pipeline runs. It is safe for concurrent use.
type Coordinator struct {
	cfg    Config
	store  store.Store
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu       sync.RWMutex
	adapters Adapters
}

// New creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	cfg.applyDefaults()
	return &Coordinator{
		cfg:      cfg,
		store:    cfg.Store,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:   cfg.Logger,
		adapters: cfg.Adapters,
	}, nil
}

// SetAdapters swaps the adapter chains. Runs already executing keep the
// chains they started with.
func (c *Coordinator) SetAdapters(a Adapters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapters = a
}

// Adapters returns the current adapter chains.
func (c *Coordinator) Adapters() Adapters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adapters
}

// Run submits and executes a run synchronously.
func (c *Coordinator) Run(ctx context.Context, in types.Input, params types.RunParams) (*Result, error) {
	run, err := c.Submit(ctx, in, params)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, run.ID, in)
}

// Submit validates the request and persists a pending run.
// Invalid input is rejected without creating a run.
func (c *Coordinator) Submit(ctx context.Context, in types.Input, params types.RunParams) (*types.PipelineRun, error) {
	if err := validateInput(in, params); err != nil {
		return nil, failure(types.KindInputInvalid, StageSubmit, err)
	}

	run := types.NewRun(c.cfg.NewID(), in, params, c.cfg.Now())
	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	c.logger.Info("run submitted", "run_id", run.ID, "format", in.Format,
		"qtype", params.QuestionType, "difficulty", params.Difficulty, "count", params.NumQuestions)
	return run, nil
}

func validateInput(in types.Input, params types.RunParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	switch in.Format {
	case types.FormatText:
		if strings.TrimSpace(in.Text) == "" {
			return errors.New("empty text")
		}
	case types.FormatImage, types.FormatPDF:
		if len(in.Data) == 0 && in.Path == "" {
			return errors.New("empty file")
		}
	default:
		return fmt.Errorf("unsupported input format %q", in.Format)
	}
	return nil
}

// Cancel requests cancellation of a run. It takes effect at the next stage boundary.
func (c *Coordinator) Cancel(ctx context.Context, runID string) error {
	if err := c.store.RequestCancel(ctx, runID); err != nil {
		return err
	}
	c.logger.Info("run cancel requested", "run_id", runID)
	return nil
}

// Execute drives a submitted run through its stages. The returned Result
// is set whenever the run could be loaded; the error is non-nil unless the
// run finished done.
func (c *Coordinator) Execute(ctx context.Context, runID string, in types.Input) (*Result, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	if run.Status.IsTerminal() {
		return &Result{Run: run}, fmt.Errorf("run %s: %w", runID, store.ErrTerminal)
	}

	ex := &execution{
		Coordinator: c,
		run:         run,
		adapters:    c.Adapters(),
		logger:      c.logger.With("run_id", runID),
	}
	return ex.execute(ctx, in)
}

// execution is the state of one Execute call.
type execution struct {
	*Coordinator
	run      *types.PipelineRun
	adapters Adapters
	logger   *slog.Logger
}

func (e *execution) execute(ctx context.Context, in types.Input) (*Result, error) {
	text := in.Text
	if !in.IsText() {
		if err := e.enter(ctx, types.StatusExtracting); err != nil {
			return e.finish(ctx, err)
		}
		res, err := e.extract(ctx, in)
		if err != nil {
			return e.finish(ctx, err)
		}
		e.run.Extraction = res
		text = res.Text
	}

	if err := e.enter(ctx, types.StatusEnhancing); err != nil {
		return e.finish(ctx, err)
	}
	enhanced, err := e.enhance(ctx, text)
	if err != nil {
		return e.finish(ctx, err)
	}
	e.run.Enhanced = enhanced

	if err := e.enter(ctx, types.StatusGenerating); err != nil {
		return e.finish(ctx, err)
	}
	questions, err := e.generate(ctx, enhanced.Text)
	if err != nil && len(questions) == 0 {
		return e.finish(ctx, err)
	}

	if storeErr := e.storeQuestions(ctx, questions); storeErr != nil {
		return e.finish(ctx, storeErr)
	}
	e.run.QuestionCount = len(questions)
	result, finishErr := e.finish(ctx, err)
	result.Questions = questions
	return result, finishErr
}

// enter checks for cancellation and moves the run into status.
func (e *execution) enter(ctx context.Context, status types.RunStatus) error {
	if err := e.cancelled(ctx); err != nil {
		return err
	}
	e.run.Transition(status, e.cfg.Now(), 0, "", "")
	if err := e.save(ctx); err != nil {
		return err
	}
	e.logger.Debug("stage started", "status", status)
	return nil
}

// cancelled reports a cancellation requested through the context or the store.
func (e *execution) cancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return failure(types.KindCancelled, e.currentStage(), fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
	}
	stored, err := e.store.GetRun(ctx, e.run.ID)
	if err != nil {
		return fmt.Errorf("reload run: %w", err)
	}
	if stored.CancelRequested {
		e.run.CancelRequested = true
		return failure(types.KindCancelled, e.currentStage(), ErrCancelled)
	}
	return nil
}

func (e *execution) currentStage() Stage {
	switch e.run.Status {
	case types.StatusExtracting:
		return StageExtract
	case types.StatusEnhancing:
		return StageEnhance
	case types.StatusGenerating:
		return StageGenerate
	default:
		return StageSubmit
	}
}

// save persists the run. It outlives ctx so a cancelled caller still
// leaves an accurate record.
func (e *execution) save(ctx context.Context) error {
	if err := e.store.UpdateRun(context.WithoutCancel(ctx), e.run); err != nil {
		return fmt.Errorf("persist run: %w", err)
	}
	return nil
}

// stageDone annotates the current history entry with how the stage was served.
func (e *execution) stageDone(adapter string, attempts int) {
	if n := len(e.run.History); n > 0 {
		e.run.History[n-1].Adapter = adapter
		e.run.History[n-1].Attempts = attempts
	}
}

// finish moves the run to its terminal status for err and persists it.
func (e *execution) finish(ctx context.Context, err error) (*Result, error) {
	status := types.StatusDone
	note := ""
	var pe *Error
	switch {
	case err == nil:
	case errors.As(err, &pe):
		switch pe.Kind {
		case types.KindCancelled:
			status = types.StatusCancelled
		case types.KindGenerationCardinalityMismatch:
			status = types.StatusFailed
			if e.run.QuestionCount > 0 {
				status = types.StatusInsufficient
			}
		default:
			status = types.StatusFailed
		}
		e.run.FailureKind = pe.Kind
		e.run.FailureReason = pe.Err.Error()
		note = string(pe.Stage)
	default:
		// Store or other infrastructure failures.
		status = types.StatusFailed
		e.run.FailureKind = types.KindAdapterUnavailable
		e.run.FailureReason = err.Error()
		err = failure(types.KindAdapterUnavailable, e.currentStage(), err)
	}

	e.run.Transition(status, e.cfg.Now(), 0, "", note)
	if saveErr := e.save(ctx); saveErr != nil {
		e.logger.Error("failed to persist final run status", "status", status, "error", saveErr)
		if err == nil {
			err = saveErr
		}
	}

	if err != nil {
		e.logger.Warn("run finished", "status", status, "kind", e.run.FailureKind, "reason", e.run.FailureReason)
	} else {
		e.logger.Info("run finished", "status", status, "questions", e.run.QuestionCount)
	}
	return &Result{Run: e.run.Clone()}, err
}

// candidate is one adapter able to serve the current stage.
type candidate[T any] struct {
	name string
	call func(ctx context.Context) (T, error)
}

// runStage tries candidates in order until one succeeds and returns its result.
func runStage[T any](ctx context.Context, e *execution, stage Stage, timeout time.Duration, cands []candidate[T]) (T, error) {
	var zero T
	if len(cands) == 0 {
		return zero, failure(types.KindAdapterUnavailable, stage, errors.New("no configured adapter supports this input"))
	}

	var lastErr error
	for i, cand := range cands {
		val, attempts, err := invoke(ctx, e, stage, timeout, cand)
		if err == nil {
			e.stageDone(cand.name, attempts)
			return val, nil
		}
		if ctx.Err() != nil {
			return zero, failure(types.KindCancelled, stage, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
		}
		if adapters.KindOf(err) == adapters.InvalidInput {
			e.stageDone(cand.name, attempts)
			return zero, failure(types.KindInputInvalid, stage, err)
		}
		lastErr = err
		if i < len(cands)-1 {
			e.logger.Warn("adapter failed, falling back", "stage", stage, "adapter", cand.name,
				"attempts", attempts, "next", cands[i+1].name, "error", err)
		}
	}
	return zero, failure(kindFor(lastErr), stage, lastErr)
}

// invoke calls one adapter with timeout, admission and retry.
func invoke[T any](ctx context.Context, e *execution, stage Stage, timeout time.Duration, cand candidate[T]) (T, int, error) {
	var (
		val      T
		attempts int
	)
	err := retry.Do(
		func() error {
			attempts++
			queued := time.Now()
			if err := e.sem.Acquire(ctx, 1); err != nil {
				return retry.Unrecoverable(err)
			}
			waited := time.Since(queued)

			start := time.Now()
			v, err := callBounded(ctx, stage, timeout, cand)
			e.sem.Release(1)
			elapsed := time.Since(start)

			err = adapters.Classify(cand.name, string(stage), err)
			e.record(stage, cand.name, attempts, waited, elapsed, err)
			if err == nil {
				val = v
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(e.cfg.MaxAttempts)),
		retry.Delay(e.cfg.Backoff),
		retry.MaxDelay(e.cfg.MaxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && adapters.KindOf(err).Retryable()
		}),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Info("retrying adapter", "stage", stage, "adapter", cand.name, "attempt", n+1, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
	return val, attempts, err
}

type callResult[T any] struct {
	val T
	err error
}

// callBounded runs one adapter call on its own goroutine and stops waiting at
// the deadline, whether or not the adapter honours ctx. A result that
// arrives late is discarded. A panicking adapter is reported as a remote
// error.
func callBounded[T any](ctx context.Context, stage Stage, timeout time.Duration, cand candidate[T]) (T, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult[T], 1)
	go func() {
		var r callResult[T]
		defer func() {
			if p := recover(); p != nil {
				r = callResult[T]{err: fmt.Errorf("adapter panic: %v", p)}
			}
			done <- r
		}()
		r.val, r.err = cand.call(actx)
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, &adapters.Error{Kind: adapters.Timeout, Adapter: cand.name, Op: string(stage), Err: r.err}
		}
		return r.val, r.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &adapters.Error{Kind: adapters.Timeout, Adapter: cand.name, Op: string(stage),
			Err: fmt.Errorf("no result within %s", timeout)}
	}
}

func (e *execution) record(stage Stage, adapter string, attempt int, waited, elapsed time.Duration, err error) {
	outcome := outcomeOf(err)
	e.cfg.Metrics.RecordAttempt(e.run.ID, string(stage), adapter, attempt, waited, elapsed, outcome, err)
	if err != nil {
		e.logger.Debug("adapter attempt failed", "stage", stage, "adapter", adapter, "attempt", attempt,
			"outcome", outcome, "elapsed", elapsed, "error", err)
		return
	}
	e.logger.Debug("adapter attempt succeeded", "stage", stage, "adapter", adapter, "attempt", attempt, "elapsed", elapsed)
}

func outcomeOf(err error) metrics.Outcome {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	switch adapters.KindOf(err) {
	case adapters.Timeout:
		return metrics.OutcomeTimeout
	case adapters.NotAvailable:
		return metrics.OutcomeUnavailable
	case adapters.InvalidInput:
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeRemoteError
	}
}
