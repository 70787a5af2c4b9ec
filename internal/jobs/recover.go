package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackzampolin/qforge/internal/store"
	"github.com/jackzampolin/qforge/internal/types"
)

// activeStatuses are the non-terminal statuses a crashed process can leave behind.
var activeStatuses = []types.RunStatus{
	types.StatusPending,
	types.StatusExtracting,
	types.StatusEnhancing,
	types.StatusGenerating,
}

// ErrInputUnavailable is returned when a run's input can no longer be read.
var ErrInputUnavailable = errors.New("input unavailable")

// ResolveInput rebuilds the input of a persisted run.
func ResolveInput(run *types.PipelineRun) (types.Input, error) {
	if path, ok := strings.CutPrefix(run.InputRef, types.FileRefPrefix); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return types.Input{}, fmt.Errorf("%w: %v", ErrInputUnavailable, err)
		}
		return types.FileInput(path, data), nil
	}
	if run.InputFormat == types.FormatText {
		if strings.TrimSpace(run.InputRef) == "" {
			return types.Input{}, fmt.Errorf("%w: empty text", ErrInputUnavailable)
		}
		return types.TextInput(run.InputRef), nil
	}
	if run.InputRef == "" {
		return types.Input{}, fmt.Errorf("%w: no path recorded", ErrInputUnavailable)
	}
	data, err := os.ReadFile(run.InputRef)
	if err != nil {
		return types.Input{}, fmt.Errorf("%w: %v", ErrInputUnavailable, err)
	}
	return types.Input{
		Path:     run.InputRef,
		Filename: filepath.Base(run.InputRef),
		Data:     data,
		Format:   run.InputFormat,
	}, nil
}

// Recover re-queues runs left unfinished by a previous process. Runs whose
// input is gone are failed with InputInvalid. It returns how many runs were
// re-queued.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	requeued := 0
	for _, status := range activeStatuses {
		runs, err := r.listAll(ctx, status)
		if err != nil {
			return requeued, err
		}

		for _, run := range runs {
			in, err := ResolveInput(run)
			if err != nil {
				r.abandon(ctx, run, err)
				continue
			}
			if err := r.enqueue(&Job{RunID: run.ID, Input: in, Priority: PriorityLow}); err != nil {
				return requeued, err
			}
			requeued++
		}
	}

	if requeued > 0 {
		r.logger.Info("recovered unfinished runs", "count", requeued)
	}
	return requeued, nil
}

// listAll collects every run in status before any of them is touched, so
// runs that leave the status do not shift later pages.
func (r *Runner) listAll(ctx context.Context, status types.RunStatus) ([]*types.PipelineRun, error) {
	var all []*types.PipelineRun
	for {
		page, err := r.store.ListRuns(ctx, store.RunFilter{Status: status, Limit: store.MaxPageSize, Offset: len(all)})
		if err != nil {
			return nil, fmt.Errorf("list %s runs: %w", status, err)
		}
		all = append(all, page...)
		if len(page) < store.MaxPageSize {
			return all, nil
		}
	}
}

func (r *Runner) abandon(ctx context.Context, run *types.PipelineRun, cause error) {
	run.FailureKind = types.KindInputInvalid
	run.FailureReason = cause.Error()
	run.Transition(types.StatusFailed, time.Now().UTC(), 0, "", "recovery")
	if err := r.store.UpdateRun(ctx, run); err != nil {
		r.logger.Error("failed to mark unrecoverable run", "run_id", run.ID, "error", err)
		return
	}
	r.logger.Warn("run not recoverable", "run_id", run.ID, "error", cause)
}
