package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/qforge/internal/adapters"
	"github.com/jackzampolin/qforge/internal/adapters/enhance"
	"github.com/jackzampolin/qforge/internal/adapters/generate"
	"github.com/jackzampolin/qforge/internal/metrics"
	"github.com/jackzampolin/qforge/internal/providers"
	"github.com/jackzampolin/qforge/internal/store"
	"github.com/jackzampolin/qforge/internal/types"
)

const passage = `Photosynthesis converts light energy into chemical energy inside chloroplasts.
Mitochondria release stored energy through cellular respiration in animal cells.
Chlorophyll absorbs mostly blue and red wavelengths of visible light.
Glucose molecules store energy that plants later use for growth.
Stomata regulate carbon dioxide intake through the surface of leaves.`

type stubExtractor struct {
	name   string
	result types.ExtractionResult
	err    error
	block  bool
	sleep  time.Duration // slept without watching ctx
	calls  atomic.Int32
}

var _ adapters.Extractor = (*stubExtractor)(nil)

func (s *stubExtractor) Name() string                { return s.name }
func (s *stubExtractor) Supports(in types.Input) bool { return !in.IsText() }
func (s *stubExtractor) Extract(ctx context.Context, in types.Input) (*types.ExtractionResult, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	time.Sleep(s.sleep)
	if s.err != nil {
		return nil, s.err
	}
	res := s.result
	return &res, nil
}

type stubEnhancer struct {
	name    string
	rewrite func(string) string
	err     error
	calls   atomic.Int32
}

var _ adapters.Enhancer = (*stubEnhancer)(nil)

func (s *stubEnhancer) Name() string        { return s.name }
func (s *stubEnhancer) Supports(string) bool { return true }
func (s *stubEnhancer) Enhance(ctx context.Context, text string) (*types.EnhancedText, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	out := text
	if s.rewrite != nil {
		out = s.rewrite(text)
	}
	// Claims full preservation regardless of the edit.
	return &types.EnhancedText{Text: out, MeaningPreserved: true, Similarity: 1}, nil
}

type stubGenerator struct {
	name  string
	count int // questions returned; <0 means the requested count
	err   error
	calls atomic.Int32
}

var _ adapters.Generator = (*stubGenerator)(nil)

func (s *stubGenerator) Name() string                            { return s.name }
func (s *stubGenerator) Supports(adapters.GenerateRequest) bool { return true }
func (s *stubGenerator) Generate(ctx context.Context, req adapters.GenerateRequest) ([]types.Question, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	n := s.count
	if n < 0 {
		n = req.Count
	}
	out := make([]types.Question, n)
	for i := range out {
		out[i] = question(req.Type, i)
	}
	return out, nil
}

func question(qt types.QuestionType, i int) types.Question {
	q := types.Question{Type: qt, Prompt: fmt.Sprintf("Question %d?", i), Answer: "alpha"}
	switch qt {
	case types.QuestionMCQ:
		q.Distractors = []string{"alpha", "beta", "gamma", "delta"}
	case types.QuestionTrueFalse:
		q.Answer = types.True
		q.Distractors = []string{types.True, types.False}
	}
	return q
}

func newTestCoordinator(t *testing.T, a Adapters, mod func(*Config)) (*Coordinator, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	cfg := Config{
		Store:           st,
		Adapters:        a,
		Metrics:         metrics.NewRecorder(0),
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		ExtractTimeout:  time.Second,
		EnhanceTimeout:  time.Second,
		GenerateTimeout: time.Second,
		Backoff:         time.Millisecond,
		MaxBackoff:      5 * time.Millisecond,
	}
	if mod != nil {
		mod(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, st
}

func params(qt types.QuestionType, n int) types.RunParams {
	return types.RunParams{QuestionType: qt, Difficulty: types.DifficultyMedium, NumQuestions: n, TeacherID: "t-1"}
}

func TestRun_TextSkipsExtraction(t *testing.T) {
	ex := &stubExtractor{name: "ocr"}
	c, st := newTestCoordinator(t, Adapters{
		Extractors: []adapters.Extractor{ex},
		Enhancers:  []adapters.Enhancer{&stubEnhancer{name: "noop"}},
		Generators: []adapters.Generator{&stubGenerator{name: "gen", count: -1}},
	}, nil)

	res, err := c.Run(context.Background(), types.TextInput(passage), params(types.QuestionShortAnswer, 4))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Run.Status != types.StatusDone {
		t.Fatalf("Status = %q, want done", res.Run.Status)
	}
	if ex.calls.Load() != 0 {
		t.Errorf("extractor called %d times for text input", ex.calls.Load())
	}
	if res.Run.Visited(types.StatusExtracting) {
		t.Error("text run visited extracting")
	}
	if len(res.Questions) != 4 {
		t.Errorf("len(Questions) = %d, want 4", len(res.Questions))
	}
	if res.Failure() != nil {
		t.Errorf("Failure() = %+v, want nil", res.Failure())
	}

	set, err := st.GetQuestionSet(context.Background(), res.Run.ID)
	if err != nil {
		t.Fatalf("GetQuestionSet() error = %v", err)
	}
	if len(set.Questions) != 4 || set.TeacherID != "t-1" {
		t.Errorf("stored set = %d questions, teacher %q", len(set.Questions), set.TeacherID)
	}

	stored, _ := st.GetRun(context.Background(), res.Run.ID)
	if stored.Status != types.StatusDone || stored.CompletedAt == nil {
		t.Errorf("stored run = %q completed %v", stored.Status, stored.CompletedAt)
	}
}

func TestRun_ImageThroughAllStages(t *testing.T) {
	ex := &stubExtractor{name: "ocr", result: types.ExtractionResult{
		Text:        "The mitochondria is the the powerhouse of the cell.",
		Confidences: []float64{0.9, 0.95},
		Format:      types.FormatImage,
	}}
	c, _ := newTestCoordinator(t, Adapters{
		Extractors: []adapters.Extractor{ex},
		Enhancers:  []adapters.Enhancer{enhance.NewRules()},
		Generators: []adapters.Generator{&stubGenerator{name: "gen", count: -1}},
	}, nil)

	in := types.FileInput("scan.png", []byte("\x89PNG\r\n\x1a\n0000"))
	res, err := c.Run(context.Background(), in, params(types.QuestionMCQ, 3))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Run.Status != types.StatusDone {
		t.Fatalf("Status = %q, want done", res.Run.Status)
	}
	for _, s := range []types.RunStatus{types.StatusExtracting, types.StatusEnhancing, types.StatusGenerating} {
		if !res.Run.Visited(s) {
			t.Errorf("run did not visit %q", s)
		}
	}
	if res.Run.Extraction == nil || res.Run.Extraction.Level() != types.ConfidenceHigh {
		t.Errorf("Extraction = %+v", res.Run.Extraction)
	}
	if res.Run.Enhanced == nil || !res.Run.Enhanced.MeaningPreserved {
		t.Errorf("Enhanced = %+v", res.Run.Enhanced)
	}
	if len(res.Questions) != 3 {
		t.Fatalf("len(Questions) = %d, want 3", len(res.Questions))
	}
	for i, q := range res.Questions {
		if len(q.Distractors) != 4 {
			t.Errorf("question %d has %d distractors", i, len(q.Distractors))
		}
	}
}

func TestRun_MeaningPreservationFailed(t *testing.T) {
	gen := &stubGenerator{name: "gen", count: -1}
	c, st := newTestCoordinator(t, Adapters{
		Enhancers: []adapters.Enhancer{&stubEnhancer{name: "rewriter", rewrite: func(string) string {
			return "Something else entirely."
		}}},
		Generators: []adapters.Generator{gen},
	}, nil)

	res, err := c.Run(context.Background(), types.TextInput(passage), params(types.QuestionMCQ, 2))
	if KindOf(err) != types.KindMeaningPreservationFailed {
		t.Fatalf("Run() error = %v, want MeaningPreservationFailed", err)
	}
	if res.Run.Status != types.StatusFailed {
		t.Errorf("Status = %q, want failed", res.Run.Status)
	}
	if gen.calls.Load() != 0 {
		t.Errorf("generator called %d times", gen.calls.Load())
	}
	if res.Run.Enhanced == nil || res.Run.Enhanced.MeaningPreserved {
		t.Errorf("Enhanced = %+v, want recorded with MeaningPreserved=false", res.Run.Enhanced)
	}
	if _, err := st.GetQuestionSet(context.Background(), res.Run.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetQuestionSet() error = %v, want ErrNotFound", err)
	}
}

func TestRun_Cardinality(t *testing.T) {
	tests := []struct {
		name       string
		generated  int
		wantStatus types.RunStatus
		wantStored int
	}{
		{"exact", 5, types.StatusDone, 5},
		{"extra truncated", 8, types.StatusDone, 5},
		{"short is insufficient", 2, types.StatusInsufficient, 2},
		{"none fails", 0, types.StatusFailed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, st := newTestCoordinator(t, Adapters{
				Enhancers:  []adapters.Enhancer{&stubEnhancer{name: "noop"}},
				Generators: []adapters.Generator{&stubGenerator{name: "gen", count: tt.generated}},
			}, nil)

			res, err := c.Run(context.Background(), types.TextInput(passage), params(types.QuestionTrueFalse, 5))
			if res.Run.Status != tt.wantStatus {
				t.Fatalf("Status = %q, want %q (err %v)", res.Run.Status, tt.wantStatus, err)
			}
			if len(res.Questions) != tt.wantStored {
				t.Errorf("len(Questions) = %d, want %d", len(res.Questions), tt.wantStored)
			}
			if tt.wantStatus == types.StatusDone {
				if err != nil {
					t.Errorf("Run() error = %v", err)
				}
				return
			}
			if KindOf(err) != types.KindGenerationCardinalityMismatch {
				t.Errorf("KindOf(err) = %q", KindOf(err))
			}
			report := res.Failure()
			if report == nil || report.Stored != tt.wantStored || report.Requested != 5 {
				t.Errorf("Failure() = %+v", report)
			}
			_, getErr := st.GetQuestionSet(context.Background(), res.Run.ID)
			if stored := getErr == nil; stored != (tt.wantStored > 0) {
				t.Errorf("question set stored = %v, want %v", stored, tt.wantStored > 0)
			}
		})
	}
}

func TestRun_OfflineShortTextIsInsufficient(t *testing.T) {
	c, st := newTestCoordinator(t, Adapters{
		Enhancers:  []adapters.Enhancer{enhance.NewRules()},
		Generators: []adapters.Generator{generate.NewCloze()},
	}, nil)

	text := `Photosynthesis converts light energy into chemical energy.
Mitochondria release stored energy through cellular respiration.
Stomata regulate carbon dioxide intake through leaves.`
	res, err := c.Run(context.Background(), types.TextInput(text), params(types.QuestionShortAnswer, 5))
	if KindOf(err) != types.KindGenerationCardinalityMismatch {
		t.Fatalf("Run() error = %v, want GenerationCardinalityMismatch", err)
	}
	if res.Run.Status != types.StatusInsufficient {
		t.Fatalf("Status = %q, want insufficient", res.Run.Status)
	}
	set, err := st.GetQuestionSet(context.Background(), res.Run.ID)
	if err != nil {
		t.Fatalf("GetQuestionSet() error = %v", err)
	}
	if len(set.Questions) != 3 || set.Requested != 5 {
		t.Errorf("stored %d of %d, want 3 of 5", len(set.Questions), set.Requested)
	}
}

func TestRun_DropsInvalidQuestions(t *testing.T) {
	gen := generatorFunc(func(req adapters.GenerateRequest) []types.Question {
		bad := question(types.QuestionMCQ, 0)
		bad.Distractors = bad.Distractors[:3]
		wrongType := question(types.QuestionShortAnswer, 1)
		return []types.Question{bad, wrongType, question(types.QuestionMCQ, 2), question(types.QuestionMCQ, 3)}
	})
	c, _ := newTestCoordinator(t, Adapters{
		Enhancers:  []adapters.Enhancer{&stubEnhancer{name: "noop"}},
		Generators: []adapters.Generator{gen},
	}, nil)

	res, _ := c.Run(context.Background(), types.TextInput(passage), params(types.QuestionMCQ, 2))
	if res.Run.Status != types.StatusDone {
		t.Fatalf("Status = %q, want done", res.Run.Status)
	}
	if res.Questions[0].Prompt != "Question 2?" || res.Questions[0].Difficulty != types.DifficultyMedium {
		t.Errorf("Questions[0] = %+v", res.Questions[0])
	}
}

type generatorFunc func(adapters.GenerateRequest) []types.Question

func (generatorFunc) Name() string                            { return "func" }
func (generatorFunc) Supports(adapters.GenerateRequest) bool { return true }
func (f generatorFunc) Generate(_ context.Context, req adapters.GenerateRequest) ([]types.Question, error) {
	return f(req), nil
}

func TestRun_ExtractorTimeout(t *testing.T) {
	ex := &stubExtractor{name: "slow-ocr", block: true}
	enh := &stubEnhancer{name: "noop"}
	gen := &stubGenerator{name: "gen", count: -1}
	c, _ := newTestCoordinator(t, Adapters{
		Extractors: []adapters.Extractor{ex},
		Enhancers:  []adapters.Enhancer{enh},
		Generators: []adapters.Generator{gen},
	}, func(cfg *Config) {
		cfg.ExtractTimeout = 20 * time.Millisecond
		cfg.MaxAttempts = 3
	})

	res, err := c.Run(context.Background(), types.FileInput("scan.png", []byte("png")), params(types.QuestionMCQ, 1))
	if KindOf(err) != types.KindAdapterTimeout {
		t.Fatalf("Run() error = %v, want AdapterTimeout", err)
	}
	if res.Run.Status != types.StatusFailed {
		t.Errorf("Status = %q, want failed", res.Run.Status)
	}
	if got := ex.calls.Load(); got != 3 {
		t.Errorf("extractor calls = %d, want 3", got)
	}
	if enh.calls.Load() != 0 || gen.calls.Load() != 0 {
		t.Errorf("later stages ran: enhance=%d generate=%d", enh.calls.Load(), gen.calls.Load())
	}
	if res.Run.Visited(types.StatusEnhancing) {
		t.Error("run visited enhancing after extraction failed")
	}
}

func TestRun_TimeoutHoldsForAdapterIgnoringContext(t *testing.T) {
	slow := &stubExtractor{name: "stuck-ocr", sleep: 400 * time.Millisecond,
		result: types.ExtractionResult{Text: "late text", Confidences: []float64{0.9}, Format: types.FormatImage}}
	enh := &stubEnhancer{name: "noop"}
	c, _ := newTestCoordinator(t, Adapters{
		Extractors: []adapters.Extractor{slow},
		Enhancers:  []adapters.Enhancer{enh},
		Generators: []adapters.Generator{&stubGenerator{name: "gen", count: -1}},
	}, func(cfg *Config) {
		cfg.ExtractTimeout = 50 * time.Millisecond
		cfg.MaxAttempts = 1
	})

	start := time.Now()
	res, err := c.Run(context.Background(), types.FileInput("scan.png", []byte("png")), params(types.QuestionMCQ, 1))
	elapsed := time.Since(start)

	if KindOf(err) != types.KindAdapterTimeout {
		t.Fatalf("Run() error = %v, want AdapterTimeout", err)
	}
	if res.Run.Status != types.StatusFailed || res.Run.Extraction != nil {
		t.Errorf("Status = %q, Extraction = %+v", res.Run.Status, res.Run.Extraction)
	}
	if elapsed >= 300*time.Millisecond {
		t.Errorf("Run took %v, want it bounded by the 50ms stage timeout", elapsed)
	}
	if enh.calls.Load() != 0 {
		t.Error("enhancement ran after extraction timed out")
	}
}

func TestRun_LateResultDiscardedOnFallback(t *testing.T) {
	slow := &stubExtractor{name: "stuck-ocr", sleep: 200 * time.Millisecond,
		result: types.ExtractionResult{Text: "stale primary text", Confidences: []float64{0.9}, Format: types.FormatImage}}
	fast := &stubExtractor{name: "backup-ocr",
		result: types.ExtractionResult{Text: passage, Confidences: []float64{0.95}, Format: types.FormatImage}}
	c, _ := newTestCoordinator(t, Adapters{
		Extractors: []adapters.Extractor{slow, fast},
		Enhancers:  []adapters.Enhancer{&stubEnhancer{name: "noop"}},
		Generators: []adapters.Generator{&stubGenerator{name: "gen", count: -1}},
	}, func(cfg *Config) {
		cfg.ExtractTimeout = 30 * time.Millisecond
		cfg.MaxAttempts = 1
	})

	res, err := c.Run(context.Background(), types.FileInput("scan.png", []byte("png")), params(types.QuestionMCQ, 1))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Give the abandoned call time to finish before inspecting the run.
	time.Sleep(250 * time.Millisecond)
	if res.Run.Extraction == nil || res.Run.Extraction.Provider != "backup-ocr" || res.Run.Extraction.Text != passage {
		t.Errorf("Extraction = %+v, want the backup result", res.Run.Extraction)
	}
}

func TestRun_Fallback(t *testing.T) {
	tests := []struct {
		name      string
		first     error
		wantCalls int32
	}{
		{"unavailable falls back immediately", adapters.Unavailable("primary", "generate", adapters.ErrUnsupported), 1},
		{"remote error retries then falls back", adapters.Remote("primary", "generate", errors.New("503")), 3},
		{"unknown model falls back", adapters.ClassifyProvider("primary", "generate", &providers.StatusError{Provider: "openrouter", StatusCode: 404}), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &stubGenerator{name: "primary", err: tt.first}
			backup := &stubGenerator{name: "backup", count: -1}
			rec := metrics.NewRecorder(0)
			c, _ := newTestCoordinator(t, Adapters{
				Enhancers:  []adapters.Enhancer{&stubEnhancer{name: "noop"}},
				Generators: []adapters.Generator{primary, backup},
			}, func(cfg *Config) { cfg.Metrics = rec })

			res, err := c.Run(context.Background(), types.TextInput(passage), params(types.QuestionMCQ, 2))
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := primary.calls.Load(); got != tt.wantCalls {
				t.Errorf("primary calls = %d, want %d", got, tt.wantCalls)
			}
			if backup.calls.Load() != 1 {
				t.Errorf("backup calls = %d, want 1", backup.calls.Load())
			}

			var served string
			for _, h := range res.Run.History {
				if h.Status == types.StatusGenerating {
					served = h.Adapter
				}
			}
			if served != "backup" {
				t.Errorf("generating served by %q, want backup", served)
			}
			if got := rec.CountByAdapter(metrics.Filter{RunID: res.Run.ID})["primary"]; got != int(tt.wantCalls) {
				t.Errorf("recorded primary attempts = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestRun_InvalidInputDoesNotFallBack(t *testing.T) {
	primary := &stubGenerator{name: "primary", err: adapters.Invalid("primary", "generate", errors.New("422 unprocessable"))}
	backup := &stubGenerator{name: "backup", count: -1}
	c, _ := newTestCoordinator(t, Adapters{
		Enhancers:  []adapters.Enhancer{&stubEnhancer{name: "noop"}},
		Generators: []adapters.Generator{primary, backup},
	}, nil)

	_, err := c.Run(context.Background(), types.TextInput(passage), params(types.QuestionMCQ, 2))
	if !IsInputInvalid(err) {
		t.Fatalf("Run() error = %v, want InputInvalid", err)
	}
	if primary.calls.Load() != 1 || backup.calls.Load() != 0 {
		t.Errorf("calls primary=%d backup=%d", primary.calls.Load(), backup.calls.Load())
	}
}

func TestRun_NoCapableAdapter(t *testing.T) {
	c, _ := newTestCoordinator(t, Adapters{
		Enhancers:  []adapters.Enhancer{&stubEnhancer{name: "noop"}},
		Generators: []adapters.Generator{&stubGenerator{name: "gen", count: -1}},
	}, nil)

	res, err := c.Run(context.Background(), types.FileInput("notes.pdf", []byte("%PDF-1.4")), params(types.QuestionMCQ, 1))
	if KindOf(err) != types.KindAdapterUnavailable {
		t.Fatalf("Run() error = %v, want AdapterUnavailable", err)
	}
	if res.Run.Status != types.StatusFailed {
		t.Errorf("Status = %q", res.Run.Status)
	}
}

func TestSubmit_RejectsInvalidInput(t *testing.T) {
	c, st := newTestCoordinator(t, Adapters{}, nil)

	tests := []struct {
		name   string
		in     types.Input
		params types.RunParams
	}{
		{"zero questions", types.TextInput(passage), params(types.QuestionMCQ, 0)},
		{"unknown type", types.TextInput(passage), params("essay", 1)},
		{"empty text", types.TextInput("   "), params(types.QuestionMCQ, 1)},
		{"unsupported format", types.FileInput("archive.zip", []byte{0x50, 0x4b, 0x03, 0x04}), params(types.QuestionMCQ, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Submit(context.Background(), tt.in, tt.params)
			if !IsInputInvalid(err) {
				t.Errorf("Submit() error = %v, want InputInvalid", err)
			}
		})
	}

	runs, _ := st.ListRuns(context.Background(), store.RunFilter{})
	if len(runs) != 0 {
		t.Errorf("%d runs created for invalid input", len(runs))
	}
}

func TestCancel(t *testing.T) {
	t.Run("requested before execution", func(t *testing.T) {
		enh := &stubEnhancer{name: "noop"}
		c, st := newTestCoordinator(t, Adapters{
			Enhancers:  []adapters.Enhancer{enh},
			Generators: []adapters.Generator{&stubGenerator{name: "gen", count: -1}},
		}, nil)
		ctx := context.Background()
		in := types.TextInput(passage)

		run, err := c.Submit(ctx, in, params(types.QuestionMCQ, 1))
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if err := c.Cancel(ctx, run.ID); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		res, err := c.Execute(ctx, run.ID, in)
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("Execute() error = %v, want ErrCancelled", err)
		}
		if res.Run.Status != types.StatusCancelled || enh.calls.Load() != 0 {
			t.Errorf("Status = %q, enhancer calls = %d", res.Run.Status, enh.calls.Load())
		}
		if err := c.Cancel(ctx, run.ID); !errors.Is(err, store.ErrTerminal) {
			t.Errorf("second Cancel() error = %v, want ErrTerminal", err)
		}
		stored, _ := st.GetRun(ctx, run.ID)
		if stored.Status != types.StatusCancelled {
			t.Errorf("stored Status = %q", stored.Status)
		}
	})

	t.Run("context cancelled between stages", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		gen := &stubGenerator{name: "gen", count: -1}
		enh := &stubEnhancer{name: "noop", rewrite: func(s string) string {
			cancel()
			return s
		}}
		c, st := newTestCoordinator(t, Adapters{
			Enhancers:  []adapters.Enhancer{enh},
			Generators: []adapters.Generator{gen},
		}, nil)

		res, err := c.Run(ctx, types.TextInput(passage), params(types.QuestionMCQ, 1))
		if KindOf(err) != types.KindCancelled {
			t.Fatalf("Run() error = %v, want Cancelled", err)
		}
		if gen.calls.Load() != 0 {
			t.Errorf("generator called after cancellation")
		}
		stored, _ := st.GetRun(context.Background(), res.Run.ID)
		if stored.Status != types.StatusCancelled {
			t.Errorf("stored Status = %q, want cancelled", stored.Status)
		}
	})
}

func TestExecute_TerminalRun(t *testing.T) {
	c, _ := newTestCoordinator(t, Adapters{
		Enhancers:  []adapters.Enhancer{&stubEnhancer{name: "noop"}},
		Generators: []adapters.Generator{&stubGenerator{name: "gen", count: -1}},
	}, nil)
	in := types.TextInput(passage)
	res, err := c.Run(context.Background(), in, params(types.QuestionMCQ, 1))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := c.Execute(context.Background(), res.Run.ID, in); !errors.Is(err, store.ErrTerminal) {
		t.Errorf("Execute() error = %v, want ErrTerminal", err)
	}
}

func TestRun_Deterministic(t *testing.T) {
	c, _ := newTestCoordinator(t, Adapters{
		Enhancers:  []adapters.Enhancer{enhance.NewRules()},
		Generators: []adapters.Generator{generate.NewCloze()},
	}, nil)

	var prompts [2][]string
	for i := range prompts {
		res, err := c.Run(context.Background(), types.TextInput(passage), params(types.QuestionShortAnswer, 3))
		if err != nil {
			t.Fatalf("Run() #%d error = %v", i, err)
		}
		for _, q := range res.Questions {
			prompts[i] = append(prompts[i], q.Prompt+"|"+q.Answer)
		}
	}
	if strings.Join(prompts[0], "\n") != strings.Join(prompts[1], "\n") {
		t.Errorf("runs differ:\n%v\n%v", prompts[0], prompts[1])
	}
}

func TestSetAdapters(t *testing.T) {
	c, _ := newTestCoordinator(t, Adapters{
		Enhancers:  []adapters.Enhancer{&stubEnhancer{name: "noop"}},
		Generators: []adapters.Generator{&stubGenerator{name: "old", err: adapters.Unavailable("old", "generate", nil)}},
	}, nil)
	c.SetAdapters(Adapters{
		Enhancers:  []adapters.Enhancer{&stubEnhancer{name: "noop"}},
		Generators: []adapters.Generator{&stubGenerator{name: "new", count: -1}},
	})

	if _, err := c.Run(context.Background(), types.TextInput(passage), params(types.QuestionMCQ, 1)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	info := c.Adapters().Info()
	if len(info) != 2 || info[1].Name != "new" {
		t.Errorf("Info() = %+v", info)
	}
}

// gatedGenerator tracks how many Generate calls overlap.
type gatedGenerator struct {
	stubGenerator
	inflight atomic.Int32
	peak     atomic.Int32
}

func (g *gatedGenerator) Generate(ctx context.Context, req adapters.GenerateRequest) ([]types.Question, error) {
	n := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return g.stubGenerator.Generate(ctx, req)
}

func TestRun_AdmissionGateBoundsAdapterCalls(t *testing.T) {
	gen := &gatedGenerator{stubGenerator: stubGenerator{name: "gen", count: -1}}
	c, _ := newTestCoordinator(t, Adapters{
		Enhancers:  []adapters.Enhancer{&stubEnhancer{name: "enh"}},
		Generators: []adapters.Generator{gen},
	}, func(cfg *Config) { cfg.MaxConcurrent = 1 })

	const runs = 4
	errs := make(chan error, runs)
	for range runs {
		go func() {
			_, err := c.Run(context.Background(), types.TextInput(passage), params(types.QuestionShortAnswer, 2))
			errs <- err
		}()
	}
	for range runs {
		if err := <-errs; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}

	if got := gen.peak.Load(); got != 1 {
		t.Errorf("peak concurrent generate calls = %d, want 1", got)
	}
	if got := gen.calls.Load(); got != runs {
		t.Errorf("generate calls = %d, want %d", got, runs)
	}
}
