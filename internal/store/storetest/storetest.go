// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackzampolin/qforge/internal/store"
	"github.com/jackzampolin/qforge/internal/types"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// NewRun builds a pending run created offset after a fixed base time.
func NewRun(id string, offset time.Duration) *types.PipelineRun {
	return types.NewRun(id, types.TextInput("cells"), types.RunParams{
		QuestionType: types.QuestionMCQ,
		Difficulty:   types.DifficultyMedium,
		NumQuestions: 2,
		TeacherID:    "t1",
	}, base.Add(offset))
}

// NewSet builds a question set with n short-answer questions.
func NewSet(runID, teacher, class, subject string, d types.Difficulty, prompts ...string) *types.QuestionSet {
	set := &types.QuestionSet{
		RunID:     runID,
		Requested: len(prompts),
		TeacherID: teacher,
		ClassID:   class,
		Subject:   subject,
		CreatedAt: base,
	}
	for _, p := range prompts {
		set.Questions = append(set.Questions, types.Question{
			Type:       types.QuestionShortAnswer,
			Difficulty: d,
			Prompt:     p,
			Answer:     "answer to " + p,
		})
	}
	return set
}

// Run exercises the full Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("RunLifecycle", func(t *testing.T) { testRunLifecycle(t, newStore(t)) })
	t.Run("ListRuns", func(t *testing.T) { testListRuns(t, newStore(t)) })
	t.Run("Cancel", func(t *testing.T) { testCancel(t, newStore(t)) })
	t.Run("QuestionSetInsertOnly", func(t *testing.T) { testInsertOnly(t, newStore(t)) })
	t.Run("QueryQuestions", func(t *testing.T) { testQuery(t, newStore(t)) })
}

func testRunLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	run := NewRun("run-a", 0)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := s.CreateRun(ctx, run); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("second CreateRun() error = %v, want ErrAlreadyExists", err)
	}
	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}

	run.Transition(types.StatusEnhancing, base.Add(time.Second), 0, "", "")
	run.Enhanced = &types.EnhancedText{Original: "ce11s", Text: "cells", Similarity: 0.6, Enhancer: "rules",
		Changes: []types.Change{{Op: types.ChangeDelete, Position: 2, Text: "11"}, {Op: types.ChangeInsert, Position: 4, Text: "ll"}}}
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun() error = %v", err)
	}

	got, err := s.GetRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != types.StatusEnhancing || len(got.History) != 2 {
		t.Errorf("Status = %q, history = %d", got.Status, len(got.History))
	}
	if got.Enhanced == nil || got.Enhanced.Text != "cells" || len(got.Enhanced.Changes) != 2 {
		t.Errorf("Enhanced = %+v", got.Enhanced)
	}
	if got.Params.TeacherID != "t1" || got.InputRef != "cells" {
		t.Errorf("Params = %+v, InputRef = %q", got.Params, got.InputRef)
	}
	if !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, run.CreatedAt)
	}

	run.Transition(types.StatusDone, base.Add(2*time.Second), 1, "cloze", "")
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun(done) error = %v", err)
	}
	got, _ = s.GetRun(ctx, "run-a")
	if got.CompletedAt == nil {
		t.Error("CompletedAt not persisted")
	}

	run.Transition(types.StatusFailed, base.Add(3*time.Second), 0, "", "")
	if err := s.UpdateRun(ctx, run); !errors.Is(err, store.ErrTerminal) {
		t.Errorf("UpdateRun after terminal error = %v, want ErrTerminal", err)
	}
	if err := s.UpdateRun(ctx, NewRun("ghost", 0)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateRun(ghost) error = %v, want ErrNotFound", err)
	}
}

func testListRuns(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		run := NewRun(fmt.Sprintf("run-%d", i), time.Duration(i)*time.Minute)
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
		if i == 2 {
			run.Transition(types.StatusFailed, base.Add(time.Hour), 0, "", "boom")
			run.FailureKind = types.KindAdapterTimeout
			if err := s.UpdateRun(ctx, run); err != nil {
				t.Fatal(err)
			}
		}
	}

	all, err := s.ListRuns(ctx, store.RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "run-2" || all[2].ID != "run-0" {
		ids := make([]string, len(all))
		for i, r := range all {
			ids[i] = r.ID
		}
		t.Errorf("ListRuns() = %v, want newest first", ids)
	}

	pending, _ := s.ListRuns(ctx, store.RunFilter{Status: types.StatusPending})
	if len(pending) != 2 {
		t.Errorf("pending runs = %d, want 2", len(pending))
	}
	failed, _ := s.ListRuns(ctx, store.RunFilter{Status: types.StatusFailed})
	if len(failed) != 1 || failed[0].FailureKind != types.KindAdapterTimeout {
		t.Errorf("failed runs = %+v", failed)
	}
	limited, _ := s.ListRuns(ctx, store.RunFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limited runs = %d, want 1", len(limited))
	}
}

func testCancel(t *testing.T, s store.Store) {
	ctx := context.Background()
	run := NewRun("run-c", 0)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	if err := s.RequestCancel(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("RequestCancel(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.RequestCancel(ctx, "run-c"); err != nil {
		t.Fatalf("RequestCancel() error = %v", err)
	}

	// A stale copy without the flag must not clear it.
	run.Transition(types.StatusExtracting, base.Add(time.Second), 0, "", "")
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetRun(ctx, "run-c")
	if !got.CancelRequested {
		t.Error("cancel flag lost on UpdateRun")
	}

	got.Transition(types.StatusCancelled, base.Add(2*time.Second), 0, "", "")
	if err := s.UpdateRun(ctx, got); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestCancel(ctx, "run-c"); !errors.Is(err, store.ErrTerminal) {
		t.Errorf("RequestCancel(terminal) error = %v, want ErrTerminal", err)
	}
}

func testInsertOnly(t *testing.T, s store.Store) {
	ctx := context.Background()
	set := NewSet("run-q", "t1", "c1", "Biology", types.DifficultyEasy, "What is a cell?", "What is DNA?")
	set.Questions[0] = types.Question{
		Type: types.QuestionMCQ, Difficulty: types.DifficultyEasy, Prompt: "What is a cell?", Answer: "unit of life",
		Distractors: []string{"a rock", "unit of life", "a star", "a gas"}, Rationale: "basics",
	}

	if err := s.InsertQuestionSet(ctx, set); err != nil {
		t.Fatalf("InsertQuestionSet() error = %v", err)
	}
	if err := s.InsertQuestionSet(ctx, set); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("second InsertQuestionSet() error = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetQuestionSet(ctx, "run-q")
	if err != nil {
		t.Fatalf("GetQuestionSet() error = %v", err)
	}
	if len(got.Questions) != 2 || got.Requested != 2 || got.Subject != "Biology" {
		t.Fatalf("set = %+v", got)
	}
	q := got.Questions[0]
	if q.Answer != "unit of life" || len(q.Distractors) != 4 || q.Distractors[1] != "unit of life" || q.Rationale != "basics" {
		t.Errorf("question round trip = %+v", q)
	}
	if got.Questions[1].Prompt != "What is DNA?" {
		t.Errorf("question order not preserved: %+v", got.Questions)
	}

	if _, err := s.GetQuestionSet(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetQuestionSet(missing) error = %v, want ErrNotFound", err)
	}
}

func testQuery(t *testing.T, s store.Store) {
	ctx := context.Background()
	sets := []*types.QuestionSet{
		NewSet("r1", "t1", "c1", "Biology", types.DifficultyEasy, "What do mitochondria produce?", "Where is DNA stored?"),
		NewSet("r2", "t1", "c2", "Chemistry", types.DifficultyHard, "What is a covalent bond?"),
		NewSet("r3", "t2", "c1", "Biology", types.DifficultyHard, "Explain photosynthesis.", "What is osmosis?", "Define mitosis."),
	}
	for _, set := range sets {
		if err := s.InsertQuestionSet(ctx, set); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		query store.QuestionQuery
		total int
	}{
		{"all", store.QuestionQuery{}, 6},
		{"teacher", store.QuestionQuery{TeacherID: "t1"}, 3},
		{"class", store.QuestionQuery{ClassID: "c1"}, 5},
		{"subject", store.QuestionQuery{Subject: "Biology"}, 5},
		{"difficulty", store.QuestionQuery{Difficulty: types.DifficultyHard}, 4},
		{"combined", store.QuestionQuery{TeacherID: "t2", Difficulty: types.DifficultyHard}, 3},
		{"type", store.QuestionQuery{Type: types.QuestionMCQ}, 0},
		{"run", store.QuestionQuery{RunID: "r2"}, 1},
		{"search", store.QuestionQuery{Search: "mitochondria"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.QueryQuestions(ctx, tt.query)
			if err != nil {
				t.Fatalf("QueryQuestions() error = %v", err)
			}
			if page.Total != tt.total {
				t.Errorf("Total = %d, want %d", page.Total, tt.total)
			}
		})
	}

	t.Run("paging", func(t *testing.T) {
		page, err := s.QueryQuestions(ctx, store.QuestionQuery{Page: 2, PageSize: 4})
		if err != nil {
			t.Fatal(err)
		}
		if page.Total != 6 || len(page.Questions) != 2 || page.Page != 2 || page.PageSize != 4 {
			t.Errorf("page = total %d, len %d, page %d, size %d", page.Total, len(page.Questions), page.Page, page.PageSize)
		}
		if page.Questions[0].RunID != "r3" || page.Questions[0].Position != 1 {
			t.Errorf("first question on page 2 = %+v", page.Questions[0])
		}

		past, _ := s.QueryQuestions(ctx, store.QuestionQuery{Page: 9})
		if len(past.Questions) != 0 || past.Total != 6 {
			t.Errorf("past last page = %+v", past)
		}

		clamped, _ := s.QueryQuestions(ctx, store.QuestionQuery{PageSize: 1000})
		if clamped.PageSize != store.MaxPageSize {
			t.Errorf("PageSize = %d, want %d", clamped.PageSize, store.MaxPageSize)
		}
	})

	t.Run("get by id", func(t *testing.T) {
		page, _ := s.QueryQuestions(ctx, store.QuestionQuery{RunID: "r3"})
		if len(page.Questions) != 3 {
			t.Fatalf("len = %d", len(page.Questions))
		}
		want := page.Questions[2]
		got, err := s.GetQuestion(ctx, want.ID)
		if err != nil {
			t.Fatalf("GetQuestion(%d) error = %v", want.ID, err)
		}
		if got.ID != want.ID || got.Prompt != "Define mitosis." || got.RunID != "r3" || got.Position != 2 || got.TeacherID != "t2" {
			t.Errorf("GetQuestion = %+v", got)
		}
		if _, err := s.GetQuestion(ctx, want.ID+1_000_000_000); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetQuestion(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("attribution", func(t *testing.T) {
		page, _ := s.QueryQuestions(ctx, store.QuestionQuery{RunID: "r2"})
		if len(page.Questions) != 1 {
			t.Fatalf("len = %d", len(page.Questions))
		}
		q := page.Questions[0]
		if q.TeacherID != "t1" || q.ClassID != "c2" || q.Subject != "Chemistry" || q.ID == 0 {
			t.Errorf("stored question = %+v", q)
		}
	})
}
