// Package store defines persistence for pipeline runs and question sets.
//
// Runs are mutable records updated at every stage transition. Question sets
// are insert-only: a run's questions are written once and never changed.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/jackzampolin/qforge/internal/types"
)

var (
	// ErrNotFound is returned when a run or question set does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned on a second insert for the same key.
	ErrAlreadyExists = errors.New("already exists")
	// ErrTerminal is returned when mutating a run that already finished.
	ErrTerminal = errors.New("run is terminal")
)

// Paging limits for question queries.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	DefaultRunLimit = 50
)

// TimeLayout is a fixed-width UTC timestamp layout. Backends that persist
// times as text use it so lexical order matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status types.RunStatus
	Limit  int
	Offset int
}

// Normalize applies the default limit.
func (f *RunFilter) Normalize() {
	if f.Limit <= 0 || f.Limit > MaxPageSize {
		f.Limit = DefaultRunLimit
	}
	f.Offset = max(f.Offset, 0)
}

// QuestionQuery selects stored questions. Empty fields match everything.
type QuestionQuery struct {
	TeacherID  string             `json:"teacher_id,omitempty"`
	ClassID    string             `json:"class_id,omitempty"`
	Subject    string             `json:"subject,omitempty"`
	Difficulty types.Difficulty   `json:"difficulty,omitempty"`
	Type       types.QuestionType `json:"type,omitempty"`
	RunID      string             `json:"run_id,omitempty"`
	// Search fuzzy-matches prompt and answer text; results are ranked by match quality.
	Search   string `json:"q,omitempty"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// Normalize clamps paging to page >= 1 and 1 <= size <= MaxPageSize.
func (q *QuestionQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize <= 0:
		q.PageSize = DefaultPageSize
	case q.PageSize > MaxPageSize:
		q.PageSize = MaxPageSize
	}
	q.Search = strings.TrimSpace(q.Search)
}

// Matches reports whether sq passes every non-search filter.
func (q *QuestionQuery) Matches(sq *types.StoredQuestion) bool {
	switch {
	case q.TeacherID != "" && sq.TeacherID != q.TeacherID:
		return false
	case q.ClassID != "" && sq.ClassID != q.ClassID:
		return false
	case q.Subject != "" && !strings.EqualFold(sq.Subject, q.Subject):
		return false
	case q.Difficulty != "" && sq.Difficulty != q.Difficulty:
		return false
	case q.Type != "" && sq.Type != q.Type:
		return false
	case q.RunID != "" && sq.RunID != q.RunID:
		return false
	}
	return true
}

// QuestionPage is one page of query results.
type QuestionPage struct {
	Questions []types.StoredQuestion `json:"questions"`
	Total     int                    `json:"total"`
	Page      int                    `json:"page"`
	PageSize  int                    `json:"page_size"`
}

// RunStore persists pipeline run state.
type RunStore interface {
	CreateRun(ctx context.Context, run *types.PipelineRun) error
	GetRun(ctx context.Context, id string) (*types.PipelineRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*types.PipelineRun, error)
	// UpdateRun replaces the stored run. A cancel request recorded in the
	// store is preserved. Updating a terminal run returns ErrTerminal.
	UpdateRun(ctx context.Context, run *types.PipelineRun) error
	// RequestCancel flags a run for cancellation.
	RequestCancel(ctx context.Context, id string) error
}

// QuestionStore persists generated questions, insert-only.
type QuestionStore interface {
	InsertQuestionSet(ctx context.Context, set *types.QuestionSet) error
	GetQuestionSet(ctx context.Context, runID string) (*types.QuestionSet, error)
	QueryQuestions(ctx context.Context, q QuestionQuery) (*QuestionPage, error)
	GetQuestion(ctx context.Context, id int64) (*types.StoredQuestion, error)
}

// Store is a complete storage backend.
type Store interface {
	RunStore
	QuestionStore
	Ping(ctx context.Context) error
	Close() error
}

// Paginate ranks candidates by q.Search (when set) and returns the requested page.
// candidates must already satisfy q.Matches and be in storage order.
func Paginate(candidates []types.StoredQuestion, q QuestionQuery) *QuestionPage {
	q.Normalize()
	if q.Search != "" {
		candidates = Rank(candidates, q.Search)
	}

	page := &QuestionPage{
		Questions: []types.StoredQuestion{},
		Total:     len(candidates),
		Page:      q.Page,
		PageSize:  q.PageSize,
	}
	start := (q.Page - 1) * q.PageSize
	if start >= len(candidates) {
		return page
	}
	end := min(start+q.PageSize, len(candidates))
	page.Questions = append(page.Questions, candidates[start:end]...)
	return page
}

type searchSource []types.StoredQuestion

func (s searchSource) String(i int) string {
	return strings.ToLower(s[i].Prompt + " " + s[i].Answer)
}

func (s searchSource) Len() int { return len(s) }

// Rank returns the questions that fuzzy-match search, best match first.
func Rank(questions []types.StoredQuestion, search string) []types.StoredQuestion {
	matches := fuzzy.FindFrom(strings.ToLower(search), searchSource(questions))
	out := make([]types.StoredQuestion, 0, len(matches))
	for _, m := range matches {
		out = append(out, questions[m.Index])
	}
	return out
}
