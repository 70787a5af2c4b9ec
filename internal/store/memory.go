package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackzampolin/qforge/internal/types"
)

// Memory is an in-process Store for tests and one-shot CLI runs.
type Memory struct {
	mu        sync.RWMutex
	runs      map[string]*types.PipelineRun
	sets      map[string]*types.QuestionSet
	nextQID   int64
	questions []types.StoredQuestion
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs: make(map[string]*types.PipelineRun),
		sets: make(map[string]*types.QuestionSet),
	}
}

// CreateRun stores a new run.
func (m *Memory) CreateRun(ctx context.Context, run *types.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return fmt.Errorf("run %s: %w", run.ID, ErrAlreadyExists)
	}
	m.runs[run.ID] = run.Clone()
	return nil
}

// GetRun returns a copy of the run.
func (m *Memory) GetRun(ctx context.Context, id string) (*types.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run.Clone(), nil
}

// ListRuns returns runs newest first.
func (m *Memory) ListRuns(ctx context.Context, filter RunFilter) ([]*types.PipelineRun, error) {
	filter.Normalize()

	m.mu.RLock()
	var out []*types.PipelineRun
	for _, run := range m.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	out = out[min(filter.Offset, len(out)):]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateRun replaces the stored run, keeping any recorded cancel request.
func (m *Memory) UpdateRun(ctx context.Context, run *types.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	if stored.Status.IsTerminal() {
		return fmt.Errorf("run %s (%s): %w", run.ID, stored.Status, ErrTerminal)
	}
	next := run.Clone()
	next.CancelRequested = next.CancelRequested || stored.CancelRequested
	m.runs[run.ID] = next
	return nil
}

// RequestCancel flags a non-terminal run for cancellation.
func (m *Memory) RequestCancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("run %s (%s): %w", id, run.Status, ErrTerminal)
	}
	run.CancelRequested = true
	run.UpdatedAt = time.Now().UTC()
	return nil
}

// InsertQuestionSet stores a run's questions once.
func (m *Memory) InsertQuestionSet(ctx context.Context, set *types.QuestionSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sets[set.RunID]; ok {
		return fmt.Errorf("question set for run %s: %w", set.RunID, ErrAlreadyExists)
	}

	cp := *set
	cp.Questions = append([]types.Question(nil), set.Questions...)
	m.sets[set.RunID] = &cp

	for i, q := range set.Questions {
		m.nextQID++
		m.questions = append(m.questions, types.StoredQuestion{
			Question:  q,
			ID:        m.nextQID,
			RunID:     set.RunID,
			Position:  i,
			TeacherID: set.TeacherID,
			ClassID:   set.ClassID,
			Subject:   set.Subject,
			CreatedAt: set.CreatedAt,
		})
	}
	return nil
}

// GetQuestionSet returns the stored set for a run.
func (m *Memory) GetQuestionSet(ctx context.Context, runID string) (*types.QuestionSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.sets[runID]
	if !ok {
		return nil, fmt.Errorf("question set for run %s: %w", runID, ErrNotFound)
	}
	cp := *set
	cp.Questions = append([]types.Question(nil), set.Questions...)
	return &cp, nil
}

// QueryQuestions filters, ranks and pages stored questions.
func (m *Memory) QueryQuestions(ctx context.Context, q QuestionQuery) (*QuestionPage, error) {
	m.mu.RLock()
	var candidates []types.StoredQuestion
	for i := range m.questions {
		if q.Matches(&m.questions[i]) {
			sq := m.questions[i]
			sq.Distractors = append([]string(nil), sq.Distractors...)
			candidates = append(candidates, sq)
		}
	}
	m.mu.RUnlock()
	return Paginate(candidates, q), nil
}

// GetQuestion returns one stored question by id.
func (m *Memory) GetQuestion(ctx context.Context, id int64) (*types.StoredQuestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.questions {
		if m.questions[i].ID == id {
			sq := m.questions[i]
			sq.Distractors = append([]string(nil), sq.Distractors...)
			return &sq, nil
		}
	}
	return nil, fmt.Errorf("question %d: %w", id, ErrNotFound)
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
