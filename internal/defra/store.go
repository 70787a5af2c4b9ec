package defra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jackzampolin/qforge/internal/store"
	"github.com/jackzampolin/qforge/internal/types"
)

// Collection names, matching internal/schema.
const (
	collRun         = "PipelineRun"
	collQuestionSet = "QuestionSet"
	collQuestion    = "Question"
)

var (
	runFields      = []string{"_docID", "run_id", "cancel_requested", "data"}
	setFields      = []string{"_docID", "run_id", "requested", "teacher_id", "class_id", "subject", "created_at"}
	questionFields = []string{"_docID", "seq", "run_id", "position", "qtype", "difficulty", "prompt", "answer",
		"distractors", "rationale", "teacher_id", "class_id", "subject", "created_at"}
)

// Store implements store.Store on DefraDB. Schemas must already be applied
// (see schema.Initialize).
//
// DefraDB's HTTP API has no multi-document transactions, so read-modify-write
// sequences are serialized within the process.
type Store struct {
	client *Client
	logger *slog.Logger

	mu      sync.Mutex
	lastSeq int64
}

// NewStore returns a DefraDB-backed store.
func NewStore(client *Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger}
}

// CreateRun inserts a new run.
func (s *Store) CreateRun(ctx context.Context, run *types.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, err := s.loadRun(ctx, run.ID); err == nil {
		return fmt.Errorf("run %s: %w", run.ID, store.ErrAlreadyExists)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	input, err := runInput(run)
	if err != nil {
		return err
	}
	input["run_id"] = run.ID
	input["created_at"] = run.CreatedAt.UTC().Format(store.TimeLayout)

	if _, err := s.client.Create(ctx, collRun, input); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return fmt.Errorf("run %s: %w", run.ID, store.ErrAlreadyExists)
		}
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*types.PipelineRun, error) {
	_, run, err := s.loadRun(ctx, id)
	return run, err
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, filter store.RunFilter) ([]*types.PipelineRun, error) {
	filter.Normalize()

	q := NewQuery(collRun).Fields(runFields...).
		OrderBy("created_at", "DESC").
		OrderBy("run_id", "DESC").
		Limit(filter.Limit).
		Offset(filter.Offset)
	if filter.Status != "" {
		q.Filter("status", string(filter.Status))
	}
	docs, err := q.Execute(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	out := make([]*types.PipelineRun, 0, len(docs))
	for _, doc := range docs {
		run, err := decodeRun(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	// Order again locally; DefraDB returns ties in storage order.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateRun replaces a non-terminal run, keeping any stored cancel request.
func (s *Store) UpdateRun(ctx context.Context, run *types.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docID, stored, err := s.loadRun(ctx, run.ID)
	if err != nil {
		return err
	}
	if stored.Status.IsTerminal() {
		return fmt.Errorf("run %s (%s): %w", run.ID, stored.Status, store.ErrTerminal)
	}

	next := run.Clone()
	next.CancelRequested = next.CancelRequested || stored.CancelRequested
	input, err := runInput(next)
	if err != nil {
		return err
	}
	if err := s.client.Update(ctx, collRun, docID, input); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// RequestCancel flags a non-terminal run for cancellation.
func (s *Store) RequestCancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docID, run, err := s.loadRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("run %s (%s): %w", id, run.Status, store.ErrTerminal)
	}
	run.CancelRequested = true
	run.UpdatedAt = time.Now().UTC()

	input, err := runInput(run)
	if err != nil {
		return err
	}
	if err := s.client.Update(ctx, collRun, docID, input); err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	return nil
}

func (s *Store) loadRun(ctx context.Context, id string) (string, *types.PipelineRun, error) {
	docs, err := NewQuery(collRun).Fields(runFields...).Filter("run_id", id).Limit(1).Execute(ctx, s.client)
	if err != nil {
		return "", nil, fmt.Errorf("get run: %w", err)
	}
	if len(docs) == 0 {
		return "", nil, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	run, err := decodeRun(docs[0])
	if err != nil {
		return "", nil, err
	}
	docID, _ := docs[0]["_docID"].(string)
	return docID, run, nil
}

// runInput holds the mutable fields of a run document.
func runInput(run *types.PipelineRun) (map[string]any, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("encode run: %w", err)
	}
	return map[string]any{
		"status":           string(run.Status),
		"cancel_requested": run.CancelRequested,
		"data":             string(data),
	}, nil
}

func decodeRun(doc map[string]any) (*types.PipelineRun, error) {
	data, _ := doc["data"].(string)
	var run types.PipelineRun
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("decode run %v: %w", doc["run_id"], err)
	}
	if cancel, ok := doc["cancel_requested"].(bool); ok && cancel {
		run.CancelRequested = true
	}
	return &run, nil
}

// InsertQuestionSet writes the set header, then its questions in one batch.
func (s *Store) InsertQuestionSet(ctx context.Context, set *types.QuestionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := NewQuery(collQuestionSet).Filter("run_id", set.RunID).Limit(1).Execute(ctx, s.client)
	if err != nil {
		return fmt.Errorf("check question set: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("question set for run %s: %w", set.RunID, store.ErrAlreadyExists)
	}

	created := set.CreatedAt.UTC().Format(store.TimeLayout)
	_, err = s.client.Create(ctx, collQuestionSet, map[string]any{
		"run_id":     set.RunID,
		"requested":  set.Requested,
		"teacher_id": set.TeacherID,
		"class_id":   set.ClassID,
		"subject":    set.Subject,
		"created_at": created,
	})
	if errors.Is(err, ErrDuplicate) {
		return fmt.Errorf("question set for run %s: %w", set.RunID, store.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create question set: %w", err)
	}
	if len(set.Questions) == 0 {
		return nil
	}

	base := s.allocSeq(len(set.Questions))
	inputs := make([]map[string]any, 0, len(set.Questions))
	for i, q := range set.Questions {
		inputs = append(inputs, map[string]any{
			"seq":         base + int64(i),
			"run_id":      set.RunID,
			"position":    i,
			"qtype":       string(q.Type),
			"difficulty":  string(q.Difficulty),
			"prompt":      q.Prompt,
			"answer":      q.Answer,
			"distractors": nonNil(q.Distractors),
			"rationale":   q.Rationale,
			"teacher_id":  set.TeacherID,
			"class_id":    set.ClassID,
			"subject":     set.Subject,
			"created_at":  created,
		})
	}
	if _, err := s.client.CreateMany(ctx, collQuestion, inputs); err != nil {
		s.logger.Error("question set header written without questions", "run_id", set.RunID, "error", err)
		return fmt.Errorf("create questions: %w", err)
	}
	return nil
}

// allocSeq reserves n increasing sequence numbers. They order questions by
// insertion and stay below 2^53 so they survive JSON number decoding.
func (s *Store) allocSeq(n int) int64 {
	base := max(time.Now().UnixMicro(), s.lastSeq+1)
	s.lastSeq = base + int64(n) - 1
	return base
}

// GetQuestionSet loads a run's questions in order.
func (s *Store) GetQuestionSet(ctx context.Context, runID string) (*types.QuestionSet, error) {
	docs, err := NewQuery(collQuestionSet).Fields(setFields...).Filter("run_id", runID).Limit(1).Execute(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("get question set: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("question set for run %s: %w", runID, store.ErrNotFound)
	}
	doc := docs[0]
	set := &types.QuestionSet{
		RunID:     runID,
		Requested: intField(doc, "requested"),
		TeacherID: stringField(doc, "teacher_id"),
		ClassID:   stringField(doc, "class_id"),
		Subject:   stringField(doc, "subject"),
	}
	if set.CreatedAt, err = time.Parse(store.TimeLayout, stringField(doc, "created_at")); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	stored, err := s.queryQuestions(ctx, NewQuery(collQuestion).Filter("run_id", runID))
	if err != nil {
		return nil, err
	}
	set.Questions = make([]types.Question, 0, len(stored))
	for _, sq := range stored {
		set.Questions = append(set.Questions, sq.Question)
	}
	return set, nil
}

// QueryQuestions filters in DefraDB, then ranks and pages locally.
func (s *Store) QueryQuestions(ctx context.Context, query store.QuestionQuery) (*store.QuestionPage, error) {
	q := NewQuery(collQuestion)
	if query.TeacherID != "" {
		q.Filter("teacher_id", query.TeacherID)
	}
	if query.ClassID != "" {
		q.Filter("class_id", query.ClassID)
	}
	if query.Subject != "" {
		q.FilterLike("subject", query.Subject)
	}
	if query.Difficulty != "" {
		q.Filter("difficulty", string(query.Difficulty))
	}
	if query.Type != "" {
		q.Filter("qtype", string(query.Type))
	}
	if query.RunID != "" {
		q.Filter("run_id", query.RunID)
	}

	candidates, err := s.queryQuestions(ctx, q)
	if err != nil {
		return nil, err
	}
	return store.Paginate(candidates, query), nil
}

// GetQuestion returns one stored question by its sequence id.
func (s *Store) GetQuestion(ctx context.Context, id int64) (*types.StoredQuestion, error) {
	stored, err := s.queryQuestions(ctx, NewQuery(collQuestion).Filter("seq", id).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("question %d: %w", id, store.ErrNotFound)
	}
	return &stored[0], nil
}

func (s *Store) queryQuestions(ctx context.Context, q *QueryBuilder) ([]types.StoredQuestion, error) {
	docs, err := q.Fields(questionFields...).OrderBy("seq", "ASC").Execute(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}

	out := make([]types.StoredQuestion, 0, len(docs))
	for _, doc := range docs {
		sq := types.StoredQuestion{
			Question: types.Question{
				Type:       types.QuestionType(stringField(doc, "qtype")),
				Difficulty: types.Difficulty(stringField(doc, "difficulty")),
				Prompt:     stringField(doc, "prompt"),
				Answer:     stringField(doc, "answer"),
				Rationale:  stringField(doc, "rationale"),
			},
			ID:        int64Field(doc, "seq"),
			RunID:     stringField(doc, "run_id"),
			Position:  intField(doc, "position"),
			TeacherID: stringField(doc, "teacher_id"),
			ClassID:   stringField(doc, "class_id"),
			Subject:   stringField(doc, "subject"),
		}
		if raw, ok := doc["distractors"].([]any); ok {
			for _, d := range raw {
				if str, ok := d.(string); ok {
					sq.Distractors = append(sq.Distractors, str)
				}
			}
		}
		created, err := time.Parse(store.TimeLayout, stringField(doc, "created_at"))
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		sq.CreatedAt = created
		out = append(out, sq)
	}
	return out, nil
}

// Ping checks DefraDB health.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

// Close is a no-op; the container outlives the store.
func (s *Store) Close() error { return nil }

func stringField(doc map[string]any, key string) string {
	v, _ := doc[key].(string)
	return v
}

func int64Field(doc map[string]any, key string) int64 {
	switch v := doc[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func intField(doc map[string]any, key string) int {
	return int(int64Field(doc, key))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ store.Store = (*Store)(nil)
