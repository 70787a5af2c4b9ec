// Package sqlite is the default store.Store backend, on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/qforge/internal/store"
	"github.com/jackzampolin/qforge/internal/types"
)

//go:embed schema.sql
var schema string

// Store implements store.Store on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	db, err := openDB(path, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	logger.Debug("sqlite store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// isBusy reports whether err indicates an SQLite BUSY condition.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"))
}

// runTx executes fn inside a transaction, retrying on SQLITE_BUSY.
func (s *Store) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retry.Do(
		func() error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin tx: %w", err)
			}
			if err := fn(tx); err != nil {
				tx.Rollback()
				return err
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("commit: %w", err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isBusy),
		retry.LastErrorOnly(true),
	)
}

// CreateRun inserts a new run.
func (s *Store) CreateRun(ctx context.Context, run *types.PipelineRun) error {
	cols, err := runColumns(run)
	if err != nil {
		return err
	}
	err = s.runTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO runs (id, status, params, input_ref, input_format,
			extraction, enhanced, question_count, failure_kind, failure_reason, cancel_requested,
			history, created_at, updated_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, cols.status, cols.params, cols.inputRef, cols.inputFormat,
			cols.extraction, cols.enhanced, cols.questionCount, cols.failureKind, cols.failureReason,
			cols.cancelRequested, cols.history, cols.createdAt, cols.updatedAt, cols.completedAt)
		return err
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("run %s: %w", run.ID, store.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*types.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, filter store.RunFilter) ([]*types.PipelineRun, error) {
	filter.Normalize()

	query := selectRun
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*types.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// UpdateRun replaces a non-terminal run, keeping any stored cancel request.
func (s *Store) UpdateRun(ctx context.Context, run *types.PipelineRun) error {
	cols, err := runColumns(run)
	if err != nil {
		return err
	}
	return s.runTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, run.ID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("run %s: %w", run.ID, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load run: %w", err)
		}
		if types.RunStatus(status).IsTerminal() {
			return fmt.Errorf("run %s (%s): %w", run.ID, status, store.ErrTerminal)
		}

		_, err = tx.ExecContext(ctx, `UPDATE runs SET status = ?, params = ?, input_ref = ?, input_format = ?,
			extraction = ?, enhanced = ?, question_count = ?, failure_kind = ?, failure_reason = ?,
			cancel_requested = MAX(cancel_requested, ?), history = ?, updated_at = ?, completed_at = ?
			WHERE id = ?`,
			cols.status, cols.params, cols.inputRef, cols.inputFormat,
			cols.extraction, cols.enhanced, cols.questionCount, cols.failureKind, cols.failureReason,
			cols.cancelRequested, cols.history, cols.updatedAt, cols.completedAt, run.ID)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		return nil
	})
}

// RequestCancel flags a non-terminal run for cancellation.
func (s *Store) RequestCancel(ctx context.Context, id string) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("run %s: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load run: %w", err)
		}
		if types.RunStatus(status).IsTerminal() {
			return fmt.Errorf("run %s (%s): %w", id, status, store.ErrTerminal)
		}
		_, err = tx.ExecContext(ctx, `UPDATE runs SET cancel_requested = 1, updated_at = ? WHERE id = ?`,
			time.Now().UTC().Format(store.TimeLayout), id)
		return err
	})
}

// InsertQuestionSet writes the set and its questions in one transaction.
func (s *Store) InsertQuestionSet(ctx context.Context, set *types.QuestionSet) error {
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO question_sets (run_id, requested, teacher_id, class_id, subject, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			set.RunID, set.Requested, set.TeacherID, set.ClassID, set.Subject, set.CreatedAt.UTC().Format(store.TimeLayout))
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO questions
			(run_id, position, qtype, difficulty, prompt, answer, distractors, rationale)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, q := range set.Questions {
			distractors, err := json.Marshal(nonNil(q.Distractors))
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, set.RunID, i, string(q.Type), string(q.Difficulty),
				q.Prompt, q.Answer, string(distractors), q.Rationale); err != nil {
				return fmt.Errorf("insert question %d: %w", i, err)
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("question set for run %s: %w", set.RunID, store.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert question set: %w", err)
	}
	return nil
}

// GetQuestionSet loads a run's questions in order.
func (s *Store) GetQuestionSet(ctx context.Context, runID string) (*types.QuestionSet, error) {
	set := &types.QuestionSet{RunID: runID}
	var created string
	err := s.db.QueryRowContext(ctx, `SELECT requested, teacher_id, class_id, subject, created_at
		FROM question_sets WHERE run_id = ?`, runID).
		Scan(&set.Requested, &set.TeacherID, &set.ClassID, &set.Subject, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("question set for run %s: %w", runID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get question set: %w", err)
	}
	if set.CreatedAt, err = time.Parse(store.TimeLayout, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	stored, err := s.queryStored(ctx, ` WHERE q.run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	set.Questions = make([]types.Question, 0, len(stored))
	for _, sq := range stored {
		set.Questions = append(set.Questions, sq.Question)
	}
	return set, nil
}

// QueryQuestions filters in SQL, then ranks and pages in Go.
func (s *Store) QueryQuestions(ctx context.Context, q store.QuestionQuery) (*store.QuestionPage, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if q.TeacherID != "" {
		add("s.teacher_id = ?", q.TeacherID)
	}
	if q.ClassID != "" {
		add("s.class_id = ?", q.ClassID)
	}
	if q.Subject != "" {
		add("s.subject = ? COLLATE NOCASE", q.Subject)
	}
	if q.Difficulty != "" {
		add("q.difficulty = ?", string(q.Difficulty))
	}
	if q.Type != "" {
		add("q.qtype = ?", string(q.Type))
	}
	if q.RunID != "" {
		add("q.run_id = ?", q.RunID)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	candidates, err := s.queryStored(ctx, clause, args...)
	if err != nil {
		return nil, err
	}
	return store.Paginate(candidates, q), nil
}

// GetQuestion returns one stored question by id.
func (s *Store) GetQuestion(ctx context.Context, id int64) (*types.StoredQuestion, error) {
	stored, err := s.queryStored(ctx, ` WHERE q.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("question %d: %w", id, store.ErrNotFound)
	}
	return &stored[0], nil
}

func (s *Store) queryStored(ctx context.Context, where string, args ...any) ([]types.StoredQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT q.id, q.run_id, q.position, q.qtype, q.difficulty,
		q.prompt, q.answer, q.distractors, q.rationale, s.teacher_id, s.class_id, s.subject, s.created_at
		FROM questions q JOIN question_sets s ON s.run_id = q.run_id`+where+` ORDER BY q.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var out []types.StoredQuestion
	for rows.Next() {
		var (
			sq          types.StoredQuestion
			qtype, diff string
			distractors string
			created     string
		)
		if err := rows.Scan(&sq.ID, &sq.RunID, &sq.Position, &qtype, &diff, &sq.Prompt, &sq.Answer,
			&distractors, &sq.Rationale, &sq.TeacherID, &sq.ClassID, &sq.Subject, &created); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		sq.Type = types.QuestionType(qtype)
		sq.Difficulty = types.Difficulty(diff)
		if err := json.Unmarshal([]byte(distractors), &sq.Distractors); err != nil {
			return nil, fmt.Errorf("decode distractors: %w", err)
		}
		if len(sq.Distractors) == 0 {
			sq.Distractors = nil
		}
		if sq.CreatedAt, err = time.Parse(store.TimeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, sq)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ store.Store = (*Store)(nil)
