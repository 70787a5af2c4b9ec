package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackzampolin/qforge/internal/store"
	"github.com/jackzampolin/qforge/internal/types"
)

const selectRun = `SELECT id, status, params, input_ref, input_format, extraction, enhanced,
	question_count, failure_kind, failure_reason, cancel_requested, history,
	created_at, updated_at, completed_at FROM runs`

// runRow holds a run flattened into column values.
type runRow struct {
	status          string
	params          string
	inputRef        string
	inputFormat     string
	extraction      sql.NullString
	enhanced        sql.NullString
	questionCount   int
	failureKind     string
	failureReason   string
	cancelRequested int
	history         string
	createdAt       string
	updatedAt       string
	completedAt     sql.NullString
}

func marshalNullable(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func runColumns(run *types.PipelineRun) (*runRow, error) {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	history, err := json.Marshal(run.History)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	extraction, err := marshalNullable(run.Extraction, run.Extraction == nil)
	if err != nil {
		return nil, fmt.Errorf("encode extraction: %w", err)
	}
	enhanced, err := marshalNullable(run.Enhanced, run.Enhanced == nil)
	if err != nil {
		return nil, fmt.Errorf("encode enhanced: %w", err)
	}

	row := &runRow{
		status:        string(run.Status),
		params:        string(params),
		inputRef:      run.InputRef,
		inputFormat:   string(run.InputFormat),
		extraction:    extraction,
		enhanced:      enhanced,
		questionCount: run.QuestionCount,
		failureKind:   string(run.FailureKind),
		failureReason: run.FailureReason,
		history:       string(history),
		createdAt:     run.CreatedAt.UTC().Format(store.TimeLayout),
		updatedAt:     run.UpdatedAt.UTC().Format(store.TimeLayout),
	}
	if run.CancelRequested {
		row.cancelRequested = 1
	}
	if run.CompletedAt != nil {
		row.completedAt = sql.NullString{String: run.CompletedAt.UTC().Format(store.TimeLayout), Valid: true}
	}
	return row, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*types.PipelineRun, error) {
	var (
		run     types.PipelineRun
		row     runRow
		inputFm string
	)
	if err := sc.Scan(&run.ID, &row.status, &row.params, &row.inputRef, &inputFm,
		&row.extraction, &row.enhanced, &row.questionCount, &row.failureKind, &row.failureReason,
		&row.cancelRequested, &row.history, &row.createdAt, &row.updatedAt, &row.completedAt); err != nil {
		return nil, err
	}

	run.Status = types.RunStatus(row.status)
	run.InputRef = row.inputRef
	run.InputFormat = types.SourceFormat(inputFm)
	run.QuestionCount = row.questionCount
	run.FailureKind = types.FailureKind(row.failureKind)
	run.FailureReason = row.failureReason
	run.CancelRequested = row.cancelRequested != 0

	if err := json.Unmarshal([]byte(row.params), &run.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if err := json.Unmarshal([]byte(row.history), &run.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if row.extraction.Valid {
		run.Extraction = &types.ExtractionResult{}
		if err := json.Unmarshal([]byte(row.extraction.String), run.Extraction); err != nil {
			return nil, fmt.Errorf("decode extraction: %w", err)
		}
	}
	if row.enhanced.Valid {
		run.Enhanced = &types.EnhancedText{}
		if err := json.Unmarshal([]byte(row.enhanced.String), run.Enhanced); err != nil {
			return nil, fmt.Errorf("decode enhanced: %w", err)
		}
	}

	var err error
	if run.CreatedAt, err = time.Parse(store.TimeLayout, row.createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if run.UpdatedAt, err = time.Parse(store.TimeLayout, row.updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if row.completedAt.Valid {
		t, err := time.Parse(store.TimeLayout, row.completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		run.CompletedAt = &t
	}
	return &run, nil
}
