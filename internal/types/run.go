package types

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// RunStatus is the lifecycle state of a PipelineRun.
type RunStatus string

const (
	StatusPending      RunStatus = "pending"
	StatusExtracting   RunStatus = "extracting"
	StatusEnhancing    RunStatus = "enhancing"
	StatusGenerating   RunStatus = "generating"
	StatusDone         RunStatus = "done"
	StatusFailed       RunStatus = "failed"
	StatusInsufficient RunStatus = "insufficient"
	StatusCancelled    RunStatus = "cancelled"
)

// IsTerminal reports whether no further transitions happen from s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusInsufficient, StatusCancelled:
		return true
	default:
		return false
	}
}

// FailureKind classifies why a run did not finish as done.
type FailureKind string

const (
	KindInputInvalid                  FailureKind = "InputInvalid"
	KindAdapterUnavailable            FailureKind = "AdapterUnavailable"
	KindAdapterTimeout                FailureKind = "AdapterTimeout"
	KindAdapterRemoteError            FailureKind = "AdapterRemoteError"
	KindMeaningPreservationFailed     FailureKind = "MeaningPreservationFailed"
	KindGenerationCardinalityMismatch FailureKind = "GenerationCardinalityMismatch"
	KindCancelled                     FailureKind = "Cancelled"
)

// Transient reports whether a failure of this kind may succeed on retry.
func (k FailureKind) Transient() bool {
	return k == KindAdapterTimeout || k == KindAdapterRemoteError
}

// Limits on requested question counts.
const (
	MinQuestions = 1
	MaxQuestions = 50
)

// RunParams configures what a run generates and how results are attributed.
type RunParams struct {
	QuestionType QuestionType `json:"qtype"`
	Difficulty   Difficulty   `json:"difficulty"`
	NumQuestions int          `json:"num_questions"`
	TeacherID    string       `json:"teacher_id,omitempty"`
	ClassID      string       `json:"class_id,omitempty"`
	Subject      string       `json:"subject,omitempty"`
}

// Validate checks the generation parameters.
func (p RunParams) Validate() error {
	var errs []error
	if !slices.Contains(QuestionTypes, p.QuestionType) {
		errs = append(errs, fmt.Errorf("unknown question type %q", p.QuestionType))
	}
	if _, err := ParseDifficulty(string(p.Difficulty)); err != nil {
		errs = append(errs, err)
	}
	if p.NumQuestions < MinQuestions || p.NumQuestions > MaxQuestions {
		errs = append(errs, fmt.Errorf("num_questions must be between %d and %d, got %d",
			MinQuestions, MaxQuestions, p.NumQuestions))
	}
	return errors.Join(errs...)
}

// StageTransition records one status change on a run.
type StageTransition struct {
	Status   RunStatus `json:"status"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts,omitempty"`
	Adapter  string    `json:"adapter,omitempty"`
	Note     string    `json:"note,omitempty"`
}

// PipelineRun tracks one request through its stages.
type PipelineRun struct {
	ID              string            `json:"id"`
	Status          RunStatus         `json:"status"`
	Params          RunParams         `json:"params"`
	InputRef        string            `json:"input_ref,omitempty"`
	InputFormat     SourceFormat      `json:"input_format"`
	Extraction      *ExtractionResult `json:"extraction,omitempty"`
	Enhanced        *EnhancedText     `json:"enhanced,omitempty"`
	QuestionCount   int               `json:"question_count"`
	FailureKind     FailureKind       `json:"failure_kind,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	CancelRequested bool              `json:"cancel_requested,omitempty"`
	History         []StageTransition `json:"history"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// NewRun creates a pending run record.
func NewRun(id string, in Input, params RunParams, now time.Time) *PipelineRun {
	return &PipelineRun{
		ID:          id,
		Status:      StatusPending,
		Params:      params,
		InputRef:    in.Ref(),
		InputFormat: in.Format,
		History:     []StageTransition{{Status: StatusPending, At: now}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the run to status and appends it to the history.
// Terminal statuses also stamp CompletedAt.
func (r *PipelineRun) Transition(status RunStatus, now time.Time, attempts int, adapter, note string) {
	r.Status = status
	r.UpdatedAt = now
	r.History = append(r.History, StageTransition{
		Status:   status,
		At:       now,
		Attempts: attempts,
		Adapter:  adapter,
		Note:     note,
	})
	if status.IsTerminal() {
		t := now
		r.CompletedAt = &t
	}
}

// Visited reports whether the run ever entered status.
func (r *PipelineRun) Visited(status RunStatus) bool {
	for _, h := range r.History {
		if h.Status == status {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *PipelineRun) Clone() *PipelineRun {
	if r == nil {
		return nil
	}
	c := *r
	c.History = append([]StageTransition(nil), r.History...)
	if r.Extraction != nil {
		e := *r.Extraction
		e.Confidences = append([]float64(nil), r.Extraction.Confidences...)
		c.Extraction = &e
	}
	if r.Enhanced != nil {
		e := *r.Enhanced
		e.Changes = append([]Change(nil), r.Enhanced.Changes...)
		c.Enhanced = &e
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
