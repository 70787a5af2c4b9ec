package pipeline

import "github.com/jackzampolin/qforge/internal/types"

// Result is the outcome of a run. Run is always set; Questions holds what
// was stored, which for an insufficient run is fewer than requested.
type Result struct {
	Run       *types.PipelineRun `json:"run"`
	Questions []types.Question   `json:"questions,omitempty"`
}

// FailureReport describes why a run did not finish as done.
type FailureReport struct {
	RunID  string            `json:"run_id"`
	Status types.RunStatus   `json:"status"`
	Kind   types.FailureKind `json:"kind"`
	Reason string            `json:"reason"`
	// Stored is how many questions were kept from a partial generation.
	Stored    int `json:"stored"`
	Requested int `json:"requested"`
}

// Failure returns the failure report, or nil when the run is done or still in progress.
func (r *Result) Failure() *FailureReport {
	if r == nil || r.Run == nil || !r.Run.Status.IsTerminal() || r.Run.Status == types.StatusDone {
		return nil
	}
	return &FailureReport{
		RunID:     r.Run.ID,
		Status:    r.Run.Status,
		Kind:      r.Run.FailureKind,
		Reason:    r.Run.FailureReason,
		Stored:    len(r.Questions),
		Requested: r.Run.Params.NumQuestions,
	}
}
