// Package metrics records per-attempt stage outcomes for pipeline runs.
package metrics

import "time"

// Outcome labels how a single adapter attempt ended.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeRemoteError Outcome = "remote_error"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeRejected    Outcome = "rejected" // output failed coordinator validation
)

// Metric is a single recorded adapter attempt.
// Metrics are append-only records kept in memory with run attribution.
type Metric struct {
	// Attribution (for filtering/aggregation)
	RunID   string `json:"run_id,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Adapter string `json:"adapter,omitempty"`
	Attempt int    `json:"attempt,omitempty"`

	// Timing
	QueueSeconds     float64 `json:"queue_seconds,omitempty"` // time waiting on the admission gate
	ExecutionSeconds float64 `json:"execution_seconds,omitempty"`

	// Status
	Success bool    `json:"success"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TotalSeconds is queue plus execution time.
func (m Metric) TotalSeconds() float64 {
	return m.QueueSeconds + m.ExecutionSeconds
}
