package metrics

import (
	"sync"
	"time"
)

// DefaultCapacity is how many metrics a Recorder keeps before dropping the oldest.
const DefaultCapacity = 10000

// Recorder is an in-memory, bounded, append-only metric log.
// It is safe for concurrent use.
type Recorder struct {
	mu       sync.RWMutex
	metrics  []Metric
	capacity int
	dropped  int64
}

// NewRecorder creates a recorder holding at most capacity metrics.
// A non-positive capacity uses DefaultCapacity.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{capacity: capacity}
}

// Record appends m, stamping CreatedAt if unset.
func (r *Recorder) Record(m Metric) {
	if r == nil {
		return
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.metrics) >= r.capacity {
		// Drop the oldest tenth in one copy rather than shifting on every insert.
		drop := max(1, r.capacity/10)
		r.metrics = append(r.metrics[:0], r.metrics[drop:]...)
		r.dropped += int64(drop)
	}
	r.metrics = append(r.metrics, m)
}

// RecordAttempt records one adapter attempt.
func (r *Recorder) RecordAttempt(runID, stage, adapter string, attempt int, queued, exec time.Duration, outcome Outcome, err error) {
	m := Metric{
		RunID:            runID,
		Stage:            stage,
		Adapter:          adapter,
		Attempt:          attempt,
		QueueSeconds:     queued.Seconds(),
		ExecutionSeconds: exec.Seconds(),
		Success:          outcome == OutcomeSuccess,
		Outcome:          outcome,
	}
	if err != nil {
		m.Error = err.Error()
	}
	r.Record(m)
}

// Len returns the number of retained metrics.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.metrics)
}

// Dropped returns how many metrics were evicted for capacity.
func (r *Recorder) Dropped() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}
