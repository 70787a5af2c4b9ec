package metrics

import "time"

// Filter specifies query filters.
type Filter struct {
	RunID   string
	Stage   string
	Adapter string
	Outcome Outcome
	After   time.Time
	Before  time.Time
	Success *bool // nil = any, true = success only, false = errors only
}

func (f Filter) matches(m Metric) bool {
	switch {
	case f.RunID != "" && m.RunID != f.RunID:
		return false
	case f.Stage != "" && m.Stage != f.Stage:
		return false
	case f.Adapter != "" && m.Adapter != f.Adapter:
		return false
	case f.Outcome != "" && m.Outcome != f.Outcome:
		return false
	case !f.After.IsZero() && !m.CreatedAt.After(f.After):
		return false
	case !f.Before.IsZero() && !m.CreatedAt.Before(f.Before):
		return false
	case f.Success != nil && m.Success != *f.Success:
		return false
	}
	return true
}

// List returns metrics matching the filter, oldest first.
// If limit > 0, only the most recent limit matches are returned.
func (r *Recorder) List(f Filter, limit int) []Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Metric
	for _, m := range r.metrics {
		if f.matches(m) {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Summary provides a summary of metrics for a filter.
type Summary struct {
	Count          int     `json:"count"`
	SuccessCount   int     `json:"success_count"`
	ErrorCount     int     `json:"error_count"`
	TotalSeconds   float64 `json:"total_seconds"`
	AvgTimeSeconds float64 `json:"avg_time_seconds"`
}

// GetSummary returns a summary of metrics matching the filter.
func (r *Recorder) GetSummary(f Filter) *Summary {
	metrics := r.List(f, 0)

	s := &Summary{Count: len(metrics)}
	for _, m := range metrics {
		s.TotalSeconds += m.TotalSeconds()
		if m.Success {
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
	}
	if s.Count > 0 {
		s.AvgTimeSeconds = s.TotalSeconds / float64(s.Count)
	}
	return s
}
