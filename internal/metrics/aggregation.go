package metrics

import "sort"

// DetailedStats provides counts, outcome breakdown and latency percentiles.
type DetailedStats struct {
	Count        int             `json:"count"`
	SuccessCount int             `json:"success_count"`
	ErrorCount   int             `json:"error_count"`
	Outcomes     map[Outcome]int `json:"outcomes"`

	// Latency percentiles (seconds, queue + execution)
	LatencyP50 float64 `json:"latency_p50"`
	LatencyP95 float64 `json:"latency_p95"`
	LatencyP99 float64 `json:"latency_p99"`
	LatencyAvg float64 `json:"latency_avg"`
	LatencyMin float64 `json:"latency_min"`
	LatencyMax float64 `json:"latency_max"`

	AvgQueueSeconds float64 `json:"avg_queue_seconds"`
}

// GetDetailedStats returns detailed statistics for metrics matching the filter.
func (r *Recorder) GetDetailedStats(f Filter) *DetailedStats {
	return computeStats(r.List(f, 0))
}

// StageDetailedStats returns detailed stats grouped by stage.
func (r *Recorder) StageDetailedStats(f Filter) map[string]*DetailedStats {
	byStage := make(map[string][]Metric)
	for _, m := range r.List(f, 0) {
		if m.Stage != "" {
			byStage[m.Stage] = append(byStage[m.Stage], m)
		}
	}

	result := make(map[string]*DetailedStats, len(byStage))
	for stage, stageMetrics := range byStage {
		result[stage] = computeStats(stageMetrics)
	}
	return result
}

func computeStats(metrics []Metric) *DetailedStats {
	stats := &DetailedStats{Count: len(metrics), Outcomes: make(map[Outcome]int)}
	if len(metrics) == 0 {
		return stats
	}

	var latencies []float64
	var queued float64
	for _, m := range metrics {
		if m.Success {
			stats.SuccessCount++
		} else {
			stats.ErrorCount++
		}
		stats.Outcomes[m.Outcome]++
		queued += m.QueueSeconds
		if t := m.TotalSeconds(); t > 0 {
			latencies = append(latencies, t)
		}
	}
	stats.AvgQueueSeconds = queued / float64(stats.Count)

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		stats.LatencyMin = latencies[0]
		stats.LatencyMax = latencies[len(latencies)-1]
		var sum float64
		for _, l := range latencies {
			sum += l
		}
		stats.LatencyAvg = sum / float64(len(latencies))
		stats.LatencyP50 = percentile(latencies, 50)
		stats.LatencyP95 = percentile(latencies, 95)
		stats.LatencyP99 = percentile(latencies, 99)
	}
	return stats
}

// percentile calculates the p-th percentile from a sorted slice of values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	n := float64(len(sorted))
	idx := (p / 100.0) * (n - 1)

	// Interpolate between floor and ceil indices
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
