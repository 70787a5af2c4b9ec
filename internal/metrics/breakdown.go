package metrics

// CountByAdapter returns attempt counts per adapter.
func (r *Recorder) CountByAdapter(f Filter) map[string]int {
	breakdown := make(map[string]int)
	for _, m := range r.List(f, 0) {
		breakdown[m.Adapter]++
	}
	return breakdown
}

// CountByOutcome returns attempt counts per outcome.
func (r *Recorder) CountByOutcome(f Filter) map[Outcome]int {
	breakdown := make(map[Outcome]int)
	for _, m := range r.List(f, 0) {
		breakdown[m.Outcome]++
	}
	return breakdown
}

// RunAttempts returns how many adapter attempts a run made in each stage.
func (r *Recorder) RunAttempts(runID string) map[string]int {
	breakdown := make(map[string]int)
	for _, m := range r.List(Filter{RunID: runID}, 0) {
		breakdown[m.Stage]++
	}
	return breakdown
}
