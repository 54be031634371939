package queue

import "time"

// BatchProgress is the aggregate snapshot recomputed on every
// transition. Completed counts items whose generation finished
// (awaiting_approval, approved, rejected); Failed counts error items.
// Completed + Failed + Pending + InFlight == Total always holds.
type BatchProgress struct {
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	Pending    int        `json:"pending"`
	InFlight   int        `json:"inFlight"`
	Percent    float64    `json:"percent"`
	ETASeconds float64    `json:"etaSeconds"`
	State      BatchState `json:"state"`
}

// Progress returns the current aggregate snapshot. Percent is a
// high-water mark over (completed+failed)/total, so pausing, resuming,
// or regenerating an already-resolved item never lowers the published
// value; Total is never recounted. The ETA is the running average
// duration per completed item times the remaining pending+error count,
// recomputed at most once per second while the batch is generating to
// avoid noisy output.
func (o *Orchestrator) Progress() BatchProgress {
	counts := o.store.Counts()
	total := o.store.Len()
	completed := counts[PhaseAwaitingApproval] + counts[PhaseApproved] + counts[PhaseRejected]
	failed := counts[PhaseError]
	remaining := counts[PhasePending] + counts[PhaseError]

	percent := 0.0
	if total > 0 {
		percent = float64(completed+failed) / float64(total) * 100
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if percent > o.maxPercent {
		o.maxPercent = percent
	}
	if o.batch == BatchGenerating && time.Since(o.etaAt) >= time.Second {
		o.eta = 0
		if completed > 0 {
			avg := time.Since(o.startedAt) / time.Duration(completed)
			o.eta = avg * time.Duration(remaining)
		}
		o.etaAt = time.Now()
	}
	return BatchProgress{
		Total:      total,
		Completed:  completed,
		Failed:     failed,
		Pending:    counts[PhasePending],
		InFlight:   counts[PhaseGenerating],
		Percent:    o.maxPercent,
		ETASeconds: o.eta.Seconds(),
		State:      o.batch,
	}
}

// refreshProgress recomputes the snapshot for its side effects (the
// percent high-water mark) after a transition.
func (o *Orchestrator) refreshProgress() {
	_ = o.Progress()
}
