package tools

// Outcome is what a run did for one student.
type Outcome string

const (
	OutcomeUntouched Outcome = ""
	OutcomeSent      Outcome = "sent"
	OutcomeSimulated Outcome = "simulated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDeferred  Outcome = "deferred"
)

// Processed reports whether o counts as fully processed.
func (o Outcome) Processed() bool {
	return o == OutcomeSent || o == OutcomeSimulated || o == OutcomeSkipped
}

// Progress counts outcomes over the incomplete students of a run.
type Progress struct {
	Total     int                `json:"total"`
	Processed int                `json:"processed"`
	Deferred  int                `json:"deferred"`
	Untouched int                `json:"untouched"`
	Outcomes  map[string]Outcome `json:"outcomes"`
}

// Progress returns the current per-student outcomes. The latest decision
// for a student wins, except that a failed send leaves it unchanged.
func (r *Registry) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := Progress{Outcomes: make(map[string]Outcome, len(r.pending))}
	for _, rec := range r.pending {
		o := r.outcomes[rec.ID]
		p.Total++
		switch {
		case o.Processed():
			p.Processed++
		case o == OutcomeDeferred:
			p.Deferred++
		default:
			p.Untouched++
		}
		if o != OutcomeUntouched {
			p.Outcomes[rec.ID] = o
		}
	}
	return p
}
