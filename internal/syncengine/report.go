package syncengine

import (
	"time"

	"github.com/fyrsmithlabs/projectd/internal/project"
)

// Result is the per-project outcome of a reconciliation pass.
type Result string

const (
	ResultAppliedLocal     Result = "applied-local"
	ResultAppliedRemote    Result = "applied-remote"
	ResultConflictResolved Result = "conflict-resolved"
	ResultUnchanged        Result = "unchanged"
	ResultFailed           Result = "failed"
)

// Outcome records what happened to one project during a pass.
type Outcome struct {
	ID     string `json:"id"`
	Result Result `json:"result"`
	// Kind and Error are set for failed outcomes.
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`

	Err error `json:"-"`
}

func failed(id string, err error) Outcome {
	return Outcome{
		ID:     id,
		Result: ResultFailed,
		Kind:   project.KindOf(err).String(),
		Error:  err.Error(),
		Err:    err,
	}
}

// Report is the result of one pass. Outcomes are ordered by project id.
// Reports may be shared between coalesced callers and must not be mutated.
type Report struct {
	PassID     string    `json:"pass_id"`
	Scope      string    `json:"scope,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Cancelled  bool      `json:"cancelled,omitempty"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Counts tallies outcomes by result.
func (r *Report) Counts() map[Result]int {
	counts := make(map[Result]int, 5)
	for _, o := range r.Outcomes {
		counts[o.Result]++
	}
	return counts
}

// Failed returns the failed outcomes.
func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Result == ResultFailed {
			out = append(out, o)
		}
	}
	return out
}

// Outcome returns the outcome for id, if the pass covered it.
func (r *Report) Outcome(id string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.ID == id {
			return o, true
		}
	}
	return Outcome{}, false
}

// Duration is the wall time of the pass.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
