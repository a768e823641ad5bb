package harness

import (
	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/store"
)

// Observation is a trigger a reaction saw present when it ran.
type Observation struct {
	Reaction  string      `json:"reaction"`
	Trigger   string      `json:"trigger"`
	Elapsed   ir.Interval `json:"elapsed"`
	Microstep uint32      `json:"microstep"`
	Value     ir.IRValue  `json:"value"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every injection and assertion matched.
	Pass bool `json:"pass"`

	RunID string `json:"run_id"`

	// Trace is the run as recorded by the trace store.
	Trace store.Trace `json:"trace"`

	Observations []Observation `json:"observations"`

	// RunError is the runtime error code the run ended with, if any.
	RunError string `json:"run_error,omitempty"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:         true,
		Observations: []Observation{},
		Errors:       []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Stats returns the recorded run stats.
func (r *Result) Stats() ir.RunStats {
	return r.Trace.Run.Stats
}
