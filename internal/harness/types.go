package harness

import "github.com/roach88/gunrelay/internal/graph"

// TraceEvent is one publication seen on the hub, inbound traffic
// included. Seq starts at 1.
type TraceEvent struct {
	Seq     int           `json:"seq"`
	Channel string        `json:"channel"`
	Message graph.Message `json:"message"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace is every publication in hub order.
	Trace []TraceEvent `json:"trace"`

	// Things maps each setup thing's ref to its computed id.
	Things map[string]string `json:"things,omitempty"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Published returns the trace events on channel, in order.
func (r *Result) Published(channel string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Channel == channel {
			out = append(out, ev)
		}
	}
	return out
}
