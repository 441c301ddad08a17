package harness

import (
	"github.com/roach88/liveq/internal/ir"
	"github.com/roach88/liveq/internal/session"
)

// Trace entry types.
const (
	EntryReply       = "reply"
	EntryNext        = "next"
	EntryUnsubscribe = "unsubscribe"
	EntryClosed      = "closed"
	EntryOpen        = "open"
)

// TraceEntry is one observable outcome of a scenario.
//
// Replies appear in step order. Pushed results appear where an await step
// consumed them, so the events of each session keep their FIFO order and the
// trace does not depend on how sessions interleave. The trace ends with one
// "open" entry per session still registered.
type TraceEntry struct {
	Step         int         `json:"step"`
	Type         string      `json:"type"`
	Operation    string      `json:"operation,omitempty"`
	Subscription string      `json:"subscription,omitempty"`
	Key          session.Key `json:"key,omitempty"`
	// Payload is the immediate result or pushed result. Nil for a pending
	// reply, and for an immediate reply without a result (Empty).
	Payload ir.IRValue `json:"payload,omitempty"`
	Empty   bool       `json:"empty,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEntry `json:"trace"`

	// Errors describes each failed expectation. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Open lists the labels of sessions still registered at the end.
	Open []string `json:"open"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Errors: []string{},
		Open:   []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(e TraceEntry) {
	r.Trace = append(r.Trace, e)
}

// EntriesFor returns the trace entries of one type for a session label.
func (r *Result) EntriesFor(entryType, label string) []TraceEntry {
	var out []TraceEntry
	for _, e := range r.Trace {
		if e.Type == entryType && e.Subscription == label {
			out = append(out, e)
		}
	}
	return out
}
