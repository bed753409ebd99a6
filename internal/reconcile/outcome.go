package reconcile

import (
	"fmt"
	"strings"
)

// Action tags the kind of Outcome.
type Action string

const (
	ActionUnchanged Action = "unchanged"
	ActionUpdated   Action = "updated"
	ActionCreated   Action = "created"
	ActionFailed    Action = "failed"
)

// Reasons reported when a write was accepted but not observably applied.
const (
	ReasonUpdateMismatch = "post-update verification mismatch"
	ReasonCreateMismatch = "post-create verification mismatch"
)

// Outcome is the result of reconciling one host.
type Outcome struct {
	Provider string   `json:"provider,omitempty"`
	Action   Action   `json:"action"`
	Name     string   `json:"name"`
	Value    string   `json:"value,omitempty"`
	Previous []string `json:"previous,omitempty"` // one entry per stale record rewritten
	Reason   string   `json:"reason,omitempty"`
	Err      error    `json:"-"`
}

// Unchanged reports a host whose record already held value.
func Unchanged(name, value string) Outcome {
	return Outcome{Action: ActionUnchanged, Name: name, Value: value}
}

// Updated reports a host whose stale records were rewritten to value. previous
// holds one old value per rewritten record.
func Updated(name, value string, previous ...string) Outcome {
	return Outcome{Action: ActionUpdated, Name: name, Value: value, Previous: previous}
}

// Created reports a host that had no record until this run.
func Created(name, value string) Outcome {
	return Outcome{Action: ActionCreated, Name: name, Value: value}
}

// Failed builds a failed outcome. err may be nil when the failure is a
// verification mismatch rather than an adapter error.
func Failed(name, reason string, err error) Outcome {
	return Outcome{Action: ActionFailed, Name: name, Reason: reason, Err: err}
}

// Failed reports whether o is a failure.
func (o Outcome) Failed() bool { return o.Action == ActionFailed }

// String renders the outcome in the progress-line format.
func (o Outcome) String() string {
	switch o.Action {
	case ActionUnchanged:
		return fmt.Sprintf("UNCHANGED %s %s", o.Name, o.Value)
	case ActionUpdated:
		return fmt.Sprintf("UPDATED %s %s -> %s", o.Name, strings.Join(o.Previous, ","), o.Value)
	case ActionCreated:
		return fmt.Sprintf("CREATED %s %s", o.Name, o.Value)
	default:
		return fmt.Sprintf("FAILED %s: %s", o.Name, o.Reason)
	}
}
