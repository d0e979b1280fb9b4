package webhook

import (
	"encoding/json"
	"fmt"
)

// Status represents the current state of a webhook delivery.
// Follows the lifecycle: Pending -> InProgress -> Delivered/Failed, with
// Retrying as an intermediate state while a delayed retry is pending.
type Status int

const (
	Pending Status = iota + 1
	InProgress
	Retrying
	Delivered
	Failed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case InProgress:
		return "in_progress"
	case Retrying:
		return "retrying"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// NewStatus creates a Status from its string representation.
func NewStatus(str string) Status {
	switch str {
	case "pending":
		return Pending
	case "in_progress":
		return InProgress
	case "retrying":
		return Retrying
	case "delivered":
		return Delivered
	case "failed":
		return Failed
	default:
		return Pending
	}
}

// Validate checks if the status is one of the known values.
func (s Status) Validate() error {
	if s < Pending || s > Failed {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}

// IsTerminal returns true if the status is a terminal state. Terminal
// statuses never transition again.
func (s Status) IsTerminal() bool {
	return s == Delivered || s == Failed
}

// legalTransitions enumerates the allowed state-machine edges. Any
// transition not present here is rejected by the lifecycle manager.
var legalTransitions = map[Status]map[Status]bool{
	Pending:    {InProgress: true, Failed: true},
	InProgress: {Delivered: true, Retrying: true, Failed: true},
	Retrying:   {InProgress: true, Failed: true},
	Delivered:  {},
	Failed:     {},
}

// CanTransition reports whether moving from s to next is a legal edge in
// the webhook delivery state machine (spec: rejects illegal transitions
// such as delivered -> retrying).
func (s Status) CanTransition(next Status) bool {
	edges, ok := legalTransitions[s]
	if !ok {
		return false
	}
	return edges[next]
}

// MarshalJSON encodes the status as its lowercase string form, the wire
// representation used by webhook-status JSON records.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status from its string form.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = NewStatus(str)
	return nil
}
