package model

import "fmt"

// Status is the projected lifecycle state of a work unit.
type Status string

const (
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

var terminalStatuses = map[Status]bool{
	StatusDone: true,
}

// WU lifecycle transitions: ready ↔ in_progress → done.
// done is terminal; a completed WU never re-enters the backlog.
var validTransitions = map[Status]map[Status]bool{
	StatusReady: {
		StatusInProgress: true,
	},
	StatusInProgress: {
		StatusReady: true, // release → back to ready
		StatusDone:  true,
	},
}

// IsTerminal reports whether s is a terminal status.
func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

// IsValidStatus reports whether s is a known status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusReady, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// ValidateTransition checks that from → to is an allowed lifecycle transition.
// Replaying the same event twice must be a no-op, so self-transitions pass.
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if validTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("invalid status transition: %s → %s", from, to)
}
