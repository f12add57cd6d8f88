package queue

import (
	"fmt"
	"strings"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusWaiting is a legacy spelling of StatusQueued accepted on input only.
	StatusWaiting    Status = "waiting"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusCancelled  Status = "cancelled"
)

// AllStatuses lists the canonical statuses in lifecycle order.
var AllStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusPaused,
	StatusCompleted,
	StatusFailed,
	StatusSkipped,
	StatusCancelled,
}

// ParseStatus converts a stored or user-supplied value into a canonical status.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(value))).Normalize()
	switch status {
	case StatusQueued, StatusProcessing, StatusPaused,
		StatusCompleted, StatusFailed, StatusSkipped, StatusCancelled:
		return status, nil
	}
	return "", fmt.Errorf("unknown job status %q", value)
}

// Normalize canonicalizes legacy statuses.
func (s Status) Normalize() Status {
	if s == StatusWaiting {
		return StatusQueued
	}
	return s
}

// IsTerminal reports whether the job has reached a final state.
func (s Status) IsTerminal() bool {
	switch s.Normalize() {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	default:
		return false
	}
}

// Action names an operation that may change a job's status.
type Action string

const (
	ActionClaim    Action = "claim"
	ActionWait     Action = "wait"
	ActionResume   Action = "resume"
	ActionRestart  Action = "restart"
	ActionCancel   Action = "cancel"
	ActionDelete   Action = "delete"
	ActionComplete Action = "complete"
	ActionFail     Action = "fail"
	ActionSkip     Action = "skip"
)

// Transition returns the status a job in from moves to when action is
// applied, and whether the action is legal at all. ActionDelete keeps the
// status because the record is removed. ActionWait on a processing job
// reports StatusPaused even though the ledger only finalizes the pause once
// the encoder confirms a clean stop.
func Transition(from Status, action Action) (Status, bool) {
	switch from.Normalize() {
	case StatusQueued:
		switch action {
		case ActionClaim:
			return StatusProcessing, true
		case ActionCancel:
			return StatusCancelled, true
		case ActionRestart:
			return StatusQueued, true
		case ActionFail:
			return StatusFailed, true
		case ActionSkip:
			return StatusSkipped, true
		}
	case StatusProcessing:
		switch action {
		case ActionWait:
			return StatusPaused, true
		case ActionResume:
			// Withdraws a wait request that has not been confirmed yet.
			return StatusProcessing, true
		case ActionComplete:
			return StatusCompleted, true
		case ActionFail:
			return StatusFailed, true
		case ActionCancel:
			return StatusCancelled, true
		case ActionRestart:
			return StatusQueued, true
		case ActionSkip:
			return StatusSkipped, true
		}
	case StatusPaused:
		switch action {
		case ActionResume, ActionRestart:
			return StatusQueued, true
		case ActionCancel:
			return StatusCancelled, true
		case ActionFail:
			return StatusFailed, true
		}
	case StatusFailed, StatusCancelled:
		switch action {
		case ActionRestart:
			return StatusQueued, true
		case ActionDelete:
			return from, true
		}
	case StatusCompleted, StatusSkipped:
		if action == ActionDelete {
			return from, true
		}
	}
	return from, false
}
