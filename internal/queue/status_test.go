package queue_test

import (
	"testing"

	"ffqueue/internal/queue"
)

func TestParseStatusNormalizesLegacyWaiting(t *testing.T) {
	status, err := queue.ParseStatus(" Waiting ")
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	if status != queue.StatusQueued {
		t.Fatalf("expected waiting to normalize to queued, got %q", status)
	}
	if _, err := queue.ParseStatus("review"); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from   queue.Status
		action queue.Action
		to     queue.Status
		ok     bool
	}{
		{queue.StatusQueued, queue.ActionClaim, queue.StatusProcessing, true},
		{queue.StatusWaiting, queue.ActionClaim, queue.StatusProcessing, true},
		{queue.StatusQueued, queue.ActionWait, queue.StatusQueued, false},
		{queue.StatusQueued, queue.ActionResume, queue.StatusQueued, false},
		{queue.StatusQueued, queue.ActionCancel, queue.StatusCancelled, true},
		{queue.StatusQueued, queue.ActionDelete, queue.StatusQueued, false},
		{queue.StatusProcessing, queue.ActionWait, queue.StatusPaused, true},
		{queue.StatusProcessing, queue.ActionResume, queue.StatusProcessing, true},
		{queue.StatusProcessing, queue.ActionCancel, queue.StatusCancelled, true},
		{queue.StatusProcessing, queue.ActionComplete, queue.StatusCompleted, true},
		{queue.StatusPaused, queue.ActionResume, queue.StatusQueued, true},
		{queue.StatusPaused, queue.ActionWait, queue.StatusPaused, false},
		{queue.StatusPaused, queue.ActionCancel, queue.StatusCancelled, true},
		{queue.StatusPaused, queue.ActionRestart, queue.StatusQueued, true},
		{queue.StatusFailed, queue.ActionRestart, queue.StatusQueued, true},
		{queue.StatusCancelled, queue.ActionRestart, queue.StatusQueued, true},
		{queue.StatusCancelled, queue.ActionCancel, queue.StatusCancelled, false},
		{queue.StatusCompleted, queue.ActionRestart, queue.StatusCompleted, false},
		{queue.StatusSkipped, queue.ActionRestart, queue.StatusSkipped, false},
		{queue.StatusCompleted, queue.ActionDelete, queue.StatusCompleted, true},
		{queue.StatusFailed, queue.ActionDelete, queue.StatusFailed, true},
	}
	for _, tc := range cases {
		to, ok := queue.Transition(tc.from, tc.action)
		if ok != tc.ok || (ok && to != tc.to) {
			t.Fatalf("Transition(%s, %s) = (%s, %v), want (%s, %v)", tc.from, tc.action, to, ok, tc.to, tc.ok)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := map[queue.Status]bool{
		queue.StatusCompleted: true,
		queue.StatusFailed:    true,
		queue.StatusSkipped:   true,
		queue.StatusCancelled: true,
	}
	for _, status := range queue.AllStatuses {
		if status.IsTerminal() != terminal[status] {
			t.Fatalf("IsTerminal(%s) = %v", status, status.IsTerminal())
		}
	}
}
