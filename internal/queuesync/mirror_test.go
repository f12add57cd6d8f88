package queuesync_test

import (
	"errors"
	"testing"

	"ffqueue/internal/queue"
	"ffqueue/internal/queuesync"
)

func TestMirrorRejectsBaseMismatch(t *testing.T) {
	mirror := queuesync.NewMirror()
	if err := mirror.ApplyDelta(&queuesync.Delta{BaseRevision: 0, Revision: 1}); !errors.Is(err, queuesync.ErrResyncRequired) {
		t.Fatalf("unloaded mirror must require resync, got %v", err)
	}

	mirror.ApplySnapshot(queuesync.Snapshot{Revision: 4, Jobs: []queuesync.JobLite{{ID: "job-1", Status: queue.StatusQueued}}})
	if err := mirror.ApplyDelta(&queuesync.Delta{BaseRevision: 3, Revision: 5}); !errors.Is(err, queuesync.ErrResyncRequired) {
		t.Fatalf("expected base mismatch to require resync, got %v", err)
	}
	if err := mirror.ApplyDelta(nil); !errors.Is(err, queuesync.ErrResyncRequired) {
		t.Fatalf("nil delta must require resync, got %v", err)
	}
	if mirror.Revision() != 4 {
		t.Fatalf("rejected deltas must not move the mirror, got %d", mirror.Revision())
	}

	status := queue.StatusProcessing
	delta := &queuesync.Delta{
		BaseRevision: 4,
		Revision:     5,
		Patches:      []queuesync.JobPatch{{ID: "job-1", Status: &status, Cleared: []string{queuesync.FieldQueueOrder}}},
	}
	if err := mirror.ApplyDelta(delta); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	job, _ := mirror.Job("job-1")
	if job.Status != queue.StatusProcessing || job.QueueOrder != nil {
		t.Fatalf("unexpected mirrored job %+v", job)
	}
}

func TestMirrorDiscardsOlderSnapshot(t *testing.T) {
	mirror := queuesync.NewMirror()
	mirror.ApplySnapshot(queuesync.Snapshot{Revision: 9})
	if mirror.ApplySnapshot(queuesync.Snapshot{Revision: 3}) {
		t.Fatal("older snapshot should be discarded")
	}
	mirror.Invalidate()
	if !mirror.ApplySnapshot(queuesync.Snapshot{Revision: 1}) {
		t.Fatal("snapshot after invalidate should be accepted")
	}
}

func TestMirrorRejectsPatchForUnknownJob(t *testing.T) {
	mirror := queuesync.NewMirror()
	mirror.ApplySnapshot(queuesync.Snapshot{Revision: 1})
	progress := 5.0
	err := mirror.ApplyDelta(&queuesync.Delta{
		BaseRevision: 1,
		Revision:     2,
		Patches:      []queuesync.JobPatch{{ID: "job-9", Progress: &progress}},
	})
	if !errors.Is(err, queuesync.ErrResyncRequired) {
		t.Fatalf("expected resync for unknown job, got %v", err)
	}
}

func TestDiffAndApplyRoundTrip(t *testing.T) {
	order := 3
	end := int64(99)
	prev := queuesync.JobLite{ID: "job-1", Status: queue.StatusQueued, QueueOrder: &order}
	next := queuesync.JobLite{
		ID:       "job-1",
		Status:   queue.StatusFailed,
		EndTime:  &end,
		Failure:  &queue.Failure{Kind: queue.FailureMissingEncoder, Component: "libsvtav1", Reason: "Unknown encoder"},
		Warnings: []queue.Warning{{Code: queue.WarnSegmentMissing, Message: "gone"}},
	}
	patch := queuesync.Diff(prev, next)
	if patch.Empty() {
		t.Fatal("expected non-empty patch")
	}
	patch.Apply(&prev)
	if mustJSON(t, prev) != mustJSON(t, next) {
		t.Fatalf("patched job differs\n got: %s\nwant: %s", mustJSON(t, prev), mustJSON(t, next))
	}
	if !queuesync.Diff(next, next).Empty() {
		t.Fatal("diff of identical jobs should be empty")
	}
}
