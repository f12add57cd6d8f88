package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"ffqueue/internal/api"
	"ffqueue/internal/ipc"
	"ffqueue/internal/queuesync"
	"ffqueue/internal/testsupport"
)

func TestQueueWatcherFollowsDeltas(t *testing.T) {
	env := setupCLITestEnv(t)
	client, err := ipc.Dial(env.socketPath)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	var out bytes.Buffer
	w := &queueWatcher{client: client, mirror: queuesync.NewMirror(), out: &out}
	if err := w.resync(); err != nil {
		t.Fatalf("resync: %v", err)
	}
	requireContains(t, out.String(), "0 job(s)")

	input := filepath.Join(testsupport.BaseDir(env.cfg), "clip.mov")
	testsupport.WriteFile(t, input, 64)
	if _, err := client.Enqueue(api.EnqueueRequest{InputPath: input, PresetID: "h264-crf23"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	changed, err := w.poll()
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !changed {
		t.Fatal("poll reported no change after enqueue")
	}
	requireContains(t, out.String(), "job-1")
	if _, ok := w.mirror.Job("job-1"); !ok {
		t.Fatal("mirror missing job-1")
	}

	if _, err := client.Action(api.ActionCancel, "job-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := w.poll(); err != nil {
		t.Fatalf("poll: %v", err)
	}
	job, _ := w.mirror.Job("job-1")
	if job.Status != "cancelled" {
		t.Fatalf("mirrored status = %s, want cancelled", job.Status)
	}
}
