package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ffqueue/internal/api"
	"ffqueue/internal/daemon"
	"ffqueue/internal/encoding"
	"ffqueue/internal/ipc"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
	"ffqueue/internal/testsupport"
)

type blockingEncoder struct {
	started chan string
}

func (e *blockingEncoder) Start(_ context.Context, req encoding.Request, _ encoding.Events) (encoding.Handle, error) {
	if err := os.WriteFile(req.OutputPath, []byte("partial"), 0o644); err != nil {
		return nil, err
	}
	e.started <- req.JobID
	return &blockingHandle{done: make(chan struct{})}, nil
}

func (e *blockingEncoder) Join(context.Context, queue.ConcatPlan, string) error { return nil }

func (e *blockingEncoder) ProbeDuration(context.Context, string) (float64, error) { return 60, nil }

type blockingHandle struct {
	once   sync.Once
	done   chan struct{}
	result encoding.Result
}

func (h *blockingHandle) end(res encoding.Result) {
	h.once.Do(func() {
		h.result = res
		close(h.done)
	})
}

func (h *blockingHandle) RequestStop() error {
	h.end(encoding.Result{Stopped: true, LastProgress: encoding.Progress{TimelineSeconds: 20}})
	return nil
}

func (h *blockingHandle) Abort() { h.end(encoding.Result{Aborted: true}) }

func (h *blockingHandle) Terminate(time.Duration) { h.Abort() }

func (h *blockingHandle) Wait() encoding.Result {
	<-h.done
	return h.result
}

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	enc := &blockingEncoder{started: make(chan string, 4)}
	d, err := daemon.New(cfg, store, enc, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	shutdown := make(chan struct{})
	var once sync.Once
	socket := filepath.Join(cfg.Paths.DataDir, "test.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger, ipc.WithShutdown(func() { once.Do(func() { close(shutdown) }) }))
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	input := filepath.Join(testsupport.BaseDir(cfg), "clip.mov")
	testsupport.WriteFile(t, input, 64)
	created, err := client.Enqueue(api.EnqueueRequest{InputPath: input, PresetID: "h264-crf23"})
	if err != nil {
		t.Fatalf("Enqueue RPC failed: %v", err)
	}
	id := created.Job.ID

	if _, err := client.Enqueue(api.EnqueueRequest{InputPath: input, PresetID: "missing"}); err == nil {
		t.Fatal("enqueue with unknown preset succeeded")
	}
	if _, err := client.Job("job-404"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("Job(missing) error = %v", err)
	}

	snap, err := client.State([]string{"queued"})
	if err != nil {
		t.Fatalf("State RPC failed: %v", err)
	}
	if len(snap.Jobs) != 1 || snap.Jobs[0].ID != id {
		t.Fatalf("queued snapshot = %+v", snap.Jobs)
	}
	if _, err := client.State([]string{"bogus"}); err == nil {
		t.Fatal("State accepted an unknown status")
	}

	// Wait only applies to processing jobs.
	bulk, err := client.Bulk(api.ActionWait, []string{id, "job-404"})
	if err != nil {
		t.Fatalf("Bulk RPC failed: %v", err)
	}
	if bulk.OK || len(bulk.Rejected) != 2 {
		t.Fatalf("bulk = %+v", bulk)
	}

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}
	select {
	case got := <-enc.started:
		if got != id {
			t.Fatalf("started %s, want %s", got, id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job was never dispatched")
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running || status.PID != os.Getpid() {
		t.Fatalf("status = %+v", status)
	}

	rev := snap.Revision
	action, err := client.Action(api.ActionWait, id)
	if err != nil || !action.OK {
		t.Fatalf("wait = %+v, %v", action, err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := client.Job(id)
		if err != nil {
			t.Fatalf("Job RPC failed: %v", err)
		}
		if job.Status == queue.StatusPaused {
			if len(job.Segments) != 1 {
				t.Fatalf("paused job segments = %v", job.Segments)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job status = %s, want paused", job.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	changes, err := client.Changes(rev, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Changes RPC failed: %v", err)
	}
	if changes.Delta == nil && changes.Snapshot == nil {
		t.Fatal("changes carried neither delta nor snapshot")
	}

	hint, err := client.StartupHint()
	if err != nil {
		t.Fatalf("StartupHint RPC failed: %v", err)
	}
	if hint.Hint != nil {
		t.Fatalf("fresh start offered a hint: %+v", hint.Hint)
	}

	stopResp, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop RPC failed: %v", err)
	}
	if !stopResp.Stopped || stopResp.PausedJobs != 0 {
		t.Fatalf("stop = %+v", stopResp)
	}
	select {
	case <-shutdown:
	case <-time.After(time.Second):
		t.Fatal("shutdown hook not called")
	}

	status, err = client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}
