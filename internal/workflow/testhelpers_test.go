package workflow_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"ffqueue/internal/config"
	"ffqueue/internal/encoding"
	"ffqueue/internal/ledger"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
	"ffqueue/internal/queuesync"
	"ffqueue/internal/testsupport"
	"ffqueue/internal/workflow"
)

// fakeEncoder hands every started run to the test through runs.
type fakeEncoder struct {
	mu       sync.Mutex
	runs     chan *fakeRun
	duration float64
	// joinedDuration is what probing a joined output reports; zero means
	// the source duration.
	joinedDuration float64
	startErr       error
	joinErr        error
	// ignoreStop makes runs disregard RequestStop, as a wedged encoder would.
	ignoreStop bool
	joins      []queue.ConcatPlan
}

func newFakeEncoder(duration float64) *fakeEncoder {
	return &fakeEncoder{runs: make(chan *fakeRun, 16), duration: duration}
}

func (e *fakeEncoder) Start(_ context.Context, req encoding.Request, events encoding.Events) (encoding.Handle, error) {
	e.mu.Lock()
	err, ignoreStop := e.startErr, e.ignoreStop
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(req.OutputPath, []byte("partial"), 0o644); err != nil {
		return nil, err
	}
	run := &fakeRun{req: req, events: events, done: make(chan struct{}), ignoreStop: ignoreStop}
	e.runs <- run
	return run, nil
}

func (e *fakeEncoder) Join(_ context.Context, plan queue.ConcatPlan, target string) error {
	e.mu.Lock()
	e.joins = append(e.joins, plan)
	err := e.joinErr
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(target, []byte("joined"), 0o644)
}

func (e *fakeEncoder) ProbeDuration(_ context.Context, path string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.joinedDuration > 0 && len(e.joins) > 0 {
		return e.joinedDuration, nil
	}
	return e.duration, nil
}

func (e *fakeEncoder) lastJoin(t *testing.T) queue.ConcatPlan {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.joins) == 0 {
		t.Fatal("no join recorded")
	}
	return e.joins[len(e.joins)-1]
}

type fakeRun struct {
	req        encoding.Request
	events     encoding.Events
	ignoreStop bool

	mu     sync.Mutex
	last   encoding.Progress
	result encoding.Result
	// terminatedWith is the grace passed to Terminate; zero when the run
	// was never terminated.
	terminatedWith time.Duration
	once   sync.Once
	done   chan struct{}
}

func (r *fakeRun) progress(seconds float64) {
	p := encoding.Progress{TimelineSeconds: seconds, Frame: uint64(seconds * 24), Speed: 2}
	r.mu.Lock()
	r.last = p
	r.mu.Unlock()
	if r.events.OnProgress != nil {
		r.events.OnProgress(p)
	}
	if r.events.OnLog != nil {
		r.events.OnLog("frame progress")
	}
}

func (r *fakeRun) finish(res encoding.Result) {
	r.once.Do(func() {
		r.mu.Lock()
		res.LastProgress = r.last
		r.result = res
		r.mu.Unlock()
		close(r.done)
	})
}

func (r *fakeRun) succeed() { r.finish(encoding.Result{}) }

func (r *fakeRun) RequestStop() error {
	if !r.ignoreStop {
		r.finish(encoding.Result{Stopped: true})
	}
	return nil
}

func (r *fakeRun) Abort() { r.finish(encoding.Result{Aborted: true}) }

func (r *fakeRun) Terminate(grace time.Duration) {
	r.mu.Lock()
	r.terminatedWith = grace
	r.mu.Unlock()
	r.finish(encoding.Result{Aborted: true})
}

func (r *fakeRun) terminateGrace() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminatedWith
}

func (r *fakeRun) Wait() encoding.Result {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

type harness struct {
	cfg     *config.Config
	ledger  *ledger.Ledger
	sync    *queuesync.Synchronizer
	encoder *fakeEncoder
	mgr     *workflow.Manager
	ctx     context.Context
	dir     string
}

func newHarness(t *testing.T, cfgOpts []testsupport.ConfigOption, opts ...workflow.ManagerOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, cfgOpts...)
	store := testsupport.MustOpenStore(t, cfg)
	syncer := queuesync.New(cfg.Sync.HistoryWindow, logging.NewNop())
	l := ledger.NewFromConfig(cfg, store, syncer, logging.NewNop())
	enc := newFakeEncoder(100)
	opts = append([]workflow.ManagerOption{workflow.WithChangeWaiter(syncer)}, opts...)
	mgr := workflow.NewManager(cfg, l, enc, logging.NewNop(), opts...)
	return &harness{
		cfg:     cfg,
		ledger:  l,
		sync:    syncer,
		encoder: enc,
		mgr:     mgr,
		ctx:     context.Background(),
		dir:     testsupport.BaseDir(cfg),
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.mgr.Start(h.ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(h.mgr.Stop)
}

func (h *harness) enqueue(t *testing.T, name, preset string) *queue.Job {
	t.Helper()
	input := h.dir + "/" + name + ".mov"
	testsupport.WriteFile(t, input, 16)
	job, err := h.ledger.Enqueue(h.ctx, ledger.Spec{
		InputPath:  input,
		PresetID:   preset,
		OutputPath: h.dir + "/out/" + name + ".mkv",
	})
	if err != nil {
		t.Fatalf("Enqueue(%s): %v", name, err)
	}
	if err := os.MkdirAll(h.dir+"/out", 0o755); err != nil {
		t.Fatalf("mkdir out: %v", err)
	}
	return job
}

func (h *harness) nextRun(t *testing.T) *fakeRun {
	t.Helper()
	select {
	case run := <-h.encoder.runs:
		return run
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an encode to start")
		return nil
	}
}

func (h *harness) noRun(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case run := <-h.encoder.runs:
		t.Fatalf("unexpected encode started for %s", run.req.JobID)
	case <-time.After(wait):
	}
}

func (h *harness) waitStatus(t *testing.T, id string, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		job, ok := h.ledger.Get(id)
		if ok && job.Status == want {
			if err := job.CheckInvariants(); err != nil {
				t.Fatalf("invariant violated: %v", err)
			}
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s to become %s (last %+v)", id, want, job)
			return nil
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for len(h.mgr.Status().ActiveIDs) > 0 {
		select {
		case <-deadline:
			t.Fatalf("slots still held: %v", h.mgr.Status().ActiveIDs)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *countingObserver) EncodeFinished(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string]int)
	}
	o.outcomes[outcome]++
}

func (o *countingObserver) count(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[outcome]
}
