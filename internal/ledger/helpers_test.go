package ledger_test

import (
	"context"
	"sync"
	"testing"

	"ffqueue/internal/ledger"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
	"ffqueue/internal/queuesync"
	"ffqueue/internal/testsupport"
)

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(ms int64) {
	c.mu.Lock()
	c.now = ms
	c.mu.Unlock()
}

type sentSignal struct {
	token ledger.RunToken
	sig   ledger.Signal
}

type recordingSignaler struct {
	mu   sync.Mutex
	sent []sentSignal
}

func (r *recordingSignaler) Signal(token ledger.RunToken, sig ledger.Signal) {
	r.mu.Lock()
	r.sent = append(r.sent, sentSignal{token: token, sig: sig})
	r.mu.Unlock()
}

func (r *recordingSignaler) last() (sentSignal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return sentSignal{}, false
	}
	return r.sent[len(r.sent)-1], true
}

type fixture struct {
	ledger  *ledger.Ledger
	sync    *queuesync.Synchronizer
	store   *queue.Store
	clock   *fakeClock
	signals *recordingSignaler
	ctx     context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clock := &fakeClock{now: 1_000}
	syncer := queuesync.New(cfg.Sync.HistoryWindow, logging.NewNop())
	l := ledger.New(ledger.Options{
		Presets:      cfg,
		Store:        store,
		Journal:      syncer,
		Logger:       logging.NewNop(),
		LogHeadLines: cfg.Queue.LogHeadLines,
		LogTailBytes: cfg.Queue.LogTailBytes,
		Now:          clock.Now,
	})
	signals := &recordingSignaler{}
	l.SetSignaler(signals)
	return &fixture{ledger: l, sync: syncer, store: store, clock: clock, signals: signals, ctx: context.Background()}
}

func (f *fixture) enqueue(t *testing.T, input string) *queue.Job {
	t.Helper()
	job, err := f.ledger.Enqueue(f.ctx, ledger.Spec{InputPath: input, PresetID: "h264-crf23"})
	if err != nil {
		t.Fatalf("Enqueue(%s): %v", input, err)
	}
	return job
}

func (f *fixture) claim(t *testing.T) *ledger.Claim {
	t.Helper()
	claim, ok := f.ledger.ClaimNext(f.ctx, nil)
	if !ok {
		t.Fatal("expected a claimable job")
	}
	return claim
}

// pause drives a claimed run through wait, acknowledgement, and flush.
func (f *fixture) pause(t *testing.T, claim *ledger.Claim, segment string, endTarget float64) {
	t.Helper()
	if !f.ledger.Wait(f.ctx, claim.Token.JobID) {
		t.Fatalf("Wait(%s) rejected", claim.Token.JobID)
	}
	if !f.ledger.AcknowledgeStop(claim.Token) {
		t.Fatalf("AcknowledgeStop(%s) rejected", claim.Token.JobID)
	}
	if _, ok := f.ledger.ConfirmPaused(f.ctx, claim.Token, segment, endTarget); !ok {
		t.Fatalf("ConfirmPaused(%s) rejected", claim.Token.JobID)
	}
}

func (f *fixture) job(t *testing.T, id string) *queue.Job {
	t.Helper()
	job, ok := f.ledger.Get(id)
	if !ok {
		t.Fatalf("job %s not found", id)
	}
	if err := job.CheckInvariants(); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
	return job
}
