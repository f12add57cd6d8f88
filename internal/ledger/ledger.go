package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"ffqueue/internal/config"
	"ffqueue/internal/fileutil"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
)

// Persister durably records job state. queue.Store satisfies it.
type Persister interface {
	Save(ctx context.Context, job *queue.Job, position int64) error
	Delete(ctx context.Context, id string) error
}

// Journal observes every published change. Both methods are called with the
// ledger lock held, so implementations must not call back into the Ledger and
// must copy whatever they retain.
type Journal interface {
	Reset(rev uint64, jobs []*queue.Job)
	Record(rev uint64, changed []*queue.Job, removed []string)
}

// PresetCatalog resolves preset ids. *config.Config satisfies it.
type PresetCatalog interface {
	Preset(id string) (config.Preset, bool)
}

// Signal tells the worker what to do with an active run.
type Signal int

const (
	// SignalWait asks the run to stop at a safe point and flush its output.
	SignalWait Signal = iota + 1
	// SignalAbort asks the run to terminate; its output is discarded.
	SignalAbort
)

func (s Signal) String() string {
	switch s {
	case SignalWait:
		return "wait"
	case SignalAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Signaler receives stop requests for active runs. It is called outside the
// ledger lock.
type Signaler interface {
	Signal(token RunToken, sig Signal)
}

// RunToken identifies one encode attempt of one job.
type RunToken struct {
	JobID string
	Seq   uint64
}

type stopState int

const (
	stopNone stopState = iota
	// stopWaitPending: wait requested, worker has not acted yet. Resume may
	// still withdraw it.
	stopWaitPending
	// stopWaitInFlight: the encoder was told to stop and flush.
	stopWaitInFlight
)

type entry struct {
	job       *queue.Job
	pos       int64
	seq       uint64
	stop      stopState
	stopAuto  bool
	requeue   bool
	persisted int64
}

// Options configures a Ledger.
type Options struct {
	Presets PresetCatalog
	Store   Persister
	Journal Journal
	Logger  *slog.Logger

	LogHeadLines int
	LogTailBytes int
	// SegmentDir and SegmentExt name the partial output each run writes.
	SegmentDir string
	SegmentExt string
	// ProgressPersistInterval throttles durable writes caused by progress
	// ticks. Status changes are always persisted.
	ProgressPersistInterval time.Duration
	// Now overrides the clock, in epoch milliseconds.
	Now func() int64
}

// Ledger is the single writer of job records.
type Ledger struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    []string
	revision uint64
	nextID   uint64
	nextPos  int64

	presets      PresetCatalog
	store        Persister
	journal      Journal
	signaler     Signaler
	logger       *slog.Logger
	now          func() int64
	logHead      int
	logTail      int
	persistEvery int64
	segmentDir   string
	segmentExt   string
}

// New constructs an empty ledger at revision 0.
func New(opts Options) *Ledger {
	now := opts.Now
	if now == nil {
		now = queue.NowMs
	}
	segmentDir := opts.SegmentDir
	if segmentDir == "" {
		segmentDir = os.TempDir()
	}
	segmentExt := strings.TrimPrefix(opts.SegmentExt, ".")
	if segmentExt == "" {
		segmentExt = "mkv"
	}
	return &Ledger{
		entries:      make(map[string]*entry),
		nextID:       1,
		presets:      opts.Presets,
		store:        opts.Store,
		journal:      opts.Journal,
		logger:       logging.NewComponentLogger(opts.Logger, "ledger"),
		now:          now,
		logHead:      opts.LogHeadLines,
		logTail:      opts.LogTailBytes,
		persistEvery: opts.ProgressPersistInterval.Milliseconds(),
		segmentDir:   segmentDir,
		segmentExt:   segmentExt,
	}
}

// NewFromConfig wires a ledger with the queue settings from cfg.
func NewFromConfig(cfg *config.Config, store Persister, journal Journal, logger *slog.Logger) *Ledger {
	return New(Options{
		Presets:                 cfg,
		Store:                   store,
		Journal:                 journal,
		Logger:                  logger,
		LogHeadLines:            cfg.Queue.LogHeadLines,
		LogTailBytes:            cfg.Queue.LogTailBytes,
		ProgressPersistInterval: time.Duration(cfg.Queue.ProgressPersistIntervalMs) * time.Millisecond,
		SegmentDir:              cfg.Paths.SegmentDir,
		SegmentExt:              cfg.Encoder.SegmentContainer,
	})
}

// SetSignaler installs the worker's stop-signal receiver.
func (l *Ledger) SetSignaler(s Signaler) {
	l.mu.Lock()
	l.signaler = s
	l.mu.Unlock()
}

// Seed replaces the ledger contents with jobs loaded from storage, in the
// given order. positions carries each job's persisted ledger position; jobs
// without one are placed after the highest known position. Seeding publishes
// a new revision and resets observer history.
func (l *Ledger) Seed(jobs []*queue.Job, positions map[string]int64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]*entry, len(jobs))
	l.order = nil
	l.nextID = 1
	l.nextPos = 0
	for _, job := range jobs {
		if pos, ok := positions[job.ID]; ok && pos >= l.nextPos {
			l.nextPos = pos + 1
		}
	}

	seeded := make([]*queue.Job, 0, len(jobs))
	for _, job := range jobs {
		if job == nil || job.ID == "" {
			continue
		}
		if _, dup := l.entries[job.ID]; dup {
			continue
		}
		job = job.Clone()
		job.Status = job.Status.Normalize()
		pos, ok := positions[job.ID]
		if !ok {
			pos = l.nextPos
			l.nextPos++
		}
		l.entries[job.ID] = &entry{job: job, pos: pos, persisted: l.now()}
		l.order = append(l.order, job.ID)
		seeded = append(seeded, job)
		if n, ok := parseJobNumber(job.ID); ok && n >= l.nextID {
			l.nextID = n + 1
		}
	}

	l.revision++
	if l.journal != nil {
		l.journal.Reset(l.revision, seeded)
	}
	l.logger.Info("ledger seeded",
		logging.Int("jobs", len(seeded)),
		logging.Revision(l.revision),
	)
	return l.revision
}

// Revision returns the current snapshot revision.
func (l *Ledger) Revision() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.revision
}

// Get returns a copy of one job.
func (l *Ledger) Get(id string) (*queue.Job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return nil, false
	}
	return e.job.Clone(), true
}

// List returns copies of every job in ledger order.
func (l *Ledger) List() []*queue.Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*queue.Job, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.entries[id].job.Clone())
	}
	return out
}

// Counts returns the number of jobs per status.
func (l *Ledger) Counts() map[queue.Status]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[queue.Status]int, len(queue.AllStatuses))
	for _, e := range l.entries {
		counts[e.job.Status]++
	}
	return counts
}

// Queued returns copies of the schedulable jobs, lowest queue order first.
func (l *Ledger) Queued() []*queue.Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*queue.Job
	for _, e := range l.queuedLocked() {
		out = append(out, e.job.Clone())
	}
	return out
}

func (l *Ledger) queuedLocked() []*entry {
	var queued []*entry
	for _, id := range l.order {
		e := l.entries[id]
		if e.job.Status == queue.StatusQueued {
			queued = append(queued, e)
		}
	}
	sort.SliceStable(queued, func(i, j int) bool {
		return orderValue(queued[i].job) < orderValue(queued[j].job)
	})
	return queued
}

func orderValue(job *queue.Job) int {
	if job.QueueOrder == nil {
		return int(^uint(0) >> 1)
	}
	return *job.QueueOrder
}

func (l *Ledger) tailOrderLocked() int {
	next := 0
	for _, e := range l.entries {
		if e.job.Status == queue.StatusQueued && e.job.QueueOrder != nil && *e.job.QueueOrder >= next {
			next = *e.job.QueueOrder + 1
		}
	}
	return next
}

// txn collects the effects of one logical mutation.
type txn struct {
	changed   []string
	seen      map[string]struct{}
	removed   []string
	throttled bool
	signals   []pendingSignal
	cleanup   []pendingCleanup
}

type pendingSignal struct {
	token RunToken
	sig   Signal
}

type pendingCleanup struct {
	jobID string
	paths []string
}

func (t *txn) touch(id string) {
	if t.seen == nil {
		t.seen = make(map[string]struct{})
	}
	if _, ok := t.seen[id]; ok {
		return
	}
	t.seen[id] = struct{}{}
	t.changed = append(t.changed, id)
}

func (t *txn) signal(token RunToken, sig Signal) {
	t.signals = append(t.signals, pendingSignal{token: token, sig: sig})
}

func (t *txn) reclaim(jobID string, paths []string) {
	if len(paths) > 0 {
		t.cleanup = append(t.cleanup, pendingCleanup{jobID: jobID, paths: paths})
	}
}

// commitLocked persists and publishes the transaction. It bumps the revision
// only when something observable changed.
func (l *Ledger) commitLocked(ctx context.Context, tx *txn) {
	if len(tx.changed) == 0 && len(tx.removed) == 0 {
		return
	}
	now := l.now()
	changed := make([]*queue.Job, 0, len(tx.changed))
	for _, id := range tx.changed {
		e, ok := l.entries[id]
		if !ok {
			continue
		}
		changed = append(changed, e.job)
		if tx.throttled && now-e.persisted < l.persistEvery {
			continue
		}
		l.persistLocked(ctx, e, now)
	}
	for _, id := range tx.removed {
		if l.store == nil {
			continue
		}
		if err := l.store.Delete(ctx, id); err != nil {
			logging.WarnWithContext(l.logger, "failed to delete job record", "persist_failed",
				logging.JobID(id),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database permissions and disk space"),
				logging.String(logging.FieldImpact, "the job may reappear after restart"),
			)
		}
	}
	l.revision++
	if l.journal != nil {
		l.journal.Record(l.revision, changed, tx.removed)
	}
}

func (l *Ledger) persistLocked(ctx context.Context, e *entry, now int64) {
	e.persisted = now
	if l.store == nil {
		return
	}
	if err := l.store.Save(ctx, e.job, e.pos); err != nil {
		logging.WarnWithContext(l.logger, "failed to persist job", "persist_failed",
			logging.JobID(e.job.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database permissions and disk space"),
			logging.String(logging.FieldImpact, "job state may be stale after restart"),
		)
	}
}

// apply runs side effects collected by a committed transaction.
func (l *Ledger) apply(tx *txn) {
	if len(tx.signals) > 0 {
		l.mu.Lock()
		signaler := l.signaler
		l.mu.Unlock()
		if signaler != nil {
			for _, s := range tx.signals {
				signaler.Signal(s.token, s.sig)
			}
		}
	}
	for _, c := range tx.cleanup {
		for _, failure := range fileutil.RemoveBestEffort(c.paths...) {
			logging.WarnWithContext(l.logger, "failed to remove job artifact", "cleanup_failed",
				logging.JobID(c.jobID),
				logging.String("path", failure.Path),
				logging.Error(failure.Err),
				logging.String(logging.FieldErrorHint, "remove the file manually"),
				logging.String(logging.FieldImpact, "disk space is not reclaimed"),
			)
		}
	}
}

// mutate runs fn under the lock, commits, and applies side effects.
func (l *Ledger) mutate(ctx context.Context, fn func(tx *txn)) {
	tx := &txn{}
	l.mu.Lock()
	fn(tx)
	l.commitLocked(ctx, tx)
	l.mu.Unlock()
	l.apply(tx)
}

func (l *Ledger) appendLogLocked(job *queue.Job, line string) {
	job.AppendLog(line, l.logHead, l.logTail)
}

func artifactPaths(job *queue.Job) []string {
	paths := job.Wait.SegmentPaths()
	if job.Wait != nil && job.Wait.TmpOutputPath != "" {
		paths = append(paths, job.Wait.TmpOutputPath)
	}
	if n := len(job.Runs); n > 0 && job.Runs[n-1].Segment != "" {
		paths = append(paths, job.Runs[n-1].Segment)
	}
	if job.OutputPath != "" {
		paths = append(paths, queue.ConcatListPath(job.OutputPath))
	}
	return paths
}

func parseJobNumber(id string) (uint64, bool) {
	rest, ok := strings.CutPrefix(id, "job-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func formatJobID(n uint64) string {
	return fmt.Sprintf("job-%d", n)
}

func (l *Ledger) segmentPath(jobID string, startedMs int64) string {
	return filepath.Join(l.segmentDir, fmt.Sprintf("%s-r%d.%s", jobID, startedMs, l.segmentExt))
}
