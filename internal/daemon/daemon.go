package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"ffqueue/internal/api"
	"ffqueue/internal/config"
	"ffqueue/internal/deps"
	"ffqueue/internal/encoding"
	"ffqueue/internal/ledger"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
	"ffqueue/internal/queuesync"
	"ffqueue/internal/recovery"
	"ffqueue/internal/workflow"
)

// Daemon owns the queue for one process and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	sync     *queuesync.Synchronizer
	ledger   *ledger.Ledger
	workflow *workflow.Manager
	service  *api.QueueService
	metrics  *Metrics
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	session string
	deps    []deps.Status
	running atomic.Bool
}

// New constructs a daemon with initialized dependencies. Nothing runs until
// Start.
func New(cfg *config.Config, store *queue.Store, enc encoding.Encoder, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || enc == nil {
		return nil, errors.New("daemon requires config, store, and encoder")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	syncer := queuesync.New(cfg.Sync.HistoryWindow, logger)
	l := ledger.NewFromConfig(cfg, store, syncer, logger)
	metrics := NewMetrics()
	mgr := workflow.NewManager(cfg, l, enc, logger,
		workflow.WithChangeWaiter(syncer),
		workflow.WithObserver(metrics),
	)

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		sync:     syncer,
		ledger:   l,
		workflow: mgr,
		service:  api.NewQueueService(l, syncer),
		metrics:  metrics,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, recovers persisted state, computes the
// startup hint, and launches dispatch and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another ffqueue daemon instance is already running")
	}

	startup, err := d.recover(ctx)
	if err != nil {
		d.unlock()
		return err
	}
	d.service.SetStartup(startup)
	checked := deps.CheckEncoder(ctx, d.cfg)
	d.mu.Lock()
	d.session = startup.Session()
	d.deps = checked
	d.mu.Unlock()

	if err := d.workflow.Start(ctx); err != nil {
		d.unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(); err != nil {
		d.workflow.Stop()
		d.unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("ffqueue daemon started",
		logging.String("lock", d.lockPath),
		logging.String("session", startup.Session()),
		logging.Revision(d.ledger.Revision()),
	)
	return nil
}

// recover loads persisted jobs into the ledger and records the startup hint.
func (d *Daemon) recover(ctx context.Context) (*recovery.Startup, error) {
	markerPath := d.cfg.ShutdownMarkerPath()
	marker, err := recovery.ConsumeMarker(markerPath)
	if err != nil {
		// The file is gone or unusable either way; treat the start as unclean.
		logging.WarnWithContext(d.logger, "shutdown marker unreadable", "marker_unreadable",
			logging.Error(err),
			logging.String("path", markerPath),
			logging.String(logging.FieldImpact, "previous stop is treated as a crash"),
		)
		marker = nil
	}

	res := recovery.NewLoaderFromConfig(d.cfg, d.store, d.logger).Load(ctx)
	rev := d.ledger.Seed(res.Jobs, res.Positions)
	kind := recovery.Classify(marker, len(res.Recovered))
	d.logger.Info("queue recovered",
		logging.Int("jobs", len(res.Jobs)),
		logging.Int("recovered", len(res.Recovered)),
		logging.Bool("clean_stop", marker != nil),
		logging.Revision(rev),
	)

	startup, err := recovery.NewStartup(ctx, d.store, d.ledger, kind, d.logger)
	if err != nil {
		return nil, fmt.Errorf("record startup hint: %w", err)
	}
	return startup, nil
}

// Stop pauses in-flight encodes, waits for them to flush, records a clean
// shutdown, and releases the daemon lock. It returns the ids of the jobs
// that were paused.
func (d *Daemon) Stop() []string {
	if !d.running.Load() {
		return nil
	}

	d.api.stop()
	paused := d.workflow.Shutdown(context.Background())

	d.mu.Lock()
	session := d.session
	d.mu.Unlock()
	marker := recovery.Marker{StoppedAtMs: time.Now().UnixMilli(), PausedJobs: paused, Session: session}
	if err := recovery.WriteMarker(d.cfg.ShutdownMarkerPath(), marker); err != nil {
		logging.WarnWithContext(d.logger, "failed to write shutdown marker", "marker_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next start reports a crash instead of a clean stop"),
		)
	}

	d.unlock()
	d.running.Store(false)
	d.logger.Info("ffqueue daemon stopped", logging.Int("paused_jobs", len(paused)))
	return paused
}

func (d *Daemon) unlock() {
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String("lock", d.lockPath),
		)
	}
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Service returns the queue boundary shared by the HTTP API and IPC.
func (d *Daemon) Service() *api.QueueService {
	return d.service
}

// APIAddr returns the HTTP listener address, or "" when the API is disabled
// or not started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status() api.DaemonStatus {
	d.mu.Lock()
	session := d.session
	checked := append([]deps.Status(nil), d.deps...)
	d.mu.Unlock()
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Session:      session,
		Revision:     d.sync.Revision(),
		Counts:       api.StatusCounts(d.ledger.Counts()),
		Workflow:     d.workflow.Status(),
		QueueDBPath:  d.cfg.QueueDBPath(),
		LockFilePath: d.lockPath,
		Dependencies: checked,
	}
}
