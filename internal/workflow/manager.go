package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ffqueue/internal/config"
	"ffqueue/internal/encoding"
	"ffqueue/internal/ledger"
	"ffqueue/internal/logging"
)

// ChangeWaiter blocks until the queue revision moves past after.
// queuesync.Synchronizer satisfies it.
type ChangeWaiter interface {
	WaitForChange(ctx context.Context, after uint64) (uint64, error)
}

// Observer receives run outcomes for metrics.
type Observer interface {
	EncodeFinished(outcome string)
}

// Outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomePaused    = "paused"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
)

// Manager schedules encoder runs for queued jobs.
type Manager struct {
	cfg          *config.Config
	ledger       *ledger.Ledger
	encoder      encoding.Encoder
	presets      ledger.PresetCatalog
	changes      ChangeWaiter
	observer     Observer
	logger       *slog.Logger
	pollInterval time.Duration
	stopGrace    time.Duration

	slots *slotPool
	wake  chan struct{}

	mu        sync.Mutex
	runs      map[string]*activeRun
	running   bool
	cancel    context.CancelFunc
	runCancel context.CancelFunc
	loopDone  chan struct{}
	runWG     sync.WaitGroup
	lastErr   error
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithChangeWaiter wakes the scheduler on queue changes instead of polling
// alone.
func WithChangeWaiter(w ChangeWaiter) ManagerOption {
	return func(m *Manager) {
		m.changes = w
	}
}

// WithObserver reports run outcomes.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithStopGrace overrides how long a flushing run may take before it is
// killed.
func WithStopGrace(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.stopGrace = d
		}
	}
}

// NewManager constructs a manager and installs it as the ledger's signaler.
func NewManager(cfg *config.Config, l *ledger.Ledger, enc encoding.Encoder, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:          cfg,
		ledger:       l,
		encoder:      enc,
		presets:      cfg,
		logger:       logging.NewComponentLogger(logger, "workflow"),
		pollInterval: time.Duration(cfg.Queue.PollIntervalMs) * time.Millisecond,
		stopGrace:    time.Duration(cfg.Queue.StopGraceSeconds) * time.Second,
		slots:        newSlotPool(cfg.Queue),
		wake:         make(chan struct{}, 1),
		runs:         make(map[string]*activeRun),
	}
	if m.pollInterval <= 0 {
		m.pollInterval = time.Second
	}
	if m.stopGrace <= 0 {
		m.stopGrace = 10 * time.Second
	}
	for _, opt := range opts {
		opt(m)
	}
	l.SetSignaler(m)
	return m
}

func (m *Manager) kick() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) observe(outcome string) {
	if m.observer != nil {
		m.observer.EncodeFinished(outcome)
	}
}
