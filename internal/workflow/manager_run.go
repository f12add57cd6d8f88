package workflow

import (
	"context"
	"errors"
	"time"

	"ffqueue/internal/ledger"
	"ffqueue/internal/logging"
)

// Start launches the dispatch loop. Encoder runs use a context detached from
// ctx so that cancelling ctx stops dispatching without killing encodes;
// Shutdown decides their fate.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.runCancel = runCancel
	m.running = true
	m.lastErr = nil
	m.loopDone = make(chan struct{})

	go m.loop(loopCtx, runCtx, m.loopDone)

	m.logger.Info("workflow manager started",
		logging.Duration("poll_interval", m.pollInterval),
		logging.Duration("stop_grace", m.stopGrace),
		logging.String("concurrency_mode", m.cfg.Queue.ConcurrencyMode),
	)
	return nil
}

// Stop halts dispatching and kills every active run without waiting for a
// flush. Interrupted jobs are paused at their previous segment.
func (m *Manager) Stop() {
	done := m.stopDispatch()
	if done == nil {
		return
	}
	<-done

	m.ledger.PauseAll(context.Background())
	for _, run := range m.activeRuns() {
		run.abort()
	}
	m.runWG.Wait()
	m.cancelRuns()
	m.logger.Info("workflow manager stopped")
}

// Shutdown stops dispatching, asks every processing job to pause, and waits
// for the flushes until ctx ends or the stop grace elapses. Runs still
// active afterwards are killed. It returns the ids that were asked to pause.
func (m *Manager) Shutdown(ctx context.Context) []string {
	done := m.stopDispatch()
	if done == nil {
		return nil
	}
	<-done

	paused := m.ledger.PauseAll(context.WithoutCancel(ctx))

	finished := make(chan struct{})
	go func() {
		m.runWG.Wait()
		close(finished)
	}()
	timer := time.NewTimer(m.stopGrace + time.Second)
	defer timer.Stop()
	select {
	case <-finished:
	case <-ctx.Done():
	case <-timer.C:
	}

	if remaining := m.activeRuns(); len(remaining) > 0 {
		logging.WarnWithContext(m.logger, "killing encodes that did not flush in time", "shutdown_forced",
			logging.Int("jobs", len(remaining)),
			logging.String(logging.FieldImpact, "unflushed progress is lost; jobs resume from their last segment"),
		)
		for _, run := range remaining {
			run.abort()
		}
		<-finished
	}
	m.cancelRuns()
	m.logger.Info("workflow manager shut down", logging.Int("paused_jobs", len(paused)))
	return paused
}

func (m *Manager) stopDispatch() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return m.loopDone
}

func (m *Manager) cancelRuns() {
	m.mu.Lock()
	cancel := m.runCancel
	m.runCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) loop(ctx, runCtx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		m.dispatch(ctx, runCtx)
		if err := m.waitForWork(ctx); err != nil {
			return
		}
	}
}

// dispatch claims jobs until no slot is free or nothing is claimable.
func (m *Manager) dispatch(ctx, runCtx context.Context) {
	for !m.slots.full() {
		if ctx.Err() != nil {
			return
		}
		claim, ok := m.ledger.ClaimNext(ctx, m.slots.allow)
		if !ok {
			return
		}
		m.launch(runCtx, claim)
	}
}

func (m *Manager) launch(ctx context.Context, claim *ledger.Claim) {
	run := newActiveRun(claim)
	m.slots.acquire(run.hardware)
	m.mu.Lock()
	m.runs[claim.Token.JobID] = run
	m.mu.Unlock()

	m.runWG.Add(1)
	go func() {
		defer m.runWG.Done()
		defer m.release(run)
		m.execute(ctx, run)
	}()
}

func (m *Manager) release(run *activeRun) {
	run.stopGraceTimer()
	m.mu.Lock()
	if current, ok := m.runs[run.token.JobID]; ok && current == run {
		delete(m.runs, run.token.JobID)
	}
	m.mu.Unlock()
	m.slots.release(run.hardware)
	m.kick()
}

// waitForWork blocks until the queue changes, a run finishes, or the poll
// interval elapses.
func (m *Manager) waitForWork(ctx context.Context) error {
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()

	var changed chan struct{}
	if m.changes != nil {
		waitCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		changed = make(chan struct{})
		after := m.ledger.Revision()
		go func() {
			if _, err := m.changes.WaitForChange(waitCtx, after); err == nil {
				close(changed)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.wake:
	case <-changed:
	case <-timer.C:
	}
	return nil
}

func (m *Manager) activeRuns() []*activeRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*activeRun, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run)
	}
	return out
}

func (m *Manager) lookupRun(token ledger.RunToken) *activeRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[token.JobID]
	if !ok || run.token != token {
		return nil
	}
	return run
}
