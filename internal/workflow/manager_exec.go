package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ffqueue/internal/encoding"
	"ffqueue/internal/fileutil"
	"ffqueue/internal/ledger"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
)

// activeRun tracks one claimed job from launch until its outcome is
// recorded. Stop requests may arrive before the encoder has started; they
// are remembered and applied once the handle exists.
type activeRun struct {
	token    ledger.RunToken
	claim    *ledger.Claim
	hardware bool

	mu        sync.Mutex
	handle    encoding.Handle
	stopping  bool
	aborted   bool
	expired   bool
	graceStop *time.Timer
	// termGrace is set when the run was terminated rather than killed.
	termGrace time.Duration
}

func newActiveRun(claim *ledger.Claim) *activeRun {
	return &activeRun{token: claim.Token, claim: claim, hardware: claim.Job.Hardware}
}

// attach installs the started handle and replays requests that arrived
// before it existed.
func (r *activeRun) attach(h encoding.Handle) {
	r.mu.Lock()
	r.handle = h
	stopping, aborted, grace := r.stopping, r.aborted, r.termGrace
	r.mu.Unlock()
	switch {
	case aborted && grace > 0:
		h.Terminate(grace)
	case aborted:
		h.Abort()
	case stopping:
		_ = h.RequestStop()
	}
}

func (r *activeRun) requestStop(grace time.Duration, logger *slog.Logger) {
	r.mu.Lock()
	if r.stopping || r.aborted {
		r.mu.Unlock()
		return
	}
	r.stopping = true
	h := r.handle
	r.graceStop = time.AfterFunc(grace, func() {
		r.mu.Lock()
		r.expired = true
		r.mu.Unlock()
		logging.WarnWithContext(logger, "encoder did not flush within the stop grace period", "stop_grace_expired",
			logging.JobID(r.token.JobID),
			logging.Duration("grace", grace),
			logging.String(logging.FieldImpact, "the partial output of this run is discarded"),
			logging.String(logging.FieldErrorHint, "raise queue.stop_grace_seconds for slow encoders"),
		)
		r.abort()
	})
	r.mu.Unlock()
	if h != nil {
		if err := h.RequestStop(); err != nil {
			logger.Debug("stop request failed", logging.JobID(r.token.JobID), logging.Error(err))
		}
	}
}

// terminate ends the run for a cancel, restart, or delete: SIGTERM first,
// SIGKILL once grace elapses.
func (r *activeRun) terminate(grace time.Duration) {
	r.mu.Lock()
	if r.aborted {
		r.mu.Unlock()
		return
	}
	r.aborted = true
	r.termGrace = grace
	h := r.handle
	r.mu.Unlock()
	if h != nil {
		h.Terminate(grace)
	}
}

func (r *activeRun) abort() {
	r.mu.Lock()
	r.aborted = true
	h := r.handle
	r.mu.Unlock()
	if h != nil {
		h.Abort()
	}
}

func (r *activeRun) stopGraceTimer() {
	r.mu.Lock()
	if r.graceStop != nil {
		r.graceStop.Stop()
	}
	r.mu.Unlock()
}

func (r *activeRun) state() (stopping, aborted, expired bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping, r.aborted, r.expired
}

// Signal implements ledger.Signaler. The ledger calls it outside its lock.
func (m *Manager) Signal(token ledger.RunToken, sig ledger.Signal) {
	run := m.lookupRun(token)
	if run == nil {
		// Not launched yet; execute re-checks the ledger once registered.
		return
	}
	switch sig {
	case ledger.SignalWait:
		if m.ledger.AcknowledgeStop(token) {
			m.logger.Info("stopping encode for pause", logging.JobID(token.JobID))
			run.requestStop(m.stopGrace, m.logger)
		}
	case ledger.SignalAbort:
		m.logger.Info("terminating encode", logging.JobID(token.JobID), logging.Duration("grace", m.stopGrace))
		run.terminate(m.stopGrace)
	}
}

// execute runs one claim to an outcome recorded in the ledger.
func (m *Manager) execute(ctx context.Context, run *activeRun) {
	claim := run.claim
	token := claim.Token
	job := claim.Job
	logger := m.logger.With(logging.JobID(job.ID))

	// Signals sent between the claim and registration were dropped.
	if !m.ledger.Current(token) {
		m.discard(logger, claim.Segment)
		m.observe(OutcomeAborted)
		return
	}
	if m.ledger.AcknowledgeStop(token) {
		run.requestStop(m.stopGrace, m.logger)
	}

	preset, ok := m.presets.Preset(job.PresetID)
	if !ok {
		m.fail(ctx, logger, token, claim.Segment, queue.Failure{
			Kind:      queue.FailureUnknownPreset,
			Component: job.PresetID,
			Reason:    fmt.Sprintf("preset %q is not configured", job.PresetID),
		})
		return
	}

	if job.DurationSeconds <= 0 {
		if d, err := m.encoder.ProbeDuration(ctx, job.InputPath); err != nil {
			logger.Debug("source duration unavailable", logging.Error(err))
		} else if d > 0 {
			m.ledger.SetDuration(ctx, token, d)
			job.DurationSeconds = d
		}
	}

	if stopping, aborted, _ := run.state(); stopping || aborted {
		m.settleUnstarted(ctx, logger, run)
		return
	}

	req := encoding.Request{
		JobID:        job.ID,
		InputPath:    job.InputPath,
		OutputPath:   claim.Segment,
		Args:         preset.Args,
		StartSeconds: claim.Resume.ResumeFromSeconds(),
	}
	sampler := logging.NewProgressSampler(10)
	epoch := job.Telemetry.ProgressEpoch
	handle, err := m.encoder.Start(ctx, req, encoding.Events{
		OnProgress: func(p encoding.Progress) {
			if !m.ledger.ReportProgress(ctx, token, ledger.Progress{
				TimelineSeconds: p.TimelineSeconds,
				Frame:           p.Frame,
				Speed:           p.Speed,
			}) {
				return
			}
			if job.DurationSeconds <= 0 {
				return
			}
			percent := 100 * p.TimelineSeconds / job.DurationSeconds
			if sampler.ShouldLog(percent, epoch) {
				logger.Debug("encode progress",
					logging.Float64("percent", percent),
					logging.Float64("speed", p.Speed),
					logging.Uint64("frame", p.Frame),
				)
			}
		},
		OnLog: func(line string) {
			m.ledger.AppendLog(token, line)
		},
	})
	if err != nil {
		var fe *encoding.FailureError
		if !errors.As(err, &fe) {
			fe = &encoding.FailureError{Failure: queue.Failure{Kind: queue.FailureEncoderCrash, Reason: err.Error()}}
		}
		m.fail(ctx, logger, token, claim.Segment, fe.Failure)
		return
	}
	run.attach(handle)

	res := handle.Wait()
	stopping, _, expired := run.state()
	switch {
	case !m.ledger.Current(token):
		// Cancelled, restarted, or deleted while running.
		m.discard(logger, claim.Segment)
		m.observe(OutcomeAborted)
	case res.Stopped && !expired && !res.Aborted:
		m.settleStopped(ctx, logger, run, res)
	case stopping:
		// Killed while flushing: keep earlier segments, drop this one.
		m.ledger.ConfirmPaused(ctx, token, "", 0)
		m.discard(logger, claim.Segment)
		m.observe(OutcomePaused)
	case res.Failure != nil:
		m.fail(ctx, logger, token, claim.Segment, *res.Failure)
	case res.Aborted:
		m.fail(ctx, logger, token, claim.Segment, queue.Failure{
			Kind:   queue.FailureEncoderCrash,
			Reason: "encode terminated before completion",
		})
	default:
		m.finalize(ctx, logger, run, res)
	}
}

// settleUnstarted records the outcome of a run stopped before its encoder
// was launched.
func (m *Manager) settleUnstarted(ctx context.Context, logger *slog.Logger, run *activeRun) {
	if stopping, _, _ := run.state(); stopping && m.ledger.Current(run.token) {
		m.ledger.ConfirmPaused(ctx, run.token, "", 0)
		m.observe(OutcomePaused)
		return
	}
	m.discard(logger, run.claim.Segment)
	m.observe(OutcomeAborted)
}

// settleStopped turns a flushed run into a resume point. A run that reached
// the end of the source while stopping is finalized instead.
func (m *Manager) settleStopped(ctx context.Context, logger *slog.Logger, run *activeRun, res encoding.Result) {
	claim := run.claim
	end := res.LastProgress.TimelineSeconds
	if d := claim.Job.DurationSeconds; d > 0 && end >= d-endTolerance {
		m.finalize(ctx, logger, run, res)
		return
	}
	kept, ok := m.ledger.ConfirmPaused(ctx, run.token, claim.Segment, end)
	if !ok || !kept {
		m.discard(logger, claim.Segment)
	}
	m.observe(OutcomePaused)
}

// endTolerance is how close to the source duration a stopped run must get
// to count as complete.
const endTolerance = 0.5

func (m *Manager) fail(ctx context.Context, logger *slog.Logger, token ledger.RunToken, segment string, failure queue.Failure) {
	m.ledger.Fail(ctx, token, failure)
	m.discard(logger, segment)
	m.observe(OutcomeFailed)
}

func (m *Manager) discard(logger *slog.Logger, paths ...string) {
	for _, failure := range fileutil.RemoveBestEffort(paths...) {
		logging.WarnWithContext(logger, "failed to remove partial output", "cleanup_failed",
			logging.String("path", failure.Path),
			logging.Error(failure.Err),
			logging.String(logging.FieldErrorHint, "remove the file manually"),
			logging.String(logging.FieldImpact, "disk space is not reclaimed"),
		)
	}
}
