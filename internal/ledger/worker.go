package ledger

import (
	"context"
	"math"

	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
)

// Claim is a job handed to the worker for one encode run.
type Claim struct {
	Token RunToken
	// Job is a copy taken at claim time.
	Job    *queue.Job
	Resume queue.ResumeState
	// Segment is the partial output path this run must write.
	Segment string
}

// ClaimNext moves the queued job with the lowest queue order that allow
// accepts into processing. allow lets the caller apply its slot policy per
// resource class. It returns false when nothing is claimable.
func (l *Ledger) ClaimNext(ctx context.Context, allow func(*queue.Job) bool) (*Claim, bool) {
	var claim *Claim
	l.mutate(ctx, func(tx *txn) {
		for _, e := range l.queuedLocked() {
			if allow != nil && !allow(e.job) {
				continue
			}
			claim = l.claimLocked(tx, e)
			return
		}
	})
	return claim, claim != nil
}

func (l *Ledger) claimLocked(tx *txn, e *entry) *Claim {
	to, legal := queue.Transition(e.job.Status, queue.ActionClaim)
	if !legal {
		return nil
	}
	now := l.now()
	job := e.job
	resume := queue.ResumeStateOf(job.Wait)
	from := resume.ResumeFromSeconds()

	job.Status = to
	job.QueueOrder = nil
	job.EndTime = nil
	job.Failure = nil
	if job.ProcessingStartedMs == nil {
		job.ProcessingStartedMs = queue.Int64(now)
	}
	job.ActiveSinceMs = queue.Int64(now)
	job.AutoPaused = false

	// Progress observed past the resume point will be replayed; bump the
	// epoch so observers drop ticks from the previous run.
	if from < job.Telemetry.LastProgressOutTimeSeconds {
		job.Telemetry.ProgressEpoch++
	}
	job.Telemetry.LastProgressOutTimeSeconds = from
	if job.DurationSeconds > 0 {
		job.Progress = percentOf(from, job.DurationSeconds)
	} else if from == 0 {
		job.Progress = 0
	}
	segment := l.segmentPath(job.ID, now)
	job.Runs = append(job.Runs, queue.Run{StartedMs: now, ResumeFromSeconds: from, Segment: segment})

	e.seq++
	e.stop = stopNone
	e.stopAuto = false
	e.requeue = false
	tx.touch(job.ID)

	l.logger.Info("job claimed",
		logging.JobID(job.ID),
		logging.Float64("resume_from_seconds", from),
		logging.RunSeq(e.seq),
	)
	return &Claim{
		Token:   RunToken{JobID: job.ID, Seq: e.seq},
		Job:     job.Clone(),
		Resume:  resume,
		Segment: segment,
	}
}

// current returns the entry when token still names the job's active run.
func (l *Ledger) currentLocked(token RunToken) (*entry, bool) {
	e, ok := l.entries[token.JobID]
	if !ok || e.seq != token.Seq || e.job.Status != queue.StatusProcessing {
		return nil, false
	}
	return e, true
}

// Current reports whether token still names the job's active run.
func (l *Ledger) Current(token RunToken) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.currentLocked(token)
	return ok
}

// AcknowledgeStop claims a pending wait request for the worker. It returns
// true exactly once per request; after that Resume can no longer withdraw it.
func (l *Ledger) AcknowledgeStop(token RunToken) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.currentLocked(token)
	if !ok || e.stop != stopWaitPending {
		return false
	}
	e.stop = stopWaitInFlight
	return true
}

// Progress is one encoder progress tick on the source timeline.
type Progress struct {
	// TimelineSeconds is the absolute position in the source, including the
	// run's resume offset.
	TimelineSeconds float64
	Frame           uint64
	Speed           float64
}

// ReportProgress records a progress tick. Durable writes are throttled.
func (l *Ledger) ReportProgress(ctx context.Context, token RunToken, p Progress) bool {
	var ok bool
	l.mu.Lock()
	tx := &txn{throttled: true}
	if e, current := l.currentLocked(token); current {
		ok = true
		now := l.now()
		job := e.job
		job.Telemetry.LastProgressOutTimeSeconds = p.TimelineSeconds
		job.Telemetry.LastProgressFrame = p.Frame
		job.Telemetry.LastProgressSpeed = p.Speed
		job.Telemetry.LastProgressUpdatedAtMs = now
		if job.DurationSeconds > 0 {
			job.Progress = percentOf(p.TimelineSeconds, job.DurationSeconds)
			if p.Speed > 0 {
				remaining := math.Max(job.DurationSeconds-p.TimelineSeconds, 0) / p.Speed
				job.EstimatedSeconds = &remaining
			}
		}
		tx.touch(job.ID)
	}
	l.commitLocked(ctx, tx)
	l.mu.Unlock()
	return ok
}

// SetDuration records the probed source duration used for percentages.
func (l *Ledger) SetDuration(ctx context.Context, token RunToken, seconds float64) bool {
	var ok bool
	l.mutate(ctx, func(tx *txn) {
		e, current := l.currentLocked(token)
		if !current || seconds <= 0 {
			return
		}
		ok = true
		e.job.DurationSeconds = seconds
		e.job.Progress = percentOf(e.job.Telemetry.LastProgressOutTimeSeconds, seconds)
		tx.touch(e.job.ID)
	})
	return ok
}

// AppendLog records one line of encoder output. Log lines are not part of
// the lite payload, so no revision is published; the line is persisted with
// the job's next write.
func (l *Ledger) AppendLog(token RunToken, line string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.currentLocked(token)
	if !ok {
		return false
	}
	l.appendLogLocked(e.job, line)
	return true
}

// ConfirmPaused finalizes an acknowledged wait: the flushed segment ending at
// endTarget on the source timeline is appended to the job's wait metadata
// and the job becomes paused. kept is false when the segment added no new
// media and should be discarded by the caller. ok is false when the run is
// no longer current.
func (l *Ledger) ConfirmPaused(ctx context.Context, token RunToken, segment string, endTarget float64) (kept, ok bool) {
	l.mutate(ctx, func(tx *txn) {
		e, current := l.currentLocked(token)
		if !current || e.stop != stopWaitInFlight {
			return
		}
		ok = true
		now := l.now()
		job := e.job
		job.CloseActiveInterval(now)

		wait := job.Wait
		if wait == nil {
			wait = &queue.WaitMetadata{}
		}
		wait.CaptureProgress(job.Telemetry, job.Progress)
		var warn *queue.Warning
		kept, warn = wait.AppendSegment(segment, endTarget)
		if warn != nil {
			job.AddWarning(*warn)
		}
		wait.ProcessedWallMillis = job.ElapsedMs
		job.Wait = wait
		job.EstimatedSeconds = nil

		if len(job.Runs) > 0 {
			if kept {
				job.Runs[len(job.Runs)-1].Segment = segment
			} else {
				job.Runs[len(job.Runs)-1].Segment = ""
			}
		}
		closeRun(job, now, "paused")

		if e.requeue {
			job.Status = queue.StatusQueued
			job.QueueOrder = queue.Int(l.tailOrderLocked())
			job.AutoPaused = false
			l.appendLogLocked(job, "Paused and requeued")
		} else {
			job.Status = queue.StatusPaused
			job.QueueOrder = nil
			job.AutoPaused = e.stopAuto
			l.appendLogLocked(job, "Paused")
		}
		e.stop = stopNone
		e.stopAuto = false
		e.requeue = false
		tx.touch(job.ID)

		l.logger.Info("job paused",
			logging.JobID(job.ID),
			logging.Float64("target_seconds", wait.TargetSeconds),
			logging.Int("segments", len(wait.SegmentPaths())),
			logging.Bool("segment_kept", kept),
			logging.Bool("auto", job.AutoPaused),
		)
	})
	return kept, ok
}

// Completion describes a successful run.
type Completion struct {
	OutputPath string
	Warnings   []queue.Warning
}

// Complete marks the run's job completed, clears its wait metadata, and
// reclaims the stored segments, which the worker has already joined.
func (l *Ledger) Complete(ctx context.Context, token RunToken, c Completion) bool {
	var ok bool
	l.mutate(ctx, func(tx *txn) {
		e, current := l.currentLocked(token)
		if !current {
			return
		}
		to, legal := queue.Transition(e.job.Status, queue.ActionComplete)
		if !legal {
			return
		}
		ok = true
		now := l.now()
		job := e.job
		tx.reclaim(job.ID, artifactPaths(job))

		job.Status = to
		job.QueueOrder = nil
		job.CloseActiveInterval(now)
		job.EndTime = queue.Int64(now)
		job.Progress = 100
		job.EstimatedSeconds = nil
		job.Wait = nil
		job.AutoPaused = false
		if c.OutputPath != "" {
			job.OutputPath = c.OutputPath
		}
		for _, w := range c.Warnings {
			job.AddWarning(w)
		}
		closeRun(job, now, "completed")
		e.stop = stopNone
		e.requeue = false
		tx.touch(job.ID)

		l.logger.Info("job completed",
			logging.JobID(job.ID),
			logging.Int64("elapsed_ms", job.ElapsedMs),
			logging.String("output", job.OutputPath),
		)
	})
	return ok
}

// Fail marks the run's job failed. Wait metadata is kept for inspection
// until the job is restarted or deleted.
func (l *Ledger) Fail(ctx context.Context, token RunToken, failure queue.Failure) bool {
	var ok bool
	l.mutate(ctx, func(tx *txn) {
		e, current := l.currentLocked(token)
		if !current {
			return
		}
		to, legal := queue.Transition(e.job.Status, queue.ActionFail)
		if !legal {
			return
		}
		ok = true
		now := l.now()
		job := e.job
		job.Status = to
		job.QueueOrder = nil
		job.CloseActiveInterval(now)
		job.EndTime = queue.Int64(now)
		job.EstimatedSeconds = nil
		job.AutoPaused = false
		f := failure
		job.Failure = &f
		l.appendLogLocked(job, "Failed: "+f.Summary())
		closeRun(job, now, "failed")
		e.stop = stopNone
		e.requeue = false
		tx.touch(job.ID)

		logging.WarnWithContext(l.logger, "job failed", "job_failed",
			logging.JobID(job.ID),
			logging.Failure(&f),
			logging.String(logging.FieldImpact, "job will not produce output"),
			logging.String(logging.FieldErrorHint, failureHint(&f)),
		)
	})
	return ok
}

// AddWarning attaches a structured warning to the run's job.
func (l *Ledger) AddWarning(ctx context.Context, token RunToken, w queue.Warning) bool {
	var ok bool
	l.mutate(ctx, func(tx *txn) {
		e, current := l.currentLocked(token)
		if !current {
			return
		}
		ok = true
		e.job.AddWarning(w)
		tx.touch(e.job.ID)
	})
	return ok
}

func failureHint(f *queue.Failure) string {
	switch {
	case f.MissingCapability():
		return "install an ffmpeg build that provides " + f.Component
	case f.Kind == queue.FailureInputNotFound:
		return "check that the input file still exists"
	case f.Kind == queue.FailurePermissionDenied:
		return "check file permissions for the input and output directories"
	default:
		return "inspect the job log tail"
	}
}

func percentOf(position, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	pct := position / duration * 100
	switch {
	case pct < 0:
		return 0
	case pct > 99.9:
		// 100 is reserved for completion.
		return 99.9
	default:
		return pct
	}
}
