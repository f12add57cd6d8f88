package ledger

import (
	"context"

	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
)

// Wait asks the active encode of a processing job to stop at the next safe
// point and flush a partial output. It returns once the request is recorded;
// the job becomes paused only when the worker confirms the flush. Jobs that
// are not processing report false.
func (l *Ledger) Wait(ctx context.Context, id string) bool {
	var ok bool
	l.mutate(ctx, func(tx *txn) { ok = l.waitLocked(tx, id, false) })
	return ok
}

func (l *Ledger) waitLocked(tx *txn, id string, auto bool) bool {
	e, found := l.entries[id]
	if !found {
		return false
	}
	if _, legal := queue.Transition(e.job.Status, queue.ActionWait); !legal {
		return false
	}
	switch e.stop {
	case stopWaitPending, stopWaitInFlight:
		e.requeue = false
		if auto {
			e.stopAuto = true
		}
		return true
	}
	e.stop = stopWaitPending
	e.stopAuto = auto
	e.requeue = false
	tx.signal(RunToken{JobID: id, Seq: e.seq}, SignalWait)
	return true
}

// Resume returns a paused job to the tail of the queue; its next encode
// starts from the recorded join point. On a processing job with an
// unconfirmed wait request, Resume withdraws the request instead.
func (l *Ledger) Resume(ctx context.Context, id string) bool {
	var ok bool
	l.mutate(ctx, func(tx *txn) { ok = l.resumeLocked(tx, id) })
	return ok
}

func (l *Ledger) resumeLocked(tx *txn, id string) bool {
	e, found := l.entries[id]
	if !found {
		return false
	}
	to, legal := queue.Transition(e.job.Status, queue.ActionResume)
	if !legal {
		return false
	}
	if e.job.Status == queue.StatusProcessing {
		switch e.stop {
		case stopWaitPending:
			e.stop = stopNone
			e.stopAuto = false
			return true
		case stopWaitInFlight:
			// The encoder is already flushing; requeue once it confirms.
			e.requeue = true
			return true
		default:
			return false
		}
	}

	job := e.job
	job.Status = to
	job.QueueOrder = queue.Int(l.tailOrderLocked())
	job.AutoPaused = false
	l.appendLogLocked(job, "Resumed")
	tx.touch(id)
	return true
}

// Restart discards all resume history and progress and re-enqueues the job
// under the same id. Completed and skipped jobs cannot be restarted.
func (l *Ledger) Restart(ctx context.Context, id string) bool {
	var ok bool
	l.mutate(ctx, func(tx *txn) { ok = l.restartLocked(tx, id) })
	return ok
}

func (l *Ledger) restartLocked(tx *txn, id string) bool {
	e, found := l.entries[id]
	if !found {
		return false
	}
	to, legal := queue.Transition(e.job.Status, queue.ActionRestart)
	if !legal {
		return false
	}
	l.abortRunLocked(tx, e)
	job := e.job
	tx.reclaim(id, artifactPaths(job))

	epoch := job.Telemetry.ProgressEpoch + 1
	job.Status = to
	job.QueueOrder = queue.Int(l.tailOrderLocked())
	job.StartTime = l.now()
	job.ProcessingStartedMs = nil
	job.EndTime = nil
	job.ElapsedMs = 0
	job.ActiveSinceMs = nil
	job.Progress = 0
	job.EstimatedSeconds = nil
	job.Telemetry = queue.Telemetry{ProgressEpoch: epoch}
	job.Wait = nil
	job.AutoPaused = false
	job.LogHead = nil
	job.LogTail = ""
	job.Failure = nil
	job.Warnings = nil
	job.Runs = nil
	tx.touch(id)
	return true
}

// Cancel moves a queued, processing, or paused job to cancelled. An active
// encode is terminated and any partial outputs are removed best-effort.
// Cancelling a terminal job is a no-op returning false.
func (l *Ledger) Cancel(ctx context.Context, id string) bool {
	var ok bool
	l.mutate(ctx, func(tx *txn) { ok = l.cancelLocked(tx, id) })
	return ok
}

func (l *Ledger) cancelLocked(tx *txn, id string) bool {
	e, found := l.entries[id]
	if !found {
		return false
	}
	to, legal := queue.Transition(e.job.Status, queue.ActionCancel)
	if !legal {
		return false
	}
	now := l.now()
	was := e.job.Status
	l.abortRunLocked(tx, e)
	job := e.job
	tx.reclaim(id, artifactPaths(job))

	job.Status = to
	job.QueueOrder = nil
	job.CloseActiveInterval(now)
	job.EndTime = queue.Int64(now)
	job.EstimatedSeconds = nil
	job.Wait = nil
	job.AutoPaused = false
	closeRun(job, now, "cancelled")
	switch was {
	case queue.StatusQueued:
		l.appendLogLocked(job, "Cancelled before start")
	case queue.StatusPaused:
		l.appendLogLocked(job, "Cancelled while paused")
	default:
		l.appendLogLocked(job, "Cancelled while processing")
	}
	tx.touch(id)
	l.logger.Info("job cancelled", logging.JobID(id), logging.Status(was))
	return true
}

// abortRunLocked invalidates the job's current run, if any, and asks the
// worker to terminate it.
func (l *Ledger) abortRunLocked(tx *txn, e *entry) {
	if e.job.Status != queue.StatusProcessing {
		return
	}
	tx.signal(RunToken{JobID: e.job.ID, Seq: e.seq}, SignalAbort)
	e.seq++
	e.stop = stopNone
	e.stopAuto = false
	e.requeue = false
}

// Delete removes a terminal job from the ledger and reclaims its leftover
// partial outputs. Final outputs of completed jobs are kept.
func (l *Ledger) Delete(ctx context.Context, id string) bool {
	var ok bool
	l.mutate(ctx, func(tx *txn) { ok = l.deleteLocked(tx, id) })
	return ok
}

func (l *Ledger) deleteLocked(tx *txn, id string) bool {
	e, found := l.entries[id]
	if !found {
		return false
	}
	if _, legal := queue.Transition(e.job.Status, queue.ActionDelete); !legal {
		return false
	}
	tx.reclaim(id, artifactPaths(e.job))
	delete(l.entries, id)
	for i, existing := range l.order {
		if existing == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	tx.removed = append(tx.removed, id)
	return true
}

// Reorder assigns queue orders 0..n-1 to queued jobs: first the listed ids
// in the given order, then every unlisted queued job in its current relative
// order. Unknown and non-queued ids are ignored. The request is always
// accepted; a new revision is published only if an order changed.
func (l *Ledger) Reorder(ctx context.Context, ids []string) bool {
	l.mutate(ctx, func(tx *txn) {
		queued := l.queuedLocked()
		byID := make(map[string]*entry, len(queued))
		for _, e := range queued {
			byID[e.job.ID] = e
		}

		next := make([]*entry, 0, len(queued))
		placed := make(map[string]struct{}, len(queued))
		for _, id := range ids {
			e, ok := byID[id]
			if !ok {
				continue
			}
			if _, dup := placed[id]; dup {
				continue
			}
			placed[id] = struct{}{}
			next = append(next, e)
		}
		for _, e := range queued {
			if _, ok := placed[e.job.ID]; !ok {
				next = append(next, e)
			}
		}

		for i, e := range next {
			if e.job.QueueOrder != nil && *e.job.QueueOrder == i {
				continue
			}
			e.job.QueueOrder = queue.Int(i)
			tx.touch(e.job.ID)
		}
	})
	return true
}

// PauseAll requests a wait on every processing job and marks the resulting
// pauses as automatic, so ResumeAutoPaused can pick them up on the next
// start. It returns the ids that were asked to stop.
func (l *Ledger) PauseAll(ctx context.Context) []string {
	var ids []string
	l.mutate(ctx, func(tx *txn) {
		for _, id := range l.order {
			if l.entries[id].job.Status != queue.StatusProcessing {
				continue
			}
			if l.waitLocked(tx, id, true) {
				ids = append(ids, id)
			}
		}
	})
	if len(ids) > 0 {
		l.logger.Info("pausing active jobs for shutdown", logging.Int("jobs", len(ids)))
	}
	return ids
}

// ResumeAutoPaused resumes every paused job that was paused by shutdown or
// crash recovery rather than by a user, and returns how many were resumed.
func (l *Ledger) ResumeAutoPaused(ctx context.Context) int {
	count := 0
	l.mutate(ctx, func(tx *txn) {
		for _, id := range l.order {
			e := l.entries[id]
			if e.job.Status != queue.StatusPaused || !e.job.AutoPaused {
				continue
			}
			if l.resumeLocked(tx, id) {
				count++
			}
		}
	})
	return count
}

// AutoPausedCount reports how many paused jobs await ResumeAutoPaused.
func (l *Ledger) AutoPausedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, e := range l.entries {
		if e.job.Status == queue.StatusPaused && e.job.AutoPaused {
			count++
		}
	}
	return count
}

func closeRun(job *queue.Job, now int64, outcome string) {
	if len(job.Runs) == 0 {
		return
	}
	run := &job.Runs[len(job.Runs)-1]
	if run.EndedMs != 0 {
		return
	}
	run.EndedMs = now
	run.Outcome = outcome
}
