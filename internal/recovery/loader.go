package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"ffqueue/internal/config"
	"ffqueue/internal/fileutil"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
)

// CrashRollbackSeconds is how far behind the last reported progress tick a
// crashed run's segment is cut. Output written shortly before an unclean
// exit may not have been flushed.
const CrashRollbackSeconds = 3.0

// Store is the durable state the loader reads and repairs. queue.Store
// satisfies it.
type Store interface {
	Load(ctx context.Context) (queue.LoadResult, error)
	Save(ctx context.Context, job *queue.Job, position int64) error
}

// Options configures a Loader.
type Options struct {
	Store        Store
	SegmentDir   string
	Logger       *slog.Logger
	LogHeadLines int
	LogTailBytes int
	Now          func() int64
	// Exists reports whether a segment file is present. Defaults to
	// fileutil.Exists.
	Exists func(string) bool
}

// Loader rebuilds queue state from storage at startup.
type Loader struct {
	store      Store
	segmentDir string
	logger     *slog.Logger
	logHead    int
	logTail    int
	now        func() int64
	exists     func(string) bool
}

// Result is the repaired queue state, ready to seed the ledger.
type Result struct {
	Jobs      []*queue.Job
	Positions map[string]int64
	// Recovered lists jobs found processing and reclassified to paused.
	Recovered []string
	// Degraded lists paused jobs that lost one or more segment files.
	Degraded []string
	Corrupt  []queue.CorruptRow
	// Orphans lists stray partial outputs removed from the segment dir.
	Orphans []string
	// Unreadable is set when storage could not be read at all and the
	// queue starts empty.
	Unreadable bool
}

// NewLoader constructs a loader.
func NewLoader(opts Options) *Loader {
	now := opts.Now
	if now == nil {
		now = queue.NowMs
	}
	exists := opts.Exists
	if exists == nil {
		exists = fileutil.Exists
	}
	return &Loader{
		store:      opts.Store,
		segmentDir: opts.SegmentDir,
		logger:     logging.NewComponentLogger(opts.Logger, "recovery"),
		logHead:    opts.LogHeadLines,
		logTail:    opts.LogTailBytes,
		now:        now,
		exists:     exists,
	}
}

// NewLoaderFromConfig wires a loader to the configured segment dir and log
// retention.
func NewLoaderFromConfig(cfg *config.Config, store Store, logger *slog.Logger) *Loader {
	return NewLoader(Options{
		Store:        store,
		SegmentDir:   cfg.Paths.SegmentDir,
		Logger:       logger,
		LogHeadLines: cfg.Queue.LogHeadLines,
		LogTailBytes: cfg.Queue.LogTailBytes,
	})
}

// Load reads persisted jobs and repairs them:
//
//   - jobs left processing by an unclean exit become auto-paused, keeping
//     the crashed run's partial output when it can be trusted
//   - segment files that vanished are dropped, degrading resume state
//   - queued jobs without an order go to the tail, paused jobs without
//     wait metadata get an empty record (restart only)
//   - unreferenced partial outputs in the segment dir are removed
//
// Repaired jobs are written back, so loading twice yields the same state.
// Load never fails: unreadable storage degrades to an empty queue.
func (l *Loader) Load(ctx context.Context) Result {
	loaded, err := l.store.Load(ctx)
	if err != nil {
		logging.ErrorWithContext(l.logger, "queue state unreadable; starting with an empty queue", "state_unreadable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect or move aside queue.db"),
		)
		return Result{Positions: map[string]int64{}, Unreadable: true}
	}

	res := Result{
		Jobs:      loaded.Jobs,
		Positions: loaded.Positions,
		Corrupt:   loaded.Corrupt,
	}
	if res.Positions == nil {
		res.Positions = make(map[string]int64)
	}
	for _, row := range loaded.Corrupt {
		logging.WarnWithContext(l.logger, "skipping unreadable job record", "corrupt_job",
			logging.JobID(row.ID),
			logging.Error(row.Err),
			logging.String(logging.FieldImpact, "job is not restored"),
		)
	}

	tail := 0
	for _, job := range res.Jobs {
		if job.Status == queue.StatusQueued && job.QueueOrder != nil && *job.QueueOrder >= tail {
			tail = *job.QueueOrder + 1
		}
	}

	for _, job := range res.Jobs {
		changed := false
		switch job.Status {
		case queue.StatusProcessing:
			l.recoverProcessing(job)
			res.Recovered = append(res.Recovered, job.ID)
			changed = true
		case queue.StatusQueued:
			if job.QueueOrder == nil {
				job.QueueOrder = queue.Int(tail)
				tail++
				changed = true
			}
		}
		if job.Status == queue.StatusPaused {
			if job.QueueOrder != nil {
				job.QueueOrder = nil
				changed = true
			}
			if job.Wait == nil {
				job.Wait = &queue.WaitMetadata{}
				changed = true
			}
			if l.dropMissing(job) {
				res.Degraded = append(res.Degraded, job.ID)
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := l.store.Save(ctx, job, res.Positions[job.ID]); err != nil {
			logging.WarnWithContext(l.logger, "failed to persist recovered job", "recovery_persist_failed",
				logging.JobID(job.ID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "recovery repeats on next start"),
			)
		}
	}

	res.Orphans = l.removeOrphans(res.Jobs)

	l.logger.Info("queue state loaded",
		logging.Int("jobs", len(res.Jobs)),
		logging.Int("recovered", len(res.Recovered)),
		logging.Int("degraded", len(res.Degraded)),
		logging.Int("corrupt", len(res.Corrupt)),
		logging.Int("orphans_removed", len(res.Orphans)),
	)
	return res
}

// recoverProcessing turns a job interrupted mid-encode into an auto-paused
// job whose wait metadata reflects the last progress tick.
func (l *Loader) recoverProcessing(job *queue.Job) {
	end := job.Telemetry.LastProgressUpdatedAtMs
	if job.ActiveSinceMs != nil && end < *job.ActiveSinceMs {
		end = *job.ActiveSinceMs
	}
	job.CloseActiveInterval(end)

	wait := job.Wait
	if wait == nil {
		wait = &queue.WaitMetadata{}
	}
	wait.CaptureProgress(job.Telemetry, job.Progress)

	if n := len(job.Runs); n > 0 && job.Runs[n-1].EndedMs == 0 {
		run := &job.Runs[n-1]
		if !l.keepCrashedSegment(job, wait, run) && run.Segment != "" {
			l.discard(job.ID, run.Segment)
			run.Segment = ""
		}
		run.EndedMs = end
		run.Outcome = "interrupted"
	}

	wait.ProcessedWallMillis = job.ElapsedMs
	job.Wait = wait
	job.Status = queue.StatusPaused
	job.QueueOrder = nil
	job.AutoPaused = true
	job.EstimatedSeconds = nil
	job.Telemetry.ProgressEpoch = wait.ProgressEpoch
	job.AppendLog(fmt.Sprintf("Recovered after unexpected shutdown; resume continues from %.2fs", wait.TargetSeconds),
		l.logHead, l.logTail)
	job.AddWarning(queue.Warning{
		Code:    queue.WarnCrashRecovered,
		Message: "job was interrupted by an unexpected shutdown and has been paused",
		AtMs:    l.now(),
	})

	logging.WarnWithContext(l.logger, "recovered interrupted job", "crash_recovered",
		logging.JobID(job.ID),
		logging.Float64("resume_from_seconds", wait.TargetSeconds),
		logging.Int("segments", len(wait.SegmentPaths())),
		logging.String(logging.FieldImpact, "job paused until resumed"),
		logging.String(logging.FieldErrorHint, "resume the job or use startup resume"),
	)
}

// keepCrashedSegment appends the interrupted run's partial output when it
// exists and the run reported progress past its start.
func (l *Loader) keepCrashedSegment(job *queue.Job, wait *queue.WaitMetadata, run *queue.Run) bool {
	if run.Segment == "" || !l.exists(run.Segment) {
		return false
	}
	if job.Telemetry.LastProgressUpdatedAtMs < run.StartedMs {
		return false
	}
	target := rollbackTarget(wait.TargetSeconds, job.Telemetry.LastProgressOutTimeSeconds)
	if target <= 0 {
		return false
	}
	kept, warn := wait.AppendSegment(run.Segment, target)
	if warn != nil {
		warn.AtMs = l.now()
		job.AddWarning(*warn)
	}
	return kept
}

// rollbackTarget cuts lastOut back by CrashRollbackSeconds unless that would
// not advance past prev, in which case lastOut is used as is. It returns 0
// when nothing past prev was observed.
func rollbackTarget(prev, lastOut float64) float64 {
	if lastOut <= prev {
		return 0
	}
	if t := lastOut - CrashRollbackSeconds; t > prev {
		return t
	}
	return lastOut
}

func (l *Loader) dropMissing(job *queue.Job) bool {
	wait := job.Wait
	hadSegments := len(wait.SegmentPaths()) > 0
	missing := wait.DropMissing(l.exists)
	if len(missing) == 0 {
		return false
	}
	job.Telemetry.ProgressEpoch = wait.ProgressEpoch
	job.AddWarning(queue.Warning{
		Code:    queue.WarnSegmentMissing,
		Message: fmt.Sprintf("%d segment file(s) missing: %s", len(missing), strings.Join(missing, ", ")),
		AtMs:    l.now(),
	})
	if hadSegments && len(wait.SegmentPaths()) == 0 {
		job.Progress = 0
		job.AddWarning(queue.Warning{
			Code:    queue.WarnResumeRestartOnly,
			Message: "no usable segments remain; resume will encode from the start",
			AtMs:    l.now(),
		})
	} else {
		job.Progress = wait.LastProgressPercent
	}
	logging.WarnWithContext(l.logger, "segment files missing", "segment_missing",
		logging.JobID(job.ID),
		logging.Int("missing", len(missing)),
		logging.Float64("resume_from_seconds", wait.TargetSeconds),
		logging.String(logging.FieldImpact, "resume re-encodes the missing span"),
	)
	return true
}

// removeOrphans deletes job partial outputs in the segment dir that no job
// references.
func (l *Loader) removeOrphans(jobs []*queue.Job) []string {
	if l.segmentDir == "" {
		return nil
	}
	entries, err := os.ReadDir(l.segmentDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.WarnWithContext(l.logger, "segment dir unreadable", "orphan_scan_failed",
				logging.String("dir", l.segmentDir),
				logging.Error(err),
			)
		}
		return nil
	}

	referenced := make(map[string]struct{})
	for _, job := range jobs {
		for _, p := range job.Wait.SegmentPaths() {
			referenced[filepath.Clean(p)] = struct{}{}
		}
		for _, run := range job.Runs {
			if run.Segment != "" {
				referenced[filepath.Clean(run.Segment)] = struct{}{}
			}
		}
	}

	var orphans []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "job-") {
			continue
		}
		path := filepath.Join(l.segmentDir, entry.Name())
		if _, ok := referenced[path]; ok {
			continue
		}
		orphans = append(orphans, path)
	}
	for _, failure := range fileutil.RemoveBestEffort(orphans...) {
		logging.WarnWithContext(l.logger, "failed to remove orphaned segment", "cleanup_failed",
			logging.String("path", failure.Path),
			logging.Error(failure.Err),
		)
	}
	return orphans
}

func (l *Loader) discard(jobID, path string) {
	for _, failure := range fileutil.RemoveBestEffort(path) {
		logging.WarnWithContext(l.logger, "failed to remove interrupted segment", "cleanup_failed",
			logging.JobID(jobID),
			logging.String("path", failure.Path),
			logging.Error(failure.Err),
		)
	}
}
