package api

import (
	"context"
	"errors"
	"strings"
	"sync"

	"ffqueue/internal/ledger"
	"ffqueue/internal/queue"
	"ffqueue/internal/queuesync"
	"ffqueue/internal/recovery"
	"ffqueue/internal/services"
)

// Ledger is the part of the queue ledger the boundary drives.
type Ledger interface {
	Enqueue(ctx context.Context, spec ledger.Spec) (*queue.Job, error)
	Get(id string) (*queue.Job, bool)
	Counts() map[queue.Status]int

	Wait(ctx context.Context, id string) bool
	Resume(ctx context.Context, id string) bool
	Restart(ctx context.Context, id string) bool
	Cancel(ctx context.Context, id string) bool
	Delete(ctx context.Context, id string) bool

	WaitBulk(ctx context.Context, ids []string) ledger.BulkResult
	ResumeBulk(ctx context.Context, ids []string) ledger.BulkResult
	RestartBulk(ctx context.Context, ids []string) ledger.BulkResult
	CancelBulk(ctx context.Context, ids []string) ledger.BulkResult
	DeleteBulk(ctx context.Context, ids []string) ledger.BulkResult

	Reorder(ctx context.Context, ids []string) bool
}

// Changes serves snapshots and deltas. *queuesync.Synchronizer satisfies it.
type Changes interface {
	Revision() uint64
	Snapshot() queuesync.Snapshot
	Changes(from uint64) (*queuesync.Delta, *queuesync.Snapshot)
	WaitForChange(ctx context.Context, after uint64) (uint64, error)
}

// Startup owns the startup hint. *recovery.Startup satisfies it.
type Startup interface {
	Hint() *recovery.Hint
	Dismiss(ctx context.Context) error
	ResumeQueue(ctx context.Context) int
}

// Job actions accepted by Action and Bulk.
const (
	ActionWait    = "wait"
	ActionResume  = "resume"
	ActionRestart = "restart"
	ActionCancel  = "cancel"
	ActionDelete  = "delete"
)

// QueueService exposes the queue boundary operations returning API DTOs.
type QueueService struct {
	ledger  Ledger
	changes Changes

	mu      sync.Mutex
	startup Startup
}

// NewQueueService constructs a QueueService around the ledger and
// synchronizer.
func NewQueueService(l Ledger, changes Changes) *QueueService {
	return &QueueService{ledger: l, changes: changes}
}

// SetStartup installs the hint tracker of the current daemon session.
func (s *QueueService) SetStartup(startup Startup) {
	s.mu.Lock()
	s.startup = startup
	s.mu.Unlock()
}

func (s *QueueService) currentStartup() Startup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startup
}

// Enqueue adds a job at the tail of the queue.
func (s *QueueService) Enqueue(ctx context.Context, req EnqueueRequest) (JobResponse, error) {
	spec := ledger.Spec{
		InputPath:  req.InputPath,
		PresetID:   req.PresetID,
		OutputPath: req.OutputPath,
	}
	switch t := queue.JobType(strings.ToLower(strings.TrimSpace(req.Type))); t {
	case "":
	case queue.JobTypeVideo, queue.JobTypeImage, queue.JobTypeAudio:
		spec.Type = t
	default:
		return JobResponse{}, services.Wrap(services.ErrValidation, "queue", "enqueue", "unknown job type "+req.Type, nil)
	}
	switch src := queue.JobSource(strings.ToLower(strings.TrimSpace(req.Source))); src {
	case "":
	case queue.SourceManual, queue.SourceBatch:
		spec.Source = src
	default:
		return JobResponse{}, services.Wrap(services.ErrValidation, "queue", "enqueue", "unknown job source "+req.Source, nil)
	}

	job, err := s.ledger.Enqueue(ctx, spec)
	if err != nil {
		if errors.Is(err, queue.ErrInvalidSpec) {
			return JobResponse{}, services.Wrap(services.ErrValidation, "queue", "enqueue", "", err)
		}
		return JobResponse{}, err
	}
	return JobResponse{Job: queuesync.ToLite(job)}, nil
}

// Job returns the full record of one job.
func (s *QueueService) Job(id string) (JobDetail, error) {
	job, ok := s.ledger.Get(strings.TrimSpace(id))
	if !ok {
		return JobDetail{}, services.Wrap(services.ErrNotFound, "queue", "describe", "job "+id, queue.ErrJobNotFound)
	}
	return FromJob(job), nil
}

// State returns the current lite snapshot, optionally filtered by status.
// Filtering keeps the snapshot revision.
func (s *QueueService) State(statuses ...queue.Status) queuesync.Snapshot {
	snap := s.changes.Snapshot()
	if len(statuses) == 0 {
		return snap
	}
	want := make(map[queue.Status]struct{}, len(statuses))
	for _, st := range statuses {
		want[st.Normalize()] = struct{}{}
	}
	filtered := snap.Jobs[:0:0]
	for _, job := range snap.Jobs {
		if _, ok := want[job.Status]; ok {
			filtered = append(filtered, job)
		}
	}
	snap.Jobs = filtered
	return snap
}

// Changes returns the delta from the observer's revision, or a snapshot when
// the revision is outside the retained history.
func (s *QueueService) Changes(from uint64) ChangesResponse {
	delta, snap := s.changes.Changes(from)
	return ChangesResponse{Delta: delta, Snapshot: snap}
}

// WaitChanges blocks until the revision moves past from or ctx ends, then
// returns the changes since from.
func (s *QueueService) WaitChanges(ctx context.Context, from uint64) (ChangesResponse, error) {
	if _, err := s.changes.WaitForChange(ctx, from); err != nil {
		return ChangesResponse{}, err
	}
	return s.Changes(from), nil
}

// Revision returns the current snapshot revision.
func (s *QueueService) Revision() uint64 {
	return s.changes.Revision()
}

// Counts returns the number of jobs per status.
func (s *QueueService) Counts() map[string]int {
	return StatusCounts(s.ledger.Counts())
}

// Action applies one job transition. Illegal transitions and unknown ids
// report OK=false.
func (s *QueueService) Action(ctx context.Context, action, id string) (ActionResponse, error) {
	id = strings.TrimSpace(id)
	var op func(context.Context, string) bool
	switch action {
	case ActionWait:
		op = s.ledger.Wait
	case ActionResume:
		op = s.ledger.Resume
	case ActionRestart:
		op = s.ledger.Restart
	case ActionCancel:
		op = s.ledger.Cancel
	case ActionDelete:
		op = s.ledger.Delete
	default:
		return ActionResponse{}, services.Wrap(services.ErrValidation, "queue", action, "unknown action", nil)
	}
	return ActionResponse{ID: id, OK: op(ctx, id)}, nil
}

// Bulk applies one transition to each id independently.
func (s *QueueService) Bulk(ctx context.Context, action string, ids []string) (BulkResponse, error) {
	var op func(context.Context, []string) ledger.BulkResult
	switch action {
	case ActionWait:
		op = s.ledger.WaitBulk
	case ActionResume:
		op = s.ledger.ResumeBulk
	case ActionRestart:
		op = s.ledger.RestartBulk
	case ActionCancel:
		op = s.ledger.CancelBulk
	case ActionDelete:
		op = s.ledger.DeleteBulk
	default:
		return BulkResponse{}, services.Wrap(services.ErrValidation, "queue", action+"_bulk", "unknown action", nil)
	}
	return fromBulk(op(ctx, ids)), nil
}

// Reorder assigns queue order to the listed queued jobs.
func (s *QueueService) Reorder(ctx context.Context, ids []string) bool {
	return s.ledger.Reorder(ctx, ids)
}

// StartupHint returns the pending startup prompt or nil.
func (s *QueueService) StartupHint() StartupHintResponse {
	startup := s.currentStartup()
	if startup == nil {
		return StartupHintResponse{}
	}
	return StartupHintResponse{Hint: startup.Hint()}
}

// DismissStartupHint records that the prompt was handled.
func (s *QueueService) DismissStartupHint(ctx context.Context) error {
	startup := s.currentStartup()
	if startup == nil {
		return services.Wrap(services.ErrUnavailable, "startup", "dismiss", "daemon not started", nil)
	}
	return startup.Dismiss(ctx)
}

// ResumeStartupQueue resumes every auto-paused job and dismisses the prompt.
func (s *QueueService) ResumeStartupQueue(ctx context.Context) (ResumeQueueResponse, error) {
	startup := s.currentStartup()
	if startup == nil {
		return ResumeQueueResponse{}, services.Wrap(services.ErrUnavailable, "startup", "resume_queue", "daemon not started", nil)
	}
	return ResumeQueueResponse{Resumed: startup.ResumeQueue(ctx)}, nil
}
