package queuesync

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
)

// DefaultHistoryWindow is used when no window is configured.
const DefaultHistoryWindow = 256

// Delta is the set of changes between two revisions.
type Delta struct {
	BaseRevision uint64     `json:"baseSnapshotRevision"`
	Revision     uint64     `json:"snapshotRevision"`
	Added        []JobLite  `json:"added,omitempty"`
	Patches      []JobPatch `json:"patches,omitempty"`
	Removed      []string   `json:"removed,omitempty"`
}

// Empty reports whether the delta carries no changes.
func (d *Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Patches) == 0 && len(d.Removed) == 0
}

type historyEntry struct {
	rev uint64
	// before holds each touched job's lite value prior to rev; nil when the
	// job did not exist yet.
	before map[string]*JobLite
}

// Synchronizer mirrors the ledger in lite form and serves snapshots and
// deltas. It implements the ledger's Journal interface.
type Synchronizer struct {
	mu       sync.Mutex
	revision uint64
	// base is the oldest revision a delta can be computed from.
	base    uint64
	jobs    map[string]JobLite
	order   []string
	history []historyEntry
	window  int
	changed chan struct{}
	logger  *slog.Logger
}

// New constructs a synchronizer retaining window revisions of history.
func New(window int, logger *slog.Logger) *Synchronizer {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Synchronizer{
		jobs:    make(map[string]JobLite),
		window:  window,
		changed: make(chan struct{}),
		logger:  logging.NewComponentLogger(logger, "sync"),
	}
}

// Reset replaces the mirror with jobs at rev and drops all history, so any
// observer holding an older revision must resync.
func (s *Synchronizer) Reset(rev uint64, jobs []*queue.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = make(map[string]JobLite, len(jobs))
	s.order = nil
	for _, job := range jobs {
		if _, dup := s.jobs[job.ID]; dup {
			continue
		}
		s.jobs[job.ID] = ToLite(job)
		s.order = append(s.order, job.ID)
	}
	s.history = nil
	s.revision = rev
	s.base = rev
	s.notifyLocked()
	s.logger.Debug("sync history reset", logging.Revision(rev), logging.Int("jobs", len(s.order)))
}

// Record applies one ledger revision to the mirror.
func (s *Synchronizer) Record(rev uint64, changed []*queue.Job, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := historyEntry{rev: rev, before: make(map[string]*JobLite, len(changed)+len(removed))}
	for _, job := range changed {
		prev, existed := s.jobs[job.ID]
		if _, seen := entry.before[job.ID]; !seen {
			if existed {
				entry.before[job.ID] = &prev
			} else {
				entry.before[job.ID] = nil
			}
		}
		if !existed {
			s.order = append(s.order, job.ID)
		}
		s.jobs[job.ID] = ToLite(job)
	}
	for _, id := range removed {
		prev, existed := s.jobs[id]
		if !existed {
			continue
		}
		if _, seen := entry.before[id]; !seen {
			entry.before[id] = &prev
		}
		delete(s.jobs, id)
		s.order = removeID(s.order, id)
	}

	if rev != s.revision+1 {
		// A gap means history can no longer bridge to older revisions.
		logging.WarnWithContext(s.logger, "revision gap in sync journal", "sync_gap",
			logging.Uint64("expected", s.revision+1),
			logging.Revision(rev),
			logging.String(logging.FieldImpact, "observers must resync from a full snapshot"),
			logging.String(logging.FieldErrorHint, "ledger and synchronizer were wired out of order"),
		)
		s.history = nil
		s.base = rev
	} else {
		s.history = append(s.history, entry)
		if len(s.history) > s.window {
			drop := len(s.history) - s.window
			s.history = append(s.history[:0:0], s.history[drop:]...)
			s.base = s.history[0].rev - 1
		}
	}
	s.revision = rev
	s.notifyLocked()
}

// Revision returns the latest recorded revision.
func (s *Synchronizer) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Snapshot returns every job in lite form.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	snap := Snapshot{Revision: s.revision, Jobs: make([]JobLite, 0, len(s.order))}
	for _, id := range s.order {
		snap.Jobs = append(snap.Jobs, s.jobs[id].Clone())
	}
	return snap
}

// Delta returns the changes since from, or nil when from is outside the
// retained window (or ahead of the current revision) and the observer must
// resync. A delta from the current revision is empty.
func (s *Synchronizer) Delta(from uint64) *Delta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deltaLocked(from)
}

func (s *Synchronizer) deltaLocked(from uint64) *Delta {
	if from > s.revision || from < s.base {
		return nil
	}
	delta := &Delta{BaseRevision: from, Revision: s.revision}
	if from == s.revision {
		return delta
	}

	before := make(map[string]*JobLite)
	var touched []string
	for _, entry := range s.history {
		if entry.rev <= from {
			continue
		}
		for id, prev := range entry.before {
			if _, seen := before[id]; seen {
				continue
			}
			before[id] = prev
			touched = append(touched, id)
		}
	}

	position := make(map[string]int, len(s.order))
	for i, id := range s.order {
		position[id] = i
	}
	sort.Slice(touched, func(i, j int) bool {
		pi, iok := position[touched[i]]
		pj, jok := position[touched[j]]
		switch {
		case iok && jok:
			return pi < pj
		case iok != jok:
			return iok
		default:
			return touched[i] < touched[j]
		}
	})

	for _, id := range touched {
		prev := before[id]
		cur, exists := s.jobs[id]
		switch {
		case prev == nil && exists:
			delta.Added = append(delta.Added, cur.Clone())
		case prev == nil:
		case !exists:
			delta.Removed = append(delta.Removed, id)
		default:
			if patch := Diff(*prev, cur); !patch.Empty() {
				delta.Patches = append(delta.Patches, patch)
			}
		}
	}
	return delta
}

// Changes returns either a delta from `from` or, when that is impossible, a
// full snapshot. Exactly one of the results is non-nil.
func (s *Synchronizer) Changes(from uint64) (*Delta, *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.deltaLocked(from); d != nil {
		return d, nil
	}
	snap := s.snapshotLocked()
	return nil, &snap
}

// WaitForChange blocks until the revision moves past after or ctx ends. It
// returns the revision observed on wake-up.
func (s *Synchronizer) WaitForChange(ctx context.Context, after uint64) (uint64, error) {
	for {
		s.mu.Lock()
		rev := s.revision
		ch := s.changed
		s.mu.Unlock()
		if rev != after {
			return rev, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return rev, ctx.Err()
		}
	}
}

func (s *Synchronizer) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func removeID(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
