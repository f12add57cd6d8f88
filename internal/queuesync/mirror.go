package queuesync

import (
	"errors"
	"fmt"
	"sync"
)

// ErrResyncRequired is returned when a delta cannot be applied to the
// mirror's current state; the observer must fetch a full snapshot.
var ErrResyncRequired = errors.New("resync required")

// Mirror is an observer-side copy of the queue built from snapshots and
// deltas. It is safe for concurrent use.
type Mirror struct {
	mu       sync.RWMutex
	loaded   bool
	revision uint64
	jobs     map[string]JobLite
	order    []string
}

// NewMirror returns an empty mirror that accepts only a snapshot first.
func NewMirror() *Mirror {
	return &Mirror{jobs: make(map[string]JobLite)}
}

// ApplySnapshot replaces the mirror contents. Snapshots older than the
// mirror's revision are discarded and reported as false. After a daemon
// restart revisions start over, so callers that know a restart happened
// should call Invalidate first.
func (m *Mirror) ApplySnapshot(snap Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded && snap.Revision < m.revision {
		return false
	}
	m.jobs = make(map[string]JobLite, len(snap.Jobs))
	m.order = make([]string, 0, len(snap.Jobs))
	for _, job := range snap.Jobs {
		m.jobs[job.ID] = job.Clone()
		m.order = append(m.order, job.ID)
	}
	m.revision = snap.Revision
	m.loaded = true
	return true
}

// ApplyDelta applies d when its base revision equals the mirror's revision.
// A nil delta, an unloaded mirror, or a base mismatch yields
// ErrResyncRequired and leaves the mirror untouched.
func (m *Mirror) ApplyDelta(d *Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d == nil || !m.loaded {
		return ErrResyncRequired
	}
	if d.BaseRevision != m.revision {
		return fmt.Errorf("%w: delta base %d, mirror at %d", ErrResyncRequired, d.BaseRevision, m.revision)
	}
	for _, patch := range d.Patches {
		if _, ok := m.jobs[patch.ID]; !ok {
			return fmt.Errorf("%w: patch for unknown job %s", ErrResyncRequired, patch.ID)
		}
	}

	for _, id := range d.Removed {
		if _, ok := m.jobs[id]; !ok {
			continue
		}
		delete(m.jobs, id)
		m.order = removeID(m.order, id)
	}
	for _, patch := range d.Patches {
		job := m.jobs[patch.ID]
		patch.Apply(&job)
		m.jobs[patch.ID] = job
	}
	for _, job := range d.Added {
		if _, exists := m.jobs[job.ID]; !exists {
			m.order = append(m.order, job.ID)
		}
		m.jobs[job.ID] = job.Clone()
	}
	m.revision = d.Revision
	return nil
}

// Invalidate forgets the mirror's revision so the next snapshot is always
// accepted.
func (m *Mirror) Invalidate() {
	m.mu.Lock()
	m.loaded = false
	m.mu.Unlock()
}

// Loaded reports whether a snapshot has been applied.
func (m *Mirror) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Revision returns the last applied revision.
func (m *Mirror) Revision() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// Snapshot returns the mirror contents in the same shape the synchronizer
// produces.
func (m *Mirror) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{Revision: m.revision, Jobs: make([]JobLite, 0, len(m.order))}
	for _, id := range m.order {
		snap.Jobs = append(snap.Jobs, m.jobs[id].Clone())
	}
	return snap
}

// Job returns one mirrored job.
func (m *Mirror) Job(id string) (JobLite, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return JobLite{}, false
	}
	return job.Clone(), true
}
