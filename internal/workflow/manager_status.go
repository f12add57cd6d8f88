package workflow

import (
	"sort"
)

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running   bool     `json:"running"`
	Mode      string   `json:"mode"`
	ActiveCPU int      `json:"activeCpu"`
	ActiveHW  int      `json:"activeHw"`
	ActiveIDs []string `json:"activeIds,omitempty"`
}

// Status reports whether dispatch is running and which jobs hold slots.
func (m *Manager) Status() Status {
	cpu, hw := m.slots.active()
	m.mu.Lock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	running := m.running
	m.mu.Unlock()
	sort.Strings(ids)
	return Status{
		Running:   running,
		Mode:      m.cfg.Queue.ConcurrencyMode,
		ActiveCPU: cpu,
		ActiveHW:  hw,
		ActiveIDs: ids,
	}
}
