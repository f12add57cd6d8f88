package workflow

import (
	"sync"

	"ffqueue/internal/config"
	"ffqueue/internal/queue"
)

// slotPool caps concurrent runs, either with one shared limit or with
// separate CPU and hardware limits.
type slotPool struct {
	mu       sync.Mutex
	split    bool
	max      int
	maxCPU   int
	maxHW    int
	activeCP int
	activeHW int
}

func newSlotPool(q config.Queue) *slotPool {
	p := &slotPool{
		split:  q.ConcurrencyMode == config.ConcurrencySplit,
		max:    q.MaxParallel,
		maxCPU: q.MaxParallelCPU,
		maxHW:  q.MaxParallelHW,
	}
	if p.max <= 0 {
		p.max = 1
	}
	if p.maxCPU <= 0 {
		p.maxCPU = 1
	}
	if p.maxHW <= 0 {
		p.maxHW = 1
	}
	return p
}

// allow reports whether job could start now. It is called by the ledger
// under its lock and must not call back into it.
func (p *slotPool) allow(job *queue.Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.split {
		return p.activeCP+p.activeHW < p.max
	}
	if job.Hardware {
		return p.activeHW < p.maxHW
	}
	return p.activeCP < p.maxCPU
}

// full reports whether no further job of any class can start.
func (p *slotPool) full() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.split {
		return p.activeCP+p.activeHW >= p.max
	}
	return p.activeCP >= p.maxCPU && p.activeHW >= p.maxHW
}

func (p *slotPool) acquire(hardware bool) {
	p.mu.Lock()
	if hardware {
		p.activeHW++
	} else {
		p.activeCP++
	}
	p.mu.Unlock()
}

func (p *slotPool) release(hardware bool) {
	p.mu.Lock()
	if hardware {
		p.activeHW--
	} else {
		p.activeCP--
	}
	p.mu.Unlock()
}

func (p *slotPool) active() (cpu, hw int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeCP, p.activeHW
}
