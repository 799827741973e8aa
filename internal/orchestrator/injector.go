// Package orchestrator — injector.go
//
// Injector is the unbounded multi-producer multi-consumer FIFO used as
// the global overflow and handoff buffer. Workers
// batch-steal from it into their local buffer to amortize contention.

package orchestrator

import (
	"sync"

	"github.com/cogos-project/cogos-core/internal/task"
)

// Injector is a simple mutex-guarded FIFO. Submission order from a
// single producer is preserved at this level; beyond the injector, stealing randomizes execution
// order.
type Injector struct {
	mu    sync.Mutex
	items []*task.LogicRay
}

// NewInjector creates an empty Injector.
func NewInjector() *Injector {
	return &Injector{}
}

// Push appends a ray to the tail, preserving submission order.
func (inj *Injector) Push(r *task.LogicRay) {
	inj.mu.Lock()
	inj.items = append(inj.items, r)
	inj.mu.Unlock()
}

// PushBatch appends a batch of rays, preserving order.
func (inj *Injector) PushBatch(rs []*task.LogicRay) {
	if len(rs) == 0 {
		return
	}
	inj.mu.Lock()
	inj.items = append(inj.items, rs...)
	inj.mu.Unlock()
}

// Pop removes and returns the oldest ray, or (nil, false) if empty.
func (inj *Injector) Pop() (*task.LogicRay, bool) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if len(inj.items) == 0 {
		return nil, false
	}
	r := inj.items[0]
	inj.items = inj.items[1:]
	return r, true
}

// PopBatch removes and returns up to n of the oldest rays, in order.
// Returns an empty slice if the injector is empty.
func (inj *Injector) PopBatch(n int) []*task.LogicRay {
	if n <= 0 {
		return nil
	}
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if len(inj.items) == 0 {
		return nil
	}
	if n > len(inj.items) {
		n = len(inj.items)
	}
	out := make([]*task.LogicRay, n)
	copy(out, inj.items[:n])
	inj.items = inj.items[n:]
	return out
}

// Len returns the current pending count in the injector.
func (inj *Injector) Len() int {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return len(inj.items)
}
