// Package worker — deque.go
//
// Deque is a worker's local double-ended task buffer. The owner pushes to the tail and pops from the head (FIFO for the
// owner — oldest-first execution); thieves steal a batch from the tail
// (LIFO from the thief's perspective — newest-first), which keeps the
// owner and thieves working on disjoint regions of the buffer and
// reduces cache-line contention.
//
// This is a mutex-guarded slice deque rather than a lock-free
// Chase–Lev deque: steals already happen in batches (amortizing lock
// acquisition), so the simpler, auditable implementation is preferred
// over a lock-free one here.

package worker

import (
	"sync"

	"github.com/cogos-project/cogos-core/internal/task"
)

// StealResult distinguishes "nothing to steal" from "try again". Empty
// means the deque is genuinely drained. This mutex-guarded Deque returns
// only StealOK or StealEmpty; StealRetry is never returned by StealBatch.
type StealResult uint8

const (
	StealOK StealResult = iota
	StealEmpty
	StealRetry
)

// Deque is a single worker's local task buffer.
type Deque struct {
	mu    sync.Mutex
	items []*task.LogicRay
}

// NewDeque creates an empty Deque.
func NewDeque() *Deque {
	return &Deque{}
}

// PushBack appends a ray to the tail (used when injecting new work onto
// a worker's local buffer).
func (d *Deque) PushBack(r *task.LogicRay) {
	d.mu.Lock()
	d.items = append(d.items, r)
	d.mu.Unlock()
}

// PushBatchBack appends a batch of rays, preserving order.
func (d *Deque) PushBatchBack(rs []*task.LogicRay) {
	if len(rs) == 0 {
		return
	}
	d.mu.Lock()
	d.items = append(d.items, rs...)
	d.mu.Unlock()
}

// PopFront removes and returns the oldest item (the owner's FIFO end).
// Returns (nil, false) if empty.
func (d *Deque) PopFront() (*task.LogicRay, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return nil, false
	}
	r := d.items[0]
	d.items = d.items[1:]
	return r, true
}

// Len returns the current occupancy. Used by Worker.LoadFactor.
func (d *Deque) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// StealBatch removes up to n items from the tail (the thief's end) and
// returns them. A steal always takes a batch, not a single item, to
// amortize the cost of future empty polls against the same victim
//. Returns StealEmpty if the deque was already empty.
func (d *Deque) StealBatch(n int) ([]*task.LogicRay, StealResult) {
	if n <= 0 {
		n = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return nil, StealEmpty
	}
	if n > len(d.items) {
		n = len(d.items)
	}
	// Take from the tail.
	start := len(d.items) - n
	stolen := make([]*task.LogicRay, n)
	copy(stolen, d.items[start:])
	d.items = d.items[:start]
	return stolen, StealOK
}
