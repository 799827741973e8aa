// Package worker — worker.go
//
// Worker is the per-worker execution context.
// Each worker owns exactly one local Deque, a completion counter, a
// single in-flight task slot, and a single-permit concurrency gate that
// ensures a worker never begins a new ray until the previous one
// observes completion.

package worker

import (
	"sync/atomic"

	"github.com/cogos-project/cogos-core/internal/task"
)

// Kind tags the role a worker plays: a small closed enum with a
// String() method.
type Kind uint8

const (
	KindCPUThread Kind = iota
	KindRealtime
	KindCompute
	KindBackground
)

func (k Kind) String() string {
	switch k {
	case KindCPUThread:
		return "cpu_thread"
	case KindRealtime:
		return "realtime"
	case KindCompute:
		return "compute"
	case KindBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Worker is a single worker's execution context.
type Worker struct {
	ID   int
	Kind Kind

	Local *Deque

	completed atomic.Uint64
	stolen    atomic.Uint64

	// gate is a single-permit semaphore: a worker must acquire it before
	// starting a ray and release it only after that ray's completion is
	// observed. Buffered channel of capacity 1: Acquire is a blocking
	// receive and Release a non-blocking send.
	gate chan struct{}

	inFlight atomic.Pointer[task.LogicRay]
}

// New creates a Worker with an empty local buffer and a released gate.
func New(id int, kind Kind) *Worker {
	w := &Worker{
		ID:    id,
		Kind:  kind,
		Local: NewDeque(),
		gate:  make(chan struct{}, 1),
	}
	w.gate <- struct{}{} // start released
	return w
}

// Acquire blocks until the worker's single concurrency permit is
// available, then takes it.
func (w *Worker) Acquire() {
	<-w.gate
}

// Release returns the worker's concurrency permit.
func (w *Worker) Release() {
	select {
	case w.gate <- struct{}{}:
	default:
		// Already released; Release must be idempotent-safe for callers
		// that release on both success and error paths.
	}
}

// BeginRay records the ray as the worker's in-flight task.
func (w *Worker) BeginRay(r *task.LogicRay) {
	w.inFlight.Store(r)
}

// EndRay clears the in-flight slot and increments the completion counter.
func (w *Worker) EndRay() {
	w.inFlight.Store(nil)
	w.completed.Add(1)
}

// InFlight returns the currently executing ray, or nil if idle.
func (w *Worker) InFlight() *task.LogicRay {
	return w.inFlight.Load()
}

// CompletedCount returns the lifetime count of rays this worker finished.
func (w *Worker) CompletedCount() uint64 {
	return w.completed.Load()
}

// IncrStolen increments this worker's count of successful steals it made
// from peers.
func (w *Worker) IncrStolen() {
	w.stolen.Add(1)
}

// StolenCount returns the lifetime count of successful steals this worker
// made from peers.
func (w *Worker) StolenCount() uint64 {
	return w.stolen.Load()
}

// LoadFactor returns a crude [0,1] load estimate: the local buffer depth
// plus one for an in-flight ray, divided by 8 and capped at 1.0 (0 when
// idle).
// Used by the entropy monitor's bottleneck classification.
func (w *Worker) LoadFactor() float64 {
	depth := w.Local.Len()
	if w.InFlight() != nil {
		depth++
	}
	if depth == 0 {
		return 0.0
	}
	if depth >= 8 {
		return 1.0
	}
	return float64(depth) / 8.0
}
