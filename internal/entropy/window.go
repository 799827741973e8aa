// Package entropy — window.go
//
// Window is the bounded, per-task-kind latency sample set backing the
// Entropy Monitor. Samples are overwritten in place on arrival (a
// fixed-capacity ring, never reallocated); total samples never exceed
// capacity.

package entropy

import (
	"sync"

	"github.com/cogos-project/cogos-core/internal/task"
)

// DefaultCapacity is the default window size.
const DefaultCapacity = 16

// sample is one (task-kind, duration) observation.
type sample struct {
	kind task.PayloadKind
	dur  int64 // nanoseconds
}

// Window is a bounded ring of recent (kind, duration) samples plus a
// running per-kind mean, guarded by a single writer lock.
type Window struct {
	mu       sync.RWMutex
	capacity int
	buf      []sample
	next     int // write cursor
	count    int // occupancy, <= capacity

	// perKindSum/perKindCount track running means incrementally; they are
	// NOT decremented when a sample is overwritten, trading a slow drift
	// toward the long-run mean for O(1) updates — acceptable because the
	// window's purpose is bottleneck classification, not exact statistics.
	perKindSum   map[task.PayloadKind]int64
	perKindCount map[task.PayloadKind]int64
}

// NewWindow creates a Window with the given capacity (DefaultCapacity if
// capacity <= 0).
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity:     capacity,
		buf:          make([]sample, capacity),
		perKindSum:   make(map[task.PayloadKind]int64),
		perKindCount: make(map[task.PayloadKind]int64),
	}
}

// Record appends a (kind, duration) sample, overwriting the oldest entry
// once the window is full, and updates the per-kind running mean.
// Concurrent recorders observe a total order on appends (protected by mu).
func (w *Window) Record(kind task.PayloadKind, dur int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf[w.next] = sample{kind: kind, dur: dur}
	w.next = (w.next + 1) % w.capacity
	if w.count < w.capacity {
		w.count++
	}

	w.perKindSum[kind] += dur
	w.perKindCount[kind]++
}

// Occupancy returns the current number of valid samples (<= capacity).
func (w *Window) Occupancy() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.count
}

// MeanForKind returns the running mean duration (ns) for a task kind, or
// 0 if no samples of that kind have been recorded.
func (w *Window) MeanForKind(kind task.PayloadKind) int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := w.perKindCount[kind]
	if n == 0 {
		return 0
	}
	return w.perKindSum[kind] / n
}

// Snapshot returns a copy of the currently valid samples, oldest first.
func (w *Window) Snapshot() []sample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]sample, 0, w.count)
	if w.count < w.capacity {
		out = append(out, w.buf[:w.count]...)
		return out
	}
	// Full ring: oldest is at `next` (about to be overwritten next).
	out = append(out, w.buf[w.next:]...)
	out = append(out, w.buf[:w.next]...)
	return out
}
