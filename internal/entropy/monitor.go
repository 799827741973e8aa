// Package entropy — monitor.go
//
// Monitor is the Entropy Monitor: it records per-task-kind
// latency, collects a point-in-time system load snapshot, and classifies
// bottlenecks from the rolling window. It never fails; under
// insufficient samples it returns BottleneckNone rather than guessing.

package entropy

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cogos-project/cogos-core/internal/task"
)

// minSamplesForClassification: fewer than 8 window occupancy forces
// BottleneckNone rather than classifying off too little data.
const minSamplesForClassification = 8

// Bottleneck is the closed classification set for system load.
type Bottleneck uint8

const (
	BottleneckNone Bottleneck = iota
	BottleneckCPUBound
	BottleneckMemoryBound
	BottleneckIOBound
	BottleneckQueueSaturated
)

func (b Bottleneck) String() string {
	switch b {
	case BottleneckNone:
		return "none"
	case BottleneckCPUBound:
		return "cpu_bound"
	case BottleneckMemoryBound:
		return "memory_bound"
	case BottleneckIOBound:
		return "io_bound"
	case BottleneckQueueSaturated:
		return "queue_saturated"
	default:
		return "unknown"
	}
}

// WorkerLoad is a single worker's contribution to a SystemLoad snapshot.
type WorkerLoad struct {
	WorkerID       int
	HasCurrentTask bool
	CompletedCount uint64
	LoadFactor     float64
}

// Metrics is the pure-read system metrics snapshot collected by
// CollectMetrics: memory, uptime, idle duration, active/pending counts.
// No CPU utilisation figure is collected.
type Metrics struct {
	ActiveCount   int
	PendingCount  int
	IdleDuration  time.Duration
	MemoryUsedKB  uint64
	MemoryFreeKB  uint64
	UptimeSeconds int64
}

// SystemLoad composes entropy metrics with per-worker counters and a
// derived bottleneck classification.
type SystemLoad struct {
	Metrics     Metrics
	Workers     []WorkerLoad
	Bottleneck  Bottleneck
}

// Thresholds configures DetectBottleneck. QueueSaturationThreshold is
// exposed as a configurable field with a documented default (DESIGN.md)
// rather than hard-coded, since the right value is deployment-specific.
type Thresholds struct {
	QueueSaturationThreshold int
	MemThresholdKB           uint64
	CPUBoundLoadFactor        float64 // default 0.9
	CPUBoundMaxPending        int     // "low pending" cutoff
}

// DefaultThresholds returns the documented default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		QueueSaturationThreshold: 100,
		MemThresholdKB:           1 << 20, // 1 GiB
		CPUBoundLoadFactor:       0.9,
		CPUBoundMaxPending:       4,
	}
}

// Monitor is the Entropy Monitor. Safe for concurrent use.
type Monitor struct {
	window     *Window
	thresholds Thresholds
	startedAt  time.Time
	lastActive atomic.Int64 // UnixNano, written by RecordTask, read by CollectMetrics
}

// NewMonitor creates a Monitor with the given window capacity and
// thresholds.
func NewMonitor(windowCapacity int, thresholds Thresholds) *Monitor {
	m := &Monitor{
		window:     NewWindow(windowCapacity),
		thresholds: thresholds,
		startedAt:  time.Now(),
	}
	m.lastActive.Store(m.startedAt.UnixNano())
	return m
}

// RecordTask appends a (kind, duration) sample to the window.
func (m *Monitor) RecordTask(kind task.PayloadKind, dur time.Duration) {
	if dur > 0 {
		m.lastActive.Store(time.Now().UnixNano())
	}
	m.window.Record(kind, dur.Nanoseconds())
}

// CollectMetrics returns the current system metrics snapshot. Memory and
// uptime are sourced directly from golang.org/x/sys/unix.Sysinfo rather
// than a higher-level system-info library.
func (m *Monitor) CollectMetrics(active, pending int) Metrics {
	met := Metrics{
		ActiveCount:  active,
		PendingCount: pending,
		IdleDuration: time.Since(time.Unix(0, m.lastActive.Load())),
	}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err == nil {
		unit := uint64(info.Unit)
		if unit == 0 {
			unit = 1
		}
		met.MemoryFreeKB = (uint64(info.Freeram) * unit) / 1024
		met.MemoryUsedKB = (uint64(info.Totalram)*unit)/1024 - met.MemoryFreeKB
		met.UptimeSeconds = int64(info.Uptime)
	}
	return met
}

// DetectBottleneck classifies the snapshot using an ordered rule
// cascade. Never fails; returns BottleneckNone under insufficient
// samples or when no rule matches.
func (m *Monitor) DetectBottleneck(snap SystemLoad) Bottleneck {
	if m.window.Occupancy() < minSamplesForClassification {
		return BottleneckNone
	}

	if snap.Metrics.PendingCount > m.thresholds.QueueSaturationThreshold {
		return BottleneckQueueSaturated
	}

	if snap.Metrics.PendingCount <= m.thresholds.CPUBoundMaxPending {
		agg := aggregateLoadFactor(snap.Workers)
		if agg > m.thresholds.CPUBoundLoadFactor {
			return BottleneckCPUBound
		}
	}

	if m.thresholds.MemThresholdKB > 0 && snap.Metrics.MemoryUsedKB > m.thresholds.MemThresholdKB {
		return BottleneckMemoryBound
	}

	if m.longTailedIODominates() {
		return BottleneckIOBound
	}

	return BottleneckNone
}

func aggregateLoadFactor(workers []WorkerLoad) float64 {
	if len(workers) == 0 {
		return 0
	}
	var sum float64
	for _, w := range workers {
		sum += w.LoadFactor
	}
	return sum / float64(len(workers))
}

// longTailedIODominates reports whether file_index/search samples (the
// IO-shaped payload kinds) have a mean latency more than 3x the mean of
// the window's other samples. A window with no IO samples, or with only
// IO samples, reports false.
func (m *Monitor) longTailedIODominates() bool {
	samples := m.window.Snapshot()
	if len(samples) == 0 {
		return false
	}

	var ioSum, ioCount, otherSum, otherCount int64
	for _, s := range samples {
		if s.kind == task.PayloadFileIndex || s.kind == task.PayloadSearch {
			ioSum += s.dur
			ioCount++
		} else {
			otherSum += s.dur
			otherCount++
		}
	}
	if ioCount == 0 || otherCount == 0 || ioSum == 0 {
		return false
	}
	ioMean := ioSum / ioCount
	otherMean := otherSum / otherCount
	return ioMean > otherMean*3
}

// Window exposes the underlying rolling window for callers that need
// direct occupancy/mean queries (e.g. observability exporters).
func (m *Monitor) Window() *Window {
	return m.window
}
