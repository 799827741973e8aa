// Package main — cmd/cogosd/metrics_sampler.go
//
// Periodic export of cumulative orchestrator/reflex counters into
// Prometheus. The orchestrator and registry track lifetime totals
// directly (see task.Registry.Snapshot); this sampler turns those
// monotonic totals into counter deltas and a live queue-depth gauge on a
// fixed interval, and the Reflex Engine's OnFrame hook feeds per-frame
// duration/dispatch counters as they happen.
package main

import (
	"context"
	"time"

	"github.com/cogos-project/cogos-core/internal/observability"
	"github.com/cogos-project/cogos-core/internal/orchestrator"
	"github.com/cogos-project/cogos-core/internal/reflex"
)

const statsSampleInterval = 2 * time.Second

// sampleOrchestratorStats polls the orchestrator's cumulative counters and
// exports them as Prometheus counter deltas plus a live queue-depth gauge,
// until ctx is cancelled.
func sampleOrchestratorStats(ctx context.Context, orch *orchestrator.Orchestrator, metrics *observability.Metrics) {
	ticker := time.NewTicker(statsSampleInterval)
	defer ticker.Stop()

	var lastSubmitted, lastCompleted, lastFailed, lastStolen uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := orch.Stats()
			metrics.TasksSubmittedTotal.Add(float64(stats.Submitted - lastSubmitted))
			metrics.TasksCompletedTotal.Add(float64(stats.Completed - lastCompleted))
			metrics.TasksFailedTotal.Add(float64(stats.Failed - lastFailed))
			metrics.TasksStolenTotal.Add(float64(stats.Stolen - lastStolen))
			metrics.QueueDepth.Set(float64(stats.Pending))
			lastSubmitted, lastCompleted, lastFailed, lastStolen = stats.Submitted, stats.Completed, stats.Failed, stats.Stolen
		}
	}
}

// recordFrameStats feeds one Reflex Engine frame's outcome into the
// per-frame metrics: duration histogram, rays dispatched, and GPU
// dispatch outcome (complete vs. partial requeue).
func recordFrameStats(metrics *observability.Metrics, fs reflex.FrameStats) {
	metrics.FrameDurationSeconds.Observe(fs.FrameTime.Seconds())
	metrics.RaysDispatchedTotal.Add(float64(fs.Drained))
	if !fs.UsedGPU {
		return
	}
	outcome := "complete"
	if fs.Requeued > 0 {
		outcome = "partial"
	}
	metrics.GPUDispatchesTotal.WithLabelValues(outcome).Inc()
}
