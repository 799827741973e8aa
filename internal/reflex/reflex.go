// Package reflex — reflex.go
//
// Engine is the Reflex Engine megakernel loop: a time.Ticker-driven
// goroutine, in the style of a periodic subsystem pruning/refill loop,
// that drains ready rays from a shared task source, attempts GPU
// dispatch, falls back to a deterministic CPU simulation, reconciles
// completions against the registry, and feeds the entropy monitor.

package reflex

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cogos-project/cogos-core/internal/entropy"
	"github.com/cogos-project/cogos-core/internal/gpu"
	"github.com/cogos-project/cogos-core/internal/task"
)

// TaskSource is the narrow interface the Reflex Engine drains from and
// requeues into. The Task Orchestrator satisfies this.
type TaskSource interface {
	DrainForReflex(n int) []*task.LogicRay
	RequeueForReflex(rays []*task.LogicRay)
}

// Config holds megakernel frame loop parameters.
type Config struct {
	// WorkerThreads bounds concurrent CPU-simulation fallback execution.
	WorkerThreads int

	// TargetFrameTime is the minimum frame period; the loop sleeps the
	// remainder of each frame when work is light.
	TargetFrameTime time.Duration

	// PerFrameLimit is how many rays are drained from the source each
	// frame. Default 10000.
	PerFrameLimit int
}

// DefaultConfig returns documented defaults.
func DefaultConfig() Config {
	return Config{
		WorkerThreads:   4,
		TargetFrameTime: 16667 * time.Microsecond,
		PerFrameLimit:   10000,
	}
}

// Engine is the Reflex Engine.
type Engine struct {
	cfg      Config
	source   TaskSource
	registry *task.Registry
	monitor  *entropy.Monitor
	adapter  *gpu.Adapter
	log      *zap.Logger

	onFrame func(FrameStats) // optional hook for metrics/tests
}

// FrameStats summarizes one frame iteration, useful for metrics and tests.
type FrameStats struct {
	Drained    int
	Completed  int
	Requeued   int
	UsedGPU    bool
	FrameTime  time.Duration
}

// New creates a Reflex Engine.
func New(cfg Config, source TaskSource, registry *task.Registry, monitor *entropy.Monitor, adapter *gpu.Adapter, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = DefaultConfig().WorkerThreads
	}
	if cfg.TargetFrameTime <= 0 {
		cfg.TargetFrameTime = DefaultConfig().TargetFrameTime
	}
	if cfg.PerFrameLimit <= 0 {
		cfg.PerFrameLimit = DefaultConfig().PerFrameLimit
	}
	return &Engine{cfg: cfg, source: source, registry: registry, monitor: monitor, adapter: adapter, log: log}
}

// OnFrame installs a hook invoked after every frame (for metrics export
// and tests). Not safe to change once Run has started.
func (e *Engine) OnFrame(fn func(FrameStats)) { e.onFrame = fn }

// Run drives the frame loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TargetFrameTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.runFrame(ctx)
		}
	}
}

// runFrame implements the per-frame algorithm.
func (e *Engine) runFrame(ctx context.Context) {
	start := time.Now()

	rays := e.source.DrainForReflex(e.cfg.PerFrameLimit)
	stats := FrameStats{Drained: len(rays)}
	if len(rays) == 0 {
		stats.FrameTime = time.Since(start)
		if e.onFrame != nil {
			e.onFrame(stats)
		}
		return
	}

	flat := make([]task.LogicRay, len(rays))
	for i, r := range rays {
		flat[i] = *r
	}

	if e.adapter != nil && e.adapter.Available() {
		stats.UsedGPU = true
		result, err := e.adapter.Dispatch(ctx, flat)
		if err != nil {
			e.log.Error("gpu dispatch failed, falling back to cpu simulation", zap.Error(err))
			e.runCPUSimulation(ctx, flat, &stats)
		} else {
			for _, oc := range result.Outcomes {
				e.completeRay(task.ID(oc.TaskID), oc.Success, &stats)
			}
			if len(result.Requeued) > 0 {
				e.requeue(result.Requeued, &stats)
			}
		}
	} else {
		e.runCPUSimulation(ctx, flat, &stats)
	}

	stats.FrameTime = time.Since(start)
	if e.onFrame != nil {
		e.onFrame(stats)
	}
}

// runCPUSimulation executes rays with a bounded worker pool, blocking each
// ray for simulateLatency's deterministic duration before completing it.
// Cancelling ctx cuts the wait short and the ray is still completed as a
// success, unlike DeterministicExecutor, which returns ctx.Err() and so
// fails the task.
func (e *Engine) runCPUSimulation(ctx context.Context, rays []task.LogicRay, stats *FrameStats) {
	sem := make(chan struct{}, e.cfg.WorkerThreads)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, r := range rays {
		wg.Add(1)
		sem <- struct{}{}
		go func(r task.LogicRay) {
			defer wg.Done()
			defer func() { <-sem }()
			if d := simulateLatency(r); d > 0 {
				timer := time.NewTimer(d)
				defer timer.Stop()
				select {
				case <-timer.C:
				case <-ctx.Done():
				}
			}
			mu.Lock()
			e.completeRay(r.TaskID, true, stats)
			mu.Unlock()
		}(r)
	}
	wg.Wait()
}

// simulateLatency derives a deterministic duration from ray content.
func simulateLatency(r task.LogicRay) time.Duration {
	switch r.Payload.Kind {
	case task.PayloadCompute:
		if r.Payload.EstimatedDuration > 0 {
			return r.Payload.EstimatedDuration
		}
		return time.Microsecond
	default:
		return time.Microsecond
	}
}

func (e *Engine) completeRay(id task.ID, success bool, stats *FrameStats) {
	now := time.Now()
	if !success {
		e.registry.Fail(id, "cpu_simulation_failure")
		return
	}
	t, ok := e.registry.Get(id)
	if !ok {
		return
	}
	e.registry.MarkRunning(id, -1)
	d, completed := e.registry.Complete(id, now)
	if completed {
		stats.Completed++
		if e.monitor != nil {
			e.monitor.RecordTask(t.Payload.Kind, d)
		}
	}
}

func (e *Engine) requeue(rays []*task.LogicRay, stats *FrameStats) {
	stats.Requeued += len(rays)
	e.source.RequeueForReflex(rays)
}
