// Package orchestrator — orchestrator.go
//
// Orchestrator is the Task Orchestrator: it submits tasks to
// a global injector, drives a worker pool, and runs the work-stealing
// protocol. It owns the Registry (B), the Injector and the Worker Pool
// (C) for the coarse-grained CPU execution fabric.
//
// Design note: the Reflex Engine (internal/reflex) drains fine-grained
// logic rays directly from the Injector via DrainForReflex, bypassing
// the CPU work-stealing loop entirely — the two execution fabrics race
// benignly over the same FIFO-protected Injector, sharing the Registry
// for status and the Entropy Monitor for latency feedback. See
// DESIGN.md.

package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cogos-project/cogos-core/internal/entropy"
	"github.com/cogos-project/cogos-core/internal/task"
	"github.com/cogos-project/cogos-core/internal/worker"
)

// Config holds orchestrator tuning parameters.
type Config struct {
	// WorkerCount is the size of the CPU worker pool.
	WorkerCount int

	// MaxQueueSize is the back-pressure cutoff: submit fails with
	// QueueOverflow when pending >= MaxQueueSize.
	MaxQueueSize int

	// StealBatchSize is how many rays a steal takes from a victim in one
	// attempt (a batch, never a single task).
	StealBatchSize int

	// PollInterval is the sleep duration between full scheduling passes
	// when a worker finds no work anywhere.
	PollInterval time.Duration
}

// DefaultConfig returns documented default tuning parameters.
func DefaultConfig() Config {
	return Config{
		WorkerCount:    4,
		MaxQueueSize:   10000,
		StealBatchSize: 8,
		PollInterval:   time.Millisecond,
	}
}

// Executor executes a task's payload on a CPU worker thread. The default
// implementation (see NewDeterministicExecutor) simulates work as a
// deterministic function of payload content, mirroring the Reflex
// Engine's CPU-simulation fallback.
type Executor interface {
	Execute(ctx context.Context, t task.Task) error
}

// Orchestrator is the Task Orchestrator.
type Orchestrator struct {
	cfg      Config
	registry *task.Registry
	injector *Injector
	workers  []*worker.Worker
	monitor  *entropy.Monitor
	exec     Executor
	log      *zap.Logger

	nextID    atomic.Uint64
	pending   atomic.Int64
	running   atomic.Bool
	shutdownC chan struct{}
	wg        sync.WaitGroup
}

// New creates an Orchestrator. monitor may be shared with the Reflex
// Engine so both feed the same entropy window.
func New(cfg Config, registry *task.Registry, monitor *entropy.Monitor, exec Executor, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}
	if cfg.StealBatchSize <= 0 {
		cfg.StealBatchSize = DefaultConfig().StealBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	o := &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		injector:  NewInjector(),
		monitor:   monitor,
		exec:      exec,
		log:       log,
		shutdownC: make(chan struct{}),
	}
	for i := 0; i < cfg.WorkerCount; i++ {
		o.workers = append(o.workers, worker.New(i, worker.KindCPUThread))
	}
	return o
}

// Submit registers a task as Pending and pushes it to the global
// injector. Fails with QueueOverflow when pending >= MaxQueueSize.
func (o *Orchestrator) Submit(t task.Task) (task.ID, error) {
	// Pending is read from the shared registry so that rays completed by
	// the Reflex Engine (which never touch o.pending) are not counted.
	if o.cfg.MaxQueueSize > 0 {
		if pending := int(o.registry.Snapshot().Pending); pending >= o.cfg.MaxQueueSize {
			return 0, errQueueOverflow(pending)
		}
	}
	t.ID = task.ID(o.nextID.Add(1))
	t.CreatedAt = time.Now()
	o.registry.Put(&t)
	o.pending.Add(1)
	o.injector.Push(&task.LogicRay{TaskID: t.ID, Payload: t.Payload})
	return t.ID, nil
}

// BatchResult is the per-item outcome of SubmitBatch.
type BatchResult struct {
	ID  task.ID
	Err error
}

// SubmitBatch submits each task independently: a failure on one item
// does not roll back items already submitted.
func (o *Orchestrator) SubmitBatch(tasks []task.Task) []BatchResult {
	out := make([]BatchResult, len(tasks))
	for i, t := range tasks {
		id, err := o.Submit(t)
		out[i] = BatchResult{ID: id, Err: err}
	}
	return out
}

// Status returns the task's current status, or (Status{}, false).
func (o *Orchestrator) Status(id task.ID) (task.Status, bool) {
	return o.registry.Status(id)
}

// DrainForReflex pops up to n rays directly from the injector for the
// Reflex Engine's megakernel loop, bypassing the CPU work-stealing path.
func (o *Orchestrator) DrainForReflex(n int) []*task.LogicRay {
	return o.injector.PopBatch(n)
}

// RequeueForReflex pushes rays the Reflex Engine could not complete this
// frame back onto the injector.
func (o *Orchestrator) RequeueForReflex(rays []*task.LogicRay) {
	o.injector.PushBatch(rays)
}

// Registry exposes the shared task registry.
func (o *Orchestrator) Registry() *task.Registry { return o.registry }

// Start spawns the worker fiber set and blocks until ctx is cancelled or
// Shutdown is called.
func (o *Orchestrator) Start(ctx context.Context) {
	if !o.running.CompareAndSwap(false, true) {
		return // already started
	}
	for _, w := range o.workers {
		o.wg.Add(1)
		go o.runWorker(ctx, w)
	}

	select {
	case <-ctx.Done():
	case <-o.shutdownC:
	}
	o.wg.Wait()
}

// Shutdown signals all workers to drain in-flight work and exit.
// Idempotent.
func (o *Orchestrator) Shutdown() {
	if o.running.CompareAndSwap(true, false) {
		close(o.shutdownC)
	}
}

// runWorker implements the per-worker work-stealing loop.
func (o *Orchestrator) runWorker(ctx context.Context, w *worker.Worker) {
	defer o.wg.Done()
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w.ID)))

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.shutdownC:
			return
		default:
		}

		w.Acquire()
		r, ok := w.Local.PopFront()
		if ok {
			o.executeRay(ctx, w, r)
			w.Release()
			continue
		}

		if batch := o.injector.PopBatch(o.cfg.StealBatchSize); len(batch) > 0 {
			if len(batch) > 1 {
				w.Local.PushBatchBack(batch[1:])
			}
			o.executeRay(ctx, w, batch[0])
			w.Release()
			continue
		}

		if r, stole := o.stealFromPeers(w, rng); stole {
			o.registry.IncrStolen()
			w.IncrStolen()
			o.executeRay(ctx, w, r)
			w.Release()
			continue
		}

		w.Release()

		select {
		case <-ctx.Done():
			return
		case <-o.shutdownC:
			return
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

// stealFromPeers picks a uniformly random starting offset over the other
// workers and, round-robin, attempts to steal from each worker's
// opposite end.
func (o *Orchestrator) stealFromPeers(self *worker.Worker, rng *rand.Rand) (*task.LogicRay, bool) {
	n := len(o.workers)
	if n <= 1 {
		return nil, false
	}
	start := rng.Intn(n)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		victim := o.workers[idx]
		if victim.ID == self.ID {
			continue
		}
		for {
			batch, res := victim.Local.StealBatch(o.cfg.StealBatchSize)
			switch res {
			case worker.StealOK:
				if len(batch) > 1 {
					self.Local.PushBatchBack(batch[1:])
				}
				return batch[0], true
			case worker.StealRetry:
				continue // transient contention with the owner; retry this victim
			case worker.StealEmpty:
			}
			break
		}
	}
	return nil, false
}

// executeRay runs a ray's payload via the configured Executor, then
// completes it in the registry and feeds the entropy monitor.
func (o *Orchestrator) executeRay(ctx context.Context, w *worker.Worker, r *task.LogicRay) {
	w.BeginRay(r)
	o.registry.MarkRunning(r.TaskID, w.ID)

	t, ok := o.registry.Get(r.TaskID)
	if !ok {
		w.EndRay()
		return
	}

	var err error
	if o.exec != nil {
		err = o.exec.Execute(ctx, t)
	}

	now := time.Now()
	if err != nil {
		o.registry.Fail(r.TaskID, err.Error())
	} else {
		d, completed := o.registry.Complete(r.TaskID, now)
		if completed && o.monitor != nil {
			o.monitor.RecordTask(r.Payload.Kind, d)
		}
	}
	o.pending.Add(-1)
	w.EndRay()
}

// SystemLoad composes entropy metrics with per-worker counters into a
// system_load snapshot.
func (o *Orchestrator) SystemLoad() entropy.SystemLoad {
	snap := o.registry.Snapshot()
	workers := make([]entropy.WorkerLoad, len(o.workers))
	for i, w := range o.workers {
		workers[i] = entropy.WorkerLoad{
			WorkerID:       w.ID,
			HasCurrentTask: w.InFlight() != nil,
			CompletedCount: w.CompletedCount(),
			LoadFactor:     w.LoadFactor(),
		}
	}
	met := entropy.Metrics{}
	if o.monitor != nil {
		met = o.monitor.CollectMetrics(int(snap.Submitted-snap.Completed-snap.Failed), int(snap.Pending))
	}
	sl := entropy.SystemLoad{Metrics: met, Workers: workers}
	if o.monitor != nil {
		sl.Bottleneck = o.monitor.DetectBottleneck(sl)
	}
	return sl
}

// Stats returns the registry-wide counters.
func (o *Orchestrator) Stats() task.Stats {
	return o.registry.Snapshot()
}
