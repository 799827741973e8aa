package orchestrator_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cogos-project/cogos-core/internal/entropy"
	"github.com/cogos-project/cogos-core/internal/orchestrator"
	"github.com/cogos-project/cogos-core/internal/task"
)

// countingExecutor executes every task instantly and counts executions,
// used to assert at-most-once execution under concurrent work-stealing.
type countingExecutor struct {
	executions map[task.ID]*atomic.Int32
}

func newCountingExecutor(ids []task.ID) *countingExecutor {
	m := make(map[task.ID]*atomic.Int32, len(ids))
	for _, id := range ids {
		m[id] = &atomic.Int32{}
	}
	return &countingExecutor{executions: m}
}

func (c *countingExecutor) Execute(ctx context.Context, t task.Task) error {
	if n, ok := c.executions[t.ID]; ok {
		n.Add(1)
	}
	return nil
}

func newTestOrchestrator(workers int, exec orchestrator.Executor) *orchestrator.Orchestrator {
	cfg := orchestrator.DefaultConfig()
	cfg.WorkerCount = workers
	cfg.PollInterval = time.Millisecond
	reg := task.NewRegistry()
	mon := entropy.NewMonitor(entropy.DefaultCapacity, entropy.DefaultThresholds())
	return orchestrator.New(cfg, reg, mon, exec, nil)
}

func TestOrchestrator_AtMostOnceExecution(t *testing.T) {
	const numTasks = 100
	reg := task.NewRegistry()
	mon := entropy.NewMonitor(entropy.DefaultCapacity, entropy.DefaultThresholds())
	cfg := orchestrator.DefaultConfig()
	cfg.WorkerCount = 2
	cfg.PollInterval = time.Millisecond

	exec := newCountingExecutor(nil)
	o := orchestrator.New(cfg, reg, mon, exec, nil)

	ids := make([]task.ID, 0, numTasks)
	for i := 0; i < numTasks; i++ {
		id, err := o.Submit(task.Task{Priority: task.PriorityNormal, Payload: task.Payload{Kind: task.PayloadCompute}})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, id)
	}
	exec.executions = map[task.ID]*atomic.Int32{}
	for _, id := range ids {
		exec.executions[id] = &atomic.Int32{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		o.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		snap := o.Stats()
		if snap.Completed+snap.Failed >= numTasks {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	o.Shutdown()
	<-done

	for _, id := range ids {
		if n := exec.executions[id].Load(); n != 1 {
			t.Fatalf("task %d executed %d times, want exactly 1", id, n)
		}
	}
}

func TestOrchestrator_QueueOverflow(t *testing.T) {
	reg := task.NewRegistry()
	mon := entropy.NewMonitor(entropy.DefaultCapacity, entropy.DefaultThresholds())
	cfg := orchestrator.DefaultConfig()
	cfg.WorkerCount = 0 // New substitutes the default; Start is never called, so nothing drains
	cfg.MaxQueueSize = 3
	o := orchestrator.New(cfg, reg, mon, nil, nil)

	for i := 0; i < 3; i++ {
		if _, err := o.Submit(task.Task{Payload: task.Payload{Kind: task.PayloadCompute}}); err != nil {
			t.Fatalf("submit %d: unexpected error %v", i, err)
		}
	}
	_, err := o.Submit(task.Task{Payload: task.Payload{Kind: task.PayloadCompute}})
	if err == nil {
		t.Fatal("expected QueueOverflow error")
	}
	var oe *orchestrator.Error
	if !asOrchestratorError(err, &oe) {
		t.Fatalf("expected *orchestrator.Error, got %T", err)
	}
	if oe.Kind != orchestrator.ErrQueueOverflow {
		t.Fatalf("expected ErrQueueOverflow, got %v", oe.Kind)
	}
	if oe.Pending != 3 {
		t.Fatalf("expected pending=3 in error, got %d", oe.Pending)
	}
}

func asOrchestratorError(err error, target **orchestrator.Error) bool {
	oe, ok := err.(*orchestrator.Error)
	if !ok {
		return false
	}
	*target = oe
	return true
}

func TestOrchestrator_SubmitBatchIndependentFailures(t *testing.T) {
	reg := task.NewRegistry()
	mon := entropy.NewMonitor(entropy.DefaultCapacity, entropy.DefaultThresholds())
	cfg := orchestrator.DefaultConfig()
	cfg.WorkerCount = 0
	cfg.MaxQueueSize = 2
	o := orchestrator.New(cfg, reg, mon, nil, nil)

	batch := make([]task.Task, 5)
	for i := range batch {
		batch[i] = task.Task{Payload: task.Payload{Kind: task.PayloadCompute}}
	}
	results := o.SubmitBatch(batch)
	okCount := 0
	for _, r := range results {
		if r.Err == nil {
			okCount++
		}
	}
	if okCount != 2 {
		t.Fatalf("expected exactly 2 successful submits before overflow, got %d", okCount)
	}
}

func TestOrchestrator_StolenNeverExceedsCompleted(t *testing.T) {
	const numTasks = 200
	o := newTestOrchestrator(4, newCountingExecutor(nil))
	ids := make([]task.ID, 0, numTasks)
	for i := 0; i < numTasks; i++ {
		id, err := o.Submit(task.Task{Payload: task.Payload{Kind: task.PayloadCompute}})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		o.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if snap := o.Stats(); snap.Completed+snap.Failed >= numTasks {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	o.Shutdown()
	<-done

	snap := o.Stats()
	if snap.Completed != numTasks {
		t.Fatalf("expected all %d tasks completed, got %d", numTasks, snap.Completed)
	}
	// Stolen count is conserved: every completion is either a local pop or
	// a steal, and the registry's Stolen counter never exceeds Completed.
	if snap.Stolen > snap.Completed {
		t.Fatalf("stolen count %d exceeds completed count %d", snap.Stolen, snap.Completed)
	}
}
