package reflex_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cogos-project/cogos-core/internal/entropy"
	"github.com/cogos-project/cogos-core/internal/gpu"
	"github.com/cogos-project/cogos-core/internal/reflex"
	"github.com/cogos-project/cogos-core/internal/task"
)

// fakeSource is an in-memory TaskSource for testing the frame loop in
// isolation from the full orchestrator.
type fakeSource struct {
	mu    sync.Mutex
	queue []*task.LogicRay
}

func (f *fakeSource) DrainForReflex(n int) []*task.LogicRay {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.queue) {
		n = len(f.queue)
	}
	out := f.queue[:n]
	f.queue = f.queue[n:]
	return out
}

func (f *fakeSource) RequeueForReflex(rays []*task.LogicRay) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, rays...)
}

func TestEngine_DrainAndCompleteViaCPUSimulation(t *testing.T) {
	reg := task.NewRegistry()
	source := &fakeSource{}
	for i := 0; i < 50; i++ {
		tk := task.Task{ID: task.ID(i + 1), Payload: task.Payload{Kind: task.PayloadCompute}}
		reg.Put(&tk)
		source.queue = append(source.queue, &task.LogicRay{TaskID: tk.ID, Payload: tk.Payload})
	}

	mon := entropy.NewMonitor(entropy.DefaultCapacity, entropy.DefaultThresholds())
	cfg := reflex.DefaultConfig()
	cfg.TargetFrameTime = 5 * time.Millisecond
	cfg.PerFrameLimit = 1000
	eng := reflex.New(cfg, source, reg, mon, gpu.NewAdapter(gpu.NullPipeline{}, 256, 4, 64), nil)

	var frames []reflex.FrameStats
	var fmu sync.Mutex
	eng.OnFrame(func(s reflex.FrameStats) {
		fmu.Lock()
		frames = append(frames, s)
		fmu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = eng.Run(ctx)

	snap := reg.Snapshot()
	if snap.Completed != 50 {
		t.Fatalf("expected all 50 rays completed via CPU simulation, got %d", snap.Completed)
	}
}

func TestEngine_GPUPartialBatchRequeuesToSource(t *testing.T) {
	reg := task.NewRegistry()
	source := &fakeSource{}
	for i := 0; i < 512; i++ {
		tk := task.Task{ID: task.ID(i + 1), Payload: task.Payload{Kind: task.PayloadCompute}}
		reg.Put(&tk)
		source.queue = append(source.queue, &task.LogicRay{TaskID: tk.ID, Payload: tk.Payload})
	}

	mon := entropy.NewMonitor(entropy.DefaultCapacity, entropy.DefaultThresholds())
	cfg := reflex.DefaultConfig()
	cfg.TargetFrameTime = 5 * time.Millisecond
	cfg.PerFrameLimit = 512
	adapter := gpu.NewAdapter(&gpu.SimPipeline{}, 256, 1, 64) // 1 dispatch round, iteration_budget=64 < 512
	eng := reflex.New(cfg, source, reg, mon, adapter, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = eng.Run(ctx)

	snap := reg.Snapshot()
	if snap.Completed != 512 {
		t.Fatalf("expected all rays eventually completed across frames, got %d", snap.Completed)
	}
}
