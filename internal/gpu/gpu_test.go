package gpu_test

import (
	"context"
	"testing"

	"github.com/cogos-project/cogos-core/internal/gpu"
	"github.com/cogos-project/cogos-core/internal/task"
)

func makeRays(n int) []task.LogicRay {
	rays := make([]task.LogicRay, n)
	for i := range rays {
		rays[i] = task.LogicRay{TaskID: task.ID(i + 1), Payload: task.Payload{Kind: task.PayloadCompute}}
	}
	return rays
}

func TestAdapter_PartialBatchRequeuesRemainder(t *testing.T) {
	a := gpu.NewAdapter(&gpu.SimPipeline{}, 256, 4, 64)
	rays := makeRays(512)

	result, err := a.Dispatch(context.Background(), rays)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CompletedUntil+len(result.Requeued) != len(rays) {
		t.Fatalf("expected completed+requeued to conserve batch size: completed=%d requeued=%d total=%d",
			result.CompletedUntil, len(result.Requeued), len(rays))
	}
	if result.CompletedUntil == 0 {
		t.Fatal("expected at least some rays to complete within the dispatch budget")
	}
}

func TestAdapter_FullBatchCompletesWithinDispatchBudget(t *testing.T) {
	a := gpu.NewAdapter(&gpu.SimPipeline{}, 256, 8, 64)
	rays := makeRays(256)

	result, err := a.Dispatch(context.Background(), rays)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CompletedUntil != len(rays) {
		t.Fatalf("expected full batch to complete within budget, got completed=%d of %d", result.CompletedUntil, len(rays))
	}
	if len(result.Requeued) != 0 {
		t.Fatalf("expected no requeue for a fully completed batch, got %d", len(result.Requeued))
	}
}

func TestAdapter_SubmissionFailureFallsBackPermanently(t *testing.T) {
	a := gpu.NewAdapter(&gpu.SimPipeline{FailEvery: 1}, 256, 4, 64)
	rays := makeRays(8)

	result, err := a.Dispatch(context.Background(), rays)
	if err != nil {
		t.Fatalf("dispatch failures must not surface as an error: %v", err)
	}
	if len(result.Requeued) != len(rays) {
		t.Fatalf("expected the entire batch requeued on submission failure, got %d of %d", len(result.Requeued), len(rays))
	}
	if a.Available() {
		t.Fatal("expected adapter to have latched permanent CPU fallback")
	}
}

func TestAdapter_WorkgroupCount(t *testing.T) {
	a := gpu.NewAdapter(&gpu.SimPipeline{}, 256, 4, 64)
	if got := a.WorkgroupCount(512); got != 2 {
		t.Fatalf("expected ceil(512/256)=2, got %d", got)
	}
	if got := a.WorkgroupCount(1); got != 1 {
		t.Fatalf("expected ceil(1/256)=1, got %d", got)
	}
	if got := a.WorkgroupCount(0); got != 0 {
		t.Fatalf("expected 0 workgroups for an empty batch, got %d", got)
	}
}
