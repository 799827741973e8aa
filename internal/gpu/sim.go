// Package gpu — sim.go
//
// SimPipeline is the deterministic software megakernel used in tests and
// whenever no native GPU backend is registered. It claims rays in order
// up to iterationBudget per round, mirroring a compute shader's
// fetch-and-increment head protocol: exit at iteration_budget or
// head>=tail.

package gpu

import "context"

// SimPipeline simulates the compute shader's claim discipline entirely
// in-process. Always available.
type SimPipeline struct {
	// FailEvery, if > 0, makes every FailEvery-th Dispatch call fail, for
	// exercising the permanent-CPU-fallback path in tests.
	FailEvery int
	calls     int
}

func (p *SimPipeline) Available() bool { return true }

func (p *SimPipeline) Dispatch(ctx context.Context, rays []Ray, iterationBudget uint32) (uint32, uint32, []RayOutcome, error) {
	p.calls++
	if p.FailEvery > 0 && p.calls%p.FailEvery == 0 {
		return 0, 0, nil, context.DeadlineExceeded
	}

	tail := uint32(len(rays))
	claimed := iterationBudget
	if claimed > tail {
		claimed = tail
	}

	outcomes := make([]RayOutcome, claimed)
	for i := uint32(0); i < claimed; i++ {
		outcomes[i] = RayOutcome{TaskID: rays[i].TaskID, Success: true}
	}
	return claimed, tail, outcomes, nil
}
