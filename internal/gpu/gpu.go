// Package gpu — gpu.go
//
// GPU Dispatch Adapter: packs each batch into fixed-layout Ray records
// and runs the bounded re-dispatch protocol against a Pipeline. The
// adapter holds no durable task-queue, output or readback buffers of its
// own; a fresh packed slice is built per Dispatch call and outcomes come
// back from the Pipeline. rayHeader documents the 16-byte header layout
// and carries an init() size assertion so that layout cannot silently
// drift.

package gpu

import (
	"context"
	"errors"
	"unsafe"

	"github.com/cogos-project/cogos-core/internal/task"
)

// rayHeader is the 16-byte task-queue buffer header.
type rayHeader struct {
	Head            uint32
	Tail            uint32
	Capacity        uint32
	IterationBudget uint32
}

const rayHeaderSize = 16

func init() {
	if unsafe.Sizeof(rayHeader{}) != rayHeaderSize {
		panic("gpu: rayHeader size drifted from the 16-byte wire layout")
	}
}

// Ray is the fixed binary-compatible per-ray record packed into the task
// queue buffer after the header.
type Ray struct {
	TaskID   uint64
	Kind     uint32
	Duration uint32 // estimated duration, ns-scaled hint for the CPU-sim pipeline
}

// RayOutcome is a single shader write-back in the output buffer.
type RayOutcome struct {
	TaskID  uint64
	Success bool
}

// DispatchResult summarizes one Dispatch call.
type DispatchResult struct {
	Outcomes        []RayOutcome
	CompletedUntil  int
	Requeued        []*task.LogicRay
	DispatchRounds  int
}

// ErrReadbackFailed is the error a Pipeline may report when the header
// readback buffer could not be mapped. Adapter.Dispatch handles it like
// any other pipeline error: it latches permanent CPU fallback and
// requeues the uncompleted rays, so it does not stop the engine.
var ErrReadbackFailed = errors.New("gpu: header readback map failure")

// Pipeline is the compute backend abstraction:
// grounded on the GPUExecutor interface pattern from the
// GPU-Aware-Batch-Router reference example, simulation-backed by default
// since no real GPU binding exists anywhere in the example corpus.
type Pipeline interface {
	// Available reports whether this pipeline can currently accept a
	// dispatch (a real backend would check for device loss here).
	Available() bool

	// Dispatch submits a packed batch and blocks until the shader reports
	// submitted-work-done, returning the observed (head, tail) pair for
	// this round. iterationBudget bounds per-invocation shader iterations.
	Dispatch(ctx context.Context, rays []Ray, iterationBudget uint32) (headObs, tailObs uint32, outcomes []RayOutcome, err error)
}

// NullPipeline always reports unavailable, forcing the engine onto CPU
// simulation. Loss of a GPU device is detected lazily: once a dispatch
// fails the engine falls back to CPU simulation permanently.
type NullPipeline struct{}

func (NullPipeline) Available() bool { return false }

func (NullPipeline) Dispatch(context.Context, []Ray, uint32) (uint32, uint32, []RayOutcome, error) {
	return 0, 0, nil, errors.New("gpu: NullPipeline never dispatches")
}

// Adapter owns the dispatch protocol for one orchestrator instance.
type Adapter struct {
	pipeline        Pipeline
	workgroupSize   int
	maxDispatches   int
	iterationBudget uint32

	// permanentFallback latches true the first time GPU submission fails
	// and stays true for the remainder of the process.
	permanentFallback bool
}

// NewAdapter creates an Adapter. iterationBudget is clamped to [1, 4096].
func NewAdapter(pipeline Pipeline, workgroupSize, maxDispatches int, iterationBudget uint32) *Adapter {
	if iterationBudget < 1 {
		iterationBudget = 1
	}
	if iterationBudget > 4096 {
		iterationBudget = 4096
	}
	if workgroupSize < 1 {
		workgroupSize = 256
	}
	if maxDispatches < 1 {
		maxDispatches = 1
	}
	return &Adapter{
		pipeline:        pipeline,
		workgroupSize:   workgroupSize,
		maxDispatches:   maxDispatches,
		iterationBudget: iterationBudget,
	}
}

// Available reports whether a GPU dispatch should be attempted this
// frame: the pipeline must be healthy and no prior dispatch may have
// permanently fallen back to CPU simulation.
func (a *Adapter) Available() bool {
	return !a.permanentFallback && a.pipeline.Available()
}

// WorkgroupCount computes ceil(batchSize / workgroupSize).
func (a *Adapter) WorkgroupCount(batchSize int) int {
	if batchSize <= 0 {
		return 0
	}
	return (batchSize + a.workgroupSize - 1) / a.workgroupSize
}

// Dispatch runs the bounded re-dispatch protocol for one non-empty batch
// of rays. On submission failure the adapter latches permanent CPU
// fallback and returns the rays not yet completed as requeued rather than
// a fatal error: a submission failure reverts only that frame's remaining
// rays to CPU simulation, with all subsequent frames following via
// permanentFallback.
func (a *Adapter) Dispatch(ctx context.Context, rays []task.LogicRay) (DispatchResult, error) {
	packed := make([]Ray, len(rays))
	for i, r := range rays {
		packed[i] = Ray{TaskID: uint64(r.TaskID), Kind: uint32(r.Payload.Kind)}
	}

	var result DispatchResult
	completedUntil := 0

	for round := 0; round < a.maxDispatches; round++ {
		result.DispatchRounds++

		headObs, tailObs, outcomes, err := a.pipeline.Dispatch(ctx, packed[completedUntil:], a.iterationBudget)
		if err != nil {
			a.permanentFallback = true
			result.Requeued = rawsToLogicRays(rays[completedUntil:])
			return result, nil
		}

		batchSize := uint32(len(packed) - completedUntil)
		if headObs > tailObs {
			headObs = tailObs
		}
		if tailObs > batchSize {
			tailObs = batchSize
		}

		result.Outcomes = append(result.Outcomes, outcomes...)
		completedUntil += int(headObs)
		result.CompletedUntil = completedUntil

		if headObs >= tailObs {
			break
		}
	}

	if completedUntil < len(packed) {
		result.Requeued = rawsToLogicRays(rays[completedUntil:])
	}
	return result, nil
}

func rawsToLogicRays(rays []task.LogicRay) []*task.LogicRay {
	out := make([]*task.LogicRay, len(rays))
	for i := range rays {
		r := rays[i]
		out[i] = &r
	}
	return out
}
