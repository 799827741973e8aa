// Package orchestrator — executor.go
//
// DeterministicExecutor is the default Executor used by cmd/cogosd: it
// simulates a task's work as a function of its payload, sleeping for
// PayloadCompute's EstimatedDuration and treating every other payload
// kind as effectively instantaneous bookkeeping. Mirrors the Reflex
// Engine's CPU-simulation fallback so both fabrics present
// the same "simulate, don't actually execute arbitrary code" posture in
// a module with no real compute backend.

package orchestrator

import (
	"context"
	"time"

	"github.com/cogos-project/cogos-core/internal/task"
)

// DeterministicExecutor executes tasks by simulating their declared
// duration rather than running arbitrary payload code.
type DeterministicExecutor struct{}

// NewDeterministicExecutor creates a DeterministicExecutor.
func NewDeterministicExecutor() *DeterministicExecutor {
	return &DeterministicExecutor{}
}

// Execute blocks for the payload's estimated duration (PayloadCompute) or
// returns immediately for other payload kinds, honoring ctx cancellation.
func (e *DeterministicExecutor) Execute(ctx context.Context, t task.Task) error {
	if t.Payload.Kind != task.PayloadCompute || t.Payload.EstimatedDuration <= 0 {
		return nil
	}
	timer := time.NewTimer(t.Payload.EstimatedDuration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
