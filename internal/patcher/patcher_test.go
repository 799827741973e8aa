package patcher

import "testing"

func favorableCtx() Context {
	return Context{CPUIdlePct: 80, ThreadCount: 2, TimeSinceSyscallMS: 100}
}

func submitVerified(t *testing.T, p *Patcher, id, pointID uint64) {
	t.Helper()
	if err := p.Submit(LivePatch{ID: id, PatchPointID: pointID}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := p.Verify(id, func(LivePatch) bool { return true }); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestPatcher_UnsafePatchPointNeverApplies(t *testing.T) {
	p := New(nil, "node1", nil)
	p.RegisterPatchPoint(PatchPoint{ID: 1, Safety: SafetyUnsafe})
	submitVerified(t, p, 1, 1)

	if err := p.Apply(1, favorableCtx()); err != ErrUnsafe {
		t.Fatalf("expected ErrUnsafe, got %v", err)
	}
}

func TestPatcher_SafeIdleRequiresZeroActiveCalls(t *testing.T) {
	p := New(nil, "node1", nil)
	p.RegisterPatchPoint(PatchPoint{ID: 1, Safety: SafetySafeIdle, ActiveCallCount: 2})
	submitVerified(t, p, 1, 1)

	if err := p.Apply(1, favorableCtx()); err != ErrActiveCalls {
		t.Fatalf("expected ErrActiveCalls, got %v", err)
	}

	p.points[1].ActiveCallCount = 0
	if err := p.Apply(1, favorableCtx()); err != nil {
		t.Fatalf("expected apply to succeed once active calls drain, got %v", err)
	}
}

// TestPatcher_ConditionalSafetyRequiresBarrier exercises a Conditional
// patch point with active_call_count=2: it rejects an apply without a
// barrier guard and succeeds with one.
func TestPatcher_ConditionalSafetyRequiresBarrier(t *testing.T) {
	p := New(nil, "node1", nil)
	p.RegisterPatchPoint(PatchPoint{ID: 1, Safety: SafetyConditional, ActiveCallCount: 2, CanPatchWithBarrier: true})
	submitVerified(t, p, 1, 1)

	ctxNoBarrier := favorableCtx()
	if err := p.Apply(1, ctxNoBarrier); err != ErrBarrierRequired {
		t.Fatalf("expected ErrBarrierRequired without a barrier, got %v", err)
	}

	ctxWithBarrier := favorableCtx()
	ctxWithBarrier.HasBarrier = true
	if err := p.Apply(1, ctxWithBarrier); err != nil {
		t.Fatalf("expected apply with barrier to succeed, got %v", err)
	}
	if got := p.ActivePatches(); got != 1 {
		t.Fatalf("expected active-patch count to increment to 1, got %d", got)
	}
}

func TestPatcher_ApplyRejectsUnfavorableContext(t *testing.T) {
	p := New(nil, "node1", nil)
	p.RegisterPatchPoint(PatchPoint{ID: 1, Safety: SafetyAlwaysSafe})
	submitVerified(t, p, 1, 1)

	unfavorable := Context{CPUIdlePct: 10, ThreadCount: 8, TimeSinceSyscallMS: 1}
	if err := p.Apply(1, unfavorable); err != ErrContextUnfavorable {
		t.Fatalf("expected ErrContextUnfavorable, got %v", err)
	}
}

func TestPatcher_SubmitFailsWhenCapacityExceeded(t *testing.T) {
	p := New(nil, "node1", nil)
	p.RegisterPatchPoint(PatchPoint{ID: 1, Safety: SafetyAlwaysSafe})
	for i := uint64(1); i <= MaxPendingPatches; i++ {
		if err := p.Submit(LivePatch{ID: i, PatchPointID: 1}); err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}
	if err := p.Submit(LivePatch{ID: MaxPendingPatches + 1, PatchPointID: 1}); err != ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestPatcher_HealthCheckFailureSetsRollbackFlag(t *testing.T) {
	p := New(nil, "node1", nil)
	p.RegisterPatchPoint(PatchPoint{ID: 1, Safety: SafetyAlwaysSafe})
	submitVerified(t, p, 1, 1)
	if err := p.Apply(1, favorableCtx()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if err := p.RecordHealthCheck(1, HealthCheck{Kind: HealthCheckCrash, Passed: false}); err != nil {
		t.Fatalf("RecordHealthCheck: %v", err)
	}
	rollback, err := p.ShouldRollback(1)
	if err != nil {
		t.Fatalf("ShouldRollback: %v", err)
	}
	if !rollback {
		t.Fatalf("expected crash-kind failure to flag rollback")
	}
}

func TestPatcher_HealthCheckWarningDoesNotFlagRollback(t *testing.T) {
	p := New(nil, "node1", nil)
	p.RegisterPatchPoint(PatchPoint{ID: 1, Safety: SafetyAlwaysSafe})
	submitVerified(t, p, 1, 1)
	if err := p.Apply(1, favorableCtx()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if err := p.RecordHealthCheck(1, HealthCheck{Kind: HealthCheckWarning, Passed: false}); err != nil {
		t.Fatalf("RecordHealthCheck: %v", err)
	}
	rollback, err := p.ShouldRollback(1)
	if err != nil {
		t.Fatalf("ShouldRollback: %v", err)
	}
	if rollback {
		t.Fatalf("expected a warning-kind failure to not flag rollback")
	}
}

func TestPatcher_ApplyFailsFastWithoutVerification(t *testing.T) {
	p := New(nil, "node1", nil)
	p.RegisterPatchPoint(PatchPoint{ID: 1, Safety: SafetyAlwaysSafe})
	if err := p.Submit(LivePatch{ID: 1, PatchPointID: 1}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := p.Apply(1, favorableCtx()); err != ErrNotVerified {
		t.Fatalf("expected ErrNotVerified, got %v", err)
	}
}
