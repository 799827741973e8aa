// Package patcher — patcher.go
//
// Live Patcher: classifies patch points by safety, verifies
// patches, applies them at favorable contexts, records health checks, and
// flags a patch for rollback when a crash or perf-regression check fails.
// The flag does not roll the patch back by itself; a rollback happens only
// through an explicit Rollback call. The state machine uses named constants plus
// String() and IsTerminal() methods; applied/rolled-back patches are
// durably recorded via internal/audit's go.etcd.io/bbolt-backed ledger,
// scoped to patch/dream audit history.

package patcher

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cogos-project/cogos-core/internal/audit"
)

// Safety is the closed set of patch-point safety classifications.
type Safety uint8

const (
	SafetyUnsafe Safety = iota
	SafetyConditional
	SafetySafeIdle
	SafetyAlwaysSafe
)

func (s Safety) String() string {
	switch s {
	case SafetyUnsafe:
		return "unsafe"
	case SafetyConditional:
		return "conditional"
	case SafetySafeIdle:
		return "safe_idle"
	case SafetyAlwaysSafe:
		return "always_safe"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// VerificationKind is the closed set of patch verification methods.
type VerificationKind uint8

const (
	VerificationChecksum VerificationKind = iota
	VerificationSemantic
	VerificationBehavioral
	VerificationPerformance
)

// Status is the closed set of live-patch lifecycle states. The transition
// graph is Pending -> (verify) -> PendingVerified -> (apply) -> Applied ->
// (health_check) -> Verified | Rolledback | Failed.
type Status uint8

const (
	StatusPending Status = iota
	StatusPendingVerified
	StatusApplying
	StatusApplied
	StatusVerified
	StatusRolledback
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPendingVerified:
		return "pending_verified"
	case StatusApplying:
		return "applying"
	case StatusApplied:
		return "applied"
	case StatusVerified:
		return "verified"
	case StatusRolledback:
		return "rolledback"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// IsTerminal reports whether the status admits no further transition.
func (s Status) IsTerminal() bool {
	return s == StatusVerified || s == StatusRolledback || s == StatusFailed
}

// MaxPendingPatches is the cap beyond which submit fails with
// ErrCapacityExceeded.
const MaxPendingPatches = 50

// healthHistoryCapacity is the circular buffer size for recorded health
// checks.
const healthHistoryCapacity = 50

// rollbackKindThreshold: health-check failures of kind strictly below this
// (crash, perf regression) set the rollback flag.
const rollbackKindThreshold = 3

// Error is a typed patcher error carrying a Kind so callers can errors.As
// and branch (following internal/governance.ConstitutionalViolation's shape).
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("patcher: %s: %s", e.Kind, e.Message) }

var (
	ErrCapacityExceeded        = &Error{Kind: "CapacityExceeded", Message: "pending patch queue is full"}
	ErrPatchNotFound           = &Error{Kind: "PatchNotFound", Message: "no such patch"}
	ErrPatchPointNotFound      = &Error{Kind: "PatchPointNotFound", Message: "no such patch point"}
	ErrNotVerified             = &Error{Kind: "NotVerified", Message: "patch has not passed verification"}
	ErrUnsafe                  = &Error{Kind: "Unsafe", Message: "patch point is classified unsafe"}
	ErrActiveCalls             = &Error{Kind: "ActiveCalls", Message: "patch point has active calls"}
	ErrContextUnfavorable      = &Error{Kind: "ContextUnfavorable", Message: "apply context is not favorable"}
	ErrBarrierRequired         = &Error{Kind: "BarrierRequired", Message: "conditional patch point requires a barrier guard"}
)

// PatchPoint is a code location registered in advance with a safety
// classification.
type PatchPoint struct {
	ID                 uint64
	Target             string
	Safety             Safety
	ActiveCallCount    int
	CanPatchDuringIdle bool
	CanPatchWithBarrier bool
	SafeWindowEstimateMS int64
}

// HealthCheckKind distinguishes the severity of a recorded health check.
// Kinds below rollbackKindThreshold are rollback-triggering.
type HealthCheckKind uint8

const (
	HealthCheckCrash           HealthCheckKind = 0
	HealthCheckPerfRegression  HealthCheckKind = 1
	HealthCheckWarning         HealthCheckKind = 2
	HealthCheckInfo            HealthCheckKind = 3
)

// HealthCheck is one recorded post-apply observation.
type HealthCheck struct {
	Kind    HealthCheckKind
	Passed  bool
	At      time.Time
	Message string
}

// LivePatch is a proposed code substitution at a registered patch point
//.
type LivePatch struct {
	ID                uint64
	PatchPointID      uint64
	OriginalCodeSize  int
	NewCodeSize       int
	VerificationKind  VerificationKind
	Verified          bool
	Status            Status
	RollbackFlagged   bool

	healthHistory [healthHistoryCapacity]HealthCheck
	healthNext    int
	healthCount   int
}

// Context reports the runtime conditions a caller evaluates an Apply
// against.
type Context struct {
	CPUIdlePct       float64
	ThreadCount      int
	TimeSinceSyscallMS int64
	HasBarrier       bool
}

// IsFavorable reports whether the context is quiescent enough to patch a
// live function without racing concurrent callers.
func (c Context) IsFavorable() bool {
	return c.CPUIdlePct > 50 && c.ThreadCount <= 4 && c.TimeSinceSyscallMS > 50
}

// Patcher serializes patch application (single Apply at a time) and
// durably records lifecycle transitions via internal/audit.
type Patcher struct {
	mu sync.Mutex

	points  map[uint64]*PatchPoint
	patches map[uint64]*LivePatch
	applyMu sync.Mutex // serializes Apply across all patches

	activePatches int

	ledger *audit.DB
	nodeID string
	log    *zap.Logger
}

// New creates a Patcher. ledger may be nil, in which case lifecycle
// transitions are not durably recorded (used in tests).
func New(ledger *audit.DB, nodeID string, log *zap.Logger) *Patcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Patcher{
		points:  make(map[uint64]*PatchPoint),
		patches: make(map[uint64]*LivePatch),
		ledger:  ledger,
		nodeID:  nodeID,
		log:     log,
	}
}

// RegisterPatchPoint records a point and its safety classification.
func (p *Patcher) RegisterPatchPoint(pt PatchPoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points[pt.ID] = &pt
}

// PatchPoint returns a copy of the registered patch point, if any.
func (p *Patcher) PatchPoint(id uint64) (PatchPoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pt, ok := p.points[id]
	if !ok {
		return PatchPoint{}, false
	}
	return *pt, true
}

// Submit queues a pending patch. Fails with ErrCapacityExceeded beyond
// MaxPendingPatches pending patches.
func (p *Patcher) Submit(lp LivePatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.points[lp.PatchPointID]; !ok {
		return ErrPatchPointNotFound
	}

	pending := 0
	for _, existing := range p.patches {
		if existing.Status == StatusPending || existing.Status == StatusPendingVerified {
			pending++
		}
	}
	if pending >= MaxPendingPatches {
		return ErrCapacityExceeded
	}

	lp.Status = StatusPending
	p.patches[lp.ID] = &lp
	p.recordPatchEvent(lp.ID, lp.PatchPointID, "", StatusPending.String(), "submitted")
	return nil
}

// Verify runs verification and transitions a Pending patch to
// PendingVerified on success. verify is the pluggable verification
// function for the configured VerificationKind (checksum/semantic/
// behavioral/performance comparison); it reports pass/fail.
func (p *Patcher) Verify(id uint64, verify func(LivePatch) bool) error {
	p.mu.Lock()
	lp, ok := p.patches[id]
	if !ok {
		p.mu.Unlock()
		return ErrPatchNotFound
	}
	p.mu.Unlock()

	ok2 := verify(*lp)

	p.mu.Lock()
	defer p.mu.Unlock()
	from := lp.Status.String()
	if ok2 {
		lp.Verified = true
		lp.Status = StatusPendingVerified
	} else {
		lp.Status = StatusFailed
	}
	p.recordPatchEvent(lp.ID, lp.PatchPointID, from, lp.Status.String(), "verify")
	if !ok2 {
		return &Error{Kind: "PatchVerificationFailed", Message: fmt.Sprintf("patch %d failed verification", id)}
	}
	return nil
}

// Apply applies a patch iff it is verified, the patch point's safety
// classification permits it under the given context, and ctx.IsFavorable()
// holds. Conditional-safety points additionally require ctx.HasBarrier
//. Success transitions status to Applied and
// increments the active-patch count. A failed apply leaves the patch in
// PendingVerified.
func (p *Patcher) Apply(id uint64, ctx Context) error {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()

	p.mu.Lock()
	lp, ok := p.patches[id]
	if !ok {
		p.mu.Unlock()
		return ErrPatchNotFound
	}
	pt, ok := p.points[lp.PatchPointID]
	if !ok {
		p.mu.Unlock()
		return ErrPatchPointNotFound
	}
	if !lp.Verified || lp.Status != StatusPendingVerified {
		p.mu.Unlock()
		return ErrNotVerified
	}
	from := lp.Status.String()
	p.mu.Unlock()

	if err := p.checkSafety(pt, ctx); err != nil {
		return err
	}
	if !ctx.IsFavorable() {
		return ErrContextUnfavorable
	}

	p.mu.Lock()
	lp.Status = StatusApplied
	p.activePatches++
	p.recordPatchEvent(lp.ID, lp.PatchPointID, from, lp.Status.String(), "apply")
	p.mu.Unlock()
	return nil
}

// checkSafety enforces the per-classification gating rule:
// Unsafe never applies; SafeIdle requires zero active calls; Conditional
// requires a barrier guard; AlwaysSafe has no further gate.
func (p *Patcher) checkSafety(pt *PatchPoint, ctx Context) error {
	switch pt.Safety {
	case SafetyUnsafe:
		return ErrUnsafe
	case SafetySafeIdle:
		if pt.ActiveCallCount != 0 {
			return ErrActiveCalls
		}
	case SafetyConditional:
		if !ctx.HasBarrier {
			return ErrBarrierRequired
		}
	case SafetyAlwaysSafe:
		// no additional gate
	}
	return nil
}

// RecordHealthCheck appends to the patch's 50-entry circular buffer.
// Failed checks of Kind < rollbackKindThreshold (crash, perf regression)
// set the rollback flag.
func (p *Patcher) RecordHealthCheck(id uint64, hc HealthCheck) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	lp, ok := p.patches[id]
	if !ok {
		return ErrPatchNotFound
	}
	if hc.At.IsZero() {
		hc.At = time.Now()
	}

	lp.healthHistory[lp.healthNext] = hc
	lp.healthNext = (lp.healthNext + 1) % healthHistoryCapacity
	if lp.healthCount < healthHistoryCapacity {
		lp.healthCount++
	}

	if !hc.Passed && hc.Kind < rollbackKindThreshold {
		lp.RollbackFlagged = true
	}
	return nil
}

// ShouldRollback reports whether the patch's rollback flag is set.
func (p *Patcher) ShouldRollback(id uint64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lp, ok := p.patches[id]
	if !ok {
		return false, ErrPatchNotFound
	}
	return lp.RollbackFlagged, nil
}

// Rollback transitions an Applied patch to Rolledback, decrementing the
// active-patch count.
func (p *Patcher) Rollback(id uint64, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	lp, ok := p.patches[id]
	if !ok {
		return ErrPatchNotFound
	}
	from := lp.Status.String()
	lp.Status = StatusRolledback
	if p.activePatches > 0 {
		p.activePatches--
	}
	p.recordPatchEvent(lp.ID, lp.PatchPointID, from, lp.Status.String(), reason)
	return nil
}

// MarkVerified transitions an Applied patch to Verified after a
// sufficient window of passing health checks with no rollback flag.
func (p *Patcher) MarkVerified(id uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	lp, ok := p.patches[id]
	if !ok {
		return ErrPatchNotFound
	}
	if lp.RollbackFlagged {
		return &Error{Kind: "RollbackFlagged", Message: "cannot verify a patch flagged for rollback"}
	}
	from := lp.Status.String()
	lp.Status = StatusVerified
	p.recordPatchEvent(lp.ID, lp.PatchPointID, from, lp.Status.String(), "health_check_window_passed")
	return nil
}

// ActivePatches returns the current number of applied patches that have
// not been rolled back: Apply increments it, Rollback decrements it, and
// MarkVerified leaves it unchanged.
func (p *Patcher) ActivePatches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activePatches
}

// Status returns the current status of a patch.
func (p *Patcher) Status(id uint64) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lp, ok := p.patches[id]
	if !ok {
		return 0, ErrPatchNotFound
	}
	return lp.Status, nil
}

func (p *Patcher) recordPatchEvent(patchID, pointID uint64, from, to, reason string) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.AppendPatchEvent(audit.PatchEvent{
		PatchID:    patchID,
		PatchPoint: pointID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		NodeID:     p.nodeID,
	}); err != nil {
		p.log.Warn("patcher: failed to write audit event", zap.Error(err), zap.Uint64("patch_id", patchID))
	}
}
