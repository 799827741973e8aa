// Package dream — dream.go
//
// Dream Mode Controller: gates the evolution loop on
// idle/thermal/power state and allocates scaled time/memory budgets per
// session. The state machine is a struct-with-mutex guarding a small
// set of named states: Idle/Active/Paused/Throttled/Ended.

package dream

import (
	"fmt"
	"sync"
	"time"
)

// State is the closed set of dream-session states.
type State uint8

const (
	StateIdle State = iota
	StateActive
	StatePaused
	StateThrottled
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateThrottled:
		return "throttled"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// IsTerminal reports whether the state admits no further transition.
func (s State) IsTerminal() bool { return s == StateEnded }

// ThermalState is the closed set of thermal pressure levels gating
// session budgets.
type ThermalState uint8

const (
	ThermalNominal ThermalState = iota
	ThermalModerate
	ThermalSevere
	ThermalCritical
)

// PowerState is the closed set of power pressure levels gating session
// budgets.
type PowerState uint8

const (
	PowerNormal PowerState = iota
	PowerLowBattery
	PowerCritical
)

// Budget is a session's requested time/memory allowance before scaling.
type Budget struct {
	TimeMS    int64
	MemoryKB  int64
}

// scale applies the thermal/power scaling rules:
// Thermal Moderate -> x0.75, Severe -> x0.5; Power LowBattery -> x0.5.
// Multiple factors compose multiplicatively.
func (b Budget) scale(thermal ThermalState, power PowerState) Budget {
	factor := 1.0
	switch thermal {
	case ThermalModerate:
		factor *= 0.75
	case ThermalSevere:
		factor *= 0.5
	}
	if power == PowerLowBattery {
		factor *= 0.5
	}
	return Budget{
		TimeMS:   int64(float64(b.TimeMS) * factor),
		MemoryKB: int64(float64(b.MemoryKB) * factor),
	}
}

// Session is a single dream-mode evolution window.
type Session struct {
	ID                uint64
	State             State
	TimeBudgetMS      int64
	MemoryBudgetKB    int64
	CompletedCycles   int
	MutationsAttempted int
	MutationsSucceeded int
	StartedAt         time.Time
}

// Controller gates dream-session starts and drives a session's budget
// through its lifecycle.
type Controller struct {
	mu sync.Mutex

	enabled bool
	paused  bool
	thermal ThermalState
	power   PowerState

	nextID  uint64
	session *Session
}

// NewController creates a Controller. Dream mode starts disabled; call
// SetEnabled(true) to allow sessions.
func NewController() *Controller {
	return &Controller{}
}

// SetEnabled toggles whether the controller will start new sessions.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Pause and Resume are user-triggered and orthogonal to throttling
//.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	if c.session != nil && c.session.State == StateActive {
		c.session.State = StatePaused
	}
}

func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	if c.session != nil && c.session.State == StatePaused {
		c.session.State = StateActive
	}
}

// SetThermal updates the thermal pressure reading. Transitioning to
// Critical throttles any active session, suspending further cycles but
// preserving its state for resume. Clearing Critical
// auto-resumes a throttled session.
func (c *Controller) SetThermal(t ThermalState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.thermal
	c.thermal = t
	c.applyCriticalTransition(prev == ThermalCritical || c.power == PowerCritical)
}

// SetPower updates the power pressure reading, with the same Critical
// throttling/auto-resume semantics as SetThermal.
func (c *Controller) SetPower(p PowerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prevCritical := c.thermal == ThermalCritical || c.power == PowerCritical
	c.power = p
	c.applyCriticalTransition(prevCritical)
}

func (c *Controller) applyCriticalTransition(wasCritical bool) {
	if c.session == nil {
		return
	}
	nowCritical := c.thermal == ThermalCritical || c.power == PowerCritical
	switch {
	case nowCritical && !wasCritical && c.session.State == StateActive:
		c.session.State = StateThrottled
	case !nowCritical && wasCritical && c.session.State == StateThrottled && !c.paused:
		c.session.State = StateActive
	}
}

// Start begins a new session iff the controller is enabled, the user has
// not paused, and neither thermal nor power is Critical.
// Requested budgets are scaled by the current thermal/power pressure.
func (c *Controller) Start(requested Budget) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return nil, fmt.Errorf("dream: controller is disabled")
	}
	if c.paused {
		return nil, fmt.Errorf("dream: user has paused evolution")
	}
	if c.thermal == ThermalCritical {
		return nil, fmt.Errorf("dream: thermal state is critical")
	}
	if c.power == PowerCritical {
		return nil, fmt.Errorf("dream: power state is critical")
	}
	if c.session != nil && !c.session.State.IsTerminal() {
		return nil, fmt.Errorf("dream: a session is already in progress")
	}

	scaled := requested.scale(c.thermal, c.power)
	c.nextID++
	c.session = &Session{
		ID:             c.nextID,
		State:          StateActive,
		TimeBudgetMS:   scaled.TimeMS,
		MemoryBudgetKB: scaled.MemoryKB,
		StartedAt:      time.Now(),
	}
	return c.session, nil
}

// Current returns a copy of the in-progress session, if any.
func (c *Controller) Current() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// RunCycle charges one cycle's elapsed time against the session's budget,
// recording mutation attempt/success counts. Ending the session when the
// budget is exhausted. Returns false if no cycle could run
// (session absent, not Active, or already ended).
func (c *Controller) RunCycle(elapsedMS int64, mutationsAttempted, mutationsSucceeded int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || c.session.State != StateActive {
		return false
	}

	c.session.CompletedCycles++
	c.session.MutationsAttempted += mutationsAttempted
	c.session.MutationsSucceeded += mutationsSucceeded
	c.session.TimeBudgetMS -= elapsedMS

	if c.session.TimeBudgetMS <= 0 {
		c.session.TimeBudgetMS = 0
		c.session.State = StateEnded
	}
	return true
}

// End forcibly ends the in-progress session.
func (c *Controller) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.State = StateEnded
	}
}
