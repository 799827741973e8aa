package dream

import "testing"

// TestController_ThermalModerateScalesBudget verifies that requesting
// 60000ms/102400KB at thermal=Moderate yields an effective time budget
// of approximately 45000ms (x0.75).
func TestController_ThermalModerateScalesBudget(t *testing.T) {
	c := NewController()
	c.SetEnabled(true)
	c.SetThermal(ThermalModerate)

	session, err := c.Start(Budget{TimeMS: 60000, MemoryKB: 102400})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if session.TimeBudgetMS != 45000 {
		t.Fatalf("expected scaled time budget of 45000ms, got %d", session.TimeBudgetMS)
	}
	if session.MemoryBudgetKB != 76800 {
		t.Fatalf("expected scaled memory budget of 76800KB, got %d", session.MemoryBudgetKB)
	}
}

func TestController_SevereThermalAndLowBatteryCompoundScaling(t *testing.T) {
	c := NewController()
	c.SetEnabled(true)
	c.SetThermal(ThermalSevere)
	c.SetPower(PowerLowBattery)

	session, err := c.Start(Budget{TimeMS: 1000, MemoryKB: 1000})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if session.TimeBudgetMS != 250 {
		t.Fatalf("expected 0.5*0.5=0.25 scaling, got %d", session.TimeBudgetMS)
	}
}

func TestController_SessionEndsWhenBudgetExhausted(t *testing.T) {
	c := NewController()
	c.SetEnabled(true)
	if _, err := c.Start(Budget{TimeMS: 100, MemoryKB: 1000}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if ok := c.RunCycle(60, 2, 1); !ok {
		t.Fatalf("expected cycle to run")
	}
	session, _ := c.Current()
	if session.State != StateActive {
		t.Fatalf("expected session still active after partial budget spend, got %v", session.State)
	}

	if ok := c.RunCycle(60, 2, 1); !ok {
		t.Fatalf("expected cycle to run")
	}
	session, _ = c.Current()
	if session.State != StateEnded {
		t.Fatalf("expected session to end once budget exhausted, got %v", session.State)
	}
	if session.CompletedCycles != 2 || session.MutationsAttempted != 4 || session.MutationsSucceeded != 2 {
		t.Fatalf("unexpected accounting: %+v", session)
	}
}

func TestController_StartRejectedWhenDisabledOrPausedOrCritical(t *testing.T) {
	c := NewController()
	if _, err := c.Start(Budget{TimeMS: 1, MemoryKB: 1}); err == nil {
		t.Fatalf("expected disabled controller to reject Start")
	}

	c.SetEnabled(true)
	c.Pause()
	if _, err := c.Start(Budget{TimeMS: 1, MemoryKB: 1}); err == nil {
		t.Fatalf("expected paused controller to reject Start")
	}
	c.Resume()

	c.SetThermal(ThermalCritical)
	if _, err := c.Start(Budget{TimeMS: 1, MemoryKB: 1}); err == nil {
		t.Fatalf("expected thermal-critical controller to reject Start")
	}
}

// TestController_CriticalThrottlesAndAutoResumes verifies that
// ThermalCritical marks an active session Throttled, and clearing it
// auto-resumes.
func TestController_CriticalThrottlesAndAutoResumes(t *testing.T) {
	c := NewController()
	c.SetEnabled(true)
	if _, err := c.Start(Budget{TimeMS: 10000, MemoryKB: 1000}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.SetThermal(ThermalCritical)
	session, _ := c.Current()
	if session.State != StateThrottled {
		t.Fatalf("expected Throttled on thermal critical, got %v", session.State)
	}

	c.SetThermal(ThermalNominal)
	session, _ = c.Current()
	if session.State != StateActive {
		t.Fatalf("expected auto-resume to Active once critical clears, got %v", session.State)
	}
}

func TestController_UserPauseIsOrthogonalToThrottling(t *testing.T) {
	c := NewController()
	c.SetEnabled(true)
	if _, err := c.Start(Budget{TimeMS: 10000, MemoryKB: 1000}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.Pause()
	session, _ := c.Current()
	if session.State != StatePaused {
		t.Fatalf("expected Paused after user pause, got %v", session.State)
	}

	c.SetThermal(ThermalCritical)
	c.SetThermal(ThermalNominal)
	session, _ = c.Current()
	if session.State != StatePaused {
		t.Fatalf("expected user pause to persist across a thermal excursion, got %v", session.State)
	}
}
