package lifecycle

import "testing"

func TestCurrentPhase_DefaultStarting(t *testing.T) {
	reset()
	if got := CurrentPhase(); got != PhaseStarting {
		t.Errorf("CurrentPhase() = %v, want starting", got)
	}
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false by default")
	}
}

func TestMarkRunning(t *testing.T) {
	reset()
	MarkRunning()
	if got := CurrentPhase(); got != PhaseRunning {
		t.Errorf("CurrentPhase() = %v, want running", got)
	}
	MarkRunning()
	if got := CurrentPhase(); got != PhaseRunning {
		t.Errorf("second MarkRunning() changed phase to %v", got)
	}
}

func TestDrainingIsFinal(t *testing.T) {
	reset()
	defer reset()
	SetPhase(PhaseDraining)
	SetPhase(PhaseRunning)
	MarkRunning()
	if !IsShuttingDown() {
		t.Errorf("CurrentPhase() = %v, want shutting-down", CurrentPhase())
	}
}

func TestPhase_String(t *testing.T) {
	tests := map[Phase]string{
		PhaseStarting: "starting",
		PhaseRunning:  "running",
		PhaseDraining: "shutting-down",
		Phase(7):      "unknown",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", p, got, want)
		}
	}
}
