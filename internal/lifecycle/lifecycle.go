// Package lifecycle tracks the process phase for health reporting and request admission.
package lifecycle

import "sync/atomic"

type Phase int32

const (
	// PhaseStarting lasts until the first widget render.
	PhaseStarting Phase = iota
	PhaseRunning
	// PhaseDraining starts on SIGTERM/SIGINT; new refresh requests are refused.
	PhaseDraining
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "shutting-down"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

// SetPhase moves the process to p. Draining is final: later calls are ignored.
func SetPhase(p Phase) {
	for {
		cur := phase.Load()
		if Phase(cur) == PhaseDraining {
			return
		}
		if phase.CompareAndSwap(cur, int32(p)) {
			return
		}
	}
}

// MarkRunning moves Starting to Running and leaves any other phase alone.
func MarkRunning() {
	phase.CompareAndSwap(int32(PhaseStarting), int32(PhaseRunning))
}

func CurrentPhase() Phase {
	return Phase(phase.Load())
}

// IsShuttingDown returns true once the process is draining.
func IsShuttingDown() bool {
	return CurrentPhase() == PhaseDraining
}

// reset puts the process back to Starting. For tests only.
func reset() {
	phase.Store(int32(PhaseStarting))
}
