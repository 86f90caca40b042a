// Package statemachine implements the capture protection state machine.
//
// The machine is pure: it consumes signals, keeps the three protection
// inputs, and recomputes the decision from the whole state after every
// mutation. It performs no I/O and is not safe for concurrent use; the owner
// must serialize calls.
package statemachine

import "github.com/eliteGoblin/focusd/capguard/internal/domain"

// CaptureStateMachine translates signal history into a protection decision.
type CaptureStateMachine struct {
	state domain.ProtectionState
}

// New creates a machine in the cold-start state (foreground, not recording, no pulse).
func New() *CaptureStateMachine {
	return &CaptureStateMachine{state: domain.InitialState()}
}

// NewWithState creates a machine at an arbitrary state (for testing).
func NewWithState(state domain.ProtectionState) *CaptureStateMachine {
	return &CaptureStateMachine{state: state}
}

// Transition applies one signal and returns the recomputed decision.
// Foreground changes never touch an active screenshot pulse.
func (m *CaptureStateMachine) Transition(signal domain.Signal) domain.Decision {
	switch signal.Kind {
	case domain.SignalForegroundChanged:
		m.state.InForeground = signal.Value
	case domain.SignalRecordingChanged:
		m.state.IsRecording = signal.Value
	case domain.SignalScreenshotTaken:
		m.state.ScreenshotPulseActive = true
	}
	return m.CurrentDecision()
}

// AcknowledgeScreenshotPulse clears the pulse unconditionally.
func (m *CaptureStateMachine) AcknowledgeScreenshotPulse() domain.Decision {
	m.state.ScreenshotPulseActive = false
	return m.CurrentDecision()
}

// CurrentDecision recomputes the decision without mutating state.
func (m *CaptureStateMachine) CurrentDecision() domain.Decision {
	return domain.DecisionFor(m.state)
}

// State returns a snapshot of the current state.
func (m *CaptureStateMachine) State() domain.ProtectionState {
	return m.state
}
