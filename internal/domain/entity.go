// Package domain contains core protection entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// SignalKind identifies which input a Signal carries.
type SignalKind int

const (
	// SignalForegroundChanged reports whether the app is in the foreground.
	SignalForegroundChanged SignalKind = iota + 1
	// SignalRecordingChanged reports whether the OS has an active capture session.
	SignalRecordingChanged
	// SignalScreenshotTaken is instantaneous and carries no payload.
	SignalScreenshotTaken
)

func (k SignalKind) String() string {
	switch k {
	case SignalForegroundChanged:
		return "foreground_changed"
	case SignalRecordingChanged:
		return "recording_changed"
	case SignalScreenshotTaken:
		return "screenshot_taken"
	default:
		return fmt.Sprintf("signal(%d)", int(k))
	}
}

// Signal is a discrete input to the capture state machine.
// Value is meaningful for ForegroundChanged and RecordingChanged only.
type Signal struct {
	Kind  SignalKind
	Value bool
}

// ForegroundChanged builds a ForegroundChanged signal.
func ForegroundChanged(inForeground bool) Signal {
	return Signal{Kind: SignalForegroundChanged, Value: inForeground}
}

// RecordingChanged builds a RecordingChanged signal.
func RecordingChanged(isRecording bool) Signal {
	return Signal{Kind: SignalRecordingChanged, Value: isRecording}
}

// ScreenshotTaken builds a ScreenshotTaken signal.
func ScreenshotTaken() Signal {
	return Signal{Kind: SignalScreenshotTaken}
}

func (s Signal) String() string {
	if s.Kind == SignalScreenshotTaken {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s{%t}", s.Kind, s.Value)
}

// ProtectionState is the machine's persistent state.
type ProtectionState struct {
	InForeground          bool `json:"in_foreground"`
	IsRecording           bool `json:"is_recording"`
	ScreenshotPulseActive bool `json:"screenshot_pulse_active"`
}

// InitialState is the cold-start state: foreground, not recording, no pulse.
func InitialState() ProtectionState {
	return ProtectionState{InForeground: true}
}

// ShouldProtect is the protection formula.
func (s ProtectionState) ShouldProtect() bool {
	return !s.InForeground || s.IsRecording || s.ScreenshotPulseActive
}

// Decision is the output of the state machine.
// State is the snapshot the decision was computed from.
type Decision struct {
	ShouldProtect bool            `json:"should_protect"`
	State         ProtectionState `json:"state"`
}

// DecisionFor computes the decision for a state.
func DecisionFor(s ProtectionState) Decision {
	return Decision{ShouldProtect: s.ShouldProtect(), State: s}
}

// Reasons lists the conditions currently requiring protection.
func (d Decision) Reasons() []string {
	reasons := make([]string, 0, 3)
	if !d.State.InForeground {
		reasons = append(reasons, "background")
	}
	if d.State.IsRecording {
		reasons = append(reasons, "recording")
	}
	if d.State.ScreenshotPulseActive {
		reasons = append(reasons, "screenshot")
	}
	return reasons
}

// PlatformEvent is a raw lifecycle or capture callback from the host platform.
// Value is set for callbacks that carry a boolean payload
// (focus changed, capture state changed).
type PlatformEvent struct {
	Name  string    `json:"event"`
	Value *bool     `json:"value,omitempty"`
	At    time.Time `json:"at,omitempty"`
}

// NewPlatformEvent builds an event without payload.
func NewPlatformEvent(name string) PlatformEvent {
	return PlatformEvent{Name: name, At: time.Now()}
}

// NewPlatformEventWithValue builds an event carrying a boolean payload.
func NewPlatformEventWithValue(name string, value bool) PlatformEvent {
	return PlatformEvent{Name: name, Value: &value, At: time.Now()}
}

// Platform-neutral event names accepted by every platform profile.
const (
	EventAppEnteredForeground = "appEnteredForeground"
	EventAppLeftForeground    = "appLeftForeground"
	EventCaptureStateChanged  = "captureStateChanged"
	EventScreenshotTaken      = "screenshotTaken"
)

// PulsePolicy decides when the controller acknowledges a screenshot pulse.
type PulsePolicy string

const (
	// PulseOnForegroundRegain acknowledges when the app returns from background.
	PulseOnForegroundRegain PulsePolicy = "foreground-regain"
	// PulseAfterDuration acknowledges after a fixed display duration.
	PulseAfterDuration PulsePolicy = "duration"
	// PulseManual acknowledges only on explicit request.
	PulseManual PulsePolicy = "manual"
)

// Valid reports whether p is a known policy.
func (p PulsePolicy) Valid() bool {
	switch p {
	case PulseOnForegroundRegain, PulseAfterDuration, PulseManual:
		return true
	}
	return false
}

// ProcessInfo is one running process as seen by the capture detector.
type ProcessInfo struct {
	PID  int
	Name string
}

// HostStatus is the registry record of a running guard.
// Persisted to a hidden file for the status command.
type HostStatus struct {
	Version       int      `json:"version"`
	PID           int      `json:"pid"`
	Platform      string   `json:"platform"`
	SessionID     string   `json:"session_id"`
	StartedAt     int64    `json:"started_at"`
	LastHeartbeat int64    `json:"last_heartbeat"`
	Decision      Decision `json:"decision"`
	ApplyError    string   `json:"apply_error,omitempty"`
	AppVersion    string   `json:"app_version,omitempty"`
}

// JournalEntry is one audited controller step.
type JournalEntry struct {
	ID            int64
	SessionID     string
	Event         string
	Signal        string
	ShouldProtect bool
	State         ProtectionState
	Error         string
	RecordedAt    time.Time
}
