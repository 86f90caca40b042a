// Package usecase contains application business logic.
package usecase

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
	"github.com/eliteGoblin/focusd/capguard/internal/statemachine"
)

// DefaultPulseDuration is how long a screenshot cover stays up under the duration policy.
const DefaultPulseDuration = 5 * time.Second

// ControllerConfig holds protection controller configuration.
type ControllerConfig struct {
	PulsePolicy   domain.PulsePolicy
	PulseDuration time.Duration // Only used by the duration policy
	SessionID     string        // Tags journal entries
}

// DefaultControllerConfig returns default controller configuration.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		PulsePolicy:   domain.PulseOnForegroundRegain,
		PulseDuration: DefaultPulseDuration,
	}
}

// ProtectionController bridges platform callbacks to the state machine and
// the machine's decisions to the platform's protection primitive.
//
// It owns the only state machine instance and keeps no protection booleans
// of its own. It is not safe for concurrent use: callers must deliver events
// one at a time, in platform order.
type ProtectionController struct {
	config  ControllerConfig
	machine *statemachine.CaptureStateMachine
	profile domain.PlatformProfile
	host    domain.HostWindow
	journal domain.EventJournal
	logger  *zap.Logger

	lastApplyErr  error
	hostFailure   error // Set while the host reports it cannot protect
	pulseRaisedAt time.Time
	now           func() time.Time
}

// NewProtectionController creates a controller with a fresh state machine.
func NewProtectionController(
	config ControllerConfig,
	profile domain.PlatformProfile,
	host domain.HostWindow,
	logger *zap.Logger,
) *ProtectionController {
	return NewProtectionControllerWithJournal(config, profile, host, nil, logger)
}

// NewProtectionControllerWithJournal creates a controller that records every step.
func NewProtectionControllerWithJournal(
	config ControllerConfig,
	profile domain.PlatformProfile,
	host domain.HostWindow,
	journal domain.EventJournal,
	logger *zap.Logger,
) *ProtectionController {
	if !config.PulsePolicy.Valid() {
		config.PulsePolicy = domain.PulseOnForegroundRegain
	}
	if config.PulseDuration <= 0 {
		config.PulseDuration = DefaultPulseDuration
	}
	return &ProtectionController{
		config:  config,
		machine: statemachine.New(),
		profile: profile,
		host:    host,
		journal: journal,
		logger:  logger,
		now:     time.Now,
	}
}

// OnPlatformEvent maps one platform callback to a signal, transitions the
// machine and applies the resulting decision.
// Unmapped callbacks leave state untouched; the current decision is still
// re-asserted.
func (c *ProtectionController) OnPlatformEvent(event domain.PlatformEvent) {
	signal, err := c.profile.Map(event)
	if err != nil {
		c.logger.Warn("ignoring unmapped platform event",
			zap.String("platform", c.profile.ID()),
			zap.String("event", event.Name),
			zap.Error(err))
		d := c.machine.CurrentDecision()
		c.ApplyDecision(d)
		c.record(event.Name, "", d, err)
		return
	}

	c.handleSignal(event.Name, signal)
}

// Resync pushes freshly queried platform state through the machine.
// Used right after construction and after an engine restart. A resync also
// ends a hold placed by OnPrimitiveFailed.
func (c *ProtectionController) Resync(inForeground, isRecording bool) domain.Decision {
	c.hostFailure = nil
	c.handleSignal("resync", domain.ForegroundChanged(inForeground))
	c.handleSignal("resync", domain.RecordingChanged(isRecording))
	return c.machine.CurrentDecision()
}

// OnPrimitiveFailed handles a host report that primitive could not be
// performed. While protection is required the window is force-hidden and
// kept hidden on every re-assert until protection is no longer required or
// the host resyncs. Engage is still retried each time.
func (c *ProtectionController) OnPrimitiveFailed(primitive, reason string) domain.Decision {
	if primitive == "" {
		primitive = "unknown"
	}
	cause := domain.ErrHostPrimitiveFailed
	if reason != "" {
		cause = fmt.Errorf("%w: %s", domain.ErrHostPrimitiveFailed, reason)
	}

	d := c.machine.CurrentDecision()
	err := &domain.PrimitiveApplyError{Primitive: primitive, Engage: d.ShouldProtect, Err: cause}
	c.lastApplyErr = err

	if !d.ShouldProtect {
		c.logger.Warn("host failed to lower protection",
			zap.String("platform", c.profile.ID()),
			zap.String("primitive", primitive),
			zap.Error(err))
		c.record("primitiveFailed", "", d, err)
		return d
	}

	c.hostFailure = err
	c.logger.Warn("host failed to engage protection, forcing hide",
		zap.String("platform", c.profile.ID()),
		zap.String("primitive", primitive),
		zap.Strings("reasons", d.Reasons()),
		zap.Error(err))
	c.forceHide()
	c.record("primitiveFailed", "", d, err)
	return d
}

// AcknowledgeScreenshotPulse dismisses an active screenshot cover.
// Protection stays engaged while any other condition holds.
func (c *ProtectionController) AcknowledgeScreenshotPulse() domain.Decision {
	d := c.machine.AcknowledgeScreenshotPulse()
	c.pulseRaisedAt = time.Time{}
	c.ApplyDecision(d)
	c.record("ack", "acknowledge_screenshot_pulse", d, nil)
	return d
}

// Reassert re-applies the current decision. Platforms may silently reset
// secure flags and overlays, so this runs on every opportunity.
func (c *ProtectionController) Reassert() domain.Decision {
	d := c.machine.CurrentDecision()
	c.ApplyDecision(d)
	return d
}

// Tick applies the duration pulse policy at time now.
// Returns true if the pulse was acknowledged.
func (c *ProtectionController) Tick(now time.Time) bool {
	deadline, ok := c.PulseDeadline()
	if !ok || now.Before(deadline) {
		return false
	}
	c.logger.Info("screenshot cover display duration elapsed",
		zap.Duration("duration", c.config.PulseDuration))
	c.AcknowledgeScreenshotPulse()
	return true
}

// PulseDeadline returns when the duration policy will dismiss the active pulse.
func (c *ProtectionController) PulseDeadline() (time.Time, bool) {
	if c.config.PulsePolicy != domain.PulseAfterDuration {
		return time.Time{}, false
	}
	if !c.machine.State().ScreenshotPulseActive || c.pulseRaisedAt.IsZero() {
		return time.Time{}, false
	}
	return c.pulseRaisedAt.Add(c.config.PulseDuration), true
}

// ApplyDecision engages or disengages the platform cover.
// Engage failures fail closed: the window is force-hidden and the error is
// logged, never returned. The next callback re-asserts.
func (c *ProtectionController) ApplyDecision(d domain.Decision) {
	if d.ShouldProtect {
		target := d
		if c.hostFailure != nil {
			target = hiddenDecision(d)
		}

		err := c.profile.Engage(c.host, target)
		switch {
		case err != nil:
			c.lastApplyErr = err
			c.logger.Warn("failed to engage protection, forcing hide",
				zap.String("platform", c.profile.ID()),
				zap.Strings("reasons", d.Reasons()),
				zap.Error(err))
		case c.hostFailure != nil:
			c.lastApplyErr = c.hostFailure
		default:
			c.lastApplyErr = nil
			return
		}
		c.forceHide()
		return
	}

	c.hostFailure = nil
	err := c.profile.Disengage(c.host, d)
	c.lastApplyErr = err
	if err != nil {
		c.logger.Warn("failed to disengage protection",
			zap.String("platform", c.profile.ID()),
			zap.Error(err))
	}
}

func (c *ProtectionController) forceHide() {
	if err := c.profile.ForceHide(c.host); err != nil {
		c.logger.Error("fail-closed hide failed",
			zap.String("platform", c.profile.ID()),
			zap.Error(err))
	}
}

// hiddenDecision returns d as seen by a backgrounded app, for which every
// profile leaves the window hidden.
func hiddenDecision(d domain.Decision) domain.Decision {
	d.State.InForeground = false
	return d
}

// Decision returns the decision computed from the current state.
func (c *ProtectionController) Decision() domain.Decision {
	return c.machine.CurrentDecision()
}

// LastApplyError returns the error of the most recent primitive call, if any.
func (c *ProtectionController) LastApplyError() error {
	return c.lastApplyErr
}

// Platform returns the active profile ID.
func (c *ProtectionController) Platform() string {
	return c.profile.ID()
}

func (c *ProtectionController) handleSignal(source string, signal domain.Signal) {
	prev := c.machine.State()
	d := c.machine.Transition(signal)

	if signal.Kind == domain.SignalScreenshotTaken && !prev.ScreenshotPulseActive {
		c.pulseRaisedAt = c.now()
		c.logger.Info("screenshot detected, cover raised",
			zap.String("policy", string(c.config.PulsePolicy)))
	}

	if c.regainsForeground(prev, signal, d) {
		d = c.machine.AcknowledgeScreenshotPulse()
		c.pulseRaisedAt = time.Time{}
		c.logger.Info("screenshot cover dismissed on foreground regain")
	}

	c.logger.Debug("signal applied",
		zap.String("source", source),
		zap.Stringer("signal", signal),
		zap.Bool("should_protect", d.ShouldProtect),
		zap.Strings("reasons", d.Reasons()))

	c.ApplyDecision(d)
	c.record(source, signal.String(), d, c.lastApplyErr)
}

// regainsForeground reports whether the foreground-regain policy should
// dismiss the pulse after signal moved the app from background to foreground.
func (c *ProtectionController) regainsForeground(prev domain.ProtectionState, signal domain.Signal, d domain.Decision) bool {
	return c.config.PulsePolicy == domain.PulseOnForegroundRegain &&
		signal.Kind == domain.SignalForegroundChanged &&
		signal.Value &&
		!prev.InForeground &&
		d.State.ScreenshotPulseActive
}

func (c *ProtectionController) record(event, signal string, d domain.Decision, err error) {
	if c.journal == nil {
		return
	}
	entry := domain.JournalEntry{
		SessionID:     c.config.SessionID,
		Event:         event,
		Signal:        signal,
		ShouldProtect: d.ShouldProtect,
		State:         d.State,
		RecordedAt:    c.now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if jerr := c.journal.Record(entry); jerr != nil {
		c.logger.Debug("failed to record journal entry", zap.Error(jerr))
	}
}
