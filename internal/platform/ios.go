package platform

import (
	"errors"
	"fmt"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

// IOSProfile protects with an imperative opaque overlay.
// When backgrounded the whole window is hidden as well.
type IOSProfile struct {
	table eventTable
}

// NewIOSProfile creates the iOS profile.
func NewIOSProfile() *IOSProfile {
	return &IOSProfile{
		table: newEventTable("ios", map[string]binding{
			"applicationDidBecomeActive":     fixed(domain.SignalForegroundChanged, true),
			"applicationWillEnterForeground": fixed(domain.SignalForegroundChanged, true),
			"applicationWillResignActive":    fixed(domain.SignalForegroundChanged, false),
			"applicationDidEnterBackground":  fixed(domain.SignalForegroundChanged, false),
			"userDidTakeScreenshot":          fixed(domain.SignalScreenshotTaken, false),
			"capturedDidChange":              payload(domain.SignalRecordingChanged),
		}),
	}
}

func (p *IOSProfile) ID() string   { return "ios" }
func (p *IOSProfile) Name() string { return "iOS (opaque overlay)" }

// Map translates an application delegate or notification callback into a Signal.
func (p *IOSProfile) Map(event domain.PlatformEvent) (domain.Signal, error) {
	return p.table.mapEvent(event)
}

// Engage raises the overlay, and hides the window when backgrounded.
func (p *IOSProfile) Engage(host domain.HostWindow, d domain.Decision) error {
	return engageOverlay(host, d)
}

// Disengage shows the window and removes the overlay.
func (p *IOSProfile) Disengage(host domain.HostWindow, _ domain.Decision) error {
	return disengageOverlay(host)
}

// ForceHide hides the whole window.
func (p *IOSProfile) ForceHide(host domain.HostWindow) error {
	return applyAll(true,
		step("window_visible", func() error { return host.SetWindowVisible(false) }),
	)
}

// Events returns the callback names this profile understands.
func (p *IOSProfile) Events() []string { return p.table.events() }

func engageOverlay(host domain.HostWindow, d domain.Decision) error {
	if err := host.ShowOpaqueCover(); err != nil {
		if hideErr := host.SetWindowVisible(false); hideErr != nil {
			err = errors.Join(err, fmt.Errorf("hide window: %w", hideErr))
		}
		return &domain.PrimitiveApplyError{Primitive: "opaque_cover", Engage: true, Err: err}
	}
	// The window is shown again only once the cover is up.
	if err := host.SetWindowVisible(d.State.InForeground); err != nil {
		return &domain.PrimitiveApplyError{Primitive: "window_visible", Engage: true, Err: err}
	}
	return nil
}

func disengageOverlay(host domain.HostWindow) error {
	return applyAll(false,
		step("window_visible", func() error { return host.SetWindowVisible(true) }),
		step("opaque_cover", host.HideOpaqueCover),
	)
}

// Ensure IOSProfile implements domain.PlatformProfile.
var _ domain.PlatformProfile = (*IOSProfile)(nil)
