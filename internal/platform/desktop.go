package platform

import (
	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

// DesktopProfile protects a desktop window with an overlay.
// Recording signals usually come from the capture-tool detector.
type DesktopProfile struct {
	table eventTable
}

// NewDesktopProfile creates the desktop profile.
func NewDesktopProfile() *DesktopProfile {
	return &DesktopProfile{
		table: newEventTable("desktop", map[string]binding{
			"focusGained": fixed(domain.SignalForegroundChanged, true),
			"focusLost":   fixed(domain.SignalForegroundChanged, false),
			"minimized":   fixed(domain.SignalForegroundChanged, false),
			"restored":    fixed(domain.SignalForegroundChanged, true),
		}),
	}
}

func (p *DesktopProfile) ID() string   { return "desktop" }
func (p *DesktopProfile) Name() string { return "Desktop (overlay)" }

// Map translates a window or detector event into a Signal.
func (p *DesktopProfile) Map(event domain.PlatformEvent) (domain.Signal, error) {
	return p.table.mapEvent(event)
}

// Engage raises the overlay, and hides the window when backgrounded.
func (p *DesktopProfile) Engage(host domain.HostWindow, d domain.Decision) error {
	return engageOverlay(host, d)
}

// Disengage shows the window and removes the overlay.
func (p *DesktopProfile) Disengage(host domain.HostWindow, _ domain.Decision) error {
	return disengageOverlay(host)
}

// ForceHide hides the whole window.
func (p *DesktopProfile) ForceHide(host domain.HostWindow) error {
	return applyAll(true,
		step("window_visible", func() error { return host.SetWindowVisible(false) }),
	)
}

// Events returns the callback names this profile understands.
func (p *DesktopProfile) Events() []string { return p.table.events() }

// Ensure DesktopProfile implements domain.PlatformProfile.
var _ domain.PlatformProfile = (*DesktopProfile)(nil)
