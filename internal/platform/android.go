package platform

import (
	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

// AndroidProfile protects with the declarative secure window flag.
// The flag is reset per activity instance, so it is re-set on every engage.
type AndroidProfile struct {
	table eventTable
}

// NewAndroidProfile creates the Android profile.
func NewAndroidProfile() *AndroidProfile {
	return &AndroidProfile{
		table: newEventTable("android", map[string]binding{
			// Activity is created or started but not yet interactive.
			"onCreate":  fixed(domain.SignalForegroundChanged, false),
			"onStart":   fixed(domain.SignalForegroundChanged, false),
			"onRestart": fixed(domain.SignalForegroundChanged, false),
			"onResume":  fixed(domain.SignalForegroundChanged, true),
			"onPause":   fixed(domain.SignalForegroundChanged, false),
			"onStop":    fixed(domain.SignalForegroundChanged, false),
			"onDestroy": fixed(domain.SignalForegroundChanged, false),

			"onWindowFocusChanged":     payload(domain.SignalForegroundChanged),
			"onScreenCaptured":         fixed(domain.SignalScreenshotTaken, false),
			"onScreenRecordingChanged": payload(domain.SignalRecordingChanged),
		}),
	}
}

func (p *AndroidProfile) ID() string   { return "android" }
func (p *AndroidProfile) Name() string { return "Android (secure flag)" }

// Map translates an activity callback into a Signal.
func (p *AndroidProfile) Map(event domain.PlatformEvent) (domain.Signal, error) {
	return p.table.mapEvent(event)
}

// Engage sets the secure flag. Once the flag holds, a foreground window
// hidden by an earlier ForceHide is shown again; a backgrounded one is left
// as is until the app is in front.
func (p *AndroidProfile) Engage(host domain.HostWindow, d domain.Decision) error {
	if err := host.SetSecureRenderingFlag(true); err != nil {
		return &domain.PrimitiveApplyError{Primitive: "secure_flag", Engage: true, Err: err}
	}
	if !d.State.InForeground {
		return nil
	}
	if err := host.SetWindowVisible(true); err != nil {
		return &domain.PrimitiveApplyError{Primitive: "window_visible", Engage: true, Err: err}
	}
	return nil
}

// Disengage clears the secure flag and makes sure the window is visible
// again after a previous force hide.
func (p *AndroidProfile) Disengage(host domain.HostWindow, _ domain.Decision) error {
	return applyAll(false,
		step("secure_flag", func() error { return host.SetSecureRenderingFlag(false) }),
		step("window_visible", func() error { return host.SetWindowVisible(true) }),
	)
}

// ForceHide hides the window content when the flag cannot be set.
func (p *AndroidProfile) ForceHide(host domain.HostWindow) error {
	return applyAll(true,
		step("window_visible", func() error { return host.SetWindowVisible(false) }),
	)
}

// Events returns the callback names this profile understands.
func (p *AndroidProfile) Events() []string { return p.table.events() }

// Ensure AndroidProfile implements domain.PlatformProfile.
var _ domain.PlatformProfile = (*AndroidProfile)(nil)
