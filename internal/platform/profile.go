// Package platform implements the Strategy pattern for host-specific protection.
// Each host (Android, iOS, desktop) has its own profile defining how callbacks
// map to signals and which primitive covers the content.
package platform

import (
	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

// binding describes how one callback name becomes a Signal.
// When fromPayload is set the signal value is taken from the event.
type binding struct {
	kind        domain.SignalKind
	value       bool
	fromPayload bool
}

func fixed(kind domain.SignalKind, value bool) binding {
	return binding{kind: kind, value: value}
}

func payload(kind domain.SignalKind) binding {
	return binding{kind: kind, fromPayload: true}
}

// neutralBindings are accepted by every profile.
var neutralBindings = map[string]binding{
	domain.EventAppEnteredForeground: fixed(domain.SignalForegroundChanged, true),
	domain.EventAppLeftForeground:    fixed(domain.SignalForegroundChanged, false),
	domain.EventCaptureStateChanged:  payload(domain.SignalRecordingChanged),
	domain.EventScreenshotTaken:      fixed(domain.SignalScreenshotTaken, false),
}

// eventTable maps callback names for one platform.
type eventTable struct {
	platform string
	bindings map[string]binding
}

func newEventTable(platform string, native map[string]binding) eventTable {
	all := make(map[string]binding, len(neutralBindings)+len(native))
	for name, b := range neutralBindings {
		all[name] = b
	}
	for name, b := range native {
		all[name] = b
	}
	return eventTable{platform: platform, bindings: all}
}

// mapEvent translates event into exactly one Signal.
func (t eventTable) mapEvent(event domain.PlatformEvent) (domain.Signal, error) {
	b, ok := t.bindings[event.Name]
	if !ok {
		return domain.Signal{}, &domain.SignalMappingError{
			Platform: t.platform,
			Event:    event.Name,
			Err:      domain.ErrUnknownEvent,
		}
	}

	if !b.fromPayload {
		return domain.Signal{Kind: b.kind, Value: b.value}, nil
	}
	if event.Value == nil {
		return domain.Signal{}, &domain.SignalMappingError{
			Platform: t.platform,
			Event:    event.Name,
			Err:      domain.ErrMissingValue,
		}
	}
	return domain.Signal{Kind: b.kind, Value: *event.Value}, nil
}

// events returns the callback names known to the table.
func (t eventTable) events() []string {
	names := make([]string, 0, len(t.bindings))
	for name := range t.bindings {
		names = append(names, name)
	}
	return names
}

// applyAll runs every step and returns the first error as a PrimitiveApplyError.
// All steps are attempted even when an earlier one fails.
func applyAll(engage bool, steps ...primitiveStep) error {
	var first error
	for _, s := range steps {
		if err := s.fn(); err != nil && first == nil {
			first = &domain.PrimitiveApplyError{Primitive: s.name, Engage: engage, Err: err}
		}
	}
	return first
}

type primitiveStep struct {
	name string
	fn   func() error
}

func step(name string, fn func() error) primitiveStep {
	return primitiveStep{name: name, fn: fn}
}
