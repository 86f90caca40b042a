// Package fixtures provides test helpers for unit and integration tests.
package fixtures

import (
	"fmt"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

// Primitive names recorded by FakeHostWindow.
const (
	CallSecureOn   = "secure_flag(true)"
	CallSecureOff  = "secure_flag(false)"
	CallShowCover  = "show_cover"
	CallHideCover  = "hide_cover"
	CallWindowShow = "window_visible(true)"
	CallWindowHide = "window_visible(false)"
)

// FakeHostWindow simulates a host window and its protection primitives.
// Failures can be injected per primitive call name.
type FakeHostWindow struct {
	Secure       bool
	CoverShown   bool
	Visible      bool
	Calls        []string
	Failures     map[string]error
	coverRaisedN int
}

// NewFakeHostWindow creates a visible, unprotected window.
func NewFakeHostWindow() *FakeHostWindow {
	return &FakeHostWindow{
		Visible:  true,
		Failures: make(map[string]error),
	}
}

// Fail makes every subsequent call named call return err.
func (f *FakeHostWindow) Fail(call string, err error) {
	f.Failures[call] = err
}

// Heal removes every injected failure.
func (f *FakeHostWindow) Heal() {
	f.Failures = make(map[string]error)
}

// ContentExposed reports whether a capture of the window would show content.
func (f *FakeHostWindow) ContentExposed() bool {
	return f.Visible && !f.Secure && !f.CoverShown
}

// CoverRaises returns how many times the cover was raised.
func (f *FakeHostWindow) CoverRaises() int {
	return f.coverRaisedN
}

// ResetCalls clears the call log.
func (f *FakeHostWindow) ResetCalls() {
	f.Calls = nil
}

func (f *FakeHostWindow) record(call string) error {
	f.Calls = append(f.Calls, call)
	if err, ok := f.Failures[call]; ok {
		return err
	}
	return nil
}

func (f *FakeHostWindow) SetSecureRenderingFlag(secure bool) error {
	if err := f.record(fmt.Sprintf("secure_flag(%t)", secure)); err != nil {
		return err
	}
	f.Secure = secure
	return nil
}

func (f *FakeHostWindow) ShowOpaqueCover() error {
	if err := f.record(CallShowCover); err != nil {
		return err
	}
	f.CoverShown = true
	f.coverRaisedN++
	return nil
}

func (f *FakeHostWindow) HideOpaqueCover() error {
	if err := f.record(CallHideCover); err != nil {
		return err
	}
	f.CoverShown = false
	return nil
}

func (f *FakeHostWindow) SetWindowVisible(visible bool) error {
	if err := f.record(fmt.Sprintf("window_visible(%t)", visible)); err != nil {
		return err
	}
	f.Visible = visible
	return nil
}

// Ensure FakeHostWindow implements domain.HostWindow.
var _ domain.HostWindow = (*FakeHostWindow)(nil)
