package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
	"github.com/eliteGoblin/focusd/capguard/internal/infra"
	"github.com/eliteGoblin/focusd/capguard/internal/platform"
	"github.com/eliteGoblin/focusd/capguard/internal/usecase"
	"github.com/eliteGoblin/focusd/capguard/test/fixtures"
)

// mockStatusRegistry implements domain.StatusRegistry for testing
type mockStatusRegistry struct {
	status      *domain.HostStatus
	registerErr error
	decisions   []domain.Decision
	heartbeats  int
	cleared     bool
}

func (m *mockStatusRegistry) Register(status domain.HostStatus) error {
	if m.registerErr != nil {
		return m.registerErr
	}
	m.status = &status
	return nil
}

func (m *mockStatusRegistry) UpdateDecision(d domain.Decision, applyErr error) error {
	m.decisions = append(m.decisions, d)
	if m.status != nil {
		m.status.Decision = d
	}
	return nil
}

func (m *mockStatusRegistry) UpdateHeartbeat() error {
	m.heartbeats++
	return nil
}

func (m *mockStatusRegistry) Get() (*domain.HostStatus, error) { return m.status, nil }
func (m *mockStatusRegistry) IsAlive() (bool, error)           { return m.status != nil, nil }
func (m *mockStatusRegistry) GetRegistryPath() string          { return "/tmp/mock-status" }

func (m *mockStatusRegistry) Clear() error {
	m.cleared = true
	m.status = nil
	return nil
}

// mockDetector returns scripted results, repeating the last one.
type mockDetector struct {
	results []bool
	err     error
	calls   int
}

func (m *mockDetector) Detect() (bool, []string, error) {
	m.calls++
	if m.err != nil {
		return false, nil, m.err
	}
	i := m.calls - 1
	if i >= len(m.results) {
		i = len(m.results) - 1
	}
	if m.results[i] {
		return true, []string{"obs"}, nil
	}
	return false, nil, nil
}

// mockReporter records reported decisions.
type mockReporter struct {
	decisions []domain.Decision
	errs      []error
}

func (m *mockReporter) ReportDecision(d domain.Decision, applyErr error) error {
	m.decisions = append(m.decisions, d)
	m.errs = append(m.errs, applyErr)
	return nil
}

// slowConfig keeps tickers out of the way of scripted tests.
func slowConfig() GuardConfig {
	return GuardConfig{
		ReassertInterval:  time.Hour,
		DetectInterval:    time.Hour,
		HeartbeatInterval: time.Hour,
	}
}

func newTestGuard(t *testing.T, profile domain.PlatformProfile, policy domain.PulsePolicy, detector domain.CaptureDetector) (*Guard, *usecase.ProtectionController, *fixtures.FakeHostWindow, *mockStatusRegistry, *mockReporter) {
	t.Helper()
	host := fixtures.NewFakeHostWindow()
	cfg := usecase.DefaultControllerConfig()
	cfg.PulsePolicy = policy
	cfg.PulseDuration = 5 * time.Millisecond
	controller := usecase.NewProtectionController(cfg, profile, host, zap.NewNop())

	registry := &mockStatusRegistry{}
	reporter := &mockReporter{}
	status := domain.HostStatus{PID: 42, Platform: profile.ID(), SessionID: "test"}
	g := NewGuard(slowConfig(), controller, registry, detector, reporter, status, zap.NewNop())
	return g, controller, host, registry, reporter
}

func feed(msgs ...infra.BridgeMessage) <-chan infra.BridgeMessage {
	ch := make(chan infra.BridgeMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return ch
}

func msg(event string) infra.BridgeMessage {
	return infra.BridgeMessage{Event: event}
}

func msgWith(event string, v bool) infra.BridgeMessage {
	return infra.BridgeMessage{Event: event, Value: &v}
}

// TestDefaultGuardConfig verifies default guard configuration
func TestDefaultGuardConfig(t *testing.T) {
	config := DefaultGuardConfig()

	assert.Equal(t, 2*time.Second, config.ReassertInterval)
	assert.Equal(t, 3*time.Second, config.DetectInterval)
	assert.Equal(t, 30*time.Second, config.HeartbeatInterval)
}

func TestGuard_ProcessesEventsInOrder(t *testing.T) {
	g, controller, host, registry, reporter := newTestGuard(t, platform.NewAndroidProfile(), domain.PulseManual, nil)

	events := feed(
		msg("onResume"),
		msg("onPause"),
		msg("onResume"),
		msgWith("onScreenRecordingChanged", true),
	)
	require.NoError(t, g.Run(context.Background(), events))

	d := controller.Decision()
	assert.True(t, d.ShouldProtect)
	assert.True(t, d.State.InForeground)
	assert.True(t, d.State.IsRecording)
	assert.True(t, host.Secure)

	// One report for the cold start plus one per event.
	assert.Len(t, reporter.decisions, 5)
	assert.True(t, reporter.decisions[2].ShouldProtect, "onPause must protect")
	assert.False(t, reporter.decisions[3].ShouldProtect)

	require.Len(t, registry.decisions, 5)
	assert.True(t, registry.cleared, "registry is cleared on exit")
}

func TestGuard_RegistersStatus(t *testing.T) {
	g, _, _, registry, _ := newTestGuard(t, platform.NewDesktopProfile(), domain.PulseManual, nil)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan infra.BridgeMessage)
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx, events) }()

	events <- msg("focusLost") // handled once Register has run
	cancel()
	err := <-done

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, registry.cleared)
	require.NotEmpty(t, registry.decisions)
	assert.True(t, registry.decisions[len(registry.decisions)-1].ShouldProtect)
}

func TestGuard_RegisterFailure(t *testing.T) {
	g, _, host, registry, _ := newTestGuard(t, platform.NewDesktopProfile(), domain.PulseManual, nil)
	registry.registerErr = errors.New("disk full")

	err := g.Run(context.Background(), feed(msg("focusLost")))
	require.Error(t, err)
	assert.Empty(t, host.Calls, "no primitive touched before registration")
	assert.False(t, registry.cleared)
}

func TestGuard_AckAndResync(t *testing.T) {
	g, controller, host, _, _ := newTestGuard(t, platform.NewIOSProfile(), domain.PulseManual, nil)

	fg, rec := true, false
	events := feed(
		msg("userDidTakeScreenshot"),
		msg(infra.BridgeAck),
		infra.BridgeMessage{Event: infra.BridgeResync, Foreground: &fg, Recording: &rec},
	)
	require.NoError(t, g.Run(context.Background(), events))

	assert.False(t, controller.Decision().ShouldProtect)
	assert.False(t, host.CoverShown)
	assert.True(t, host.Visible)
	assert.Equal(t, 1, host.CoverRaises())
}

func TestGuard_ResyncIntoBackground(t *testing.T) {
	g, controller, host, _, _ := newTestGuard(t, platform.NewIOSProfile(), domain.PulseManual, nil)

	fg := false
	require.NoError(t, g.Run(context.Background(), feed(
		infra.BridgeMessage{Event: infra.BridgeResync, Foreground: &fg},
	)))

	assert.True(t, controller.Decision().ShouldProtect)
	assert.False(t, host.ContentExposed())
}

func TestGuard_UnknownEventKeepsState(t *testing.T) {
	g, controller, host, _, reporter := newTestGuard(t, platform.NewAndroidProfile(), domain.PulseManual, nil)

	require.NoError(t, g.Run(context.Background(), feed(
		msg("onPause"),
		msg("onTeleport"),
	)))

	assert.True(t, controller.Decision().ShouldProtect)
	assert.True(t, host.Secure)
	require.Len(t, reporter.decisions, 3)
	assert.Equal(t, reporter.decisions[1], reporter.decisions[2])
}

func TestGuard_HostPrimitiveFailureFailsClosed(t *testing.T) {
	g, controller, host, _, reporter := newTestGuard(t, platform.NewAndroidProfile(), domain.PulseManual, nil)

	require.NoError(t, g.Run(context.Background(), feed(
		msg("onResume"),
		msgWith("onScreenRecordingChanged", true),
		infra.BridgeMessage{Event: infra.BridgePrimitiveFailed, Primitive: infra.PrimitiveSecureFlag, Error: "SecurityException"},
		msg("onWindowFocusChanged"), // unmapped without a value, re-asserts
	)))

	assert.True(t, controller.Decision().ShouldProtect)
	assert.False(t, host.Visible, "window stays hidden after the host reports a failed flag")
	assert.ErrorIs(t, controller.LastApplyError(), domain.ErrHostPrimitiveFailed)

	require.NotEmpty(t, reporter.errs)
	last := reporter.errs[len(reporter.errs)-1]
	var applyErr *domain.PrimitiveApplyError
	require.True(t, errors.As(last, &applyErr))
	assert.Equal(t, infra.PrimitiveSecureFlag, applyErr.Primitive)
}

func TestGuard_DetectorEdges(t *testing.T) {
	detector := &mockDetector{results: []bool{true}}
	g, controller, host, _, _ := newTestGuard(t, platform.NewDesktopProfile(), domain.PulseManual, detector)

	require.NoError(t, g.Run(context.Background(), feed()))

	assert.Equal(t, 1, detector.calls)
	assert.True(t, controller.Decision().State.IsRecording)
	assert.True(t, host.CoverShown)
}

func TestGuard_DetectorOnlyReportsChanges(t *testing.T) {
	detector := &mockDetector{results: []bool{false}}
	g, _, _, _, reporter := newTestGuard(t, platform.NewDesktopProfile(), domain.PulseManual, detector)

	require.NoError(t, g.Run(context.Background(), feed()))

	// Only the cold-start report: no edge, no extra step.
	assert.Len(t, reporter.decisions, 1)
}

func TestGuard_DetectorPolling(t *testing.T) {
	detector := &mockDetector{results: []bool{false, true}}
	g, controller, _, _, _ := newTestGuard(t, platform.NewDesktopProfile(), domain.PulseManual, detector)
	g.config.DetectInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := g.Run(ctx, nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, detector.calls, 2)
	assert.True(t, controller.Decision().State.IsRecording)
}

func TestGuard_DetectorFailureKeepsState(t *testing.T) {
	detector := &mockDetector{err: errors.New("ps unavailable")}
	g, controller, _, _, _ := newTestGuard(t, platform.NewDesktopProfile(), domain.PulseManual, detector)

	require.NoError(t, g.Run(context.Background(), feed()))
	assert.False(t, controller.Decision().State.IsRecording)
}

func TestGuard_PulseDurationTimer(t *testing.T) {
	g, controller, host, _, _ := newTestGuard(t, platform.NewIOSProfile(), domain.PulseAfterDuration, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	events := make(chan infra.BridgeMessage, 1)
	events <- msg("userDidTakeScreenshot")
	err := g.Run(ctx, events)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, controller.Decision().State.ScreenshotPulseActive, "pulse dismissed by timer")
	assert.False(t, host.CoverShown)
	assert.Equal(t, 1, host.CoverRaises())
}

func TestGuard_ReassertTicker(t *testing.T) {
	g, _, host, _, _ := newTestGuard(t, platform.NewAndroidProfile(), domain.PulseManual, nil)
	g.config.ReassertInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	events := make(chan infra.BridgeMessage, 1)
	events <- msg("onStop")
	_ = g.Run(ctx, events)

	secureCalls := 0
	for _, c := range host.Calls {
		if c == fixtures.CallSecureOn {
			secureCalls++
		}
	}
	assert.Greater(t, secureCalls, 1, "decision re-asserted on ticker")
}

func TestGuard_HeartbeatTicker(t *testing.T) {
	g, _, _, registry, _ := newTestGuard(t, platform.NewDesktopProfile(), domain.PulseManual, nil)
	g.config.HeartbeatInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = g.Run(ctx, nil)

	assert.Greater(t, registry.heartbeats, 0)
}

func TestGuard_WithoutOptionalParts(t *testing.T) {
	host := fixtures.NewFakeHostWindow()
	controller := usecase.NewProtectionController(usecase.DefaultControllerConfig(), platform.NewDesktopProfile(), host, zap.NewNop())
	g := NewGuard(slowConfig(), controller, nil, nil, nil, domain.HostStatus{}, zap.NewNop())

	require.NoError(t, g.Run(context.Background(), feed(msg(domain.EventAppLeftForeground))))
	assert.False(t, host.ContentExposed())
}
