// Package daemon implements the protection guard loop.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
	"github.com/eliteGoblin/focusd/capguard/internal/infra"
	"github.com/eliteGoblin/focusd/capguard/internal/usecase"
)

// DecisionReporter receives the decision after every guard step.
type DecisionReporter interface {
	ReportDecision(d domain.Decision, applyErr error) error
}

// GuardConfig holds guard loop configuration.
type GuardConfig struct {
	ReassertInterval  time.Duration // How often to re-apply the current decision
	DetectInterval    time.Duration // How often to poll the capture detector
	HeartbeatInterval time.Duration // How often to update heartbeat
}

// DefaultGuardConfig returns default guard configuration.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		ReassertInterval:  2 * time.Second,
		DetectInterval:    3 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Guard feeds host events, detector edges and timers into one
// ProtectionController from a single goroutine.
// The registry, detector and reporter are optional.
type Guard struct {
	config     GuardConfig
	controller *usecase.ProtectionController
	registry   domain.StatusRegistry
	detector   domain.CaptureDetector
	reporter   DecisionReporter
	status     domain.HostStatus
	logger     *zap.Logger

	capturing bool
	pulseC    <-chan time.Time
}

// NewGuard creates a new guard.
func NewGuard(
	config GuardConfig,
	controller *usecase.ProtectionController,
	registry domain.StatusRegistry,
	detector domain.CaptureDetector,
	reporter DecisionReporter,
	status domain.HostStatus,
	logger *zap.Logger,
) *Guard {
	return &Guard{
		config:     config,
		controller: controller,
		registry:   registry,
		detector:   detector,
		reporter:   reporter,
		status:     status,
		logger:     logger,
	}
}

// Run starts the guard loop.
// It blocks until ctx is canceled or events is closed. A nil events channel
// runs the guard on detector input only.
func (g *Guard) Run(ctx context.Context, events <-chan infra.BridgeMessage) error {
	if g.registry != nil {
		if err := g.registry.Register(g.status); err != nil {
			g.logger.Error("failed to register guard", zap.Error(err))
			return err
		}
		defer func() {
			if err := g.registry.Clear(); err != nil {
				g.logger.Warn("failed to clear status registry", zap.Error(err))
			}
		}()
	}

	g.logger.Info("guard started",
		zap.Int("pid", g.status.PID),
		zap.String("platform", g.controller.Platform()),
		zap.String("session", g.status.SessionID))

	// Apply the cold-start decision immediately.
	g.controller.Reassert()
	g.publish()

	// Check capture tools on startup
	g.detect()

	reassertTicker := time.NewTicker(g.config.ReassertInterval)
	heartbeatTicker := time.NewTicker(g.config.HeartbeatInterval)
	defer func() {
		reassertTicker.Stop()
		heartbeatTicker.Stop()
	}()

	var detectC <-chan time.Time
	if g.detector != nil {
		detectTicker := time.NewTicker(g.config.DetectInterval)
		defer detectTicker.Stop()
		detectC = detectTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("guard stopping")
			return ctx.Err()

		case msg, ok := <-events:
			if !ok {
				g.logger.Info("host event stream closed, guard stopping")
				return nil
			}
			g.handle(msg)

		case <-reassertTicker.C:
			g.controller.Reassert()
			g.publish()

		case <-detectC:
			g.detect()

		case now := <-g.pulseC:
			g.pulseC = nil
			if g.controller.Tick(now) {
				g.publish()
			} else {
				g.armPulseTimer()
			}

		case <-heartbeatTicker.C:
			if g.registry != nil {
				if err := g.registry.UpdateHeartbeat(); err != nil {
					g.logger.Warn("failed to update heartbeat", zap.Error(err))
				}
			}
		}
	}
}

// handle routes one host message to the controller.
func (g *Guard) handle(msg infra.BridgeMessage) {
	switch msg.Event {
	case infra.BridgeAck:
		g.controller.AcknowledgeScreenshotPulse()
	case infra.BridgeResync:
		fg, rec := msg.ResyncState()
		g.controller.Resync(fg, rec)
	case infra.BridgePrimitiveFailed:
		g.controller.OnPrimitiveFailed(msg.Primitive, msg.Error)
	default:
		g.controller.OnPlatformEvent(msg.PlatformEvent())
	}
	g.publish()
}

// detect polls the capture detector and forwards edges only.
func (g *Guard) detect() {
	if g.detector == nil {
		return
	}

	capturing, tools, err := g.detector.Detect()
	if err != nil {
		g.logger.Warn("capture detection failed", zap.Error(err))
		return
	}
	if capturing == g.capturing {
		return
	}
	g.capturing = capturing

	g.logger.Info("capture state changed",
		zap.Bool("capturing", capturing),
		zap.Strings("tools", tools))
	g.controller.OnPlatformEvent(domain.NewPlatformEventWithValue(domain.EventCaptureStateChanged, capturing))
	g.publish()
}

// publish reports the current decision and re-arms the pulse timer.
func (g *Guard) publish() {
	d := g.controller.Decision()
	applyErr := g.controller.LastApplyError()

	if g.reporter != nil {
		if err := g.reporter.ReportDecision(d, applyErr); err != nil {
			g.logger.Warn("failed to report decision", zap.Error(err))
		}
	}
	if g.registry != nil {
		if err := g.registry.UpdateDecision(d, applyErr); err != nil {
			g.logger.Warn("failed to update status registry", zap.Error(err))
		}
	}

	g.armPulseTimer()
}

func (g *Guard) armPulseTimer() {
	deadline, ok := g.controller.PulseDeadline()
	if !ok {
		g.pulseC = nil
		return
	}
	if g.pulseC == nil {
		g.pulseC = time.After(time.Until(deadline))
	}
}
