//go:build integration

package integration

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/capguard/internal/daemon"
	"github.com/eliteGoblin/focusd/capguard/internal/domain"
	"github.com/eliteGoblin/focusd/capguard/internal/infra"
	"github.com/eliteGoblin/focusd/capguard/internal/platform"
	"github.com/eliteGoblin/focusd/capguard/internal/usecase"
	"github.com/eliteGoblin/focusd/capguard/test/fixtures"
)

// pipeline wires a guard the way 'capguard run' does, with stdin and stdout
// replaced by buffers.
type pipeline struct {
	registry domain.StatusRegistry
	journal  *infra.EncryptedJournal
	out      *bytes.Buffer
}

func newPipeline(tmpDir string) *pipeline {
	journal, err := infra.OpenJournal(filepath.Join(tmpDir, "journal"))
	Expect(err).NotTo(HaveOccurred())

	return &pipeline{
		registry: infra.NewFileStatusRegistryWithPath(filepath.Join(tmpDir, ".status"), infra.NewProcessManager()),
		journal:  journal,
		out:      &bytes.Buffer{},
	}
}

func (p *pipeline) run(platformID string, policy domain.PulsePolicy, input string) *usecase.ProtectionController {
	profile, err := platform.NewRegistry().Resolve(platformID)
	Expect(err).NotTo(HaveOccurred())

	logger := zap.NewNop()
	host := infra.NewJSONHostWindow(p.out)
	config := usecase.DefaultControllerConfig()
	config.PulsePolicy = policy
	config.SessionID = "integration"
	controller := usecase.NewProtectionControllerWithJournal(config, profile, host, p.journal, logger)

	guardConfig := daemon.GuardConfig{
		ReassertInterval:  time.Hour,
		DetectInterval:    time.Hour,
		HeartbeatInterval: time.Hour,
	}
	status := domain.HostStatus{PID: os.Getpid(), Platform: profile.ID(), SessionID: "integration"}
	guard := daemon.NewGuard(guardConfig, controller, p.registry, nil, host, status, logger)

	ctx := context.Background()
	events := make(chan infra.BridgeMessage)
	decoder := infra.NewEventDecoder(strings.NewReader(input), logger)
	go func() { _ = decoder.Pump(ctx, events) }()

	Expect(guard.Run(ctx, events)).To(Succeed())
	return controller
}

func lines(events ...string) string {
	return strings.Join(events, "\n") + "\n"
}

var _ = Describe("Protection pipeline", func() {
	var (
		tmpDir string
		p      *pipeline
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "capguard-integration-*")
		Expect(err).NotTo(HaveOccurred())
		p = newPipeline(tmpDir)
	})

	AfterEach(func() {
		p.journal.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("Android secure flag", func() {
		Context("when the app goes to the background", func() {
			It("should keep the secure flag set until it resumes", func() {
				p.run("android", domain.PulseManual, lines(
					`{"event":"onCreate"}`,
					`{"event":"onStart"}`,
					`{"event":"onResume"}`,
					`{"event":"onPause"}`,
				))

				host := fixtures.NewFakeHostWindow()
				decisions, err := fixtures.Replay(p.out, host)
				Expect(err).NotTo(HaveOccurred())

				Expect(host.Secure).To(BeTrue())
				Expect(host.ContentExposed()).To(BeFalse())
				Expect(decisions[len(decisions)-1].ShouldProtect).To(BeTrue())
			})
		})

		Context("when a recording starts and stops in the foreground", func() {
			It("should clear the secure flag once recording ends", func() {
				controller := p.run("android", domain.PulseManual, lines(
					`{"event":"onResume"}`,
					`{"event":"onScreenRecordingChanged","value":true}`,
					`{"event":"onScreenRecordingChanged","value":false}`,
				))

				host := fixtures.NewFakeHostWindow()
				_, err := fixtures.Replay(p.out, host)
				Expect(err).NotTo(HaveOccurred())

				Expect(host.Secure).To(BeFalse())
				Expect(controller.Decision().ShouldProtect).To(BeFalse())
			})
		})
	})

	Describe("Host primitive failures", func() {
		Context("when the host cannot set the secure flag during a recording", func() {
			It("should hide the window and keep it hidden on re-assert", func() {
				controller := p.run("android", domain.PulseManual, lines(
					`{"event":"onResume"}`,
					`{"event":"onScreenRecordingChanged","value":true}`,
					`{"event":"primitiveFailed","primitive":"secure_flag","error":"SecurityException"}`,
					`{"event":"onResume"}`,
				))
				Expect(controller.LastApplyError()).To(MatchError(ContainSubstring("SecurityException")))

				host := fixtures.NewFakeHostWindow()
				decisions, err := fixtures.Replay(p.out, host)
				Expect(err).NotTo(HaveOccurred())
				Expect(host.Visible).To(BeFalse())
				Expect(decisions[len(decisions)-1].ShouldProtect).To(BeTrue())
			})
		})
	})

	Describe("iOS overlay", func() {
		Context("when a screenshot is taken in the foreground", func() {
			It("should keep the cover until the app returns from background", func() {
				controller := p.run("ios", domain.PulseOnForegroundRegain, lines(
					`{"event":"applicationDidBecomeActive"}`,
					`{"event":"userDidTakeScreenshot"}`,
				))
				Expect(controller.Decision().State.ScreenshotPulseActive).To(BeTrue())

				host := fixtures.NewFakeHostWindow()
				_, err := fixtures.Replay(p.out, host)
				Expect(err).NotTo(HaveOccurred())
				Expect(host.CoverShown).To(BeTrue())
			})

			It("should drop the cover after a background round trip", func() {
				p.run("ios", domain.PulseOnForegroundRegain, lines(
					`{"event":"applicationDidBecomeActive"}`,
					`{"event":"userDidTakeScreenshot"}`,
					`{"event":"applicationWillResignActive"}`,
					`{"event":"applicationDidBecomeActive"}`,
				))

				host := fixtures.NewFakeHostWindow()
				_, err := fixtures.Replay(p.out, host)
				Expect(err).NotTo(HaveOccurred())
				Expect(host.CoverShown).To(BeFalse())
				Expect(host.Visible).To(BeTrue())
			})
		})

		Context("when the host sends malformed and unknown lines", func() {
			It("should skip them and keep protecting", func() {
				controller := p.run("ios", domain.PulseManual, lines(
					`{"event":"applicationDidEnterBackground"}`,
					`garbage`,
					`{"event":"applicationDidLevitate"}`,
				))
				Expect(controller.Decision().ShouldProtect).To(BeTrue())

				host := fixtures.NewFakeHostWindow()
				_, err := fixtures.Replay(p.out, host)
				Expect(err).NotTo(HaveOccurred())
				Expect(host.ContentExposed()).To(BeFalse())
			})
		})
	})

	Describe("Audit journal", func() {
		It("should record every step including unmapped events", func() {
			p.run("android", domain.PulseManual, lines(
				`{"event":"onPause"}`,
				`{"event":"onMystery"}`,
				`{"event":"ack"}`,
			))

			entries, err := p.journal.Recent(10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(3))
			Expect(entries[0].Event).To(Equal("ack"))
			Expect(entries[1].Event).To(Equal("onMystery"))
			Expect(entries[1].Error).To(ContainSubstring("unknown platform event"))
			Expect(entries[2].Signal).To(Equal("foreground_changed{false}"))
			for _, e := range entries {
				Expect(e.SessionID).To(Equal("integration"))
				Expect(e.ShouldProtect).To(BeTrue())
			}
		})
	})

	Describe("Status registry", func() {
		It("should be cleared when the host stream ends", func() {
			p.run("desktop", domain.PulseManual, lines(`{"event":"focusLost"}`))

			status, err := p.registry.Get()
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(BeNil())
		})
	})
})

var _ = Describe("File import bridge", func() {
	var (
		tmpDir   string
		importer *infra.FileImporterImpl
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "capguard-import-*")
		Expect(err).NotTo(HaveOccurred())
		importer = infra.NewFileImporterWithHome(filepath.Join(tmpDir, "cache"), tmpDir, zap.NewNop())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Context("when the document exists", func() {
		It("should return a private copy with identical content", func() {
			src := filepath.Join(tmpDir, "shared.pdf")
			Expect(os.WriteFile(src, []byte("shared document"), 0644)).To(Succeed())

			dst, err := importer.Import(context.Background(), "file://"+src)
			Expect(err).NotTo(HaveOccurred())
			Expect(dst).NotTo(Equal(src))

			data, err := os.ReadFile(dst)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("shared document"))
		})
	})

	Context("when the document cannot be opened", func() {
		It("should fail with UNAVAILABLE", func() {
			_, err := importer.Import(context.Background(), filepath.Join(tmpDir, "gone.pdf"))
			Expect(domain.ImportErrorCode(err)).To(Equal(domain.ImportUnavailable))
		})
	})

	Context("when the reference is missing", func() {
		It("should fail with INVALID_ARGUMENT", func() {
			_, err := importer.Import(context.Background(), "")
			Expect(domain.ImportErrorCode(err)).To(Equal(domain.ImportInvalidArgument))
		})
	})
})
