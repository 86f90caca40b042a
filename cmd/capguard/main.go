// Package main is the CLI entry point for capguard.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/capguard/internal/config"
	"github.com/eliteGoblin/focusd/capguard/internal/daemon"
	"github.com/eliteGoblin/focusd/capguard/internal/domain"
	"github.com/eliteGoblin/focusd/capguard/internal/infra"
	"github.com/eliteGoblin/focusd/capguard/internal/platform"
	"github.com/eliteGoblin/focusd/capguard/internal/statemachine"
	"github.com/eliteGoblin/focusd/capguard/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

var (
	v       = viper.New()
	cfg     config.Config
	cfgFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "capguard",
	Short: "Screen capture guard - hides app content from screenshots and recordings",
	Long: `capguard keeps app content out of screenshots, screen recordings and
app-switcher thumbnails. A host shell streams lifecycle and capture events
to 'capguard run' as JSON lines and performs the protection commands it
writes back.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the protection guard",
	Long: `Reads host events from stdin and writes protection commands to stdout,
one JSON object per line. Also polls for running screen recorders and
re-asserts the current decision on a timer.

Input:  {"event":"onPause"}  {"event":"captureStateChanged","value":true}
        {"event":"ack"}      {"event":"resync","foreground":true,"recording":false}
Output: {"primitive":"secure_flag","value":true}  {"decision":{...}}`,
	RunE: runGuard,
}

var importCmd = &cobra.Command{
	Use:   "import <path-or-file-uri>",
	Short: "Copy a shared document into the private import cache",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runImport,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running guard and its last decision",
	RunE:  runStatus,
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent entries of the encrypted audit journal",
	RunE:  runJournal,
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <tokens...>",
	Short: "Feed a token script through a fresh state machine",
	Long: `Tokens: fg, bg, rec, norec, shot, ack (space or comma separated).

Example: capguard simulate bg shot fg ack`,
	RunE: runSimulate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	jsonOutput     bool
	noBridge       bool
	detach         bool
	purgeOlderThan time.Duration
	journalLimit   int
	rotateKey      bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.capguard.yaml)")
	rootCmd.PersistentFlags().String("platform", "", "Platform profile (android, ios, desktop)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	_ = v.BindPFlag("platform", rootCmd.PersistentFlags().Lookup("platform"))
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	runCmd.Flags().BoolVar(&noBridge, "no-bridge", false, "Do not read host events from stdin (detector only)")
	runCmd.Flags().BoolVar(&detach, "detach", false, "Start a detector-only guard in the background")
	runCmd.Flags().String("pulse-policy", "", "Screenshot cover policy (foreground-regain, duration, manual)")
	runCmd.Flags().Duration("pulse-duration", 0, "Screenshot cover duration for the duration policy")
	_ = v.BindPFlag("pulse.policy", runCmd.Flags().Lookup("pulse-policy"))
	_ = v.BindPFlag("pulse.duration", runCmd.Flags().Lookup("pulse-duration"))

	importCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	importCmd.Flags().DurationVar(&purgeOlderThan, "purge-older-than", 0, "Remove cached imports older than this before importing")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	journalCmd.Flags().IntVar(&journalLimit, "limit", 20, "Number of entries to show")
	journalCmd.Flags().BoolVar(&rotateKey, "rotate-key", false, "Re-encrypt the journal under a new key")
	simulateCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output steps as JSON")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(versionCmd)
}

func runGuard(cmd *cobra.Command, args []string) error {
	logger := createLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	pm := infra.NewProcessManager()
	registry := newStatusRegistry(pm)

	// Refuse to start a second guard
	if status, _ := registry.Get(); status != nil && status.PID != pm.GetCurrentPID() {
		if alive, _ := registry.IsAlive(); alive {
			return fmt.Errorf("capguard guard already running (pid %d)", status.PID)
		}
	}

	if detach {
		forward := []string{"--platform", cfg.Platform}
		if cfgFile != "" {
			forward = append(forward, "--config", cfgFile)
		}
		pid, err := daemon.StartDetached(forward...)
		if err != nil {
			return fmt.Errorf("failed to start background guard: %w", err)
		}
		fmt.Fprintf(os.Stderr, "capguard guard started in background (pid %d)\n", pid)
		return nil
	}

	profile, err := platform.NewRegistry().Resolve(cfg.Platform)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	host := infra.NewJSONHostWindow(os.Stdout)

	controllerConfig := usecase.ControllerConfig{
		PulsePolicy:   cfg.Pulse.Policy,
		PulseDuration: cfg.Pulse.Duration,
		SessionID:     sessionID,
	}

	var journal domain.EventJournal
	if cfg.Journal.Enabled {
		j, err := infra.OpenJournal(config.ExpandHome(cfg.Journal.DataDir))
		if err != nil {
			// The journal is an audit aid; protection runs without it.
			logger.Warn("journal unavailable, continuing without audit trail", zap.Error(err))
		} else {
			journal = j
			defer j.Close()
		}
	}
	controller := usecase.NewProtectionControllerWithJournal(controllerConfig, profile, host, journal, logger)

	var detector domain.CaptureDetector
	if cfg.Detector.Enabled {
		detector = infra.NewProcessCaptureDetector(pm, cfg.Detector.ProcessNames, logger)
	}

	guard := daemon.NewGuard(
		daemon.GuardConfig{
			ReassertInterval:  cfg.Guard.ReassertInterval,
			DetectInterval:    cfg.Guard.DetectInterval,
			HeartbeatInterval: cfg.Guard.HeartbeatInterval,
		},
		controller,
		registry,
		detector,
		host,
		domain.HostStatus{
			PID:        pm.GetCurrentPID(),
			Platform:   profile.ID(),
			SessionID:  sessionID,
			AppVersion: Version,
		},
		logger,
	)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	var events chan infra.BridgeMessage
	if !noBridge {
		events = make(chan infra.BridgeMessage, 64)
		decoder := infra.NewEventDecoder(os.Stdin, logger)
		go func() {
			if err := decoder.Pump(ctx, events); err != nil && ctx.Err() == nil {
				logger.Error("host event stream failed", zap.Error(err))
			}
		}()
	}

	err = guard.Run(ctx, events)
	if err == context.Canceled {
		return nil
	}
	return err
}

func runImport(cmd *cobra.Command, args []string) error {
	logger := createLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	importer := infra.NewFileImporter(cfg.Import.CacheDir, logger)

	if purgeOlderThan > 0 {
		removed, err := importer.Purge(purgeOlderThan)
		if err != nil {
			logger.Warn("failed to purge import cache", zap.Error(err))
		}
		if removed > 0 {
			logger.Info("purged import cache", zap.Int("removed", removed))
		}
	}

	ref := ""
	if len(args) > 0 {
		ref = args[0]
	}
	path, err := importer.Import(cmd.Context(), ref)

	if jsonOutput {
		out := map[string]string{}
		if err != nil {
			out["code"] = string(domain.ImportErrorCode(err))
			out["message"] = err.Error()
		} else {
			out["path"] = path
		}
		data, _ := json.Marshal(out)
		fmt.Println(string(data))
		return err
	}

	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	pm := infra.NewProcessManager()
	registry := newStatusRegistry(pm)

	status, err := registry.Get()
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}
	alive := false
	if status != nil {
		alive = pm.IsRunning(status.PID)
	}

	if jsonOutput {
		data, _ := json.Marshal(struct {
			Running bool               `json:"running"`
			Status  *domain.HostStatus `json:"status,omitempty"`
		}{alive, status})
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("\n=== capguard Status ===")
	if status == nil || !alive {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("=======================")
		return nil
	}

	fmt.Println("Status: RUNNING")
	fmt.Printf("Platform: %s\n", status.Platform)
	fmt.Printf("Session: %s\n", status.SessionID)
	fmt.Printf("Started: %s\n", time.Unix(status.StartedAt, 0).Format(time.RFC3339))

	d := status.Decision
	if d.ShouldProtect {
		fmt.Printf("Protection: ENGAGED (%s)\n", strings.Join(d.Reasons(), ", "))
	} else {
		fmt.Println("Protection: off")
	}
	fmt.Printf("Foreground: %t  Recording: %t  Screenshot cover: %t\n",
		d.State.InForeground, d.State.IsRecording, d.State.ScreenshotPulseActive)
	if status.ApplyError != "" {
		fmt.Printf("Last apply error: %s\n", status.ApplyError)
	}

	if status.LastHeartbeat > 0 {
		lastBeat := time.Unix(status.LastHeartbeat, 0)
		fmt.Printf("Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
	}

	fmt.Println("=======================")
	return nil
}

// rotateJournalKey refuses while a guard holds the journal open.
func rotateJournalKey(dataDir string) error {
	registry := newStatusRegistry(infra.NewProcessManager())
	if alive, _ := registry.IsAlive(); alive {
		return fmt.Errorf("a guard is running; stop it before rotating the journal key")
	}
	if err := infra.RotateJournalKey(dataDir); err != nil {
		return err
	}
	fmt.Println("Journal key rotated.")
	return nil
}

func runJournal(cmd *cobra.Command, args []string) error {
	if !cfg.Journal.Enabled {
		return fmt.Errorf("journal is disabled (journal.enabled=false)")
	}

	dataDir := config.ExpandHome(cfg.Journal.DataDir)
	if rotateKey {
		return rotateJournalKey(dataDir)
	}

	journal, err := infra.OpenJournal(dataDir)
	if err != nil {
		return err
	}
	defer journal.Close()

	entries, err := journal.Recent(journalLimit)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("Journal is empty.")
		return nil
	}

	for _, e := range entries {
		protect := "off"
		if e.ShouldProtect {
			protect = "PROTECT"
		}
		line := fmt.Sprintf("%s  %-8s  %-28s  %-30s  %s",
			e.RecordedAt.Format("2006-01-02 15:04:05.000"),
			shortID(e.SessionID), e.Event, e.Signal, protect)
		if e.Error != "" {
			line += "  error=" + e.Error
		}
		fmt.Println(line)
	}
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	tokens, err := statemachine.ParseScript(strings.Join(args, " "))
	if err != nil {
		return err
	}

	steps, err := statemachine.RunScript(statemachine.New(), tokens)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, _ := json.Marshal(steps)
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("%-6s  %-8s  %s\n", "token", "protect", "reasons")
	for _, s := range steps {
		fmt.Printf("%-6s  %-8t  %s\n", s.Token, s.Decision.ShouldProtect, strings.Join(s.Decision.Reasons(), ","))
	}
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("capguard %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

func newStatusRegistry(pm domain.ProcessManager) domain.StatusRegistry {
	if cfg.Status.Path != "" {
		return infra.NewFileStatusRegistryWithPath(config.ExpandHome(cfg.Status.Path), pm)
	}
	return infra.NewFileStatusRegistry(pm)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func createLogger(lc config.LogConfig) *zap.Logger {
	zc := zap.NewProductionConfig()
	if lc.File != "" {
		zc.OutputPaths = []string{config.ExpandHome(lc.File)}
		zc.ErrorOutputPaths = []string{config.ExpandHome(lc.File)}
	} else {
		zc.OutputPaths = []string{"stderr"}
		zc.ErrorOutputPaths = []string{"stderr"}
	}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level, err := zapcore.ParseLevel(lc.Level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}
