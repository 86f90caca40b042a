package infra

import (
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

// DefaultCaptureTools are process names of common screen recorders.
var DefaultCaptureTools = []string{
	"obs",
	"obs64",
	"ffmpeg",
	"simplescreenrecorder",
	"kazam",
	"peek",
	"vokoscreen",
	"vokoscreenNG",
	"screencapture",
	"QuickTime Player",
}

// toolMatcher matches one configured tool against process names.
// A tool containing *, ? or [ is a glob, anything else must equal the
// process name. Both are case-insensitive.
type toolMatcher struct {
	tool    string
	pattern string
	glob    bool
}

func newToolMatcher(tool string, logger *zap.Logger) toolMatcher {
	m := toolMatcher{tool: tool, pattern: strings.ToLower(tool)}
	if !strings.ContainsAny(m.pattern, "*?[") {
		return m
	}
	if _, err := path.Match(m.pattern, ""); err != nil {
		logger.Warn("invalid capture tool pattern, matching it literally",
			zap.String("tool", tool),
			zap.Error(err))
		return m
	}
	m.glob = true
	return m
}

func (m toolMatcher) matches(processName string) bool {
	name := strings.ToLower(processName)
	name = strings.TrimSuffix(name, ".exe")
	if m.glob {
		ok, _ := path.Match(m.pattern, name)
		return ok
	}
	return name == m.pattern
}

// ProcessCaptureDetector reports a capture session while any known
// recorder process is running.
type ProcessCaptureDetector struct {
	processManager domain.ProcessManager
	matchers       []toolMatcher
	logger         *zap.Logger
}

// NewProcessCaptureDetector creates a detector for the given tool names.
// Empty names fall back to DefaultCaptureTools.
func NewProcessCaptureDetector(pm domain.ProcessManager, tools []string, logger *zap.Logger) *ProcessCaptureDetector {
	cleaned := make([]string, 0, len(tools))
	for _, t := range tools {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultCaptureTools...)
	}

	matchers := make([]toolMatcher, 0, len(cleaned))
	for _, t := range cleaned {
		matchers = append(matchers, newToolMatcher(t, logger))
	}
	return &ProcessCaptureDetector{
		processManager: pm,
		matchers:       matchers,
		logger:         logger,
	}
}

// Detect returns whether any recorder is running and which tools matched.
func (d *ProcessCaptureDetector) Detect() (bool, []string, error) {
	procs, err := d.processManager.ListProcesses()
	if err != nil {
		return false, nil, err
	}

	var matched []string
	for _, m := range d.matchers {
		for _, p := range procs {
			if m.matches(p.Name) {
				d.logger.Debug("capture tool running",
					zap.String("tool", m.tool),
					zap.String("process", p.Name),
					zap.Int("pid", p.PID))
				matched = append(matched, m.tool)
				break
			}
		}
	}

	sort.Strings(matched)
	return len(matched) > 0, matched, nil
}

// Tools returns the configured recorder names.
func (d *ProcessCaptureDetector) Tools() []string {
	tools := make([]string, 0, len(d.matchers))
	for _, m := range d.matchers {
		tools = append(tools, m.tool)
	}
	return tools
}

// Ensure ProcessCaptureDetector implements domain.CaptureDetector.
var _ domain.CaptureDetector = (*ProcessCaptureDetector)(nil)
