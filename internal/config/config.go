// Package config loads capguard settings from flags, environment and a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

// EnvPrefix is prepended to every environment override (CAPGUARD_PULSE_POLICY).
const EnvPrefix = "CAPGUARD"

const defaultConfigName = ".capguard"

// Config is the full capguard configuration.
type Config struct {
	Platform string         `mapstructure:"platform"`
	Pulse    PulseConfig    `mapstructure:"pulse"`
	Guard    GuardConfig    `mapstructure:"guard"`
	Detector DetectorConfig `mapstructure:"detector"`
	Import   ImportConfig   `mapstructure:"import"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Status   StatusConfig   `mapstructure:"status"`
	Log      LogConfig      `mapstructure:"log"`
}

// PulseConfig controls how screenshot covers are dismissed.
type PulseConfig struct {
	Policy   domain.PulsePolicy `mapstructure:"policy"`
	Duration time.Duration      `mapstructure:"duration"`
}

// GuardConfig holds the guard loop intervals.
type GuardConfig struct {
	ReassertInterval  time.Duration `mapstructure:"reassert_interval"`
	DetectInterval    time.Duration `mapstructure:"detect_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// DetectorConfig controls the capture-tool detector.
type DetectorConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	ProcessNames []string `mapstructure:"process_names"`
}

// ImportConfig controls the file-import bridge.
type ImportConfig struct {
	CacheDir string `mapstructure:"cache_dir"`
}

// JournalConfig controls the encrypted audit journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DataDir string `mapstructure:"data_dir"`
}

// StatusConfig controls the status registry. An empty path uses the default.
type StatusConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig controls zap output. An empty file logs to stderr.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Platform: "desktop",
		Pulse: PulseConfig{
			Policy:   domain.PulseOnForegroundRegain,
			Duration: 5 * time.Second,
		},
		Guard: GuardConfig{
			ReassertInterval:  2 * time.Second,
			DetectInterval:    3 * time.Second,
			HeartbeatInterval: 30 * time.Second,
		},
		Detector: DetectorConfig{
			Enabled: true,
		},
		Import: ImportConfig{
			CacheDir: "~/.capguard/imports",
		},
		Journal: JournalConfig{
			Enabled: true,
			DataDir: "~/.capguard",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers Default() with v so every key is known to viper
// (required for environment overrides to reach Unmarshal).
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("platform", d.Platform)
	v.SetDefault("pulse.policy", string(d.Pulse.Policy))
	v.SetDefault("pulse.duration", d.Pulse.Duration)
	v.SetDefault("guard.reassert_interval", d.Guard.ReassertInterval)
	v.SetDefault("guard.detect_interval", d.Guard.DetectInterval)
	v.SetDefault("guard.heartbeat_interval", d.Guard.HeartbeatInterval)
	v.SetDefault("detector.enabled", d.Detector.Enabled)
	v.SetDefault("detector.process_names", []string{})
	v.SetDefault("import.cache_dir", d.Import.CacheDir)
	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.data_dir", d.Journal.DataDir)
	v.SetDefault("status.path", d.Status.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}

// Load reads configuration into a Config.
// Precedence: flags bound to v, CAPGUARD_* env, config file, defaults.
// cfgFile overrides the search for ~/.capguard.yaml and must exist.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(defaultConfigName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing default file is fine; an explicit one must exist.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Platform) == "" {
		return ErrInvalidConfig{"platform cannot be empty"}
	}
	if !c.Pulse.Policy.Valid() {
		return ErrInvalidConfig{fmt.Sprintf("unknown pulse policy %q", c.Pulse.Policy)}
	}
	if c.Pulse.Policy == domain.PulseAfterDuration && c.Pulse.Duration <= 0 {
		return ErrInvalidConfig{"pulse duration must be positive"}
	}
	if c.Guard.ReassertInterval <= 0 {
		return ErrInvalidConfig{"reassert interval must be positive"}
	}
	if c.Detector.Enabled && c.Guard.DetectInterval <= 0 {
		return ErrInvalidConfig{"detect interval must be positive"}
	}
	if c.Guard.HeartbeatInterval <= 0 {
		return ErrInvalidConfig{"heartbeat interval must be positive"}
	}
	if c.Import.CacheDir == "" {
		return ErrInvalidConfig{"import cache dir cannot be empty"}
	}
	if c.Journal.Enabled && c.Journal.DataDir == "" {
		return ErrInvalidConfig{"journal data dir cannot be empty"}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidConfig{fmt.Sprintf("unknown log level %q", c.Log.Level)}
	}
	return nil
}

// ExpandHome expands a leading ~ in path.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ErrInvalidConfig represents a configuration error.
type ErrInvalidConfig struct {
	Message string
}

func (e ErrInvalidConfig) Error() string {
	return "capguard: invalid config: " + e.Message
}
