// Package config loads appblock settings from <data dir>/config.toml and
// APPBLOCK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	configName = "config"
	configType = "toml"
	envPrefix  = "APPBLOCK"

	BackendFile      = "file"
	BackendEncrypted = "encrypted"
)

// Config is the full appblock configuration.
type Config struct {
	State        StateConfig        `mapstructure:"state"`
	Focus        FocusConfig        `mapstructure:"focus"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	Schedule     ScheduleConfig     `mapstructure:"schedule"`
	Interruption InterruptionConfig `mapstructure:"interruption"`
	Log          LogConfig          `mapstructure:"log"`
}

// StateConfig selects the shared state backend.
type StateConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

// FocusConfig holds focus cycle defaults for `focus start`.
type FocusConfig struct {
	Minutes      int  `mapstructure:"minutes"`
	BreakMinutes int  `mapstructure:"break_minutes"`
	Sessions     int  `mapstructure:"sessions"`
	AutoAdvance  bool `mapstructure:"auto_advance"`
}

// MonitorConfig tunes the monitor process.
type MonitorConfig struct {
	Tick            time.Duration `mapstructure:"tick"`
	EnforceInterval time.Duration `mapstructure:"enforce_interval"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
}

// ScheduleConfig tunes schedule reconciliation.
type ScheduleConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// InterruptionConfig tunes interruptions.
type InterruptionConfig struct {
	RearmInterval time.Duration `mapstructure:"rearm_interval"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		State: StateConfig{Backend: BackendFile},
		Focus: FocusConfig{
			Minutes:      25,
			BreakMinutes: 5,
			Sessions:     4,
			AutoAdvance:  true,
		},
		Monitor: MonitorConfig{
			Tick:            5 * time.Second,
			EnforceInterval: 2 * time.Second,
		},
		Schedule:     ScheduleConfig{ReconcileInterval: time.Minute},
		Interruption: InterruptionConfig{RearmInterval: 60 * time.Second},
		Log:          LogConfig{Level: "info"},
	}
}

// Load reads config.toml from dataDir, applies APPBLOCK_* overrides
// (APPBLOCK_FOCUS_MINUTES for focus.minutes) and validates the result.
// A missing file is not an error. v may be nil.
func Load(v *viper.Viper, dataDir string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v, DefaultConfig())

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	if dataDir != "" {
		v.AddConfigPath(dataDir)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("state.backend", d.State.Backend)
	v.SetDefault("state.dir", d.State.Dir)
	v.SetDefault("focus.minutes", d.Focus.Minutes)
	v.SetDefault("focus.break_minutes", d.Focus.BreakMinutes)
	v.SetDefault("focus.sessions", d.Focus.Sessions)
	v.SetDefault("focus.auto_advance", d.Focus.AutoAdvance)
	v.SetDefault("monitor.tick", d.Monitor.Tick)
	v.SetDefault("monitor.enforce_interval", d.Monitor.EnforceInterval)
	v.SetDefault("monitor.metrics_addr", d.Monitor.MetricsAddr)
	v.SetDefault("schedule.reconcile_interval", d.Schedule.ReconcileInterval)
	v.SetDefault("interruption.rearm_interval", d.Interruption.RearmInterval)
	v.SetDefault("log.level", d.Log.Level)
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	switch c.State.Backend {
	case BackendFile, BackendEncrypted:
	default:
		return fmt.Errorf("invalid state.backend %q (want %s or %s)", c.State.Backend, BackendFile, BackendEncrypted)
	}
	if c.Focus.Minutes <= 0 || c.Focus.BreakMinutes <= 0 || c.Focus.Sessions <= 0 {
		return fmt.Errorf("focus minutes, break_minutes and sessions must be positive")
	}
	if c.Monitor.Tick <= 0 || c.Monitor.EnforceInterval <= 0 {
		return fmt.Errorf("monitor.tick and monitor.enforce_interval must be positive")
	}
	if c.Schedule.ReconcileInterval <= 0 {
		return fmt.Errorf("schedule.reconcile_interval must be positive")
	}
	if c.Interruption.RearmInterval < 0 {
		return fmt.Errorf("interruption.rearm_interval must not be negative")
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	return nil
}

// LogLevel returns the configured zap level, defaulting to info.
func (c Config) LogLevel() zap.AtomicLevel {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return level
}
