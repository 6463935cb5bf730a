// Package main is the CLI entry point for appblock.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/app_block/internal/config"
	"github.com/eliteGoblin/focusd/app_block/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "appblock",
	Short: "Blocks distracting apps on a schedule, on demand or in focus cycles",
	Long: `appblock restricts selected applications and categories for bounded
time windows: "focus now" blocks, usage interruptions, weekly schedules
and Pomodoro focus cycles.

A background monitor process fires the windows and kills restricted apps.
Run 'appblock start' once to launch it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	dataDir    string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "State directory (default depends on execution mode)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(versionCmd)
}

// resolveDataDir returns --data-dir or the execution mode default.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	return infra.DetectExecMode().DataDir
}

// loadConfig reads config.toml and APPBLOCK_* overrides from the data dir.
func loadConfig() (config.Config, error) {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return config.Config{}, fmt.Errorf("failed to create data dir: %w", err)
	}
	return config.Load(nil, dir)
}

// createCLILogger returns the console logger of foreground commands.
func createCLILogger(cfg config.Config) *zap.Logger {
	zc := zap.NewDevelopmentConfig()
	zc.Level = cfg.LogLevel()
	if cfg.Log.Level == "info" {
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// createMonitorLogger returns the JSON file logger of the monitor process.
func createMonitorLogger(cfg config.Config, logPath string) *zap.Logger {
	zc := zap.NewProductionConfig()
	zc.Level = cfg.LogLevel()
	zc.OutputPaths = []string{logPath}
	zc.ErrorOutputPaths = []string{logPath}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("appblock %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
