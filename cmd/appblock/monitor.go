package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/daemon"
	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/focus"
	"github.com/eliteGoblin/focusd/app_block/internal/infra"
	"github.com/eliteGoblin/focusd/app_block/internal/metrics"
	"github.com/eliteGoblin/focusd/app_block/internal/usecase"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the background monitor",
	Long: `Installs the binary, installs a LaunchAgent on macOS so the monitor starts
at login and is restarted if killed, and launches the monitor.

The monitor fires schedules, focus phases and manual blocks, and kills
blocked apps while a restriction is applied.`,
	RunE: runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what is blocked right now",
	RunE:  runStatus,
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the known apps by category",
	RunE:  runCategories,
}

// Hidden monitor command - used for self-exec and by launchd
var monitorCmd = &cobra.Command{
	Use:    "monitor",
	Hidden: true,
	RunE:   runMonitor,
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(monitorCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	execMode := infra.ForDataDir(a.cfg.State.Dir)
	fmt.Printf("Execution mode: %s\n", execMode.Mode)

	liveness := daemon.NewLiveness(a.state, infra.NewProcessManager(), a.clock, Version, string(execMode.Mode), a.logger)
	if liveness.IsAlive(daemon.DefaultStaleAfter) {
		fmt.Println("appblock monitor is already running")
		return nil
	}

	currentExecPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Copy binary to the install location if not already there
	binaryPath := execMode.BinaryPath
	if currentExecPath != binaryPath {
		if err := os.MkdirAll(filepath.Dir(binaryPath), 0755); err != nil {
			fmt.Printf("Warning: Could not create binary directory: %v\n", err)
			binaryPath = currentExecPath
		} else if err := copyBinary(currentExecPath, binaryPath); err != nil {
			fmt.Printf("Warning: Could not copy binary to %s: %v\n", binaryPath, err)
			binaryPath = currentExecPath
		} else {
			fmt.Printf("Installed binary to %s\n", binaryPath)
		}
	}

	if runtime.GOOS == "darwin" {
		launchdManager := infra.NewLaunchdManager(execMode)
		if !launchdManager.IsInstalled() {
			if err := launchdManager.Install(binaryPath); err != nil {
				fmt.Printf("Warning: Could not install %s: %v\n", launchdManager.GetPlistPath(), err)
				fmt.Println("         (the monitor will still run, but won't auto-start)")
			} else {
				fmt.Println("Installed LaunchAgent for auto-start on login")
			}
		}
	}

	if err := daemon.StartMonitor(binaryPath, dataDir); err != nil {
		return err
	}

	// Wait a moment for the monitor to register
	time.Sleep(500 * time.Millisecond)

	fmt.Println("\n=== appblock Started ===")
	fmt.Printf("Binary: %s\n", binaryPath)
	fmt.Printf("Data: %s\n", a.cfg.State.Dir)
	fmt.Printf("Log: %s\n", execMode.LogPath)
	fmt.Println("========================")
	return nil
}

// copyBinary copies the binary file to destination using atomic write pattern.
// Writes to temp file first, syncs, chmods, then renames to avoid corruption.
func copyBinary(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".appblock-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmpFile, sourceFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err = tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err = os.Chmod(tmpPath, 0755); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, dst); err != nil {
		return err
	}

	success = true
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	now := a.clock.Now()
	fmt.Println("\n=== appblock Status ===")

	liveness := daemon.NewLiveness(a.state, infra.NewProcessManager(), a.clock, Version, "", a.logger)
	if rec, ok := liveness.Get(); ok && liveness.IsAlive(daemon.DefaultStaleAfter) {
		fmt.Printf("Monitor: RUNNING (pid %d, %s, last heartbeat %s ago)\n",
			rec.PID, rec.AppVersion, now.Sub(rec.LastHeartbeat).Round(time.Second))
	} else {
		fmt.Println("Monitor: NOT RUNNING (run 'appblock start')")
	}

	restrictions, err := a.restrictions.All()
	if err != nil {
		return err
	}
	fmt.Println("\nRestrictions:")
	if len(restrictions) == 0 {
		fmt.Println("  none")
	}
	for _, r := range restrictions {
		strict := ""
		if r.Strict {
			strict = " (strict)"
		}
		fmt.Printf("  %-24s %s%s since %s\n", r.Store, describeTargets(r.Targets), strict, r.AppliedAt.Format("15:04"))
	}

	if ms := a.manual.Status(); ms.Active {
		fmt.Printf("\nManual block: until %s (%s left)\n", ms.UnlockAt.Format("15:04:05"), ms.Remaining.Round(time.Second))
	}

	if st := focus.Load(a.state, now); st.Status != domain.CycleIdle {
		fmt.Printf("\nFocus: %s\n", focusLine(st))
	}

	if s, ok := a.interrupter.Settings(); ok {
		fmt.Printf("\nInterruptions: %s after %s, block %s\n", describeTargets(s.Targets), s.Threshold, s.BlockDuration)
		if until, ok := a.interrupter.BlockedUntil(); ok {
			fmt.Printf("  interrupting until %s\n", until.Format("15:04:05"))
		}
	}

	schedules, err := a.schedules.List()
	if err != nil {
		return err
	}
	if len(schedules) > 0 {
		fmt.Println("\nSchedules:")
		for _, s := range schedules {
			printSchedule(s)
		}
	}

	today := a.ledger.DailyStats(now)
	fmt.Printf("\nBlocked today: %s\n", formatDuration(today.TotalBlocked))
	fmt.Println("=======================")
	return nil
}

func runCategories(cmd *cobra.Command, args []string) error {
	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	for _, c := range a.catalog.Categories() {
		fmt.Printf("#%s\n", c)
		for _, p := range a.catalog.InCategory(c) {
			fmt.Printf("  %-12s %s\n", p.ID(), p.Name())
		}
	}
	fmt.Println("\nAny other --app value is matched against process names as is.")
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	execMode := infra.ForDataDir(cfg.State.Dir)

	// Set up logger (writes to <data dir>/appblock.log)
	logger := createMonitorLogger(cfg, execMode.LogPath)
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger, focus.WithoutTicker())
	if err != nil {
		logger.Error("failed to open state", zap.Error(err))
		return err
	}
	defer a.Close()

	pm := infra.NewProcessManager()
	liveness := daemon.NewLiveness(a.state, pm, a.clock, Version, string(execMode.Mode), logger)
	if rec, ok := liveness.Get(); ok && rec.PID != os.Getpid() && liveness.IsAlive(daemon.DefaultStaleAfter) {
		logger.Info("monitor already running", zap.Int("pid", rec.PID))
		return nil
	}

	enforcer := usecase.NewEnforcer(pm, a.restrictions, a.catalog, a.metrics, logger.Named("enforcer"))
	callbacks := usecase.NewMonitorCallbacks(a.state, a.restrictions, a.ledger, a.clock,
		a.schedules, a.manual, a.interrupter, a.metrics, logger.Named("callbacks"))

	var launchAgent domain.LaunchAgentManager
	if runtime.GOOS == "darwin" {
		launchAgent = infra.NewLaunchdManager(execMode)
	}

	config := daemon.DefaultMonitorConfig()
	config.TickInterval = cfg.Monitor.Tick
	config.EnforcementInterval = cfg.Monitor.EnforceInterval
	config.ReconcileInterval = cfg.Schedule.ReconcileInterval

	reconcilers := []daemon.Reconciler{
		daemon.ReconcilerFunc(func(ctx context.Context) {
			if err := a.schedules.ReconcileAll(ctx); err != nil {
				logger.Warn("schedule reconcile failed", zap.Error(err))
			}
		}),
		a.manual,
		a.interrupter,
		daemon.SessionGauges(a.ledger, a.metrics, logger),
	}

	monitor := daemon.NewMonitor(config, a.monitor, callbacks, enforcer, a.focus, reconcilers,
		liveness, launchAgent, a.clock, logger.Named("monitor"))

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

	if addr := cfg.Monitor.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, a.registry, logger); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	return monitor.Run(ctx)
}
