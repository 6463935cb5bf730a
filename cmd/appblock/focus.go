package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/focus"
)

var focusCmd = &cobra.Command{
	Use:   "focus",
	Short: "Run Pomodoro focus cycles",
	Long: `Alternates focus phases, during which the selected apps are blocked,
with unrestricted breaks. Defaults come from the [focus] section of config.toml.`,
}

var focusStartCmd = &cobra.Command{
	Use:     "start",
	Short:   "Start a focus cycle",
	Example: `  appblock focus start --category social --minutes 50 --break 10 --sessions 3`,
	RunE:    runFocusStart,
}

var focusPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the current phase (apps stay blocked)",
	RunE:  runFocusPause,
}

var focusResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused phase",
	RunE:  runFocusResume,
}

var focusContinueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Start the next phase when auto-advance is off",
	RunE:  runFocusContinue,
}

var focusStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the cycle and lift the block",
	RunE:  runFocusStop,
}

var focusStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cycle state",
	RunE:  runFocusStatus,
}

var focusWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show a live countdown until interrupted",
	RunE:  runFocusWatch,
}

var (
	focusMinutes    int
	focusBreak      int
	focusSessions   int
	focusManual     bool
	focusApps       []string
	focusCategories []string
)

func init() {
	focusStartCmd.Flags().IntVar(&focusMinutes, "minutes", 0, "Focus phase length in minutes (default from config)")
	focusStartCmd.Flags().IntVar(&focusBreak, "break", 0, "Break length in minutes (default from config)")
	focusStartCmd.Flags().IntVar(&focusSessions, "sessions", 0, "Number of focus sessions (default from config)")
	focusStartCmd.Flags().BoolVar(&focusManual, "manual", false, "Wait for 'focus continue' between phases")
	focusStartCmd.Flags().StringSliceVar(&focusApps, "app", nil, "App to block (repeatable)")
	focusStartCmd.Flags().StringSliceVar(&focusCategories, "category", nil, "Category to block (repeatable)")

	focusCmd.AddCommand(focusStartCmd, focusPauseCmd, focusResumeCmd, focusContinueCmd, focusStopCmd, focusStatusCmd, focusWatchCmd)
	rootCmd.AddCommand(focusCmd)
}

func runFocusStart(cmd *cobra.Command, args []string) error {
	t, err := targets(focusApps, focusCategories)
	if err != nil {
		return err
	}

	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	s := focus.Settings{
		FocusMinutes:  orDefault(focusMinutes, a.cfg.Focus.Minutes),
		BreakMinutes:  orDefault(focusBreak, a.cfg.Focus.BreakMinutes),
		TotalSessions: orDefault(focusSessions, a.cfg.Focus.Sessions),
		AutoAdvance:   a.cfg.Focus.AutoAdvance && !focusManual,
		Targets:       t,
	}
	a.focus.Restore(cmd.Context())
	st, err := a.focus.Start(cmd.Context(), s)
	if err != nil {
		return err
	}

	printFocus(st)
	warnIfMonitorDown(a)
	return nil
}

func runFocusPause(cmd *cobra.Command, args []string) error {
	return withFocus(cmd, func(a *app) (domain.FocusCycleState, error) {
		return a.focus.Pause(cmd.Context())
	})
}

func runFocusResume(cmd *cobra.Command, args []string) error {
	return withFocus(cmd, func(a *app) (domain.FocusCycleState, error) {
		return a.focus.Resume(cmd.Context())
	})
}

func runFocusContinue(cmd *cobra.Command, args []string) error {
	return withFocus(cmd, func(a *app) (domain.FocusCycleState, error) {
		return a.focus.ContinueCycle(cmd.Context())
	})
}

func runFocusStop(cmd *cobra.Command, args []string) error {
	return withFocus(cmd, func(a *app) (domain.FocusCycleState, error) {
		a.focus.Stop(cmd.Context(), "user", false)
		return a.focus.Snapshot(), nil
	})
}

func runFocusStatus(cmd *cobra.Command, args []string) error {
	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	printFocus(focus.Load(a.state, a.clock.Now()))
	return nil
}

func runFocusWatch(cmd *cobra.Command, args []string) error {
	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(focus.DefaultTickInterval)
	defer ticker.Stop()

	for {
		st := focus.Load(a.state, a.clock.Now())
		fmt.Printf("\r%-60s", focusLine(st))
		if !st.Running() && st.Status != domain.CycleAwaitingConfirm {
			fmt.Println()
			return nil
		}

		select {
		case <-sigChan:
			fmt.Println()
			return nil
		case <-ticker.C:
		}
	}
}

// withFocus restores the cycle, runs fn and prints the resulting state.
func withFocus(cmd *cobra.Command, fn func(a *app) (domain.FocusCycleState, error)) error {
	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	a.focus.Restore(cmd.Context())
	st, err := fn(a)
	if err != nil {
		return err
	}
	printFocus(st)
	return nil
}

func printFocus(st domain.FocusCycleState) {
	fmt.Println(focusLine(st))
	if st.Status == domain.CycleIdle || st.Status == "" {
		return
	}
	if !st.Targets.IsEmpty() {
		fmt.Printf("Blocking: %s\n", describeTargets(st.Targets))
	}
}

func focusLine(st domain.FocusCycleState) string {
	switch st.Status {
	case domain.CycleFocusActive, domain.CycleBreakActive:
		line := fmt.Sprintf("%s %d/%d  %s left", st.Phase, st.SessionIndex+1, st.TotalSessions,
			(time.Duration(st.RemainingSeconds) * time.Second).String())
		if st.Paused {
			line += "  (paused)"
		}
		return line
	case domain.CycleAwaitingConfirm:
		return fmt.Sprintf("%s %d/%d done, run 'appblock focus continue'", st.Phase, st.SessionIndex+1, st.TotalSessions)
	case domain.CycleAllSessionsDone:
		return fmt.Sprintf("All %d sessions completed", st.TotalSessions)
	default:
		return "No focus cycle"
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
