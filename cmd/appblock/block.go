package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/app_block/internal/daemon"
	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/infra"
)

var nowCmd = &cobra.Command{
	Use:   "now",
	Short: "Block apps right now for a fixed time",
	Long: `Starts a manual block. The selected apps are killed whenever they run
until the block ends. A --strict block cannot be lifted early.`,
	Example: `  appblock now --for 45m --category games
  appblock now --for 2h --app steam --app discord --strict`,
	RunE: runNow,
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "End the manual block early",
	RunE:  runUnlock,
}

var (
	nowFor        time.Duration
	nowApps       []string
	nowCategories []string
	nowStrict     bool
)

func init() {
	nowCmd.Flags().DurationVar(&nowFor, "for", 30*time.Minute, "How long to block")
	nowCmd.Flags().StringSliceVar(&nowApps, "app", nil, "App to block (repeatable)")
	nowCmd.Flags().StringSliceVar(&nowCategories, "category", nil, "Category to block (repeatable)")
	nowCmd.Flags().BoolVar(&nowStrict, "strict", false, "Refuse to unlock before the time is up")

	rootCmd.AddCommand(nowCmd)
	rootCmd.AddCommand(unlockCmd)
}

func runNow(cmd *cobra.Command, args []string) error {
	t, err := targets(nowApps, nowCategories)
	if err != nil {
		return err
	}

	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.manual.Start(cmd.Context(), nowFor, t, nowStrict)
	if err != nil {
		return err
	}

	fmt.Printf("Blocking until %s (%s)\n", status.UnlockAt.Format("15:04:05"), status.Remaining.Round(time.Second))
	if status.Strict {
		fmt.Println("Strict: this block cannot be lifted early.")
	}
	warnIfMonitorDown(a)
	return nil
}

func runUnlock(cmd *cobra.Command, args []string) error {
	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.manual.Status().Active {
		fmt.Println("No manual block is active.")
		return nil
	}
	if err := a.manual.Stop(cmd.Context(), true); err != nil {
		if errors.Is(err, domain.ErrStrictRestriction) {
			fmt.Printf("Strict block: %s left.\n", a.manual.Remaining().Round(time.Second))
		}
		return err
	}
	fmt.Println("Manual block lifted.")
	return nil
}

// warnIfMonitorDown tells the user when no monitor will enforce the block.
func warnIfMonitorDown(a *app) {
	l := daemon.NewLiveness(a.state, infra.NewProcessManager(), a.clock, Version, "", a.logger)
	if !l.IsAlive(daemon.DefaultStaleAfter) {
		fmt.Println("\nWarning: the monitor is not running; run 'appblock start' to enforce blocks.")
	}
}
