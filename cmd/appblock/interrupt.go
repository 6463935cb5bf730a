package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/app_block/internal/usecase"
)

var interruptCmd = &cobra.Command{
	Use:   "interrupt",
	Short: "Block apps briefly after a daily usage threshold",
}

var interruptSetCmd = &cobra.Command{
	Use:     "set",
	Short:   "Configure interruptions",
	Example: `  appblock interrupt set --after 45m --block 10m --category social`,
	RunE:    runInterruptSet,
}

var interruptOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Disable interruptions and lift a running interruption",
	RunE:  runInterruptOff,
}

var (
	interruptAfter      time.Duration
	interruptBlock      time.Duration
	interruptApps       []string
	interruptCategories []string
)

func init() {
	interruptSetCmd.Flags().DurationVar(&interruptAfter, "after", 30*time.Minute, "Usage per day before an interruption")
	interruptSetCmd.Flags().DurationVar(&interruptBlock, "block", 10*time.Minute, "How long an interruption blocks")
	interruptSetCmd.Flags().StringSliceVar(&interruptApps, "app", nil, "App to watch (repeatable)")
	interruptSetCmd.Flags().StringSliceVar(&interruptCategories, "category", nil, "Category to watch (repeatable)")

	interruptCmd.AddCommand(interruptSetCmd, interruptOffCmd)
	rootCmd.AddCommand(interruptCmd)
}

func runInterruptSet(cmd *cobra.Command, args []string) error {
	t, err := targets(interruptApps, interruptCategories)
	if err != nil {
		return err
	}

	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	s := usecase.InterruptionSettings{Targets: t, Threshold: interruptAfter, BlockDuration: interruptBlock}
	if err := a.interrupter.Configure(cmd.Context(), s); err != nil {
		return err
	}
	fmt.Printf("Interruptions on: %s blocked for %s after %s of use per day\n",
		describeTargets(t), interruptBlock, interruptAfter)
	warnIfMonitorDown(a)
	return nil
}

func runInterruptOff(cmd *cobra.Command, args []string) error {
	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.interrupter.Disable(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Interruptions off.")
	return nil
}
