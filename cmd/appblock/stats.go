package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show blocked time statistics",
	RunE:  runStats,
}

var (
	statsDate string
	statsWeek bool
)

func init() {
	statsCmd.Flags().StringVar(&statsDate, "date", "", "Day to show, YYYY-MM-DD (default today)")
	statsCmd.Flags().BoolVar(&statsWeek, "week", false, "Show the seven days ending on --date")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	date := a.clock.Now()
	if statsDate != "" {
		date, err = state.ParseDay(statsDate, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
		date = date.Add(12 * time.Hour)
	}

	if statsWeek {
		fmt.Println("=== Last 7 days ===")
		for _, d := range a.ledger.WeeklyStats(date) {
			fmt.Printf("%s  %8s  %2d completed  %2d interrupted\n",
				d.Date, formatDuration(d.TotalBlocked), d.Completed, d.Interrupted)
		}
	} else {
		printDay(a.ledger.DailyStats(date), a.ledger.HourlyBuckets(date))
	}

	fmt.Printf("\nStreak: %d days\n", a.ledger.Streak(date))
	fmt.Printf("Lifetime: %s\n", formatDuration(a.ledger.LifetimeTotal()))
	return nil
}

func printDay(d domain.DailyStats, hourly domain.HourlyBuckets) {
	fmt.Printf("=== %s ===\n", d.Date)
	fmt.Printf("Blocked: %s (%d completed, %d interrupted, %d active)\n",
		formatDuration(d.TotalBlocked), d.Completed, d.Interrupted, d.Active)
	for _, t := range domain.SessionTypes {
		if v := d.ByType[t]; v > 0 {
			fmt.Printf("  %-14s %s\n", t, formatDuration(v))
		}
	}

	if hourly.Total() == 0 {
		return
	}
	fmt.Println("\nBy hour (minutes):")
	for h, m := range hourly {
		if m == 0 {
			continue
		}
		fmt.Printf("  %02d:00 %5.1f %s\n", h, m, strings.Repeat("#", int(m/5+0.5)))
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}
