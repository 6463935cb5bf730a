package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage weekly blocking schedules",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a schedule",
	Long: `Adds a weekly window during which the selected apps are blocked.
Windows may wrap past midnight (22:00-06:00) and must last at least 15 minutes.`,
	Example: `  appblock schedule add --name work --start 09:00 --end 17:00 --days mon,tue,wed,thu,fri --category games
  appblock schedule add --name night --start 23:00 --end 06:00 --days sun,mon,tue,wed,thu --app steam --strict`,
	RunE: runScheduleAdd,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	RunE:  runScheduleList,
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable <id|name>",
	Short: "Enable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleEnable,
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable <id|name>",
	Short: "Disable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleDisable,
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove <id|name>",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRemove,
}

var scheduleImportCmd = &cobra.Command{
	Use:   "import <file.toml>",
	Short: "Add or replace schedules from a TOML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleImport,
}

var scheduleExportCmd = &cobra.Command{
	Use:   "export <file.toml>",
	Short: "Write all schedules to a TOML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleExport,
}

var (
	schedName       string
	schedStart      string
	schedEnd        string
	schedDays       []string
	schedApps       []string
	schedCategories []string
	schedStrict     bool
	schedDisabled   bool
)

func init() {
	f := scheduleAddCmd.Flags()
	f.StringVar(&schedName, "name", "", "Schedule name")
	f.StringVar(&schedStart, "start", "", "Window start, HH:MM")
	f.StringVar(&schedEnd, "end", "", "Window end, HH:MM")
	f.StringSliceVar(&schedDays, "days", []string{"mon", "tue", "wed", "thu", "fri"}, "Weekdays of the window start")
	f.StringSliceVar(&schedApps, "app", nil, "App to block (repeatable)")
	f.StringSliceVar(&schedCategories, "category", nil, "Category to block (repeatable)")
	f.BoolVar(&schedStrict, "strict", false, "Refuse to disable or edit while blocking")
	f.BoolVar(&schedDisabled, "disabled", false, "Save without enabling")
	_ = scheduleAddCmd.MarkFlagRequired("name")
	_ = scheduleAddCmd.MarkFlagRequired("start")
	_ = scheduleAddCmd.MarkFlagRequired("end")

	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleEnableCmd, scheduleDisableCmd,
		scheduleRemoveCmd, scheduleImportCmd, scheduleExportCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	s, err := scheduleFromFlags()
	if err != nil {
		return err
	}

	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	saved, err := a.schedules.Save(cmd.Context(), s)
	if err != nil {
		return err
	}
	fmt.Printf("Added schedule %s\n", shortID(saved.ID))
	printSchedule(saved)
	if saved.IsActive {
		warnIfMonitorDown(a)
	}
	return nil
}

func scheduleFromFlags() (domain.BlockSchedule, error) {
	t, err := targets(schedApps, schedCategories)
	if err != nil {
		return domain.BlockSchedule{}, err
	}
	start, err := domain.ParseTimeOfDay(schedStart)
	if err != nil {
		return domain.BlockSchedule{}, err
	}
	end, err := domain.ParseTimeOfDay(schedEnd)
	if err != nil {
		return domain.BlockSchedule{}, err
	}
	days, err := parseDays(schedDays)
	if err != nil {
		return domain.BlockSchedule{}, err
	}
	return domain.BlockSchedule{
		Name:     schedName,
		Start:    start,
		End:      end,
		Days:     days,
		Targets:  t,
		Strict:   schedStrict,
		IsActive: !schedDisabled,
	}, nil
}

func parseDays(in []string) ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(in))
	for _, s := range in {
		d, err := schedule.ParseDay(s)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	schedules, err := a.schedules.List()
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		fmt.Println("No schedules. Add one with 'appblock schedule add'.")
		return nil
	}
	for _, s := range schedules {
		printSchedule(s)
	}
	return nil
}

func runScheduleEnable(cmd *cobra.Command, args []string) error {
	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := findSchedule(a, args[0])
	if err != nil {
		return err
	}
	s, err = a.schedules.Activate(cmd.Context(), s.ID)
	if err != nil {
		return err
	}
	printSchedule(s)
	warnIfMonitorDown(a)
	return nil
}

func runScheduleDisable(cmd *cobra.Command, args []string) error {
	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := findSchedule(a, args[0])
	if err != nil {
		return err
	}
	if err := a.schedules.Deactivate(cmd.Context(), s.ID, true); err != nil {
		return err
	}
	fmt.Printf("Disabled %s\n", s.Name)
	return nil
}

func runScheduleRemove(cmd *cobra.Command, args []string) error {
	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := findSchedule(a, args[0])
	if err != nil {
		return err
	}
	if err := a.schedules.Delete(cmd.Context(), s.ID, true); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", s.Name)
	return nil
}

func runScheduleImport(cmd *cobra.Command, args []string) error {
	schedules, err := schedule.LoadFile(args[0])
	if err != nil {
		return err
	}

	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	var failed int
	for _, s := range schedules {
		saved, err := a.schedules.Save(cmd.Context(), s)
		if err != nil {
			fmt.Printf("  %s: %v\n", s.Name, err)
			failed++
			continue
		}
		printSchedule(saved)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d schedules not imported", failed, len(schedules))
	}
	fmt.Printf("Imported %d schedules\n", len(schedules))
	return nil
}

func runScheduleExport(cmd *cobra.Command, args []string) error {
	a, err := openCLI()
	if err != nil {
		return err
	}
	defer a.Close()

	schedules, err := a.schedules.List()
	if err != nil {
		return err
	}
	if err := schedule.WriteFile(args[0], schedules); err != nil {
		return err
	}
	fmt.Printf("Exported %d schedules to %s\n", len(schedules), args[0])
	return nil
}

// findSchedule resolves a full id, an id prefix or a name.
func findSchedule(a *app, ref string) (domain.BlockSchedule, error) {
	if s, err := a.schedules.Get(ref); err == nil {
		return s, nil
	}
	schedules, err := a.schedules.List()
	if err != nil {
		return domain.BlockSchedule{}, err
	}

	var matches []domain.BlockSchedule
	for _, s := range schedules {
		if strings.HasPrefix(s.ID, ref) || strings.EqualFold(s.Name, ref) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return domain.BlockSchedule{}, fmt.Errorf("%q: %w", ref, domain.ErrScheduleNotFound)
	case 1:
		return matches[0], nil
	default:
		return domain.BlockSchedule{}, fmt.Errorf("%q matches %d schedules, use the id", ref, len(matches))
	}
}

func printSchedule(s domain.BlockSchedule) {
	days := make([]string, len(s.Days))
	for i, d := range s.Days {
		days[i] = schedule.DayName(d)
	}

	flags := []string{}
	switch {
	case s.IsCurrentlyBlocking:
		flags = append(flags, "BLOCKING")
	case s.IsActive:
		flags = append(flags, "enabled")
	default:
		flags = append(flags, "disabled")
	}
	if s.Strict {
		flags = append(flags, "strict")
	}

	fmt.Printf("  %-8s %-16s %s-%s %-28s %-20s [%s]\n",
		shortID(s.ID), s.Name, s.Start, s.End, strings.Join(days, ","),
		describeTargets(s.Targets), strings.Join(flags, ", "))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func describeTargets(t domain.TargetSet) string {
	parts := make([]string, 0, len(t.Apps)+len(t.Categories))
	parts = append(parts, t.Apps...)
	for _, c := range t.Categories {
		parts = append(parts, "#"+c)
	}
	return strings.Join(parts, " ")
}
