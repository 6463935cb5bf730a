// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// SessionType identifies what triggered a blocking session.
type SessionType string

const (
	SessionManual        SessionType = "manual"
	SessionInterruption  SessionType = "interruption"
	SessionSchedule      SessionType = "schedule"
	SessionPomodoroFocus SessionType = "pomodoroFocus"
)

// SessionTypes lists every session type in display order.
var SessionTypes = []SessionType{SessionManual, SessionInterruption, SessionSchedule, SessionPomodoroFocus}

// Valid reports whether t is a known session type.
func (t SessionType) Valid() bool {
	return slices.Contains(SessionTypes, t)
}

// TargetSet is the caller-supplied selection of things to restrict.
// Tokens are opaque to the engine; only the enforcement adapter interprets them.
// A set with no Apps but some Categories means "whole categories".
type TargetSet struct {
	Apps       []string `json:"apps,omitempty" toml:"apps,omitempty"`
	Categories []string `json:"categories,omitempty" toml:"categories,omitempty"`
}

// IsEmpty reports whether the set selects nothing.
func (t TargetSet) IsEmpty() bool {
	return len(t.Apps) == 0 && len(t.Categories) == 0
}

// WholeCategories reports whether the set is the category-only sentinel.
func (t TargetSet) WholeCategories() bool {
	return len(t.Apps) == 0 && len(t.Categories) > 0
}

// Equal compares two sets ignoring order and duplicates.
func (t TargetSet) Equal(o TargetSet) bool {
	return slices.Equal(normalize(t.Apps), normalize(o.Apps)) &&
		slices.Equal(normalize(t.Categories), normalize(o.Categories))
}

func normalize(in []string) []string {
	out := slices.Clone(in)
	sort.Strings(out)
	return slices.Compact(out)
}

// BlockingSession is one instance of "apps are restricted now".
// It is mutated exactly once, when it ends, and is immutable afterwards.
type BlockingSession struct {
	ID         string      `json:"id"`
	Type       SessionType `json:"type"`
	ScheduleID string      `json:"schedule_id,omitempty"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    *time.Time  `json:"end_time,omitempty"`
	Targets    TargetSet   `json:"targets"`
	Completed  bool        `json:"completed"`
}

// IsActive reports whether the session has not ended yet.
func (s BlockingSession) IsActive() bool {
	return s.EndTime == nil
}

// Duration returns the actual duration of an ended session, or the elapsed
// time up to now for an active one.
func (s BlockingSession) Duration(now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	if end.Before(s.StartTime) {
		return 0
	}
	return end.Sub(s.StartTime)
}

// TimeOfDay is a wall-clock time without a date.
// It encodes as "HH:MM" in JSON and TOML.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: out of range", s)
	}
	return t, nil
}

// MustTimeOfDay is ParseTimeOfDay for constants and tests.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// On returns the instant of t on the calendar day of ref, in ref's location.
func (t TimeOfDay) On(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, ref.Location())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// BlockSchedule is a recurring weekly restriction rule.
// Name, Start, End, Days, Targets and Strict are owned by the user.
// IsCurrentlyBlocking is owned by the schedule engine.
type BlockSchedule struct {
	ID                  string         `json:"id" toml:"id"`
	Name                string         `json:"name" toml:"name"`
	Start               TimeOfDay      `json:"start" toml:"start"`
	End                 TimeOfDay      `json:"end" toml:"end"`
	Days                []time.Weekday `json:"days" toml:"days"`
	Targets             TargetSet      `json:"targets" toml:"targets"`
	Strict              bool           `json:"strict" toml:"strict"`
	IsActive            bool           `json:"is_active" toml:"active"`
	IsCurrentlyBlocking bool           `json:"is_currently_blocking" toml:"-"`
}

// HasDay reports whether the schedule recurs on d.
func (s BlockSchedule) HasDay(d time.Weekday) bool {
	return slices.Contains(s.Days, d)
}

// Overnight reports whether the window wraps past midnight.
func (s BlockSchedule) Overnight() bool {
	return s.End.Minutes() < s.Start.Minutes()
}

// WindowLength returns the length of one occurrence of the window.
func (s BlockSchedule) WindowLength() time.Duration {
	return windowLength(s.Start, s.End)
}

// FocusPhase is the phase of a Pomodoro cycle.
type FocusPhase string

const (
	PhaseFocus FocusPhase = "focus"
	PhaseBreak FocusPhase = "break"
)

// CycleStatus is the state of the focus cycle machine.
type CycleStatus string

const (
	CycleIdle            CycleStatus = "idle"
	CycleFocusActive     CycleStatus = "focusActive"
	CycleBreakActive     CycleStatus = "breakActive"
	CycleAwaitingConfirm CycleStatus = "awaitingConfirmation"
	CycleAllSessionsDone CycleStatus = "allSessionsCompleted"
)

// FocusCycleState is the persisted state of a Pomodoro cycle.
// Paused is orthogonal to Status: a focusActive or breakActive cycle may be paused.
type FocusCycleState struct {
	Revision         int64       `json:"revision"`
	Status           CycleStatus `json:"status"`
	Phase            FocusPhase  `json:"phase"`
	SessionIndex     int         `json:"session_index"`
	TotalSessions    int         `json:"total_sessions"`
	FocusMinutes     int         `json:"focus_minutes"`
	BreakMinutes     int         `json:"break_minutes"`
	AutoAdvance      bool        `json:"auto_advance"`
	Targets          TargetSet   `json:"targets"`
	PhaseStartedAt   time.Time   `json:"phase_started_at"`
	UnlockAt         time.Time   `json:"unlock_at"`
	RemainingSeconds int         `json:"remaining_seconds"`
	Paused           bool        `json:"paused"`
	PausedRemaining  int         `json:"paused_remaining"`
	SessionID        string      `json:"session_id,omitempty"`
}

// Running reports whether a phase is in progress (paused or not).
func (s FocusCycleState) Running() bool {
	return s.Status == CycleFocusActive || s.Status == CycleBreakActive
}

// DailyStats aggregates one calendar day of sessions.
type DailyStats struct {
	Date         string                        `json:"date"`
	TotalBlocked time.Duration                 `json:"total_blocked"`
	Completed    int                           `json:"completed"`
	Interrupted  int                           `json:"interrupted"`
	Active       int                           `json:"active"`
	ByType       map[SessionType]time.Duration `json:"by_type"`
}

// HourlyBuckets holds blocked minutes per hour of one day.
type HourlyBuckets [24]float64

// Total returns the sum of all buckets in minutes.
func (h HourlyBuckets) Total() float64 {
	var sum float64
	for _, m := range h {
		sum += m
	}
	return sum
}

// Restriction is one applied restriction set in a named store.
type Restriction struct {
	Store     StoreName `json:"store"`
	Targets   TargetSet `json:"targets"`
	Strict    bool      `json:"strict"`
	AppliedAt time.Time `json:"applied_at"`
}

// EnforcementResult captures what happened during a single enforcement run.
type EnforcementResult struct {
	Store      StoreName
	Patterns   []string
	KilledPIDs []int
	Errors     []error
	ExecutedAt time.Time
	DurationMs int64
}

// MonitorDaemon is the liveness record the monitor process keeps in shared state.
type MonitorDaemon struct {
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	AppVersion    string    `json:"app_version,omitempty"`
	Mode          string    `json:"mode,omitempty"`
}
