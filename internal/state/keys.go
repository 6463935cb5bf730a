// Package state defines the shared-state key namespace and typed accessors.
// Readers fail open: a missing or undecodable value reads as absent.
package state

import (
	"time"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
)

const dayLayout = "2006-01-02"

const (
	KeyBlockActive          = "block.active"
	KeyFocusState           = "focus.state"
	KeyFocusUnlockAt        = "focus.unlock_at"
	KeyFocusPaused          = "focus.paused"
	KeyFocusPausedRemaining = "focus.paused_remaining"
	KeyManualUnlockAt       = "manual.unlock_at"
	KeyManualStrict         = "manual.strict"
	KeyInterruptSettings    = "interruption.settings"
	KeyInterruptLast        = "interruption.last_trigger"
	KeyInterruptUnlockAt    = "interruption.unlock_at"
	KeyLifetime             = "ledger.lifetime"
	KeyMonitorDaemon        = "daemon.monitor"

	PrefixActiveSession   = "session.active."
	PrefixEndedMarker     = "session.ended."
	PrefixScheduleDef     = "schedule.def."
	PrefixScheduleBlock   = "schedule.blocking."
	PrefixRestriction     = "restriction."
	PrefixMonitorActivity = "monitor.activity."
	PrefixMonitorRuntime  = "monitor.runtime."
	PrefixLedgerDay       = "ledger.day."
)

// ActiveSessionKey is the slot of the active session of kind. Schedule
// sessions get one slot per schedule id.
func ActiveSessionKey(kind domain.SessionType, scheduleID string) string {
	if kind == domain.SessionSchedule {
		return PrefixActiveSession + string(kind) + "." + scheduleID
	}
	return PrefixActiveSession + string(kind)
}

// EndedMarkerKey marks a session id as finalized.
func EndedMarkerKey(id string) string {
	return PrefixEndedMarker + id
}

// ScheduleDefKey holds a schedule definition.
func ScheduleDefKey(id string) string {
	return PrefixScheduleDef + id
}

// ScheduleBlockingKey holds the blocking flag of a schedule.
func ScheduleBlockingKey(id string) string {
	return PrefixScheduleBlock + id
}

// RestrictionKey holds the restriction applied in store.
func RestrictionKey(store domain.StoreName) string {
	return PrefixRestriction + string(store)
}

// MonitorActivityKey holds a monitor registration.
func MonitorActivityKey(activityID string) string {
	return PrefixMonitorActivity + activityID
}

// MonitorRuntimeKey holds the monitor's runtime view of a registration.
func MonitorRuntimeKey(activityID string) string {
	return PrefixMonitorRuntime + activityID
}

// Day formats the calendar day of t.
func Day(t time.Time) string {
	return t.Format(dayLayout)
}

// ParseDay parses a day produced by Day in loc.
func ParseDay(day string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dayLayout, day, loc)
}

// DaySessionsKey holds the finalized sessions that started on day.
func DaySessionsKey(day string) string {
	return PrefixLedgerDay + day + ".sessions"
}

// DayHourlyKey holds the hourly buckets of day.
func DayHourlyKey(day string) string {
	return PrefixLedgerDay + day + ".hourly"
}
