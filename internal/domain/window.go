package domain

import (
	"slices"
	"time"
)

const minutesPerDay = 24 * 60

// MinimumMonitorInterval is the shortest window the activity monitor accepts.
const MinimumMonitorInterval = 15 * time.Minute

// windowLength is the length of [start,end) with wraparound past midnight.
// Equal start and end is an empty window.
func windowLength(start, end TimeOfDay) time.Duration {
	minutes := (end.Minutes() - start.Minutes() + minutesPerDay) % minutesPerDay
	return time.Duration(minutes) * time.Minute
}

// WindowContains reports whether t falls inside the daily window [start,end)
// on one of days. When end < start the window wraps past midnight and the
// minute test becomes cur >= start || cur < end. The weekday tested is always
// t's own weekday.
func WindowContains(start, end TimeOfDay, days []time.Weekday, t time.Time) bool {
	if !slices.Contains(days, t.Weekday()) {
		return false
	}
	cur := t.Hour()*60 + t.Minute()
	s, e := start.Minutes(), end.Minutes()
	if e < s {
		return cur >= s || cur < e
	}
	return cur >= s && cur < e
}

// Occurrence returns the bounds of the window occurrence containing t, which
// must be inside the window. Because membership tests t's own weekday, an
// overnight occurrence is cut at midnight when the neighbouring day is not
// one of days.
func Occurrence(start, end TimeOfDay, days []time.Weekday, t time.Time) (time.Time, time.Time) {
	from, until := start.On(t), end.On(t)
	if end.Minutes() >= start.Minutes() {
		return from, until
	}

	midnight := dayStart(t)
	if t.Hour()*60+t.Minute() >= start.Minutes() {
		next := midnight.AddDate(0, 0, 1)
		if !slices.Contains(days, next.Weekday()) {
			return from, next
		}
		return from, end.On(next)
	}
	prev := midnight.AddDate(0, 0, -1)
	if !slices.Contains(days, prev.Weekday()) {
		return midnight, until
	}
	return start.On(prev), until
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WindowEnd returns the end instant of the window occurrence containing t.
// The caller must already know t is inside the window.
func WindowEnd(start, end TimeOfDay, t time.Time) time.Time {
	endAt := end.On(t)
	if end.Minutes() < start.Minutes() && t.Hour()*60+t.Minute() >= start.Minutes() {
		endAt = endAt.AddDate(0, 0, 1)
	}
	return endAt
}

// MonitorSchedule is a window registered with the activity monitor: either a
// repeating daily window on some weekdays or a one-shot absolute window.
type MonitorSchedule struct {
	Repeats bool           `json:"repeats"`
	Start   TimeOfDay      `json:"start"`
	End     TimeOfDay      `json:"end"`
	Days    []time.Weekday `json:"days,omitempty"`
	From    time.Time      `json:"from,omitempty"`
	Until   time.Time      `json:"until,omitempty"`
}

// DailyWindow builds a repeating monitor schedule.
func DailyWindow(start, end TimeOfDay, days []time.Weekday) MonitorSchedule {
	return MonitorSchedule{Repeats: true, Start: start, End: end, Days: slices.Clone(days)}
}

// OneShot builds a non-repeating monitor schedule for [from,until).
func OneShot(from, until time.Time) MonitorSchedule {
	return MonitorSchedule{From: from, Until: until}
}

// Length returns the length of one occurrence.
func (m MonitorSchedule) Length() time.Duration {
	if m.Repeats {
		return windowLength(m.Start, m.End)
	}
	return m.Until.Sub(m.From)
}

// Contains reports whether t is inside the schedule.
func (m MonitorSchedule) Contains(t time.Time) bool {
	if m.Repeats {
		return WindowContains(m.Start, m.End, m.Days, t)
	}
	return !t.Before(m.From) && t.Before(m.Until)
}

// Expired reports whether a one-shot schedule has fully elapsed at t.
func (m MonitorSchedule) Expired(t time.Time) bool {
	return !m.Repeats && !t.Before(m.Until)
}

// PadOneShot widens [from,until) to the monitor floor by moving from back,
// so that short timers still end exactly at until.
func PadOneShot(from, until time.Time) (time.Time, time.Time) {
	if until.Sub(from) < MinimumMonitorInterval {
		from = until.Add(-MinimumMonitorInterval)
	}
	return from, until
}

// ThresholdEvent asks the monitor to report when the targets have been in use
// for Threshold within the current interval.
type ThresholdEvent struct {
	ID        string        `json:"id"`
	Targets   TargetSet     `json:"targets"`
	Threshold time.Duration `json:"threshold"`
}

// ActivityRegistration is a persisted monitor registration.
type ActivityRegistration struct {
	ActivityID   string           `json:"activity_id"`
	Schedule     MonitorSchedule  `json:"schedule"`
	Thresholds   []ThresholdEvent `json:"thresholds,omitempty"`
	RegisteredAt time.Time        `json:"registered_at"`
}

// ActivityRuntime is what the monitor process remembers about a registration
// between ticks and across restarts.
type ActivityRuntime struct {
	InInterval     bool            `json:"in_interval"`
	IntervalStart  time.Time       `json:"interval_start,omitempty"`
	Usage          time.Duration   `json:"usage"`
	LastSample     time.Time       `json:"last_sample,omitempty"`
	ThresholdFired map[string]bool `json:"threshold_fired,omitempty"`
}
