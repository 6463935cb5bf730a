package ledger

import (
	"time"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
)

// Allocate splits [start,end) across the local hour slots it overlaps and
// returns minutes per hour keyed by calendar day. Interior hours get a full
// 60 minutes, the first and last hour only their overlapping part.
func Allocate(start, end time.Time) map[string]*domain.HourlyBuckets {
	out := make(map[string]*domain.HourlyBuckets)
	if !end.After(start) {
		return out
	}

	slot := hourFloor(start)
	for slot.Before(end) {
		next := time.Date(slot.Year(), slot.Month(), slot.Day(), slot.Hour()+1, 0, 0, 0, slot.Location())
		if !next.After(slot) {
			next = slot.Add(time.Hour)
		}

		from := maxTime(start, slot)
		to := minTime(end, next)
		if to.After(from) {
			day := state.Day(slot)
			b, ok := out[day]
			if !ok {
				b = &domain.HourlyBuckets{}
				out[day] = b
			}
			b[slot.Hour()] += to.Sub(from).Minutes()
		}
		slot = next
	}
	return out
}

func hourFloor(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// daysTouched lists the calendar days [start,end] overlaps, oldest first,
// up to maxSessionDays+1 days. truncated reports that later days were cut.
func daysTouched(start, end time.Time) (days []string, truncated bool) {
	d := noon(start)
	last := state.Day(end)
	for {
		day := state.Day(d)
		days = append(days, day)
		if day == last {
			return days, false
		}
		if len(days) > maxSessionDays {
			return days, true
		}
		d = d.AddDate(0, 0, 1)
	}
}

// noon anchors day arithmetic away from DST transitions.
func noon(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, t.Location())
}
