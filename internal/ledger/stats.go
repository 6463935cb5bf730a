package ledger

import (
	"time"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
)

const maxStreakDays = 366

// Sessions returns the ended sessions that started on date's calendar day.
func (l *Ledger) Sessions(date time.Time) []domain.BlockingSession {
	return l.readSessions(state.DaySessionsKey(state.Day(date)))
}

// DailyStats aggregates date's ended sessions plus the live elapsed time of
// active sessions that started that day. Sessions count toward their start day.
func (l *Ledger) DailyStats(date time.Time) domain.DailyStats {
	day := state.Day(date)
	now := l.clock.Now()
	stats := domain.DailyStats{
		Date:   day,
		ByType: make(map[domain.SessionType]time.Duration),
	}

	for _, s := range l.Sessions(date) {
		d := s.Duration(now)
		stats.TotalBlocked += d
		stats.ByType[s.Type] += d
		if s.Completed {
			stats.Completed++
		} else {
			stats.Interrupted++
		}
	}

	active, _ := l.GetAllActive()
	for _, s := range active {
		if state.Day(s.StartTime.In(date.Location())) != day {
			continue
		}
		d := s.Duration(now)
		stats.TotalBlocked += d
		stats.ByType[s.Type] += d
		stats.Active++
	}
	return stats
}

// HourlyBuckets returns date's minutes per hour, with active sessions
// extended through now.
func (l *Ledger) HourlyBuckets(date time.Time) domain.HourlyBuckets {
	day := state.Day(date)

	var buckets domain.HourlyBuckets
	if _, err := state.GetJSON(l.state, state.DayHourlyKey(day), &buckets); err != nil {
		buckets = domain.HourlyBuckets{}
	}

	now := l.clock.Now()
	active, _ := l.GetAllActive()
	for _, s := range active {
		live, ok := Allocate(s.StartTime.In(date.Location()), now.In(date.Location()))[day]
		if !ok {
			continue
		}
		for h := range buckets {
			buckets[h] += live[h]
		}
	}
	return buckets
}

// LifetimeTotal returns all blocked time ever recorded, including the
// elapsed time of active sessions.
func (l *Ledger) LifetimeTotal() time.Duration {
	secs, _ := state.GetInt64(l.state, state.KeyLifetime)
	total := time.Duration(secs) * time.Second

	now := l.clock.Now()
	active, _ := l.GetAllActive()
	for _, s := range active {
		total += s.Duration(now)
	}
	return total
}

// WeeklyStats returns the seven days ending on end, oldest first.
func (l *Ledger) WeeklyStats(end time.Time) []domain.DailyStats {
	week := make([]domain.DailyStats, 7)
	d := noon(end).AddDate(0, 0, -6)
	for i := range week {
		week[i] = l.DailyStats(d)
		d = d.AddDate(0, 0, 1)
	}
	return week
}

// Streak counts consecutive days with at least one completed session,
// ending on date. A date with nothing completed yet does not break a
// streak that ran through the previous day.
func (l *Ledger) Streak(date time.Time) int {
	d := noon(date)
	if l.DailyStats(d).Completed == 0 {
		d = d.AddDate(0, 0, -1)
	}

	streak := 0
	for streak < maxStreakDays && l.DailyStats(d).Completed > 0 {
		streak++
		d = d.AddDate(0, 0, -1)
	}
	return streak
}
