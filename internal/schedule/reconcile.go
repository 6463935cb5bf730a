package schedule

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
)

// HandleIntervalStart is the monitor callback for a schedule window opening.
func (e *Engine) HandleIntervalStart(ctx context.Context, activityID string) {
	id, _, ok := ParseActivityID(activityID)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.Get(id)
	if err != nil {
		e.logger.Warn("interval start for unknown schedule", zap.String("activity", activityID), zap.Error(err))
		_ = e.monitor.Unregister(activityID)
		return
	}
	if !s.IsActive {
		return
	}
	e.startBlocking(s, e.clock.Now())
}

// HandleIntervalEnd is the monitor callback for a schedule window closing.
func (e *Engine) HandleIntervalEnd(ctx context.Context, activityID string) {
	id, today, ok := ParseActivityID(activityID)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if today {
		_ = e.monitor.Unregister(activityID)
	}

	now := e.clock.Now()
	s, err := e.Get(id)
	if err == nil && s.IsActive && IsScheduleActiveNow(s, now) {
		// Still inside the recurring window: a late one-shot end.
		return
	}
	e.stopBlocking(id, true, now)
}

// ReconcileAll brings every schedule's blocking flag, restriction, session
// and monitor registrations in line with the current time. It is the
// self-healing path for missed monitor callbacks and restarts.
func (e *Engine) ReconcileAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	schedules, err := e.List()
	if err != nil {
		return err
	}
	registered, err := e.registeredIDs()
	if err != nil {
		return err
	}

	now := e.clock.Now()
	known := make(map[string]bool, len(schedules))
	blocking := 0
	for _, s := range schedules {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		known[s.ID] = true
		if e.reconcileOne(s, now, registered) {
			blocking++
		}
	}

	e.cleanupOrphans(known, registered, now)
	e.metrics.SetSchedulesBlocking(blocking)
	return nil
}

// reconcileOne fixes one schedule and reports whether it is blocking.
func (e *Engine) reconcileOne(s domain.BlockSchedule, now time.Time, registered map[string]bool) bool {
	if !s.IsActive {
		if s.IsCurrentlyBlocking || e.hasLeftovers(s.ID) {
			e.logger.Info("reconcile: lifting restriction of inactive schedule", zap.String("schedule", s.ID))
			e.stopBlocking(s.ID, false, now)
		}
		if registered[ActivityID(s.ID)] || registered[TodayActivityID(s.ID)] {
			_ = e.monitor.Unregister(ActivityID(s.ID), TodayActivityID(s.ID))
		}
		return false
	}

	if !registered[ActivityID(s.ID)] {
		e.logger.Info("reconcile: re-arming schedule", zap.String("schedule", s.ID))
		if err := e.monitor.Register(ActivityID(s.ID), domain.DailyWindow(s.Start, s.End, s.Days)); err != nil {
			e.logger.Warn("failed to re-arm schedule", zap.String("schedule", s.ID), zap.Error(err))
		}
	}

	if IsScheduleActiveNow(s, now) {
		if e.splitStaleSession(s, now) {
			registered[TodayActivityID(s.ID)] = false
		}
		if !registered[TodayActivityID(s.ID)] {
			if err := e.registerToday(s, now); err != nil {
				e.logger.Warn("failed to arm rest of window", zap.String("schedule", s.ID), zap.Error(err))
			}
		}
		if !s.IsCurrentlyBlocking {
			e.logger.Info("reconcile: window open, applying restriction", zap.String("schedule", s.ID))
		}
		e.startBlocking(s, now)
		return true
	}

	if registered[TodayActivityID(s.ID)] {
		_ = e.monitor.Unregister(TodayActivityID(s.ID))
	}
	if s.IsCurrentlyBlocking || e.hasLeftovers(s.ID) {
		endAt := now
		if active, _ := e.ledger.GetActiveScheduleSession(s.ID); active != nil {
			endAt = sessionWindowEnd(s, active.StartTime, now)
		}
		e.logger.Info("reconcile: window closed, lifting restriction",
			zap.String("schedule", s.ID),
			zap.Time("ended_at", endAt))
		e.stopBlocking(s.ID, true, endAt)
	}
	return false
}

// cleanupOrphans removes restrictions, sessions and registrations whose
// schedule no longer exists.
func (e *Engine) cleanupOrphans(known map[string]bool, registered map[string]bool, now time.Time) {
	restrictions, err := e.restrictions.All()
	if err != nil {
		e.logger.Warn("failed to list restrictions", zap.Error(err))
	}
	for _, r := range restrictions {
		if id := r.Store.ScheduleID(); id != "" && !known[id] {
			e.logger.Info("reconcile: clearing orphan restriction", zap.String("schedule", id))
			e.stopBlocking(id, false, now)
		}
	}

	active, err := e.ledger.GetAllActive()
	if err != nil {
		e.logger.Warn("failed to list sessions", zap.Error(err))
	}
	for _, s := range active {
		if s.Type == domain.SessionSchedule && !known[s.ScheduleID] {
			e.logger.Info("reconcile: ending orphan session", zap.String("schedule", s.ScheduleID))
			e.stopBlocking(s.ScheduleID, false, now)
		}
	}

	for aid := range registered {
		if id, _, ok := ParseActivityID(aid); ok && !known[id] {
			_ = e.monitor.Unregister(aid)
		}
	}

	keys, err := e.state.Keys(state.PrefixScheduleBlock)
	if err != nil {
		return
	}
	for _, k := range keys {
		if id := k[len(state.PrefixScheduleBlock):]; !known[id] {
			_ = e.state.Remove(k)
		}
	}
}

func (e *Engine) hasLeftovers(id string) bool {
	r, err := e.restrictions.Get(domain.ScheduleStore(id))
	if err == nil && r != nil {
		return true
	}
	s, err := e.ledger.GetActiveScheduleSession(id)
	return err == nil && s != nil
}

func (e *Engine) registeredIDs() (map[string]bool, error) {
	regs, err := e.monitor.Registrations()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(regs))
	for _, r := range regs {
		ids[r.ActivityID] = true
	}
	return ids, nil
}

// splitStaleSession ends a session left over from an earlier occurrence at
// that occurrence's end and starts a new one at the current occurrence's
// start. The registrations are renewed so the monitor sees the new interval.
func (e *Engine) splitStaleSession(s domain.BlockSchedule, now time.Time) bool {
	active, err := e.ledger.GetActiveScheduleSession(s.ID)
	if err != nil || active == nil {
		return false
	}
	from, _ := domain.Occurrence(s.Start, s.End, s.Days, now)
	if !active.StartTime.Before(from) {
		return false
	}

	endAt := sessionWindowEnd(s, active.StartTime, now)
	e.logger.Info("reconcile: session spans a missed window end, splitting",
		zap.String("schedule", s.ID),
		zap.Time("ended_at", endAt),
		zap.Time("restarted_at", from))
	e.stopBlocking(s.ID, true, endAt)
	if from.Before(endAt) {
		from = endAt
	}
	e.startBlocking(s, from)

	if err := e.monitor.Register(ActivityID(s.ID), domain.DailyWindow(s.Start, s.End, s.Days)); err != nil {
		e.logger.Warn("failed to renew schedule registration", zap.String("schedule", s.ID), zap.Error(err))
	}
	return true
}

// sessionWindowEnd returns the end of the window occurrence a session
// started in, kept within [started, now].
func sessionWindowEnd(s domain.BlockSchedule, started, now time.Time) time.Time {
	end := now
	if IsScheduleActiveNow(s, started) {
		_, end = domain.Occurrence(s.Start, s.End, s.Days, started)
	}
	if end.After(now) {
		end = now
	}
	if end.Before(started) {
		end = started
	}
	return end
}

// Run reconciles on every tick until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if err := e.ReconcileAll(ctx); err != nil {
		e.logger.Warn("initial schedule reconcile failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.ReconcileAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn("schedule reconcile failed", zap.Error(err))
			}
		}
	}
}
