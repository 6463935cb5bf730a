package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/focus"
	"github.com/eliteGoblin/focusd/app_block/internal/metrics"
	"github.com/eliteGoblin/focusd/app_block/internal/schedule"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
)

// MonitorCallbacks implements domain.MonitorHandler for the monitor process.
// It routes each callback by activity id and works only from shared state,
// the restriction store and the ledger.
type MonitorCallbacks struct {
	state        domain.SharedState
	restrictions domain.RestrictionStore
	ledger       domain.SessionLedger
	clock        domain.Clock
	schedules    *schedule.Engine
	manual       *ManualBlocker
	interrupter  *Interrupter
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewMonitorCallbacks creates the callback router.
func NewMonitorCallbacks(
	st domain.SharedState,
	restrictions domain.RestrictionStore,
	ledger domain.SessionLedger,
	clock domain.Clock,
	schedules *schedule.Engine,
	manual *ManualBlocker,
	interrupter *Interrupter,
	m *metrics.Metrics,
	logger *zap.Logger,
) *MonitorCallbacks {
	return &MonitorCallbacks{
		state:        st,
		restrictions: restrictions,
		ledger:       ledger,
		clock:        clock,
		schedules:    schedules,
		manual:       manual,
		interrupter:  interrupter,
		metrics:      m,
		logger:       logger,
	}
}

// OnIntervalStart handles a monitoring window opening.
func (c *MonitorCallbacks) OnIntervalStart(ctx context.Context, activityID string) {
	c.metrics.RecordCallback("interval_start")
	c.logger.Debug("interval start", zap.String("activity", activityID))

	if _, _, ok := schedule.ParseActivityID(activityID); ok {
		c.schedules.HandleIntervalStart(ctx, activityID)
	}
}

// OnIntervalEnd handles a monitoring window closing.
func (c *MonitorCallbacks) OnIntervalEnd(ctx context.Context, activityID string) {
	c.metrics.RecordCallback("interval_end")
	c.logger.Debug("interval end", zap.String("activity", activityID))

	switch activityID {
	case ManualActivityID:
		c.manual.HandleIntervalEnd(ctx)
	case InterruptionBlockActivityID:
		c.interrupter.HandleBlockEnd(ctx)
	case InterruptionActivityID:
		// Daily rollover; usage resets with the next interval.
	case focus.ActivityID:
		c.endFocusPhase()
	default:
		if _, _, ok := schedule.ParseActivityID(activityID); ok {
			c.schedules.HandleIntervalEnd(ctx, activityID)
			return
		}
		c.logger.Warn("interval end for unknown activity", zap.String("activity", activityID))
	}
}

// OnThresholdReached handles a usage threshold.
func (c *MonitorCallbacks) OnThresholdReached(ctx context.Context, eventID, activityID string) {
	c.metrics.RecordCallback("threshold")
	c.logger.Debug("threshold reached", zap.String("event", eventID), zap.String("activity", activityID))

	if activityID == InterruptionActivityID {
		c.interrupter.HandleThreshold(ctx, eventID)
	}
}

// endFocusPhase lifts the focus restriction and closes the focus session at
// the persisted unlock time. Advancing the cycle is left to the focus
// engine, which sees the same unlock time on its next tick.
func (c *MonitorCallbacks) endFocusPhase() {
	paused, _ := state.GetBool(c.state, state.KeyFocusPaused)
	if paused {
		return
	}
	now := c.clock.Now()
	at := now
	if unlock, ok, _ := state.GetTime(c.state, state.KeyFocusUnlockAt); ok {
		if unlock.After(now) {
			// A resumed phase; its own registration ends it.
			return
		}
		at = unlock
	}

	if err := c.restrictions.Clear(domain.StorePomodoro); err != nil {
		c.logger.Warn("failed to clear focus restriction", zap.Error(err))
	}
	session, err := c.ledger.GetActiveSession(domain.SessionPomodoroFocus)
	if err != nil {
		c.logger.Warn("failed to read focus session", zap.Error(err))
	}
	if session != nil {
		if _, err := c.ledger.EndSessionAt(session.ID, true, at); err != nil {
			c.logger.Warn("failed to end focus session", zap.Error(err))
		}
	}
}

// isRegistered reports whether the monitor holds a registration for id.
func isRegistered(monitor domain.ActivityMonitor, id string) bool {
	regs, err := monitor.Registrations()
	if err != nil {
		return true
	}
	for _, r := range regs {
		if r.ActivityID == id {
			return true
		}
	}
	return false
}

// Ensure MonitorCallbacks implements domain.MonitorHandler.
var _ domain.MonitorHandler = (*MonitorCallbacks)(nil)
