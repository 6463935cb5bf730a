package infra

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
)

// StateActivityMonitor implements domain.ActivityMonitor by persisting
// registrations in shared state. The monitor daemon evaluates them and
// fires the callbacks, so registering works while the daemon is down.
type StateActivityMonitor struct {
	state  domain.SharedState
	clock  domain.Clock
	logger *zap.Logger
}

// NewActivityMonitor creates a state-backed activity monitor.
func NewActivityMonitor(st domain.SharedState, clock domain.Clock, logger *zap.Logger) *StateActivityMonitor {
	return &StateActivityMonitor{state: st, clock: clock, logger: logger}
}

// Register validates and stores a registration, resetting its runtime.
func (m *StateActivityMonitor) Register(activityID string, schedule domain.MonitorSchedule, thresholds ...domain.ThresholdEvent) error {
	if activityID == "" {
		return fmt.Errorf("empty activity id")
	}
	if err := m.validate(schedule); err != nil {
		return fmt.Errorf("failed to register %s: %w", activityID, err)
	}

	reg := domain.ActivityRegistration{
		ActivityID:   activityID,
		Schedule:     schedule,
		Thresholds:   thresholds,
		RegisteredAt: m.clock.Now(),
	}
	if err := m.state.Remove(state.MonitorRuntimeKey(activityID)); err != nil {
		return fmt.Errorf("failed to reset %s: %w", activityID, err)
	}
	if err := state.SetJSON(m.state, state.MonitorActivityKey(activityID), reg); err != nil {
		return fmt.Errorf("failed to register %s: %w", activityID, err)
	}

	m.logger.Debug("activity registered",
		zap.String("activity", activityID),
		zap.Bool("repeats", schedule.Repeats),
		zap.Duration("length", schedule.Length()),
		zap.Int("thresholds", len(thresholds)))
	return nil
}

func (m *StateActivityMonitor) validate(schedule domain.MonitorSchedule) error {
	if schedule.Length() < domain.MinimumMonitorInterval {
		return domain.ErrWindowTooShort
	}
	if schedule.Repeats {
		if len(schedule.Days) == 0 {
			return domain.ErrNoDays
		}
		return nil
	}
	if !m.clock.Now().Before(schedule.Until) {
		return domain.ErrWindowInPast
	}
	return nil
}

// Unregister removes registrations and their runtime.
func (m *StateActivityMonitor) Unregister(activityIDs ...string) error {
	var lastErr error
	for _, id := range activityIDs {
		if err := state.RemoveAll(m.state, state.MonitorActivityKey(id), state.MonitorRuntimeKey(id)); err != nil {
			lastErr = err
			continue
		}
		m.logger.Debug("activity unregistered", zap.String("activity", id))
	}
	return lastErr
}

// Registrations returns every stored registration. Corrupt ones are dropped.
func (m *StateActivityMonitor) Registrations() ([]domain.ActivityRegistration, error) {
	keys, err := m.state.Keys(state.PrefixMonitorActivity)
	if err != nil {
		return nil, err
	}

	regs := make([]domain.ActivityRegistration, 0, len(keys))
	for _, k := range keys {
		var reg domain.ActivityRegistration
		ok, err := state.GetJSON(m.state, k, &reg)
		if errors.Is(err, state.ErrCorrupt) {
			m.logger.Warn("dropping corrupt registration", zap.String("key", k), zap.Error(err))
			_ = m.state.Remove(k)
			continue
		}
		if err != nil {
			return nil, err
		}
		if ok {
			regs = append(regs, reg)
		}
	}
	return regs, nil
}

// IsRegistered reports whether activityID has a registration.
func (m *StateActivityMonitor) IsRegistered(activityID string) (bool, error) {
	return state.Has(m.state, state.MonitorActivityKey(activityID))
}

// Runtime returns the monitor's runtime record for activityID.
func (m *StateActivityMonitor) Runtime(activityID string) domain.ActivityRuntime {
	var rt domain.ActivityRuntime
	if _, err := state.GetJSON(m.state, state.MonitorRuntimeKey(activityID), &rt); err != nil {
		m.logger.Warn("resetting unreadable activity runtime", zap.String("activity", activityID), zap.Error(err))
		return domain.ActivityRuntime{}
	}
	return rt
}

// SaveRuntime stores the runtime record, unless the registration vanished
// in the meantime (the other process unregistered it).
func (m *StateActivityMonitor) SaveRuntime(activityID string, rt domain.ActivityRuntime) error {
	ok, err := m.IsRegistered(activityID)
	if err != nil || !ok {
		return err
	}
	return state.SetJSON(m.state, state.MonitorRuntimeKey(activityID), rt)
}

// ActivityIDs returns the ids of all registrations.
func (m *StateActivityMonitor) ActivityIDs() ([]string, error) {
	keys, err := m.state.Keys(state.PrefixMonitorActivity)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = strings.TrimPrefix(k, state.PrefixMonitorActivity)
	}
	return ids, nil
}

// Ensure StateActivityMonitor implements domain.ActivityMonitor.
var _ domain.ActivityMonitor = (*StateActivityMonitor)(nil)
