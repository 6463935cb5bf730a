package daemon

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
)

// DefaultStaleAfter is how old a heartbeat may get before the monitor is
// considered gone.
const DefaultStaleAfter = 90 * time.Second

// Liveness keeps the monitor's liveness record in shared state, so that the
// CLI can tell whether a monitor process is running.
type Liveness struct {
	state          domain.SharedState
	processManager domain.ProcessManager
	clock          domain.Clock
	version        string
	mode           string
	logger         *zap.Logger
}

// NewLiveness creates the liveness record accessor.
func NewLiveness(st domain.SharedState, pm domain.ProcessManager, clock domain.Clock, version, mode string, logger *zap.Logger) *Liveness {
	return &Liveness{
		state:          st,
		processManager: pm,
		clock:          clock,
		version:        version,
		mode:           mode,
		logger:         logger,
	}
}

// Register records pid as the running monitor.
func (l *Liveness) Register(pid int) error {
	now := l.clock.Now()
	rec := domain.MonitorDaemon{
		PID:           pid,
		StartedAt:     now,
		LastHeartbeat: now,
		AppVersion:    l.version,
		Mode:          l.mode,
	}
	if err := state.SetJSON(l.state, state.KeyMonitorDaemon, rec); err != nil {
		return fmt.Errorf("failed to register monitor: %w", err)
	}
	return nil
}

// Heartbeat refreshes the record's heartbeat.
func (l *Liveness) Heartbeat() error {
	rec, ok := l.Get()
	if !ok {
		return fmt.Errorf("monitor not registered")
	}
	rec.LastHeartbeat = l.clock.Now()
	return state.SetJSON(l.state, state.KeyMonitorDaemon, rec)
}

// Clear removes the record.
func (l *Liveness) Clear() {
	if err := l.state.Remove(state.KeyMonitorDaemon); err != nil {
		l.logger.Warn("failed to clear monitor record", zap.Error(err))
	}
}

// Get returns the record, if any.
func (l *Liveness) Get() (domain.MonitorDaemon, bool) {
	var rec domain.MonitorDaemon
	ok, err := state.GetJSON(l.state, state.KeyMonitorDaemon, &rec)
	if err != nil {
		l.logger.Warn("monitor record unreadable", zap.Error(err))
	}
	return rec, ok
}

// IsAlive reports whether the recorded monitor process exists and its
// heartbeat is younger than staleAfter.
func (l *Liveness) IsAlive(staleAfter time.Duration) bool {
	rec, ok := l.Get()
	if !ok || rec.PID == 0 {
		return false
	}
	if l.clock.Now().Sub(rec.LastHeartbeat) > staleAfter {
		return false
	}
	return l.processManager.IsRunning(rec.PID)
}
