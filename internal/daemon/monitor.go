// Package daemon implements the background monitor process: the event source
// behind the activity monitor registrations, restriction enforcement and the
// periodic reconcilers.
package daemon

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
)

// RegistrationStore is the monitor's view of the persisted registrations.
type RegistrationStore interface {
	domain.ActivityMonitor
	Runtime(activityID string) domain.ActivityRuntime
	SaveRuntime(activityID string, rt domain.ActivityRuntime) error
}

// Reconciler repairs one engine's state from timestamps.
type Reconciler interface {
	Reconcile(ctx context.Context)
}

// ReconcilerFunc adapts a function to Reconciler.
type ReconcilerFunc func(ctx context.Context)

// Reconcile calls f(ctx).
func (f ReconcilerFunc) Reconcile(ctx context.Context) { f(ctx) }

// FocusDriver is the focus engine as driven by the monitor.
type FocusDriver interface {
	Restore(ctx context.Context) domain.FocusCycleState
	Tick(now time.Time) domain.FocusCycleState
}

// MonitorConfig holds monitor process configuration.
type MonitorConfig struct {
	TickInterval        time.Duration // How often registrations are evaluated
	EnforcementInterval time.Duration // How often restricted processes are killed
	HeartbeatInterval   time.Duration // How often the liveness record is refreshed
	ReconcileInterval   time.Duration // How often engines self-heal
	FocusTickInterval   time.Duration // How often the focus cycle advances
	PlistCheckInterval  time.Duration // How often the LaunchAgent plist is verified
}

// DefaultMonitorConfig returns default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		TickInterval:        5 * time.Second,
		EnforcementInterval: 2 * time.Second,
		HeartbeatInterval:   30 * time.Second,
		ReconcileInterval:   time.Minute,
		FocusTickInterval:   time.Second,
		PlistCheckInterval:  time.Minute,
	}
}

// Monitor is the background process. It fires the interval and threshold
// callbacks of every registration, kills processes of applied restrictions
// and runs the reconcilers.
type Monitor struct {
	config        MonitorConfig
	registrations RegistrationStore
	handler       domain.MonitorHandler
	enforcer      domain.Enforcer
	focus         FocusDriver
	reconcilers   []Reconciler
	liveness      *Liveness
	launchAgent   domain.LaunchAgentManager
	clock         domain.Clock
	logger        *zap.Logger
}

// NewMonitor creates the monitor. focus and launchAgent may be nil.
func NewMonitor(
	config MonitorConfig,
	registrations RegistrationStore,
	handler domain.MonitorHandler,
	enforcer domain.Enforcer,
	focus FocusDriver,
	reconcilers []Reconciler,
	liveness *Liveness,
	launchAgent domain.LaunchAgentManager,
	clock domain.Clock,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		config:        config,
		registrations: registrations,
		handler:       handler,
		enforcer:      enforcer,
		focus:         focus,
		reconcilers:   reconcilers,
		liveness:      liveness,
		launchAgent:   launchAgent,
		clock:         clock,
		logger:        logger,
	}
}

// Run starts the monitor loop. It blocks until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.liveness.Register(os.Getpid()); err != nil {
		m.logger.Error("failed to register monitor", zap.Error(err))
		return err
	}
	defer m.liveness.Clear()

	m.logger.Info("monitor started", zap.Int("pid", os.Getpid()))

	if m.focus != nil {
		m.focus.Restore(ctx)
	}
	m.reconcile(ctx)
	m.Evaluate(ctx, m.clock.Now())
	m.runEnforcement(ctx)
	m.ensurePlistInstalled()

	evalTicker := time.NewTicker(m.config.TickInterval)
	enforceTicker := time.NewTicker(m.config.EnforcementInterval)
	heartbeatTicker := time.NewTicker(m.config.HeartbeatInterval)
	reconcileTicker := time.NewTicker(m.config.ReconcileInterval)
	focusTicker := time.NewTicker(m.config.FocusTickInterval)
	plistTicker := time.NewTicker(m.config.PlistCheckInterval)

	defer func() {
		evalTicker.Stop()
		enforceTicker.Stop()
		heartbeatTicker.Stop()
		reconcileTicker.Stop()
		focusTicker.Stop()
		plistTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopping")
			return nil

		case <-evalTicker.C:
			m.Evaluate(ctx, m.clock.Now())

		case <-enforceTicker.C:
			m.runEnforcement(ctx)

		case <-heartbeatTicker.C:
			if err := m.liveness.Heartbeat(); err != nil {
				m.logger.Warn("failed to update heartbeat", zap.Error(err))
			}

		case <-reconcileTicker.C:
			m.reconcile(ctx)

		case <-focusTicker.C:
			if m.focus != nil {
				m.focus.Tick(m.clock.Now())
			}

		case <-plistTicker.C:
			m.ensurePlistInstalled()
		}
	}
}

// Evaluate fires the callbacks due at now. Each registration's runtime is
// saved before its callback runs, so a transition fires once even if the
// process dies inside the callback.
func (m *Monitor) Evaluate(ctx context.Context, now time.Time) {
	regs, err := m.registrations.Registrations()
	if err != nil {
		m.logger.Error("failed to read registrations", zap.Error(err))
		return
	}

	for _, reg := range regs {
		if ctx.Err() != nil {
			return
		}
		m.evaluateOne(ctx, reg, now)
	}
}

func (m *Monitor) evaluateOne(ctx context.Context, reg domain.ActivityRegistration, now time.Time) {
	id := reg.ActivityID
	rt := m.registrations.Runtime(id)
	inside := reg.Schedule.Contains(now)

	switch {
	case inside && !rt.InInterval:
		rt = domain.ActivityRuntime{InInterval: true, IntervalStart: now, LastSample: now}
		m.save(id, rt)
		m.handler.OnIntervalStart(ctx, id)

	case !inside && rt.InInterval:
		m.save(id, domain.ActivityRuntime{})
		m.handler.OnIntervalEnd(ctx, id)
		m.dropExpired(reg, now)
		return

	case !inside && reg.Schedule.Expired(now):
		// The whole window passed while nobody was watching.
		m.logger.Info("firing missed interval end", zap.String("activity", id))
		m.handler.OnIntervalEnd(ctx, id)
		m.dropExpired(reg, now)
		return

	case inside:
		m.sampleUsage(ctx, reg, rt, now)
	}
}

// sampleUsage adds the time since the last sample while any threshold
// target is running, then fires thresholds that were crossed. A gap longer
// than two ticks, such as a sleep, counts as two ticks.
func (m *Monitor) sampleUsage(ctx context.Context, reg domain.ActivityRegistration, rt domain.ActivityRuntime, now time.Time) {
	if len(reg.Thresholds) == 0 {
		return
	}

	elapsed := now.Sub(rt.LastSample)
	if elapsed < 0 {
		elapsed = 0
	}
	if limit := 2 * m.config.TickInterval; elapsed > limit {
		elapsed = limit
	}
	rt.LastSample = now

	for _, th := range reg.Thresholds {
		if m.enforcer.InUse(th.Targets) {
			rt.Usage += elapsed
			break
		}
	}

	var crossed []domain.ThresholdEvent
	for _, th := range reg.Thresholds {
		if rt.ThresholdFired[th.ID] || rt.Usage < th.Threshold {
			continue
		}
		if rt.ThresholdFired == nil {
			rt.ThresholdFired = make(map[string]bool)
		}
		rt.ThresholdFired[th.ID] = true
		crossed = append(crossed, th)
	}
	m.save(reg.ActivityID, rt)

	for _, th := range crossed {
		m.logger.Info("usage threshold reached",
			zap.String("activity", reg.ActivityID),
			zap.String("event", th.ID),
			zap.Duration("usage", rt.Usage))
		m.handler.OnThresholdReached(ctx, th.ID, reg.ActivityID)
	}
}

// dropExpired removes a one-shot registration after its end fired, unless
// the callback already replaced it with a new one.
func (m *Monitor) dropExpired(reg domain.ActivityRegistration, now time.Time) {
	if !reg.Schedule.Expired(now) {
		return
	}
	regs, err := m.registrations.Registrations()
	if err != nil {
		return
	}
	for _, cur := range regs {
		if cur.ActivityID == reg.ActivityID && !cur.Schedule.Expired(now) {
			return
		}
	}
	if err := m.registrations.Unregister(reg.ActivityID); err != nil {
		m.logger.Warn("failed to drop expired registration", zap.String("activity", reg.ActivityID), zap.Error(err))
	}
}

func (m *Monitor) save(id string, rt domain.ActivityRuntime) {
	if err := m.registrations.SaveRuntime(id, rt); err != nil {
		m.logger.Warn("failed to save activity runtime", zap.String("activity", id), zap.Error(err))
	}
}

// runEnforcement kills processes of every applied restriction.
func (m *Monitor) runEnforcement(ctx context.Context) {
	results, err := m.enforcer.Enforce(ctx)
	if err != nil {
		m.logger.Error("enforcement failed", zap.Error(err))
		return
	}

	var totalKilled int
	for _, r := range results {
		totalKilled += len(r.KilledPIDs)
	}
	if totalKilled > 0 {
		m.logger.Info("enforcement completed", zap.Int("processes_killed", totalKilled))
	}
}

func (m *Monitor) reconcile(ctx context.Context) {
	for _, r := range m.reconcilers {
		if ctx.Err() != nil {
			return
		}
		r.Reconcile(ctx)
	}
}

// ensurePlistInstalled restores a deleted or outdated LaunchAgent plist.
func (m *Monitor) ensurePlistInstalled() {
	if m.launchAgent == nil {
		return
	}

	execPath, err := os.Executable()
	if err != nil {
		m.logger.Error("failed to get executable path", zap.Error(err))
		return
	}

	if !m.launchAgent.IsInstalled() {
		m.logger.Info("LaunchAgent plist missing, restoring")
		if err := m.launchAgent.Install(execPath); err != nil {
			m.logger.Error("failed to restore LaunchAgent plist", zap.Error(err))
		}
	} else if m.launchAgent.NeedsUpdate(execPath) {
		m.logger.Info("LaunchAgent plist outdated, updating")
		if err := m.launchAgent.Update(execPath); err != nil {
			m.logger.Error("failed to update LaunchAgent plist", zap.Error(err))
		}
	}
}
