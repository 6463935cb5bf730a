package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/metrics"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
)

const (
	// InterruptionActivityID is the all-day registration carrying the usage threshold.
	InterruptionActivityID = "interruption"
	// InterruptionBlockActivityID is the one-shot registration of a triggered block.
	InterruptionBlockActivityID = "interruption.block"
	// InterruptionThresholdID is the threshold event id.
	InterruptionThresholdID = "interruption.threshold"

	// DefaultRearmInterval is the minimum spacing between two interruptions.
	DefaultRearmInterval = 60 * time.Second
)

var allDays = []time.Weekday{
	time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
	time.Thursday, time.Friday, time.Saturday,
}

// InterruptionSettings configures usage-threshold interruptions.
type InterruptionSettings struct {
	Targets       domain.TargetSet `json:"targets"`
	Threshold     time.Duration    `json:"threshold"`
	BlockDuration time.Duration    `json:"block_duration"`
}

// Validate checks the settings.
func (s InterruptionSettings) Validate() error {
	if s.Targets.IsEmpty() {
		return domain.ErrNoTargets
	}
	if s.Threshold < time.Minute {
		return fmt.Errorf("%w: threshold must be at least 1m", domain.ErrInvalidDuration)
	}
	if s.BlockDuration < time.Minute {
		return fmt.Errorf("%w: block must last at least 1m", domain.ErrInvalidDuration)
	}
	return nil
}

// Interrupter blocks apps for a short time once they have been used for a
// threshold within the day.
type Interrupter struct {
	state        domain.SharedState
	restrictions domain.RestrictionStore
	monitor      domain.ActivityMonitor
	ledger       domain.SessionLedger
	clock        domain.Clock
	events       domain.EventPublisher
	metrics      *metrics.Metrics
	logger       *zap.Logger

	rearm time.Duration
	mu    sync.Mutex
}

// NewInterrupter creates an interrupter. events and m may be nil.
func NewInterrupter(
	st domain.SharedState,
	restrictions domain.RestrictionStore,
	monitor domain.ActivityMonitor,
	ledger domain.SessionLedger,
	clock domain.Clock,
	events domain.EventPublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Interrupter {
	return &Interrupter{
		state:        st,
		restrictions: restrictions,
		monitor:      monitor,
		ledger:       ledger,
		clock:        clock,
		events:       events,
		metrics:      m,
		logger:       logger,
		rearm:        DefaultRearmInterval,
	}
}

// SetRearmInterval overrides the minimum spacing between interruptions.
func (i *Interrupter) SetRearmInterval(d time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rearm = d
}

// Configure persists the settings and arms the usage threshold.
func (i *Interrupter) Configure(ctx context.Context, s InterruptionSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.register(s); err != nil {
		return fmt.Errorf("failed to configure interruptions: %w", err)
	}
	if err := state.SetJSON(i.state, state.KeyInterruptSettings, s); err != nil {
		_ = i.monitor.Unregister(InterruptionActivityID)
		return fmt.Errorf("failed to save interruption settings: %w", err)
	}

	i.logger.Info("interruptions configured",
		zap.Duration("threshold", s.Threshold),
		zap.Duration("block", s.BlockDuration))
	return nil
}

// Disable disarms interruptions and lifts a running interruption block.
func (i *Interrupter) Disable(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.monitor.Unregister(InterruptionActivityID); err != nil {
		return fmt.Errorf("failed to disable interruptions: %w", err)
	}
	i.teardown(false, i.clock.Now())
	if err := state.RemoveAll(i.state, state.KeyInterruptSettings, state.KeyInterruptLast); err != nil {
		return fmt.Errorf("failed to clear interruption settings: %w", err)
	}
	i.logger.Info("interruptions disabled")
	return nil
}

// Settings returns the stored settings, if any.
func (i *Interrupter) Settings() (InterruptionSettings, bool) {
	var s InterruptionSettings
	ok, err := state.GetJSON(i.state, state.KeyInterruptSettings, &s)
	if err != nil {
		i.logger.Warn("ignoring unreadable interruption settings", zap.Error(err))
		return InterruptionSettings{}, false
	}
	return s, ok
}

// HandleThreshold is the monitor callback for the usage threshold. Triggers
// closer together than the re-arm interval are ignored.
func (i *Interrupter) HandleThreshold(ctx context.Context, eventID string) {
	if eventID != InterruptionThresholdID {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	s, ok := i.Settings()
	if !ok {
		i.logger.Warn("threshold reached without interruption settings")
		_ = i.monitor.Unregister(InterruptionActivityID)
		return
	}

	now := i.clock.Now()
	if last, ok, _ := state.GetTime(i.state, state.KeyInterruptLast); ok && now.Sub(last) < i.rearm {
		i.logger.Debug("ignoring threshold inside re-arm interval", zap.Time("last", last))
		return
	}
	if err := state.SetTime(i.state, state.KeyInterruptLast, now); err != nil {
		i.logger.Warn("failed to persist interruption trigger", zap.Error(err))
	}

	unlock := now.Truncate(time.Second).Add(s.BlockDuration)
	from, until := domain.PadOneShot(now, unlock)
	if err := i.monitor.Register(InterruptionBlockActivityID, domain.OneShot(from, until)); err != nil {
		i.logger.Error("failed to register interruption block", zap.Error(err))
		return
	}
	if err := i.restrictions.Apply(domain.StoreInterruption, s.Targets, false); err != nil {
		i.logger.Warn("failed to apply interruption restriction", zap.Error(err))
	}
	if _, err := i.ledger.StartSessionAt(domain.SessionInterruption, "", s.Targets, now); err != nil {
		i.logger.Warn("failed to start interruption session", zap.Error(err))
	}
	if err := state.SetTime(i.state, state.KeyInterruptUnlockAt, unlock); err != nil {
		i.logger.Warn("failed to persist interruption unlock time", zap.Error(err))
	}

	// Re-registering resets the accumulated usage.
	if err := i.register(s); err != nil {
		i.logger.Warn("failed to re-arm interruption threshold", zap.Error(err))
	}

	i.metrics.IncInterruptions()
	i.publish(domain.Event{Kind: domain.EventInterruption, At: now})
	i.logger.Info("interruption triggered", zap.Time("unlock_at", unlock))
}

// HandleBlockEnd is the monitor callback for the interruption block ending.
func (i *Interrupter) HandleBlockEnd(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.clock.Now()
	unlock, ok, _ := state.GetTime(i.state, state.KeyInterruptUnlockAt)
	if ok && unlock.After(now) {
		return
	}
	at := now
	if ok {
		at = unlock
	}
	i.teardown(true, at)
}

// Reconcile finalizes an expired block and re-arms a lost threshold registration.
func (i *Interrupter) Reconcile(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.clock.Now()
	unlock, ok, _ := state.GetTime(i.state, state.KeyInterruptUnlockAt)
	switch {
	case ok && !unlock.After(now):
		i.logger.Info("reconcile: interruption block expired", zap.Time("unlock_at", unlock))
		i.teardown(true, unlock)
	case !ok:
		r, _ := i.restrictions.Get(domain.StoreInterruption)
		sess, _ := i.ledger.GetActiveSession(domain.SessionInterruption)
		if r != nil || sess != nil {
			i.logger.Info("reconcile: lifting interruption without unlock time")
			i.teardown(false, now)
		}
	}

	s, configured := i.Settings()
	if configured && !isRegistered(i.monitor, InterruptionActivityID) {
		i.logger.Info("reconcile: re-arming interruption threshold")
		if err := i.register(s); err != nil {
			i.logger.Warn("failed to re-arm interruption threshold", zap.Error(err))
		}
	}
}

// BlockedUntil returns the unlock time of a running interruption block.
func (i *Interrupter) BlockedUntil() (time.Time, bool) {
	unlock, ok, _ := state.GetTime(i.state, state.KeyInterruptUnlockAt)
	if !ok || !unlock.After(i.clock.Now()) {
		return time.Time{}, false
	}
	return unlock, true
}

func (i *Interrupter) register(s InterruptionSettings) error {
	window := domain.DailyWindow(domain.TimeOfDay{}, domain.TimeOfDay{Hour: 23, Minute: 59}, allDays)
	return i.monitor.Register(InterruptionActivityID, window, domain.ThresholdEvent{
		ID:        InterruptionThresholdID,
		Targets:   s.Targets,
		Threshold: s.Threshold,
	})
}

func (i *Interrupter) teardown(completed bool, at time.Time) {
	if err := i.monitor.Unregister(InterruptionBlockActivityID); err != nil {
		i.logger.Warn("failed to unregister interruption block", zap.Error(err))
	}
	if err := i.restrictions.Clear(domain.StoreInterruption); err != nil {
		i.logger.Warn("failed to clear interruption restriction", zap.Error(err))
	}
	session, err := i.ledger.GetActiveSession(domain.SessionInterruption)
	if err != nil {
		i.logger.Warn("failed to read interruption session", zap.Error(err))
	}
	if session != nil {
		if _, err := i.ledger.EndSessionAt(session.ID, completed, at); err != nil {
			i.logger.Warn("failed to end interruption session", zap.Error(err))
		}
	}
	if err := i.state.Remove(state.KeyInterruptUnlockAt); err != nil {
		i.logger.Warn("failed to clear interruption unlock time", zap.Error(err))
	}
}

func (i *Interrupter) publish(ev domain.Event) {
	if i.events == nil {
		return
	}
	ev.SessionType = domain.SessionInterruption
	i.events.Publish(ev)
}
