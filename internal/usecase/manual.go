package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
)

// ManualActivityID is the one-shot monitor registration of a manual block.
const ManualActivityID = "manual"

// MinimumManualDuration is the shortest "focus now" block.
const MinimumManualDuration = time.Minute

// ManualStatus describes the manual block as seen from shared state.
type ManualStatus struct {
	Active    bool
	Strict    bool
	UnlockAt  time.Time
	Remaining time.Duration
	Session   *domain.BlockingSession
}

// ManualBlocker runs "focus now" blocks: a restriction in the manual store
// until an absolute unlock time.
type ManualBlocker struct {
	state        domain.SharedState
	restrictions domain.RestrictionStore
	monitor      domain.ActivityMonitor
	ledger       domain.SessionLedger
	clock        domain.Clock
	events       domain.EventPublisher
	logger       *zap.Logger

	mu sync.Mutex
}

// NewManualBlocker creates a manual blocker. events may be nil.
func NewManualBlocker(
	st domain.SharedState,
	restrictions domain.RestrictionStore,
	monitor domain.ActivityMonitor,
	ledger domain.SessionLedger,
	clock domain.Clock,
	events domain.EventPublisher,
	logger *zap.Logger,
) *ManualBlocker {
	return &ManualBlocker{
		state:        st,
		restrictions: restrictions,
		monitor:      monitor,
		ledger:       ledger,
		clock:        clock,
		events:       events,
		logger:       logger,
	}
}

// Start blocks targets for d. A running block is replaced, except that a
// strict block cannot be replaced by one that unlocks earlier.
func (m *ManualBlocker) Start(ctx context.Context, d time.Duration, targets domain.TargetSet, strict bool) (ManualStatus, error) {
	if d < MinimumManualDuration {
		return ManualStatus{}, fmt.Errorf("%w: manual block must last at least %s", domain.ErrInvalidDuration, MinimumManualDuration)
	}
	if targets.IsEmpty() {
		return ManualStatus{}, domain.ErrNoTargets
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	unlock := now.Truncate(time.Second).Add(d)

	current := m.status(now)
	if current.Active && current.Strict && unlock.Before(current.UnlockAt) {
		return current, fmt.Errorf("failed to replace manual block: %w", domain.ErrStrictRestriction)
	}

	from, until := domain.PadOneShot(now, unlock)
	if err := m.monitor.Register(ManualActivityID, domain.OneShot(from, until)); err != nil {
		return current, fmt.Errorf("failed to start manual block: %w", err)
	}

	if err := m.restrictions.Apply(domain.StoreManual, targets, strict); err != nil {
		m.logger.Warn("failed to apply manual restriction", zap.Error(err))
	}
	if _, err := m.ledger.StartSessionAt(domain.SessionManual, "", targets, now); err != nil {
		m.logger.Warn("failed to start manual session", zap.Error(err))
	}
	if err := state.SetTime(m.state, state.KeyManualUnlockAt, unlock); err != nil {
		m.logger.Warn("failed to persist manual unlock time", zap.Error(err))
	}
	if err := state.SetBool(m.state, state.KeyManualStrict, strict); err != nil {
		m.logger.Warn("failed to persist manual strict flag", zap.Error(err))
	}

	m.publish(domain.Event{Kind: domain.EventManualStarted, At: now})
	m.logger.Info("manual block started",
		zap.Time("unlock_at", unlock),
		zap.Bool("strict", strict),
		zap.Strings("apps", targets.Apps),
		zap.Strings("categories", targets.Categories))
	return m.status(now), nil
}

// Stop ends the manual block early. Users cannot stop a strict block.
func (m *ManualBlocker) Stop(ctx context.Context, userInitiated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	current := m.status(now)
	if userInitiated && current.Active && current.Strict {
		return fmt.Errorf("failed to unlock: %w", domain.ErrStrictRestriction)
	}
	m.teardown(false, now)
	return nil
}

// HandleIntervalEnd is the monitor callback for the block's window ending.
func (m *ManualBlocker) HandleIntervalEnd(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	unlock, ok, _ := state.GetTime(m.state, state.KeyManualUnlockAt)
	if ok && unlock.After(now) {
		// A replaced block's old registration.
		return
	}
	at := now
	if ok {
		at = unlock
	}
	m.teardown(true, at)
}

// Reconcile finalizes a block whose unlock time passed while nothing was
// running, re-arms a live block that lost its registration or restriction,
// and lifts a restriction left without an unlock time.
func (m *ManualBlocker) Reconcile(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	unlock, ok, err := state.GetTime(m.state, state.KeyManualUnlockAt)
	if err != nil {
		m.logger.Warn("ignoring unreadable manual unlock time", zap.Error(err))
	}

	if !ok {
		r, _ := m.restrictions.Get(domain.StoreManual)
		s, _ := m.ledger.GetActiveSession(domain.SessionManual)
		if r != nil || s != nil {
			m.logger.Info("reconcile: lifting manual block without unlock time")
			m.teardown(false, now)
		}
		return
	}

	if !unlock.After(now) {
		m.logger.Info("reconcile: manual block expired", zap.Time("unlock_at", unlock))
		m.teardown(true, unlock)
		return
	}

	session, _ := m.ledger.GetActiveSession(domain.SessionManual)
	if session == nil {
		m.logger.Warn("reconcile: manual block lost its session, lifting")
		m.teardown(false, now)
		return
	}
	strict, _ := state.GetBool(m.state, state.KeyManualStrict)
	if err := m.restrictions.Apply(domain.StoreManual, session.Targets, strict); err != nil {
		m.logger.Warn("failed to re-apply manual restriction", zap.Error(err))
	}
	if !isRegistered(m.monitor, ManualActivityID) {
		from, until := domain.PadOneShot(now, unlock)
		if err := m.monitor.Register(ManualActivityID, domain.OneShot(from, until)); err != nil {
			m.logger.Warn("failed to re-register manual block", zap.Error(err))
		}
	}
}

// Status reports the current manual block.
func (m *ManualBlocker) Status() ManualStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status(m.clock.Now())
}

// Remaining returns the time left on the manual block, or zero.
func (m *ManualBlocker) Remaining() time.Duration {
	return m.Status().Remaining
}

func (m *ManualBlocker) status(now time.Time) ManualStatus {
	var st ManualStatus
	unlock, ok, _ := state.GetTime(m.state, state.KeyManualUnlockAt)
	if !ok {
		return st
	}
	st.UnlockAt = unlock
	st.Strict, _ = state.GetBool(m.state, state.KeyManualStrict)
	st.Session, _ = m.ledger.GetActiveSession(domain.SessionManual)
	if unlock.After(now) {
		st.Active = true
		st.Remaining = unlock.Sub(now)
	}
	return st
}

// teardown removes every trace of the block and ends its session at at.
func (m *ManualBlocker) teardown(completed bool, at time.Time) {
	if err := m.monitor.Unregister(ManualActivityID); err != nil {
		m.logger.Warn("failed to unregister manual block", zap.Error(err))
	}
	if err := m.restrictions.Clear(domain.StoreManual); err != nil {
		m.logger.Warn("failed to clear manual restriction", zap.Error(err))
	}

	ended := false
	session, err := m.ledger.GetActiveSession(domain.SessionManual)
	if err != nil {
		m.logger.Warn("failed to read manual session", zap.Error(err))
	}
	if session != nil {
		ended, err = m.ledger.EndSessionAt(session.ID, completed, at)
		if err != nil {
			m.logger.Warn("failed to end manual session", zap.Error(err))
		}
	}
	if err := state.RemoveAll(m.state, state.KeyManualUnlockAt, state.KeyManualStrict); err != nil {
		m.logger.Warn("failed to clear manual state", zap.Error(err))
	}

	if ended {
		m.publish(domain.Event{Kind: domain.EventManualEnded, At: at, Completed: completed})
		m.logger.Info("manual block ended", zap.Bool("completed", completed), zap.Time("at", at))
	}
}

func (m *ManualBlocker) publish(ev domain.Event) {
	if m.events == nil {
		return
	}
	ev.SessionType = domain.SessionManual
	m.events.Publish(ev)
}
