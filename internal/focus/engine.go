// Package focus drives Pomodoro focus/break cycles.
//
// Every transition is persisted, and the persisted unlock timestamp is the
// source of truth: a fresh Engine in another process reconstructs the cycle
// from it, and a phase whose unlock time passed while nobody was running is
// ended as of that unlock time.
package focus

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/metrics"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
)

// ActivityID is the monitor registration covering the current focus phase.
const ActivityID = "pomodoro"

// DefaultTickInterval is the UI tick of a running phase.
const DefaultTickInterval = time.Second

// maxCatchUpPhases bounds the missed-phase loop on restore.
const maxCatchUpPhases = 1000

// Settings configures a new cycle.
type Settings struct {
	FocusMinutes  int
	BreakMinutes  int
	TotalSessions int
	AutoAdvance   bool
	Targets       domain.TargetSet
}

// Validate checks the settings of a new cycle.
func (s Settings) Validate() error {
	if s.FocusMinutes <= 0 || s.BreakMinutes <= 0 {
		return fmt.Errorf("%w: focus and break minutes must be positive", domain.ErrInvalidDuration)
	}
	if s.TotalSessions <= 0 {
		return fmt.Errorf("%w: at least one session required", domain.ErrInvalidDuration)
	}
	if s.Targets.IsEmpty() {
		return domain.ErrNoTargets
	}
	return nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sends cycle transitions to p.
func WithPublisher(p domain.EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithMetrics counts finished phases.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithoutTicker disables the internal tick goroutine. The owner drives the
// engine with Tick or Run instead.
func WithoutTicker() Option {
	return func(e *Engine) { e.autoTick = false }
}

// WithTickInterval overrides the internal tick interval.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) { e.tickInterval = d }
}

// Engine is the focus cycle state machine.
type Engine struct {
	state        domain.SharedState
	restrictions domain.RestrictionStore
	monitor      domain.ActivityMonitor
	ledger       domain.SessionLedger
	clock        domain.Clock
	events       domain.EventPublisher
	metrics      *metrics.Metrics
	logger       *zap.Logger

	autoTick     bool
	tickInterval time.Duration

	mu         sync.Mutex
	cur        domain.FocusCycleState
	tickCancel context.CancelFunc
}

// NewEngine creates an idle focus engine.
func NewEngine(
	st domain.SharedState,
	restrictions domain.RestrictionStore,
	monitor domain.ActivityMonitor,
	ledger domain.SessionLedger,
	clock domain.Clock,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		state:        st,
		restrictions: restrictions,
		monitor:      monitor,
		ledger:       ledger,
		clock:        clock,
		logger:       logger,
		autoTick:     true,
		tickInterval: DefaultTickInterval,
		cur:          domain.FocusCycleState{Status: domain.CycleIdle},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins a new cycle with a focus phase, session index 1.
func (e *Engine) Start(ctx context.Context, s Settings) (domain.FocusCycleState, error) {
	if err := s.Validate(); err != nil {
		return domain.FocusCycleState{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.adoptExternal()
	if e.cur.Running() || e.cur.Status == domain.CycleAwaitingConfirm {
		return e.cur, domain.ErrCycleActive
	}

	e.cur = domain.FocusCycleState{
		Revision:      e.cur.Revision,
		Status:        domain.CycleIdle,
		TotalSessions: s.TotalSessions,
		FocusMinutes:  s.FocusMinutes,
		BreakMinutes:  s.BreakMinutes,
		AutoAdvance:   s.AutoAdvance,
		Targets:       s.Targets,
	}
	if err := e.startPhase(domain.PhaseFocus, 1, e.clock.Now()); err != nil {
		e.cur = domain.FocusCycleState{Revision: e.cur.Revision, Status: domain.CycleIdle}
		return e.cur, fmt.Errorf("failed to start focus cycle: %w", err)
	}

	e.logger.Info("focus cycle started",
		zap.Int("focus_minutes", s.FocusMinutes),
		zap.Int("break_minutes", s.BreakMinutes),
		zap.Int("sessions", s.TotalSessions),
		zap.Bool("auto_advance", s.AutoAdvance))
	return e.cur, nil
}

// Tick advances the machine to now: it picks up changes written by another
// process, ends every phase whose unlock time has passed and refreshes the
// remaining seconds.
func (e *Engine) Tick(now time.Time) domain.FocusCycleState {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.adoptExternal()
	e.catchUp(now)
	return e.snapshotAt(now)
}

// Pause freezes the remaining time of the running phase. The restriction
// of a focus phase stays applied; only the monitor registration is dropped.
func (e *Engine) Pause(ctx context.Context) (domain.FocusCycleState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.adoptExternal()
	now := e.clock.Now()
	e.catchUp(now)
	if !e.cur.Running() {
		return e.cur, domain.ErrNoActiveCycle
	}
	if e.cur.Paused {
		return e.cur, domain.ErrAlreadyPaused
	}

	remaining := remainingSeconds(e.cur.UnlockAt, now)
	e.cur.Paused = true
	e.cur.PausedRemaining = remaining
	e.cur.RemainingSeconds = remaining
	if err := e.monitor.Unregister(ActivityID); err != nil {
		e.logger.Warn("failed to unregister focus phase", zap.Error(err))
	}
	e.persist()
	e.stopTicker()

	e.publish(domain.Event{Kind: domain.EventCyclePaused, At: now})
	e.logger.Info("focus cycle paused", zap.Int("remaining_seconds", remaining))
	return e.cur, nil
}

// Resume restarts a paused phase with unlock = now + the paused remainder.
func (e *Engine) Resume(ctx context.Context) (domain.FocusCycleState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.adoptExternal()
	if !e.cur.Running() {
		return e.cur, domain.ErrNoActiveCycle
	}
	if !e.cur.Paused {
		return e.cur, domain.ErrNotPaused
	}

	now := e.clock.Now()
	e.cur.UnlockAt = now.Truncate(time.Second).Add(time.Duration(e.cur.PausedRemaining) * time.Second)
	e.cur.Paused = false
	e.cur.RemainingSeconds = e.cur.PausedRemaining
	e.cur.PausedRemaining = 0
	if e.cur.Phase == domain.PhaseFocus {
		if err := e.registerPhase(now); err != nil {
			e.logger.Warn("failed to re-register focus phase", zap.Error(err))
		}
	}
	e.persist()
	e.startTicker()

	e.publish(domain.Event{Kind: domain.EventCycleResumed, At: now})
	e.logger.Info("focus cycle resumed", zap.Time("unlock_at", e.cur.UnlockAt))
	return e.cur, nil
}

// ContinueCycle starts the next phase of a cycle awaiting confirmation.
func (e *Engine) ContinueCycle(ctx context.Context) (domain.FocusCycleState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.adoptExternal()
	if e.cur.Status != domain.CycleAwaitingConfirm {
		return e.cur, domain.ErrNoActiveCycle
	}

	next := domain.PhaseFocus
	if e.cur.Phase == domain.PhaseFocus {
		next = domain.PhaseBreak
	}
	if err := e.startPhase(next, e.cur.SessionIndex, e.clock.Now()); err != nil {
		return e.cur, fmt.Errorf("failed to continue focus cycle: %w", err)
	}
	return e.cur, nil
}

// Stop tears the cycle down unconditionally: monitor registration,
// restriction, persisted keys and the ledger session. Stopping an idle
// engine is a no-op.
func (e *Engine) Stop(ctx context.Context, reason string, completed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.adoptExternal()
	e.teardown(reason, completed, e.clock.Now())
}

// Restore reconstructs the cycle from shared state after a restart. A paused
// cycle stays paused; a running phase resumes its tick; a phase whose unlock
// time has passed is ended as of that time, catching up through any further
// missed phases.
func (e *Engine) Restore(ctx context.Context) domain.FocusCycleState {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	stored, ok := e.readPersisted()
	if !ok {
		e.cur = domain.FocusCycleState{Status: domain.CycleIdle}
		e.cleanupOrphans(now)
		return e.cur
	}
	e.cur = stored

	if e.cur.Running() && !e.cur.Paused {
		e.catchUp(now)
	}
	if e.cur.Running() && !e.cur.Paused {
		e.startTicker()
	}

	e.logger.Info("focus cycle restored",
		zap.String("status", string(e.cur.Status)),
		zap.String("phase", string(e.cur.Phase)),
		zap.Int("index", e.cur.SessionIndex),
		zap.Bool("paused", e.cur.Paused))
	return e.snapshotAt(now)
}

// Snapshot returns the current state with remaining seconds as of now.
func (e *Engine) Snapshot() domain.FocusCycleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotAt(e.clock.Now())
}

// Run ticks until ctx is done. It is the driver for owners that disabled
// the internal ticker, such as the monitor process.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Tick(e.clock.Now())
		}
	}
}

// Close stops the internal ticker.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTicker()
}

// Load reads the persisted cycle without touching it, with remaining
// seconds computed for now. Missing state reads as idle.
func Load(st domain.SharedState, now time.Time) domain.FocusCycleState {
	e := &Engine{state: st, logger: zap.NewNop()}
	s, ok := e.readPersisted()
	if !ok {
		return domain.FocusCycleState{Status: domain.CycleIdle}
	}
	e.cur = s
	return e.snapshotAt(now)
}

// catchUp ends every phase whose unlock time is at or before now. Each
// missed phase ends at its own unlock time and the next one starts there.
func (e *Engine) catchUp(now time.Time) {
	for i := 0; i < maxCatchUpPhases; i++ {
		if !e.cur.Running() || e.cur.Paused || now.Before(e.cur.UnlockAt) {
			return
		}
		e.endPhase(e.cur.UnlockAt)
	}
	e.logger.Error("focus cycle catch-up did not converge, stopping")
	e.teardown("catch-up limit", false, now)
}

// endPhase runs the natural end of the current phase at at.
func (e *Engine) endPhase(at time.Time) {
	phase := e.cur.Phase
	e.metrics.RecordPhaseEnded(string(phase))
	e.publish(domain.Event{Kind: domain.EventPhaseEnded, At: at, Phase: phase, Index: e.cur.SessionIndex, Completed: true})

	if phase == domain.PhaseFocus {
		e.endFocusSession(true, at)
		e.logger.Info("focus phase completed", zap.Int("index", e.cur.SessionIndex), zap.Time("at", at))
		if e.cur.AutoAdvance {
			e.advance(domain.PhaseBreak, e.cur.SessionIndex, at)
			return
		}
		e.await(at)
		return
	}

	next := e.cur.SessionIndex + 1
	e.logger.Info("break completed", zap.Int("index", e.cur.SessionIndex), zap.Time("at", at))
	if next > e.cur.TotalSessions {
		e.complete(at)
		return
	}
	e.cur.SessionIndex = next
	if e.cur.AutoAdvance {
		e.advance(domain.PhaseFocus, next, at)
		return
	}
	e.await(at)
}

func (e *Engine) advance(phase domain.FocusPhase, index int, at time.Time) {
	if err := e.startPhase(phase, index, at); err != nil {
		e.logger.Warn("failed to start next phase", zap.String("phase", string(phase)), zap.Error(err))
		e.teardown("next phase failed", false, at)
	}
}

func (e *Engine) await(at time.Time) {
	e.cur.Status = domain.CycleAwaitingConfirm
	e.cur.RemainingSeconds = 0
	e.persist()
	e.stopTicker()
	e.publish(domain.Event{Kind: domain.EventCycleAwaiting, At: at, Phase: e.cur.Phase, Index: e.cur.SessionIndex})
}

func (e *Engine) complete(at time.Time) {
	e.clearKeys()
	e.stopTicker()
	e.cur.Status = domain.CycleAllSessionsDone
	e.cur.RemainingSeconds = 0
	e.cur.SessionID = ""
	e.publish(domain.Event{Kind: domain.EventCycleCompleted, At: at, Index: e.cur.TotalSessions, Completed: true})
	e.logger.Info("focus cycle completed", zap.Int("sessions", e.cur.TotalSessions))
}

// startPhase begins phase at at. Focus phases register the monitor first,
// so a rejected registration commits nothing, then apply the restriction
// and open a ledger session. Break phases never restrict.
func (e *Engine) startPhase(phase domain.FocusPhase, index int, at time.Time) error {
	minutes := e.cur.FocusMinutes
	status := domain.CycleFocusActive
	if phase == domain.PhaseBreak {
		minutes = e.cur.BreakMinutes
		status = domain.CycleBreakActive
	}
	unlock := at.Truncate(time.Second).Add(time.Duration(minutes) * time.Minute)

	e.cur.Phase = phase
	e.cur.Status = status
	e.cur.SessionIndex = index
	e.cur.PhaseStartedAt = at
	e.cur.UnlockAt = unlock
	e.cur.Paused = false
	e.cur.PausedRemaining = 0
	e.cur.RemainingSeconds = remainingSeconds(unlock, e.clock.Now())

	if phase == domain.PhaseFocus {
		if err := e.registerPhase(e.clock.Now()); err != nil {
			return err
		}
		if err := e.restrictions.Apply(domain.StorePomodoro, e.cur.Targets, false); err != nil {
			e.logger.Warn("failed to apply focus restriction", zap.Error(err))
		}
		id, err := e.ledger.StartSessionAt(domain.SessionPomodoroFocus, "", e.cur.Targets, at)
		if err != nil {
			e.logger.Warn("failed to start focus session", zap.Error(err))
		}
		e.cur.SessionID = id
	} else {
		e.cur.SessionID = ""
	}

	e.persist()
	e.startTicker()
	e.publish(domain.Event{Kind: domain.EventPhaseStarted, At: at, Phase: phase, Index: index})
	e.logger.Debug("phase started",
		zap.String("phase", string(phase)),
		zap.Int("index", index),
		zap.Time("unlock_at", unlock))
	return nil
}

// registerPhase registers the one-shot monitor window ending at the unlock
// time. A window that already ended is skipped.
func (e *Engine) registerPhase(now time.Time) error {
	if !e.cur.UnlockAt.After(now) {
		return nil
	}
	from, until := domain.PadOneShot(now, e.cur.UnlockAt)
	if err := e.monitor.Register(ActivityID, domain.OneShot(from, until)); err != nil {
		return fmt.Errorf("failed to register focus phase: %w", err)
	}
	return nil
}

func (e *Engine) endFocusSession(completed bool, at time.Time) {
	if err := e.monitor.Unregister(ActivityID); err != nil {
		e.logger.Warn("failed to unregister focus phase", zap.Error(err))
	}
	if err := e.restrictions.Clear(domain.StorePomodoro); err != nil {
		e.logger.Warn("failed to clear focus restriction", zap.Error(err))
	}

	id := e.cur.SessionID
	if id == "" {
		if active, err := e.ledger.GetActiveSession(domain.SessionPomodoroFocus); err == nil && active != nil {
			id = active.ID
		}
	}
	if id != "" {
		if _, err := e.ledger.EndSessionAt(id, completed, at); err != nil {
			e.logger.Warn("failed to end focus session", zap.String("session", id), zap.Error(err))
		}
	}
	e.cur.SessionID = ""
}

func (e *Engine) teardown(reason string, completed bool, now time.Time) {
	wasActive := e.cur.Running() || e.cur.Status == domain.CycleAwaitingConfirm

	e.stopTicker()
	e.endFocusSession(completed, now)
	e.clearKeys()
	e.cur = domain.FocusCycleState{Revision: e.cur.Revision, Status: domain.CycleIdle}

	if wasActive {
		e.publish(domain.Event{Kind: domain.EventCycleStopped, At: now, Completed: completed, Reason: reason})
		e.logger.Info("focus cycle stopped", zap.String("reason", reason), zap.Bool("completed", completed))
	}
}

// cleanupOrphans lifts a focus restriction or session left behind by a
// cycle whose state is gone.
func (e *Engine) cleanupOrphans(now time.Time) {
	r, err := e.restrictions.Get(domain.StorePomodoro)
	if err != nil {
		e.logger.Warn("failed to read focus restriction", zap.Error(err))
	}
	active, err := e.ledger.GetActiveSession(domain.SessionPomodoroFocus)
	if err != nil {
		e.logger.Warn("failed to read focus session", zap.Error(err))
	}
	if r == nil && active == nil {
		return
	}
	e.logger.Info("clearing focus leftovers without cycle state")
	e.endFocusSession(false, now)
}

// adoptExternal replaces the in-memory state when another process has
// written a different revision or removed the cycle.
func (e *Engine) adoptExternal() {
	stored, ok := e.readPersisted()
	if !ok {
		if e.cur.Running() || e.cur.Status == domain.CycleAwaitingConfirm {
			e.logger.Info("focus cycle ended by another process")
			e.stopTicker()
			e.cur = domain.FocusCycleState{Revision: e.cur.Revision, Status: domain.CycleIdle}
		}
		return
	}
	if stored.Revision == e.cur.Revision && stored.Status == e.cur.Status {
		return
	}
	e.cur = stored
	if e.cur.Running() && !e.cur.Paused {
		e.startTicker()
	} else {
		e.stopTicker()
	}
}

// readPersisted merges focus.state with the individually stored pause and
// unlock keys, which take precedence.
func (e *Engine) readPersisted() (domain.FocusCycleState, bool) {
	var s domain.FocusCycleState
	ok, err := state.GetJSON(e.state, state.KeyFocusState, &s)
	if err != nil {
		e.logger.Warn("ignoring unreadable focus state", zap.Error(err))
		return domain.FocusCycleState{}, false
	}
	if !ok || s.Status == "" || s.Status == domain.CycleIdle {
		return domain.FocusCycleState{}, false
	}

	paused, err := state.GetBool(e.state, state.KeyFocusPaused)
	if err == nil {
		s.Paused = paused
	}
	if s.Paused {
		if n, err := state.GetInt64(e.state, state.KeyFocusPausedRemaining); err == nil && n > 0 {
			s.PausedRemaining = int(n)
		}
		s.RemainingSeconds = s.PausedRemaining
	}
	if unlock, ok, err := state.GetTime(e.state, state.KeyFocusUnlockAt); err == nil && ok {
		s.UnlockAt = unlock
	}
	return s, true
}

func (e *Engine) persist() {
	e.cur.Revision++
	if err := state.SetJSON(e.state, state.KeyFocusState, e.cur); err != nil {
		e.logger.Warn("failed to persist focus state", zap.Error(err))
	}
	if err := state.SetTime(e.state, state.KeyFocusUnlockAt, e.cur.UnlockAt); err != nil {
		e.logger.Warn("failed to persist unlock time", zap.Error(err))
	}
	if err := state.SetBool(e.state, state.KeyFocusPaused, e.cur.Paused); err != nil {
		e.logger.Warn("failed to persist paused flag", zap.Error(err))
	}
	if err := state.SetInt64(e.state, state.KeyFocusPausedRemaining, int64(e.cur.PausedRemaining)); err != nil {
		e.logger.Warn("failed to persist paused remainder", zap.Error(err))
	}
}

func (e *Engine) clearKeys() {
	err := state.RemoveAll(e.state,
		state.KeyFocusState,
		state.KeyFocusUnlockAt,
		state.KeyFocusPaused,
		state.KeyFocusPausedRemaining)
	if err != nil {
		e.logger.Warn("failed to clear focus state", zap.Error(err))
	}
}

func (e *Engine) snapshotAt(now time.Time) domain.FocusCycleState {
	s := e.cur
	switch {
	case s.Paused:
		s.RemainingSeconds = s.PausedRemaining
	case s.Running():
		s.RemainingSeconds = remainingSeconds(s.UnlockAt, now)
	default:
		s.RemainingSeconds = 0
	}
	return s
}

// startTicker replaces the tick goroutine. The previous one is cancelled
// before the new one starts.
func (e *Engine) startTicker() {
	if !e.autoTick {
		return
	}
	e.stopTicker()

	ctx, cancel := context.WithCancel(context.Background())
	e.tickCancel = cancel
	go func() {
		ticker := time.NewTicker(e.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := e.Tick(e.clock.Now())
				if !s.Running() || s.Paused {
					return
				}
			}
		}
	}()
}

func (e *Engine) stopTicker() {
	if e.tickCancel != nil {
		e.tickCancel()
		e.tickCancel = nil
	}
}

func (e *Engine) publish(ev domain.Event) {
	if e.events == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.clock.Now()
	}
	if ev.SessionType == "" {
		ev.SessionType = domain.SessionPomodoroFocus
	}
	if ev.Phase == "" {
		ev.Phase = e.cur.Phase
	}
	e.events.Publish(ev)
}

// remainingSeconds rounds up, so a phase shows 1 until it has fully ended.
func remainingSeconds(unlock, now time.Time) int {
	d := unlock.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

