package focus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/infra"
	"github.com/eliteGoblin/focusd/app_block/internal/ledger"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
	"github.com/eliteGoblin/focusd/app_block/test/fixtures"
)

var games = domain.TargetSet{Categories: []string{"games"}}

var classic = Settings{
	FocusMinutes:  25,
	BreakMinutes:  5,
	TotalSessions: 4,
	AutoAdvance:   true,
	Targets:       games,
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(kind domain.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// world is everything both processes share.
type world struct {
	state        *infra.MemoryState
	clock        *fixtures.FakeClock
	restrictions *infra.StateRestrictionStore
	monitor      *infra.StateActivityMonitor
	ledger       *ledger.Ledger
	events       *recorder
}

func newWorld(now time.Time) *world {
	st := infra.NewMemoryState()
	clock := fixtures.NewFakeClock(now)
	logger := zap.NewNop()
	return &world{
		state:        st,
		clock:        clock,
		restrictions: infra.NewRestrictionStore(st, clock, logger),
		monitor:      infra.NewActivityMonitor(st, clock, logger),
		ledger:       ledger.New(st, clock, logger),
		events:       &recorder{},
	}
}

// engine creates a fresh engine, as a newly launched process would.
func (w *world) engine(opts ...Option) *Engine {
	opts = append([]Option{WithoutTicker(), WithPublisher(w.events)}, opts...)
	return NewEngine(w.state, w.restrictions, w.monitor, w.ledger, w.clock, zap.NewNop(), opts...)
}

func (w *world) restricted(t *testing.T) bool {
	t.Helper()
	r, err := w.restrictions.Get(domain.StorePomodoro)
	require.NoError(t, err)
	return r != nil
}

func (w *world) registration(t *testing.T) *domain.ActivityRegistration {
	t.Helper()
	regs, err := w.monitor.Registrations()
	require.NoError(t, err)
	for i := range regs {
		if regs[i].ActivityID == ActivityID {
			return &regs[i]
		}
	}
	return nil
}

type failingMonitor struct {
	domain.ActivityMonitor
}

func (failingMonitor) Register(string, domain.MonitorSchedule, ...domain.ThresholdEvent) error {
	return errors.New("monitor unavailable")
}

func TestEngine_StartAppliesFocusPhase(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	e := w.engine()

	s, err := e.Start(context.Background(), classic)
	require.NoError(t, err)

	assert.Equal(t, domain.CycleFocusActive, s.Status)
	assert.Equal(t, domain.PhaseFocus, s.Phase)
	assert.Equal(t, 1, s.SessionIndex)
	assert.Equal(t, 25*60, s.RemainingSeconds)
	assert.True(t, fixtures.Wednesday(9, 25).Equal(s.UnlockAt))
	assert.True(t, w.restricted(t))

	reg := w.registration(t)
	require.NotNil(t, reg)
	assert.True(t, fixtures.Wednesday(9, 25).Equal(reg.Schedule.Until))

	active, err := w.ledger.GetActiveSession(domain.SessionPomodoroFocus)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, s.SessionID, active.ID)

	unlock, ok, err := state.GetTime(w.state, state.KeyFocusUnlockAt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, s.UnlockAt.Equal(unlock))
}

func TestEngine_UnlockIsWholeSecond(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0).Add(1500 * time.Millisecond))
	s, err := w.engine().Start(context.Background(), classic)
	require.NoError(t, err)

	assert.True(t, fixtures.Wednesday(9, 25).Add(time.Second).Equal(s.UnlockAt))
}

func TestEngine_StartValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr error
	}{
		{name: "zero focus", mutate: func(s *Settings) { s.FocusMinutes = 0 }, wantErr: domain.ErrInvalidDuration},
		{name: "negative break", mutate: func(s *Settings) { s.BreakMinutes = -5 }, wantErr: domain.ErrInvalidDuration},
		{name: "no sessions", mutate: func(s *Settings) { s.TotalSessions = 0 }, wantErr: domain.ErrInvalidDuration},
		{name: "no targets", mutate: func(s *Settings) { s.Targets = domain.TargetSet{} }, wantErr: domain.ErrNoTargets},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(fixtures.Wednesday(9, 0))
			s := classic
			tt.mutate(&s)

			_, err := w.engine().Start(context.Background(), s)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, w.restricted(t))
		})
	}
}

func TestEngine_StartWhileActive(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	_, err := w.engine().Start(context.Background(), classic)
	require.NoError(t, err)

	// A second process sees the persisted cycle.
	_, err = w.engine().Start(context.Background(), classic)
	assert.ErrorIs(t, err, domain.ErrCycleActive)
}

func TestEngine_FullCycleWithAutoAdvance(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	e := w.engine()
	_, err := e.Start(context.Background(), classic)
	require.NoError(t, err)

	var s domain.FocusCycleState
	for i := 0; i < 4*30; i++ {
		s = e.Tick(w.clock.Advance(time.Minute))
		if i == 26 {
			assert.Equal(t, domain.CycleBreakActive, s.Status)
			assert.False(t, w.restricted(t), "break phases never restrict")
		}
	}

	assert.Equal(t, domain.CycleAllSessionsDone, s.Status)
	assert.False(t, w.restricted(t))
	assert.Nil(t, w.registration(t))
	ok, err := state.Has(w.state, state.KeyFocusState)
	require.NoError(t, err)
	assert.False(t, ok)

	stats := w.ledger.DailyStats(w.clock.Now())
	assert.Equal(t, 4, stats.Completed)
	assert.Equal(t, 0, stats.Interrupted)
	assert.Equal(t, 100*time.Minute, stats.ByType[domain.SessionPomodoroFocus])
	assert.Equal(t, 8, w.events.count(domain.EventPhaseStarted))
	assert.Equal(t, 1, w.events.count(domain.EventCycleCompleted))
}

func TestEngine_RestoreCatchesUpMissedPhases(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	_, err := w.engine().Start(context.Background(), classic)
	require.NoError(t, err)

	// Nobody ran for three hours.
	w.clock.Set(fixtures.Wednesday(12, 0))
	s := w.engine().Restore(context.Background())

	assert.Equal(t, domain.CycleAllSessionsDone, s.Status)
	assert.False(t, w.restricted(t))

	sessions := w.ledger.Sessions(fixtures.Wednesday(9, 0))
	require.Len(t, sessions, 4)
	for i, sess := range sessions {
		start := fixtures.Wednesday(9, 0).Add(time.Duration(i) * 30 * time.Minute)
		assert.True(t, start.Equal(sess.StartTime), "session %d start", i)
		assert.True(t, sess.Completed)
		assert.Equal(t, 25*time.Minute, sess.Duration(w.clock.Now()))
	}
}

func TestEngine_RestorePastUnlockFinalizesAtUnlockTime(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	manual := classic
	manual.AutoAdvance = false
	_, err := w.engine().Start(context.Background(), manual)
	require.NoError(t, err)

	w.clock.Set(fixtures.Wednesday(11, 0))
	e := w.engine()
	s := e.Restore(context.Background())

	assert.Equal(t, domain.CycleAwaitingConfirm, s.Status)
	assert.False(t, w.restricted(t))
	sessions := w.ledger.Sessions(w.clock.Now())
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Completed)
	assert.Equal(t, 25*time.Minute, sessions[0].Duration(w.clock.Now()))

	s, err = e.ContinueCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CycleBreakActive, s.Status)
	assert.Equal(t, 1, s.SessionIndex)
}

func TestEngine_AwaitingAfterBreakAdvancesIndex(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	manual := classic
	manual.AutoAdvance = false
	e := w.engine()
	_, err := e.Start(context.Background(), manual)
	require.NoError(t, err)

	e.Tick(w.clock.Advance(25 * time.Minute))
	_, err = e.ContinueCycle(context.Background())
	require.NoError(t, err)
	s := e.Tick(w.clock.Advance(5 * time.Minute))
	assert.Equal(t, domain.CycleAwaitingConfirm, s.Status)
	assert.Equal(t, 2, s.SessionIndex)

	s, err = e.ContinueCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CycleFocusActive, s.Status)
	assert.True(t, w.restricted(t))
}

func TestEngine_PauseSurvivesRestart(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	_, err := w.engine().Start(context.Background(), classic)
	require.NoError(t, err)

	w.clock.Set(fixtures.Wednesday(9, 20))
	s, err := w.engine().Pause(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300, s.PausedRemaining)
	assert.Nil(t, w.registration(t))
	assert.True(t, w.restricted(t), "restriction stays applied while paused")

	// A fresh process two minutes later.
	w.clock.Advance(2 * time.Minute)
	e := w.engine()
	s = e.Restore(context.Background())
	assert.True(t, s.Paused)
	assert.Equal(t, 300, s.RemainingSeconds)

	s, err = e.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300, s.RemainingSeconds)
	assert.True(t, fixtures.Wednesday(9, 27).Equal(s.UnlockAt))
	require.NotNil(t, w.registration(t))
}

func TestEngine_RestoreRunningPhaseCountsElapsedTime(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	_, err := w.engine().Start(context.Background(), classic)
	require.NoError(t, err)

	// 300 s left when the process dies; it comes back N seconds later.
	for _, n := range []int{1, 120, 299} {
		w.clock.Set(fixtures.Wednesday(9, 20).Add(time.Duration(n) * time.Second))
		s := w.engine().Restore(context.Background())
		assert.Equal(t, domain.CycleFocusActive, s.Status)
		assert.Equal(t, 300-n, s.RemainingSeconds)
	}
}

func TestEngine_PauseResumeErrors(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	e := w.engine()

	_, err := e.Pause(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoActiveCycle)

	_, err = e.Start(context.Background(), classic)
	require.NoError(t, err)
	_, err = e.Resume(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotPaused)

	_, err = e.Pause(context.Background())
	require.NoError(t, err)
	_, err = e.Pause(context.Background())
	assert.ErrorIs(t, err, domain.ErrAlreadyPaused)
}

func TestEngine_PausedPhaseDoesNotEnd(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	e := w.engine()
	_, err := e.Start(context.Background(), classic)
	require.NoError(t, err)
	_, err = e.Pause(context.Background())
	require.NoError(t, err)

	s := e.Tick(w.clock.Advance(time.Hour))
	assert.Equal(t, domain.CycleFocusActive, s.Status)
	assert.Equal(t, 25*60, s.RemainingSeconds)
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	e := w.engine()
	_, err := e.Start(context.Background(), classic)
	require.NoError(t, err)

	w.clock.Advance(10 * time.Minute)
	e.Stop(context.Background(), "user", false)
	e.Stop(context.Background(), "user", false)

	assert.Equal(t, domain.CycleIdle, e.Snapshot().Status)
	assert.False(t, w.restricted(t))
	assert.Nil(t, w.registration(t))
	for _, k := range []string{state.KeyFocusState, state.KeyFocusUnlockAt, state.KeyFocusPaused, state.KeyFocusPausedRemaining} {
		ok, err := state.Has(w.state, k)
		require.NoError(t, err)
		assert.False(t, ok, k)
	}

	sessions := w.ledger.Sessions(w.clock.Now())
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].Completed)
	assert.Equal(t, 10*time.Minute, sessions[0].Duration(w.clock.Now()))
	assert.Equal(t, 1, w.events.count(domain.EventCycleStopped))
}

func TestEngine_RegistrationFailureCommitsNothing(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	e := NewEngine(w.state, w.restrictions, failingMonitor{w.monitor}, w.ledger, w.clock, zap.NewNop(), WithoutTicker())

	_, err := e.Start(context.Background(), classic)
	require.Error(t, err)

	assert.Equal(t, domain.CycleIdle, e.Snapshot().Status)
	assert.False(t, w.restricted(t))
	active, err := w.ledger.GetActiveSession(domain.SessionPomodoroFocus)
	require.NoError(t, err)
	assert.Nil(t, active)
	ok, err := state.Has(w.state, state.KeyFocusState)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_ShortPhaseIsPadded(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	short := classic
	short.FocusMinutes = 5

	_, err := w.engine().Start(context.Background(), short)
	require.NoError(t, err)

	reg := w.registration(t)
	require.NotNil(t, reg)
	assert.True(t, fixtures.Wednesday(9, 5).Equal(reg.Schedule.Until))
	assert.Equal(t, domain.MinimumMonitorInterval, reg.Schedule.Length())
}

func TestEngine_AdoptsOtherProcessChanges(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	controller := w.engine()
	daemon := w.engine()

	_, err := controller.Start(context.Background(), classic)
	require.NoError(t, err)

	s := daemon.Tick(w.clock.Advance(time.Minute))
	assert.Equal(t, domain.CycleFocusActive, s.Status)
	assert.Equal(t, 24*60, s.RemainingSeconds)

	controller.Stop(context.Background(), "user", false)
	s = daemon.Tick(w.clock.Advance(time.Minute))
	assert.Equal(t, domain.CycleIdle, s.Status)
}

func TestEngine_RestoreClearsLeftoversWithoutState(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	require.NoError(t, w.restrictions.Apply(domain.StorePomodoro, games, false))
	_, err := w.ledger.StartSession(domain.SessionPomodoroFocus, "", games)
	require.NoError(t, err)

	s := w.engine().Restore(context.Background())

	assert.Equal(t, domain.CycleIdle, s.Status)
	assert.False(t, w.restricted(t))
	active, err := w.ledger.GetActiveSession(domain.SessionPomodoroFocus)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestEngine_InternalTickerEndsPhase(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	e := NewEngine(w.state, w.restrictions, w.monitor, w.ledger, w.clock, zap.NewNop(),
		WithTickInterval(5*time.Millisecond))
	t.Cleanup(e.Close)

	single := classic
	single.TotalSessions = 1
	_, err := e.Start(context.Background(), single)
	require.NoError(t, err)

	w.clock.Advance(30 * time.Minute)
	assert.Eventually(t, func() bool {
		return e.Snapshot().Status == domain.CycleAllSessionsDone
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLoad(t *testing.T) {
	w := newWorld(fixtures.Wednesday(9, 0))
	assert.Equal(t, domain.CycleIdle, Load(w.state, w.clock.Now()).Status)

	_, err := w.engine().Start(context.Background(), classic)
	require.NoError(t, err)

	s := Load(w.state, fixtures.Wednesday(9, 10))
	assert.Equal(t, domain.CycleFocusActive, s.Status)
	assert.Equal(t, 15*60, s.RemainingSeconds)
}
