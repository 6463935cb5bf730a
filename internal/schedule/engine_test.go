package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/infra"
	"github.com/eliteGoblin/focusd/app_block/internal/ledger"
	"github.com/eliteGoblin/focusd/app_block/test/fixtures"
)

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

type harness struct {
	engine       *Engine
	state        *infra.MemoryState
	clock        *fixtures.FakeClock
	monitor      *infra.StateActivityMonitor
	restrictions *infra.StateRestrictionStore
	ledger       *ledger.Ledger
}

func newHarness(now time.Time) *harness {
	return newHarnessWithMonitor(now, nil)
}

func newHarnessWithMonitor(now time.Time, wrap func(domain.ActivityMonitor) domain.ActivityMonitor) *harness {
	st := infra.NewMemoryState()
	clock := fixtures.NewFakeClock(now)
	logger := zap.NewNop()
	h := &harness{
		state:        st,
		clock:        clock,
		monitor:      infra.NewActivityMonitor(st, clock, logger),
		restrictions: infra.NewRestrictionStore(st, clock, logger),
		ledger:       ledger.New(st, clock, logger),
	}
	var monitor domain.ActivityMonitor = h.monitor
	if wrap != nil {
		monitor = wrap(monitor)
	}
	h.engine = NewEngine(st, h.restrictions, monitor, h.ledger, clock, logger)
	return h
}

func (h *harness) restricted(t *testing.T, id string) bool {
	t.Helper()
	r, err := h.restrictions.Get(domain.ScheduleStore(id))
	require.NoError(t, err)
	return r != nil
}

func (h *harness) registered(t *testing.T, activityID string) bool {
	t.Helper()
	ok, err := h.monitor.IsRegistered(activityID)
	require.NoError(t, err)
	return ok
}

func workday(strict bool) domain.BlockSchedule {
	return domain.BlockSchedule{
		ID:       "work",
		Name:     "Work",
		Start:    domain.MustTimeOfDay("09:00"),
		End:      domain.MustTimeOfDay("17:00"),
		Days:     weekdays,
		Targets:  domain.TargetSet{Categories: []string{"games", "social"}},
		Strict:   strict,
		IsActive: true,
	}
}

// failingMonitor rejects registrations of one activity id.
type failingMonitor struct {
	domain.ActivityMonitor
	failID string
}

func (m *failingMonitor) Register(id string, s domain.MonitorSchedule, th ...domain.ThresholdEvent) error {
	if id == m.failID {
		return errors.New("monitor refused")
	}
	return m.ActivityMonitor.Register(id, s, th...)
}

func TestEngine_WorkdayScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(fixtures.Wednesday(10, 30))

	saved, err := h.engine.Save(ctx, workday(false))
	require.NoError(t, err)
	assert.True(t, saved.IsCurrentlyBlocking)
	assert.True(t, h.restricted(t, "work"))
	assert.True(t, h.registered(t, ActivityID("work")))
	assert.True(t, h.registered(t, TodayActivityID("work")))

	// Wed 17:00: both registrations end.
	h.clock.Set(fixtures.Wednesday(17, 0))
	h.engine.HandleIntervalEnd(ctx, TodayActivityID("work"))
	h.engine.HandleIntervalEnd(ctx, ActivityID("work"))

	assert.False(t, h.restricted(t, "work"))
	assert.False(t, h.registered(t, TodayActivityID("work")))
	assert.True(t, h.registered(t, ActivityID("work")))
	s, err := h.engine.Get("work")
	require.NoError(t, err)
	assert.False(t, s.IsCurrentlyBlocking)

	sessions := h.ledger.Sessions(fixtures.Wednesday(12, 0))
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Completed)
	assert.Equal(t, 6*time.Hour+30*time.Minute, sessions[0].Duration(h.clock.Now()))

	// Thu 09:00: the recurring window opens again without user action.
	h.clock.Set(fixtures.Wednesday(9, 0).AddDate(0, 0, 1))
	h.engine.HandleIntervalStart(ctx, ActivityID("work"))

	assert.True(t, h.restricted(t, "work"))
	s, err = h.engine.Get("work")
	require.NoError(t, err)
	assert.True(t, s.IsCurrentlyBlocking)
}

func TestEngine_WorkdayScenarioByReconcile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(fixtures.Wednesday(10, 30))
	_, err := h.engine.Save(ctx, workday(false))
	require.NoError(t, err)

	h.clock.Set(fixtures.Wednesday(17, 0))
	require.NoError(t, h.engine.ReconcileAll(ctx))
	assert.False(t, h.restricted(t, "work"))

	h.clock.Set(fixtures.Wednesday(9, 0).AddDate(0, 0, 1))
	require.NoError(t, h.engine.ReconcileAll(ctx))
	assert.True(t, h.restricted(t, "work"))
	assert.True(t, h.registered(t, TodayActivityID("work")))
}

func TestEngine_ActivateThenDeactivate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(fixtures.Wednesday(10, 30))

	_, err := h.engine.Save(ctx, workday(false))
	require.NoError(t, err)
	require.NoError(t, h.engine.Deactivate(ctx, "work", true))

	s, err := h.engine.Get("work")
	require.NoError(t, err)
	assert.False(t, s.IsActive)
	assert.False(t, s.IsCurrentlyBlocking)
	assert.False(t, h.restricted(t, "work"))
	assert.False(t, h.registered(t, ActivityID("work")))
	assert.False(t, h.registered(t, TodayActivityID("work")))

	active, err := h.ledger.GetActiveScheduleSession("work")
	require.NoError(t, err)
	assert.Nil(t, active)
	sessions := h.ledger.Sessions(h.clock.Now())
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].Completed)
}

func TestEngine_StrictScheduleRefusesUserDeactivation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(fixtures.Wednesday(10, 30))
	_, err := h.engine.Save(ctx, workday(true))
	require.NoError(t, err)

	err = h.engine.Deactivate(ctx, "work", true)
	assert.ErrorIs(t, err, domain.ErrStrictRestriction)
	assert.True(t, h.restricted(t, "work"))

	edited := workday(true)
	edited.End = domain.MustTimeOfDay("11:00")
	_, err = h.engine.Save(ctx, edited)
	assert.ErrorIs(t, err, domain.ErrStrictRestriction)

	require.NoError(t, h.engine.Deactivate(ctx, "work", false))
	assert.False(t, h.restricted(t, "work"))
}

func TestEngine_StrictScheduleOutsideWindowCanBeDisabled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(fixtures.Wednesday(18, 0))
	_, err := h.engine.Save(ctx, workday(true))
	require.NoError(t, err)

	assert.NoError(t, h.engine.Deactivate(ctx, "work", true))
}

func TestEngine_RejectsInvalidSchedules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *domain.BlockSchedule)
		wantErr error
	}{
		{
			name:    "window under 15 minutes",
			mutate:  func(s *domain.BlockSchedule) { s.End = domain.MustTimeOfDay("09:10") },
			wantErr: domain.ErrWindowTooShort,
		},
		{
			name:    "empty window",
			mutate:  func(s *domain.BlockSchedule) { s.End = s.Start },
			wantErr: domain.ErrWindowTooShort,
		},
		{
			name:    "no days",
			mutate:  func(s *domain.BlockSchedule) { s.Days = nil },
			wantErr: domain.ErrNoDays,
		},
		{
			name:    "no targets",
			mutate:  func(s *domain.BlockSchedule) { s.Targets = domain.TargetSet{} },
			wantErr: domain.ErrNoTargets,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(fixtures.Wednesday(10, 30))
			s := workday(false)
			tt.mutate(&s)

			_, err := h.engine.Save(context.Background(), s)
			assert.ErrorIs(t, err, tt.wantErr)

			_, err = h.engine.Get("work")
			assert.ErrorIs(t, err, domain.ErrScheduleNotFound)
			assert.False(t, h.restricted(t, "work"))
		})
	}
}

func TestEngine_RegistrationFailureCommitsNothing(t *testing.T) {
	h := newHarnessWithMonitor(fixtures.Wednesday(10, 30), func(m domain.ActivityMonitor) domain.ActivityMonitor {
		return &failingMonitor{ActivityMonitor: m, failID: TodayActivityID("work")}
	})

	_, err := h.engine.Save(context.Background(), workday(false))
	require.Error(t, err)

	_, err = h.engine.Get("work")
	assert.ErrorIs(t, err, domain.ErrScheduleNotFound)
	assert.False(t, h.restricted(t, "work"))
	assert.False(t, h.registered(t, ActivityID("work")))
	all, err := h.ledger.GetAllActive()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestEngine_ReconcileRecordsMissedEndAtWindowEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(fixtures.Wednesday(16, 0))
	_, err := h.engine.Save(ctx, workday(false))
	require.NoError(t, err)

	// The monitor never fired; we come back at 18:30.
	h.clock.Set(fixtures.Wednesday(18, 30))
	require.NoError(t, h.engine.ReconcileAll(ctx))

	assert.False(t, h.restricted(t, "work"))
	sessions := h.ledger.Sessions(h.clock.Now())
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Completed)
	assert.True(t, fixtures.Wednesday(17, 0).Equal(*sessions[0].EndTime))
}

func TestEngine_ReconcileRearmsAndCleansOrphans(t *testing.T) {
	ctx := context.Background()
	h := newHarness(fixtures.Wednesday(10, 30))
	_, err := h.engine.Save(ctx, workday(false))
	require.NoError(t, err)

	// Lost registration, plus leftovers of a schedule that no longer exists.
	require.NoError(t, h.monitor.Unregister(ActivityID("work"), TodayActivityID("work")))
	require.NoError(t, h.restrictions.Apply(domain.ScheduleStore("ghost"), domain.TargetSet{Apps: []string{"x"}}, false))
	_, err = h.ledger.StartSession(domain.SessionSchedule, "ghost", domain.TargetSet{Apps: []string{"x"}})
	require.NoError(t, err)
	require.NoError(t, h.monitor.Register(ActivityID("ghost"), domain.DailyWindow(domain.MustTimeOfDay("09:00"), domain.MustTimeOfDay("10:00"), weekdays)))

	require.NoError(t, h.engine.ReconcileAll(ctx))

	assert.True(t, h.registered(t, ActivityID("work")))
	assert.True(t, h.registered(t, TodayActivityID("work")))
	assert.False(t, h.restricted(t, "ghost"))
	assert.False(t, h.registered(t, ActivityID("ghost")))
	ghost, err := h.ledger.GetActiveScheduleSession("ghost")
	require.NoError(t, err)
	assert.Nil(t, ghost)
	assert.True(t, h.restricted(t, "work"))
}

func TestEngine_OverlappingSchedulesAreIndependent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(fixtures.Wednesday(10, 30))

	_, err := h.engine.Save(ctx, workday(false))
	require.NoError(t, err)
	morning := workday(false)
	morning.ID = "morning"
	morning.End = domain.MustTimeOfDay("12:00")
	morning.Targets = domain.TargetSet{Apps: []string{"slack"}}
	_, err = h.engine.Save(ctx, morning)
	require.NoError(t, err)

	h.clock.Set(fixtures.Wednesday(12, 0))
	h.engine.HandleIntervalEnd(ctx, ActivityID("morning"))

	assert.False(t, h.restricted(t, "morning"))
	assert.True(t, h.restricted(t, "work"))
}

func TestEngine_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	h := newHarness(fixtures.Wednesday(18, 0))

	b := workday(false)
	b.ID = ""
	b.Name = "B"
	saved, err := h.engine.Save(ctx, b)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	a := workday(false)
	a.Name = "A"
	_, err = h.engine.Save(ctx, a)
	require.NoError(t, err)

	list, err := h.engine.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].Name)

	require.NoError(t, h.engine.Delete(ctx, saved.ID, true))
	list, err = h.engine.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.False(t, h.registered(t, ActivityID(saved.ID)))
}

func TestEngine_OvernightSchedule(t *testing.T) {
	ctx := context.Background()
	h := newHarness(fixtures.Wednesday(23, 0))
	night := domain.BlockSchedule{
		ID:       "night",
		Start:    domain.MustTimeOfDay("22:00"),
		End:      domain.MustTimeOfDay("06:00"),
		Days:     []time.Weekday{time.Wednesday, time.Thursday},
		Targets:  domain.TargetSet{Categories: []string{"video"}},
		IsActive: true,
	}

	saved, err := h.engine.Save(ctx, night)
	require.NoError(t, err)
	assert.True(t, saved.IsCurrentlyBlocking)

	regs, err := h.monitor.Registrations()
	require.NoError(t, err)
	for _, r := range regs {
		if r.ActivityID == TodayActivityID("night") {
			assert.True(t, fixtures.Wednesday(6, 0).AddDate(0, 0, 1).Equal(r.Schedule.Until))
		}
	}

	h.clock.Set(fixtures.Wednesday(6, 0).AddDate(0, 0, 1))
	require.NoError(t, h.engine.ReconcileAll(ctx))
	assert.False(t, h.restricted(t, "night"))
}

func TestIsScheduleActiveNow(t *testing.T) {
	s := workday(false)

	assert.True(t, IsScheduleActiveNow(s, fixtures.Wednesday(9, 0)))
	assert.True(t, IsScheduleActiveNow(s, fixtures.Wednesday(16, 59)))
	assert.False(t, IsScheduleActiveNow(s, fixtures.Wednesday(17, 0)))
	assert.False(t, IsScheduleActiveNow(s, fixtures.Wednesday(10, 0).AddDate(0, 0, 3)), "Saturday")
}

func TestParseActivityID(t *testing.T) {
	tests := []struct {
		in        string
		wantID    string
		wantToday bool
		wantOK    bool
	}{
		{in: "schedule.work", wantID: "work", wantOK: true},
		{in: "schedule.work.today", wantID: "work", wantToday: true, wantOK: true},
		{in: "schedule.", wantOK: false},
		{in: "manual", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, today, ok := ParseActivityID(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantToday, today)
		})
	}
}

func TestEngine_ReconcileAfterMissedCallbacks(t *testing.T) {
	monday := domain.BlockSchedule{
		ID:       "night",
		Name:     "Night",
		Start:    domain.MustTimeOfDay("22:00"),
		End:      domain.MustTimeOfDay("06:00"),
		Days:     []time.Weekday{time.Monday},
		Targets:  domain.TargetSet{Apps: []string{"steam"}},
		IsActive: true,
	}

	tests := []struct {
		name        string
		schedule    domain.BlockSchedule
		activate    time.Time
		reconcile   time.Time
		wantEnd     time.Time
		wantRestart time.Time
	}{
		{
			name:      "gap over days without the schedule",
			schedule:  workday(false),
			activate:  fixtures.At(2025, time.January, 17, 10, 0),
			reconcile: fixtures.At(2025, time.January, 20, 8, 0),
			wantEnd:   fixtures.At(2025, time.January, 17, 17, 0),
		},
		{
			name:        "gap ends inside the next window",
			schedule:    workday(false),
			activate:    fixtures.Wednesday(10, 0),
			reconcile:   fixtures.At(2025, time.January, 16, 10, 0),
			wantEnd:     fixtures.Wednesday(17, 0),
			wantRestart: fixtures.At(2025, time.January, 16, 9, 0),
		},
		{
			name:      "overnight window cut at midnight",
			schedule:  monday,
			activate:  fixtures.At(2025, time.January, 13, 23, 0),
			reconcile: fixtures.At(2025, time.January, 14, 0, 30),
			wantEnd:   fixtures.At(2025, time.January, 14, 0, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(tt.activate)
			s, err := h.engine.Save(ctx, tt.schedule)
			require.NoError(t, err)
			require.True(t, s.IsCurrentlyBlocking)
			require.NoError(t, h.monitor.SaveRuntime(ActivityID(s.ID), domain.ActivityRuntime{InInterval: true, IntervalStart: tt.activate}))

			h.clock.Set(tt.reconcile)
			require.NoError(t, h.engine.ReconcileAll(ctx))

			sessions := h.ledger.Sessions(tt.activate)
			require.Len(t, sessions, 1)
			assert.True(t, sessions[0].Completed)
			assert.True(t, tt.activate.Equal(sessions[0].StartTime))
			assert.True(t, tt.wantEnd.Equal(*sessions[0].EndTime), "ended at %s", sessions[0].EndTime)

			active, err := h.ledger.GetActiveScheduleSession(s.ID)
			require.NoError(t, err)
			if tt.wantRestart.IsZero() {
				assert.Nil(t, active)
				assert.False(t, h.restricted(t, s.ID))
				return
			}
			require.NotNil(t, active)
			assert.True(t, tt.wantRestart.Equal(active.StartTime), "restarted at %s", active.StartTime)
			assert.True(t, h.restricted(t, s.ID))
			assert.True(t, h.registered(t, TodayActivityID(s.ID)))
			assert.Equal(t, domain.ActivityRuntime{}, h.monitor.Runtime(ActivityID(s.ID)))
		})
	}
}
