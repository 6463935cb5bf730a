// Package schedule runs recurring weekly blocking windows.
//
// A schedule moves inactive -> armed -> blocking -> armed ... while it is
// enabled; disabling it forces inactive from any state. The engine keeps no
// state of its own beyond a mutex: definitions, blocking flags, restrictions
// and sessions all live in shared state, so the monitor process can run the
// same callbacks with a fresh Engine.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/metrics"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
)

const (
	activityPrefix = "schedule."
	todaySuffix    = ".today"
)

// ActivityID is the recurring monitor registration of a schedule.
func ActivityID(scheduleID string) string {
	return activityPrefix + scheduleID
}

// TodayActivityID is the one-shot registration covering the rest of the
// current window after a mid-window activation.
func TodayActivityID(scheduleID string) string {
	return activityPrefix + scheduleID + todaySuffix
}

// ParseActivityID extracts the schedule id from a monitor activity id.
func ParseActivityID(activityID string) (scheduleID string, today bool, ok bool) {
	if !strings.HasPrefix(activityID, activityPrefix) {
		return "", false, false
	}
	rest := strings.TrimPrefix(activityID, activityPrefix)
	if strings.HasSuffix(rest, todaySuffix) {
		rest = strings.TrimSuffix(rest, todaySuffix)
		today = true
	}
	if rest == "" {
		return "", false, false
	}
	return rest, today, true
}

// IsScheduleActiveNow reports whether now's weekday is one of the schedule's
// days and now's minute of day lies in [start,end), wrapping past midnight
// when end < start.
func IsScheduleActiveNow(s domain.BlockSchedule, now time.Time) bool {
	return domain.WindowContains(s.Start, s.End, s.Days, now)
}

// Validate checks a definition before it is saved or activated.
func Validate(s domain.BlockSchedule) error {
	if s.Targets.IsEmpty() {
		return domain.ErrNoTargets
	}
	if len(s.Days) == 0 {
		return domain.ErrNoDays
	}
	for _, d := range s.Days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("invalid weekday %d", d)
		}
	}
	if s.WindowLength() < domain.MinimumMonitorInterval {
		return domain.ErrWindowTooShort
	}
	return nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sends schedule transitions to p.
func WithPublisher(p domain.EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithMetrics records the blocking-schedule gauge.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine evaluates schedules and toggles their restrictions.
type Engine struct {
	state        domain.SharedState
	restrictions domain.RestrictionStore
	monitor      domain.ActivityMonitor
	ledger       domain.SessionLedger
	clock        domain.Clock
	events       domain.EventPublisher
	metrics      *metrics.Metrics
	logger       *zap.Logger

	mu sync.Mutex
}

// NewEngine creates a schedule engine.
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
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Get returns a schedule with its blocking flag filled in.
func (e *Engine) Get(id string) (domain.BlockSchedule, error) {
	var s domain.BlockSchedule
	ok, err := state.GetJSON(e.state, state.ScheduleDefKey(id), &s)
	if errors.Is(err, state.ErrCorrupt) {
		e.logger.Warn("ignoring corrupt schedule", zap.String("schedule", id), zap.Error(err))
		return domain.BlockSchedule{}, domain.ErrScheduleNotFound
	}
	if err != nil {
		return domain.BlockSchedule{}, err
	}
	if !ok {
		return domain.BlockSchedule{}, domain.ErrScheduleNotFound
	}
	s.IsCurrentlyBlocking = e.isBlocking(id)
	return s, nil
}

// List returns every schedule ordered by name.
func (e *Engine) List() ([]domain.BlockSchedule, error) {
	keys, err := e.state.Keys(state.PrefixScheduleDef)
	if err != nil {
		return nil, err
	}
	schedules := make([]domain.BlockSchedule, 0, len(keys))
	for _, k := range keys {
		s, err := e.Get(strings.TrimPrefix(k, state.PrefixScheduleDef))
		if errors.Is(err, domain.ErrScheduleNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	sort.SliceStable(schedules, func(i, j int) bool {
		if schedules[i].Name != schedules[j].Name {
			return schedules[i].Name < schedules[j].Name
		}
		return schedules[i].ID < schedules[j].ID
	})
	return schedules, nil
}

// Save creates or replaces a definition and arms or disarms it according to
// IsActive. Editing a strict schedule while it blocks is refused.
func (e *Engine) Save(ctx context.Context, s domain.BlockSchedule) (domain.BlockSchedule, error) {
	if err := Validate(s); err != nil {
		return domain.BlockSchedule{}, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev, err := e.Get(s.ID)
	exists := err == nil
	if err != nil && !errors.Is(err, domain.ErrScheduleNotFound) {
		return domain.BlockSchedule{}, err
	}
	if exists && prev.Strict && prev.IsCurrentlyBlocking {
		return domain.BlockSchedule{}, fmt.Errorf("failed to edit schedule %s: %w", s.ID, domain.ErrStrictRestriction)
	}

	if !s.IsActive {
		if exists {
			e.disarm(prev, false)
		}
		if err := e.writeDefinition(s); err != nil {
			return domain.BlockSchedule{}, err
		}
		s.IsCurrentlyBlocking = false
		return s, nil
	}

	if exists && prev.IsActive {
		e.disarm(prev, false)
	}
	armed, err := e.arm(s)
	if err != nil {
		if exists && prev.IsActive {
			if _, rerr := e.arm(prev); rerr != nil {
				e.logger.Error("failed to restore previous schedule", zap.String("schedule", s.ID), zap.Error(rerr))
			}
		}
		return domain.BlockSchedule{}, err
	}
	return armed, nil
}

// Activate enables a stored schedule. If now is inside its window the
// restriction applies immediately. Activating an active schedule re-arms it.
func (e *Engine) Activate(ctx context.Context, id string) (domain.BlockSchedule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.Get(id)
	if err != nil {
		return domain.BlockSchedule{}, err
	}
	return e.arm(s)
}

// Deactivate disables a schedule and lifts its restriction. A user may not
// deactivate a strict schedule while it is blocking.
func (e *Engine) Deactivate(ctx context.Context, id string, userInitiated bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.Get(id)
	if err != nil {
		return err
	}
	if userInitiated && s.Strict && s.IsCurrentlyBlocking {
		return fmt.Errorf("failed to deactivate schedule %s: %w", id, domain.ErrStrictRestriction)
	}

	e.disarm(s, false)
	s.IsActive = false
	if err := e.writeDefinition(s); err != nil {
		return err
	}
	e.publish(domain.Event{Kind: domain.EventScheduleDisabled, ScheduleID: id})
	e.logger.Info("schedule deactivated", zap.String("schedule", id), zap.Bool("user", userInitiated))
	return nil
}

// Delete deactivates and removes a schedule.
func (e *Engine) Delete(ctx context.Context, id string, userInitiated bool) error {
	if err := e.Deactivate(ctx, id, userInitiated); err != nil {
		return err
	}
	if err := state.RemoveAll(e.state, state.ScheduleDefKey(id), state.ScheduleBlockingKey(id)); err != nil {
		return fmt.Errorf("failed to delete schedule %s: %w", id, err)
	}
	e.logger.Info("schedule deleted", zap.String("schedule", id))
	return nil
}

// arm registers the recurring window, and the rest of today's window when
// now is inside it, then persists the definition and starts blocking. On a
// registration failure nothing is committed.
func (e *Engine) arm(s domain.BlockSchedule) (domain.BlockSchedule, error) {
	if err := Validate(s); err != nil {
		return domain.BlockSchedule{}, err
	}

	recurring := ActivityID(s.ID)
	if err := e.monitor.Register(recurring, domain.DailyWindow(s.Start, s.End, s.Days)); err != nil {
		return domain.BlockSchedule{}, fmt.Errorf("failed to activate schedule %s: %w", s.ID, err)
	}

	now := e.clock.Now()
	inWindow := IsScheduleActiveNow(s, now)
	if inWindow {
		if err := e.registerToday(s, now); err != nil {
			_ = e.monitor.Unregister(recurring)
			return domain.BlockSchedule{}, fmt.Errorf("failed to activate schedule %s: %w", s.ID, err)
		}
	}

	s.IsActive = true
	if err := e.writeDefinition(s); err != nil {
		_ = e.monitor.Unregister(recurring, TodayActivityID(s.ID))
		return domain.BlockSchedule{}, err
	}

	e.publish(domain.Event{Kind: domain.EventScheduleActivated, At: now, ScheduleID: s.ID})
	e.logger.Info("schedule activated",
		zap.String("schedule", s.ID),
		zap.String("name", s.Name),
		zap.Stringer("start", s.Start),
		zap.Stringer("end", s.End),
		zap.Bool("in_window", inWindow))

	if inWindow {
		e.startBlocking(s, now)
		s.IsCurrentlyBlocking = true
	}
	return s, nil
}

func (e *Engine) registerToday(s domain.BlockSchedule, now time.Time) error {
	from, until := domain.PadOneShot(now, domain.WindowEnd(s.Start, s.End, now))
	return e.monitor.Register(TodayActivityID(s.ID), domain.OneShot(from, until))
}

// disarm unregisters both monitor registrations and stops blocking.
func (e *Engine) disarm(s domain.BlockSchedule, completed bool) {
	if err := e.monitor.Unregister(ActivityID(s.ID), TodayActivityID(s.ID)); err != nil {
		e.logger.Warn("failed to unregister schedule", zap.String("schedule", s.ID), zap.Error(err))
	}
	e.stopBlocking(s.ID, completed, e.clock.Now())
}

func (e *Engine) startBlocking(s domain.BlockSchedule, at time.Time) {
	if err := e.restrictions.Apply(domain.ScheduleStore(s.ID), s.Targets, s.Strict); err != nil {
		e.logger.Warn("failed to apply schedule restriction", zap.String("schedule", s.ID), zap.Error(err))
	}

	active, err := e.ledger.GetActiveScheduleSession(s.ID)
	if err != nil {
		e.logger.Warn("failed to read schedule session", zap.String("schedule", s.ID), zap.Error(err))
	}
	if active == nil {
		if _, err := e.ledger.StartSessionAt(domain.SessionSchedule, s.ID, s.Targets, at); err != nil {
			e.logger.Warn("failed to start schedule session", zap.String("schedule", s.ID), zap.Error(err))
		}
	}

	if e.isBlocking(s.ID) {
		return
	}
	if err := state.SetBool(e.state, state.ScheduleBlockingKey(s.ID), true); err != nil {
		e.logger.Warn("failed to set blocking flag", zap.String("schedule", s.ID), zap.Error(err))
	}
	e.publish(domain.Event{Kind: domain.EventScheduleBlocking, At: at, ScheduleID: s.ID})
	e.logger.Info("schedule blocking", zap.String("schedule", s.ID))
}

func (e *Engine) stopBlocking(id string, completed bool, at time.Time) {
	if err := e.restrictions.Clear(domain.ScheduleStore(id)); err != nil {
		e.logger.Warn("failed to clear schedule restriction", zap.String("schedule", id), zap.Error(err))
	}

	active, err := e.ledger.GetActiveScheduleSession(id)
	if err != nil {
		e.logger.Warn("failed to read schedule session", zap.String("schedule", id), zap.Error(err))
	}
	if active != nil {
		if _, err := e.ledger.EndSessionAt(active.ID, completed, at); err != nil {
			e.logger.Warn("failed to end schedule session", zap.String("schedule", id), zap.Error(err))
		}
	}

	if !e.isBlocking(id) {
		return
	}
	if err := e.state.Remove(state.ScheduleBlockingKey(id)); err != nil {
		e.logger.Warn("failed to clear blocking flag", zap.String("schedule", id), zap.Error(err))
	}
	e.publish(domain.Event{Kind: domain.EventScheduleUnblocked, At: at, ScheduleID: id, Completed: completed})
	e.logger.Info("schedule unblocked", zap.String("schedule", id), zap.Bool("completed", completed))
}

func (e *Engine) isBlocking(id string) bool {
	b, err := state.GetBool(e.state, state.ScheduleBlockingKey(id))
	return err == nil && b
}

func (e *Engine) writeDefinition(s domain.BlockSchedule) error {
	s.IsCurrentlyBlocking = false
	if err := state.SetJSON(e.state, state.ScheduleDefKey(s.ID), s); err != nil {
		return fmt.Errorf("failed to save schedule %s: %w", s.ID, err)
	}
	return nil
}

func (e *Engine) publish(ev domain.Event) {
	if e.events == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.clock.Now()
	}
	ev.SessionType = domain.SessionSchedule
	e.events.Publish(ev)
}
