// Package ledger records blocking sessions and derives daily, hourly and
// lifetime statistics from them. Everything lives in shared state so the
// controlling process and the monitor process see the same ledger.
package ledger

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/metrics"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
)

const (
	// maxSessionDays bounds how many earlier days are rescanned when
	// rebuilding one day's hourly buckets.
	maxSessionDays = 3

	markerRetention = 7 * 24 * time.Hour
)

// endMarker is persisted before a session is appended, so a second caller
// (in either process) sees the session as already finalized. Lifetime is
// set once the duration has been folded into the lifetime total.
type endMarker struct {
	EndedAt   time.Time `json:"ended_at"`
	Completed bool      `json:"completed"`
	Lifetime  bool      `json:"lifetime,omitempty"`
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPublisher sends session start/end events to p.
func WithPublisher(p domain.EventPublisher) Option {
	return func(l *Ledger) { l.events = p }
}

// WithMetrics records session metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// Ledger implements domain.SessionLedger on shared state.
type Ledger struct {
	state   domain.SharedState
	clock   domain.Clock
	logger  *zap.Logger
	events  domain.EventPublisher
	metrics *metrics.Metrics

	mu     sync.Mutex
	ending map[string]bool
}

// New creates a ledger.
func New(st domain.SharedState, clock domain.Clock, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		state:  st,
		clock:  clock,
		logger: logger,
		ending: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StartSession starts a session now.
func (l *Ledger) StartSession(kind domain.SessionType, scheduleID string, targets domain.TargetSet) (string, error) {
	return l.StartSessionAt(kind, scheduleID, targets, l.clock.Now())
}

// StartSessionAt persists a new active session in its slot. A session still
// occupying the slot is ended as interrupted first.
func (l *Ledger) StartSessionAt(kind domain.SessionType, scheduleID string, targets domain.TargetSet, at time.Time) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown session type %q", kind)
	}
	if kind == domain.SessionSchedule && scheduleID == "" {
		return "", fmt.Errorf("schedule session without schedule id")
	}
	if kind != domain.SessionSchedule {
		scheduleID = ""
	}

	slot := state.ActiveSessionKey(kind, scheduleID)
	if prev := l.readActive(slot); prev != nil {
		l.logger.Info("replacing active session",
			zap.String("type", string(kind)),
			zap.String("session", prev.ID))
		if _, err := l.EndSessionAt(prev.ID, false, at); err != nil {
			return "", fmt.Errorf("failed to end previous session: %w", err)
		}
	}

	session := domain.BlockingSession{
		ID:         uuid.NewString(),
		Type:       kind,
		ScheduleID: scheduleID,
		StartTime:  at,
		Targets:    targets,
	}
	if err := state.SetJSON(l.state, slot, session); err != nil {
		return "", fmt.Errorf("failed to persist session: %w", err)
	}
	if err := state.SetBool(l.state, state.KeyBlockActive, true); err != nil {
		l.logger.Warn("failed to set blocking flag", zap.Error(err))
	}

	l.metrics.RecordSessionStarted(string(kind))
	l.publish(domain.Event{
		Kind:        domain.EventSessionStarted,
		At:          at,
		SessionType: kind,
		SessionID:   session.ID,
		ScheduleID:  scheduleID,
	})
	l.logger.Info("session started",
		zap.String("session", session.ID),
		zap.String("type", string(kind)),
		zap.String("schedule", scheduleID))
	return session.ID, nil
}

// EndSession ends a session now.
func (l *Ledger) EndSession(id string, completed bool) (bool, error) {
	return l.EndSessionAt(id, completed, l.clock.Now())
}

// EndSessionAt finalizes the session with the given id at at. It is safe to
// call repeatedly and from both processes: only the first call appends the
// session and updates the aggregates; later calls report false.
func (l *Ledger) EndSessionAt(id string, completed bool, at time.Time) (bool, error) {
	if id == "" {
		return false, nil
	}

	l.mu.Lock()
	if l.ending[id] {
		l.mu.Unlock()
		return false, nil
	}
	l.ending[id] = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.ending, id)
		l.mu.Unlock()
	}()

	slot, session := l.findActive(id)

	var marker endMarker
	marked, err := state.GetJSON(l.state, state.EndedMarkerKey(id), &marker)
	if err != nil && !errors.Is(err, state.ErrCorrupt) {
		return false, err
	}
	if marked {
		if session != nil {
			// A previous finalization stopped after writing the marker.
			l.logger.Warn("completing interrupted finalization", zap.String("session", id))
			l.finalize(slot, *session, marker)
		}
		return false, nil
	}
	if session == nil {
		return false, nil
	}

	if at.Before(session.StartTime) {
		at = session.StartTime
	}
	marker = endMarker{EndedAt: at, Completed: completed}
	if err := state.SetJSON(l.state, state.EndedMarkerKey(id), marker); err != nil {
		return false, fmt.Errorf("failed to mark session ended: %w", err)
	}

	ended := l.finalize(slot, *session, marker)
	if !ended {
		return false, nil
	}

	l.metrics.RecordSessionEnded(string(session.Type), completed, at.Sub(session.StartTime))
	l.publish(domain.Event{
		Kind:        domain.EventSessionEnded,
		At:          at,
		SessionType: session.Type,
		SessionID:   id,
		ScheduleID:  session.ScheduleID,
		Completed:   completed,
	})
	l.logger.Info("session ended",
		zap.String("session", id),
		zap.String("type", string(session.Type)),
		zap.Bool("completed", completed),
		zap.Duration("duration", at.Sub(session.StartTime)))

	l.pruneMarkers(at)
	return true, nil
}

// finalize appends the session, folds it into the aggregates and frees its
// slot. Each step tolerates having run before. It reports whether the
// session was appended by this call.
func (l *Ledger) finalize(slot string, session domain.BlockingSession, marker endMarker) bool {
	end := marker.EndedAt
	session.EndTime = &end
	session.Completed = marker.Completed

	appended, err := l.appendSession(session)
	if err != nil {
		l.logger.Error("failed to append session", zap.String("session", session.ID), zap.Error(err))
		return false
	}

	days, truncated := daysTouched(session.StartTime, end)
	if truncated {
		l.logger.Warn("session spans more days than hourly buckets cover",
			zap.String("session", session.ID),
			zap.Time("start", session.StartTime),
			zap.Time("end", end),
			zap.Int("days_covered", len(days)))
	}
	for _, day := range days {
		if err := l.rebuildHourly(day, session.StartTime.Location()); err != nil {
			l.logger.Warn("failed to rebuild hourly buckets", zap.String("day", day), zap.Error(err))
		}
	}

	if !marker.Lifetime {
		if err := l.addLifetime(session.Duration(end)); err != nil {
			l.logger.Warn("failed to update lifetime total", zap.Error(err))
		} else {
			marker.Lifetime = true
			if err := state.SetJSON(l.state, state.EndedMarkerKey(session.ID), marker); err != nil {
				l.logger.Warn("failed to mark lifetime folded", zap.String("session", session.ID), zap.Error(err))
			}
		}
	}

	if err := l.state.Remove(slot); err != nil {
		l.logger.Warn("failed to clear active session", zap.String("session", session.ID), zap.Error(err))
	}
	l.refreshBlockingFlag()
	return appended
}

func (l *Ledger) appendSession(session domain.BlockingSession) (bool, error) {
	key := state.DaySessionsKey(state.Day(session.StartTime))
	sessions := l.readSessions(key)
	if slices.ContainsFunc(sessions, func(s domain.BlockingSession) bool { return s.ID == session.ID }) {
		return false, nil
	}
	sessions = append(sessions, session)
	if err := state.SetJSON(l.state, key, sessions); err != nil {
		return false, err
	}
	return true, nil
}

// rebuildHourly recomputes one day's buckets from the ended sessions that
// started on that day or shortly before it.
func (l *Ledger) rebuildHourly(day string, loc *time.Location) error {
	date, err := state.ParseDay(day, loc)
	if err != nil {
		return err
	}

	var buckets domain.HourlyBuckets
	d := noon(date)
	for i := 0; i < maxSessionDays; i++ {
		for _, s := range l.readSessions(state.DaySessionsKey(state.Day(d))) {
			if s.EndTime == nil {
				continue
			}
			if b, ok := Allocate(s.StartTime, *s.EndTime)[day]; ok {
				for h := range buckets {
					buckets[h] += b[h]
				}
			}
		}
		d = d.AddDate(0, 0, -1)
	}
	return state.SetJSON(l.state, state.DayHourlyKey(day), buckets)
}

func (l *Ledger) addLifetime(d time.Duration) error {
	total, err := state.GetInt64(l.state, state.KeyLifetime)
	if err != nil && !errors.Is(err, state.ErrCorrupt) {
		return err
	}
	return state.SetInt64(l.state, state.KeyLifetime, total+int64(d/time.Second))
}

func (l *Ledger) refreshBlockingFlag() {
	active, err := l.GetAllActive()
	if err != nil {
		return
	}
	if len(active) > 0 {
		return
	}
	if err := l.state.Remove(state.KeyBlockActive); err != nil {
		l.logger.Warn("failed to clear blocking flag", zap.Error(err))
	}
}

func (l *Ledger) pruneMarkers(now time.Time) {
	keys, err := l.state.Keys(state.PrefixEndedMarker)
	if err != nil {
		return
	}
	for _, k := range keys {
		var m endMarker
		ok, err := state.GetJSON(l.state, k, &m)
		if errors.Is(err, state.ErrCorrupt) || (ok && now.Sub(m.EndedAt) > markerRetention) {
			_ = l.state.Remove(k)
		}
	}
}

// GetActiveSession returns the active session of a manual, interruption or
// pomodoroFocus slot.
func (l *Ledger) GetActiveSession(kind domain.SessionType) (*domain.BlockingSession, error) {
	return l.readActive(state.ActiveSessionKey(kind, "")), nil
}

// GetActiveScheduleSession returns the active session of one schedule.
func (l *Ledger) GetActiveScheduleSession(scheduleID string) (*domain.BlockingSession, error) {
	return l.readActive(state.ActiveSessionKey(domain.SessionSchedule, scheduleID)), nil
}

// GetAllActive returns every active session.
func (l *Ledger) GetAllActive() ([]domain.BlockingSession, error) {
	keys, err := l.state.Keys(state.PrefixActiveSession)
	if err != nil {
		return nil, err
	}
	active := make([]domain.BlockingSession, 0, len(keys))
	for _, k := range keys {
		if s := l.readActive(k); s != nil {
			active = append(active, *s)
		}
	}
	return active, nil
}

// readActive decodes a slot. Corrupt records are dropped and read as no session.
func (l *Ledger) readActive(slot string) *domain.BlockingSession {
	var s domain.BlockingSession
	ok, err := state.GetJSON(l.state, slot, &s)
	if errors.Is(err, state.ErrCorrupt) {
		l.logger.Warn("dropping corrupt active session", zap.String("key", slot), zap.Error(err))
		_ = l.state.Remove(slot)
		return nil
	}
	if err != nil {
		l.logger.Warn("failed to read active session", zap.String("key", slot), zap.Error(err))
		return nil
	}
	if !ok || s.ID == "" {
		return nil
	}
	return &s
}

func (l *Ledger) findActive(id string) (string, *domain.BlockingSession) {
	keys, err := l.state.Keys(state.PrefixActiveSession)
	if err != nil {
		return "", nil
	}
	for _, k := range keys {
		if s := l.readActive(k); s != nil && s.ID == id {
			return k, s
		}
	}
	return "", nil
}

func (l *Ledger) readSessions(key string) []domain.BlockingSession {
	var sessions []domain.BlockingSession
	if _, err := state.GetJSON(l.state, key, &sessions); err != nil {
		l.logger.Warn("ignoring unreadable session list", zap.String("key", key), zap.Error(err))
		return nil
	}
	return sessions
}

func (l *Ledger) publish(e domain.Event) {
	if l.events != nil {
		l.events.Publish(e)
	}
}

// Ensure Ledger implements domain.SessionLedger.
var _ domain.SessionLedger = (*Ledger)(nil)
