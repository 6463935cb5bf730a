package domain

import "time"

// EventKind names a state transition.
type EventKind string

const (
	EventSessionStarted    EventKind = "session.started"
	EventSessionEnded      EventKind = "session.ended"
	EventScheduleBlocking  EventKind = "schedule.blocking"
	EventScheduleUnblocked EventKind = "schedule.unblocked"
	EventScheduleActivated EventKind = "schedule.activated"
	EventScheduleDisabled  EventKind = "schedule.deactivated"
	EventPhaseStarted      EventKind = "focus.phase_started"
	EventPhaseEnded        EventKind = "focus.phase_ended"
	EventCyclePaused       EventKind = "focus.paused"
	EventCycleResumed      EventKind = "focus.resumed"
	EventCycleAwaiting     EventKind = "focus.awaiting_confirmation"
	EventCycleCompleted    EventKind = "focus.completed"
	EventCycleStopped      EventKind = "focus.stopped"
	EventManualStarted     EventKind = "manual.started"
	EventManualEnded       EventKind = "manual.ended"
	EventInterruption      EventKind = "interruption.triggered"
)

// Event is a push notification of an engine transition, consumed by the
// presentation layer.
type Event struct {
	Kind        EventKind
	At          time.Time
	SessionType SessionType
	SessionID   string
	ScheduleID  string
	Phase       FocusPhase
	Index       int
	Completed   bool
	Reason      string
}
