package domain

import "errors"

var (
	// ErrWindowTooShort is returned when a window is under MinimumMonitorInterval.
	ErrWindowTooShort = errors.New("window shorter than the 15 minute minimum")
	// ErrNoDays is returned for a repeating window with no weekdays.
	ErrNoDays = errors.New("no days of week selected")
	// ErrWindowInPast is returned when a one-shot window has already ended.
	ErrWindowInPast = errors.New("window has already ended")
	// ErrNoTargets is returned when nothing is selected for restriction.
	ErrNoTargets = errors.New("no apps or categories selected")
	// ErrStrictRestriction is returned when a user tries to unlock a strict restriction early.
	ErrStrictRestriction = errors.New("restriction is strict and cannot be unlocked early")
	// ErrScheduleNotFound is returned for an unknown schedule id.
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrCycleActive is returned when starting a focus cycle while one runs.
	ErrCycleActive = errors.New("focus cycle already active")
	// ErrNoActiveCycle is returned when there is no focus cycle to act on.
	ErrNoActiveCycle = errors.New("no active focus cycle")
	// ErrNotPaused is returned when resuming a cycle that is not paused.
	ErrNotPaused = errors.New("focus cycle is not paused")
	// ErrAlreadyPaused is returned when pausing a paused cycle.
	ErrAlreadyPaused = errors.New("focus cycle is already paused")
	// ErrInvalidDuration is returned for non-positive or too short durations.
	ErrInvalidDuration = errors.New("invalid duration")
)
