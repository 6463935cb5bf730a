package domain

import (
	"context"
	"time"
)

// SharedState is the key/value store both the controlling process and the
// monitor process read and write. It is the only channel between them.
// There are no transactions: every write is independent and last-write-wins.
// Implementations: JSON file with flock, SQLCipher database, in-memory map.
type SharedState interface {
	// Set stores value under key.
	Set(key string, value []byte) error

	// Get returns the value under key and whether it exists.
	Get(key string) ([]byte, bool, error)

	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error

	// Keys returns all keys starting with prefix, sorted.
	Keys(prefix string) ([]string, error)
}

// StoreName names an independent restriction domain.
type StoreName string

const (
	StoreManual       StoreName = "manual"
	StoreInterruption StoreName = "interruption"
	StorePomodoro     StoreName = "pomodoro"
)

const scheduleStorePrefix = "schedule."

// ScheduleStore returns the restriction store owned by one schedule.
func ScheduleStore(scheduleID string) StoreName {
	return StoreName(scheduleStorePrefix + scheduleID)
}

// ScheduleID returns the schedule id of a schedule store, or "" otherwise.
func (n StoreName) ScheduleID() string {
	s := string(n)
	if len(s) > len(scheduleStorePrefix) && s[:len(scheduleStorePrefix)] == scheduleStorePrefix {
		return s[len(scheduleStorePrefix):]
	}
	return ""
}

// RestrictionStore is the handle to the enforcement primitive.
// Applying to one store never affects another. Apply is idempotent.
type RestrictionStore interface {
	// Apply restricts targets in store. strict forbids user-initiated early removal.
	Apply(store StoreName, targets TargetSet, strict bool) error

	// Clear removes the restriction in store.
	Clear(store StoreName) error

	// Get returns the restriction in store, or nil.
	Get(store StoreName) (*Restriction, error)

	// All returns every applied restriction.
	All() ([]Restriction, error)
}

// ActivityMonitor is the scheduler that fires interval and threshold callbacks,
// possibly in another process.
type ActivityMonitor interface {
	// Register starts monitoring activityID. Re-registering replaces the
	// previous registration and resets its usage.
	Register(activityID string, schedule MonitorSchedule, thresholds ...ThresholdEvent) error

	// Unregister stops monitoring the given activities.
	Unregister(activityIDs ...string) error

	// Registrations returns every active registration.
	Registrations() ([]ActivityRegistration, error)
}

// MonitorHandler receives monitor callbacks. Implementations may only touch
// SharedState and RestrictionStore; no other in-memory state is live.
type MonitorHandler interface {
	OnIntervalStart(ctx context.Context, activityID string)
	OnIntervalEnd(ctx context.Context, activityID string)
	OnThresholdReached(ctx context.Context, eventID, activityID string)
}

// SessionLedger records blocking sessions and their aggregates.
type SessionLedger interface {
	// StartSession creates the active session for its slot, ending any
	// session already in that slot as interrupted.
	StartSession(kind SessionType, scheduleID string, targets TargetSet) (string, error)

	// StartSessionAt is StartSession with an explicit start time.
	StartSessionAt(kind SessionType, scheduleID string, targets TargetSet, at time.Time) (string, error)

	// EndSession finalizes a session now. It reports whether this call did the work.
	EndSession(id string, completed bool) (bool, error)

	// EndSessionAt finalizes a session at an explicit end time.
	EndSessionAt(id string, completed bool, at time.Time) (bool, error)

	// GetActiveSession returns the active session of a single-slot type, or nil.
	GetActiveSession(kind SessionType) (*BlockingSession, error)

	// GetActiveScheduleSession returns the active session of a schedule, or nil.
	GetActiveScheduleSession(scheduleID string) (*BlockingSession, error)

	// GetAllActive returns every active session.
	GetAllActive() ([]BlockingSession, error)
}

// Clock abstracts wall-clock time.
type Clock interface {
	Now() time.Time
}

// EventPublisher receives engine state transitions.
type EventPublisher interface {
	Publish(Event)
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// Enforcer turns applied restrictions into terminated processes.
type Enforcer interface {
	// Enforce runs every applied restriction once.
	Enforce(ctx context.Context) ([]EnforcementResult, error)

	// InUse reports whether any process of targets is running.
	InUse(targets TargetSet) bool
}

// LaunchAgentManager handles the launchd plist that keeps the monitor alive.
type LaunchAgentManager interface {
	// Install creates and loads the plist.
	Install(execPath string) error

	// Uninstall unloads and removes the plist.
	Uninstall() error

	// IsInstalled checks if the plist is installed.
	IsInstalled() bool

	// GetPlistPath returns the plist file path.
	GetPlistPath() string

	// NeedsUpdate checks if plist exists but has different content than expected.
	NeedsUpdate(execPath string) bool

	// Update unloads, updates plist content, and reloads.
	Update(execPath string) error
}

// KeyProvider abstracts the source of the state encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
