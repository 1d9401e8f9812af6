package domain

import "context"

// SnapshotProvider supplies fresh system load snapshots.
// Implementation: gopsutil. Tests inject synthetic snapshots.
type SnapshotProvider interface {
	// Snapshot returns a fresh Snapshot or a transient error.
	// Errors must never be fatal to the caller.
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// ProcessTable handles OS process signalling and lookup.
// Implementation: gopsutil. Tests use an in-memory fake.
type ProcessTable interface {
	// Terminate sends the polite termination signal (SIGTERM).
	Terminate(pid int32) error

	// Kill sends the forceful kill signal (SIGKILL).
	Kill(pid int32) error

	// Alive reports whether the PID exists and is running.
	Alive(pid int32) bool

	// FindByName returns PIDs of processes whose name matches exactly.
	FindByName(name string) ([]int32, error)
}

// Terminator runs the graceful-then-forced termination protocol.
type Terminator interface {
	// Terminate attempts to stop the process. In graceful mode it
	// escalates to a forced kill after the liveness wait expires.
	// A process that has already exited is success, not error.
	Terminate(pid int32, graceful bool) error

	// FindByName resolves live PIDs for an exact process name.
	FindByName(name string) ([]int32, error)
}

// KillRecorder appends termination attempts to the kill log.
// Write failures are swallowed; enforcement never depends on them.
type KillRecorder interface {
	Record(outcome TerminationOutcome)
}

// NotifyCategory routes an alert to its rate limiter.
type NotifyCategory string

const (
	NotifyKill      NotifyCategory = "kill"
	NotifyWarning   NotifyCategory = "warning"
	NotifyEmergency NotifyCategory = "emergency"
	NotifyProfile   NotifyCategory = "profile"
)

// Notifier delivers best-effort human-facing alerts. Never returns
// errors to the caller; delivery failures are swallowed.
type Notifier interface {
	Notify(category NotifyCategory, title, body string)
}

// PolicyStore provides access to named profiles. Exactly one profile is
// active at a time.
type PolicyStore interface {
	// Current returns the active profile.
	Current() Profile

	// CurrentName returns the active profile's name.
	CurrentName() string

	// Get returns a profile by name.
	Get(name string) (Profile, bool)

	// Switch atomically activates a different profile and persists the
	// selection. Returns ErrNotFound-style error listing valid names.
	Switch(name string) (Profile, error)

	// ListNames returns all profile names, sorted.
	ListNames() []string
}
