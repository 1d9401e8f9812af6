// Package killer implements the process-termination protocol: a polite
// signal, a bounded liveness wait, then a forceful kill. It also owns
// protected/critical classification and the append-only kill log.
package killer

import (
	"fmt"
	"time"

	"github.com/kernwatch/kernd/internal/domain"
)

const (
	// gracePeriod is the ceiling on the graceful liveness wait before
	// escalating to a forceful kill.
	gracePeriod = 5 * time.Second

	// pollInterval is how often liveness is checked during the wait.
	pollInterval = 100 * time.Millisecond
)

// criticalProcesses is the fixed safety floor: OS and session processes
// that are never termination targets, under any mode or profile.
var criticalProcesses = map[string]struct{}{
	"systemd":        {},
	"init":           {},
	"gnome-shell":    {},
	"Xwayland":       {},
	"X":              {},
	"Xvfb":           {},
	"dbus-daemon":    {},
	"bluetoothd":     {},
	"wpa_supplicant": {},
	"NetworkManager": {},
	"ModemManager":   {},
	"upowerd":        {},
	"systemd-logind": {},
	"login":          {},
	"sshd":           {},
	"sudo":           {},
}

// IsCritical reports whether name matches the fixed critical-process
// set. Exact, case-sensitive match.
func IsCritical(name string) bool {
	_, ok := criticalProcesses[name]
	return ok
}

// IsProtected reports whether name appears in the given protected list.
// Exact, case-sensitive match.
func IsProtected(name string, protected []string) bool {
	for _, p := range protected {
		if p == name {
			return true
		}
	}
	return false
}

// Killer implements domain.Terminator over a ProcessTable. The sleep
// hook exists so tests can run the escalation deterministically.
type Killer struct {
	table        domain.ProcessTable
	gracePeriod  time.Duration
	pollInterval time.Duration
	sleep        func(time.Duration)
}

// Option configures a Killer.
type Option func(*Killer)

// WithGracePeriod overrides the escalation ceiling (for tests).
func WithGracePeriod(d time.Duration) Option {
	return func(k *Killer) { k.gracePeriod = d }
}

// WithPollInterval overrides the liveness poll interval (for tests).
func WithPollInterval(d time.Duration) Option {
	return func(k *Killer) { k.pollInterval = d }
}

// WithSleep overrides the sleep function (for tests).
func WithSleep(fn func(time.Duration)) Option {
	return func(k *Killer) { k.sleep = fn }
}

// New creates a Killer over the given process table.
func New(table domain.ProcessTable, opts ...Option) *Killer {
	k := &Killer{
		table:        table,
		gracePeriod:  gracePeriod,
		pollInterval: pollInterval,
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Terminate attempts to stop the process. Graceful mode sends SIGTERM,
// polls liveness every pollInterval up to gracePeriod, then escalates
// to SIGKILL. A process that has already exited at any point is treated
// as success. Not cancellable once issued; the wait runs to completion
// or until the target exits.
func (k *Killer) Terminate(pid int32, graceful bool) error {
	if !graceful {
		if !k.table.Alive(pid) {
			return nil
		}
		if err := k.table.Kill(pid); err != nil {
			return fmt.Errorf("kill pid %d: %w", pid, err)
		}
		return nil
	}

	if !k.table.Alive(pid) {
		return nil
	}
	if err := k.table.Terminate(pid); err != nil {
		// The process may have exited between the liveness check and
		// the signal.
		if !k.table.Alive(pid) {
			return nil
		}
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}

	deadline := k.gracePeriod
	for waited := time.Duration(0); waited < deadline; waited += k.pollInterval {
		k.sleep(k.pollInterval)
		if !k.table.Alive(pid) {
			return nil
		}
	}

	if err := k.table.Kill(pid); err != nil {
		if !k.table.Alive(pid) {
			return nil
		}
		return fmt.Errorf("force kill pid %d: %w", pid, err)
	}
	return nil
}

// FindByName resolves live PIDs for an exact process name.
func (k *Killer) FindByName(name string) ([]int32, error) {
	return k.table.FindByName(name)
}

// Ensure Killer implements domain.Terminator.
var _ domain.Terminator = (*Killer)(nil)
