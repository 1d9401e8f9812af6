package killer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTable is an in-memory process table double.
type fakeTable struct {
	alive        map[int32]bool
	termErr      error
	killErr      error
	termSignals  []int32
	killSignals  []int32
	dieOnTerm    map[int32]bool // process exits when SIGTERM arrives
	dieAfterPoll map[int32]int  // process exits after N liveness polls
	polls        map[int32]int
	names        map[string][]int32
}

func newFakeTable() *fakeTable {
	return &fakeTable{
		alive:        map[int32]bool{},
		dieOnTerm:    map[int32]bool{},
		dieAfterPoll: map[int32]int{},
		polls:        map[int32]int{},
		names:        map[string][]int32{},
	}
}

func (f *fakeTable) Terminate(pid int32) error {
	f.termSignals = append(f.termSignals, pid)
	if f.termErr != nil {
		return f.termErr
	}
	if f.dieOnTerm[pid] {
		f.alive[pid] = false
	}
	return nil
}

func (f *fakeTable) Kill(pid int32) error {
	f.killSignals = append(f.killSignals, pid)
	if f.killErr != nil {
		return f.killErr
	}
	f.alive[pid] = false
	return nil
}

func (f *fakeTable) Alive(pid int32) bool {
	if n, ok := f.dieAfterPoll[pid]; ok {
		f.polls[pid]++
		if f.polls[pid] > n {
			f.alive[pid] = false
		}
	}
	return f.alive[pid]
}

func (f *fakeTable) FindByName(name string) ([]int32, error) {
	return f.names[name], nil
}

func TestTerminate_Graceful_ProcessExitsOnSigterm(t *testing.T) {
	table := newFakeTable()
	table.alive[100] = true
	table.dieOnTerm[100] = true

	k := New(table, WithSleep(func(time.Duration) {}))

	require.NoError(t, k.Terminate(100, true))
	assert.Equal(t, []int32{100}, table.termSignals)
	assert.Empty(t, table.killSignals, "no escalation when the process exits politely")
}

func TestTerminate_Graceful_EscalatesAfterCeiling(t *testing.T) {
	table := newFakeTable()
	table.alive[100] = true // never exits on SIGTERM

	var slept time.Duration
	k := New(table, WithSleep(func(d time.Duration) { slept += d }))

	require.NoError(t, k.Terminate(100, true))

	// Exactly one forceful signal, no earlier than the 5 second ceiling
	// after the graceful one.
	require.Equal(t, []int32{100}, table.termSignals)
	require.Equal(t, []int32{100}, table.killSignals)
	assert.GreaterOrEqual(t, slept, 5*time.Second)
	assert.False(t, table.alive[100])
}

func TestTerminate_Graceful_ExitsMidWait(t *testing.T) {
	table := newFakeTable()
	table.alive[100] = true
	table.dieAfterPoll[100] = 3

	var slept time.Duration
	k := New(table, WithSleep(func(d time.Duration) { slept += d }))

	require.NoError(t, k.Terminate(100, true))
	assert.Empty(t, table.killSignals)
	assert.Less(t, slept, 5*time.Second)
}

func TestTerminate_AlreadyExited_IsSuccess(t *testing.T) {
	table := newFakeTable()
	// PID 100 not alive at all.

	k := New(table, WithSleep(func(time.Duration) {}))

	require.NoError(t, k.Terminate(100, true))
	require.NoError(t, k.Terminate(100, false))
	assert.Empty(t, table.termSignals)
	assert.Empty(t, table.killSignals)
}

func TestTerminate_Forced_KillsImmediately(t *testing.T) {
	table := newFakeTable()
	table.alive[100] = true

	var slept time.Duration
	k := New(table, WithSleep(func(d time.Duration) { slept += d }))

	require.NoError(t, k.Terminate(100, false))
	assert.Empty(t, table.termSignals)
	assert.Equal(t, []int32{100}, table.killSignals)
	assert.Zero(t, slept)
}

func TestTerminate_ForcedKillError_Surfaced(t *testing.T) {
	table := newFakeTable()
	table.alive[100] = true
	table.killErr = errors.New("operation not permitted")

	k := New(table, WithSleep(func(time.Duration) {}))

	err := k.Terminate(100, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "100")
}

func TestIsCritical(t *testing.T) {
	assert.True(t, IsCritical("systemd"))
	assert.True(t, IsCritical("gnome-shell"))
	assert.True(t, IsCritical("dbus-daemon"))
	assert.True(t, IsCritical("sshd"))
	assert.False(t, IsCritical("firefox"))
	assert.False(t, IsCritical("code"))
	// Exact match only.
	assert.False(t, IsCritical("Systemd"))
	assert.False(t, IsCritical("sshd "))
}

func TestIsProtected(t *testing.T) {
	protected := []string{"bash", "zsh", "firefox"}

	assert.True(t, IsProtected("bash", protected))
	assert.True(t, IsProtected("firefox", protected))
	assert.False(t, IsProtected("chrome", protected))
	// Case-sensitive.
	assert.False(t, IsProtected("Bash", protected))
	assert.False(t, IsProtected("bash", nil))
}

func TestFindByName_PassesThrough(t *testing.T) {
	table := newFakeTable()
	table.names["slack"] = []int32{500, 501}

	k := New(table)
	pids, err := k.FindByName("slack")
	require.NoError(t, err)
	assert.Equal(t, []int32{500, 501}, pids)
}
