package killer

import (
	"github.com/shirou/gopsutil/v3/process"

	"github.com/kernwatch/kernd/internal/domain"
)

// GopsutilTable implements domain.ProcessTable against the live OS
// process table.
type GopsutilTable struct{}

// NewProcessTable creates the OS-backed process table.
func NewProcessTable() *GopsutilTable {
	return &GopsutilTable{}
}

// Terminate sends SIGTERM to the process.
func (t *GopsutilTable) Terminate(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Terminate()
}

// Kill sends SIGKILL to the process.
func (t *GopsutilTable) Kill(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// Alive reports whether the PID exists and is running.
func (t *GopsutilTable) Alive(pid int32) bool {
	running, err := process.PidExists(pid)
	return err == nil && running
}

// FindByName returns PIDs of processes whose name matches exactly
// (case-sensitive).
func (t *GopsutilTable) FindByName(name string) ([]int32, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var found []int32
	for _, p := range procs {
		pname, err := p.Name()
		if err != nil {
			continue // process may have exited
		}
		if pname == name {
			found = append(found, p.Pid)
		}
	}
	return found, nil
}

// Ensure GopsutilTable implements domain.ProcessTable.
var _ domain.ProcessTable = (*GopsutilTable)(nil)
