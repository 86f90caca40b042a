// Package infra implements infrastructure concerns (process, filesystem, registry, journal, bridge).
package infra

import (
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct {
	self int32
}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{self: int32(os.Getpid())}
}

// ListProcesses snapshots the process table. Processes that exit while
// being read are left out.
func (pm *ProcessManagerImpl) ListProcesses() ([]domain.ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	infos := make([]domain.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		if p.Pid == pm.self {
			continue
		}
		name, err := p.Name()
		if err != nil || name == "" {
			continue
		}
		infos = append(infos, domain.ProcessInfo{PID: int(p.Pid), Name: name})
	}
	return infos, nil
}

// IsRunning reports whether pid belongs to a live process.
// Used to tell a live guard from a stale status file.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}

// GetCurrentPID returns the guard's own PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return int(pm.self)
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
