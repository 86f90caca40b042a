package infra

import (
	"os"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	runningPIDs map[int]bool
	procs       []domain.ProcessInfo
	listErr     error
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		runningPIDs: make(map[int]bool),
	}
}

func (m *mockProcessManager) ListProcesses() ([]domain.ProcessInfo, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]domain.ProcessInfo(nil), m.procs...), nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	return m.runningPIDs[pid]
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.runningPIDs[pid] = running
}

func (m *mockProcessManager) AddProcess(pid int, name string) {
	m.procs = append(m.procs, domain.ProcessInfo{PID: pid, Name: name})
}

func (m *mockProcessManager) FailList(err error) {
	m.listErr = err
}
