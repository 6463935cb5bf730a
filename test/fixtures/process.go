package fixtures

import (
	"strings"
	"sync"
)

// FakeProcessManager is an in-memory domain.ProcessManager.
type FakeProcessManager struct {
	mu      sync.Mutex
	procs   map[int]string
	killed  []int
	selfPID int
}

// NewFakeProcessManager creates a process table with no processes.
func NewFakeProcessManager() *FakeProcessManager {
	return &FakeProcessManager{procs: make(map[int]string), selfPID: 1}
}

// Spawn adds a running process.
func (m *FakeProcessManager) Spawn(pid int, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs[pid] = name
}

// Killed returns the PIDs killed so far.
func (m *FakeProcessManager) Killed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.killed...)
}

func (m *FakeProcessManager) FindByName(pattern string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pids []int
	for pid, name := range m.procs {
		if strings.Contains(strings.ToLower(name), strings.ToLower(pattern)) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func (m *FakeProcessManager) Kill(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.procs, pid)
	m.killed = append(m.killed, pid)
	return nil
}

func (m *FakeProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.procs[pid]
	return ok
}

func (m *FakeProcessManager) GetCurrentPID() int {
	return m.selfPID
}
