package scheduler

import (
	"sync"
	"time"

	"github.com/agent-lens/backend/internal/model"
)

// JobState - job별 상태 (IDLE → DUE → RUNNING → IDLE)
type JobState string

const (
	JobIdle    JobState = "IDLE"
	JobDue     JobState = "DUE"
	JobRunning JobState = "RUNNING"
)

// JobStateStore - job별 마지막 실행 시각 저장소
type JobStateStore interface {
	Get(job model.DetectionMechanism) (time.Time, bool)
	Set(job model.DetectionMechanism, at time.Time)
}

// MemoryJobState - 프로세스 수명 동안 유지되는 last_run 저장소
type MemoryJobState struct {
	mu      sync.RWMutex
	lastRun map[model.DetectionMechanism]time.Time
}

func NewMemoryJobState() *MemoryJobState {
	return &MemoryJobState{lastRun: make(map[model.DetectionMechanism]time.Time)}
}

func (m *MemoryJobState) Get(job model.DetectionMechanism) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.lastRun[job]
	return t, ok
}

func (m *MemoryJobState) Set(job model.DetectionMechanism, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRun[job] = at
}
