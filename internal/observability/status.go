package observability

import (
	"sync"
	"time"
)

// Phase mirrors the guidance phase shown on the live status line.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseInput      Phase = "INPUT"
	PhaseProcessing Phase = "PROCESSING"
	PhaseGuidance   Phase = "GUIDANCE"
)

// Status is the dashboard's view of the running session.
type Status struct {
	mu            sync.RWMutex
	phase         Phase
	activeTask    string
	polling       bool
	done, total   int
	lastHeartbeat time.Time
}

func NewStatus() *Status {
	return &Status{
		phase:         PhaseIdle,
		lastHeartbeat: time.Now(),
	}
}

// Set updates phase, active task label and polling flag.
func (s *Status) Set(phase Phase, task string, polling bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	s.activeTask = task
	s.polling = polling
}

// SetProgress records how many steps of the active task are completed.
func (s *Status) SetProgress(done, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done, s.total = done, total
}

// Progress returns completed and total steps.
func (s *Status) Progress() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done, s.total
}

// Get retrieves a copy of the status.
func (s *Status) Get() (Phase, string, bool, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase, s.activeTask, s.polling, s.lastHeartbeat
}

// Heartbeat updates the last heartbeat time.
func (s *Status) Heartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = time.Now()
}
