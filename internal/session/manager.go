package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Manager owns every camera session in the daemon and fans control and
// status queries out to them.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Add registers a session; duplicate camera IDs are rejected.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.Camera()]; ok {
		return fmt.Errorf("duplicate camera %q", s.Camera())
	}
	m.sessions[s.Camera()] = s
	return nil
}

// Run executes all sessions until ctx is cancelled and every session has
// stopped. The returned error joins the fatal errors, if any.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	errs := make([]error, len(sessions))
	for i, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Run(ctx)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Statuses returns a snapshot for every session, ordered by camera ID.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Camera < out[j].Camera })
	return out
}

// Status returns the snapshot for one camera.
func (m *Manager) Status(camera string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[camera]
	if !ok {
		return Status{}, false
	}
	return s.Status(), true
}

// Control routes a command to one camera's session.
func (m *Manager) Control(camera string, cmd Command) error {
	m.mu.RLock()
	s, ok := m.sessions[camera]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown camera %q", camera)
	}
	return s.Control(cmd)
}
