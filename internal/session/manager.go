package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Manager errors.
var (
	ErrDuplicateID = errors.New("session: id already exists")
	ErrNotFound    = errors.New("session: not found")
)

// Manager tracks independent sessions by id.
type Manager struct {
	log  *slog.Logger
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager whose sessions share opts. If opts.Logger is
// nil, slog.Default() is used.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		log:      opts.Logger.With("component", "session-manager"),
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Create registers an idle session for cfg. An empty id is assigned a
// UUID. It fails with ErrDuplicateID if the id is taken.
func (m *Manager) Create(cfg Config) (*Session, error) {
	s := New(cfg, m.opts)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID()]; ok {
		m.log.Warn("session already exists, rejecting duplicate", "stream", s.ID())
		return nil, fmt.Errorf("create %q: %w", s.ID(), ErrDuplicateID)
	}
	m.sessions[s.ID()] = s
	m.log.Info("session created", "stream", s.ID(), "url", cfg.URL)
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Has reports whether a session with id exists.
func (m *Manager) Has(id string) bool {
	_, ok := m.Get(id)
	return ok
}

// List returns all sessions ordered by id.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Connected returns the sessions currently streaming.
func (m *Manager) Connected() []*Session {
	var out []*Session
	for _, s := range m.List() {
		if s.State() == StateStreaming {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Destroy disconnects and removes the session with id.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("destroy %q: %w", id, ErrNotFound)
	}
	s.Disconnect()
	m.log.Info("session removed", "stream", id)
	return nil
}

// DestroyAll disconnects and removes every session.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Disconnect()
		}(s)
	}
	wg.Wait()
	if len(all) > 0 {
		m.log.Info("all sessions removed", "count", len(all))
	}
}
