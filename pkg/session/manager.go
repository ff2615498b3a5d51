package session

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pajohmail/aden-hive/pkg/bus"
)

// Manager is the process-wide registry of live Sessions (spec.md §4.7,
// §6). It owns the root EventBus every session's bus is scoped from and
// the Deps every session's queen/worker are built with. Grounded on the
// teacher's ConnectionManager (pkg/events/manager.go), which plays the
// same role for its per-connection objects: a map guarded by a mutex,
// create/get/remove, and a shared root dependency set.
type Manager struct {
	deps Deps
	bus  *bus.Bus
	dir  Directory

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Directory is the durable session index a Manager reports lifecycle
// transitions to (pkg/registry.SessionDirectory implements it). Kept as a
// narrow interface here so pkg/session never imports pkg/registry or its
// database driver — the dependency points inward, not outward.
type Directory interface {
	Created(ctx context.Context, sessionID string)
	Removed(ctx context.Context, sessionID string)
}

// SetDirectory wires a durable Directory. Best-effort and optional: a nil
// or never-set Directory simply means lifecycle events aren't recorded
// durably, never a reason to fail a live session operation.
func (m *Manager) SetDirectory(dir Directory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dir = dir
}

// Bus returns the Manager's root EventBus, which every session's bus is
// scoped from (pkg/metrics observes it directly).
func (m *Manager) Bus() *bus.Bus { return m.bus }

// NewManager builds a Manager. The returned Manager's root bus is used
// only to derive each session's scoped child bus (Session.Bus); nothing
// is published on it directly.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:     deps,
		bus:      bus.New(),
		sessions: make(map[string]*Session),
	}
}

// CreateSession creates a new session under id, starting its queen
// immediately. If id is "" a uuid is generated. Returns ErrSessionExists
// if id is already taken (spec.md §6: 409 Conflict).
func (m *Manager) CreateSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return nil, ErrSessionExists
	}

	s := newSession(ctx, id, m.bus, m.deps)
	m.sessions[id] = s
	if m.dir != nil {
		m.dir.Created(ctx, id)
	}
	return s, nil
}

// Get returns the session named id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns every live session, newest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// StopSession tears down session id's queen and worker and removes it
// from the registry. Idempotent: removing an already-removed id is a
// no-op, not an error, matching the teacher's connection-cleanup style
// (pkg/cleanup/service.go tolerates double-cleanup of the same id).
func (m *Manager) StopSession(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	dir := m.dir
	m.mu.Unlock()
	if !ok {
		return
	}
	s.stop()
	if dir != nil {
		dir.Removed(context.Background(), id)
	}
}

// Shutdown stops every live session. Intended for process shutdown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.stop()
	}
}
