package stash

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager keeps at most one live Session per party.
type Manager struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewManager creates a Manager.
func NewManager(deps Deps, opts Options) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Manager{
		deps:     deps,
		opts:     opts,
		logger:   deps.Logger,
		sessions: make(map[int64]*Session),
	}
}

// Get returns the party's session, opening it on first use.
func (m *Manager) Get(ctx context.Context, partyID int64) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[partyID]
	m.mu.Unlock()
	if ok {
		return s, nil
	}

	fresh, err := NewSession(ctx, partyID, m.deps, m.opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if s, ok := m.sessions[partyID]; ok {
		m.mu.Unlock()
		fresh.Close()
		return s, nil
	}
	m.sessions[partyID] = fresh
	m.mu.Unlock()
	m.logger.Info("stash session opened", zap.Int64("party_id", partyID))
	return fresh, nil
}

// Close tears down the party's session, if any.
func (m *Manager) Close(partyID int64) {
	m.mu.Lock()
	s, ok := m.sessions[partyID]
	delete(m.sessions, partyID)
	m.mu.Unlock()
	if ok {
		s.Close()
		m.logger.Info("stash session closed", zap.Int64("party_id", partyID))
	}
}

// CloseIdle closes sessions unused for longer than ttl and returns how many
// it closed.
func (m *Manager) CloseIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	var idle []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range idle {
		s.Close()
	}
	if len(idle) > 0 {
		m.logger.Info("idle stash sessions closed", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// ReconcileAll reloads every session. It covers notifications the pub/sub
// bus dropped.
func (m *Manager) ReconcileAll(ctx context.Context) {
	for _, s := range m.list() {
		if err := s.Refresh(ctx); err != nil && err != ErrClosed {
			m.logger.Warn("stash sweep reload failed", zap.Int64("party_id", s.PartyID()), zap.Error(err))
		}
	}
}

// Len is the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[int64]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

func (m *Manager) list() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
