package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store. It is the default provider and the degraded
// fallback when no external store is configured: call-flow outcomes must
// never depend on persistence being durable.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*CallSession)}
}

// Create persists a new session.
func (m *Memory) Create(_ context.Context, sess *CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *sess
	m.sessions[sess.CallID] = &cp
	return nil
}

// FindByCallID returns a copy of the session for a call SID.
func (m *Memory) FindByCallID(_ context.Context, callID string) (*CallSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[callID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

// Update applies a partial update to an existing session.
func (m *Memory) Update(_ context.Context, callID string, fields Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[callID]
	if !ok {
		return ErrNotFound
	}
	fields.apply(sess, time.Now().UTC())
	return nil
}

// List returns a page of sessions, newest first, and the total count.
func (m *Memory) List(_ context.Context, page, limit int) ([]*CallSession, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	all := make([]*CallSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		cp := *sess
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return []*CallSession{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}
