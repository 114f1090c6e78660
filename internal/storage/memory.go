package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"ledger/internal/session"
)

// MemoryStore keeps sessions and settlements in process memory. It backs
// local development and tests; everything is lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]session.Session
	settlements map[string]PendingSettlement
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]session.Session),
		settlements: make(map[string]PendingSettlement),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateSession(_ context.Context, s session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Token] = s
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, token string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, session.ErrInvalidSession
	}
	return &s, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *MemoryStore) ReplacePrincipal(_ context.Context, token string, p session.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return session.ErrInvalidSession
	}
	s.Principal = p
	m.sessions[token] = s
	return nil
}

func (m *MemoryStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for token, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, token)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) EnqueueSettlement(_ context.Context, s PendingSettlement) error {
	if s.Status == "" {
		s.Status = SettlementPending
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements[s.ID] = s
	return nil
}

func (m *MemoryStore) GetSettlement(_ context.Context, id string) (*PendingSettlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settlements[id]
	if !ok {
		return nil, ErrSettlementNotFound
	}
	return &s, nil
}

func (m *MemoryStore) DueSettlements(_ context.Context, now time.Time, limit int) ([]PendingSettlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []PendingSettlement
	for _, s := range m.settlements {
		if s.Status == SettlementPending && !s.NextAttemptAt.After(now) {
			due = append(due, s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) update(id string, fn func(*PendingSettlement) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settlements[id]
	if !ok || !fn(&s) {
		return ErrSettlementNotFound
	}
	m.settlements[id] = s
	return nil
}

func (m *MemoryStore) MarkSettlementDone(_ context.Context, id string, now time.Time) error {
	return m.update(id, func(s *PendingSettlement) bool {
		s.Status = SettlementDone
		s.UpdatedAt = now
		return true
	})
}

func (m *MemoryStore) RecordSettlementAttempt(_ context.Context, id, lastError string, next time.Time) error {
	return m.update(id, func(s *PendingSettlement) bool {
		if s.Status != SettlementPending {
			return false
		}
		s.Attempts++
		s.LastError = lastError
		s.NextAttemptAt = next
		s.UpdatedAt = time.Now()
		return true
	})
}

func (m *MemoryStore) MarkSettlementFailed(_ context.Context, id, lastError string, now time.Time) error {
	return m.update(id, func(s *PendingSettlement) bool {
		s.Status = SettlementFailed
		s.Attempts++
		s.LastError = lastError
		s.UpdatedAt = now
		return true
	})
}

func (m *MemoryStore) RetryFailedSettlements(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.settlements {
		if s.Status == SettlementFailed {
			s.Status = SettlementPending
			s.Attempts = 0
			s.NextAttemptAt = now
			s.UpdatedAt = now
			m.settlements[id] = s
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CleanupSettlements(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.settlements {
		if s.Status == SettlementDone && s.UpdatedAt.Before(before) {
			delete(m.settlements, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SettlementStats(_ context.Context) (SettlementStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st SettlementStats
	for _, s := range m.settlements {
		switch s.Status {
		case SettlementPending:
			st.Pending++
		case SettlementDone:
			st.Done++
		case SettlementFailed:
			st.Failed++
		}
	}
	return st, nil
}
