package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryKeyStore is an in-memory KeyStore for demo/development mode.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey // by ID
}

// NewMemoryKeyStore creates an empty in-memory key store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string]*APIKey)}
}

func (m *MemoryKeyStore) Create(_ context.Context, key *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *key
	m.keys[key.ID] = &cp
	return nil
}

func (m *MemoryKeyStore) GetByHash(_ context.Context, hash string) (*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.keys {
		if k.Hash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (m *MemoryKeyStore) GetByUser(_ context.Context, userID string) ([]*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*APIKey
	for _, k := range m.keys {
		if k.UserID == userID {
			cp := *k
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryKeyStore) Update(_ context.Context, key *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key.ID]; !ok {
		return ErrKeyNotFound
	}
	cp := *key
	m.keys[key.ID] = &cp
	return nil
}

// MemorySessionStore is an in-memory SessionStore for demo/development mode.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session // by token hash
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (m *MemorySessionStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.TokenHash] = &cp
	return nil
}

func (m *MemorySessionStore) GetByHash(_ context.Context, hash string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[hash]
	if !ok {
		return nil, ErrInvalidCredential
	}
	cp := *s
	return &cp, nil
}

func (m *MemorySessionStore) DeleteByHash(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, hash)
	return nil
}

func (m *MemorySessionStore) DeleteExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	removed := 0
	for hash, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, hash)
			removed++
		}
	}
	return removed, nil
}
