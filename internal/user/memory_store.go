package user

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cadogy/token-service/internal/idgen"
)

// MemoryStore is an in-memory user store for demo/development mode and tests.
type MemoryStore struct {
	users   map[string]*User
	byEmail map[string]string
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, taken := m.byEmail[email]; taken {
		return ErrEmailTaken
	}

	if u.ID == "" {
		u.ID = idgen.WithPrefix("usr_")
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	cp := *u
	m.users[u.ID] = &cp
	m.byEmail[email] = u.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *MemoryStore) GetBatch(_ context.Context, ids []string) (map[string]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			cp := *u
			result[id] = &cp
		}
	}
	return result, nil
}

func (m *MemoryStore) ListByRole(_ context.Context, role Role) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*User
	for _, u := range m.users {
		if u.Role == role {
			cp := *u
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) GetBalance(_ context.Context, id string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return 0, ErrNotFound
	}
	return u.TokenBalance, nil
}

func (m *MemoryStore) CompareAndSetBalance(_ context.Context, id string, expected, newValue int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return false, ErrNotFound
	}
	if u.TokenBalance != expected {
		return false, nil
	}
	u.TokenBalance = newValue
	u.UpdatedAt = time.Now()
	return true, nil
}
