package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/cadogy/token-service/internal/idgen"
)

// MemoryStore is an in-memory entry store for demo/development mode.
type MemoryStore struct {
	entries []*Entry
	orders  map[string]bool
	mu      sync.RWMutex

	appendErr error // test hook: force Append failures
}

// NewMemoryStore creates an empty in-memory entry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]bool)}
}

// FailAppends makes every subsequent Append return err (nil restores normal
// behavior). Used to exercise the append-after-commit reconciliation path.
func (m *MemoryStore) FailAppends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
}

func (m *MemoryStore) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendErr != nil {
		return m.appendErr
	}
	if e.OrderID != "" && m.orders[e.OrderID] {
		return ErrDuplicateOrder
	}

	if e.ID == "" {
		e.ID = idgen.WithPrefix("txn_")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	cp := *e
	m.entries = append(m.entries, &cp)
	if e.OrderID != "" {
		m.orders[e.OrderID] = true
	}
	return nil
}

func (m *MemoryStore) Query(_ context.Context, f QueryFilter) ([]*Entry, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	result := make([]*Entry, len(matched))
	for i, e := range matched {
		cp := *e
		result[i] = &cp
	}
	return result, total, nil
}

func (m *MemoryStore) HasOrder(_ context.Context, orderID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orders[orderID], nil
}
