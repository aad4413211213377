// Package user holds account records and the authoritative token balance.
//
// The balance column is the single source of truth for what a user can
// spend. It is mutated exclusively through CompareAndSetBalance so that
// concurrent admin adjustments and webhook credits cannot lose updates; the
// ledger service owns the retry protocol around it.
package user

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound   = errors.New("user: not found")
	ErrEmailTaken = errors.New("user: email already registered")
)

// Role identifies the authorization tier of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents a platform account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	Role         Role      `json:"role"`
	TokenBalance int64     `json:"tokenBalance"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store persists user records.
type Store interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetBatch fetches the users for the given ids in one round trip.
	// Unknown ids are silently absent from the result.
	GetBatch(ctx context.Context, ids []string) (map[string]*User, error)
	ListByRole(ctx context.Context, role Role) ([]*User, error)
	List(ctx context.Context) ([]*User, error)

	// GetBalance returns the current token balance.
	// Returns ErrNotFound for an unknown user.
	GetBalance(ctx context.Context, id string) (int64, error)

	// CompareAndSetBalance sets the balance to newValue only if the stored
	// value still equals expected. Returns false (and no error) when another
	// writer got there first; callers re-read and retry.
	CompareAndSetBalance(ctx context.Context, id string, expected, newValue int64) (bool, error)
}
