// Package ledger tracks token balances and their audit trail.
//
// Flow:
//  1. A purchase completes (Stripe webhook) — the system credits tokens
//  2. An administrator adjusts a balance (add / deduct / set / bulk)
//  3. Every committed mutation appends one immutable transaction entry
//  4. Reconcile folds the entries and flags balances that drifted
//
// The service is the only code path allowed to write a balance. Writes go
// through the user store's compare-and-set primitive with a bounded retry
// loop, so concurrent admin and webhook writes to the same user serialize
// instead of losing updates.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrUserNotFound        = errors.New("ledger: user not found")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrConcurrencyConflict = errors.New("ledger: concurrent balance update, retries exhausted")
	ErrDuplicateOrder      = errors.New("ledger: order already credited")
)

// InsufficientBalanceError reports a debit that exceeds the current balance.
// It carries both sides so callers can render an actionable message.
type InsufficientBalanceError struct {
	Current   int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("ledger: insufficient balance: have %d, need %d", e.Current, e.Requested)
}

// Operation is the kind of balance mutation.
type Operation string

const (
	OpAdd      Operation = "add"
	OpDeduct   Operation = "deduct"
	OpSet      Operation = "set"
	OpMultiply Operation = "multiply" // bulk-only
)

// Valid reports whether op is a known single-user operation.
func (op Operation) Valid() bool {
	return op == OpAdd || op == OpDeduct || op == OpSet
}

// ValidBulk reports whether op may be used in a bulk run.
func (op Operation) ValidBulk() bool {
	return op == OpAdd || op == OpDeduct || op == OpSet || op == OpMultiply
}

// ActorType distinguishes who initiated a mutation.
type ActorType string

const (
	ActorAdmin  ActorType = "admin"
	ActorSystem ActorType = "system"
)

// Actor identifies the initiator of a mutation.
type Actor struct {
	ID   string    `json:"id"`
	Type ActorType `json:"type"`
}

// SystemActor is the identity recorded on webhook-driven credits.
var SystemActor = Actor{ID: "system", Type: ActorSystem}

// Entry is one immutable record of a committed balance mutation.
// NewBalance always equals PreviousBalance + Delta, and is never negative.
type Entry struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	ActorID         string    `json:"actorId"`
	ActorType       ActorType `json:"actorType"`
	Operation       Operation `json:"operation"`
	Delta           int64     `json:"delta"`
	PreviousBalance int64     `json:"previousBalance"`
	NewBalance      int64     `json:"newBalance"`
	Reason          string    `json:"reason"`
	OrderID         string    `json:"orderId,omitempty"` // external payment order, unique when set
	CreatedAt       time.Time `json:"createdAt"`
}

// QueryFilter narrows a history query.
type QueryFilter struct {
	UserID string // empty = all users
	Limit  int    // 0 = DefaultQueryLimit, capped at MaxQueryLimit
	Offset int
}

// Query limits.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 200
)

// Store durably appends and reads transaction entries. Entries are
// append-only: no implementation exposes update or delete.
type Store interface {
	// Append stores the entry, assigning ID and CreatedAt if unset.
	Append(ctx context.Context, e *Entry) error
	// Query returns entries most-recent-first plus the total match count.
	Query(ctx context.Context, f QueryFilter) ([]*Entry, int, error)
	// HasOrder reports whether an entry already carries this order id.
	HasOrder(ctx context.Context, orderID string) (bool, error)
}
