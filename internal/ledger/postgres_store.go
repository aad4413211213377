package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cadogy/token-service/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
//
// token_transactions carries a unique partial index on order_id, so a
// duplicate webhook credit fails at the database even if two deliveries
// race past the HasOrder pre-check.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed entry store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = idgen.WithPrefix("txn_")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	var orderID sql.NullString
	if e.OrderID != "" {
		orderID = sql.NullString{String: e.OrderID, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO token_transactions
			(id, user_id, actor_id, actor_type, operation, delta, previous_balance, new_balance, reason, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.UserID, e.ActorID, e.ActorType, e.Operation, e.Delta,
		e.PreviousBalance, e.NewBalance, e.Reason, orderID, e.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) Query(ctx context.Context, f QueryFilter) ([]*Entry, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	var (
		total int
		rows  *sql.Rows
		err   error
	)

	if f.UserID != "" {
		if err = p.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM token_transactions WHERE user_id = $1`, f.UserID,
		).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, user_id, actor_id, actor_type, operation, delta, previous_balance, new_balance, reason, order_id, created_at
			FROM token_transactions
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2 OFFSET $3
		`, f.UserID, limit, f.Offset)
	} else {
		if err = p.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM token_transactions`,
		).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, user_id, actor_id, actor_type, operation, delta, previous_balance, new_balance, reason, order_id, created_at
			FROM token_transactions
			ORDER BY created_at DESC, id DESC
			LIMIT $1 OFFSET $2
		`, limit, f.Offset)
	}
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var orderID sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.ActorID, &e.ActorType, &e.Operation,
			&e.Delta, &e.PreviousBalance, &e.NewBalance, &e.Reason, &orderID, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.OrderID = orderID.String
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func (p *PostgresStore) HasOrder(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM token_transactions WHERE order_id = $1)
	`, orderID).Scan(&exists)
	return exists, err
}
