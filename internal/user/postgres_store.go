package user

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/cadogy/token-service/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
//
// CompareAndSetBalance relies on a guarded UPDATE: the WHERE clause carries
// the expected balance, so a concurrent writer makes the statement match
// zero rows instead of clobbering the newer value. The CHECK constraint on
// token_balance is the last line of defense against negative balances.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = idgen.WithPrefix("usr_")
	}
	if u.Role == "" {
		u.Role = RoleUser
	}

	err := p.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, display_name, role, token_balance, created_at, updated_at)
		VALUES ($1, LOWER($2), $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`, u.ID, u.Email, u.DisplayName, u.Role, u.TokenBalance).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, role, token_balance, created_at, updated_at
		FROM users WHERE id = $1
	`, id))
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, role, token_balance, created_at, updated_at
		FROM users WHERE email = LOWER($1)
	`, email))
}

func (p *PostgresStore) GetBatch(ctx context.Context, ids []string) (map[string]*User, error) {
	if len(ids) == 0 {
		return map[string]*User{}, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, email, display_name, role, token_balance, created_at, updated_at
		FROM users WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]*User, len(ids))
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.TokenBalance, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		result[u.ID] = u
	}
	return result, rows.Err()
}

func (p *PostgresStore) ListByRole(ctx context.Context, role Role) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, email, display_name, role, token_balance, created_at, updated_at
		FROM users WHERE role = $1 ORDER BY created_at
	`, role)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.TokenBalance, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (p *PostgresStore) List(ctx context.Context) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, email, display_name, role, token_balance, created_at, updated_at
		FROM users ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.TokenBalance, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (p *PostgresStore) GetBalance(ctx context.Context, id string) (int64, error) {
	var balance int64
	err := p.db.QueryRowContext(ctx, `
		SELECT token_balance FROM users WHERE id = $1
	`, id).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (p *PostgresStore) CompareAndSetBalance(ctx context.Context, id string, expected, newValue int64) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE users SET token_balance = $3, updated_at = NOW()
		WHERE id = $1 AND token_balance = $2
	`, id, expected, newValue)
	if err != nil {
		return false, fmt.Errorf("cas balance: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 1 {
		return true, nil
	}

	// Zero rows: either the expected value is stale or the user is gone.
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (p *PostgresStore) scanOne(row *sql.Row) (*User, error) {
	u := &User{}
	var email string
	err := row.Scan(&u.ID, &email, &u.DisplayName, &u.Role, &u.TokenBalance, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Email = strings.ToLower(email)
	return u, nil
}
