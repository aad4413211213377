package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresKeyStore implements KeyStore with PostgreSQL.
type PostgresKeyStore struct {
	db *sql.DB
}

// NewPostgresKeyStore creates a PostgreSQL-backed key store.
func NewPostgresKeyStore(db *sql.DB) *PostgresKeyStore {
	return &PostgresKeyStore{db: db}
}

func (p *PostgresKeyStore) Create(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, hash, user_id, name, created_at, last_used, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, key.ID, key.Hash, key.UserID, key.Name, key.CreatedAt,
		nullTime(key.LastUsed), key.ExpiresAt, key.Revoked)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (p *PostgresKeyStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, hash, user_id, name, created_at, last_used, expires_at, revoked
		FROM api_keys WHERE hash = $1
	`, hash))
}

func (p *PostgresKeyStore) GetByUser(ctx context.Context, userID string) ([]*APIKey, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, hash, user_id, name, created_at, last_used, expires_at, revoked
		FROM api_keys WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	return result, rows.Err()
}

func (p *PostgresKeyStore) Update(ctx context.Context, key *APIKey) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used = $2, revoked = $3 WHERE id = $1
	`, key.ID, nullTime(key.LastUsed), key.Revoked)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (p *PostgresKeyStore) scanOne(row *sql.Row) (*APIKey, error) {
	k := &APIKey{}
	var lastUsed sql.NullTime
	err := row.Scan(&k.ID, &k.Hash, &k.UserID, &k.Name, &k.CreatedAt, &lastUsed, &k.ExpiresAt, &k.Revoked)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	k.LastUsed = lastUsed.Time
	return k, nil
}

func scanKey(rows *sql.Rows) (*APIKey, error) {
	k := &APIKey{}
	var lastUsed sql.NullTime
	if err := rows.Scan(&k.ID, &k.Hash, &k.UserID, &k.Name, &k.CreatedAt, &lastUsed, &k.ExpiresAt, &k.Revoked); err != nil {
		return nil, err
	}
	k.LastUsed = lastUsed.Time
	return k, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// PostgresSessionStore implements SessionStore with PostgreSQL.
type PostgresSessionStore struct {
	db *sql.DB
}

// NewPostgresSessionStore creates a PostgreSQL-backed session store.
func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

func (p *PostgresSessionStore) Create(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (token_hash, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, s.TokenHash, s.UserID, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (p *PostgresSessionStore) GetByHash(ctx context.Context, hash string) (*Session, error) {
	s := &Session{}
	err := p.db.QueryRowContext(ctx, `
		SELECT token_hash, user_id, created_at, expires_at
		FROM sessions WHERE token_hash = $1
	`, hash).Scan(&s.TokenHash, &s.UserID, &s.CreatedAt, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresSessionStore) DeleteByHash(ctx context.Context, hash string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, hash)
	return err
}

func (p *PostgresSessionStore) DeleteExpired(ctx context.Context) (int, error) {
	result, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}
