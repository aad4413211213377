// Package auth provides credential management for the token service.
//
// Two credential kinds:
//   - API keys (`sk_` prefix): long-lived bearer credentials held by
//     dashboard users, SHA-256 hashed at rest.
//   - Sessions (`ses_` prefix): short-lived tokens issued to the dashboard
//     after it authenticates a human, hashed at rest with the service
//     secret so a leaked table cannot be replayed.
//
// The raw credential is shown exactly once at creation.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/cadogy/token-service/internal/idgen"
)

// Errors
var (
	ErrNoCredential      = errors.New("auth: credential required")
	ErrInvalidCredential = errors.New("auth: invalid or expired credential")
	ErrKeyNotFound       = errors.New("auth: API key not found")
)

// APIKey is the stored metadata for an issued key. The raw key itself is
// never persisted.
type APIKey struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"`
	UserID    string     `json:"userId"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Session is a short-lived dashboard credential.
type Session struct {
	TokenHash string    `json:"-"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// KeyStore persists API keys.
type KeyStore interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	GetByUser(ctx context.Context, userID string) ([]*APIKey, error)
	Update(ctx context.Context, key *APIKey) error
}

// SessionStore persists sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	GetByHash(ctx context.Context, hash string) (*Session, error)
	DeleteByHash(ctx context.Context, hash string) error
	// DeleteExpired removes sessions past their expiry.
	DeleteExpired(ctx context.Context) (int, error)
}

// Manager validates and issues credentials.
type Manager struct {
	keys       KeyStore
	sessions   SessionStore
	secret     []byte
	sessionTTL time.Duration
}

// NewManager creates an auth manager. secret keys the session hashing;
// sessionTTL bounds session lifetime.
func NewManager(keys KeyStore, sessions SessionStore, secret string, sessionTTL time.Duration) *Manager {
	return &Manager{
		keys:       keys,
		sessions:   sessions,
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
	}
}

// GenerateKey creates a new API key for a user.
// Returns the raw key (shown once) and the stored metadata.
func (m *Manager) GenerateKey(ctx context.Context, userID, name string) (rawKey string, key *APIKey, err error) {
	rawKey = "sk_" + idgen.Hex(32)

	key = &APIKey{
		ID:        idgen.WithPrefix("ak_"),
		Hash:      hashKey(rawKey),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now(),
	}

	if err := m.keys.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return rawKey, key, nil
}

// ValidateKey checks a raw API key and returns its metadata.
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	rawKey = cleanBearer(rawKey)
	if rawKey == "" {
		return nil, ErrNoCredential
	}
	if !strings.HasPrefix(rawKey, "sk_") {
		return nil, ErrInvalidCredential
	}

	key, err := m.keys.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidCredential
	}
	if key.Revoked {
		return nil, ErrInvalidCredential
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, ErrInvalidCredential
	}

	// Update last used (fire and forget).
	go func() {
		key.LastUsed = time.Now()
		_ = m.keys.Update(context.Background(), key)
	}()

	return key, nil
}

// ListKeys returns all keys held by a user.
func (m *Manager) ListKeys(ctx context.Context, userID string) ([]*APIKey, error) {
	return m.keys.GetByUser(ctx, userID)
}

// RevokeKey revokes one of the user's keys. Revoking someone else's key is
// indistinguishable from revoking a key that never existed.
func (m *Manager) RevokeKey(ctx context.Context, keyID, userID string) error {
	keys, err := m.keys.GetByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == keyID {
			k.Revoked = true
			return m.keys.Update(ctx, k)
		}
	}
	return ErrKeyNotFound
}

// CreateSession issues a session token for a user.
// Returns the raw token (shown once) and the stored session.
func (m *Manager) CreateSession(ctx context.Context, userID string) (rawToken string, s *Session, err error) {
	rawToken = "ses_" + idgen.Hex(32)
	now := time.Now()

	s = &Session{
		TokenHash: m.hashSession(rawToken),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.sessionTTL),
	}

	if err := m.sessions.Create(ctx, s); err != nil {
		return "", nil, err
	}
	return rawToken, s, nil
}

// ValidateSession checks a raw session token and returns the session.
func (m *Manager) ValidateSession(ctx context.Context, rawToken string) (*Session, error) {
	rawToken = cleanBearer(rawToken)
	if rawToken == "" {
		return nil, ErrNoCredential
	}
	if !strings.HasPrefix(rawToken, "ses_") {
		return nil, ErrInvalidCredential
	}

	s, err := m.sessions.GetByHash(ctx, m.hashSession(rawToken))
	if err != nil {
		return nil, ErrInvalidCredential
	}
	if time.Now().After(s.ExpiresAt) {
		_ = m.sessions.DeleteByHash(ctx, s.TokenHash)
		return nil, ErrInvalidCredential
	}
	return s, nil
}

// DestroySession invalidates a session token (logout).
func (m *Manager) DestroySession(ctx context.Context, rawToken string) error {
	rawToken = cleanBearer(rawToken)
	if !strings.HasPrefix(rawToken, "ses_") {
		return ErrInvalidCredential
	}
	return m.sessions.DeleteByHash(ctx, m.hashSession(rawToken))
}

// SweepSessions drops expired sessions. Called periodically by the server.
func (m *Manager) SweepSessions(ctx context.Context) (int, error) {
	return m.sessions.DeleteExpired(ctx)
}

func (m *Manager) hashSession(raw string) string {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

func cleanBearer(raw string) string {
	raw = strings.TrimPrefix(raw, "Bearer ")
	return strings.TrimSpace(raw)
}
