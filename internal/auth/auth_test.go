package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestManager() *Manager {
	return NewManager(NewMemoryKeyStore(), NewMemorySessionStore(), "test-secret", time.Hour)
}

func TestGenerateAndValidateKey(t *testing.T) {
	m := newTestManager()

	raw, key, err := m.GenerateKey(context.Background(), "usr_a1b2c3d4e5f6a1b2c3d4e5f6", "ci key")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(raw, "sk_") {
		t.Errorf("raw key = %q, want sk_ prefix", raw)
	}
	if key.Hash == raw {
		t.Error("raw key stored unhashed")
	}

	got, err := m.ValidateKey(context.Background(), raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.UserID != key.UserID || got.ID != key.ID {
		t.Errorf("validated key = %+v, want %+v", got, key)
	}

	// Bearer prefix is tolerated.
	if _, err := m.ValidateKey(context.Background(), "Bearer "+raw); err != nil {
		t.Errorf("validate with Bearer prefix: %v", err)
	}
}

func TestValidateKeyRejectsGarbage(t *testing.T) {
	m := newTestManager()

	cases := []string{"", "sk_deadbeef", "not-a-key", "ses_0000"}
	for _, raw := range cases {
		if _, err := m.ValidateKey(context.Background(), raw); err == nil {
			t.Errorf("ValidateKey(%q) accepted", raw)
		}
	}
}

func TestRevokeKey(t *testing.T) {
	m := newTestManager()
	userID := "usr_a1b2c3d4e5f6a1b2c3d4e5f6"

	raw, key, err := m.GenerateKey(context.Background(), userID, "to revoke")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if err := m.RevokeKey(context.Background(), key.ID, userID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := m.ValidateKey(context.Background(), raw); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("revoked key validated: err = %v", err)
	}

	// Someone else's key id is a not-found, not a revocation.
	if err := m.RevokeKey(context.Background(), key.ID, "usr_000000000000000000000000"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("cross-user revoke: err = %v, want ErrKeyNotFound", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := newTestManager()
	userID := "usr_a1b2c3d4e5f6a1b2c3d4e5f6"

	token, s, err := m.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if !strings.HasPrefix(token, "ses_") {
		t.Errorf("token = %q, want ses_ prefix", token)
	}
	if s.ExpiresAt.Before(time.Now()) {
		t.Error("session born expired")
	}

	got, err := m.ValidateSession(context.Background(), token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.UserID != userID {
		t.Errorf("session user = %q, want %q", got.UserID, userID)
	}

	if err := m.DestroySession(context.Background(), token); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := m.ValidateSession(context.Background(), token); err == nil {
		t.Error("destroyed session still validates")
	}
}

func TestSessionExpiry(t *testing.T) {
	m := NewManager(NewMemoryKeyStore(), NewMemorySessionStore(), "test-secret", -time.Minute)

	token, _, err := m.CreateSession(context.Background(), "usr_a1b2c3d4e5f6a1b2c3d4e5f6")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := m.ValidateSession(context.Background(), token); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("expired session: err = %v, want ErrInvalidCredential", err)
	}
}

func TestSweepSessions(t *testing.T) {
	store := NewMemorySessionStore()
	expired := NewManager(NewMemoryKeyStore(), store, "test-secret", -time.Minute)
	live := NewManager(NewMemoryKeyStore(), store, "test-secret", time.Hour)

	if _, _, err := expired.CreateSession(context.Background(), "usr_a1b2c3d4e5f6a1b2c3d4e5f6"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := live.CreateSession(context.Background(), "usr_a1b2c3d4e5f6a1b2c3d4e5f6"); err != nil {
		t.Fatalf("create: %v", err)
	}

	removed, err := live.SweepSessions(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestSessionHashKeyedBySecret(t *testing.T) {
	store := NewMemorySessionStore()
	a := NewManager(NewMemoryKeyStore(), store, "secret-a", time.Hour)
	b := NewManager(NewMemoryKeyStore(), store, "secret-b", time.Hour)

	token, _, err := a.CreateSession(context.Background(), "usr_a1b2c3d4e5f6a1b2c3d4e5f6")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// A manager with the wrong secret hashes to a different bucket.
	if _, err := b.ValidateSession(context.Background(), token); err == nil {
		t.Error("session validated under a different secret")
	}
}
