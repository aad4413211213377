package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/token-service/internal/checkout"
	"github.com/cadogy/token-service/internal/config"
	"github.com/cadogy/token-service/internal/mailer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeCreator implements checkout.SessionCreator for testing
type fakeCreator struct{}

func (f *fakeCreator) CreateSession(ctx context.Context, userID string, pkg checkout.Package) (string, string, error) {
	return "https://checkout.test/session", "cs_test_fake", nil
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Env:                "development",
		LogLevel:           "error",
		SessionTTLHours:    1,
		SignupGrantTokens:  100,
		AdminSessionSecret: "test-service-secret",
		ContentAPIURL:      "http://127.0.0.1:1", // never reached in these tests
		AllowedOrigins:     []string{"*"},
	}
}

// newTestServer creates a server with in-memory stores and mock payment deps
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(),
		WithMailer(mailer.NewMemoryMailer()),
		WithSessionCreator(&fakeCreator{}),
	)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/api/users",
		"GET:/api/users/me/tokens",
		"POST:/api/auth/sessions",
		"GET:/api/checkout/packages",
		"POST:/api/checkout",
		"POST:/api/admin/tokens",
		"PUT:/api/admin/tokens",
		"GET:/api/admin/tokens",
		"GET:/api/admin/tokens/reconcile",
		"GET:/api/content/posts",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

func TestWebhookRouteGatedOnSecret(t *testing.T) {
	cfg := testConfig()
	cfg.StripeWebhookSecret = "whsec_test_secret"
	s, err := New(cfg, WithMailer(mailer.NewMemoryMailer()), WithSessionCreator(&fakeCreator{}))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	found := false
	for _, route := range s.router.Routes() {
		if route.Method == "POST" && route.Path == "/webhooks/stripe" {
			found = true
		}
	}
	if !found {
		t.Error("webhook route not registered when secret is set")
	}

	// Without the secret the endpoint must not exist at all.
	s2 := newTestServer(t)
	for _, route := range s2.router.Routes() {
		if route.Path == "/webhooks/stripe" {
			t.Error("webhook route registered without a secret")
		}
	}
}

func TestSignupGrantsTokens(t *testing.T) {
	s := newTestServer(t)

	body := `{"email":"alice@example.com","displayName":"Alice"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/users", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		User struct {
			ID           string `json:"id"`
			TokenBalance int64  `json:"tokenBalance"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.User.TokenBalance != 100 {
		t.Errorf("Expected signup grant of 100, got %d", resp.User.TokenBalance)
	}

	// Duplicate email is rejected.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/users", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate email, got %d", w.Code)
	}
}

func TestTokenUsageEndpoint(t *testing.T) {
	s := newTestServer(t)

	// Register an account.
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/users",
		strings.NewReader(`{"email":"bob@example.com","displayName":"Bob"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d %s", w.Code, w.Body.String())
	}
	var created struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	// Bootstrap a session the way the dashboard backend does.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/auth/sessions",
		strings.NewReader(`{"userId":"`+created.User.ID+`"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Secret", "test-service-secret")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("session bootstrap failed: %d %s", w.Code, w.Body.String())
	}
	var sess struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}

	// Usage view shows the grant balance and its audit entry.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/users/me/tokens", nil)
	req.Header.Set("Authorization", sess.Token)
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("usage request failed: %d %s", w.Code, w.Body.String())
	}

	var usage struct {
		Balance      int64 `json:"balance"`
		Total        int   `json:"total"`
		Transactions []struct {
			Reason string `json:"reason"`
		} `json:"transactions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &usage); err != nil {
		t.Fatal(err)
	}
	if usage.Balance != 100 {
		t.Errorf("balance = %d, want 100", usage.Balance)
	}
	if usage.Total != 1 || len(usage.Transactions) != 1 {
		t.Fatalf("expected one transaction, got total=%d len=%d", usage.Total, len(usage.Transactions))
	}
	if usage.Transactions[0].Reason != "signup grant" {
		t.Errorf("reason = %q", usage.Transactions[0].Reason)
	}
}

func TestTokenUsageRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/users/me/tokens", nil)
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestSessionBootstrapRequiresServiceSecret(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/auth/sessions",
		strings.NewReader(`{"userId":"usr_000000000000000000000000"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Secret", "wrong")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}
