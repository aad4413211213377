package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadogy/token-service/internal/user"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type authFixture struct {
	manager *Manager
	users   *user.MemoryStore
	router  *gin.Engine
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		manager: newTestManager(),
		users:   user.NewMemoryStore(),
	}
	f.router = gin.New()
	f.router.Use(Middleware(f.manager, f.users))
	f.router.GET("/me", RequireAuth(), func(c *gin.Context) {
		u, _ := CurrentUser(c)
		c.JSON(http.StatusOK, gin.H{"id": u.ID})
	})
	f.router.GET("/admin", RequireAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return f
}

func (f *authFixture) createUser(t *testing.T, email string, role user.Role) *user.User {
	t.Helper()
	u := &user.User{Email: email, Role: role}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

func TestRequireAuthWithoutCredential(t *testing.T) {
	f := newAuthFixture(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")
}

func TestRequireAuthWithAPIKey(t *testing.T) {
	f := newAuthFixture(t)
	u := f.createUser(t, "key@example.com", user.RoleUser)

	raw, _, err := f.manager.GenerateKey(context.Background(), u.ID, "test")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), u.ID)
}

func TestRequireAuthWithSessionCookie(t *testing.T) {
	f := newAuthFixture(t)
	u := f.createUser(t, "cookie@example.com", user.RoleUser)

	token, _, err := f.manager.CreateSession(context.Background(), u.ID)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAdminForbidsNonAdmin(t *testing.T) {
	f := newAuthFixture(t)
	u := f.createUser(t, "pleb@example.com", user.RoleUser)

	raw, _, err := f.manager.GenerateKey(context.Background(), u.ID, "test")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "forbidden")
}

func TestRequireAdminAllowsAdmin(t *testing.T) {
	f := newAuthFixture(t)
	u := f.createUser(t, "boss@example.com", user.RoleAdmin)

	token, _, err := f.manager.CreateSession(context.Background(), u.ID)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAdminUnauthenticatedIs401(t *testing.T) {
	f := newAuthFixture(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStaleCredentialIsAnonymous(t *testing.T) {
	f := newAuthFixture(t)
	u := f.createUser(t, "gone@example.com", user.RoleUser)

	token, _, err := f.manager.CreateSession(context.Background(), u.ID)
	require.NoError(t, err)

	// Burn the session, then replay the token.
	require.NoError(t, f.manager.DestroySession(context.Background(), token))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
