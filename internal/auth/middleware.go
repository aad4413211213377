package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/token-service/internal/user"
)

const (
	// ContextKeyUser is the gin context key for the authenticated user.
	ContextKeyUser = "authUser"

	// SessionCookie carries the dashboard session token.
	SessionCookie = "cadogy_session"
)

// Middleware resolves the request credential (API key or session) to a user
// and stores it in the gin context. It never rejects: RequireAuth and
// RequireAdmin do that.
func Middleware(m *Manager, users user.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := resolveUserID(c, m); userID != "" {
			if u, err := users.Get(c.Request.Context(), userID); err == nil {
				c.Set(ContextKeyUser, u)
			}
		}
		c.Next()
	}
}

func resolveUserID(c *gin.Context, m *Manager) string {
	cred := c.GetHeader("Authorization")
	if cred == "" {
		cred = c.GetHeader("X-API-Key")
	}
	if cred == "" {
		if cookie, err := c.Cookie(SessionCookie); err == nil {
			cred = cookie
		}
	}
	if cred == "" {
		return ""
	}

	switch {
	case strings.Contains(cred, "sk_"):
		if key, err := m.ValidateKey(c.Request.Context(), cred); err == nil {
			return key.UserID
		}
	case strings.Contains(cred, "ses_"):
		if s, err := m.ValidateSession(c.Request.Context(), cred); err == nil {
			return s.UserID
		}
	}
	return ""
}

// RequireAuth rejects unauthenticated requests with 401.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextKeyUser); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid credential required. Include 'Authorization: Bearer sk_...' or a session cookie.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects unauthenticated requests with 401 and authenticated
// non-admins with 403.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid credential required.",
			})
			return
		}
		if u.Role != user.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Administrator role required.",
			})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated user from the gin context.
func CurrentUser(c *gin.Context) (*user.User, bool) {
	v, ok := c.Get(ContextKeyUser)
	if !ok {
		return nil, false
	}
	u, ok := v.(*user.User)
	return u, ok
}
