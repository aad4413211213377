// Package validation provides input validation helpers and middleware for the API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB).
const MaxRequestSize = 1 << 20

// MaxReasonLength bounds admin-supplied reason text.
const MaxReasonLength = 500

var (
	// userIDRegex validates service-issued user identifiers.
	userIDRegex = regexp.MustCompile(`^usr_[a-f0-9]{24}$`)
	// emailRegex is a deliberately loose shape check; real verification is a mailed link.
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidUserID checks if a string is a well-formed user identifier.
func IsValidUserID(id string) bool {
	return userIDRegex.MatchString(id)
}

// IsValidEmail checks the rough shape of an email address.
func IsValidEmail(addr string) bool {
	return emailRegex.MatchString(addr)
}

// SanitizeReason trims, bounds, and strips null bytes from free-text reasons.
func SanitizeReason(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > MaxReasonLength {
		s = s[:MaxReasonLength]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// UserIDParamMiddleware validates the :id URL parameter on routes that use it.
// Rejects malformed identifiers before any store access.
func UserIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidUserID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_user_id",
				"message": "user id must look like usr_ followed by 24 hex chars",
			})
			return
		}
		c.Next()
	}
}
