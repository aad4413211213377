package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/token-service/internal/auth"
	"github.com/cadogy/token-service/internal/ledger"
	"github.com/cadogy/token-service/internal/logging"
	"github.com/cadogy/token-service/internal/user"
	"github.com/cadogy/token-service/internal/validation"
)

// createUser handles POST /api/users
// Registers an account and grants the signup token allowance through the
// ledger, so the very first balance change is already on the audit trail.
func (s *Server) createUser(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		Email       string `json:"email" binding:"required"`
		DisplayName string `json:"displayName" binding:"max=200"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !validation.IsValidEmail(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_email",
			"message": "email must be a valid address",
		})
		return
	}

	u := &user.User{
		Email:       req.Email,
		DisplayName: validation.SanitizeReason(req.DisplayName),
		Role:        user.RoleUser,
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "email_taken",
				"message": "An account with this email already exists",
			})
			return
		}
		logging.L(ctx).Error("failed to create user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create account",
		})
		return
	}

	if grant := s.cfg.SignupGrantTokens; grant > 0 {
		if _, err := s.ledgerSvc.Credit(ctx, u.ID, grant, "signup grant", ledger.SystemActor); err != nil {
			logging.L(ctx).Error("signup grant failed", "user_id", u.ID, "error", err)
			// Account exists but the grant did not land; surface it rather
			// than failing the signup.
			c.JSON(http.StatusCreated, gin.H{
				"user":    u,
				"warning": "Account created but the signup token grant failed. Contact support.",
			})
			return
		}
		u.TokenBalance = grant
	}

	logging.L(ctx).Info("user registered", "user_id", u.ID, "grant", s.cfg.SignupGrantTokens)
	c.JSON(http.StatusCreated, gin.H{"user": u})
}

// currentUser handles GET /api/users/me
func (s *Server) currentUser(c *gin.Context) {
	u, _ := auth.CurrentUser(c)
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// tokenUsage handles GET /api/users/me/tokens
// Returns the live balance plus the most recent transactions.
func (s *Server) tokenUsage(c *gin.Context) {
	ctx := c.Request.Context()
	u, _ := auth.CurrentUser(c)

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	balance, err := s.ledgerSvc.Balance(ctx, u.ID)
	if err != nil {
		logging.L(ctx).Error("balance lookup failed", "user_id", u.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to load balance"})
		return
	}

	entries, total, err := s.ledgerSvc.History(ctx, ledger.QueryFilter{UserID: u.ID, Limit: limit})
	if err != nil {
		logging.L(ctx).Error("history lookup failed", "user_id", u.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to load history"})
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":      balance,
		"transactions": entries,
		"total":        total,
	})
}
