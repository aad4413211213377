package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/token-service/internal/auth"
	"github.com/cadogy/token-service/internal/ledger"
	"github.com/cadogy/token-service/internal/user"
	"github.com/cadogy/token-service/internal/validation"
)

// RegisterRoutes mounts the admin token endpoints on the given group.
func (h *Handler) RegisterRoutes(grp *gin.RouterGroup) {
	grp.Use(auth.RequireAdmin())
	grp.POST("/tokens", h.adjustSingle)
	grp.GET("/tokens", h.listTransactions)
	grp.PUT("/tokens", h.adjustBulk)
	grp.GET("/tokens/reconcile", h.reconcile)
}

// adjustRequest is the strict shape for a single-user adjustment. Anything
// off-shape is rejected by binding before the ledger sees it.
type adjustRequest struct {
	UserID    string `json:"userId" binding:"required"`
	Operation string `json:"operation" binding:"required,oneof=add deduct set"`
	Amount    *int64 `json:"amount" binding:"required"`
	Reason    string `json:"reason" binding:"omitempty,max=500"`
}

func (h *Handler) adjustSingle(c *gin.Context) {
	admin, _ := auth.CurrentUser(c)

	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if !validation.IsValidUserID(req.UserID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id", "message": "user id must look like usr_ followed by 24 hex chars"})
		return
	}

	actor := ledger.Actor{ID: admin.ID, Type: ledger.ActorAdmin}
	reason := validation.SanitizeReason(req.Reason)
	amount := *req.Amount

	var (
		entry *ledger.Entry
		err   error
	)
	switch ledger.Operation(req.Operation) {
	case ledger.OpAdd:
		entry, err = h.ledger.Credit(c.Request.Context(), req.UserID, amount, reason, actor)
	case ledger.OpDeduct:
		entry, err = h.ledger.Debit(c.Request.Context(), req.UserID, amount, reason, actor)
	case ledger.OpSet:
		entry, err = h.ledger.SetBalance(c.Request.Context(), req.UserID, amount, reason, actor)
	}
	if err != nil {
		h.renderLedgerError(c, err)
		return
	}

	h.logger.Info("admin token adjustment",
		"admin_id", admin.ID,
		"user_id", req.UserID,
		"operation", req.Operation,
		"amount", amount,
		"new_balance", entry.NewBalance,
	)

	c.JSON(http.StatusOK, gin.H{
		"id":              entry.ID,
		"previousBalance": entry.PreviousBalance,
		"newBalance":      entry.NewBalance,
		"change":          entry.Delta,
		"operation":       entry.Operation,
	})
}

// transactionView is an entry enriched with resolved display names.
type transactionView struct {
	ID              string           `json:"id"`
	UserID          string           `json:"userId"`
	UserName        string           `json:"userName"`
	ActorID         string           `json:"actorId"`
	ActorName       string           `json:"actorName"`
	ActorType       ledger.ActorType `json:"actorType"`
	Operation       ledger.Operation `json:"operation"`
	Delta           int64            `json:"delta"`
	PreviousBalance int64            `json:"previousBalance"`
	NewBalance      int64            `json:"newBalance"`
	Reason          string           `json:"reason,omitempty"`
	OrderID         string           `json:"orderId,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

func (h *Handler) listTransactions(c *gin.Context) {
	filter := ledger.QueryFilter{}

	if userID := c.Query("userId"); userID != "" {
		if !validation.IsValidUserID(userID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id", "message": "Malformed userId filter."})
			return
		}
		filter.UserID = userID
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}
	if offset := c.Query("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "offset must be a non-negative integer"})
			return
		}
		filter.Offset = n
	}

	entries, total, err := h.ledger.History(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("transaction query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Could not load transactions."})
		return
	}

	ids := make([]string, 0, len(entries)*2)
	for _, e := range entries {
		ids = append(ids, e.UserID)
		if e.ActorType == ledger.ActorAdmin {
			ids = append(ids, e.ActorID)
		}
	}
	names := h.resolveNames(c.Request.Context(), ids)

	views := make([]transactionView, len(entries))
	for i, e := range entries {
		views[i] = transactionView{
			ID:              e.ID,
			UserID:          e.UserID,
			UserName:        names[e.UserID],
			ActorID:         e.ActorID,
			ActorName:       names[e.ActorID],
			ActorType:       e.ActorType,
			Operation:       e.Operation,
			Delta:           e.Delta,
			PreviousBalance: e.PreviousBalance,
			NewBalance:      e.NewBalance,
			Reason:          e.Reason,
			OrderID:         e.OrderID,
			CreatedAt:       e.CreatedAt,
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = ledger.DefaultQueryLimit
	}
	if limit > ledger.MaxQueryLimit {
		limit = ledger.MaxQueryLimit
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": views,
		"meta": gin.H{
			"total":  total,
			"limit":  limit,
			"offset": filter.Offset,
		},
	})
}

// bulkRequest is the strict shape for a bulk adjustment.
type bulkRequest struct {
	UserFilter struct {
		Role string `json:"role" binding:"omitempty,oneof=user admin"`
	} `json:"userFilter"`
	Operation string `json:"operation" binding:"required,oneof=add deduct set multiply"`
	Amount    *int64 `json:"amount" binding:"required"`
	Reason    string `json:"reason" binding:"omitempty,max=500"`
}

func (h *Handler) adjustBulk(c *gin.Context) {
	admin, _ := auth.CurrentUser(c)

	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	actor := ledger.Actor{ID: admin.ID, Type: ledger.ActorAdmin}
	results, err := h.ledger.BulkApply(
		c.Request.Context(),
		ledger.UserFilter{Role: user.Role(req.UserFilter.Role)},
		ledger.Operation(req.Operation),
		*req.Amount,
		validation.SanitizeReason(req.Reason),
		actor,
	)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Amount out of range for this operation."})
			return
		}
		h.logger.Error("bulk adjustment failed", "admin_id", admin.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Bulk adjustment failed."})
		return
	}

	affected := 0
	for _, r := range results {
		if r.Success {
			affected++
		}
	}

	h.logger.Info("admin bulk adjustment",
		"admin_id", admin.ID,
		"operation", req.Operation,
		"amount", *req.Amount,
		"targets", len(results),
		"affected", affected,
	)

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"usersAffected": affected,
		"summary":       results,
	})
}

func (h *Handler) reconcile(c *gin.Context) {
	drifts, err := h.ledger.Reconcile(c.Request.Context())
	if err != nil {
		h.logger.Error("reconcile failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Reconciliation failed."})
		return
	}
	if drifts == nil {
		drifts = []ledger.Drift{}
	}
	c.JSON(http.StatusOK, gin.H{"drift": drifts, "clean": len(drifts) == 0})
}

// renderLedgerError maps ledger errors to HTTP responses.
func (h *Handler) renderLedgerError(c *gin.Context, err error) {
	var insufficient *ledger.InsufficientBalanceError
	switch {
	case errors.Is(err, ledger.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found", "message": "No such user."})
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Amount out of range for this operation."})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "insufficient_balance",
			"message": "Deduction exceeds the current balance.",
			"current": insufficient.Current, "requested": insufficient.Requested,
		})
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "concurrency_conflict", "message": "Balance is contended; try again."})
	default:
		h.logger.Error("token adjustment failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Adjustment failed."})
	}
}
