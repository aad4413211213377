package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/token-service/internal/logging"
	"github.com/cadogy/token-service/internal/validation"
)

// Handler exposes credential endpoints.
type Handler struct {
	manager *Manager
	// serviceSecret guards session bootstrap: the dashboard backend proves
	// itself with this shared secret after authenticating the human.
	serviceSecret string
}

// NewHandler creates an auth HTTP handler.
func NewHandler(manager *Manager, serviceSecret string) *Handler {
	return &Handler{manager: manager, serviceSecret: serviceSecret}
}

// RegisterRoutes mounts auth endpoints on the given group.
func (h *Handler) RegisterRoutes(grp *gin.RouterGroup) {
	grp.POST("/sessions", h.createSession)
	grp.DELETE("/sessions", RequireAuth(), h.destroySession)

	keys := grp.Group("/keys", RequireAuth())
	keys.POST("", h.createKey)
	keys.GET("", h.listKeys)
	keys.DELETE("/:id", h.revokeKey)
}

type createSessionRequest struct {
	UserID string `json:"userId" binding:"required"`
}

func (h *Handler) createSession(c *gin.Context) {
	if subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Service-Secret")), []byte(h.serviceSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Session bootstrap requires the service secret.",
		})
		return
	}

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if !validation.IsValidUserID(req.UserID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Malformed user id."})
		return
	}

	token, s, err := h.manager.CreateSession(c.Request.Context(), req.UserID)
	if err != nil {
		logging.L(c.Request.Context()).Error("create session failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Could not create session."})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":     token,
		"userId":    s.UserID,
		"expiresAt": s.ExpiresAt,
	})
}

func (h *Handler) destroySession(c *gin.Context) {
	cred := c.GetHeader("Authorization")
	if cred == "" {
		if cookie, err := c.Cookie(SessionCookie); err == nil {
			cred = cookie
		}
	}
	if err := h.manager.DestroySession(c.Request.Context(), cred); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "No session to destroy."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type createKeyRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

func (h *Handler) createKey(c *gin.Context) {
	u, _ := CurrentUser(c)

	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	raw, key, err := h.manager.GenerateKey(c.Request.Context(), u.ID, req.Name)
	if err != nil {
		logging.L(c.Request.Context()).Error("generate key failed", "error", err, "user_id", u.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Could not create key."})
		return
	}

	// The raw key appears in this response and nowhere else.
	c.JSON(http.StatusCreated, gin.H{
		"key":       raw,
		"id":        key.ID,
		"name":      key.Name,
		"createdAt": key.CreatedAt,
	})
}

func (h *Handler) listKeys(c *gin.Context) {
	u, _ := CurrentUser(c)

	keys, err := h.manager.ListKeys(c.Request.Context(), u.ID)
	if err != nil {
		logging.L(c.Request.Context()).Error("list keys failed", "error", err, "user_id", u.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Could not list keys."})
		return
	}
	if keys == nil {
		keys = []*APIKey{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (h *Handler) revokeKey(c *gin.Context) {
	u, _ := CurrentUser(c)

	if err := h.manager.RevokeKey(c.Request.Context(), c.Param("id"), u.ID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No such key."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
