package checkout

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/cadogy/token-service/internal/auth"
	"github.com/cadogy/token-service/internal/ledger"
	"github.com/cadogy/token-service/internal/metrics"
)

// Handler exposes checkout endpoints and the Stripe webhook receiver.
type Handler struct {
	processor     *Processor
	creator       SessionCreator
	catalog       []Package
	webhookSecret string
	logger        *slog.Logger
}

// NewHandler creates a checkout HTTP handler.
func NewHandler(processor *Processor, creator SessionCreator, catalog []Package, webhookSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		processor:     processor,
		creator:       creator,
		catalog:       catalog,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// RegisterRoutes mounts the buyer-facing endpoints on the given group.
// The webhook route is registered separately (no auth middleware).
func (h *Handler) RegisterRoutes(grp *gin.RouterGroup) {
	grp.GET("/packages", h.listPackages)
	grp.POST("", auth.RequireAuth(), h.createSession)
}

// RegisterWebhook mounts the Stripe callback endpoint.
func (h *Handler) RegisterWebhook(grp *gin.RouterGroup) {
	grp.POST("/stripe", h.stripeWebhook)
}

func (h *Handler) listPackages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packages": h.catalog})
}

type createSessionRequest struct {
	PackageID string `json:"packageId" binding:"required"`
}

func (h *Handler) createSession(c *gin.Context) {
	u, _ := auth.CurrentUser(c)

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	pkg, ok := FindPackage(h.catalog, req.PackageID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Unknown token package."})
		return
	}

	if h.creator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payments_disabled", "message": "Checkout is not configured."})
		return
	}

	url, sessionID, err := h.creator.CreateSession(c.Request.Context(), u.ID, pkg)
	if err != nil {
		h.logger.Error("checkout session creation failed", "user_id", u.ID, "package", pkg.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment_provider_error", "message": "Could not start checkout."})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"url": url, "sessionId": sessionID})
}

// stripeWebhook verifies and routes Stripe events.
//
// Response codes drive Stripe's redelivery: 2xx stops it, anything else
// schedules a retry. Bad signatures and malformed payloads get 400 since
// redelivering them cannot help; transient credit failures get 500 so the
// event comes back.
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Unreadable body."})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("invalid").Inc()
		h.logger.Warn("webhook signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "Signature verification failed."})
		return
	}

	if event.Type != "checkout.session.completed" {
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "message": "Malformed session object."})
		return
	}

	cc := CompletedCheckout{
		UserID:  sess.Metadata["userId"],
		OrderID: sess.ID,
	}
	if tokens := sess.Metadata["tokens"]; tokens != "" {
		cc.TokenAmount, _ = strconv.ParseInt(tokens, 10, 64)
	}
	if sess.CustomerDetails != nil {
		cc.CustomerEmail = sess.CustomerDetails.Email
	}

	_, err = h.processor.HandleCheckoutCompleted(c.Request.Context(), cc)
	switch {
	case errors.Is(err, ledger.ErrDuplicateOrder):
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
	case errors.Is(err, ErrInvalidPayload):
		h.logger.Warn("checkout completion with invalid payload", "event_id", event.ID)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "message": "Missing or invalid checkout metadata."})
	case err != nil:
		h.logger.Error("checkout completion failed", "event_id", event.ID, "order_id", cc.OrderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing_failed", "message": "Credit failed; event will be retried."})
	default:
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
