package content

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler serves cached content to the dashboard.
type Handler struct {
	client *Cached
	logger *slog.Logger
}

// NewHandler creates the content HTTP handler.
func NewHandler(client *Cached, logger *slog.Logger) *Handler {
	return &Handler{client: client, logger: logger}
}

// RegisterRoutes mounts the content endpoints on the given group.
func (h *Handler) RegisterRoutes(grp *gin.RouterGroup) {
	grp.GET("/posts", h.listPosts)
	grp.GET("/tags", h.listTags)
}

func (h *Handler) listPosts(c *gin.Context) {
	posts, err := h.client.FetchPosts(c.Request.Context())
	if err != nil {
		h.logger.Warn("content posts fetch failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_error", "message": "Content API unavailable."})
		return
	}
	if posts == nil {
		posts = []Post{}
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (h *Handler) listTags(c *gin.Context) {
	tags, err := h.client.FetchTags(c.Request.Context())
	if err != nil {
		h.logger.Warn("content tags fetch failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_error", "message": "Content API unavailable."})
		return
	}
	if tags == nil {
		tags = []Tag{}
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}
