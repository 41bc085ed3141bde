// Package admin provides the back-office endpoints: unblocking cards,
// inspecting the fraud log, and dashboard aggregates.
package admin

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/atmguard/internal/logging"
	"github.com/mbd888/atmguard/internal/store"
)

// Handler provides HTTP endpoints for administrative operations.
type Handler struct {
	store store.Store
}

// NewHandler creates a new admin handler.
func NewHandler(s store.Store) *Handler {
	return &Handler{store: s}
}

// RegisterRoutes sets up the admin routes. Attach RequireSecret to the group
// before calling this.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/cards/:cardId/unblock", h.UnblockCard)
	r.GET("/cards", h.ListCards)
	r.GET("/fraud-log", h.ListFraudLog)
	r.GET("/stats", h.Stats)
}

// RequireSecret guards admin routes with a shared secret header. An empty
// configured secret leaves the routes open for local demo runs.
func RequireSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  "error",
				"message": "invalid admin secret",
			})
			return
		}
		c.Next()
	}
}

// UnblockCard handles POST /v1/admin/cards/:cardId/unblock
func (h *Handler) UnblockCard(c *gin.Context) {
	cardID := c.Param("cardId")

	err := h.store.UnblockCard(c.Request.Context(), cardID)
	if err != nil {
		if errors.Is(err, store.ErrCardNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Card not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}

	logging.L(c.Request.Context()).Info("card unblocked by admin", "cardId", cardID)
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Card " + cardID + " unblocked"})
}

// ListCards handles GET /v1/admin/cards
func (h *Handler) ListCards(c *gin.Context) {
	cards, err := h.store.ListCards(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "cards": cards, "count": len(cards)})
}

// ListFraudLog handles GET /v1/admin/fraud-log
func (h *Handler) ListFraudLog(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := h.store.ListFraudLog(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "fraudLog": entries, "count": len(entries)})
}

// Stats handles GET /v1/admin/stats — the fraud-by-type aggregate behind the
// dashboard chart.
func (h *Handler) Stats(c *gin.Context) {
	counts, err := h.store.CountFraudByType(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"fraudCount":  total,
		"fraudByType": counts,
	})
}
