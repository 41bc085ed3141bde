package atm

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/atmguard/internal/store"
	"github.com/mbd888/atmguard/internal/validation"
)

// Handler provides the HTTP surface for the ATM interaction sequence.
type Handler struct {
	service *Service
}

// NewHandler creates a new ATM handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the per-card ATM routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	cards := r.Group("/cards/:cardId")
	cards.POST("/session", h.StartSession)
	cards.POST("/pin", h.VerifyPIN)
	cards.POST("/transaction", h.SelectTransaction)
	cards.POST("/amount", h.EnterAmount)
	cards.POST("/complete", h.CompleteTransaction)
	cards.POST("/reset", h.Reset)
	cards.GET("/balance", h.GetBalance)
	cards.GET("/statement", h.MiniStatement)
}

// StartSession handles POST /v1/cards/:cardId/session
func (h *Handler) StartSession(c *gin.Context) {
	state, err := h.service.StartSession(c.Request.Context(), c.Param("cardId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "state": state})
}

// VerifyPIN handles POST /v1/cards/:cardId/pin
func (h *Handler) VerifyPIN(c *gin.Context) {
	var req struct {
		PIN string `json:"pin" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "pin required"})
		return
	}

	if err := h.service.VerifyPIN(c.Request.Context(), c.Param("cardId"), req.PIN); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "PIN Accepted"})
}

// SelectTransaction handles POST /v1/cards/:cardId/transaction
func (h *Handler) SelectTransaction(c *gin.Context) {
	var req struct {
		Type string `json:"type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "transaction type required"})
		return
	}

	if err := h.service.SelectTransaction(c.Request.Context(), c.Param("cardId"), req.Type); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "selected": req.Type})
}

// EnterAmount handles POST /v1/cards/:cardId/amount
func (h *Handler) EnterAmount(c *gin.Context) {
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "amount required"})
		return
	}

	flags, err := h.service.EnterAmount(c.Request.Context(), c.Param("cardId"), req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"status": "success"}
	if len(flags) > 0 {
		resp["flags"] = flags
	}
	c.JSON(http.StatusOK, resp)
}

// CompleteTransaction handles POST /v1/cards/:cardId/complete
func (h *Handler) CompleteTransaction(c *gin.Context) {
	var req struct {
		Location string `json:"location"`
	}
	// Location is optional; an empty body is fine.
	_ = c.ShouldBindJSON(&req)

	location := ""
	if req.Location != "" {
		location = validation.SanitizeLocation(req.Location)
	}
	receipt, err := h.service.CompleteTransaction(c.Request.Context(), c.Param("cardId"), location)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Take your cash", "receipt": receipt})
}

// Reset handles POST /v1/cards/:cardId/reset
func (h *Handler) Reset(c *gin.Context) {
	if err := h.service.ResetForNextTransaction(c.Request.Context(), c.Param("cardId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetBalance handles GET /v1/cards/:cardId/balance
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.service.GetBalance(c.Request.Context(), c.Param("cardId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "balance": balance})
}

// MiniStatement handles GET /v1/cards/:cardId/statement
func (h *Handler) MiniStatement(c *gin.Context) {
	txns, err := h.service.MiniStatement(c.Request.Context(), c.Param("cardId"), 5)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "statement": txns})
}

// respondError maps domain errors onto the wire contract: blocking outcomes
// report status "blocked", everything else "error".
func respondError(c *gin.Context, err error) {
	var (
		invalidState *InvalidStateError
		invalidPIN   *InvalidPINError
		insufficient *InsufficientBalanceError
		fraudBlocked *FraudBlockedError
	)

	switch {
	case errors.As(err, &fraudBlocked):
		c.JSON(http.StatusForbidden, gin.H{
			"status":  "blocked",
			"message": fraudBlocked.Error(),
			"reasons": fraudBlocked.Reasons,
		})
	case errors.Is(err, ErrCardBlocked):
		c.JSON(http.StatusForbidden, gin.H{"status": "blocked", "message": "Card is blocked"})
	case errors.As(err, &invalidPIN):
		c.JSON(http.StatusUnauthorized, gin.H{
			"status":   "error",
			"message":  invalidPIN.Error(),
			"attempts": invalidPIN.Attempts,
			"max":      invalidPIN.Max,
		})
	case errors.Is(err, store.ErrCardNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Card not found"})
	case errors.Is(err, ErrSessionExpired):
		c.JSON(http.StatusRequestTimeout, gin.H{"status": "error", "message": err.Error()})
	case errors.As(err, &invalidState),
		errors.As(err, &insufficient),
		errors.Is(err, ErrInvalidTransaction),
		errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
	}
}
