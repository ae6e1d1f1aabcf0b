package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tradecore/internal/models"
	"tradecore/internal/signal"
)

type SignalHandler struct {
	Hub *signal.Hub
}

func (h *SignalHandler) Register(r *gin.Engine) {
	r.POST("/api/v1/signals", h.publish)
}

type signalRequest struct {
	Symbol   string          `json:"symbol" binding:"required"`
	Side     string          `json:"side" binding:"required"`
	Quantity decimal.Decimal `json:"quantity" binding:"required"`
	Reason   string          `json:"reason"`
}

func (h *SignalHandler) publish(c *gin.Context) {
	if h.Hub == nil {
		Error(c, http.StatusServiceUnavailable, "signal hub unavailable", nil)
		return
	}
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	side := strings.ToLower(strings.TrimSpace(req.Side))
	if side != models.OrderSideBuy && side != models.OrderSideSell {
		Error(c, http.StatusBadRequest, "side must be buy or sell", nil)
		return
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		Error(c, http.StatusBadRequest, "quantity must be positive", nil)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual"
	}
	accepted := h.Hub.Publish(signal.TradeSignal{
		Symbol:   req.Symbol,
		Side:     side,
		Quantity: req.Quantity,
		Reason:   reason,
	})
	if !accepted {
		Error(c, http.StatusServiceUnavailable, "signal queue full", nil)
		return
	}
	c.JSON(http.StatusAccepted, apiResponse{Code: 0, Message: "accepted"})
}
