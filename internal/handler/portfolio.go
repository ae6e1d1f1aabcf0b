package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tradecore/internal/repository"
)

type PortfolioHandler struct {
	Repo repository.Repository
}

func (h *PortfolioHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/portfolio")
	g.GET("", h.summary)
	g.GET("/snapshots", h.snapshots)
}

func (h *PortfolioHandler) summary(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	sum, err := h.Repo.PositionsSummary(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	positions, err := h.Repo.ListOpenPositions(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{
		"total_positions":  sum.TotalOpen,
		"total_cost_basis": sum.TotalCostBasis,
		"total_market_val": sum.TotalMarketVal,
		"unrealized_pnl":   sum.UnrealizedPnL,
		"realized_pnl":     sum.RealizedPnL,
		"net_liquidation":  sum.NetLiquidation,
		"positions":        positions,
	}, nil)
}

func (h *PortfolioHandler) snapshots(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListPortfolioSnapshotsParams{
		Limit:  limit,
		Offset: offset,
	}
	if v := c.Query("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.Since = &t
		}
	}
	if v := c.Query("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.Until = &t
		}
	}
	items, err := h.Repo.ListPortfolioSnapshots(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset})
}
