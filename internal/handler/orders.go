package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tradecore/internal/repository"
	"tradecore/internal/service"
)

type OrderHandler struct {
	Repo   repository.Repository
	Engine *service.ExecutionEngine
}

func (h *OrderHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/orders")
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/cancel", h.cancel)
}

func (h *OrderHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	var status *string
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		status = &v
	}
	var symbol *string
	if v := strings.ToUpper(strings.TrimSpace(c.Query("symbol"))); v != "" {
		symbol = &v
	}
	var side *string
	if v := strings.ToLower(strings.TrimSpace(c.Query("side"))); v != "" {
		side = &v
	}
	params := repository.ListOrdersParams{
		Limit:   limit,
		Offset:  offset,
		Status:  status,
		Symbol:  symbol,
		Side:    side,
		OrderBy: "created_at",
		Asc:     boolPtr(false),
	}
	items, err := h.Repo.ListOrders(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountOrders(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *OrderHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetOrderByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "order not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *OrderHandler) cancel(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "engine unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	if err := h.Engine.CancelOrder(c.Request.Context(), id); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	item, _ := h.Repo.GetOrderByID(c.Request.Context(), id)
	Ok(c, item, nil)
}
