package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tradecore/internal/models"
	"tradecore/internal/repository"
)

type PositionHandler struct {
	Repo repository.Repository
}

func (h *PositionHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/positions")
	g.GET("", h.list)
	g.GET("/:symbol", h.get)
}

func (h *PositionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	var status *string
	if boolQueryDefault(c, "open", false) {
		open := models.PositionStatusOpen
		status = &open
	} else if v := strings.TrimSpace(c.Query("status")); v != "" {
		status = &v
	}
	params := repository.ListPositionsParams{
		Limit:   limit,
		Offset:  offset,
		Status:  status,
		OrderBy: "symbol",
		Asc:     boolPtr(true),
	}
	items, err := h.Repo.ListPositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountPositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *PositionHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		Error(c, http.StatusBadRequest, "invalid symbol", nil)
		return
	}
	item, err := h.Repo.GetPositionBySymbol(c.Request.Context(), symbol)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "position not found", nil)
		return
	}
	Ok(c, item, nil)
}
