package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"tradecore/internal/models"
	"tradecore/internal/repository"
	"tradecore/internal/risk"
)

type RiskHandler struct {
	Repo repository.Repository
	Risk *risk.Manager
}

func (h *RiskHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/risk/limits")
	g.GET("", h.list)
	g.PUT("/:key", h.put)
}

func (h *RiskHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListRiskLimits(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type riskLimitRequest struct {
	Value       json.RawMessage `json:"value" binding:"required"`
	Description string          `json:"description"`
}

func (h *RiskHandler) put(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	key := strings.ToLower(strings.TrimSpace(c.Param("key")))
	if key == "" {
		Error(c, http.StatusBadRequest, "invalid key", nil)
		return
	}
	var req riskLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item := &models.RiskLimit{
		Key:         key,
		Value:       datatypes.JSON(req.Value),
		Description: strings.TrimSpace(req.Description),
	}
	if err := h.Repo.UpsertRiskLimit(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if h.Risk != nil {
		h.Risk.InvalidateLimits()
	}
	stored, _ := h.Repo.GetRiskLimitByKey(c.Request.Context(), key)
	if stored == nil {
		stored = item
	}
	Ok(c, stored, nil)
}
