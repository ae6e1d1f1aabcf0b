package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tradecore/internal/service"
)

type AutonomousHandler struct {
	Trader *service.AutonomousTrader
}

func (h *AutonomousHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/autonomous")
	g.GET("/status", h.status)
	g.GET("/strategies", h.listStrategies)
	g.GET("/strategies/:name", h.getStrategy)
	g.PATCH("/strategies/:name", h.patchStrategy)
	g.POST("/start", h.start)
	g.POST("/stop", h.stop)
	g.POST("/cycle", h.cycle)
}

func (h *AutonomousHandler) status(c *gin.Context) {
	if h.Trader == nil {
		Error(c, http.StatusServiceUnavailable, "trader unavailable", nil)
		return
	}
	Ok(c, h.Trader.Status(), nil)
}

func (h *AutonomousHandler) listStrategies(c *gin.Context) {
	if h.Trader == nil {
		Error(c, http.StatusServiceUnavailable, "trader unavailable", nil)
		return
	}
	Ok(c, h.Trader.Strategies(), nil)
}

func (h *AutonomousHandler) getStrategy(c *gin.Context) {
	if h.Trader == nil {
		Error(c, http.StatusServiceUnavailable, "trader unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	cfg, ok := h.Trader.Strategy(name)
	if !ok {
		Error(c, http.StatusNotFound, "unknown strategy", nil)
		return
	}
	Ok(c, cfg, nil)
}

// patchStrategy merges the request body over the current config, so partial
// updates only touch the fields they name.
func (h *AutonomousHandler) patchStrategy(c *gin.Context) {
	if h.Trader == nil {
		Error(c, http.StatusServiceUnavailable, "trader unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	cfg, ok := h.Trader.Strategy(name)
	if !ok {
		Error(c, http.StatusNotFound, "unknown strategy", nil)
		return
	}
	if err := c.ShouldBindJSON(&cfg); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Trader.UpdateStrategy(name, cfg); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	updated, _ := h.Trader.Strategy(name)
	Ok(c, updated, nil)
}

func (h *AutonomousHandler) start(c *gin.Context) {
	if h.Trader == nil {
		Error(c, http.StatusServiceUnavailable, "trader unavailable", nil)
		return
	}
	h.Trader.Start()
	Ok(c, h.Trader.Status(), nil)
}

func (h *AutonomousHandler) stop(c *gin.Context) {
	if h.Trader == nil {
		Error(c, http.StatusServiceUnavailable, "trader unavailable", nil)
		return
	}
	h.Trader.Stop()
	Ok(c, h.Trader.Status(), nil)
}

func (h *AutonomousHandler) cycle(c *gin.Context) {
	if h.Trader == nil {
		Error(c, http.StatusServiceUnavailable, "trader unavailable", nil)
		return
	}
	if err := h.Trader.RunCycle(c.Request.Context()); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, h.Trader.Status(), nil)
}
