package http

import (
	"context"
	"net/http"
	"time"

	"coordinator/internal/core/ports"
	"coordinator/internal/infrastructure/monitoring"
	"coordinator/pkg/utils"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	checker   *monitoring.HealthChecker
	registry  ports.Registry
	startTime time.Time
}

func NewHealthHandler(checker *monitoring.HealthChecker, registry ports.Registry, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		checker:   checker,
		registry:  registry,
		startTime: startTime,
	}
}

func (h *HealthHandler) SetupRoutes(router gin.IRoutes) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now(),
		"uptime":      utils.FormatDuration(time.Since(h.startTime)),
		"connections": h.registry.Len(),
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := h.checker.CheckAll(ctx)
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
