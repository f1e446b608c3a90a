package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Proton-105/vidbot/internal/health"
)

// Probes reports process and dependency health.
type Probes interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
	Report(ctx context.Context) health.Report
}

// SystemHandler serves health and keepalive endpoints.
type SystemHandler struct {
	probes Probes
}

func NewSystemHandler(probes Probes) *SystemHandler {
	return &SystemHandler{probes: probes}
}

// Health handles GET /healthz with the per-component report.
func (h *SystemHandler) Health(c *gin.Context) {
	report := h.probes.Report(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (h *SystemHandler) Live(c *gin.Context) {
	probe(c, h.probes.Liveness)
}

func (h *SystemHandler) Ready(c *gin.Context) {
	probe(c, h.probes.Readiness)
}

// Keepalive answers the uptime pinger that keeps free hosting awake.
func (h *SystemHandler) Keepalive(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func probe(c *gin.Context, check func(context.Context) error) {
	if err := check(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
