// Package handler exposes the forwarders and status endpoints over Echo.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"backoffice-proxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports where requests are forwarded. The payment secret itself is
// never included, only whether one is set.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":             "ok",
		"version":            string(h.version),
		"backend_url":        h.cfg.Backend.BaseURL,
		"namespace":          h.cfg.Server.Namespace,
		"payment_configured": h.cfg.Payment.Configured(),
	})
}
