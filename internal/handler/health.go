package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"dice-relay-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// relayStatus is the body of GET /relay/status.
type relayStatus struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UpstreamURL   string `json:"upstream_url"`
	FailureMode   string `json:"failure_mode"`
	Capture       string `json:"capture"`
	MaxInFlight   int64  `json:"max_in_flight"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// HealthHandler serves liveness and relay status.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	started time.Time
}

// NewHealthHandler creates a HealthHandler. Uptime is counted from this call.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, started: time.Now()}
}

// Healthz answers liveness probes. It never calls the upstream.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the build version and the relay settings in effect.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, relayStatus{
		Status:        "ok",
		Version:       string(h.version),
		UpstreamURL:   h.cfg.Upstream.URL(),
		FailureMode:   h.cfg.Relay.FailureMode,
		Capture:       h.cfg.Relay.Capture,
		MaxInFlight:   h.cfg.Relay.MaxInFlight,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}
