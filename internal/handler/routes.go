package handler

import (
	"github.com/labstack/echo/v4"

	"dice-relay-go/internal/config"
	"dice-relay-go/internal/metrics"
)

// RegisterRoutes wires the front listener routes onto the Echo instance.
// The metrics endpoint is mounted only when enabled in config.
func RegisterRoutes(e *echo.Echo, relay *RelayHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	e.GET("/", relay.Hello)
	e.GET("/rolldice", relay.RollDice)

	e.GET("/healthz", health.Healthz)
	e.GET("/relay/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
	}
}
