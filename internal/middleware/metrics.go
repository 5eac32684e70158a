package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"dice-relay-go/internal/metrics"
)

// statusHeld labels requests that finished without any response, as in hold mode.
const statusHeld = "none"

// MetricsMiddleware counts and times every front listener request.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)

			labels := []string{
				metrics.NormalizeMethod(c.Request().Method),
				statusLabel(c, err),
				metrics.NormalizePath(c.Request().URL.Path),
			}
			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(elapsed.Seconds())

			return err
		}
	}
}

// statusLabel picks the status the caller will see. An *echo.HTTPError is
// written by Echo's error handler after this middleware returns.
func statusLabel(c echo.Context, err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return strconv.Itoa(he.Code)
	}
	if err == nil && !c.Response().Committed {
		return statusHeld
	}
	return strconv.Itoa(c.Response().Status)
}
