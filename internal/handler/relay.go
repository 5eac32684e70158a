package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"dice-relay-go/internal/client"
	"dice-relay-go/internal/config"
	"dice-relay-go/internal/service"
)

// RelayHandler serves the front listener routes.
type RelayHandler struct {
	service     *service.RelayService
	logger      *slog.Logger
	failureMode string
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, cfg *config.Config, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service:     svc,
		logger:      logger.With("component", "relay_handler"),
		failureMode: cfg.Relay.FailureMode,
	}
}

// Hello answers GET / with a fixed greeting.
func (h *RelayHandler) Hello(c echo.Context) error {
	return c.String(http.StatusOK, "Hello World!")
}

// RollDice relays one upstream call and answers with the captured data.
func (h *RelayHandler) RollDice(c echo.Context) error {
	ctx := c.Request().Context()

	res, err := h.service.Relay(ctx)
	if err != nil {
		if h.failureMode == config.FailureHold {
			return h.hold(c, err)
		}
		return h.mapError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"data": string(res.Data),
	})
}

// hold logs err and leaves the request without a response until the
// caller goes away or the server shuts down.
func (h *RelayHandler) hold(c echo.Context, err error) error {
	h.logger.Error("relay failed, holding request",
		"err", err,
		"path", c.Request().URL.Path,
	)
	<-c.Request().Context().Done()
	return nil
}

func (h *RelayHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("relay error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	status, msg := errorResponse(err)
	return c.JSON(status, map[string]string{
		"error": msg,
	})
}

// errorResponse maps a relay error to the status code and message sent to the caller.
func errorResponse(err error) (int, string) {
	var (
		dnsErr *net.DNSError
		netErr net.Error
		urlErr *url.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream request timed out"
	case errors.Is(err, client.ErrEmptyBody):
		return http.StatusBadGateway, "upstream returned empty body"
	case errors.As(err, &dnsErr):
		return http.StatusBadGateway, "upstream host unreachable"
	case errors.As(err, &netErr) && netErr.Timeout():
		return http.StatusGatewayTimeout, "upstream request timed out"
	case errors.As(err, &urlErr):
		return http.StatusBadGateway, "upstream connection failed"
	default:
		return http.StatusBadGateway, "upstream request failed"
	}
}
