// Package dice implements the dice upstream: GET /rolldice answers with a
// random face of an n-sided die as plain text.
package dice

import (
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"dice-relay-go/internal/config"
	"dice-relay-go/internal/metrics"
	"dice-relay-go/internal/telemetry"
)

const tracerName = "dice-relay-go/internal/dice"

// Roller produces die faces in [1, sides].
type Roller struct {
	sides int
	intN  func(int) int
}

// NewRoller creates a Roller for a die with the given number of sides.
func NewRoller(sides int) *Roller {
	return &Roller{sides: sides, intN: rand.IntN}
}

// Sides returns the number of faces on the die.
func (r *Roller) Sides() int { return r.sides }

// Roll returns one face of the die.
func (r *Roller) Roll() int {
	return r.intN(r.sides) + 1
}

// Handler serves the dice upstream routes.
type Handler struct {
	roller  *Roller
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewHandler creates a Handler rolling a die sized by cfg.Dice.Sides.
// The metrics and telemetry parameters are optional.
func NewHandler(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, tel *telemetry.Provider) *Handler {
	var tp trace.TracerProvider = noop.NewTracerProvider()
	if tel != nil {
		tp = tel.TracerProvider
	}
	return &Handler{
		roller:  NewRoller(cfg.Dice.Sides),
		logger:  logger.With("component", "dice_handler"),
		metrics: m,
		tracer:  tp.Tracer(tracerName),
	}
}

// RollDice answers with a single die roll as a decimal string.
func (h *Handler) RollDice(c echo.Context) error {
	if c.Request().Method != http.MethodGet {
		return echo.ErrNotFound
	}

	_, span := h.tracer.Start(c.Request().Context(), "rolldice")
	defer span.End()

	roll := h.roller.Roll()
	span.SetAttributes(attribute.Int("app.dice_roll", roll))
	span.AddEvent("rolled")

	if h.metrics != nil {
		h.metrics.DiceRolls.WithLabelValues(strconv.Itoa(roll)).Inc()
	}
	h.logger.Debug("rolled die", "roll", roll, "sides", h.roller.Sides())

	return c.String(http.StatusOK, strconv.Itoa(roll))
}

// RegisterRoutes wires the dice upstream routes onto the Echo instance.
// Any method other than GET on /rolldice, and every other path, is a 404.
func RegisterRoutes(e *echo.Echo, h *Handler, cfg *config.Config, m *metrics.Metrics) {
	e.Any("/rolldice", h.RollDice)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
	}
}
