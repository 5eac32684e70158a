package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/fx/fxevent"

	"dice-relay-go/internal/config"
	"dice-relay-go/internal/metrics"
	"dice-relay-go/internal/middleware"
	"dice-relay-go/internal/telemetry"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cli struct {
	config.CLI `embed:""`

	Version kong.VersionFlag `help:"Print version and exit."`

	Serve    serveCmd    `cmd:"" default:"withargs" help:"Run the relay front listener (default)."`
	Upstream upstreamCmd `cmd:"" help:"Run the dice upstream."`
	Play     playCmd     `cmd:"" help:"Play the dice guessing game against the upstream."`
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("dice-relay"),
		kong.Description("Single-hop HTTP relay for a dice rolling service."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)
	ctx.FatalIfErrorf(ctx.Run(&c.CLI))
}

// listenAddr is the TCP address a command's HTTP server binds to.
type listenAddr string

func newLogger(w io.Writer) func(cfg *config.Config) *slog.Logger {
	return func(cfg *config.Config) *slog.Logger {
		level := slog.LevelInfo
		switch strings.ToLower(cfg.Log.Level) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		opts := &slog.HandlerOptions{Level: level}

		var h slog.Handler
		switch strings.ToLower(cfg.Log.Format) {
		case "text":
			h = slog.NewTextHandler(w, opts)
		default:
			h = slog.NewJSONHandler(w, opts)
		}

		return slog.New(h)
	}
}

func fxLogger(l *slog.Logger) fxevent.Logger {
	return &fxevent.SlogLogger{Logger: l.With("component", "fx")}
}

// newTelemetry returns an fx constructor for the tracing provider of the named
// service. An empty name uses tracing.service_name from config.
func newTelemetry(service string) func(fx.Lifecycle, *config.Config, *slog.Logger) (*telemetry.Provider, error) {
	return func(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*telemetry.Provider, error) {
		name := service
		if name == "" {
			name = cfg.Tracing.ServiceName
		}
		tel, err := telemetry.New(context.Background(), cfg.Tracing, name, logger)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: tel.Shutdown,
		})
		return tel, nil
	}
}

func newEcho(logger *slog.Logger, m *metrics.Metrics, tel *telemetry.Provider) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// No write timeout: held relay requests stay open until the caller leaves.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(middleware.AbortUnanswered())
	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.Tracing(tel))
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))
	e.Use(middleware.SecurityHeaders())

	return e
}

func useRateLimiter(e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Server.RateLimit.Enabled {
		return
	}
	e.Use(middleware.RateLimiter(cfg.Server.RateLimit))
	logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
}

// setMaxProcs matches GOMAXPROCS to the container CPU quota.
func setMaxProcs(lc fx.Lifecycle, logger *slog.Logger) {
	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...), "component", "maxprocs")
	}))
	if err != nil {
		logger.Warn("failed to set GOMAXPROCS", "err", err)
		return
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			undo()
			return nil
		},
	})
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, addr listenAddr, logger *slog.Logger) {
	// Canceled on stop so handlers waiting on their request context return
	// before Shutdown drains connections.
	baseCtx, cancel := context.WithCancel(context.Background())
	e.Server.BaseContext = func(net.Listener) context.Context { return baseCtx }

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", string(addr))
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", string(addr))
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			cancel()
			return e.Shutdown(ctx)
		},
	})
}
