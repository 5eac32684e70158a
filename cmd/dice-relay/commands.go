package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"go.uber.org/fx"

	"dice-relay-go/internal/client"
	"dice-relay-go/internal/config"
	"dice-relay-go/internal/dice"
	"dice-relay-go/internal/game"
	"dice-relay-go/internal/handler"
	"dice-relay-go/internal/metrics"
	"dice-relay-go/internal/service"
	"dice-relay-go/internal/telemetry"
)

type serveCmd struct {
	Host string `help:"Listen host (overrides config)." env:"RELAY_HOST"`
	Port int    `short:"p" help:"Listen port (overrides config)." env:"RELAY_PORT"`
}

// Run starts the front listener and relays /rolldice to the upstream.
func (s *serveCmd) Run(globals *config.CLI) error {
	fx.New(
		fx.Supply(globals),
		fx.Provide(
			func(cli *config.CLI) (*config.Config, error) {
				return config.Load(cli, config.WithServerAddr(s.Host, s.Port))
			},
			func(cfg *config.Config) listenAddr { return listenAddr(cfg.Server.Addr()) },
			func() handler.Version { return handler.Version(version) },
			newLogger(os.Stdout),
			newTelemetry(""),
			metrics.New,
			newEcho,
			client.NewUpstreamClient,
			service.NewRelayService,
			handler.NewRelayHandler,
			handler.NewHealthHandler,
		),
		fx.WithLogger(fxLogger),
		fx.Invoke(setMaxProcs, useRateLimiter, handler.RegisterRoutes, warnConfigPermissions, startServer),
	).Run()
	return nil
}

type upstreamCmd struct {
	Host  string `help:"Listen host (overrides config)." env:"DICE_HOST"`
	Port  int    `short:"p" help:"Listen port (overrides config)." env:"DICE_PORT"`
	Sides int    `help:"Number of faces on the die (overrides config)." env:"DICE_SIDES"`
}

// Run starts the dice upstream.
func (u *upstreamCmd) Run(globals *config.CLI) error {
	fx.New(
		fx.Supply(globals),
		fx.Provide(
			func(cli *config.CLI) (*config.Config, error) {
				return config.Load(cli, config.WithDiceAddr(u.Host, u.Port), config.WithDiceSides(u.Sides))
			},
			func(cfg *config.Config) listenAddr { return listenAddr(cfg.Dice.Addr()) },
			newLogger(os.Stdout),
			newTelemetry("dice_server"),
			metrics.New,
			newEcho,
			dice.NewHandler,
		),
		fx.WithLogger(fxLogger),
		fx.Invoke(setMaxProcs, dice.RegisterRoutes, warnConfigPermissions, startServer),
	).Run()
	return nil
}

type playCmd struct {
	Sides int `help:"Number of faces on the die (overrides config)." env:"DICE_SIDES"`
}

// Run plays the guessing game on stdin/stdout. Logs go to stderr.
func (p *playCmd) Run(globals *config.CLI) error {
	fx.New(
		fx.Supply(globals),
		fx.Provide(
			func(cli *config.CLI) (*config.Config, error) {
				return config.Load(cli, config.WithDiceSides(p.Sides))
			},
			newLogger(os.Stderr),
			newTelemetry("dice_client"),
			func(cfg *config.Config, logger *slog.Logger, tel *telemetry.Provider) *client.UpstreamClient {
				return client.NewUpstreamClient(cfg, logger, nil, tel)
			},
		),
		fx.NopLogger,
		fx.Invoke(runGame),
	).Run()
	return nil
}

func runGame(lc fx.Lifecycle, sd fx.Shutdowner, cfg *config.Config, logger *slog.Logger, c *client.UpstreamClient, tel *telemetry.Provider) error {
	g, err := game.New(os.Stdin, os.Stdout, c, cfg, logger, tel)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := g.Play(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("game ended", "err", err)
					_ = sd.Shutdown(fx.ExitCode(1))
					return
				}
				_ = sd.Shutdown()
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
	return nil
}
