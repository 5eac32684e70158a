// Package game implements the interactive dice-guessing client.
package game

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"dice-relay-go/internal/client"
	"dice-relay-go/internal/config"
	"dice-relay-go/internal/model"
	"dice-relay-go/internal/telemetry"
)

const tracerName = "dice-relay-go/internal/game"

// errInvalidInput marks a guess that was rejected; the user is asked again.
var errInvalidInput = errors.New("invalid input")

// Game plays rounds of guess-the-roll against the dice upstream.
type Game struct {
	in      *bufio.Scanner
	out     io.Writer
	client  *client.UpstreamClient
	target  model.UpstreamTarget
	sides   int
	maxBody int64
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a Game reading answers from in and writing prompts to out.
// The telemetry parameter is optional.
func New(in io.Reader, out io.Writer, c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, tel *telemetry.Provider) (*Game, error) {
	target, err := cfg.Upstream.Target()
	if err != nil {
		return nil, fmt.Errorf("resolve upstream target: %w", err)
	}

	var tp trace.TracerProvider = noop.NewTracerProvider()
	if tel != nil {
		tp = tel.TracerProvider
	}

	return &Game{
		in:      bufio.NewScanner(in),
		out:     out,
		client:  c,
		target:  target,
		sides:   cfg.Dice.Sides,
		maxBody: cfg.Relay.MaxBodyBytes,
		logger:  logger.With("component", "game"),
		tracer:  tp.Tracer(tracerName),
	}, nil
}

// Play runs the game until the user declines another round, input ends or
// ctx is canceled.
func (g *Game) Play(ctx context.Context) error {
	g.welcome()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		again, err := g.round(ctx)
		if errors.Is(err, errInvalidInput) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if !again {
			return nil
		}
	}
}

func (g *Game) welcome() {
	g.println("Welcome to the dice game!")
	g.printf("You will be asked to guess a number between 1 and %d.\n", g.sides)
	g.println("If you guess correctly, you win!")
	g.println("If you guess incorrectly, you lose!")
	g.println("Good luck!")
	g.println()
}

// round plays one guess. It reports whether the user wants another round.
func (g *Game) round(ctx context.Context) (bool, error) {
	ctx, span := g.tracer.Start(ctx, "game_round")
	defer span.End()

	guess, err := g.readGuess()
	if err != nil {
		return false, err
	}
	span.SetAttributes(attribute.Int("app.guess", guess))

	roll, err := g.fetchRoll(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch roll")
		g.printf("Error getting random number from server: %v\n", err)
	} else {
		span.SetAttributes(attribute.Int("app.dice_roll", roll))
		g.printf("The server rolled a %d\n", roll)
		if guess == roll {
			g.println("You win!")
		} else {
			g.println("You lose!")
		}
		span.SetAttributes(attribute.Bool("app.win", guess == roll))
	}

	return g.readContinue(), nil
}

func (g *Game) readGuess() (int, error) {
	g.printf("Enter a number between 1 and %d\n", g.sides)
	line, ok := g.readLine()
	if !ok {
		return 0, io.EOF
	}

	n, err := strconv.Atoi(line)
	if err != nil {
		g.printf("Invalid Character, Please enter a number between 1 and %d.\n", g.sides)
		return 0, errInvalidInput
	}
	if n < 1 || n > g.sides {
		g.printf("Number out of Range, Please enter a number between 1 and %d.\n", g.sides)
		return 0, errInvalidInput
	}
	return n, nil
}

func (g *Game) readContinue() bool {
	g.println("Try again? (y/n)")
	line, ok := g.readLine()
	return ok && strings.EqualFold(line, "y")
}

func (g *Game) readLine() (string, bool) {
	if !g.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(g.in.Text()), true
}

// fetchRoll asks the upstream for one roll and parses the whole body.
func (g *Game) fetchRoll(ctx context.Context) (int, error) {
	ctx, span := g.tracer.Start(ctx, "fetch_roll")
	defer span.End()

	resp, err := g.client.Call(ctx, g.target)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := client.ReadBody(resp.Body, g.maxBody)
	if err != nil {
		return 0, err
	}

	roll, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil {
		g.logger.Debug("unexpected upstream body", "status", resp.StatusCode, "body", string(body))
		return 0, fmt.Errorf("parse roll: %w", err)
	}
	return roll, nil
}

func (g *Game) println(a ...any) {
	_, _ = fmt.Fprintln(g.out, a...)
}

func (g *Game) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(g.out, format, a...)
}
