package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"

	"dice-relay-go/internal/client"
	"dice-relay-go/internal/config"
	"dice-relay-go/internal/handler"
	"dice-relay-go/internal/metrics"
	"dice-relay-go/internal/service"
	"dice-relay-go/internal/telemetry"
)

func TestCLI_Parse(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		command string
		check   func(t *testing.T, c *cli)
	}{
		{
			name:    "serve is the default",
			args:    []string{"--port", "4000"},
			command: "serve",
			check: func(t *testing.T, c *cli) {
				if c.Serve.Port != 4000 {
					t.Errorf("Serve.Port = %d, want 4000", c.Serve.Port)
				}
			},
		},
		{
			name:    "upstream with sides",
			args:    []string{"upstream", "-p", "9000", "--sides", "20"},
			command: "upstream",
			check: func(t *testing.T, c *cli) {
				if c.Upstream.Port != 9000 || c.Upstream.Sides != 20 {
					t.Errorf("Upstream = %+v, want port 9000, sides 20", c.Upstream)
				}
			},
		},
		{
			name:    "play with global flags",
			args:    []string{"--upstream-url", "http://10.0.0.1:8080", "--log-level", "debug", "play"},
			command: "play",
			check: func(t *testing.T, c *cli) {
				if c.UpstreamURL != "http://10.0.0.1:8080" {
					t.Errorf("UpstreamURL = %q", c.UpstreamURL)
				}
				if c.LogLevel != "debug" {
					t.Errorf("LogLevel = %q", c.LogLevel)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c cli
			parser, err := kong.New(&c, kong.Vars{"version": "test"}, kong.Exit(func(int) { t.Fatal("unexpected exit") }))
			if err != nil {
				t.Fatalf("kong.New() error = %v", err)
			}
			ctx, err := parser.Parse(tt.args)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got := ctx.Selected().Name; got != tt.command {
				t.Errorf("command = %q, want %q", got, tt.command)
			}
			tt.check(t, &c)
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantDebug bool
		wantJSON  bool
	}{
		{"default json info", "info", "json", false, true},
		{"text debug", "debug", "text", true, false},
		{"error hides debug", "error", "json", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := &config.Config{Log: config.LogConfig{Level: tt.level, Format: tt.format}}
			logger := newLogger(&buf)(cfg)

			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}

			logger.Error("sample")
			isJSON := bytes.HasPrefix(buf.Bytes(), []byte("{"))
			if isJSON != tt.wantJSON {
				t.Errorf("json output = %v, want %v (%q)", isJSON, tt.wantJSON, buf.String())
			}
		})
	}
}

func TestServeCmd_Env(t *testing.T) {
	t.Setenv("HOST", "10.9.9.9")
	t.Setenv("PORT", "5555")
	t.Setenv("RELAY_PORT", "4100")

	var c cli
	parser, err := kong.New(&c, kong.Vars{"version": "test"}, kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	if err != nil {
		t.Fatalf("kong.New() error = %v", err)
	}
	if _, err := parser.Parse(nil); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if c.Serve.Host != "" {
		t.Errorf("Serve.Host = %q, want empty (HOST must not apply)", c.Serve.Host)
	}
	if c.Serve.Port != 4100 {
		t.Errorf("Serve.Port = %d, want 4100 from RELAY_PORT", c.Serve.Port)
	}
}

// newFrontServer serves the front listener routes through the production
// middleware chain. Canceling the returned func ends every request context,
// as startServer does on stop.
func newFrontServer(t *testing.T, upstreamURL, failureMode string) (*httptest.Server, context.CancelFunc) {
	t.Helper()

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         upstreamURL,
			Path:            "/rolldice",
			TimeoutSeconds:  5,
			IdleConnections: 4,
		},
		Relay: config.RelayConfig{
			Capture:        config.CaptureFirstChunk,
			ChunkSizeBytes: 64 * 1024,
			MaxBodyBytes:   1024 * 1024,
			FailureMode:    failureMode,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	tel, err := telemetry.New(context.Background(), config.TracingConfig{}, "test", logger)
	if err != nil {
		t.Fatalf("telemetry.New() error = %v", err)
	}

	uc := client.NewUpstreamClient(cfg, logger, m, tel)
	svc, err := service.NewRelayService(uc, cfg, logger, m)
	if err != nil {
		t.Fatalf("NewRelayService() error = %v", err)
	}

	e := newEcho(logger, m, tel)
	handler.RegisterRoutes(e,
		handler.NewRelayHandler(svc, cfg, logger),
		handler.NewHealthHandler(cfg, "test"),
		cfg, m,
	)

	baseCtx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewUnstartedServer(e)
	srv.Config.BaseContext = func(net.Listener) context.Context { return baseCtx }
	srv.Start()
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, cancel
}

func TestFrontListener_HelloIgnoresRequestBody(t *testing.T) {
	srv, _ := newFrontServer(t, "http://127.0.0.1:8080", config.FailureRespond)

	body := strings.NewReader(strings.Repeat("x", 2<<20))
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/", body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer resp.Body.Close()

	got, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if string(got) != "Hello World!" {
		t.Errorf("body = %q, want %q", got, "Hello World!")
	}
}

func TestFrontListener_HoldSendsNothingOnShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closed := "http://" + ln.Addr().String()
	_ = ln.Close()

	srv, cancel := newFrontServer(t, closed, config.FailureHold)

	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	resp, err := srv.Client().Get(srv.URL + "/rolldice")
	if err == nil {
		got, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("GET /rolldice got status %d body %q, want the connection dropped", resp.StatusCode, got)
	}
}
