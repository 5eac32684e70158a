// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"dice-relay-go/internal/model"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/dice-relay/config.toml",
	"configs/config.toml",
}

// Capture modes for relayed upstream bodies.
const (
	CaptureFirstChunk = "first_chunk"
	CaptureFullBody   = "full_body"
)

// Trace exporters.
const (
	ExporterOTLPHTTP = "otlp_http"
	ExporterOTLPGRPC = "otlp_grpc"
	ExporterStdout   = "stdout"
)

// Failure modes for upstream errors on the relay route.
const (
	FailureRespond = "respond"
	FailureHold    = "hold"
)

// CLI holds the global command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	UpstreamURL string `kong:"name='upstream-url',help='Upstream base URL (overrides config).',env='UPSTREAM_URL'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	LogFormat   string `kong:"help='Log format: json|text (overrides config).',env='LOG_FORMAT'"`
}

// Option adjusts a loaded Config before validation.
type Option func(*Config)

// WithServerAddr overrides the front listener address. Zero values are ignored.
func WithServerAddr(host string, port int) Option {
	return func(c *Config) {
		if host != "" {
			c.Server.Host = host
		}
		if port != 0 {
			c.Server.Port = port
		}
	}
}

// WithDiceAddr overrides the dice upstream listen address. Zero values are ignored.
func WithDiceAddr(host string, port int) Option {
	return func(c *Config) {
		if host != "" {
			c.Dice.Host = host
		}
		if port != 0 {
			c.Dice.Port = port
		}
	}
}

// WithDiceSides overrides the number of faces on the die. Zero is ignored.
func WithDiceSides(sides int) Option {
	return func(c *Config) {
		if sides != 0 {
			c.Dice.Sides = sides
		}
	}
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Relay    RelayConfig    `toml:"relay"`
	Dice     DiceConfig     `toml:"dice"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Tracing  TracingConfig  `toml:"tracing"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds front listener settings.
type ServerConfig struct {
	Host      string          `toml:"host"`
	Port      int             `toml:"port"` // 0 means "use default" (3000); TOML cannot distinguish 0 from unset
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig describes the fixed upstream the relay calls.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url"`
	Path            string `toml:"path"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// RelayConfig controls how upstream responses are captured and how failures surface.
type RelayConfig struct {
	Capture        string `toml:"capture"`
	ChunkSizeBytes int    `toml:"chunk_size_bytes"`
	MaxBodyBytes   int64  `toml:"max_body_bytes"`
	FailureMode    string `toml:"failure_mode"`
	MaxInFlight    int64  `toml:"max_in_flight"` // 0 means unbounded
}

// DiceConfig holds settings for the dice upstream service.
type DiceConfig struct {
	Host  string `toml:"host"`
	Port  int    `toml:"port"`
	Sides int    `toml:"sides"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// TracingConfig holds trace export settings.
type TracingConfig struct {
	Enabled      bool              `toml:"enabled"`
	Exporter     string            `toml:"exporter"`
	Endpoint     string            `toml:"endpoint"`
	Insecure     bool              `toml:"insecure"`
	ServiceName  string            `toml:"service_name"`
	Headers      map[string]string `toml:"headers"`
	APIKeyEnv    string            `toml:"api_key_env"`
	APIKeyHeader string            `toml:"api_key_header"`
}

// Load reads the TOML config file, applies CLI overrides and options, then
// validates the result. When no explicit path is given (via --config or
// CONFIG_PATH) it searches /etc/dice-relay/config.toml then configs/config.toml;
// if neither exists the built-in defaults are used.
func Load(cli *CLI, opts ...Option) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	for _, opt := range opts {
		opt(&cfg)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.UpstreamURL != "" {
		c.Upstream.BaseURL = cli.UpstreamURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		c.Log.Format = cli.LogFormat
	}
}

// setDefaults fills zero-valued fields with defaults matching the original
// deployment: front listener on 3000, upstream on 127.0.0.1:8080/rolldice.
// Negative values are left alone so validation can reject them.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "http://127.0.0.1:8080"
	}
	if c.Upstream.Path == "" {
		c.Upstream.Path = "/rolldice"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Relay.Capture == "" {
		c.Relay.Capture = CaptureFirstChunk
	}
	if c.Relay.ChunkSizeBytes == 0 {
		c.Relay.ChunkSizeBytes = 64 * 1024
	}
	if c.Relay.MaxBodyBytes == 0 {
		c.Relay.MaxBodyBytes = 1024 * 1024
	}
	if c.Relay.FailureMode == "" {
		c.Relay.FailureMode = FailureRespond
	}
	if c.Dice.Host == "" {
		c.Dice.Host = "127.0.0.1"
	}
	if c.Dice.Port == 0 {
		c.Dice.Port = 8080
	}
	if c.Dice.Sides == 0 {
		c.Dice.Sides = 6
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = ExporterOTLPHTTP
	}
	c.Tracing.Exporter = strings.ToLower(c.Tracing.Exporter)
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "api.honeycomb.io"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "dice_relay"
	}
	if c.Tracing.APIKeyEnv == "" {
		c.Tracing.APIKeyEnv = "HONEYCOMB_API_KEY"
	}
	if c.Tracing.APIKeyHeader == "" {
		c.Tracing.APIKeyHeader = "x-honeycomb-team"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Addr returns the dice upstream listen address as host:port.
func (c *DiceConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Target resolves the configured upstream into a fixed GET target.
// Ports missing from base_url default to 80/443 by scheme. A path in
// base_url prefixes the relay path, matching URL.
func (c *UpstreamConfig) Target() (model.UpstreamTarget, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return model.UpstreamTarget{}, fmt.Errorf("parse upstream base_url: %w", err)
	}

	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return model.UpstreamTarget{}, fmt.Errorf("parse upstream port %q: %w", p, err)
		}
	}

	return model.UpstreamTarget{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
		Path:   strings.TrimSuffix(u.Path, "/") + c.Path,
		Method: "GET",
	}, nil
}

// URL returns the full upstream URL including the relay path.
func (c *UpstreamConfig) URL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + c.Path
}

// APIKey returns the tracing API key read from the configured environment variable.
func (c *TracingConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// FilePath returns the config file the values were read from, or empty when
// only defaults were used.
func (c *Config) FilePath() string {
	return c.filePath
}
