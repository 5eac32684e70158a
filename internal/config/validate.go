package config

import (
	"net/url"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

func init() {
	// Report errors under the names used in the config file.
	validation.ErrorTag = "toml"
}

var absolutePath = regexp.MustCompile(`^/`)

// reservedRoutes are served by the front listener and cannot host metrics.
var reservedRoutes = []string{"/", "/rolldice", "/healthz", "/relay/status"}

// Validate checks every section of the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server),
		validation.Field(&c.Upstream),
		validation.Field(&c.Relay),
		validation.Field(&c.Dice),
		validation.Field(&c.Log),
		validation.Field(&c.Metrics),
		validation.Field(&c.Tracing),
	)
}

// Validate checks the front listener settings.
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Host, is.Host),
		validation.Field(&s.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&s.RateLimit),
	)
}

// Validate requires a positive rate when limiting is enabled.
func (r RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequestsPerSecond,
			validation.When(r.Enabled,
				validation.Required.Error("must be > 0 when rate limiting is enabled"),
				validation.Min(0.0).Exclusive(),
			),
		),
	)
}

// Validate checks the upstream URL and client limits.
func (u UpstreamConfig) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.BaseURL, validation.Required, validation.By(httpURL)),
		validation.Field(&u.Path, validation.Required, validation.Match(absolutePath).Error("must start with '/'")),
		validation.Field(&u.TimeoutSeconds, validation.Min(0)),
		validation.Field(&u.IdleConnections, validation.Min(0)),
	)
}

// Validate checks relay capture and failure settings.
func (r RelayConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Capture, validation.In(CaptureFirstChunk, CaptureFullBody)),
		validation.Field(&r.ChunkSizeBytes, validation.Min(1)),
		validation.Field(&r.MaxBodyBytes, validation.Min(1)),
		validation.Field(&r.FailureMode, validation.In(FailureRespond, FailureHold)),
		validation.Field(&r.MaxInFlight, validation.Min(0)),
	)
}

// Validate checks the dice upstream settings.
func (d DiceConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Host, is.Host),
		validation.Field(&d.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&d.Sides, validation.Min(2)),
	)
}

// Validate checks log level and format.
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("json", "text")),
	)
}

// Validate checks the metrics path only when metrics are enabled.
func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Path,
			validation.When(m.Enabled,
				validation.Match(absolutePath).Error("must start with '/'"),
				validation.By(notReservedRoute),
			),
		),
	)
}

// Validate requires an endpoint when spans are exported over OTLP.
func (t TracingConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Exporter, validation.In(ExporterOTLPHTTP, ExporterOTLPGRPC, ExporterStdout)),
		validation.Field(&t.Endpoint, validation.When(t.Enabled && t.Exporter != ExporterStdout, validation.Required)),
		validation.Field(&t.ServiceName, validation.When(t.Enabled, validation.Required)),
	)
}

func httpURL(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "must use http or https")
	}
	if u.Host == "" {
		return validation.NewError("validation_missing_host", "must have a host")
	}
	return nil
}

func notReservedRoute(value interface{}) error {
	p, _ := value.(string)
	for _, reserved := range reservedRoutes {
		if p == reserved || (reserved != "/" && strings.HasPrefix(p, reserved+"/")) {
			return validation.NewError("validation_reserved_route", "conflicts with reserved route "+reserved)
		}
	}
	return nil
}
