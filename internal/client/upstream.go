// Package client provides the upstream HTTP client for the relay.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"dice-relay-go/internal/config"
	"dice-relay-go/internal/metrics"
	"dice-relay-go/internal/model"
	"dice-relay-go/internal/telemetry"
)

// ErrEmptyBody is returned when the upstream closes the body before sending any data.
var ErrEmptyBody = errors.New("upstream returned empty body")

const (
	userAgent  = "dice-relay-go/1.0"
	tracerName = "dice-relay-go/internal/client"

	// maxEmptyReads bounds Read calls returning (0, nil) before giving up.
	maxEmptyReads = 100
)

// UpstreamClient sends requests to the fixed upstream.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics and telemetry parameters are optional; pass nil to disable them.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, tel *telemetry.Provider) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	var tp trace.TracerProvider = noop.NewTracerProvider()
	var prop propagation.TextMapPropagator = propagation.TraceContext{}
	if tel != nil {
		tp, prop = tel.TracerProvider, tel.Propagator
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:     logger.With("component", "upstream_client"),
		metrics:    m,
		tracer:     tp.Tracer(tracerName),
		propagator: prop,
	}
}

// Call issues a request to target and returns the open response.
// The caller is responsible for closing the response body. The context
// controls the lifetime of the upstream request: when it is canceled
// (e.g. the inbound caller disconnects), the upstream request is canceled too.
func (c *UpstreamClient) Call(ctx context.Context, target model.UpstreamTarget) (*model.UpstreamResponse, error) {
	ctx, span := c.tracer.Start(ctx, target.Method+" "+target.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", target.Method),
			attribute.String("server.address", target.Host),
			attribute.Int("server.port", target.Port),
			attribute.String("url.full", target.URL()),
		),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, target.Method, target.URL(), http.NoBody)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream request failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.UpstreamResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"url", req.URL.String(),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	c.logger.Debug("upstream response",
		"status", resp.StatusCode,
		"headers", resp.Header,
	)

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// ReadFirstChunk returns the data delivered by the first Read on r that
// yields any bytes, up to size bytes. Data arriving later is not waited for.
func ReadFirstChunk(r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	for range maxEmptyReads {
		n, err := r.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyBody
		}
		if err != nil {
			return nil, fmt.Errorf("read first chunk: %w", err)
		}
	}
	return nil, fmt.Errorf("read first chunk: %w", io.ErrNoProgress)
}

// ReadBody reads r to EOF, keeping at most limit bytes.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyBody
	}
	return data, nil
}
