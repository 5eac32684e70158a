// Package service implements the relay call: one upstream GET per inbound
// request, returning the captured part of the upstream body.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/semaphore"

	"dice-relay-go/internal/client"
	"dice-relay-go/internal/config"
	"dice-relay-go/internal/metrics"
	"dice-relay-go/internal/model"
)

// RelayService performs relay calls against the fixed upstream target.
type RelayService struct {
	client  *client.UpstreamClient
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	target  model.UpstreamTarget
	slots   *semaphore.Weighted // nil when unbounded
}

// NewRelayService creates a RelayService. The metrics parameter is optional.
func NewRelayService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*RelayService, error) {
	target, err := cfg.Upstream.Target()
	if err != nil {
		return nil, fmt.Errorf("resolve upstream target: %w", err)
	}

	s := &RelayService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "relay_service"),
		metrics: m,
		target:  target,
	}
	if cfg.Relay.MaxInFlight > 0 {
		s.slots = semaphore.NewWeighted(cfg.Relay.MaxInFlight)
	}
	return s, nil
}

// Target returns the upstream target every relay call goes to.
func (s *RelayService) Target() model.UpstreamTarget {
	return s.target
}

// Relay makes exactly one upstream call and returns the captured body.
// In first_chunk mode only the first data event is returned and the rest of
// the body is discarded. The upstream body is always closed before returning.
func (s *RelayService) Relay(ctx context.Context) (*model.RelayResult, error) {
	if s.slots != nil {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			s.recordFailure("canceled")
			return nil, fmt.Errorf("wait for relay slot: %w", err)
		}
		defer s.slots.Release(1)
	}
	if s.metrics != nil {
		s.metrics.RelaysInFlight.Inc()
		defer s.metrics.RelaysInFlight.Dec()
	}

	start := time.Now()
	resp, err := s.client.Call(ctx, s.target)
	if err != nil {
		s.recordFailure(failureReason(err))
		s.logger.Error("upstream call failed",
			"err", err,
			"url", s.target.URL(),
		)
		return nil, fmt.Errorf("relay to upstream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var data []byte
	switch s.cfg.Relay.Capture {
	case config.CaptureFullBody:
		data, err = client.ReadBody(resp.Body, s.cfg.Relay.MaxBodyBytes)
	default:
		data, err = client.ReadFirstChunk(resp.Body, s.cfg.Relay.ChunkSizeBytes)
	}
	if err != nil {
		s.recordFailure(failureReason(err))
		s.logger.Error("reading upstream body failed",
			"err", err,
			"status", resp.StatusCode,
		)
		return nil, fmt.Errorf("relay to upstream: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RelayBytes.Observe(float64(len(data)))
	}

	s.logger.Debug("relayed upstream data",
		"status", resp.StatusCode,
		"bytes", len(data),
		"capture", s.cfg.Relay.Capture,
	)

	return &model.RelayResult{
		Data:       data,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Duration:   time.Since(start),
	}, nil
}

func (s *RelayService) recordFailure(reason string) {
	if s.metrics != nil {
		s.metrics.RelayFailures.WithLabelValues(reason).Inc()
	}
}

// failureReason maps an error to a bounded metrics label.
func failureReason(err error) string {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, client.ErrEmptyBody):
		return "empty_body"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &dnsErr):
		return "dns"
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "timeout"
		}
		return "upstream_error"
	}
}
