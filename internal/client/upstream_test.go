package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"dice-relay-go/internal/config"
	"dice-relay-go/internal/metrics"
	"dice-relay-go/internal/model"
	"dice-relay-go/internal/telemetry"
)

func testConfig(timeoutSeconds int) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  timeoutSeconds,
			IdleConnections: 10,
		},
	}
}

func targetFor(t *testing.T, rawURL, path string) model.UpstreamTarget {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse %q: %v", rawURL, err)
	}
	port, _ := strconv.Atoi(u.Port())
	return model.UpstreamTarget{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
		Path:   path,
		Method: http.MethodGet,
	}
}

func TestUpstreamClient_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if r.URL.Path != "/rolldice" {
			t.Errorf("path = %q, want /rolldice", r.URL.Path)
		}
		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("User-Agent = %q, want %q", ua, userAgent)
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("4"))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	c := NewUpstreamClient(testConfig(10), logger, m, nil)

	resp, err := c.Call(context.Background(), targetFor(t, srv.URL, "/rolldice"))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "4" {
		t.Errorf("body = %q, want %q", string(body), "4")
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "dice_relay_upstream_responses_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected dice_relay_upstream_responses_total to be recorded")
	}
}

func TestUpstreamClient_Call_Error(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testConfig(1), logger, nil, nil)

	_, err := c.Call(context.Background(), targetFor(t, "http://127.0.0.1:1", "/rolldice"))
	if err == nil {
		t.Fatal("Call() expected error for unreachable host, got nil")
	}
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		t.Errorf("Call() error = %v, want wrapped *url.Error", err)
	}
}

func TestUpstreamClient_Call_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate a slow upstream; the request should be canceled before this completes.
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testConfig(30), logger, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := c.Call(ctx, targetFor(t, srv.URL, "/slow"))
	if err == nil {
		t.Fatal("Call() expected error for canceled context, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Call() error = %v, want context.Canceled", err)
	}
}

func TestUpstreamClient_Call_PropagatesTraceContext(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("Traceparent")
		_, _ = w.Write([]byte("1"))
	}))
	defer srv.Close()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tel := &telemetry.Provider{TracerProvider: tp, Propagator: propagation.TraceContext{}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testConfig(10), logger, nil, tel)

	ctx, parent := tp.Tracer("test").Start(context.Background(), "inbound")
	resp, err := c.Call(ctx, targetFor(t, srv.URL, "/rolldice"))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	_ = resp.Body.Close()
	parent.End()

	header := <-got
	if !strings.Contains(header, parent.SpanContext().TraceID().String()) {
		t.Errorf("traceparent = %q, want trace id %s", header, parent.SpanContext().TraceID())
	}

	var client sdktrace.ReadOnlySpan
	for _, s := range sr.Ended() {
		if s.SpanKind() == trace.SpanKindClient {
			client = s
		}
	}
	if client == nil {
		t.Fatal("expected a client span to be recorded")
	}
	if client.Name() != "GET /rolldice" {
		t.Errorf("span name = %q, want %q", client.Name(), "GET /rolldice")
	}
	if client.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Error("client span should be a child of the inbound span")
	}
}

func TestReadFirstChunk(t *testing.T) {
	tests := []struct {
		name    string
		reader  io.Reader
		size    int
		want    string
		wantErr error
	}{
		{"single chunk", strings.NewReader("Value: 4"), 64, "Value: 4", nil},
		{"truncated to buffer", strings.NewReader("Value: 4"), 3, "Val", nil},
		{"one byte per read", iotest.OneByteReader(strings.NewReader("Value: 4")), 64, "V", nil},
		{"data with EOF", iotest.DataErrReader(strings.NewReader("6")), 64, "6", nil},
		{"empty body", strings.NewReader(""), 64, "", ErrEmptyBody},
		{"read error", iotest.ErrReader(io.ErrUnexpectedEOF), 64, "", io.ErrUnexpectedEOF},
		{"no progress", emptyReader{}, 64, "", io.ErrNoProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadFirstChunk(tt.reader, tt.size)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ReadFirstChunk() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadFirstChunk() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("ReadFirstChunk() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadFirstChunk_StopsAtFirstEvent(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Val"))
		w.(http.Flusher).Flush()
		<-release
		_, _ = w.Write([]byte("ue: 4"))
	}))
	defer srv.Close()
	defer close(release)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testConfig(10), logger, nil, nil)

	resp, err := c.Call(context.Background(), targetFor(t, srv.URL, "/rolldice"))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	got, err := ReadFirstChunk(resp.Body, 64)
	if err != nil {
		t.Fatalf("ReadFirstChunk() error = %v", err)
	}
	if string(got) != "Val" {
		t.Errorf("ReadFirstChunk() = %q, want %q", got, "Val")
	}
}

func TestReadBody(t *testing.T) {
	got, err := ReadBody(strings.NewReader("Value: 4"), 1024)
	if err != nil {
		t.Fatalf("ReadBody() error = %v", err)
	}
	if string(got) != "Value: 4" {
		t.Errorf("ReadBody() = %q, want %q", got, "Value: 4")
	}

	got, err = ReadBody(strings.NewReader("Value: 4"), 5)
	if err != nil {
		t.Fatalf("ReadBody() error = %v", err)
	}
	if string(got) != "Value" {
		t.Errorf("ReadBody() with limit = %q, want %q", got, "Value")
	}

	if _, err := ReadBody(strings.NewReader(""), 10); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("ReadBody() error = %v, want ErrEmptyBody", err)
	}
}

// emptyReader never yields data or an error.
type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, nil }
