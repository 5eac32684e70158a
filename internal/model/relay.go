// Package model defines shared types for the relay.
package model

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// UpstreamTarget is the fixed destination every relay call goes to.
type UpstreamTarget struct {
	Scheme string
	Host   string
	Port   int
	Path   string
	Method string
}

// URL returns the absolute URL of the target.
func (t UpstreamTarget) URL() string {
	u := url.URL{
		Scheme: t.Scheme,
		Host:   net.JoinHostPort(t.Host, strconv.Itoa(t.Port)),
		Path:   t.Path,
	}
	return u.String()
}

// RelayResult holds the bytes captured from one upstream response.
type RelayResult struct {
	Data       []byte
	StatusCode int
	Header     http.Header
	Duration   time.Duration
}

// UpstreamResponse represents an open upstream response. The caller owns Body.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
