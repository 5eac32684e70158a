package middleware

import (
	"github.com/labstack/echo/v4"
)

// Connection-scoped request headers. The relay builds its own upstream
// request, so none of these should reach a handler.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Fixed headers for every front listener response. Dice results are never cacheable.
var responseHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Cache-Control", "no-store"},
}

// SecurityHeaders strips hop-by-hop request headers and stamps responseHeaders
// onto the response before the handler writes anything.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			in := c.Request().Header
			for _, name := range hopByHopHeaders {
				in.Del(name)
			}

			out := c.Response().Header()
			for _, kv := range responseHeaders {
				out.Set(kv[0], kv[1])
			}
			return next(c)
		}
	}
}
