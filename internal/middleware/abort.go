package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// AbortUnanswered drops the connection when a handler returns without
// writing anything, as a held relay request does once its context ends.
// Otherwise net/http would finish the exchange as an empty 200.
// It must be the outermost middleware so the abort skips Echo's error handler.
func AbortUnanswered() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil && !c.Response().Committed {
				panic(http.ErrAbortHandler)
			}
			return err
		}
	}
}
