package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const timeoutMessage = "request processing exceeded the allowed time limit"

// RequestTimeout bounds every request context by d. Repository calls see the
// deadline through the context; a handler that overruns it before writing
// anything gets a 504 in its place. A non-positive d disables the bound.
func RequestTimeout(d time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			herr := next(c)
			if c.Response().Committed || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return herr
			}
			return c.JSON(http.StatusGatewayTimeout, map[string]string{"message": timeoutMessage})
		}
	}
}
