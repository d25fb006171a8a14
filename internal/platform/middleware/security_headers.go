package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	apiCSP   = "default-src 'none'; frame-ancestors 'none'"
	photoCSP = "default-src 'none'; img-src 'self'; frame-ancestors 'none'"
)

// SecurityHeaders sets hardening headers for a JSON API that serves intake
// history. Photo downloads get a policy that lets a browser render the image.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			if strings.Contains(c.Request().URL.Path, "/photos/") {
				h.Set("Content-Security-Policy", photoCSP)
			} else {
				h.Set("Content-Security-Policy", apiCSP)
			}
			return next(c)
		}
	}
}
