package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger derives a request logger carrying the request id, places it on the
// request context for handlers and services, and writes one access line
// after the handler returns. Handler errors are resolved through echo's
// error handler here so the logged status is the one the client sees.
func Logger(base zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			started := time.Now()
			rid, _ := c.Get("request_id").(string)
			log := base.With().Str("request_id", rid).Logger()
			req := c.Request()
			c.SetRequest(req.WithContext(log.WithContext(req.Context())))

			herr := next(c)
			if herr != nil {
				c.Error(herr)
			}

			res := c.Response()
			var ev *zerolog.Event
			switch {
			case res.Status >= 500:
				ev = log.Error().Err(herr)
			case res.Status >= 400:
				ev = log.Warn().Err(herr)
			default:
				ev = log.Info()
			}
			if uid, ok := c.Get("user_id").(int64); ok {
				ev = ev.Int64("user_id", uid)
			}
			ev.Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Int("status", res.Status).
				Int64("bytes_out", res.Size).
				Dur("latency", time.Since(started)).
				Str("remote_ip", c.RealIP()).
				Msg("request")
			return nil
		}
	}
}
