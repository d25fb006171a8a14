package middleware

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

func isMultipart(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}

// BodyLimit caps request bodies with echo's limiter. Multipart requests carry
// intake photos and are held to uploadLimit; everything else to jsonLimit.
// Oversized bodies fail with 413 whether or not Content-Length is honest.
func BodyLimit(jsonLimit, uploadLimit int64) echo.MiddlewareFunc {
	forJSON := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Skipper: isMultipart,
		Limit:   strconv.FormatInt(jsonLimit, 10),
	})
	forUpload := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Skipper: func(c echo.Context) bool { return !isMultipart(c) },
		Limit:   strconv.FormatInt(uploadLimit, 10),
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return forJSON(forUpload(next))
	}
}
