package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type principalKey struct{}

// Principal is the verified caller. Role holds the raw role claim; the
// identity package decides what it permits.
type Principal struct {
	UserID int64
	Role   string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Infrastructure routes that never require a token.
var publicRoutes = []string{"/health", "/health/db", "/metrics"}

// IsPublicPath reports whether route bypasses bearer authentication.
func IsPublicPath(route string) bool {
	return slices.Contains(publicRoutes, route)
}

var (
	errNoAuthHeader  = errors.New("missing authorization header")
	errBadAuthHeader = errors.New("invalid authorization format")
)

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errNoAuthHeader
	}
	scheme, tok, ok := strings.Cut(header, " ")
	tok = strings.TrimSpace(tok)
	if !ok || !strings.EqualFold(scheme, "bearer") || tok == "" {
		return "", errBadAuthHeader
	}
	return tok, nil
}

// JWTMiddleware verifies the bearer token and puts the Principal on the
// request context. The user id is also set on the echo context under
// "user_id" for the rate limiter and access log.
func JWTMiddleware(tm *TokenManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if IsPublicPath(c.Path()) {
				return next(c)
			}

			tok, err := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			p, err := tm.Verify(tok)
			if err != nil {
				zerolog.Ctx(c.Request().Context()).Debug().Err(err).Msg("token rejected")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set("user_id", p.UserID)
			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

// MustPrincipal returns the caller, or a 401 when the request is anonymous.
func MustPrincipal(c echo.Context) (Principal, error) {
	if p, ok := PrincipalFromContext(c.Request().Context()); ok {
		return p, nil
	}
	return Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
}

// RequireRole admits only callers holding one of roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	denied := "required role: " + strings.Join(roles, " or ")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, err := MustPrincipal(c)
			if err != nil {
				return err
			}
			if !slices.Contains(roles, p.Role) {
				return echo.NewHTTPError(http.StatusForbidden, denied)
			}
			return next(c)
		}
	}
}
