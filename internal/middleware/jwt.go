package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bundle-store/internal/service"
)

// TokenVerifier validates a raw bearer token.  *service.Sessions
// implements it.
type TokenVerifier interface {
	Verify(raw string) (service.Principal, error)
}

// JWTAuth returns an Echo middleware that validates a Bearer session token
// and injects the caller's user id and role into the request context.
// Handlers read them back with CurrentPrincipal.  The token is parsed and
// checked without touching the database.
func JWTAuth(v TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// A valid header is "Bearer <jwt>".
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			p, err := v.Verify(raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			c.Set(ctxUserID, p.UserID)
			c.Set(ctxRole, p.Role)
			return next(c)
		}
	}
}
