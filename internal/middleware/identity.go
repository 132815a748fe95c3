package middleware

// identity.go holds the context keys written by JWTAuth and the helpers
// that read them back for handlers and for rate-limit keys.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bundle-store/internal/service"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// CurrentPrincipal returns the authenticated caller.  ok is false when
// JWTAuth did not run for this route or the values are missing.
func CurrentPrincipal(c echo.Context) (service.Principal, bool) {
	id, ok := c.Get(ctxUserID).(uint64)
	if !ok || id == 0 {
		return service.Principal{}, false
	}
	role, _ := c.Get(ctxRole).(string)
	return service.Principal{UserID: id, Role: role}, true
}

// userID returns the caller's id as a string for key building, or "guest"
// for anonymous requests.
func userID(c echo.Context) string {
	if p, ok := CurrentPrincipal(c); ok {
		return strconv.FormatUint(p.UserID, 10)
	}
	return "guest"
}
