package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/bundle-store/internal/middleware"
	"github.com/iliyamo/bundle-store/internal/service"
)

// statusOf maps a service error to its HTTP status and client message.
// Only errors built from the service sentinels carry their text to the
// client; anything else is reported as a generic internal error.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrDuplicateIdentity):
		return http.StatusBadRequest, service.ErrDuplicateIdentity.Error()
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, service.ErrInvalidCredentials.Error()
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, service.ErrInvalidToken.Error()
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, service.ErrForbidden.Error()
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, service.ErrNotFound.Error()
	case errors.Is(err, service.ErrInvalidState):
		return http.StatusBadRequest, service.ErrInvalidState.Error()
	case errors.Is(err, service.ErrAlreadyEntitled):
		return http.StatusBadRequest, service.ErrAlreadyEntitled.Error()
	case errors.Is(err, service.ErrAmountMismatch):
		return http.StatusBadRequest, service.ErrAmountMismatch.Error()
	case errors.Is(err, service.ErrPaymentRequired):
		return http.StatusForbidden, service.ErrPaymentRequired.Error()
	case errors.Is(err, service.ErrExpired):
		return http.StatusGone, service.ErrExpired.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}

// fail writes err as {"error": "..."}.  Internal errors are logged with
// their detail, which never reaches the client.
func fail(c echo.Context, log zerolog.Logger, err error) error {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", c.Request().Method).Str("route", c.Path()).Msg("request failed")
	}
	return c.JSON(status, echo.Map{"error": msg})
}

// principal returns the authenticated caller set by middleware.JWTAuth.
func principal(c echo.Context) (service.Principal, error) {
	p, ok := middleware.CurrentPrincipal(c)
	if !ok {
		return service.Principal{}, service.ErrInvalidToken
	}
	return p, nil
}
