package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/bundle-store/internal/gateway"
	"github.com/iliyamo/bundle-store/internal/service"
)

// CallbackSecretHeader carries the shared secret configured with the
// gateway's callback URL.
const CallbackSecretHeader = "X-Gateway-Secret"

// GatewayHandler receives payment notifications.  Responses are bare
// status codes; the gateway retries on anything but 200.
type GatewayHandler struct {
	Verifier *service.Verifier
	Secret   string // empty disables the header check
	Log      zerolog.Logger
}

func NewGatewayHandler(v *service.Verifier, secret string, log zerolog.Logger) *GatewayHandler {
	return &GatewayHandler{Verifier: v, Secret: secret, Log: log.With().Str("component", "gateway-handler").Logger()}
}

// Callback handles POST /gateway/callback with a JSON or form body.
func (h *GatewayHandler) Callback(c echo.Context) error {
	if h.Secret != "" {
		got := c.Request().Header.Get(CallbackSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
			h.Log.Warn().Str("client_ip", c.RealIP()).Msg("callback with bad secret")
			return c.NoContent(http.StatusUnauthorized)
		}
	}

	var cb gateway.Callback
	if err := c.Bind(&cb); err != nil {
		h.Log.Warn().Err(err).Msg("undecodable callback")
		return c.NoContent(http.StatusBadRequest)
	}

	// The transition must not be abandoned half way because the gateway
	// hung up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), 2*requestTimeout)
	defer cancel()

	_, err := h.Verifier.HandleCallback(ctx, cb)
	switch {
	case err == nil:
		return c.NoContent(http.StatusOK)
	case errors.Is(err, service.ErrNotFound):
		return c.NoContent(http.StatusNotFound)
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrAmountMismatch),
		errors.Is(err, service.ErrInvalidState):
		return c.NoContent(http.StatusBadRequest)
	}
	h.Log.Error().Err(err).Str("order_id", cb.SenderInvoiceNo).Msg("callback processing failed")
	return c.NoContent(http.StatusInternalServerError)
}
