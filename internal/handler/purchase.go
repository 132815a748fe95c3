package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/bundle-store/internal/model"
	"github.com/iliyamo/bundle-store/internal/service"
)

// PurchaseHandler serves the buyer's side of the order lifecycle.  All
// routes require JWTAuth.
type PurchaseHandler struct {
	Ledger   *service.Ledger
	Verifier *service.Verifier
	Payments *service.Payments
	Log      zerolog.Logger
}

func NewPurchaseHandler(l *service.Ledger, v *service.Verifier, p *service.Payments, log zerolog.Logger) *PurchaseHandler {
	return &PurchaseHandler{Ledger: l, Verifier: v, Payments: p, Log: log.With().Str("component", "purchase-handler").Logger()}
}

type purchaseReq struct {
	Method string `json:"method" form:"method" validate:"omitempty,oneof=bank_transfer gateway"`
}

type purchaseResp struct {
	Order    model.Order       `json:"order"`
	Created  bool              `json:"created"`
	Checkout *service.Checkout `json:"checkout,omitempty"`
	// CheckoutError is set when the order exists but payment instructions
	// could not be produced; retrying the request reuses the order.
	CheckoutError string `json:"checkout_error,omitempty"`
}

// Request handles POST /purchase/request.  It returns the caller's pending
// order, creating one when needed, with instructions for paying it.
func (h *PurchaseHandler) Request(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req purchaseReq
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
		}
		if err := c.Validate(&req); err != nil {
			return fail(c, h.Log, err)
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	order, created, err := h.Ledger.CreateOrRetrievePending(ctx, p.UserID, req.Method)
	if err != nil {
		return fail(c, h.Log, err)
	}
	resp := purchaseResp{Order: order, Created: created}
	if h.Payments != nil {
		co, err := h.Payments.Checkout(ctx, order)
		if err != nil {
			h.Log.Error().Err(err).Str("order_id", order.PublicID).Msg("checkout failed")
			resp.CheckoutError = "payment instructions are temporarily unavailable"
		} else {
			resp.Checkout = &co
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Status handles GET /purchase/status: the caller's current order, if
// any, and whether the download is unlocked.
func (h *PurchaseHandler) Status(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	order, entitled, err := h.Ledger.Current(ctx, p.UserID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"order": order, "entitled": entitled})
}

// Order handles GET /purchase/order/:id.
func (h *PurchaseHandler) Order(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	order, err := h.Ledger.GetOrder(ctx, c.Param("id"), p)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, order)
}

// OrderStatus handles GET /purchase/order/:id/status.  A pending gateway
// order is first reconciled against the gateway so a lost callback does
// not leave the buyer waiting.
func (h *PurchaseHandler) OrderStatus(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*requestTimeout)
	defer cancel()

	order, err := h.Ledger.GetOrder(ctx, c.Param("id"), p)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if h.Verifier != nil {
		order, err = h.Verifier.Reconcile(ctx, order)
		if err != nil {
			return fail(c, h.Log, err)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"order_id": order.PublicID,
		"status":   order.Status,
		"paid":     order.Status == model.OrderPaid,
		"order":    order,
	})
}

// Cancel handles POST /purchase/order/:id/cancel.
func (h *PurchaseHandler) Cancel(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	order, err := h.Ledger.Cancel(ctx, c.Param("id"), p.UserID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, order)
}
