package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/bundle-store/internal/model"
	"github.com/iliyamo/bundle-store/internal/service"
)

// AdminHandler exposes manual payment verification and read-only views of
// the ledger.  Routes require the ADMIN role.
type AdminHandler struct {
	Ledger   *service.Ledger
	Verifier *service.Verifier
	Log      zerolog.Logger
}

func NewAdminHandler(l *service.Ledger, v *service.Verifier, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{Ledger: l, Verifier: v, Log: log.With().Str("component", "admin-handler").Logger()}
}

type decisionReq struct {
	Notes  *string `json:"notes" form:"notes" validate:"omitempty,max=1000"`
	Reason *string `json:"reason" form:"reason" validate:"omitempty,max=1000"`
}

type decisionResp struct {
	Order   model.Order `json:"order"`
	Changed bool        `json:"changed"`
}

func (h *AdminHandler) bindDecision(c echo.Context) (decisionReq, error) {
	var req decisionReq
	if c.Request().ContentLength == 0 {
		return req, nil
	}
	if err := c.Bind(&req); err != nil {
		return req, service.ErrInvalidInput
	}
	return req, c.Validate(&req)
}

// Verify handles POST /admin/orders/:id/verify.  Verifying an order that
// is already decided succeeds with changed=false.
func (h *AdminHandler) Verify(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	req, err := h.bindDecision(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	order, changed, err := h.Verifier.Approve(ctx, c.Param("id"), p.UserID, trimmed(req.Notes))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, decisionResp{Order: order, Changed: changed})
}

// Reject handles POST /admin/orders/:id/reject.
func (h *AdminHandler) Reject(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	req, err := h.bindDecision(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	reason := req.Reason
	if reason == nil {
		reason = req.Notes
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	order, changed, err := h.Verifier.Reject(ctx, c.Param("id"), p.UserID, trimmed(reason))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, decisionResp{Order: order, Changed: changed})
}

// Orders handles GET /admin/orders?status=&limit=&offset=.
func (h *AdminHandler) Orders(c echo.Context) error {
	var limit, offset int
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).Int("offset", &offset).BindError(); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit and offset must be integers"})
	}
	var status *model.OrderStatus
	if raw := c.QueryParam("status"); raw != "" {
		s, err := model.ParseOrderStatus(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		status = &s
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	items, err := h.Ledger.List(ctx, status, limit, offset)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"orders": items, "count": len(items)})
}

// Stats handles GET /admin/stats.
func (h *AdminHandler) Stats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	s, err := h.Ledger.Stats(ctx)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, s)
}

// Users handles GET /admin/users?limit=&offset=.
func (h *AdminHandler) Users(c echo.Context) error {
	var limit, offset int
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).Int("offset", &offset).BindError(); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit and offset must be integers"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	users, err := h.Ledger.Users(ctx, limit, offset)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"users": users, "count": len(users)})
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
