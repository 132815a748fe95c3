package handler

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/bundle-store/internal/artifact"
	"github.com/iliyamo/bundle-store/internal/service"
)

// DownloadHandler serves the artifact directly to entitled users and
// through one-time links.
type DownloadHandler struct {
	Gate      *service.DownloadGate
	PublicURL string // base of generated links; the request host when empty
	Log       zerolog.Logger
}

func NewDownloadHandler(g *service.DownloadGate, publicURL string, log zerolog.Logger) *DownloadHandler {
	return &DownloadHandler{
		Gate:      g,
		PublicURL: strings.TrimRight(publicURL, "/"),
		Log:       log.With().Str("component", "download-handler").Logger(),
	}
}

type linkResp struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Direct handles GET /download.
func (h *DownloadHandler) Direct(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	obj, err := h.Gate.Open(ctx, p.UserID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return streamObject(c, obj)
}

// GenerateLink handles POST /download/generate-link.
func (h *DownloadHandler) GenerateLink(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	grant, err := h.Gate.IssueLink(ctx, p.UserID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	base := h.PublicURL
	if base == "" {
		base = c.Scheme() + "://" + c.Request().Host
	}
	return c.JSON(http.StatusOK, linkResp{
		URL:       base + "/download/file/" + grant.Token,
		Token:     grant.Token,
		ExpiresAt: grant.ExpiresAt,
	})
}

// Redeem handles GET /download/file/:token.  It is followed as a plain
// link, so failures render HTML pages instead of JSON.
func (h *DownloadHandler) Redeem(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	obj, err := h.Gate.Redeem(ctx, c.Param("token"))
	switch {
	case err == nil:
		return streamObject(c, obj)
	case errors.Is(err, service.ErrNotFound):
		return renderPage(c, http.StatusNotFound, pageNotFound)
	case errors.Is(err, service.ErrExpired):
		return renderPage(c, http.StatusGone, pageExpired)
	case errors.Is(err, service.ErrPaymentRequired):
		return renderPage(c, http.StatusForbidden, pagePaymentRequired)
	}
	h.Log.Error().Err(err).Msg("download link redemption failed")
	return renderPage(c, http.StatusInternalServerError, pageUnavailable)
}

// streamObject writes obj as an attachment and closes it.
func streamObject(c echo.Context, obj *artifact.Object) error {
	defer obj.Body.Close()
	hdr := c.Response().Header()
	hdr.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": obj.Name}))
	hdr.Set("Cache-Control", "private, no-store")
	if obj.Size >= 0 {
		hdr.Set(echo.HeaderContentLength, strconv.FormatInt(obj.Size, 10))
	}
	if !obj.ModTime.IsZero() {
		hdr.Set(echo.HeaderLastModified, obj.ModTime.UTC().Format(http.TimeFormat))
	}
	return c.Stream(http.StatusOK, obj.ContentType, obj.Body)
}
