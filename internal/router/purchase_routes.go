package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bundle-store/internal/handler"
	"github.com/iliyamo/bundle-store/internal/middleware"
	"github.com/iliyamo/bundle-store/internal/model"
)

// RegisterPurchase registers the buyer's order endpoints.  Admins may use
// them too; ownership is enforced per order by the ledger.
func RegisterPurchase(e *echo.Echo, h *handler.PurchaseHandler, auth echo.MiddlewareFunc) {
	g := e.Group("/purchase", auth, middleware.RequireRole(model.RoleUser, model.RoleAdmin))
	g.POST("/request", h.Request)
	g.GET("/status", h.Status)
	g.GET("/order/:id", h.Order)
	g.GET("/order/:id/status", h.OrderStatus)
	g.POST("/order/:id/cancel", h.Cancel)
}

// RegisterDownload registers direct download and one-time links.  The
// redemption route is anonymous, so it is rate limited instead.
func RegisterDownload(e *echo.Echo, h *handler.DownloadHandler, auth, limiter echo.MiddlewareFunc) {
	e.GET("/download", h.Direct, auth)
	e.POST("/download/generate-link", h.GenerateLink, auth)
	e.GET("/download/file/:token", h.Redeem, limiter)
}
