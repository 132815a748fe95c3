package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bundle-store/internal/handler"
	"github.com/iliyamo/bundle-store/internal/middleware"
	"github.com/iliyamo/bundle-store/internal/model"
)

// RegisterAdmin registers ADMIN-scoped endpoints under /admin.  All routes
// require a valid JWT and the ADMIN role.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, auth echo.MiddlewareFunc) {
	g := e.Group("/admin", auth, middleware.RequireRole(model.RoleAdmin))

	// ---- Orders ----
	g.GET("/orders", h.Orders)
	g.POST("/orders/:id/verify", h.Verify)
	g.POST("/orders/:id/reject", h.Reject)

	// ---- Read-only views ----
	g.GET("/stats", h.Stats)
	g.GET("/users", h.Users)
}
