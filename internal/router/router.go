package router

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/bundle-store/internal/config"
	"github.com/iliyamo/bundle-store/internal/handler"
	"github.com/iliyamo/bundle-store/internal/metrics"
	"github.com/iliyamo/bundle-store/internal/middleware"
)

// Deps is everything the HTTP surface is built from.  Redis may be nil, in
// which case rate limiting and response caching are pass-throughs.
type Deps struct {
	Verifier middleware.TokenVerifier

	Auth     *handler.AuthHandler
	Purchase *handler.PurchaseHandler
	Admin    *handler.AdminHandler
	Gateway  *handler.GatewayHandler
	Download *handler.DownloadHandler
	Product  *handler.ProductHandler

	DB        *sql.DB
	Metrics   *metrics.Metrics
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Log       zerolog.Logger
}

// New builds the Echo instance with global middleware and every route
// group registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(d.Log, d.Metrics))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echomw.BodyLimit("1M"))

	limiter := middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log)
	auth := middleware.JWTAuth(d.Verifier)

	RegisterRoutes(e, d)
	RegisterAuth(e, d.Auth, auth, limiter)
	RegisterPurchase(e, d.Purchase, auth)
	RegisterDownload(e, d.Download, auth, limiter)
	RegisterAdmin(e, d.Admin, auth)
	RegisterGateway(e, d.Gateway)
	return e
}

// RegisterRoutes registers the unauthenticated operational and catalogue
// routes.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	if d.DB != nil {
		e.GET("/readyz", handler.Ready(d.DB))
	}
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}
	if d.Product != nil {
		e.GET("/product", d.Product.Get, middleware.NewRedisCache(d.Cache, d.Redis, d.Log))
	}
}

// RegisterAuth registers registration, login and the profile route.
// Credential endpoints are rate limited.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, auth, limiter echo.MiddlewareFunc) {
	g := e.Group("/auth", limiter)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)

	e.GET("/user/me", a.Me, auth)
}

// RegisterGateway registers the payment gateway callback.  It carries no
// session; the payload and the optional shared secret are checked by the
// handler.
func RegisterGateway(e *echo.Echo, g *handler.GatewayHandler) {
	e.POST("/gateway/callback", g.Callback)
}
