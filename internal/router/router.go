// Package router assembles the Echo instance: codec, error handler,
// middleware chain and routes.
package router

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hkpo/mobilepost-directory/internal/config"
	"github.com/hkpo/mobilepost-directory/internal/handler"
	"github.com/hkpo/mobilepost-directory/internal/middleware"
)

// Deps are the collaborators the routes need. Redis may be nil, which
// disables the cache and the rate limiter.
type Deps struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     StoreWithPing
	Publisher handler.Publisher
	Redis     *redis.Client
}

// StoreWithPing is the handler store plus the readiness ping.
type StoreWithPing interface {
	handler.Store
	handler.Pinger
}

// New builds the HTTP server with every route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.HTTPErrorHandler = handler.ErrorHandler(d.Logger)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(d.Logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: d.Config.Server.AllowOrigins}))
	if d.Config.Server.BodyLimit != "" {
		e.Use(echomw.BodyLimit(d.Config.Server.BodyLimit))
	}

	RegisterRoutes(e)

	mp := handler.NewMobilePostHandler(d.Store, d.Publisher, d.Logger)
	e.GET("/readyz", handler.Ready(d.Store))
	RegisterMobilePost(e, mp,
		middleware.RateLimit(d.Config.RateLimit, d.Redis, d.Logger),
		middleware.NewResponseCache(d.Config.Cache, d.Redis, d.Logger).Middleware(),
	)
	return e
}

// RegisterRoutes registers the operational endpoints.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterMobilePost registers the /mobilepost resource behind mw. The
// list and search paths share one handler.
func RegisterMobilePost(e *echo.Echo, h *handler.MobilePostHandler, mw ...echo.MiddlewareFunc) {
	g := e.Group("/mobilepost", mw...)
	g.GET("", h.Search)
	g.GET("/search", h.Search)
	g.GET("/:id", h.Get)
	g.POST("", h.Create)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}
