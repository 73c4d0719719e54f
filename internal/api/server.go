package api

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/edm/edm/internal/platform/auth"
	"github.com/edm/edm/internal/platform/db"
	"github.com/edm/edm/internal/platform/middleware"
	"github.com/edm/edm/internal/platform/telemetry"
)

// ServerConfig assembles the HTTP server.
type ServerConfig struct {
	Logger  zerolog.Logger
	Metrics *telemetry.Provider
	Handler *Handler
	// Pool backs /health/db; nil reports the database as disabled.
	Pool *pgxpool.Pool

	// DevAuth runs every request as an admin instead of verifying tokens.
	DevAuth bool
	Auth    auth.JWTConfig

	SingleBodyLimit string
	BatchBodyLimit  string

	// RequestTimeout bounds single-event requests; batch paths are exempt.
	RequestTimeout time.Duration
	RateLimit      middleware.RateLimitConfig
}

// NewServer returns an Echo instance with the middleware chain, the health
// and metrics endpoints and the event API under /api/v1.
func NewServer(cfg ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(cfg.Logger)

	e.Use(middleware.Recovery(cfg.Logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(cfg.Logger))
	e.Use(cfg.Metrics.MetricsMiddleware())
	e.Use(middleware.BodyLimit(cfg.SingleBodyLimit, cfg.BatchBodyLimit, IsBatchPath))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, IsBatchPath))

	if cfg.DevAuth {
		e.Use(auth.DevAuthMiddleware())
	} else {
		jwtCfg := cfg.Auth
		jwtCfg.Skipper = auth.AuthSkipper
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	rl := cfg.RateLimit
	if rl.KeyFunc == nil {
		rl.KeyFunc = rateLimitKey
	}
	e.Use(middleware.RateLimit(rl))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(cfg.Pool))
	if cfg.Metrics != nil {
		e.GET("/metrics", cfg.Metrics.PrometheusHandler())
	}

	cfg.Handler.RegisterRoutes(e.Group("/api/v1"))
	return e
}

// rateLimitKey buckets authenticated callers by subject and everyone else by
// client IP.
func rateLimitKey(c echo.Context) string {
	if sub := auth.UserIDFromContext(c.Request().Context()); sub != "" {
		return "sub:" + sub
	}
	return "ip:" + c.RealIP()
}
