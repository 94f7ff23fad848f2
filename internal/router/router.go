package router // package router defines how HTTP routes are registered for the API

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"                      // import the Echo web framework to handle routing
	echomw "github.com/labstack/echo/v4/middleware" // stock Echo middleware

	"github.com/iliyamo/leafguard/internal/handler"    // import the handlers that implement the API
	"github.com/iliyamo/leafguard/internal/metrics"    // request metrics and /metrics
	"github.com/iliyamo/leafguard/internal/middleware" // JWT, cache, rate limit and logging middleware
	"github.com/iliyamo/leafguard/internal/storage"    // uploads URL prefix
)

// multipartOverhead is allowed on top of MaxUploadBytes for form fields and
// part headers.
const multipartOverhead = 1 << 20

// Deps is everything the router wires together.  Nil optional fields
// (Cache, RateLimit, Metrics) are skipped.  RateLimit is attached per route
// and runs after JWTAuth on protected routes, so user keyed strategies see
// the authenticated user.
type Deps struct {
	JWTSecret      string
	ClientOrigin   string
	UploadDir      string // served at /uploads when non-empty
	MaxUploadBytes int64

	Health  *handler.HealthHandler
	Auth    *handler.AuthHandler
	Analyze *handler.AnalyzeHandler
	History *handler.HistoryHandler

	Cache     *middleware.HistoryCache
	RateLimit echo.MiddlewareFunc
	Metrics   *metrics.Metrics
}

// New builds the Echo instance with global middleware and every route.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = handler.HTTPErrorHandler

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(echomw.Secure())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{d.ClientOrigin},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))
	e.Use(echomw.Gzip())
	if d.Metrics != nil {
		e.Use(d.Metrics.Middleware())
	}

	RegisterRoutes(e, d)
	RegisterAuth(e, d)
	RegisterAnalysis(e, d)
	return e
}

// RegisterRoutes registers routes that do not require authentication:
// health checks, stored images and metrics.
func RegisterRoutes(e *echo.Echo, d Deps) {
	rl := limited(d.RateLimit)
	e.GET("/", d.Health.Health, rl...)
	e.GET("/health", d.Health.Health, rl...)
	if d.UploadDir != "" {
		e.Group(storage.UploadsPath, rl...).Static("/", d.UploadDir)
	}
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()), rl...)
	}
}

// RegisterAuth registers registration, login and the identity endpoint.
// /signup is an alias of /register.
func RegisterAuth(e *echo.Echo, d Deps) {
	a := d.Auth
	rl := limited(d.RateLimit)
	e.POST("/register", a.Register, rl...)
	e.POST("/signup", a.Register, rl...)
	e.POST("/login", a.Login, rl...)
	e.GET("/me", a.Me, append([]echo.MiddlewareFunc{middleware.JWTAuth(d.JWTSecret)}, rl...)...)
}

// RegisterAnalysis registers the protected analysis and history routes.
// JWTAuth runs before the body limit so unauthenticated uploads are rejected
// without reading the multipart body.
func RegisterAnalysis(e *echo.Echo, d Deps) {
	auth := middleware.JWTAuth(d.JWTSecret)
	limit := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit: byteSize(d.MaxUploadBytes + multipartOverhead),
	})
	rl := limited(d.RateLimit)

	analyze := append(append([]echo.MiddlewareFunc{auth}, rl...), limit)
	e.POST("/analyze", d.Analyze.Analyze, analyze...)

	history := append(append([]echo.MiddlewareFunc{auth}, rl...), d.Cache.Middleware())
	e.GET("/history", d.History.List, history...)
}

// limited returns rl as a middleware list, empty when rate limiting is off.
func limited(rl echo.MiddlewareFunc) []echo.MiddlewareFunc {
	if rl == nil {
		return nil
	}
	return []echo.MiddlewareFunc{rl}
}

// byteSize renders n in the unit syntax BodyLimit parses.
func byteSize(n int64) string {
	return strconv.FormatInt(n/1024, 10) + "K"
}
