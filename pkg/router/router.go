package router

import (
	"net/http"
	"slices"

	"storyforge/backend/internal/api"
	"storyforge/backend/internal/ws"
	"storyforge/backend/pkg/config"
	"storyforge/backend/pkg/di"
	"storyforge/backend/pkg/errors"
	"storyforge/backend/pkg/logger"
	"storyforge/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Config      *config.Config
	RateLimiter *middleware.RateLimiter
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		container.Logger.Warn("invalid trusted proxies, trusting none", "error", err)
		_ = engine.SetTrustedProxies(nil)
	}

	// Request id first so every later log line carries it.
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	engine.Use(bodyLimit(cfg.Security.MaxBodySize))

	opts := middleware.DefaultRateLimiterOptions()
	opts.Limit = rate.Limit(cfg.Security.RateLimit)
	opts.Burst = cfg.Security.RateLimitBurst
	rateLimiter := middleware.NewRateLimiter(container.Logger, opts)

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Config:      cfg,
		RateLimiter: rateLimiter,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container

	r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Engine.Group("/api")
	apiGroup.Use(r.RateLimiter.Middleware())

	api.NewHealthHandler(c.Health).RegisterHealthRoutes(r.Engine, apiGroup)
	api.NewPromptHandler(c.Resolver, c.Templates).RegisterRoutes(apiGroup)
	api.NewChatHandler(c.ChatService).RegisterRoutes(apiGroup)
	api.NewConversationHandler(c.Conversations).RegisterRoutes(apiGroup)
	api.NewProviderHandler(c.CatalogService).RegisterRoutes(apiGroup)

	if r.Config.Features.EnableWebSockets {
		apiGroup.GET("/chat/ws", ws.NewHandler(c.ChatService, r.Config.Security.AllowedOrigins).Serve)
	}
}

// corsMiddleware allows the configured origins, or any origin when the list holds "*".
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0 || slices.Contains(allowed, "*")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case origin != "" && (allowAll || slices.Contains(allowed, origin)):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, X-Request-ID, Authorization, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// bodyLimit caps request bodies at n bytes; n <= 0 disables the cap.
func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
