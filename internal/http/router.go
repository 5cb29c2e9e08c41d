// Package httpapi wires the HTTP transport (Gin) to the dispatch services and
// the shared middleware.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Identity (caller from the upstream auth proxy)
//  4. AccessLog with credential scrubbing
//  5. Recovery
//  6. Body size limit and gzip
//  7. Prometheus
//  8. Idempotency validation (before the limiter so replays bypass it)
//  9. Rate limiter
//  10. CORS and security headers
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/bot-dispatch/docs"
	"github.com/tbourn/bot-dispatch/internal/config"
	"github.com/tbourn/bot-dispatch/internal/http/handlers"
	"github.com/tbourn/bot-dispatch/internal/http/middleware"
	"github.com/tbourn/bot-dispatch/internal/queue"
	"github.com/tbourn/bot-dispatch/internal/repo"
)

// maxBodyBytes caps request bodies. Message content is limited to a few
// thousand runes, so 1 MiB is generous.
const maxBodyBytes = 1 << 20

// Deps are the collaborators the router needs.
type Deps struct {
	DB       *gorm.DB
	Queue    queue.Queue
	Bots     handlers.BotService
	Dispatch handlers.DispatchService
	// Registry receives the HTTP collectors and backs /metrics. Nil means
	// the Prometheus default registry.
	Registry *prometheus.Registry
}

// RegisterRoutes attaches middleware, health checks, metrics, docs and the
// versioned API to r.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if deps.Registry != nil {
		reg, gatherer = deps.Registry, deps.Registry
	}

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Identity())
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		MaskHeaders: []string{"X-Api-Key"},
		LogHeaders:  cfg.LogLevel == "debug",
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	httpMetrics, err := middleware.NewHTTPMetrics(reg)
	if err != nil {
		log.Warn().Err(err).Msg("http metrics registration failed")
	}
	r.Use(httpMetrics.Handler())
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, deps.DB, userID, key, now)
			return err == nil && rec != nil, err
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(deps))

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(deps.Bots, deps.Dispatch)
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/bots", h.CreateBot)
		api.GET("/bots", h.ListBots)
		api.GET("/bots/:id", h.GetBot)
		api.DELETE("/bots/:id", h.DeleteBot)
		api.GET("/bots/:id/messages", h.ListMessages)
		api.GET("/bots/:id/stats", h.BotStats)

		api.POST("/messages", h.SendMessage)
		api.GET("/messages/:id", h.GetMessage)
	}
}

// readiness reports 503 until both the database and the queue answer.
func readiness(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{"database": "ok", "queue": "ok"}
		status := http.StatusOK
		if deps.DB == nil {
			checks["database"] = "missing"
			status = http.StatusServiceUnavailable
		} else if err := repo.Ping(deps.DB.WithContext(ctx)); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if deps.Queue == nil {
			checks["queue"] = "missing"
			status = http.StatusServiceUnavailable
		} else if err := deps.Queue.Ping(ctx); err != nil {
			checks["queue"] = err.Error()
			status = http.StatusServiceUnavailable
		}

		state := "ready"
		if status != http.StatusOK {
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "checks": checks})
	}
}

// corsMiddleware allows every origin when none are configured, otherwise
// only the allowlist. Credentials are never allowed.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			middleware.HeaderUserID, middleware.HeaderUserRole, middleware.HeaderIdempotencyKey,
			"If-None-Match",
		},
		ExposeHeaders: []string{"X-Request-ID", "ETag", "Location", middleware.HeaderIdempotencyReplayed},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cors.New(cc)
}

// limitBody caps the request body at maxBytes.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix treats "" and "/" as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
