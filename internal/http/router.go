// Package httpapi wires the HTTP transport (Gin) to the intake, status, and
// chat endpoints. It centralizes cross-cutting concerns such as tracing,
// correlation IDs, logging/redaction, panic recovery, metrics, compression,
// CORS, security headers, authentication, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/docmill/go-docintake-backend/internal/chatops"
	"github.com/docmill/go-docintake-backend/internal/config"
	"github.com/docmill/go-docintake-backend/internal/http/handlers"
	"github.com/docmill/go-docintake-backend/internal/http/middleware"
	"github.com/docmill/go-docintake-backend/internal/ingest"
	"github.com/docmill/go-docintake-backend/internal/ratelimit"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), compression, CORS
// and security headers, health and metrics endpoints, and then mounts the
// versioned public API behind the authentication gate and rate limiter.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with credential/PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (upload cap plus JSON/base64 envelope allowance)
//  6. Gzip compression
//  7. Metrics
//  8. CORS and security headers
//  9. Version resolution (on the API group)
//  10. Auth gate, then rate limiter, on the protected API group
func RegisterRoutes(r *gin.Engine, db *gorm.DB, n *ingest.Normalizer, limiter *ratelimit.Limiter, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs; stamp the served API version on every
	// response, fallbacks and /metrics included.
	r.Use(middleware.RequestID())
	r.Use(middleware.VersionStamp())

	// 3) Structured logging with redaction; senders are email addresses, so
	// scrubbing stays on even in dev.
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Body cap. Uploads arrive base64-encoded inside a JSON envelope, so
	// the wire cap is the decoded cap times 4/3 plus headroom for the other
	// fields.
	r.Use(limitBody(cfg.UploadMaxBytes/3*4 + 64<<10))

	// 6) Compress responses; report bodies compress well.
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) CORS posture: open API, explicit methods and headers.
	r.Use(func(c *gin.Context) {
		// Force ACAO: * even for requests without an Origin header.
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key", "X-API-Version"},
		ExposeHeaders:    []string{"X-Request-ID", "X-API-Version", "Content-Length"},
		AllowCredentials: false, // must remain false with AllowAllOrigins
		MaxAge:           12 * time.Hour,
	}))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrTypeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrTypeValidation, "method not allowed")
	})

	h := handlers.New(db, n, &chatops.Responder{DB: db, Normalizer: n}, cfg)

	// Public API under the versioned base path.
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.Version(cfg.APIBasePath))

	// Open endpoints: liveness, capability and self-description documents,
	// and the chat webhook (authenticated by its own signature, not an API
	// key).
	api.GET("/health", h.Health)
	api.GET("/formats", h.Formats)
	api.GET("/docs", h.Docs)
	api.POST("/chat/webhook", h.ChatWebhook)
	if cfg.SwaggerEnabled {
		api.GET("/docs/ui/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Gated endpoints: API key required, quota enforced.
	gated := api.Group("")
	gated.Use(middleware.Auth(db, cfg.DemoMode))
	gated.Use(middleware.RateLimit(limiter))
	{
		gated.POST("/upload", h.Upload)
		gated.POST("/intake/email", h.EmailIntake)
		gated.GET("/status/:id", h.Status)
		gated.GET("/history", h.History)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
