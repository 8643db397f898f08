// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, rate limiting and
// the tiered message quota.
package httpapi

import (
	"context"
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

	"github.com/tbourn/go-chatroom-ai/docs"
	"github.com/tbourn/go-chatroom-ai/internal/cache"
	"github.com/tbourn/go-chatroom-ai/internal/config"
	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/http/handlers"
	"github.com/tbourn/go-chatroom-ai/internal/http/middleware"
	"github.com/tbourn/go-chatroom-ai/internal/quota"
	"github.com/tbourn/go-chatroom-ai/internal/repo"
	"github.com/tbourn/go-chatroom-ai/internal/services"
)

// chatroomRepoShim adapts the repository free functions to the
// services.ChatroomRepo interface expected by the ChatroomService.
type chatroomRepoShim struct{}

// CreateChatroom proxies repo.CreateChatroom.
func (chatroomRepoShim) CreateChatroom(ctx context.Context, db *gorm.DB, userID uint, name string) (*domain.Chatroom, error) {
	return repo.CreateChatroom(ctx, db, userID, name)
}

// ListChatrooms proxies repo.ListChatrooms.
func (chatroomRepoShim) ListChatrooms(ctx context.Context, db *gorm.DB, userID uint) ([]domain.Chatroom, error) {
	return repo.ListChatrooms(ctx, db, userID)
}

// GetChatroomWithMessages proxies repo.GetChatroomWithMessages.
func (chatroomRepoShim) GetChatroomWithMessages(ctx context.Context, db *gorm.DB, id, userID uint) (*domain.Chatroom, error) {
	return repo.GetChatroomWithMessages(ctx, db, id, userID)
}

// Backends are the stateful dependencies the API is built on. main selects
// Redis or in-process implementations; the router does not care which.
type Backends struct {
	DB         *gorm.DB
	Queue      services.Enqueuer
	Cache      cache.Cache // nil disables the chatroom list cache
	QuotaStore quota.Store
	Tokens     middleware.TokenParser

	// Checkout is nil when no billing key is configured; subscribe then
	// answers 503.
	Checkout services.CheckoutCreator
	// Webhooks is nil when no webhook secret is configured; the webhook
	// route is then not mounted.
	Webhooks handlers.WebhookProcessor
}

// corsHeaders are the request headers browsers may send cross-origin.
var corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API under cfg.APIBasePath.
//
// Global middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger + Logger: access line with PII scrubbing, request-scoped logger
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. gzip, CORS and security headers
//
// Authenticated routes then run Authenticate and a per-user token bucket.
// The send route adds the idempotency validator and the tier quota, so a
// replayed send is neither rate limited nor counted.
func RegisterRoutes(r *gin.Engine, b Backends, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		SkipPaths: []string{"/health", "/metrics"},
	}))
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compression, CORS posture and security headers
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	useCORS(r, cfg.CORS.AllowedOrigins)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:          cfg.Security.EnableHSTS,
		HSTSMaxAge:          cfg.Security.HSTSMaxAge,
		NoStoreCredentialed: true,
		EnablePolicy:        true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/backends
	users := &services.UserService{DB: b.DB}
	rooms := services.NewChatroomService(b.DB, chatroomRepoShim{}, b.Cache)
	if cfg.ChatroomCacheTTL > 0 {
		rooms.CacheTTL = cfg.ChatroomCacheTTL
	}
	msgs := &services.MessageService{
		DB:              b.DB,
		Queue:           b.Queue,
		MaxMessageRunes: 4000,
		IdempotencyTTL:  cfg.IdempotencyTTL,
	}
	subs := &services.SubscriptionService{DB: b.DB, Checkout: b.Checkout}
	h := handlers.New(handlers.Services{
		Chatrooms:     rooms,
		Messages:      msgs,
		Users:         users,
		Subscriptions: subs,
		Webhooks:      b.Webhooks,
	})

	limiter := quota.NewLimiter(b.QuotaStore, users, quota.Limits{
		Basic:  cfg.Quota.Basic,
		Pro:    cfg.Quota.Pro,
		Window: cfg.Quota.Window,
	})
	idem := middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, chatroomID uint, key string, _ time.Time) (bool, error) {
			return msgs.HasReplay(ctx, userID, chatroomID, key), nil
		},
	)

	api := groupWithPrefix(r, cfg.APIBasePath)

	// The webhook authenticates by signature, so it sits outside the
	// bearer-token group and is limited per source address.
	if b.Webhooks != nil {
		hookRL := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
		api.POST("/webhook/stripe", hookRL.Handler(), h.StripeWebhook)
	}

	userRL := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	authed := api.Group("", middleware.Authenticate(b.Tokens, users))
	{
		authed.GET("/user/me", userRL.Handler(), h.Me)

		// Chatrooms
		authed.POST("/chatroom", userRL.Handler(), h.CreateChatroom)
		authed.GET("/chatroom", userRL.Handler(), h.ListChatrooms)
		authed.GET("/chatroom/:id", userRL.Handler(), h.GetChatroom)

		// Messages
		authed.GET("/chatroom/:id/messages", userRL.Handler(), h.ListMessages)
		authed.POST("/chatroom/:id/message", idem, userRL.Handler(), middleware.Quota(limiter), h.SendMessage)

		// Subscriptions
		authed.POST("/subscribe/pro", userRL.Handler(), h.SubscribePro)
		authed.GET("/subscription/status", userRL.Handler(), h.SubscriptionStatus)
	}
}

// useCORS installs CORS with safe defaults: every origin when none is
// configured, otherwise the allowlist.
func useCORS(r *gin.Engine, origins []string) {
	if len(origins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After", middleware.HeaderIdempotencyReplayed},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     corsHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After", middleware.HeaderIdempotencyReplayed},
		AllowCredentials: true, // the token cookie is sent cross-origin
		MaxAge:           12 * time.Hour,
	}))
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
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
