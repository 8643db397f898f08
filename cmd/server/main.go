// Command server runs the chatroom API together with its generation worker
// pool.
//
// @title                      Chatroom AI API
// @version                    1.0
// @description                Chatrooms with asynchronous AI replies, tiered quotas and Pro subscriptions.
// @BasePath                   /
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-ai/internal/auth"
	"github.com/tbourn/go-chatroom-ai/internal/billing"
	"github.com/tbourn/go-chatroom-ai/internal/cache"
	"github.com/tbourn/go-chatroom-ai/internal/config"
	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/generation"
	httpapi "github.com/tbourn/go-chatroom-ai/internal/http"
	"github.com/tbourn/go-chatroom-ai/internal/observability"
	"github.com/tbourn/go-chatroom-ai/internal/queue"
	"github.com/tbourn/go-chatroom-ai/internal/quota"
	"github.com/tbourn/go-chatroom-ai/internal/redisconn"
	"github.com/tbourn/go-chatroom-ai/internal/repo"
	"github.com/tbourn/go-chatroom-ai/internal/services"
	"github.com/tbourn/go-chatroom-ai/internal/sysutil"
	"github.com/tbourn/go-chatroom-ai/internal/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

const (
	// tokenTTL is the lifetime of tokens printed by -create-user.
	tokenTTL = 7 * 24 * time.Hour
	// purgeEvery is how often expired idempotency keys are deleted.
	purgeEvery = 10 * time.Minute
)

func main() {
	createUser := flag.String("create-user", "", "create (or look up) a user by mobile number, print a bearer token and exit")
	setTier := flag.String("set-tier", "", "set a user's tier as <id>=<basic|pro> and exit")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	sysutil.SetupLogging(os.Stdout, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	appVersion := sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")

	db, err := repo.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	switch {
	case *createUser != "":
		os.Exit(runCreateUser(db, cfg, *createUser))
	case *setTier != "":
		os.Exit(runSetTier(db, *setTier))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, db, cfg, appVersion); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// serve builds the backends, starts the worker pool, the janitor and the
// HTTP server, and blocks until ctx is cancelled and everything drained.
func serve(ctx context.Context, db *gorm.DB, cfg config.Config, appVersion string) error {
	shutdownTracing, err := observability.Setup(ctx, cfg.OTEL, appVersion)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("flush traces")
		}
	}()

	var rdb redis.UniversalClient
	if cfg.RedisURL != "" {
		rdb, err = redisconn.Open(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
	}

	q, qstore, c, locker, err := buildBackends(rdb, cfg)
	if err != nil {
		return err
	}

	gen, closeGen, err := buildGenerator(ctx, cfg.Gemini)
	if err != nil {
		return err
	}
	defer closeGen()

	b := httpapi.Backends{
		DB:         db,
		Queue:      q,
		Cache:      c,
		QuotaStore: qstore,
		Tokens:     auth.NewTokens(cfg.JWTSecret, 0),
	}
	if cfg.Stripe.SecretKey != "" {
		sc := billing.NewStripeClient(cfg.Stripe.SecretKey, billing.CheckoutConfig{
			PriceCents:  cfg.Stripe.PriceCents,
			FrontendURL: cfg.Stripe.FrontendURL,
		})
		b.Checkout = sc
		if cfg.Stripe.WebhookSecret != "" {
			b.Webhooks = billing.NewMachine(db, billing.NewStripeVerifier(cfg.Stripe.WebhookSecret), sc, locker)
		} else {
			log.Warn().Msg("STRIPE_WEBHOOK_SECRET not set; webhook route disabled")
		}
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY not set; billing disabled")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, b, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	pool := worker.NewPool(q, gen, db, worker.Config{
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      cfg.Worker.PollInterval,
		LeaseTimeout:      cfg.Worker.LeaseTimeout,
		GenerationTimeout: cfg.Worker.GenerationTimeout,
		Backoff: queue.Backoff{
			Initial:     cfg.Worker.BackoffInitial,
			Factor:      2,
			MaxAttempts: cfg.Worker.MaxAttempts,
		},
	})

	bgCtx, stopBackground := context.WithCancel(context.Background())
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		_ = pool.Run(bgCtx)
	}()
	go purgeIdempotency(bgCtx, db)

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", appVersion).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			stopBackground()
			<-poolDone
			return fmt.Errorf("listen: %w", err)
		}
	}

	// Stop accepting requests first so no new jobs are enqueued, then let
	// the workers finish their current attempt.
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	stopBackground()
	select {
	case <-poolDone:
	case <-sctx.Done():
		log.Warn().Msg("worker pool did not stop in time; leases will expire and be retried")
	}
	return nil
}

// buildBackends picks the Redis implementations when a client is present
// and the in-process ones otherwise.
func buildBackends(rdb redis.UniversalClient, cfg config.Config) (queue.Queue, quota.Store, cache.Cache, billing.Locker, error) {
	if rdb != nil {
		log.Info().Msg("using redis for queue, quota, cache and locks")
		return queue.NewRedisQueue(rdb, ""),
			quota.NewRedisStore(rdb),
			cache.NewRedisCache(rdb, "cache:"),
			billing.NewRedisLocker(rdb, 30*time.Second),
			nil
	}
	log.Warn().Msg("REDIS_URL not set; using in-process queue, quota, cache and locks (single instance only)")
	mc, err := cache.NewMemoryCache(cfg.CacheSize)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("memory cache: %w", err)
	}
	return queue.NewMemoryQueue(), quota.NewMemoryStore(), mc, billing.NewLocalLocker(), nil
}

// buildGenerator returns Gemini when an API key is configured and the echo
// backend otherwise.
func buildGenerator(ctx context.Context, cfg config.GeminiConfig) (generation.Generator, func(), error) {
	if cfg.APIKey == "" {
		log.Warn().Msg("GEMINI_API_KEY not set; replies will echo the prompt")
		return generation.Echo{}, func() {}, nil
	}
	g, err := generation.NewGemini(ctx, cfg.APIKey, cfg.Model)
	if err != nil {
		return nil, nil, fmt.Errorf("gemini client: %w", err)
	}
	return g, func() { _ = g.Close() }, nil
}

// purgeIdempotency deletes expired idempotency keys so they can be reused.
func purgeIdempotency(ctx context.Context, db *gorm.DB) {
	t := time.NewTicker(purgeEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, time.Now().UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency keys")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("purged expired idempotency keys")
			}
		}
	}
}

func runCreateUser(db *gorm.DB, cfg config.Config, mobile string) int {
	users := &services.UserService{DB: db}
	u, err := users.Create(context.Background(), mobile)
	if err != nil {
		log.Error().Err(err).Msg("create user")
		return 1
	}
	tok, err := auth.NewTokens(cfg.JWTSecret, tokenTTL).Issue(u.ID)
	if err != nil {
		log.Error().Err(err).Msg("issue token")
		return 1
	}
	fmt.Printf("user_id=%d tier=%s\n%s\n", u.ID, u.SubscriptionTier, tok)
	return 0
}

func runSetTier(db *gorm.DB, arg string) int {
	rawID, rawTier, ok := strings.Cut(arg, "=")
	id, err := strconv.ParseUint(strings.TrimSpace(rawID), 10, 64)
	if !ok || err != nil || id == 0 {
		fmt.Fprintln(os.Stderr, "-set-tier expects <id>=<basic|pro>")
		return 2
	}
	tier := domain.Tier(strings.ToLower(strings.TrimSpace(rawTier)))
	users := &services.UserService{DB: db}
	if err := users.SetTier(context.Background(), uint(id), tier); err != nil {
		log.Error().Err(err).Uint64("user_id", id).Msg("set tier")
		return 1
	}
	log.Info().Uint64("user_id", id).Str("tier", string(tier)).Msg("tier updated")
	return 0
}
