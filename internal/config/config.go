// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, storage backends, quota tiers, the
// generation worker pool, billing credentials, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-chatroom-ai")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// QuotaConfig defines the per-tier message quotas enforced on send.
type QuotaConfig struct {
	Basic  int64         // QUOTA_BASIC, messages per window for basic tier
	Pro    int64         // QUOTA_PRO, messages per window for pro tier
	Window time.Duration // QUOTA_WINDOW, e.g. 24h
}

// WorkerConfig defines the generation job queue and worker pool.
type WorkerConfig struct {
	Concurrency       int           // WORKER_CONCURRENCY
	MaxAttempts       int           // JOB_MAX_ATTEMPTS
	BackoffInitial    time.Duration // JOB_BACKOFF_INITIAL (doubles per attempt)
	LeaseTimeout      time.Duration // JOB_LEASE_TIMEOUT
	PollInterval      time.Duration // WORKER_POLL_INTERVAL
	GenerationTimeout time.Duration // GENERATION_TIMEOUT, per attempt
}

// GeminiConfig defines the text-generation backend.
type GeminiConfig struct {
	APIKey string // GEMINI_API_KEY; empty selects the echo backend
	Model  string // GEMINI_MODEL
}

// StripeConfig defines billing provider credentials and checkout details.
type StripeConfig struct {
	SecretKey     string // STRIPE_SECRET_KEY
	WebhookSecret string // STRIPE_WEBHOOK_SECRET
	PriceCents    int64  // STRIPE_PRICE_CENTS
	FrontendURL   string // FRONTEND_URL, base for success/cancel redirects
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes, "/" mounts at root

	// Storage
	DBDriver string // sqlite|postgres
	DBDSN    string // file path for sqlite, URL for postgres
	RedisURL string // empty selects in-process queue/cache/quota

	// Auth
	JWTSecret string

	// Domain
	Quota            QuotaConfig
	Worker           WorkerConfig
	Gemini           GeminiConfig
	Stripe           StripeConfig
	ChatroomCacheTTL time.Duration // CHATROOM_CACHE_TTL
	CacheSize        int           // CACHE_SIZE, entries for the in-process cache

	// Rate limiting (edge, token bucket)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "3000"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/")),

		// Storage
		DBDriver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBDSN:    getenv("DB_DSN", "app.db"),
		RedisURL: getenv("REDIS_URL", ""),

		// Auth
		JWTSecret: getenv("JWT_SECRET", ""),

		// Domain
		Quota: QuotaConfig{
			Basic:  int64(getint("QUOTA_BASIC", 5)),
			Pro:    int64(getint("QUOTA_PRO", 1000)),
			Window: getdur("QUOTA_WINDOW", 24*time.Hour),
		},
		Worker: WorkerConfig{
			Concurrency:       getint("WORKER_CONCURRENCY", 4),
			MaxAttempts:       getint("JOB_MAX_ATTEMPTS", 3),
			BackoffInitial:    getdur("JOB_BACKOFF_INITIAL", 2*time.Second),
			LeaseTimeout:      getdur("JOB_LEASE_TIMEOUT", 60*time.Second),
			PollInterval:      getdur("WORKER_POLL_INTERVAL", 500*time.Millisecond),
			GenerationTimeout: getdur("GENERATION_TIMEOUT", 45*time.Second),
		},
		Gemini: GeminiConfig{
			APIKey: getenv("GEMINI_API_KEY", ""),
			Model:  getenv("GEMINI_MODEL", "gemini-1.5-flash-latest"),
		},
		Stripe: StripeConfig{
			SecretKey:     getenv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getenv("STRIPE_WEBHOOK_SECRET", ""),
			PriceCents:    int64(getint("STRIPE_PRICE_CENTS", 999)),
			FrontendURL:   strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:5173"), "/"),
		},
		ChatroomCacheTTL: getdur("CHATROOM_CACHE_TTL", 600*time.Second),
		CacheSize:        getint("CACHE_SIZE", 10000),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-chatroom-ai"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DBDriver == "postgresql" {
		cfg.DBDriver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if strings.TrimSpace(cfg.DBDSN) == "" {
		return cfg, errors.New("DB_DSN must not be empty")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return cfg, errors.New("JWT_SECRET must not be empty")
	}
	if cfg.Quota.Basic < 0 || cfg.Quota.Pro < 0 {
		return cfg, errors.New("QUOTA_BASIC and QUOTA_PRO must be >= 0")
	}
	if cfg.Quota.Window <= 0 {
		return cfg, errors.New("QUOTA_WINDOW must be > 0")
	}
	if cfg.Worker.Concurrency < 1 {
		return cfg, errors.New("WORKER_CONCURRENCY must be >= 1")
	}
	if cfg.Worker.MaxAttempts < 1 {
		return cfg, errors.New("JOB_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Worker.BackoffInitial <= 0 || cfg.Worker.PollInterval <= 0 {
		return cfg, errors.New("JOB_BACKOFF_INITIAL and WORKER_POLL_INTERVAL must be > 0")
	}
	if cfg.Worker.GenerationTimeout <= 0 || cfg.Worker.LeaseTimeout <= cfg.Worker.GenerationTimeout {
		return cfg, errors.New("JOB_LEASE_TIMEOUT must exceed GENERATION_TIMEOUT (> 0)")
	}
	if cfg.Stripe.PriceCents <= 0 {
		return cfg, errors.New("STRIPE_PRICE_CENTS must be > 0")
	}
	if cfg.ChatroomCacheTTL <= 0 {
		return cfg, errors.New("CHATROOM_CACHE_TTL must be > 0")
	}
	if cfg.CacheSize < 1 {
		return cfg, errors.New("CACHE_SIZE must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
