// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, persistence, intake limits, rate-limit
// tiers, the analysis engine, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-docintake-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AnalysisConfig configures the external analysis engine collaborator.
type AnalysisConfig struct {
	APIKey  string        // OPENAI_API_KEY
	Model   string        // OPENAI_MODEL (e.g. "gpt-4o-mini")
	Timeout time.Duration // per-call upper bound
	Retries int           // fixed retry budget before the request fails
	RPS     float64       // client-side throttle toward the engine
}

// RateLimitConfig defines the per-tier quotas over a shared fixed window.
// RedisURL, when set, switches counting from the in-process store to Redis
// so horizontally scaled instances share one global window per client.
type RateLimitConfig struct {
	Window        time.Duration
	FreeLimit     int64
	StandardLimit int64
	PremiumLimit  int64
	RedisURL      string
}

// StorageConfig selects the blob store backend for original documents and
// rendered outputs.
type StorageConfig struct {
	Backend   string // "local" or "gcs"
	LocalDir  string // root directory for the local backend
	GCSBucket string // bucket name for the gcs backend
}

// ChatConfig configures the inbound chat-command webhook.
type ChatConfig struct {
	SigningSecret   string        // shared secret for signature verification
	ReplayTolerance time.Duration // max accepted signed-timestamp age
}

// PipelineConfig bounds the in-process stage queue and its workers.
type PipelineConfig struct {
	QueueSize    int // buffered events per topic
	Workers      int // concurrent stage workers
	MaxAttempts  int // deliveries per event before giving up
	RetryBackoff time.Duration
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
	APIBasePath    string // base path for API routes

	// App
	DBPath         string // SQLite path
	UploadMaxBytes int64  // hard cap on decoded upload size
	DemoMode       bool   // accept unauthenticated callers as low-trust "demo"

	// Domains
	Rate     RateLimitConfig
	Storage  StorageConfig
	Analysis AnalysisConfig
	Chat     ChatConfig
	Pipeline PipelineConfig
	Security SecurityConfig
	OTEL     OTELConfig
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
		Port:              getenv("PORT", "8080"),
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
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/v1")),

		// App
		DBPath:         getenv("DB_PATH", "app.db"),
		UploadMaxBytes: getint64("UPLOAD_MAX_BYTES", 10<<20),
		DemoMode:       getbool("DEMO_MODE", false),

		Rate: RateLimitConfig{
			Window:        getdur("RATE_WINDOW", time.Hour),
			FreeLimit:     getint64("RATE_FREE_LIMIT", 20),
			StandardLimit: getint64("RATE_STANDARD_LIMIT", 200),
			PremiumLimit:  getint64("RATE_PREMIUM_LIMIT", 2000),
			RedisURL:      getenv("REDIS_URL", ""),
		},

		Storage: StorageConfig{
			Backend:   strings.ToLower(getenv("STORAGE_BACKEND", "local")),
			LocalDir:  getenv("STORAGE_DIR", "data/blobs"),
			GCSBucket: getenv("GCS_BUCKET", ""),
		},

		Analysis: AnalysisConfig{
			APIKey:  getenv("OPENAI_API_KEY", ""),
			Model:   getenv("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout: getdur("ANALYSIS_TIMEOUT", 60*time.Second),
			Retries: getint("ANALYSIS_RETRIES", 2),
			RPS:     getfloat("ANALYSIS_RPS", 1.0),
		},

		Chat: ChatConfig{
			SigningSecret:   getenv("CHAT_SIGNING_SECRET", ""),
			ReplayTolerance: getdur("CHAT_REPLAY_TOLERANCE", 5*time.Minute),
		},

		Pipeline: PipelineConfig{
			QueueSize:    getint("PIPELINE_QUEUE_SIZE", 256),
			Workers:      getint("PIPELINE_WORKERS", 4),
			MaxAttempts:  getint("PIPELINE_MAX_ATTEMPTS", 3),
			RetryBackoff: getdur("PIPELINE_RETRY_BACKOFF", 2*time.Second),
		},

		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-docintake-backend"),
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
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.UploadMaxBytes <= 0 {
		return cfg, errors.New("UPLOAD_MAX_BYTES must be > 0")
	}
	if cfg.Rate.Window <= 0 {
		return cfg, errors.New("RATE_WINDOW must be > 0")
	}
	if cfg.Rate.FreeLimit < 1 || cfg.Rate.StandardLimit < 1 || cfg.Rate.PremiumLimit < 1 {
		return cfg, errors.New("rate-limit tier quotas must be >= 1")
	}
	switch cfg.Storage.Backend {
	case "local":
		if strings.TrimSpace(cfg.Storage.LocalDir) == "" {
			return cfg, errors.New("STORAGE_DIR must not be empty for the local backend")
		}
	case "gcs":
		if strings.TrimSpace(cfg.Storage.GCSBucket) == "" {
			return cfg, errors.New("GCS_BUCKET must not be empty for the gcs backend")
		}
	default:
		return cfg, errors.New("STORAGE_BACKEND must be one of: local, gcs")
	}
	if cfg.Analysis.Timeout <= 0 {
		return cfg, errors.New("ANALYSIS_TIMEOUT must be > 0")
	}
	if cfg.Analysis.Retries < 0 {
		return cfg, errors.New("ANALYSIS_RETRIES must be >= 0")
	}
	if cfg.Chat.ReplayTolerance <= 0 {
		return cfg, errors.New("CHAT_REPLAY_TOLERANCE must be > 0")
	}
	if cfg.Pipeline.QueueSize < 1 || cfg.Pipeline.Workers < 1 || cfg.Pipeline.MaxAttempts < 1 {
		return cfg, errors.New("pipeline queue size, workers, and max attempts must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
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

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
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

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
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
