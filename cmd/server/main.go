// Command server runs the document intake and analysis backend: the HTTP
// API, the in-process stage pipeline, and their shared SQLite store.
//
// Configuration is environment-driven (see internal/config); a .env file is
// honored in development. The process shuts down gracefully on SIGINT or
// SIGTERM: the HTTP listener drains first, then the pipeline workers stop.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/docmill/go-docintake-backend/internal/analysis"
	"github.com/docmill/go-docintake-backend/internal/auth"
	"github.com/docmill/go-docintake-backend/internal/config"
	"github.com/docmill/go-docintake-backend/internal/domain"
	httpapi "github.com/docmill/go-docintake-backend/internal/http"
	"github.com/docmill/go-docintake-backend/internal/ingest"
	"github.com/docmill/go-docintake-backend/internal/llm"
	"github.com/docmill/go-docintake-backend/internal/observability"
	"github.com/docmill/go-docintake-backend/internal/pipeline"
	"github.com/docmill/go-docintake-backend/internal/ratelimit"
	"github.com/docmill/go-docintake-backend/internal/render"
	"github.com/docmill/go-docintake-backend/internal/repo"
	"github.com/docmill/go-docintake-backend/internal/storage"
	"github.com/docmill/go-docintake-backend/internal/sysutil"

	_ "github.com/docmill/go-docintake-backend/docs"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}
	bootstrapAPIKey(ctx, db, cfg)

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("blob store setup failed")
	}

	limiter, err := buildLimiter(cfg.Rate)
	if err != nil {
		log.Fatal().Err(err).Msg("rate limit store setup failed")
	}

	queue := pipeline.New(pipeline.Options{
		QueueSize:   cfg.Pipeline.QueueSize,
		Workers:     cfg.Pipeline.Workers,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Backoff:     cfg.Pipeline.RetryBackoff,
		OnExhausted: func(ctx context.Context, ev pipeline.Event, err error) {
			log.Error().Err(err).Str("request_id", ev.RequestID).
				Str("topic", string(ev.Topic)).Msg("event attempts exhausted")
			_ = repo.FailRequest(ctx, db, ev.RequestID,
				domain.ErrKindInternal, "processing failed after retries")
		},
	})

	analyzer := llm.NewOpenAIAnalyzer(cfg.Analysis.APIKey, llm.Options{
		Model:   cfg.Analysis.Model,
		Timeout: cfg.Analysis.Timeout,
		Retries: cfg.Analysis.Retries,
		RPS:     cfg.Analysis.RPS,
	})

	queue.Register(pipeline.TopicAnalyze, (&analysis.Stage{
		DB:       db,
		Store:    store,
		Analyzer: analyzer,
		Queue:    queue,
	}).Handle)
	queue.Register(pipeline.TopicRender, (&render.Stage{
		DB:    db,
		Store: store,
	}).Handle)

	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- queue.Run(ctx) }()

	normalizer := &ingest.Normalizer{
		DB:       db,
		Store:    store,
		Queue:    queue,
		MaxBytes: cfg.UploadMaxBytes,
	}

	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, normalizer, limiter, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	// Drain HTTP first so no new events are published, then stop the queue.
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	queue.Close()
	<-pipelineDone
	log.Info().Msg("stopped")
}

// openStore selects the blob store backend.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.BlobStore, error) {
	switch cfg.Backend {
	case "gcs":
		return storage.NewGCSStore(ctx, cfg.GCSBucket)
	default:
		return storage.NewLocalStore(cfg.LocalDir)
	}
}

// buildLimiter wires the tier table to a counting store: Redis when
// configured (shared windows across instances), in-memory otherwise.
func buildLimiter(cfg config.RateLimitConfig) (*ratelimit.Limiter, error) {
	var store ratelimit.Store
	if cfg.RedisURL != "" {
		rs, err := ratelimit.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		store = rs
	} else {
		store = ratelimit.NewMemoryStore()
	}
	// First tier is the fallback for unknown tier names.
	return ratelimit.NewLimiter(store, []ratelimit.Tier{
		{Name: "free", Limit: cfg.FreeLimit, Window: cfg.Window},
		{Name: "standard", Limit: cfg.StandardLimit, Window: cfg.Window},
		{Name: "premium", Limit: cfg.PremiumLimit, Window: cfg.Window},
	}), nil
}

// bootstrapAPIKey mints an initial key when the key table is empty and demo
// mode is off, so a fresh deployment is reachable without manual SQL. The raw
// key is logged exactly once and never recoverable afterwards.
func bootstrapAPIKey(ctx context.Context, db *gorm.DB, cfg config.Config) {
	if cfg.DemoMode {
		return
	}
	var count int64
	if err := db.WithContext(ctx).Model(&domain.APIKey{}).Count(&count).Error; err != nil || count > 0 {
		return
	}
	raw, k, err := auth.MintKey(ctx, db, "bootstrap", "initial-admin", "standard", "upload,read", nil)
	if err != nil {
		log.Warn().Err(err).Msg("bootstrap key mint failed")
		return
	}
	log.Info().Str("client_id", k.ClientID).Str("api_key", raw).
		Msg("minted bootstrap API key; store it now, it will not be shown again")
}
