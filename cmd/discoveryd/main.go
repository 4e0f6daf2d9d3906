package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fetchr/discovery/internal/catalog"
	catalogpg "github.com/fetchr/discovery/internal/catalog/postgres"
	"github.com/fetchr/discovery/internal/config"
	"github.com/fetchr/discovery/internal/embedding"
	"github.com/fetchr/discovery/internal/embedding/openai"
	"github.com/fetchr/discovery/internal/embedding/siglip"
	"github.com/fetchr/discovery/internal/embedding/voyage"
	"github.com/fetchr/discovery/internal/imagestore"
	"github.com/fetchr/discovery/internal/index/pinecone"
	"github.com/fetchr/discovery/internal/kv"
	kvredis "github.com/fetchr/discovery/internal/kv/redis"
	logpkg "github.com/fetchr/discovery/internal/logger"
	"github.com/fetchr/discovery/internal/method"
	"github.com/fetchr/discovery/internal/metrics"
	preferencepg "github.com/fetchr/discovery/internal/preference/postgres"
	"github.com/fetchr/discovery/internal/retrieval"
	"github.com/fetchr/discovery/internal/search"
	"github.com/fetchr/discovery/internal/sparse"
	chiTransport "github.com/fetchr/discovery/internal/transport/chi"
	"github.com/fetchr/discovery/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting discovery API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("built", version.Date),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
	)

	ctx := context.Background()

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterSearchMetrics()

	// Catalog database
	catalogStore, err := catalogpg.NewStore(&catalogpg.Config{
		DSN:          cfg.Postgres.DSN,
		MaxOpenConns: cfg.Postgres.MaxOpenConns,
		MaxIdleConns: cfg.Postgres.MaxIdleConns,
		PageSize:     cfg.Search.CatalogPageSize,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Failed to connect to catalog database", zap.Error(err))
	}
	defer func() { _ = catalogStore.Close() }()

	// Brand-name cache over Redis; the catalog works uncached without it.
	var names catalog.NameSource = catalogStore
	var kvStore kv.Store
	if len(cfg.Redis.Addrs) > 0 {
		redisStore, err := kvredis.NewStore(kvredis.Config{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create redis store", zap.Error(err))
		}
		defer redisStore.Close()

		if err := redisStore.WaitForReady(ctx, 30*time.Second); err != nil {
			logger.Fatal("Redis not ready", zap.Error(err))
		}
		kvStore = redisStore
		names = catalog.NewCachedNames(catalogStore, kvStore,
			time.Duration(cfg.Redis.TTLSec)*time.Second, logger)
		logger.Info("Connected to redis", zap.Strings("addrs", cfg.Redis.Addrs))
	}

	// Embedding backends
	siglipClient := siglip.NewClient(&siglip.Config{
		BaseURL: cfg.Embedding.Siglip.BaseURL,
		APIKey:  cfg.Embedding.Siglip.APIKey,
		Timeout: time.Duration(cfg.Embedding.Siglip.TimeoutSec) * time.Second,
		Logger:  logger,
	})
	voyageClient := voyage.NewClient(&voyage.Config{
		BaseURL: cfg.Embedding.Voyage.BaseURL,
		APIKey:  cfg.Embedding.Voyage.APIKey,
		Timeout: time.Duration(cfg.Embedding.Voyage.TimeoutSec) * time.Second,
		Logger:  logger,
	})
	openaiEmbedder := openai.NewEmbedder(&openai.Config{
		APIKey:  cfg.Embedding.OpenAI.APIKey,
		BaseURL: cfg.Embedding.OpenAI.BaseURL,
		Logger:  logger,
	})

	embedService, err := embedding.NewService(&embedding.Config{
		SiglipText:  siglipClient,
		SiglipImage: siglipClient,
		OpenAI:      openaiEmbedder,
		Voyage:      voyageClient,
		VoyageMM:    voyageClient,
		CacheSize:   cfg.Embedding.CacheSize,
		Concurrency: cfg.Embedding.Concurrency,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Failed to create embedding service", zap.Error(err))
	}

	sparseClient, err := sparse.NewClient(&sparse.Config{
		BaseURL:   cfg.Sparse.BaseURL,
		APIKey:    cfg.Sparse.APIKey,
		Timeout:   time.Duration(cfg.Sparse.TimeoutSec) * time.Second,
		CacheSize: cfg.Sparse.CacheSize,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Failed to create sparse encoder", zap.Error(err))
	}

	// Vector indexes
	indexProvider, err := pinecone.NewProvider(&pinecone.Config{
		APIKey: cfg.Pinecone.APIKey,
		Hosts:  cfg.Pinecone.Hosts,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Failed to create index provider", zap.Error(err))
	}

	// Product image storage
	images, err := imagestore.NewStore(ctx, &imagestore.Config{
		Bucket:   cfg.Storage.Bucket,
		Region:   cfg.Storage.Region,
		Endpoint: cfg.Storage.Endpoint,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Failed to create image store", zap.Error(err))
	}

	// Retrieval core
	methods := method.NewRegistry(method.Options{
		SemanticMultiplier: cfg.Search.SemanticMultiplier,
	})
	engine := retrieval.NewEngine(&retrieval.Config{
		Methods: methods,
		Embed:   embedService,
		Sparse:  sparseClient,
		Indexes: indexProvider,
		Catalog: catalogStore,
		Names:   names,
		Images:  images,
		Logger:  logger,
	})

	prefStore := preferencepg.NewStore(catalogStore.DB(), logger)

	orchestrator := search.NewOrchestrator(methods, engine, prefStore, search.Options{
		OverfetchFactor:         cfg.Search.OverfetchFactor,
		QueryConcurrency:        cfg.Search.QueryConcurrency,
		OriginalScoreMultiplier: cfg.Search.OriginalScoreMultiplier,
	}, logger)

	checks := map[string]func(context.Context) error{
		"postgres": catalogStore.Ping,
	}
	if kvStore != nil {
		checks["redis"] = kvStore.Ping
	}

	server := chiTransport.NewServer(orchestrator, engine, catalogStore, methods, checks, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Mount(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
