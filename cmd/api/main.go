package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dunamismax/facewarp/internal/api"
	"github.com/dunamismax/facewarp/internal/codec"
	"github.com/dunamismax/facewarp/internal/config"
	"github.com/dunamismax/facewarp/internal/detect"
	"github.com/dunamismax/facewarp/internal/logging"
	"github.com/dunamismax/facewarp/internal/pipeline"
	"github.com/dunamismax/facewarp/internal/queue"
	"github.com/dunamismax/facewarp/internal/ratelimit"
	"github.com/dunamismax/facewarp/internal/storage"
	"github.com/dunamismax/facewarp/internal/store"
	"github.com/dunamismax/facewarp/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger, err := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		File:      cfg.Log.File,
		NoColors:  cfg.Log.NoColors,
		Component: "api",
	})
	if err != nil {
		logrus.WithError(err).Fatal("configure logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-api",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("configure tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	if err := codec.Startup(); err != nil {
		logger.WithError(err).Fatal("start image codec")
	}
	defer codec.Shutdown()

	registry := api.NewRegistry()

	startCtx, cancelStart := context.WithTimeout(ctx, cfg.Detector.Timeout)
	detector, err := detect.Start(startCtx, detect.RuntimeConfig{
		Backend: cfg.Detector.Backend,
		URL:     cfg.Detector.URL,
		Timeout: cfg.Detector.Timeout,
	}, detect.Options{
		MinConfidence: float32(cfg.Detector.MinConfidence),
		Logger:        logger,
		Registerer:    registry,
	})
	cancelStart()
	if err != nil {
		logger.WithError(err).WithField("url", cfg.Detector.URL).Fatal("face detection model unavailable")
	}
	defer func() {
		if err := detector.Close(); err != nil {
			logger.WithError(err).Warn("detector close failed")
		}
	}()

	processor, err := pipeline.FromConfig(cfg.Pipeline, cfg.Detector, detector, logger)
	if err != nil {
		logger.WithError(err).Fatal("build pipeline")
	}

	opts := api.Options{
		Logger:         logger,
		Processor:      processor,
		Detector:       detector,
		Tracer:         otel.Tracer("github.com/dunamismax/facewarp/internal/api"),
		Registry:       registry,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		PresignTTL:     cfg.API.PresignTTL,
	}

	jobStore, closeStore := openJobStore(ctx, cfg.Database, logger)
	defer closeStore()
	opts.Jobs = jobStore

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.WithError(err).Warn("queue client close failed")
		}
	}()
	opts.Queue = queueClient

	if objects := openStorage(ctx, cfg.Storage, logger); objects != nil {
		opts.Storage = objects
	}

	limiter, closeLimiter, err := openRateLimiter(cfg.RateLimit, cfg.Queue)
	if err != nil {
		logger.WithError(err).Fatal("configure rate limiting")
	}
	defer closeLimiter()
	if limiter != nil {
		opts.RateLimiter = limiter
	}

	app, err := api.NewServer(opts)
	if err != nil {
		logger.WithError(err).Fatal("build api server")
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.API.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}
}

// openJobStore picks postgres when a DSN is configured and memory otherwise.
func openJobStore(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (store.JobStore, func()) {
	if strings.TrimSpace(cfg.DSN) == "" {
		logger.Info("using in-memory job store")
		return store.NewMemoryJobStore(), func() {}
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		logger.WithError(err).Fatal("open postgres job store")
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.WithError(err).Warn("postgres close failed")
		}
	}
}

// openStorage returns nil when the bucket cannot be reached; the job routes
// then answer 503 while the batch routes keep working.
func openStorage(ctx context.Context, cfg config.StorageConfig, logger *logrus.Logger) *storage.Client {
	client, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Endpoint,
		Access:   cfg.AccessKey,
		Secret:   cfg.SecretKey,
		Bucket:   cfg.Bucket,
		UseSSL:   cfg.UseSSL,
	})
	if err != nil {
		logger.WithError(err).Warn("object storage disabled")
		return nil
	}

	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.EnsureBucket(ensureCtx); err != nil {
		logger.WithError(err).WithField("bucket", cfg.Bucket).Warn("object storage disabled")
		return nil
	}
	return client
}

func openRateLimiter(cfg config.RateLimitConfig, queueCfg config.QueueConfig) (ratelimit.Limiter, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none", "off":
		return nil, func() {}, nil
	case "local":
		limiter, err := ratelimit.NewLocalLimiter(cfg.Requests, cfg.Window, cfg.Burst)
		if err != nil {
			return nil, nil, err
		}
		return limiter, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     queueCfg.RedisAddr,
			Password: queueCfg.RedisPassword,
			DB:       queueCfg.RedisDB,
		})
		limiter, err := ratelimit.NewRedisTokenBucket(client, cfg.Requests, cfg.Window, "")
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return limiter, func() { _ = client.Close() }, nil
	default:
		return nil, nil, errors.New("RATE_LIMIT_BACKEND must be none, local or redis")
	}
}
