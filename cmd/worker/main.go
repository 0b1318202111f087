package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dunamismax/facewarp/internal/codec"
	"github.com/dunamismax/facewarp/internal/config"
	"github.com/dunamismax/facewarp/internal/detect"
	"github.com/dunamismax/facewarp/internal/logging"
	"github.com/dunamismax/facewarp/internal/pipeline"
	"github.com/dunamismax/facewarp/internal/storage"
	"github.com/dunamismax/facewarp/internal/store"
	"github.com/dunamismax/facewarp/internal/telemetry"
	"github.com/dunamismax/facewarp/internal/webhook"
	"github.com/dunamismax/facewarp/internal/worker"
	"github.com/sirupsen/logrus"
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
		Component: "worker",
	})
	if err != nil {
		logrus.WithError(err).Fatal("configure logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-worker",
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

	registry := worker.NewRegistry()

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

	objects, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.WithError(err).Fatal("configure object storage")
	}
	ensureCtx, cancelEnsure := context.WithTimeout(ctx, 10*time.Second)
	err = objects.EnsureBucket(ensureCtx)
	cancelEnsure()
	if err != nil {
		logger.WithError(err).WithField("bucket", cfg.Storage.Bucket).Fatal("object storage unavailable")
	}

	var jobStore store.JobStore = store.NewMemoryJobStore()
	if strings.TrimSpace(cfg.Database.DSN) != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.WithError(err).Fatal("open postgres job store")
		}
		defer func() {
			if err := pg.Close(); err != nil {
				logger.WithError(err).Warn("postgres close failed")
			}
		}()
		jobStore = pg
	} else {
		logger.Info("using in-memory job store; job status reaches the api through task results only")
	}

	srv, err := worker.NewServer(cfg.Queue, cfg.Worker, worker.Options{
		Logger:  logger,
		Runner:  processor,
		Fetcher: pipeline.ObjectStoreFetcher{Storage: objects},
		Emitter: pipeline.ObjectStoreEmitter{Storage: objects, OutputPrefix: storage.OutputPrefix},
		Webhooks: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.Secret,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
		}),
		Jobs:     jobStore,
		Registry: registry,
	})
	if err != nil {
		logger.WithError(err).Fatal("build worker")
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.WithFields(logrus.Fields{
		"concurrency":     cfg.Worker.Concurrency,
		"max_active_jobs": cfg.Worker.MaxActiveJobs,
		"queue":           cfg.Queue.Name,
		"redis":           cfg.Queue.RedisAddr,
		"metrics_addr":    cfg.Worker.MetricsAddr,
	}).Info("starting worker")

	// Run blocks until SIGINT or SIGTERM and drains in-flight tasks itself.
	if err := srv.Run(); err != nil {
		logger.WithError(err).Fatal("worker failed")
	}
}
