package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

type Config struct {
	API       APIConfig
	Pipeline  PipelineConfig
	Detector  DetectorConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

type APIConfig struct {
	Addr           string
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PresignTTL     time.Duration
}

type PipelineConfig struct {
	Concurrency     int
	JPEGQuality     int
	MaxDecodePixels int
	WobbleOffset    int
	TrimThreshold   int
}

type DetectorConfig struct {
	Backend       string
	URL           string
	Timeout       time.Duration
	MinConfidence float64
	PreviewScale  float64
	BoxColor      string
	BoxThickness  int
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
	MaxRetry      int
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	// DSN selects the postgres store; empty keeps jobs in memory.
	DSN string
}

type RateLimitConfig struct {
	Backend  string
	Requests int
	Window   time.Duration
	Burst    int
}

type WebhookConfig struct {
	Secret  string
	Timeout time.Duration
}

type TelemetryConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type LogConfig struct {
	Level    string
	File     string
	NoColors bool
}

// Load reads the environment, after applying a .env file from the working
// directory when one exists.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:           env("FACEWARP_API_ADDR", ":8080"),
			MaxUploadBytes: int64(envInt("FACEWARP_MAX_UPLOAD_MB", 64)) << 20,
			ReadTimeout:    envDuration("FACEWARP_READ_TIMEOUT", 60*time.Second),
			WriteTimeout:   envDuration("FACEWARP_WRITE_TIMEOUT", 120*time.Second),
			PresignTTL:     envDuration("FACEWARP_PRESIGN_TTL", 15*time.Minute),
		},
		Pipeline: PipelineConfig{
			Concurrency:     envInt("PIPELINE_CONCURRENCY", runtime.NumCPU()),
			JPEGQuality:     envInt("JPEG_QUALITY", 85),
			MaxDecodePixels: envInt("MAX_DECODE_PIXELS", 64*1024*1024),
			WobbleOffset:    envInt("WOBBLE_MAX_OFFSET", 100),
			TrimThreshold:   envInt("TRIM_THRESHOLD", 40),
		},
		Detector: DetectorConfig{
			Backend:       env("INFERENCE_BACKEND", "http"),
			URL:           detectorURL(),
			Timeout:       envDuration("INFERENCE_TIMEOUT", 30*time.Second),
			MinConfidence: envFloat("DETECT_MIN_CONFIDENCE", 0.95),
			PreviewScale:  envFloat("DETECT_PREVIEW_SCALE", 0.25),
			BoxColor:      env("DETECT_BOX_COLOR", "#ff0000"),
			BoxThickness:  envInt("DETECT_BOX_THICKNESS", 2),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
			MaxRetry:      envInt("ASYNC_MAX_RETRY", 5),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "facewarp-jobs"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		RateLimit: RateLimitConfig{
			Backend:  env("RATE_LIMIT_BACKEND", "local"),
			Requests: envInt("RATE_LIMIT_REQUESTS", 60),
			Window:   envDuration("RATE_LIMIT_WINDOW", time.Minute),
			Burst:    envInt("RATE_LIMIT_BURST", 20),
		},
		Webhook: WebhookConfig{
			Secret:  env("WEBHOOK_SECRET", ""),
			Timeout: envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "facewarp"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
		Log: LogConfig{
			Level:    env("LOG_LEVEL", "info"),
			File:     env("LOG_FILE", ""),
			NoColors: envBool("LOG_NO_COLORS", false),
		},
	}, nil
}

// detectorURL prefers the websocket endpoint when the websocket backend is
// selected.
func detectorURL() string {
	switch env("INFERENCE_BACKEND", "http") {
	case "websocket", "ws":
		return env("INFERENCE_WS_URL", "ws://localhost:8000/ws")
	default:
		return env("INFERENCE_URL", "http://localhost:8000/detect")
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
