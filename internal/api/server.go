// Package api serves the batch transform routes, the asynchronous job routes
// and the health and metrics endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dunamismax/facewarp/internal/domain"
	"github.com/dunamismax/facewarp/internal/logging"
	"github.com/dunamismax/facewarp/internal/pipeline"
	"github.com/dunamismax/facewarp/internal/queue"
	"github.com/dunamismax/facewarp/internal/ratelimit"
	"github.com/dunamismax/facewarp/internal/store"
	"github.com/hibiken/asynq"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxUploadBytes = 64 << 20
	defaultPresignTTL     = 15 * time.Minute
	requestIDHeader       = "X-Request-ID"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type queueClient interface {
	Queue() string
	EnqueueProcessBatch(ctx context.Context, payload queue.ProcessBatchPayload) (*asynq.TaskInfo, error)
	TaskStatus(ctx context.Context, jobID string) (queue.TaskStatus, bool, error)
}

type objectStorage interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	Ping(ctx context.Context) error
}

// Options wires the server's collaborators. Processor is required; the job
// routes answer 503 unless Queue, Jobs and Storage are all set.
type Options struct {
	Logger         *logrus.Logger
	Processor      processor
	Detector       pinger
	Queue          queueClient
	Jobs           store.JobStore
	Storage        objectStorage
	RateLimiter    ratelimit.Limiter
	Tracer         trace.Tracer
	// Registry serves /metrics; nil creates a private one.
	Registry       *prometheus.Registry
	MaxUploadBytes int64
	PresignTTL     time.Duration
}

type Server struct {
	logger         *logrus.Logger
	processor      processor
	detector       pinger
	queueClient    queueClient
	jobStore       store.JobStore
	storage        objectStorage
	rateLimiter    ratelimit.Limiter
	tracer         trace.Tracer
	maxUploadBytes int64
	presignTTL     time.Duration
	metrics        *metrics
	mux            *http.ServeMux
}

func NewServer(opts Options) (*Server, error) {
	if opts.Processor == nil {
		return nil, errors.New("processor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	presignTTL := opts.PresignTTL
	if presignTTL <= 0 {
		presignTTL = defaultPresignTTL
	}

	s := &Server{
		logger:         logger,
		processor:      opts.Processor,
		detector:       opts.Detector,
		queueClient:    opts.Queue,
		jobStore:       opts.Jobs,
		storage:        opts.Storage,
		rateLimiter:    opts.RateLimiter,
		tracer:         opts.Tracer,
		maxUploadBytes: maxUpload,
		presignTTL:     presignTTL,
		metrics:        newMetrics(opts.Registry),
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the mux wrapped in request id, tracing, metrics and rate
// limiting middleware, outermost first.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.metrics.withHTTPMetrics(h)
	h = s.withTracing(h)
	h = s.withRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())

	s.mux.HandleFunc("POST /detect", s.handleBatch(fixedOperation(domain.OpDetect)))
	s.mux.HandleFunc("POST /detect/bbox", s.handleBatch(fixedOperation(domain.OpDetectBBox)))
	s.mux.HandleFunc("POST /distort", s.handleBatch(fixedOperation(domain.OpDistort)))
	s.mux.HandleFunc("POST /invert", s.handleBatch(fixedOperation(domain.OpInvert)))
	s.mux.HandleFunc("POST /trim", s.handleBatch(fixedOperation(domain.OpTrim)))
	s.mux.HandleFunc("POST /crop", s.handleBatch(fixedOperation(domain.OpCrop)))
	s.mux.HandleFunc("POST /rotate/{angle}", s.handleBatch(rotateOperation))

	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz pings the model runtime and object storage. Either failing
// makes the instance unready.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true
	check := func(name string, p pinger) {
		if p == nil {
			checks[name] = "disabled"
			return
		}
		if err := p.Ping(ctx); err != nil {
			logging.FromContext(ctx, s.logger).WithError(err).WithField("check", name).Warn("readiness check failed")
			checks[name] = "unavailable"
			ready = false
			return
		}
		checks[name] = "ok"
	}
	check("detector", s.detector)
	check("storage", s.storage)

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "unready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
