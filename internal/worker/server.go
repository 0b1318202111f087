// Package worker consumes batch jobs from the asynq queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/facewarp/internal/config"
	"github.com/dunamismax/facewarp/internal/domain"
	"github.com/dunamismax/facewarp/internal/pipeline"
	"github.com/dunamismax/facewarp/internal/queue"
	"github.com/dunamismax/facewarp/internal/store"
	"github.com/dunamismax/facewarp/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type jobRunner interface {
	RunJob(ctx context.Context, job domain.Job, fetcher pipeline.Fetcher, emitter pipeline.Emitter) (pipeline.JobResult, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Options wires the handler. Jobs, Usage and Webhooks are optional.
type Options struct {
	Logger   *logrus.Logger
	Runner   jobRunner
	Fetcher  pipeline.Fetcher
	Emitter  pipeline.Emitter
	Webhooks webhookSender
	Jobs     store.JobStore
	Usage    store.UsageStore
	Registry *prometheus.Registry
}

type Server struct {
	logger     *logrus.Logger
	server     *asynq.Server
	sem        chan struct{}
	runner     jobRunner
	fetcher    pipeline.Fetcher
	emitter    pipeline.Emitter
	webhooks   webhookSender
	jobStore   store.JobStore
	usageStore store.UsageStore
	metrics    *metrics
	tracer     trace.Tracer
}

func NewServer(queueCfg config.QueueConfig, workerCfg config.WorkerConfig, opts Options) (*Server, error) {
	s, err := newHandler(opts, max(1, workerCfg.MaxActiveJobs))
	if err != nil {
		return nil, err
	}

	logger := s.logger
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			Logger:   logger.WithField("component", "asynq"),
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.WithError(err).WithFields(logrus.Fields{
					"type":  task.Type(),
					"retry": fmt.Sprintf("%d/%d", retried, maxRetry),
				}).Warn("task failed")
			}),
		},
	)
	return s, nil
}

func newHandler(opts Options, maxActive int) (*Server, error) {
	if opts.Runner == nil {
		return nil, errors.New("job runner is required")
	}
	if opts.Fetcher == nil || opts.Emitter == nil {
		return nil, errors.New("fetch and emit stages are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	usage := opts.Usage
	if usage == nil {
		if u, ok := opts.Jobs.(store.UsageStore); ok {
			usage = u
		}
	}

	return &Server{
		logger:     logger,
		sem:        make(chan struct{}, maxActive),
		runner:     opts.Runner,
		fetcher:    opts.Fetcher,
		emitter:    opts.Emitter,
		webhooks:   opts.Webhooks,
		jobStore:   opts.Jobs,
		usageStore: usage,
		metrics:    newMetrics(opts.Registry),
		tracer:     otel.Tracer("github.com/dunamismax/facewarp/internal/worker"),
	}, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessBatch, s.handleProcessBatch)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessBatch(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseProcessBatchPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	operation := string(payload.Operation.Kind)
	log := s.logger.WithFields(logrus.Fields{
		"job_id":    payload.JobID,
		"operation": operation,
	})

	ctx, span := s.tracer.Start(ctx, "worker.process_batch", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.operation", operation),
		attribute.Int("job.items", len(payload.Items)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(operation, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(operation, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log.WithField("items", len(payload.Items)).Info("working")
	s.updateJobStatus(ctx, log, payload.JobID, domain.JobStatusProcessing)

	job := domain.Job{
		ID:         payload.JobID,
		Status:     domain.JobStatusProcessing,
		Operation:  payload.Operation,
		WebhookURL: payload.WebhookURL,
		Items:      payload.Items,
	}
	result, err := s.runner.RunJob(ctx, job, s.fetcher, s.emitter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job failed")
		if !finalAttempt(ctx) {
			log.WithError(err).Warn("job attempt failed, will retry")
			return fmt.Errorf("run job: %w", err)
		}

		log.WithError(err).Error("job failed")
		s.finish(ctx, log, task, payload, queue.BatchOutcome{Status: domain.JobStatusFailed, Error: err.Error()})
		return fmt.Errorf("run job: %w", err)
	}

	outcome = domain.JobStatusSucceeded
	log.WithFields(logrus.Fields{
		"outputs": len(result.Outputs),
		"failed":  result.Failed,
	}).Info("job processed")
	s.metrics.itemsTotal.WithLabelValues(operation, domain.ItemStatusOK).Add(float64(len(result.Outputs) - result.Failed))
	s.metrics.itemsTotal.WithLabelValues(operation, domain.ItemStatusError).Add(float64(result.Failed))
	s.recordUsage(ctx, log, payload, result, time.Since(startedAt))
	s.finish(ctx, log, task, payload, queue.BatchOutcome{Status: domain.JobStatusSucceeded, Outputs: result.Outputs})
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// finish records the terminal state everywhere a client may look: the job
// store, the task result and the webhook.
func (s *Server) finish(ctx context.Context, log *logrus.Entry, task *asynq.Task, payload queue.ProcessBatchPayload, outcome queue.BatchOutcome) {
	ctx = context.WithoutCancel(ctx)

	if s.jobStore != nil {
		if _, err := s.jobStore.Complete(ctx, payload.JobID, outcome.Status, outcome.Outputs, outcome.Error); err != nil {
			log.WithError(err).Warn("job completion update failed")
		}
	}

	if w := task.ResultWriter(); w != nil {
		body, err := outcome.Encode()
		if err == nil {
			_, err = w.Write(body)
		}
		if err != nil {
			log.WithError(err).Warn("write task result failed")
		}
	}

	event := webhook.EventJobCompleted
	body := map[string]any{
		"job_id":       payload.JobID,
		"status":       outcome.Status,
		"operation":    payload.Operation.Kind,
		"requested_at": payload.RequestedAt,
		"finished_at":  time.Now().UTC(),
	}
	if outcome.Status == domain.JobStatusFailed {
		event = webhook.EventJobFailed
		body["error"] = outcome.Error
	} else {
		body["outputs"] = outcome.Outputs
	}
	s.dispatchWebhook(ctx, log, payload, event, body)
}

// finalAttempt reports whether asynq will not retry the task after this run.
// Outside asynq there are no retries.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, log *logrus.Entry, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		log.WithError(err).WithField("status", status).Warn("job status update failed")
	}
}

// dispatchWebhook never fails the task: the client already retries, and a
// finished job is not rerun for an unreachable receiver.
func (s *Server) dispatchWebhook(ctx context.Context, log *logrus.Entry, payload queue.ProcessBatchPayload, event string, body map[string]any) {
	if payload.WebhookURL == "" || s.webhooks == nil {
		return
	}

	if err := s.webhooks.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		log.WithError(err).WithField("event", event).Warn("webhook delivery failed")
	}
}

func (s *Server) recordUsage(ctx context.Context, log *logrus.Entry, payload queue.ProcessBatchPayload, result pipeline.JobResult, computeDuration time.Duration) {
	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	s.metrics.pixelsProcessedTotal.Add(float64(result.PixelsProcessed))
	s.metrics.bytesOutTotal.Add(float64(result.BytesOut))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))

	if s.usageStore == nil {
		return
	}
	usage := domain.UsageLog{
		JobID:           payload.JobID,
		Operation:       payload.Operation.Kind,
		ItemsTotal:      len(result.Outputs),
		ItemsFailed:     result.Failed,
		PixelsProcessed: result.PixelsProcessed,
		BytesOut:        result.BytesOut,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.RecordUsage(ctx, usage); err != nil {
		log.WithError(err).Warn("usage log write failed")
	}
}
