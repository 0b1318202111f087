package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dunamismax/facewarp/internal/raster"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	MinConfidence float32
	Logger        *logrus.Logger
	// Registerer receives the inference metrics when set.
	Registerer prometheus.Registerer
}

// Detector is the only goroutine that ever touches its Runtime. Callers submit
// work over a channel and block until the loop replies, so at most one
// inference runs at a time no matter how many requests are in flight.
type Detector struct {
	runtime       Runtime
	minConfidence float32
	logger        *logrus.Logger
	tracer        trace.Tracer
	metrics       *detectorMetrics

	requests  chan call
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type call struct {
	ctx   context.Context
	run   func(ctx context.Context, rt Runtime) ([]Detection, error)
	reply chan result
}

type result struct {
	dets []Detection
	err  error
}

func NewDetector(rt Runtime, opts Options) *Detector {
	minConfidence := opts.MinConfidence
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	d := &Detector{
		runtime:       rt,
		minConfidence: minConfidence,
		logger:        logger,
		tracer:        otel.Tracer("github.com/dunamismax/facewarp/internal/detect"),
		metrics:       newDetectorMetrics(opts.Registerer),
		requests:      make(chan call),
		quit:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go d.loop()
	return d
}

// Detect runs the model on buf and returns the detections above the confidence
// threshold, boxes normalized to buf. buf is never modified.
func (d *Detector) Detect(ctx context.Context, buf *raster.Buffer) ([]Detection, error) {
	ctx, span := d.tracer.Start(ctx, "detect.Detect", trace.WithAttributes(
		attribute.Int("image.width", int(buf.Width)),
		attribute.Int("image.height", int(buf.Height)),
	))
	defer span.End()

	raw, err := d.submit(ctx, func(ctx context.Context, rt Runtime) ([]Detection, error) {
		return rt.Infer(ctx, buf)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	dets := FilterConfident(raw, d.minConfidence)
	span.SetAttributes(
		attribute.Int("detect.raw", len(raw)),
		attribute.Int("detect.kept", len(dets)),
	)
	return dets, nil
}

// Ping checks the runtime through the owning goroutine. Runtimes without a
// health probe are considered ready.
func (d *Detector) Ping(ctx context.Context) error {
	_, err := d.submit(ctx, func(ctx context.Context, rt Runtime) ([]Detection, error) {
		p, ok := rt.(Pinger)
		if !ok {
			return nil, nil
		}
		return nil, p.Ping(ctx)
	})
	return err
}

func (d *Detector) submit(ctx context.Context, run func(context.Context, Runtime) ([]Detection, error)) ([]Detection, error) {
	c := call{ctx: ctx, run: run, reply: make(chan result, 1)}

	d.metrics.waiting(1)
	select {
	case d.requests <- c:
		d.metrics.waiting(-1)
	case <-ctx.Done():
		d.metrics.waiting(-1)
		return nil, ctx.Err()
	case <-d.quit:
		d.metrics.waiting(-1)
		return nil, fmt.Errorf("%w: detector closed", ErrModelUnavailable)
	}

	// The reply channel is buffered, so the loop never blocks on a caller that
	// stopped waiting.
	select {
	case r := <-c.reply:
		return r.dets, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Detector) loop() {
	defer close(d.stopped)
	for {
		select {
		case c := <-d.requests:
			c.reply <- d.serve(c)
		case <-d.quit:
			return
		}
	}
}

func (d *Detector) serve(c call) (res result) {
	if err := c.ctx.Err(); err != nil {
		return result{err: err}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("panic", r).Error("detector runtime panicked")
			res = result{err: fmt.Errorf("%w: runtime panic: %v", ErrModelUnavailable, r)}
		}
		d.metrics.observe(time.Since(start), res.err)
	}()

	// A started inference finishes even if the caller gives up; the runtime's
	// own timeouts bound it.
	dets, err := c.run(context.WithoutCancel(c.ctx), d.runtime)
	if err != nil {
		return result{err: err}
	}
	return result{dets: dets}
}

// Close stops the loop after the current call finishes and closes the runtime.
// Calls submitted afterwards fail with ErrModelUnavailable.
func (d *Detector) Close() error {
	d.closeOnce.Do(func() {
		close(d.quit)
		<-d.stopped
		d.closeErr = d.runtime.Close()
	})
	return d.closeErr
}

type detectorMetrics struct {
	duration *prometheus.HistogramVec
	queued   prometheus.Gauge
}

func newDetectorMetrics(reg prometheus.Registerer) *detectorMetrics {
	if reg == nil {
		return nil
	}

	m := &detectorMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "facewarp_detector_inference_duration_seconds",
			Help:    "Time spent inside the face detection runtime.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "facewarp_detector_waiting_calls",
			Help: "Calls waiting for the detector goroutine.",
		}),
	}
	reg.MustRegister(m.duration, m.queued)
	return m
}

func (m *detectorMetrics) waiting(delta float64) {
	if m == nil {
		return
	}
	m.queued.Add(delta)
}

func (m *detectorMetrics) observe(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.duration.WithLabelValues(status).Observe(elapsed.Seconds())
}
