// Package pipeline runs one operation over a batch of encoded images. Each item
// is decoded, transformed and encoded on its own; a failing item is reported in
// place and never aborts its siblings.
package pipeline

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/dunamismax/facewarp/internal/codec"
	"github.com/dunamismax/facewarp/internal/detect"
	"github.com/dunamismax/facewarp/internal/domain"
	"github.com/dunamismax/facewarp/internal/transform"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	KindDecode           = "decode_error"
	KindEncode           = "encode_error"
	KindInvalidParameter = "invalid_parameter"
	KindAllBlack         = "all_black_image"
	KindModelUnavailable = "model_unavailable"
	KindCancelled        = "cancelled"
	KindInternal         = "internal_error"
)

var ErrNoItems = errors.New("at least one image is required")

type Item struct {
	Name string
	Data []byte
}

type Request struct {
	JobID     string
	Items     []Item
	Operation domain.Operation
}

type ItemResult struct {
	Name       string
	Data       []byte
	Format     string
	Width      uint32
	Height     uint32
	Detections []detect.Detection
	// Pixels counts the decoded input, for usage accounting.
	Pixels int64
	Err    error
	Kind   string
}

func (r ItemResult) OK() bool {
	return r.Err == nil
}

type Result struct {
	Items  []ItemResult
	Failed int
}

type Options struct {
	Concurrency int
	Codec       *codec.Codec
	Transformer Transformer
	Logger      *logrus.Logger
}

type Processor struct {
	concurrency int
	codec       *codec.Codec
	transformer Transformer
	logger      *logrus.Logger
	tracer      trace.Tracer
}

func NewProcessor(opts Options) (*Processor, error) {
	if opts.Transformer == nil {
		return nil, errors.New("transformer is required")
	}
	c := opts.Codec
	if c == nil {
		c = codec.New(0, 0)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Processor{
		concurrency: concurrency,
		codec:       c,
		transformer: opts.Transformer,
		logger:      logger,
		tracer:      otel.Tracer("github.com/dunamismax/facewarp/internal/pipeline"),
	}, nil
}

// Process applies req.Operation to every item. The returned items are in input
// order. An error is returned only when the request as a whole is unusable.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if len(req.Items) == 0 {
		return Result{}, ErrNoItems
	}
	if err := req.Operation.Validate(); err != nil {
		return Result{}, err
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.Process", trace.WithAttributes(
		attribute.String("operation", string(req.Operation.Kind)),
		attribute.Int("items", len(req.Items)),
	))
	defer span.End()

	results := make([]ItemResult, len(req.Items))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, item := range req.Items {
		g.Go(func() error {
			results[i] = p.processItem(ctx, req, item)
			return nil
		})
	}
	_ = g.Wait()

	out := Result{Items: results}
	for _, r := range results {
		if !r.OK() {
			out.Failed++
		}
	}
	span.SetAttributes(attribute.Int("items.failed", out.Failed))
	return out, nil
}

func (p *Processor) processItem(ctx context.Context, req Request, item Item) ItemResult {
	start := time.Now()
	log := p.logger.WithFields(logrus.Fields{
		"job_id":    req.JobID,
		"operation": req.Operation.Kind,
		"item":      item.Name,
	})

	ctx, span := p.tracer.Start(ctx, "pipeline.item", trace.WithAttributes(attribute.String("item.name", item.Name)))
	defer span.End()

	res, err := p.runItem(ctx, req.Operation, item)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Warn("item failed")
		return ItemResult{Name: item.Name, Pixels: res.Pixels, Err: err, Kind: ErrorKind(err)}
	}

	log.WithFields(logrus.Fields{
		"width":    res.Width,
		"height":   res.Height,
		"duration": time.Since(start).String(),
	}).Debug("item processed")
	return res
}

func (p *Processor) runItem(ctx context.Context, op domain.Operation, item Item) (ItemResult, error) {
	res := ItemResult{Name: item.Name}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	buf, _, err := p.codec.Decode(item.Data)
	if err != nil {
		return res, err
	}
	res.Pixels = int64(buf.Width) * int64(buf.Height)

	out, err := p.transformer.Transform(ctx, buf, op)
	if err != nil {
		return res, err
	}
	res.Detections = out.Detections
	if out.Buffer == nil {
		return res, nil
	}

	format := codec.NormalizeFormat(op.Format)
	data, err := p.codec.Encode(out.Buffer, format)
	if err != nil {
		return res, err
	}
	res.Data = data
	res.Format = format
	res.Width = out.Buffer.Width
	res.Height = out.Buffer.Height
	return res, nil
}

// ErrorKind maps an error chain onto the stable kind string reported to
// clients.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, codec.ErrDecode):
		return KindDecode
	case errors.Is(err, codec.ErrEncode):
		return KindEncode
	case errors.Is(err, domain.ErrInvalidParameter):
		return KindInvalidParameter
	case errors.Is(err, transform.ErrAllBlackImage):
		return KindAllBlack
	case errors.Is(err, detect.ErrModelUnavailable):
		return KindModelUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}

// FailAll reports err against every item, for request-level parameter errors
// that still need a per-item response.
func FailAll(items []Item, err error) Result {
	out := Result{Items: make([]ItemResult, len(items)), Failed: len(items)}
	kind := ErrorKind(err)
	for i, item := range items {
		out.Items[i] = ItemResult{Name: item.Name, Err: err, Kind: kind}
	}
	return out
}
