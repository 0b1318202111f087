package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/dunamismax/facewarp/internal/codec"
	"github.com/dunamismax/facewarp/internal/detect"
	"github.com/dunamismax/facewarp/internal/domain"
	"github.com/dunamismax/facewarp/internal/raster"
	"github.com/dunamismax/facewarp/internal/transform"
	"github.com/sirupsen/logrus"
)

// Output is what a Transformer produced for one item. Buffer is nil when the
// operation yields only detections.
type Output struct {
	Buffer     *raster.Buffer
	Detections []detect.Detection
}

type Transformer interface {
	Transform(ctx context.Context, buf *raster.Buffer, op domain.Operation) (Output, error)
}

// Detector is satisfied by *detect.Detector.
type Detector interface {
	Detect(ctx context.Context, buf *raster.Buffer) ([]detect.Detection, error)
}

type EngineConfig struct {
	Detector      Detector
	WobbleOffset  int
	TrimThreshold uint8
	PreviewScale  float64
	BoxColor      detect.Color
	BoxThickness  int
	// NewRand returns the random source for one wobble call. Nil seeds a fresh
	// PCG per call.
	NewRand func() *rand.Rand
	Logger  *logrus.Logger
}

// Engine applies domain operations with the transform and detect packages.
type Engine struct {
	cfg EngineConfig
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.WobbleOffset == 0 {
		cfg.WobbleOffset = transform.DefaultWobbleOffset
	}
	if cfg.PreviewScale <= 0 || cfg.PreviewScale > 1 {
		cfg.PreviewScale = 0.25
	}
	if cfg.BoxThickness <= 0 {
		cfg.BoxThickness = detect.DefaultBoxThickness
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Transform(ctx context.Context, buf *raster.Buffer, op domain.Operation) (Output, error) {
	switch op.Kind {
	case domain.OpInvert:
		transform.Invert(buf)
		return Output{Buffer: buf}, nil

	case domain.OpDistort:
		offset := e.cfg.WobbleOffset
		if op.MaxOffset != nil {
			offset = *op.MaxOffset
		}
		var rng *rand.Rand
		if e.cfg.NewRand != nil {
			rng = e.cfg.NewRand()
		}
		return Output{Buffer: transform.Wobble(buf, offset, rng)}, nil

	case domain.OpTrim:
		threshold := e.cfg.TrimThreshold
		if op.Threshold != nil {
			threshold = *op.Threshold
		}
		bounds, err := transform.Bounds(buf, threshold)
		if err != nil {
			return Output{}, err
		}
		e.cfg.Logger.WithFields(logrus.Fields{
			"left":   bounds.X,
			"top":    bounds.Y,
			"right":  bounds.X + bounds.Width - 1,
			"bottom": bounds.Y + bounds.Height - 1,
		}).Debug("trim bounds")
		return Output{Buffer: transform.Crop(buf, bounds.X, bounds.Y, bounds.Width, bounds.Height)}, nil

	case domain.OpRotate:
		return Output{Buffer: transform.Rotate(buf, op.Angle)}, nil

	case domain.OpCrop:
		if op.Crop == nil {
			return Output{}, fmt.Errorf("%w: crop parameters missing", domain.ErrInvalidParameter)
		}
		c := op.Crop
		return Output{Buffer: transform.Crop(buf, c.X, c.Y, c.Width, c.Height)}, nil

	case domain.OpDetect, domain.OpDetectBBox:
		if e.cfg.Detector == nil {
			return Output{}, fmt.Errorf("%w: no detector configured", detect.ErrModelUnavailable)
		}
		dets, err := e.cfg.Detector.Detect(ctx, buf)
		if err != nil {
			return Output{}, fmt.Errorf("detect faces: %w", err)
		}
		if op.Kind == domain.OpDetectBBox {
			return Output{Detections: dets}, nil
		}
		preview := codec.Scale(buf, e.cfg.PreviewScale)
		detect.DrawBoxes(preview, dets, e.cfg.BoxColor, e.cfg.BoxThickness)
		return Output{Buffer: preview, Detections: dets}, nil

	default:
		return Output{}, fmt.Errorf("%w: unsupported operation %q", domain.ErrInvalidParameter, op.Kind)
	}
}
