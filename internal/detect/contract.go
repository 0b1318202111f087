// Package detect defines the face-detector contract: normalized boxes, the
// confidence policy, the runtime adapters and the single goroutine that owns a
// runtime.
package detect

import (
	"context"
	"errors"

	"github.com/dunamismax/facewarp/internal/raster"
)

const DefaultMinConfidence float32 = 0.95

var ErrModelUnavailable = errors.New("face detection model unavailable")

// BoundingBox holds x0, y0, x1, y1 as fractions of the image the model saw,
// origin at the top-left corner.
type BoundingBox [4]float32

// Normalize clamps every coordinate into [0,1] and orders the corners so that
// x0 <= x1 and y0 <= y1. NaN coordinates collapse to 0.
func (b BoundingBox) Normalize() BoundingBox {
	for i, v := range b {
		b[i] = clampUnit(v)
	}
	if b[0] > b[2] {
		b[0], b[2] = b[2], b[0]
	}
	if b[1] > b[3] {
		b[1], b[3] = b[3], b[1]
	}
	return b
}

// Pixels maps the box onto a width×height raster. The returned corners are
// inclusive and always inside the raster.
func (b BoundingBox) Pixels(width, height uint32) (x0, y0, x1, y1 int) {
	n := b.Normalize()
	x0 = scaleCoord(n[0], width)
	y0 = scaleCoord(n[1], height)
	x1 = scaleCoord(n[2], width)
	y1 = scaleCoord(n[3], height)
	return x0, y0, x1, y1
}

func scaleCoord(v float32, extent uint32) int {
	if extent == 0 {
		return 0
	}
	p := int(v * float32(extent))
	return min(max(p, 0), int(extent)-1)
}

func clampUnit(v float32) float32 {
	if !(v > 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type Detection struct {
	Box        BoundingBox `json:"box"`
	Confidence float32     `json:"confidence"`
}

// Runtime runs the model on one frame. Implementations are not assumed to be
// safe for concurrent use; Detector serializes every call.
type Runtime interface {
	Infer(ctx context.Context, buf *raster.Buffer) ([]Detection, error)
	Close() error
}

// Pinger is implemented by runtimes that can report readiness without running a
// full inference.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FilterConfident keeps detections whose confidence is strictly greater than
// minConfidence and normalizes their boxes. Order is preserved.
func FilterConfident(dets []Detection, minConfidence float32) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if !(d.Confidence > minConfidence) {
			continue
		}
		d.Box = d.Box.Normalize()
		out = append(out, d)
	}
	return out
}
