package transform

import (
	"errors"
	"fmt"

	"github.com/dunamismax/facewarp/internal/raster"
	"golang.org/x/sync/errgroup"
)

const DefaultTrimThreshold = 40

var ErrAllBlackImage = errors.New("image is completely black")

// Trim crops buf to the smallest rectangle holding every pixel that is not a
// shade of black. A pixel is black when all three channels are <= threshold.
func Trim(buf *raster.Buffer, threshold uint8) (*raster.Buffer, error) {
	bounds, err := Bounds(buf, threshold)
	if err != nil {
		return nil, err
	}
	return Crop(buf, bounds.X, bounds.Y, bounds.Width, bounds.Height), nil
}

// Bounds runs the four edge scans concurrently over the shared, read-only buffer
// and joins them into the content rectangle.
func Bounds(buf *raster.Buffer, threshold uint8) (raster.Rect, error) {
	if len(buf.Pix) != 3*int(buf.Width)*int(buf.Height) {
		return raster.Rect{}, fmt.Errorf("%w: %dx%d with %d bytes", raster.ErrInvalidDimensions, buf.Width, buf.Height, len(buf.Pix))
	}

	s := edgeScanner{buf: buf, threshold: threshold}
	var top, left, bottom, right int

	var g errgroup.Group
	g.Go(func() error { top = s.top(); return nil })
	g.Go(func() error { left = s.left(); return nil })
	g.Go(func() error { bottom = s.bottom(); return nil })
	g.Go(func() error { right = s.right(); return nil })
	if err := g.Wait(); err != nil {
		return raster.Rect{}, fmt.Errorf("scan edges: %w", err)
	}

	if right < left || bottom < top {
		return raster.Rect{}, ErrAllBlackImage
	}

	return raster.Rect{
		X:      uint32(left),
		Y:      uint32(top),
		Width:  uint32(right - left + 1),
		Height: uint32(bottom - top + 1),
	}, nil
}

type edgeScanner struct {
	buf       *raster.Buffer
	threshold uint8
}

func (s edgeScanner) lit(x, y int) bool {
	r, g, b := s.buf.RGB(uint32(x), uint32(y))
	return r > s.threshold || g > s.threshold || b > s.threshold
}

// top returns the first row with content, or the height when there is none.
func (s edgeScanner) top() int {
	w, h := int(s.buf.Width), int(s.buf.Height)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if s.lit(x, y) {
				return y
			}
		}
	}
	return h
}

// bottom returns the last row with content, or -1.
func (s edgeScanner) bottom() int {
	w, h := int(s.buf.Width), int(s.buf.Height)
	for y := h - 1; y >= 0; y-- {
		for x := 0; x < w; x++ {
			if s.lit(x, y) {
				return y
			}
		}
	}
	return -1
}

// left returns the first column with content, or the width.
func (s edgeScanner) left() int {
	w, h := int(s.buf.Width), int(s.buf.Height)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			if s.lit(x, y) {
				return x
			}
		}
	}
	return w
}

// right returns the last column with content, or -1.
func (s edgeScanner) right() int {
	w, h := int(s.buf.Width), int(s.buf.Height)
	for x := w - 1; x >= 0; x-- {
		for y := 0; y < h; y++ {
			if s.lit(x, y) {
				return x
			}
		}
	}
	return -1
}
