// Package raster holds the in-memory pixel buffer every transform operates on.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Buffer is a width×height RGB raster, row-major, three bytes per pixel, no padding.
type Buffer struct {
	Width  uint32
	Height uint32
	Pix    []uint8
}

var ErrInvalidDimensions = errors.New("invalid buffer dimensions")

// New returns a zero-filled (black) buffer.
func New(width, height uint32) *Buffer {
	return &Buffer{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, 3*int(width)*int(height)),
	}
}

// FromPix wraps an existing RGB slice after checking its length.
func FromPix(width, height uint32, pix []uint8) (*Buffer, error) {
	if len(pix) != 3*int(width)*int(height) {
		return nil, fmt.Errorf("%w: %dx%d needs %d bytes, got %d", ErrInvalidDimensions, width, height, 3*int(width)*int(height), len(pix))
	}
	return &Buffer{Width: width, Height: height, Pix: pix}, nil
}

// FromImage converts any decoded image to RGB. Alpha is discarded.
func FromImage(src image.Image) *Buffer {
	bounds := src.Bounds()
	out := New(uint32(bounds.Dx()), uint32(bounds.Dy()))

	switch img := src.(type) {
	case *image.RGBA:
		copyStrided(out, img.Pix, img.Stride, bounds.Dx(), bounds.Dy())
		return out
	case *image.NRGBA:
		copyStrided(out, img.Pix, img.Stride, bounds.Dx(), bounds.Dy())
		return out
	}

	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			c := color.RGBAModel.Convert(src.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.RGBA)
			i := out.offset(uint32(x), uint32(y))
			out.Pix[i] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
		}
	}
	return out
}

func copyStrided(dst *Buffer, pix []uint8, stride, w, h int) {
	for y := 0; y < h; y++ {
		row := pix[y*stride : y*stride+4*w]
		out := dst.Pix[3*y*w : 3*(y+1)*w]
		for x := 0; x < w; x++ {
			out[3*x] = row[4*x]
			out[3*x+1] = row[4*x+1]
			out[3*x+2] = row[4*x+2]
		}
	}
}

// ToRGBA returns an opaque RGBA copy, which the stdlib encoders handle on a fast path.
func (b *Buffer) ToRGBA() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, int(b.Width), int(b.Height)))
	w := int(b.Width)
	for y := 0; y < int(b.Height); y++ {
		src := b.Pix[3*y*w : 3*(y+1)*w]
		dst := out.Pix[y*out.Stride : y*out.Stride+4*w]
		for x := 0; x < w; x++ {
			dst[4*x] = src[3*x]
			dst[4*x+1] = src[3*x+1]
			dst[4*x+2] = src[3*x+2]
			dst[4*x+3] = 0xff
		}
	}
	return out
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return &Buffer{Width: b.Width, Height: b.Height, Pix: pix}
}

func (b *Buffer) offset(x, y uint32) int {
	return 3 * (int(y)*int(b.Width) + int(x))
}

// InBounds reports whether (x, y) addresses a pixel of b. Signed so callers can
// test displaced coordinates without converting first.
func (b *Buffer) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < int(b.Width) && y < int(b.Height)
}

// RGB returns the pixel at (x, y). The caller guarantees the coordinate is in bounds.
func (b *Buffer) RGB(x, y uint32) (r, g, bl uint8) {
	i := b.offset(x, y)
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2]
}

func (b *Buffer) SetRGB(x, y uint32, r, g, bl uint8) {
	i := b.offset(x, y)
	b.Pix[i] = r
	b.Pix[i+1] = g
	b.Pix[i+2] = bl
}

// CopyPixel copies one pixel from src at (sx, sy) into b at (dx, dy).
func (b *Buffer) CopyPixel(dx, dy uint32, src *Buffer, sx, sy uint32) {
	d := b.offset(dx, dy)
	s := src.offset(sx, sy)
	copy(b.Pix[d:d+3], src.Pix[s:s+3])
}

// Equal reports whether both buffers have identical dimensions and pixels.
func (b *Buffer) Equal(other *Buffer) bool {
	if b.Width != other.Width || b.Height != other.Height {
		return false
	}
	for i := range b.Pix {
		if b.Pix[i] != other.Pix[i] {
			return false
		}
	}
	return true
}

func (b *Buffer) ColorModel() color.Model { return color.RGBAModel }

func (b *Buffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, int(b.Width), int(b.Height))
}

func (b *Buffer) At(x, y int) color.Color {
	if !b.InBounds(x, y) {
		return color.RGBA{}
	}
	r, g, bl := b.RGB(uint32(x), uint32(y))
	return color.RGBA{R: r, G: g, B: bl, A: 0xff}
}
