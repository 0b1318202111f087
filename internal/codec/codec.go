// Package codec turns uploaded bytes into raster buffers and back.
//
// Decoding goes through the stdlib registry (png, jpeg, gif) plus the x/image
// decoders (webp, bmp, tiff) unless the binary is built with the govips tag, in
// which case libvips handles decoding. Encoding always produces png or jpeg.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/facewarp/internal/raster"
)

const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"

	DefaultJPEGQuality = 85
	DefaultMaxPixels   = 64 * 1024 * 1024
)

var (
	ErrDecode = errors.New("decode image")
	ErrEncode = errors.New("encode image")
)

type Codec struct {
	maxPixels   int
	jpegQuality int
}

func New(maxPixels, jpegQuality int) *Codec {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &Codec{maxPixels: maxPixels, jpegQuality: jpegQuality}
}

// Decode returns the RGB buffer and the detected source format.
func (c *Codec) Decode(data []byte) (*raster.Buffer, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrDecode)
	}

	img, format, err := decodeImage(data, c.maxPixels)
	if err != nil {
		return nil, "", err
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, "", fmt.Errorf("%w: empty image %dx%d", ErrDecode, bounds.Dx(), bounds.Dy())
	}
	return raster.FromImage(img), strings.ToLower(format), nil
}

func (c *Codec) Encode(buf *raster.Buffer, format string) ([]byte, error) {
	if buf.Width == 0 || buf.Height == 0 {
		return nil, fmt.Errorf("%w: empty buffer %dx%d", ErrEncode, buf.Width, buf.Height)
	}

	var out bytes.Buffer
	switch NormalizeFormat(format) {
	case FormatJPEG:
		if err := jpeg.Encode(&out, buf.ToRGBA(), &jpeg.Options{Quality: c.jpegQuality}); err != nil {
			return nil, fmt.Errorf("%w: jpeg: %v", ErrEncode, err)
		}
	default:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&out, buf.ToRGBA()); err != nil {
			return nil, fmt.Errorf("%w: png: %v", ErrEncode, err)
		}
	}
	return out.Bytes(), nil
}

// Scale resizes buf by factor with a linear (triangle) filter. The result is at
// least 1×1.
func Scale(buf *raster.Buffer, factor float64) *raster.Buffer {
	if factor <= 0 || factor == 1 {
		return buf.Clone()
	}
	w := max(1, int(float64(buf.Width)*factor))
	h := max(1, int(float64(buf.Height)*factor))
	return raster.FromImage(imaging.Resize(buf, w, h, imaging.Linear))
}

// NormalizeFormat maps user input onto an encodable format, defaulting to png.
func NormalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpg", "jpeg":
		return FormatJPEG
	default:
		return FormatPNG
	}
}

func ContentType(format string) string {
	if NormalizeFormat(format) == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}
