package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/dunamismax/facewarp/internal/raster"
)

func buildTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: 90, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodePNG(t *testing.T) {
	c := New(0, 0)

	buf, format, err := c.Decode(buildTestPNG(t, 6, 4))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if format != "png" {
		t.Fatalf("expected png format, got %q", format)
	}
	if buf.Width != 6 || buf.Height != 4 {
		t.Fatalf("expected 6x4, got %dx%d", buf.Width, buf.Height)
	}
	r, g, b := buf.RGB(3, 2)
	if r != 21 || g != 10 || b != 90 {
		t.Fatalf("unexpected pixel (%d,%d,%d)", r, g, b)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := New(0, 0)

	for _, input := range [][]byte{nil, []byte("not an image")} {
		if _, _, err := c.Decode(input); !errors.Is(err, ErrDecode) {
			t.Fatalf("expected ErrDecode for %q, got %v", input, err)
		}
	}
}

func TestDecodeEnforcesPixelLimit(t *testing.T) {
	c := New(10, 0)

	if _, _, err := c.Decode(buildTestPNG(t, 4, 4)); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode over the pixel limit, got %v", err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	c := New(0, 0)
	src := raster.New(5, 3)
	src.SetRGB(4, 2, 200, 100, 50)

	data, err := c.Encode(src, "png")
	if err != nil {
		t.Fatalf("encode png: %v", err)
	}
	back, _, err := c.Decode(data)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if !back.Equal(src) {
		t.Fatal("expected png round trip to be lossless")
	}
}

func TestEncodeJPEG(t *testing.T) {
	c := New(0, 60)

	data, err := c.Encode(raster.New(8, 8), "JPG")
	if err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(data)); err != nil {
		t.Fatalf("expected jpeg output: %v", err)
	}
}

func TestEncodeEmptyBuffer(t *testing.T) {
	c := New(0, 0)
	if _, err := c.Encode(raster.New(0, 3), "png"); !errors.Is(err, ErrEncode) {
		t.Fatalf("expected ErrEncode, got %v", err)
	}
}

func TestScale(t *testing.T) {
	src := raster.New(40, 20)

	got := Scale(src, 0.25)
	if got.Width != 10 || got.Height != 5 {
		t.Fatalf("expected 10x5, got %dx%d", got.Width, got.Height)
	}

	tiny := Scale(raster.New(2, 2), 0.25)
	if tiny.Width != 1 || tiny.Height != 1 {
		t.Fatalf("expected 1x1 floor, got %dx%d", tiny.Width, tiny.Height)
	}
}

func TestNormalizeFormat(t *testing.T) {
	tests := map[string]string{
		"":      FormatPNG,
		"png":   FormatPNG,
		"jpg":   FormatJPEG,
		" JPEG": FormatJPEG,
		"webp":  FormatPNG,
	}
	for in, want := range tests {
		if got := NormalizeFormat(in); got != want {
			t.Errorf("NormalizeFormat(%q) = %q, want %q", in, got, want)
		}
	}
}
