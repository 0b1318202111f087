package transform

import (
	"errors"
	"image"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/facewarp/internal/raster"
)

func gradientBuffer(w, h uint32) *raster.Buffer {
	buf := raster.New(w, h)
	for y := uint32(0); y < h; y++ {
		for x := uint32(0); x < w; x++ {
			buf.SetRGB(x, y, uint8(x*17+y), uint8(y*29+x), uint8((x+y)*7+60))
		}
	}
	return buf
}

func TestInvertIsInvolution(t *testing.T) {
	src := gradientBuffer(13, 7)
	buf := src.Clone()

	Invert(buf)
	if buf.Equal(src) {
		t.Fatal("expected single inversion to change pixels")
	}
	Invert(buf)
	if !buf.Equal(src) {
		t.Fatal("expected double inversion to restore the buffer")
	}
}

func TestInvertMatchesBild(t *testing.T) {
	src := gradientBuffer(9, 5)
	want := raster.FromImage(effect.Invert(src))

	got := src.Clone()
	Invert(got)
	if !got.Equal(want) {
		t.Fatal("expected invert to match bild effect.Invert")
	}
}

func TestCropReturnsRequestedSize(t *testing.T) {
	src := gradientBuffer(10, 8)

	tests := []struct {
		name                string
		x, y, width, height uint32
	}{
		{"inside", 2, 1, 4, 3},
		{"full", 0, 0, 10, 8},
		{"overhang right", 7, 0, 6, 2},
		{"overhang bottom", 0, 6, 3, 5},
		{"fully outside", 20, 20, 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Crop(src, tt.x, tt.y, tt.width, tt.height)
			if out.Width != tt.width || out.Height != tt.height {
				t.Fatalf("dimensions: got %dx%d, want %dx%d", out.Width, out.Height, tt.width, tt.height)
			}

			for oy := uint32(0); oy < tt.height; oy++ {
				for ox := uint32(0); ox < tt.width; ox++ {
					sx, sy := int(tt.x+ox), int(tt.y+oy)
					r, g, b := out.RGB(ox, oy)
					if src.InBounds(sx, sy) {
						wr, wg, wb := src.RGB(uint32(sx), uint32(sy))
						if r != wr || g != wg || b != wb {
							t.Fatalf("pixel (%d,%d): got (%d,%d,%d), want (%d,%d,%d)", ox, oy, r, g, b, wr, wg, wb)
						}
						continue
					}
					if r != 0 || g != 0 || b != 0 {
						t.Fatalf("pixel (%d,%d) outside source should be black, got (%d,%d,%d)", ox, oy, r, g, b)
					}
				}
			}
		})
	}
}

func TestCropOverflowDoesNotPanic(t *testing.T) {
	src := gradientBuffer(4, 4)
	out := Crop(src, ^uint32(0), ^uint32(0), 2, 2)
	if out.Width != 2 || out.Height != 2 {
		t.Fatalf("expected 2x2, got %dx%d", out.Width, out.Height)
	}
}

func TestCropMatchesImaging(t *testing.T) {
	src := gradientBuffer(16, 12)
	want := raster.FromImage(imaging.Crop(src, image.Rect(3, 2, 11, 9)))

	got := Crop(src, 3, 2, 8, 7)
	if !got.Equal(want) {
		t.Fatal("expected in-bounds crop to match imaging.Crop")
	}
}

func TestRotateZeroIsIdentity(t *testing.T) {
	src := gradientBuffer(11, 6)
	if got := Rotate(src, 0); !got.Equal(src) {
		t.Fatal("expected rotate by 0 to reproduce the source")
	}
	if got := Rotate(src, 360); !got.Equal(src) {
		t.Fatal("expected rotate by 360 to reproduce the source")
	}
}

func TestRotateRightAngleSwapsDimensions(t *testing.T) {
	src := gradientBuffer(7, 3)

	for _, angle := range []float64{90, 270, -90, -270, 450} {
		out := Rotate(src, angle)
		if out.Width != 3 || out.Height != 7 {
			t.Errorf("angle %v: got %dx%d, want 3x7", angle, out.Width, out.Height)
		}
	}
	for _, angle := range []float64{180, 45, 30.5, -180} {
		out := Rotate(src, angle)
		if out.Width != 7 || out.Height != 3 {
			t.Errorf("angle %v: got %dx%d, want 7x3", angle, out.Width, out.Height)
		}
	}
}

func TestRotateRoundTripRestoresDimensions(t *testing.T) {
	src := gradientBuffer(8, 5)
	back := Rotate(Rotate(src, 90), 270)
	if back.Width != src.Width || back.Height != src.Height {
		t.Fatalf("expected %dx%d after round trip, got %dx%d", src.Width, src.Height, back.Width, back.Height)
	}
	if !back.Equal(src) {
		t.Fatal("expected right-angle round trip to restore every pixel")
	}
}

func TestRotate90MovesCorners(t *testing.T) {
	src := raster.New(4, 2)
	src.SetRGB(0, 0, 255, 0, 0)
	src.SetRGB(3, 1, 0, 0, 255)

	out := Rotate(src, 90)
	// clockwise in image coordinates: top-left goes to top-right
	if r, _, _ := out.RGB(1, 0); r != 255 {
		t.Fatalf("expected red pixel at (1,0), got r=%d", r)
	}
	if _, _, b := out.RGB(0, 3); b != 255 {
		t.Fatalf("expected blue pixel at (0,3), got b=%d", b)
	}
}

func TestRotateArbitraryAngleLeavesBlackCorners(t *testing.T) {
	src := raster.New(20, 20)
	for i := range src.Pix {
		src.Pix[i] = 200
	}

	out := Rotate(src, 45)
	if r, g, b := out.RGB(0, 0); r != 0 || g != 0 || b != 0 {
		t.Fatalf("expected black corner, got (%d,%d,%d)", r, g, b)
	}
	if r, _, _ := out.RGB(10, 10); r != 200 {
		t.Fatalf("expected centre to keep content, got r=%d", r)
	}
}

func TestRotateNaNDoesNotPanic(t *testing.T) {
	out := Rotate(gradientBuffer(3, 3), math.NaN())
	if out.Width != 3 || out.Height != 3 {
		t.Fatalf("expected 3x3, got %dx%d", out.Width, out.Height)
	}
}

func TestWobbleSeededIsDeterministic(t *testing.T) {
	src := gradientBuffer(40, 10)

	a := Wobble(src, 5, rand.New(rand.NewPCG(1, 2)))
	b := Wobble(src, 5, rand.New(rand.NewPCG(1, 2)))
	if !a.Equal(b) {
		t.Fatal("expected identical output for identical seeds")
	}
	if a.Equal(src) {
		t.Fatal("expected wobble to move some pixels")
	}
}

func TestWobbleSamplesOnlyFromSameRowWithinOffset(t *testing.T) {
	const maxOffset = 3
	src := raster.New(50, 4)
	for y := uint32(0); y < src.Height; y++ {
		for x := uint32(0); x < src.Width; x++ {
			// unique per pixel: R encodes x, G encodes y
			src.SetRGB(x, y, uint8(x), uint8(y), 0)
		}
	}
	snapshot := src.Clone()

	out := Wobble(src, maxOffset, rand.New(rand.NewPCG(42, 7)))
	if !src.Equal(snapshot) {
		t.Fatal("expected wobble to leave its input untouched")
	}

	for y := uint32(0); y < out.Height; y++ {
		for x := uint32(0); x < out.Width; x++ {
			r, g, _ := out.RGB(x, y)
			if uint32(g) != y {
				t.Fatalf("pixel (%d,%d) sampled from row %d", x, y, g)
			}
			dx := int(r) - int(x)
			if dx < -maxOffset || dx >= maxOffset {
				t.Fatalf("pixel (%d,%d) displaced by %d, outside [-%d,%d)", x, y, dx, maxOffset, maxOffset)
			}
		}
	}
}

func TestWobbleNonPositiveOffsetCopies(t *testing.T) {
	src := gradientBuffer(5, 5)
	out := Wobble(src, 0, nil)
	if !out.Equal(src) {
		t.Fatal("expected zero offset to return an unchanged copy")
	}
	if &out.Pix[0] == &src.Pix[0] {
		t.Fatal("expected a copy, not the same backing array")
	}
}

func TestTrimAllBlack(t *testing.T) {
	_, err := Trim(raster.New(6, 4), DefaultTrimThreshold)
	if !errors.Is(err, ErrAllBlackImage) {
		t.Fatalf("expected ErrAllBlackImage, got %v", err)
	}

	dark := raster.New(1, 1)
	dark.SetRGB(0, 0, 40, 40, 40)
	if _, err := Trim(dark, DefaultTrimThreshold); !errors.Is(err, ErrAllBlackImage) {
		t.Fatalf("expected pixels at the threshold to count as black, got %v", err)
	}
}

func TestTrimSinglePixel(t *testing.T) {
	src := raster.New(9, 7)
	src.SetRGB(5, 3, 41, 0, 0)

	rect, err := Bounds(src, DefaultTrimThreshold)
	if err != nil {
		t.Fatalf("bounds: %v", err)
	}
	if rect != (raster.Rect{X: 5, Y: 3, Width: 1, Height: 1}) {
		t.Fatalf("expected 1x1 at (5,3), got %+v", rect)
	}

	out, err := Trim(src, DefaultTrimThreshold)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if out.Width != 1 || out.Height != 1 {
		t.Fatalf("expected 1x1, got %dx%d", out.Width, out.Height)
	}
	if r, _, _ := out.RGB(0, 0); r != 41 {
		t.Fatalf("expected the lit pixel, got r=%d", r)
	}
}

func TestTrimRemovesBorders(t *testing.T) {
	src := raster.New(12, 10)
	for y := uint32(2); y < 8; y++ {
		for x := uint32(3); x < 9; x++ {
			src.SetRGB(x, y, 10, 120, 10)
		}
	}
	src.SetRGB(10, 9, 90, 90, 90)

	rect, err := Bounds(src, DefaultTrimThreshold)
	if err != nil {
		t.Fatalf("bounds: %v", err)
	}
	want := raster.Rect{X: 3, Y: 2, Width: 8, Height: 8}
	if rect != want {
		t.Fatalf("bounds: got %+v, want %+v", rect, want)
	}
}

func TestBoundsRejectsMalformedBuffer(t *testing.T) {
	bad := &raster.Buffer{Width: 3, Height: 3, Pix: make([]uint8, 5)}
	if _, err := Bounds(bad, DefaultTrimThreshold); !errors.Is(err, raster.ErrInvalidDimensions) {
		t.Fatalf("expected ErrInvalidDimensions, got %v", err)
	}
}

func BenchmarkRotate(b *testing.B) {
	src := gradientBuffer(1280, 720)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Rotate(src, 33)
	}
}

func BenchmarkTrim(b *testing.B) {
	src := raster.New(1280, 720)
	src.SetRGB(640, 360, 255, 255, 255)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Trim(src, DefaultTrimThreshold); err != nil {
			b.Fatalf("trim: %v", err)
		}
	}
}
