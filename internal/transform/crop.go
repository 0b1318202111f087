package transform

import "github.com/dunamismax/facewarp/internal/raster"

// Crop returns a width×height buffer holding the part of buf that starts at (x, y).
// The request is never rejected: pixels whose source falls outside buf stay black.
func Crop(buf *raster.Buffer, x, y, width, height uint32) *raster.Buffer {
	out := raster.New(width, height)

	window := raster.Rect{X: x, Y: y, Width: width, Height: height}.Clamp(buf.Width, buf.Height)
	if window.Empty() {
		return out
	}

	rowBytes := 3 * int(window.Width)
	for row := uint32(0); row < window.Height; row++ {
		src := 3 * (int(y+row)*int(buf.Width) + int(x))
		dst := 3 * int(row) * int(width)
		copy(out.Pix[dst:dst+rowBytes], buf.Pix[src:src+rowBytes])
	}
	return out
}
