package transform

import "github.com/dunamismax/facewarp/internal/raster"

// Invert replaces every channel c with 255-c, in place.
func Invert(buf *raster.Buffer) {
	for i, c := range buf.Pix {
		buf.Pix[i] = 255 - c
	}
}
