package detect

import (
	"fmt"

	"github.com/dunamismax/facewarp/internal/raster"
	"github.com/lucasb-eyer/go-colorful"
)

const (
	DefaultBoxColor     = "#ff0000"
	DefaultBoxThickness = 2
)

type Color struct {
	R, G, B uint8
}

// ParseColor reads a hex colour such as "#00ff88" or "0f8".
func ParseColor(hex string) (Color, error) {
	if hex == "" {
		hex = DefaultBoxColor
	}
	if hex[0] != '#' {
		hex = "#" + hex
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return Color{}, fmt.Errorf("parse box colour %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return Color{R: r, G: g, B: b}, nil
}

// DrawBoxes outlines every detection on target in place. Boxes are mapped by
// target's own size and clamped to its bounds, so boxes computed on a larger
// frame can be drawn on a downscaled copy.
func DrawBoxes(target *raster.Buffer, dets []Detection, c Color, thickness int) {
	if target.Width == 0 || target.Height == 0 {
		return
	}
	if thickness < 1 {
		thickness = 1
	}

	for _, d := range dets {
		x0, y0, x1, y1 := d.Box.Pixels(target.Width, target.Height)
		for t := 0; t < thickness; t++ {
			if x0+t > x1-t || y0+t > y1-t {
				break
			}
			hline(target, x0+t, x1-t, y0+t, c)
			hline(target, x0+t, x1-t, y1-t, c)
			vline(target, x0+t, y0+t, y1-t, c)
			vline(target, x1-t, y0+t, y1-t, c)
		}
	}
}

func hline(buf *raster.Buffer, x0, x1, y int, c Color) {
	for x := x0; x <= x1; x++ {
		buf.SetRGB(uint32(x), uint32(y), c.R, c.G, c.B)
	}
}

func vline(buf *raster.Buffer, x, y0, y1 int, c Color) {
	for y := y0; y <= y1; y++ {
		buf.SetRGB(uint32(x), uint32(y), c.R, c.G, c.B)
	}
}
