package transform

import (
	"math/rand/v2"

	"github.com/dunamismax/facewarp/internal/raster"
)

const DefaultWobbleOffset = 100

// Wobble jitters every pixel horizontally by a displacement drawn uniformly from
// [-maxOffset, maxOffset). Samples come from an unmodified snapshot of buf; a
// displacement that lands outside the row keeps the original pixel.
func Wobble(buf *raster.Buffer, maxOffset int, rng *rand.Rand) *raster.Buffer {
	out := buf.Clone()
	if maxOffset <= 0 || buf.Width == 0 {
		return out
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	span := 2 * maxOffset
	for y := 0; y < int(buf.Height); y++ {
		for x := 0; x < int(buf.Width); x++ {
			sx := x + rng.IntN(span) - maxOffset
			if !buf.InBounds(sx, y) {
				continue
			}
			out.CopyPixel(uint32(x), uint32(y), buf, uint32(sx), uint32(y))
		}
	}
	return out
}
