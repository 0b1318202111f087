package transform

import (
	"math"

	"github.com/dunamismax/facewarp/internal/raster"
)

// Rotate turns buf by angle degrees about its centre by forward-mapping every
// source pixel. Odd multiples of 90° swap the output dimensions; any other angle
// keeps them, so content past the edges is lost and unmapped pixels stay black.
// At non-right angles several sources may land on one destination and some
// destinations receive none.
func Rotate(buf *raster.Buffer, angle float64) *raster.Buffer {
	outW, outH := buf.Width, buf.Height
	if isOddRightAngle(angle) {
		outW, outH = buf.Height, buf.Width
	}
	out := raster.New(outW, outH)

	sin, cos := sincosDegrees(angle)
	srcCX := float64(buf.Width) / 2
	srcCY := float64(buf.Height) / 2
	dstCX := float64(outW) / 2
	dstCY := float64(outH) / 2

	for y := uint32(0); y < buf.Height; y++ {
		// sample at pixel centres
		dy := float64(y) + 0.5 - srcCY
		for x := uint32(0); x < buf.Width; x++ {
			dx := float64(x) + 0.5 - srcCX

			nx := math.Floor(cos*dx - sin*dy + dstCX)
			ny := math.Floor(sin*dx + cos*dy + dstCY)
			if !(nx >= 0 && ny >= 0 && nx < float64(outW) && ny < float64(outH)) {
				continue
			}
			out.CopyPixel(uint32(nx), uint32(ny), buf, x, y)
		}
	}
	return out
}

func isOddRightAngle(angle float64) bool {
	q := angle / 90
	if q != math.Trunc(q) || math.IsInf(q, 0) {
		return false
	}
	return math.Mod(math.Abs(q), 2) == 1
}

// sincosDegrees is exact for multiples of 90° so right-angle rotations do not
// pick up rounding noise from math.Sincos.
func sincosDegrees(angle float64) (sin, cos float64) {
	q := angle / 90
	if q == math.Trunc(q) && !math.IsInf(q, 0) {
		switch int(math.Mod(math.Mod(q, 4)+4, 4)) {
		case 0:
			return 0, 1
		case 1:
			return 1, 0
		case 2:
			return 0, -1
		case 3:
			return -1, 0
		}
	}
	return math.Sincos(angle * math.Pi / 180)
}
