package raster

// Rect is a pixel rectangle anchored at its top-left corner.
type Rect struct {
	X      uint32 `json:"x"`
	Y      uint32 `json:"y"`
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// Clamp truncates r so that it lies within a w×h raster. A rectangle that starts
// outside the raster comes back with zero width or height.
func (r Rect) Clamp(w, h uint32) Rect {
	out := r
	out.Width = clampSpan(r.X, r.Width, w)
	out.Height = clampSpan(r.Y, r.Height, h)
	return out
}

func clampSpan(start, length, limit uint32) uint32 {
	if start >= limit {
		return 0
	}
	end := uint64(start) + uint64(length)
	if end > uint64(limit) {
		end = uint64(limit)
	}
	return uint32(end - uint64(start))
}

func (r Rect) Empty() bool {
	return r.Width == 0 || r.Height == 0
}
