//go:build govips && cgo

package codec

import (
	"fmt"
	"image"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func decodeImage(data []byte, maxPixels int) (image.Image, string, error) {
	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer ref.Close()

	if ref.Width()*ref.Height() > maxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", ErrDecode, ref.Width(), ref.Height(), maxPixels)
	}

	format := vips.ImageTypes[ref.Format()]
	img, err := ref.ToImage(vips.NewDefaultPNGExportParams())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, format, nil
}
