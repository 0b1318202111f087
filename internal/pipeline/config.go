package pipeline

import (
	"fmt"

	"github.com/dunamismax/facewarp/internal/codec"
	"github.com/dunamismax/facewarp/internal/config"
	"github.com/dunamismax/facewarp/internal/detect"
	"github.com/sirupsen/logrus"
)

// FromConfig builds the processor both binaries share.
func FromConfig(pc config.PipelineConfig, dc config.DetectorConfig, det Detector, logger *logrus.Logger) (*Processor, error) {
	boxColor, err := detect.ParseColor(dc.BoxColor)
	if err != nil {
		return nil, fmt.Errorf("detector box color: %w", err)
	}
	if pc.TrimThreshold < 0 || pc.TrimThreshold > 255 {
		return nil, fmt.Errorf("trim threshold %d is outside 0..255", pc.TrimThreshold)
	}

	return NewProcessor(Options{
		Concurrency: pc.Concurrency,
		Codec:       codec.New(pc.MaxDecodePixels, pc.JPEGQuality),
		Transformer: NewEngine(EngineConfig{
			Detector:      det,
			WobbleOffset:  pc.WobbleOffset,
			TrimThreshold: uint8(pc.TrimThreshold),
			PreviewScale:  dc.PreviewScale,
			BoxColor:      boxColor,
			BoxThickness:  dc.BoxThickness,
			Logger:        logger,
		}),
		Logger: logger,
	})
}
