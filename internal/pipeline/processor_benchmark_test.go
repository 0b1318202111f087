package pipeline

import (
	"context"
	"testing"

	"github.com/dunamismax/facewarp/internal/codec"
	"github.com/dunamismax/facewarp/internal/domain"
	"github.com/dunamismax/facewarp/internal/logging"
)

func benchmarkProcessor(b *testing.B, op domain.Operation) {
	source := buildTestPNG(b, 1920, 1080)
	logger := logging.Discard()
	processor, err := NewProcessor(Options{
		Codec:       codec.New(0, 0),
		Transformer: NewEngine(EngineConfig{TrimThreshold: 40, Logger: logger}),
		Logger:      logger,
	})
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	req := Request{
		JobID:     "bench",
		Items:     []Item{{Name: "a.png", Data: source}, {Name: "b.png", Data: source}},
		Operation: op,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func BenchmarkProcessorRotate(b *testing.B) {
	benchmarkProcessor(b, domain.Operation{Kind: domain.OpRotate, Angle: 30})
}

func BenchmarkProcessorDistortJPEG(b *testing.B) {
	benchmarkProcessor(b, domain.Operation{Kind: domain.OpDistort, Format: "jpeg"})
}
