package pipeline

import (
	"testing"

	"github.com/dunamismax/facewarp/internal/config"
	"github.com/dunamismax/facewarp/internal/logging"
)

func TestFromConfig(t *testing.T) {
	pc := config.PipelineConfig{Concurrency: 2, JPEGQuality: 90, TrimThreshold: 40}
	dc := config.DetectorConfig{BoxColor: "00ff00", BoxThickness: 3}

	p, err := FromConfig(pc, dc, nil, logging.Discard())
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if p.concurrency != 2 {
		t.Fatalf("expected concurrency 2, got %d", p.concurrency)
	}
	engine := p.transformer.(*Engine)
	if engine.cfg.BoxColor.G != 255 || engine.cfg.BoxColor.R != 0 || engine.cfg.BoxThickness != 3 {
		t.Fatalf("unexpected engine config %+v", engine.cfg)
	}

	if _, err := FromConfig(config.PipelineConfig{TrimThreshold: 300}, dc, nil, logging.Discard()); err == nil {
		t.Fatal("expected error for out of range threshold")
	}
	if _, err := FromConfig(pc, config.DetectorConfig{BoxColor: "#zz"}, nil, logging.Discard()); err == nil {
		t.Fatal("expected error for bad colour")
	}
}
