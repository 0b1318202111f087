package domain

import (
	"errors"
	"testing"
)

func fields(values map[string]string) func(string) string {
	return func(name string) string { return values[name] }
}

func TestParseOperationCrop(t *testing.T) {
	op, err := ParseOperation(OpCrop, fields(map[string]string{
		"x": "0", "y": "1", "width": "2", "height": "3",
	}))
	if err != nil {
		t.Fatalf("parse crop: %v", err)
	}
	if op.Crop == nil || *op.Crop != (CropParams{X: 0, Y: 1, Width: 2, Height: 3}) {
		t.Fatalf("unexpected crop params %+v", op.Crop)
	}
}

func TestParseOperationRejectsBadParameters(t *testing.T) {
	tests := []struct {
		name   string
		kind   OperationKind
		fields map[string]string
	}{
		{"crop missing height", OpCrop, map[string]string{"x": "0", "y": "0", "width": "2"}},
		{"crop not numeric", OpCrop, map[string]string{"x": "a", "y": "0", "width": "2", "height": "2"}},
		{"crop negative", OpCrop, map[string]string{"x": "-1", "y": "0", "width": "2", "height": "2"}},
		{"crop zero width", OpCrop, map[string]string{"x": "0", "y": "0", "width": "0", "height": "2"}},
		{"crop too large", OpCrop, map[string]string{"x": "0", "y": "0", "width": "100000", "height": "100000"}},
		{"rotate not numeric", OpRotate, map[string]string{"angle": "ninety"}},
		{"rotate nan", OpRotate, map[string]string{"angle": "NaN"}},
		{"rotate inf", OpRotate, map[string]string{"angle": "+Inf"}},
		{"trim threshold overflow", OpTrim, map[string]string{"threshold": "256"}},
		{"distort negative offset", OpDistort, map[string]string{"max_offset": "-4"}},
		{"unknown format", OpInvert, map[string]string{"format": "gif"}},
		{"unknown operation", OperationKind("sepia"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOperation(tt.kind, fields(tt.fields))
			if !errors.Is(err, ErrInvalidParameter) {
				t.Fatalf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestParseOperationOptionalFields(t *testing.T) {
	op, err := ParseOperation(OpRotate, fields(map[string]string{"angle": "-270.5", "format": "JPEG"}))
	if err != nil {
		t.Fatalf("parse rotate: %v", err)
	}
	if op.Angle != -270.5 || op.Format != "jpeg" {
		t.Fatalf("unexpected rotate op %+v", op)
	}

	op, err = ParseOperation(OpTrim, fields(map[string]string{"threshold": "0"}))
	if err != nil {
		t.Fatalf("parse trim: %v", err)
	}
	if op.Threshold == nil || *op.Threshold != 0 {
		t.Fatalf("expected explicit zero threshold, got %v", op.Threshold)
	}

	op, err = ParseOperation(OpDistort, fields(nil))
	if err != nil {
		t.Fatalf("parse distort: %v", err)
	}
	if op.MaxOffset != nil {
		t.Fatalf("expected default offset, got %d", *op.MaxOffset)
	}
}
