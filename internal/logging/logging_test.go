package logging

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "chatty"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewAddsComponentAndRequestID(t *testing.T) {
	logger, err := New(Config{Level: "debug", NoColors: true, Component: "api", File: filepath.Join(t.TempDir(), "api.log")})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	var out bytes.Buffer
	logger.SetOutput(&out)

	ctx := WithRequestID(context.Background(), "req-42")
	FromContext(ctx, logger).Info("handled")

	line := out.String()
	if !strings.Contains(line, "req-42") {
		t.Fatalf("expected request id in %q", line)
	}
	if !strings.Contains(line, "api") {
		t.Fatalf("expected component in %q", line)
	}
}

func TestRequestIDMissing(t *testing.T) {
	if got := RequestID(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
