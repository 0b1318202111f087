package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type RuntimeConfig struct {
	Backend string
	URL     string
	Timeout time.Duration
}

func NewRuntime(cfg RuntimeConfig) (Runtime, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "http":
		return NewHTTPRuntime(cfg.URL, cfg.Timeout)
	case "websocket", "ws":
		return NewWebSocketRuntime(cfg.URL, cfg.Timeout)
	default:
		return nil, fmt.Errorf("%w: unsupported runtime backend %q", ErrModelUnavailable, cfg.Backend)
	}
}

// Start builds the runtime, hands it to a new Detector and pings it once. Any
// failure is reported as ErrModelUnavailable and leaves nothing running.
func Start(ctx context.Context, cfg RuntimeConfig, opts Options) (*Detector, error) {
	rt, err := NewRuntime(cfg)
	if err != nil {
		return nil, err
	}

	d := NewDetector(rt, opts)
	if err := d.Ping(ctx); err != nil {
		_ = d.Close()
		if !errors.Is(err, ErrModelUnavailable) {
			err = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		return nil, err
	}
	return d, nil
}
