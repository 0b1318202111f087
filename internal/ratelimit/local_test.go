package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalLimiterRejectsAfterBurst(t *testing.T) {
	limiter, err := NewLocalLimiter(2, time.Minute, 2)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(context.Background(), "10.0.0.1:/crop")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: expected allowed, got %+v err=%v", i, d, err)
		}
	}

	d, err := limiter.Allow(context.Background(), "10.0.0.1:/crop")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed || d.RetryAfter <= 0 {
		t.Fatalf("expected rejection with retry-after, got %+v", d)
	}

	other, _ := limiter.Allow(context.Background(), "10.0.0.2:/crop")
	if !other.Allowed {
		t.Fatal("expected other subject to have its own bucket")
	}

	now = now.Add(31 * time.Second)
	if d, _ := limiter.Allow(context.Background(), "10.0.0.1:/crop"); !d.Allowed {
		t.Fatalf("expected a token after refill, got %+v", d)
	}
}

func TestLocalLimiterEvictsIdleSubjects(t *testing.T) {
	limiter, err := NewLocalLimiter(10, time.Second, 0)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	_, _ = limiter.Allow(context.Background(), "a")
	now = now.Add(5 * time.Second)
	_, _ = limiter.Allow(context.Background(), "b")

	if _, ok := limiter.limiters["a"]; ok {
		t.Fatal("expected idle subject to be evicted")
	}
}

func TestNewLocalLimiterValidates(t *testing.T) {
	if _, err := NewLocalLimiter(0, time.Second, 1); err == nil {
		t.Fatal("expected error for zero requests")
	}
	if _, err := NewLocalLimiter(1, 0, 1); err == nil {
		t.Fatal("expected error for zero window")
	}
}
