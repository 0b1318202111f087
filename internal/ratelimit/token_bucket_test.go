package ratelimit

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewRedisTokenBucketValidates(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	tests := []struct {
		name     string
		client   redis.UniversalClient
		capacity int
		window   time.Duration
	}{
		{name: "nil client", capacity: 1, window: time.Second},
		{name: "zero capacity", client: client, window: time.Second},
		{name: "zero window", client: client, capacity: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRedisTokenBucket(tt.client, tt.capacity, tt.window, ""); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	b, err := NewRedisTokenBucket(client, 10, time.Minute, " ")
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	if got := b.key("  "); got != defaultKeyPrefix+":anonymous" {
		t.Fatalf("unexpected key %q", got)
	}
	if b.ttl != 2*time.Minute {
		t.Fatalf("expected ttl of two windows, got %s", b.ttl)
	}
}

func TestDecisionFromReply(t *testing.T) {
	d, err := decisionFromReply([]int64{1, 4, 0})
	if err != nil || !d.Allowed || d.Remaining != 4 || d.RetryAfter != 0 {
		t.Fatalf("unexpected allowed decision %+v err=%v", d, err)
	}

	d, err = decisionFromReply([]int64{0, 0, 1500})
	if err != nil || d.Allowed || d.RetryAfter != 1500*time.Millisecond {
		t.Fatalf("unexpected rejected decision %+v err=%v", d, err)
	}

	if _, err := decisionFromReply([]int64{1}); err == nil {
		t.Fatal("expected error for short reply")
	}
}
