// Package ratelimit provides per-subject request limiters: a Redis token bucket
// shared by every api replica and an in-process fallback.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Decision is the outcome of one Allow call. RetryAfter is set only when the
// request was rejected.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, subject string) (Decision, error)
}

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "anonymous"
	}
	return subject
}
