package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter keeps one x/time/rate limiter per subject in memory. Subjects
// idle for longer than the refill window are evicted on the next sweep.
type LocalLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*localEntry
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocalLimiter(requests int, window time.Duration, burst int) (*LocalLimiter, error) {
	if requests <= 0 {
		return nil, fmt.Errorf("requests must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	if burst <= 0 {
		burst = requests
	}

	return &LocalLimiter{
		limiters:  make(map[string]*localEntry),
		limit:     rate.Limit(float64(requests) / window.Seconds()),
		burst:     burst,
		idleAfter: 2 * window,
		now:       time.Now,
	}, nil
}

func (l *LocalLimiter) Allow(_ context.Context, subject string) (Decision, error) {
	subject = normalizeSubject(subject)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	entry, ok := l.limiters[subject]
	if !ok {
		entry = &localEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[subject] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}

	remaining := int64(math.Floor(entry.limiter.TokensAt(now)))
	return Decision{Allowed: true, Remaining: max(remaining, 0)}, nil
}

func (l *LocalLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleAfter {
		return
	}
	l.lastSweep = now
	for subject, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.idleAfter {
			delete(l.limiters, subject)
		}
	}
}
