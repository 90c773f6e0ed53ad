package breakglass

import (
	"context"
	"sync"
	"time"
)

// RateLimiter caps how often a single user may request emergency access.
type RateLimiter interface {
	// Allow reports whether the user is under the limit at now and, if so,
	// counts this request against it.
	Allow(ctx context.Context, userID string, now time.Time) (bool, error)
}

// MemoryLimiter tracks per-user request timestamps within a rolling window.
type MemoryLimiter struct {
	mu         sync.Mutex
	entries    map[string][]time.Time
	window     time.Duration
	maxPerUser int
}

// NewMemoryLimiter creates an in-process rolling-window limiter allowing
// maxPerUser requests per window. It is the fallback when Redis is not
// configured; counts are then per process, not cluster-wide.
func NewMemoryLimiter(maxPerUser int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		entries:    make(map[string][]time.Time),
		window:     window,
		maxPerUser: maxPerUser,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, userID string, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)

	existing := l.entries[userID]
	pruned := existing[:0]
	for _, ts := range existing {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= l.maxPerUser {
		l.entries[userID] = pruned
		return false, nil
	}

	l.entries[userID] = append(pruned, now)
	return true, nil
}

// Cleanup drops users whose every timestamp fell out of the window. The
// server schedules it on a ticker to bound memory over long uptimes.
func (l *MemoryLimiter) Cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	for userID, timestamps := range l.entries {
		pruned := timestamps[:0]
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				pruned = append(pruned, ts)
			}
		}
		if len(pruned) == 0 {
			delete(l.entries, userID)
		} else {
			l.entries[userID] = pruned
		}
	}
}
