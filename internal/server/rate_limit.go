package server

import (
	"sync"
	"time"
)

// JobRateLimiter restricts how frequently a single client
// can submit print jobs via WebSocket.
type JobRateLimiter struct {
	mu        sync.Mutex
	attempts  map[string][]time.Time
	maxPerMin int
	now       func() time.Time
}

// NewJobRateLimiter creates a limiter allowing maxPerMinute jobs per client.
// A non-positive maxPerMinute disables limiting.
func NewJobRateLimiter(maxPerMinute int) *JobRateLimiter {
	return &JobRateLimiter{
		attempts:  make(map[string][]time.Time),
		maxPerMin: maxPerMinute,
		now:       time.Now,
	}
}

// Allow returns true if the client has not exceeded the rate limit.
func (rl *JobRateLimiter) Allow(clientAddr string) bool {
	if rl == nil || rl.maxPerMin <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-time.Minute)

	recent := make([]time.Time, 0, rl.maxPerMin)
	for _, t := range rl.attempts[clientAddr] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.maxPerMin {
		rl.attempts[clientAddr] = recent
		return false
	}

	rl.attempts[clientAddr] = append(recent, now)
	return true
}
