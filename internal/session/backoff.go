package session

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// unlockLimiter throttles unlock attempts. The first free consecutive
// failures cost nothing; every failure after that blocks further attempts
// for an exponentially growing, capped delay. The Registry keeps one per
// user so the count survives closing and reopening a session.
type unlockLimiter struct {
	mu       sync.Mutex
	free     int
	failures int
	until    time.Time
	bo       *backoff.ExponentialBackOff
}

func newUnlockLimiter(free int, initial, max time.Duration) *unlockLimiter {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = max
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &unlockLimiter{free: free, bo: bo}
}

// retryAfter is how long the caller must wait before the next attempt.
func (l *unlockLimiter) retryAfter(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Before(l.until) {
		return l.until.Sub(now)
	}
	return 0
}

// fail records a rejected PIN and returns the consecutive failure count.
func (l *unlockLimiter) fail(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
	if l.failures <= l.free {
		return l.failures
	}
	d := l.bo.NextBackOff()
	if d == backoff.Stop {
		d = l.bo.MaxInterval
	}
	l.until = now.Add(d)
	return l.failures
}

func (l *unlockLimiter) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = 0
	l.until = time.Time{}
	l.bo.Reset()
}

// clean reports whether the limiter holds no failures worth remembering.
func (l *unlockLimiter) clean() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures == 0
}
