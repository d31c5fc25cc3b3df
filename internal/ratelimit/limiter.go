package ratelimit

import (
	"math/rand"
	"sync"
	"time"
)

// Limiter bounds global request issuance to a configured rate. One instance
// is shared by every worker, so the configured rate caps total outbound
// traffic regardless of worker count. Throttle serializes issuance: the lock
// is held across the sleep on purpose, which is what makes the minimum
// interval hold between any two requests, not just those of one worker.
type Limiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	jitterMin   float64 // seconds
	jitterMax   float64 // seconds
	last        time.Time
}

func NewLimiter(requestsPerMinute int, jitterMinSec, jitterMaxSec float64) *Limiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	if jitterMaxSec < jitterMinSec {
		jitterMaxSec = jitterMinSec
	}
	return &Limiter{
		minInterval: time.Duration(float64(time.Minute) / float64(requestsPerMinute)),
		jitterMin:   jitterMinSec,
		jitterMax:   jitterMaxSec,
	}
}

// Throttle blocks until it is safe to issue the next request: sleeps the
// remainder of the minimum interval since the previous issuance, then adds a
// uniform random delay in the configured jitter window, then stamps the new
// issuance time.
func (l *Limiter) Throttle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.last.IsZero() {
		if elapsed := time.Since(l.last); elapsed < l.minInterval {
			time.Sleep(l.minInterval - elapsed)
		}
	}

	if l.jitterMax > 0 {
		jitter := l.jitterMin + rand.Float64()*(l.jitterMax-l.jitterMin)
		time.Sleep(time.Duration(jitter * float64(time.Second)))
	}

	l.last = time.Now()
}

// MinInterval exposes the computed floor between requests.
func (l *Limiter) MinInterval() time.Duration {
	return l.minInterval
}
