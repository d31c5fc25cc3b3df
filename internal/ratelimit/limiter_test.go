package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMinIntervalFromRate(t *testing.T) {
	l := NewLimiter(30, 0, 0)
	assert.Equal(t, 2*time.Second, l.MinInterval())
}

func TestRateClampedToMinimum(t *testing.T) {
	l := NewLimiter(0, 0, 0)
	assert.Equal(t, time.Minute, l.MinInterval())
}

func TestThrottleEnforcesMinimumSpacing(t *testing.T) {
	// 6000 rpm keeps the interval small enough for a unit test.
	l := NewLimiter(6000, 0, 0)

	const calls = 5
	start := time.Now()
	for i := 0; i < calls; i++ {
		l.Throttle()
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, (calls-1)*l.MinInterval())
}

func TestThrottleSerializesConcurrentCallers(t *testing.T) {
	l := NewLimiter(6000, 0, 0)

	const calls = 6
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Throttle()
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	// The lock is held across the sleep, so concurrent callers queue up and
	// the total wall time still honors the global spacing.
	assert.GreaterOrEqual(t, elapsed, (calls-1)*l.MinInterval())
}
