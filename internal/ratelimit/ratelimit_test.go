package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowLimiterCeiling(t *testing.T) {
	limiter := NewWindowLimiter(10, time.Hour)

	// Requests 1-10 are admitted with decreasing remaining
	for i := 1; i <= 10; i++ {
		allowed, remaining, resetAt := limiter.Check("U123:T1")
		assert.True(t, allowed, "request %d should be admitted", i)
		assert.Equal(t, 10-i, remaining)
		assert.True(t, resetAt.After(time.Now()))
	}

	// Request 11 is rejected with a reset time in the future
	allowed, remaining, resetAt := limiter.Check("U123:T1")
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
	assert.True(t, resetAt.After(time.Now()))
}

func TestWindowLimiterIdentitiesAreIndependent(t *testing.T) {
	limiter := NewWindowLimiter(1, time.Hour)

	allowed, _, _ := limiter.Check("U1:T1")
	assert.True(t, allowed)
	allowed, _, _ = limiter.Check("U1:T1")
	assert.False(t, allowed)

	allowed, _, _ = limiter.Check("U2:T1")
	assert.True(t, allowed)
}

func TestWindowLimiterResets(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewWindowLimiter(2, time.Hour)
	limiter.now = func() time.Time { return current }

	limiter.Check("U1:T1")
	limiter.Check("U1:T1")
	allowed, _, resetAt := limiter.Check("U1:T1")
	assert.False(t, allowed)
	assert.Equal(t, current.Add(time.Hour), resetAt)

	// After the window passes the counter restarts at 1
	current = current.Add(time.Hour + time.Minute)
	allowed, remaining, resetAt := limiter.Check("U1:T1")
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, current.Add(time.Hour), resetAt)
}

func TestWindowLimiterConcurrentBoundary(t *testing.T) {
	const ceiling = 10
	limiter := NewWindowLimiter(ceiling, time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, _ := limiter.Check("U123:T1")
			if allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, ceiling, admitted)
}

func TestWindowLimiterPrune(t *testing.T) {
	current := time.Now()
	limiter := NewWindowLimiter(5, time.Hour)
	limiter.now = func() time.Time { return current }

	limiter.Check("U1:T1")
	limiter.Check("U2:T1")
	assert.Len(t, limiter.entries, 2)

	current = current.Add(2 * time.Hour)
	limiter.Prune()
	assert.Len(t, limiter.entries, 0)
}
