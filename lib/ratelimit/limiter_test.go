package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(rate float64, capacity int) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(rate, capacity)
	l.now = clock.Now
	l.lastTime = clock.Now()
	return l, clock
}

func TestLimiterAllow(t *testing.T) {
	limiter, _ := newTestLimiter(10, 5)

	for i := 0; i < 5; i++ {
		if !limiter.Allow() {
			t.Errorf("request %d should be allowed", i)
		}
	}
	if limiter.Allow() {
		t.Error("6th request should be denied")
	}
}

func TestLimiterRefill(t *testing.T) {
	limiter, clock := newTestLimiter(2, 2)
	limiter.Allow()
	limiter.Allow()
	if limiter.Allow() {
		t.Fatal("should be empty")
	}

	clock.Advance(500 * time.Millisecond)
	if !limiter.Allow() {
		t.Error("should have one token after 500ms at 2/s")
	}

	clock.Advance(time.Hour)
	if got := limiter.Tokens(); got != 2 {
		t.Errorf("Tokens() = %v, want capped at 2", got)
	}
}

func TestLimiterReserve(t *testing.T) {
	limiter, _ := newTestLimiter(2, 1)

	if d := limiter.reserve(); d != 0 {
		t.Errorf("first reserve delay = %v, want 0", d)
	}
	if d := limiter.reserve(); d != 500*time.Millisecond {
		t.Errorf("second reserve delay = %v, want 500ms", d)
	}
	if d := limiter.reserve(); d != time.Second {
		t.Errorf("third reserve delay = %v, want 1s", d)
	}
}

func TestLimiterWait(t *testing.T) {
	limiter := New(1000, 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < time.Millisecond {
		t.Errorf("three waits on a burst of 1 took %v, want throttling", elapsed)
	}
}

func TestLimiterWaitCancelled(t *testing.T) {
	limiter, _ := newTestLimiter(0.001, 1)
	limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want deadline exceeded", err)
	}
	if got := limiter.Tokens(); got < -0.01 || got > 0.01 {
		t.Errorf("Tokens() = %v, cancelled wait should return its reservation", got)
	}
}

func TestLimiterDisabled(t *testing.T) {
	limiter := New(0, 1)
	for i := 0; i < 100; i++ {
		if !limiter.Allow() {
			t.Fatal("a zero rate should disable limiting")
		}
	}
	if err := limiter.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestLimiterConcurrent(t *testing.T) {
	limiter, _ := newTestLimiter(1000, 100)

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- limiter.Allow()
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for a := range allowed {
		if a {
			count++
		}
	}
	if count != 100 {
		t.Errorf("allowed %d, want 100 with a frozen clock", count)
	}
}
