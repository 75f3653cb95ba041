// Package ratelimit provides a token bucket that throttles outgoing requests
// to the credential service.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Defaults for credential requests: a burst of 4, then one every 2s.
const (
	DefaultRate  = 0.5
	DefaultBurst = 4
)

// Limiter is a token bucket rate limiter.
type Limiter struct {
	mu       sync.Mutex
	rate     float64   // tokens per second
	capacity float64   // max tokens
	tokens   float64   // current tokens, negative while waiters hold reservations
	lastTime time.Time // last refill time
	now      func() time.Time
}

// New creates a limiter allowing rate tokens per second with bursts of up to
// capacity. A non-positive rate disables limiting.
func New(rate float64, capacity int) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	l := &Limiter{
		rate:     rate,
		capacity: float64(capacity),
		tokens:   float64(capacity),
		now:      time.Now,
	}
	l.lastTime = l.now()
	return l
}

// NewDefault returns a limiter with DefaultRate and DefaultBurst.
func NewDefault() *Limiter {
	return New(DefaultRate, DefaultBurst)
}

// Allow consumes a token if one is available.
func (l *Limiter) Allow() bool {
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done. A cancelled wait
// returns its reservation.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.rate <= 0 {
		return ctx.Err()
	}
	delay := l.reserve()
	if delay <= 0 {
		return nil
	}

	log.WithField("delay", delay.String()).Debug("request throttled")
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.tokens++
		if l.tokens > l.capacity {
			l.tokens = l.capacity
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

// reserve takes a token, possibly on credit, and returns how long the caller
// must wait before using it.
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	l.tokens--
	if l.tokens >= 0 {
		return 0
	}
	return time.Duration(-l.tokens / l.rate * float64(time.Second))
}

// refill adds tokens based on elapsed time. Must be called with lock held.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastTime).Seconds()
	l.tokens += elapsed * l.rate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.lastTime = now
}

// Tokens returns the current number of available tokens.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}
