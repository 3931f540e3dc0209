package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Wait blocks until the rate limit allows another request or ctx is done
	Wait(ctx context.Context) error
}

// Ceiling is a global request ceiling backed by a token bucket
type Ceiling struct {
	limiter *rate.Limiter
}

// NewCeiling allows requestsPerMinute requests per minute with the given
// burst. A non-positive rate yields a limiter that never blocks.
func NewCeiling(requestsPerMinute, burst int) Limiter {
	if requestsPerMinute <= 0 {
		return Unlimited{}
	}
	if burst < 1 {
		burst = 1
	}
	every := time.Minute / time.Duration(requestsPerMinute)
	return &Ceiling{limiter: rate.NewLimiter(rate.Every(every), burst)}
}

func (c *Ceiling) Wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// Unlimited never blocks
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

// Pacer sleeps for a uniformly random duration within [Min, Max].
// It spaces requests so upstream traffic does not look mechanical.
type Pacer struct {
	Min time.Duration
	Max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPacer creates a pacer for the given range
func NewPacer(min, max time.Duration) *Pacer {
	if max < min {
		max = min
	}
	return &Pacer{
		Min: min,
		Max: max,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next pause duration
func (p *Pacer) Next() time.Duration {
	span := p.Max - p.Min
	if span <= 0 {
		return p.Min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Min + time.Duration(p.rng.Int63n(int64(span)+1))
}

// Pause sleeps for the next pause duration. It returns early with the
// context's error when ctx is cancelled.
func (p *Pacer) Pause(ctx context.Context) error {
	d := p.Next()
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
