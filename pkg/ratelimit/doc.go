// Package ratelimit spaces upstream requests.
//
// Two mechanisms are provided:
//
// Pacer:
//   - sleeps a uniformly random duration between a minimum and maximum
//   - used between validation probes and after each completed download
//
// Ceiling:
//   - a hard cap on requests per minute shared by all workers
//   - backed by golang.org/x/time/rate; disabled when the rate is zero
//
// Usage:
//
//	pacer := ratelimit.NewPacer(1500*time.Millisecond, 4*time.Second)
//	if err := pacer.Pause(ctx); err != nil {
//	    return err // cancelled
//	}
//
//	limiter := ratelimit.NewCeiling(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
