// Package ratelimit implements fixed-window rate limiting for link attempts.
//
// The limiter counts calls per identifier (e.g. "game-link:<user>") inside a
// rolling window. In multi-instance deployments the authoritative counter
// lives in a shared Redis backend; when that backend errors or times out the
// limiter fails open to an in-process counter map rather than denying all
// traffic. The fallback is observable through a prometheus counter and a
// warning log so operators can detect a degraded shared backend.
package ratelimit

import (
	"context"
	"time"

	"github.com/lcportal/gamebridge/logger"
	"github.com/lcportal/gamebridge/pkg/metrics"
)

// Config describes one rate limit policy.
type Config struct {
	Window      time.Duration
	MaxRequests int
}

// Result is the outcome of a single rate limit check. The check itself
// counts: every call increments the window counter.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Backend is a counter store with fixed-window semantics.
type Backend interface {
	// Check increments the counter for identifier within the current
	// window and reports whether the post-increment count is within
	// budget.
	Check(ctx context.Context, identifier string, cfg Config) (Result, error)
}

// Limiter performs rate limit checks against a primary shared backend with
// an in-process fallback. A nil primary means local-only counting.
type Limiter struct {
	primary        Backend
	fallback       *LocalBackend
	primaryTimeout time.Duration
}

// NewLimiter creates a limiter. primary may be nil for deployments without
// a shared counter store; fallback is required.
func NewLimiter(primary Backend, fallback *LocalBackend, primaryTimeout time.Duration) *Limiter {
	if primaryTimeout <= 0 {
		primaryTimeout = 2 * time.Second
	}
	return &Limiter{
		primary:        primary,
		fallback:       fallback,
		primaryTimeout: primaryTimeout,
	}
}

// Check counts one attempt for identifier and reports whether it is within
// budget. It never returns an error: a failing shared backend degrades to
// local counting instead of blocking the surrounding operation.
func (l *Limiter) Check(ctx context.Context, identifier string, cfg Config) Result {
	var result Result

	if l.primary != nil {
		primaryCtx, cancel := context.WithTimeout(ctx, l.primaryTimeout)
		res, err := l.primary.Check(primaryCtx, identifier, cfg)
		cancel()
		if err == nil {
			result = res
			if !result.Allowed {
				metrics.RateLimiterRejectedTotal.Inc()
			}
			return result
		}
		metrics.RateLimiterFallbackTotal.Inc()
		logger.Warn("rate limiter shared backend failed, using local fallback",
			"identifier", identifier, "error", err)
	}

	result, _ = l.fallback.Check(ctx, identifier, cfg)
	if !result.Allowed {
		metrics.RateLimiterRejectedTotal.Inc()
	}
	return result
}

// Start launches the fallback sweeper. It must be paired with Stop.
func (l *Limiter) Start() {
	l.fallback.Start()
}

// Stop terminates the fallback sweeper and waits for it to exit.
func (l *Limiter) Stop() {
	l.fallback.Stop()
}
