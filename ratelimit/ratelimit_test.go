package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingBackend simulates a shared backend outage.
type failingBackend struct {
	mu    sync.Mutex
	calls int
}

func (f *failingBackend) Check(ctx context.Context, identifier string, cfg Config) (Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return Result{}, errors.New("connection refused")
}

// fixedBackend always returns a canned result.
type fixedBackend struct {
	result Result
}

func (f *fixedBackend) Check(ctx context.Context, identifier string, cfg Config) (Result, error) {
	return f.result, nil
}

func testConfig() Config {
	return Config{Window: 10 * time.Minute, MaxRequests: 3}
}

func TestLocalBackendWindowSemantics(t *testing.T) {
	backend := NewLocalBackend(time.Minute)
	ctx := context.Background()
	cfg := testConfig()

	// Calls 1..N are allowed with strictly decreasing remaining.
	for i := 1; i <= cfg.MaxRequests; i++ {
		res, err := backend.Check(ctx, "game-link:u42", cfg)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d should be allowed", i)
		assert.Equal(t, cfg.MaxRequests-i, res.Remaining)
	}

	// Call N+1 inside the window is denied.
	res, err := backend.Check(ctx, "game-link:u42", cfg)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.True(t, res.ResetAt.After(time.Now()))
}

func TestLocalBackendIdentifiersAreIndependent(t *testing.T) {
	backend := NewLocalBackend(time.Minute)
	ctx := context.Background()
	cfg := Config{Window: time.Minute, MaxRequests: 1}

	res, _ := backend.Check(ctx, "game-link:u1", cfg)
	assert.True(t, res.Allowed)

	res, _ = backend.Check(ctx, "game-link:u1", cfg)
	assert.False(t, res.Allowed)

	res, _ = backend.Check(ctx, "game-link:u2", cfg)
	assert.True(t, res.Allowed)
}

func TestLocalBackendWindowReset(t *testing.T) {
	backend := NewLocalBackend(time.Minute)
	current := time.Now()
	backend.now = func() time.Time { return current }

	ctx := context.Background()
	cfg := testConfig()

	for i := 0; i < cfg.MaxRequests+1; i++ {
		backend.Check(ctx, "game-link:u42", cfg)
	}
	res, _ := backend.Check(ctx, "game-link:u42", cfg)
	require.False(t, res.Allowed)

	// Advance past the window: the counter restarts.
	current = current.Add(cfg.Window + time.Second)
	res, _ = backend.Check(ctx, "game-link:u42", cfg)
	assert.True(t, res.Allowed)
	assert.Equal(t, cfg.MaxRequests-1, res.Remaining)
}

func TestLocalBackendSweepExpired(t *testing.T) {
	backend := NewLocalBackend(time.Minute)
	current := time.Now()
	backend.now = func() time.Time { return current }

	ctx := context.Background()
	cfg := Config{Window: time.Minute, MaxRequests: 5}

	backend.Check(ctx, "a", cfg)
	backend.Check(ctx, "b", cfg)
	require.Equal(t, 2, backend.Len())

	// Nothing expired yet.
	assert.Equal(t, 0, backend.SweepExpired())

	current = current.Add(2 * time.Minute)
	backend.Check(ctx, "c", cfg) // fresh entry must survive the sweep

	assert.Equal(t, 2, backend.SweepExpired())
	assert.Equal(t, 1, backend.Len())
}

func TestLocalBackendStartStop(t *testing.T) {
	backend := NewLocalBackend(10 * time.Millisecond)
	backend.Start()
	backend.Check(context.Background(), "x", Config{Window: time.Nanosecond, MaxRequests: 1})

	// The sweeper should clear the expired entry shortly.
	assert.Eventually(t, func() bool { return backend.Len() == 0 }, time.Second, 5*time.Millisecond)

	backend.Stop()
	backend.Stop() // idempotent
}

func TestLocalBackendStopWithoutStart(t *testing.T) {
	backend := NewLocalBackend(time.Minute)
	backend.Stop() // must not block or panic
}

func TestLimiterFailsOpenToFallback(t *testing.T) {
	primary := &failingBackend{}
	fallback := NewLocalBackend(time.Minute)
	limiter := NewLimiter(primary, fallback, time.Second)

	cfg := Config{Window: time.Minute, MaxRequests: 2}
	ctx := context.Background()

	res := limiter.Check(ctx, "game-link:u42", cfg)
	assert.True(t, res.Allowed)
	res = limiter.Check(ctx, "game-link:u42", cfg)
	assert.True(t, res.Allowed)
	res = limiter.Check(ctx, "game-link:u42", cfg)
	assert.False(t, res.Allowed, "fallback must keep full window semantics")

	primary.mu.Lock()
	assert.Equal(t, 3, primary.calls, "primary is retried on every check")
	primary.mu.Unlock()
}

func TestLimiterPrefersPrimary(t *testing.T) {
	resetAt := time.Now().Add(time.Minute)
	primary := &fixedBackend{result: Result{Allowed: false, Remaining: 0, ResetAt: resetAt}}
	fallback := NewLocalBackend(time.Minute)
	limiter := NewLimiter(primary, fallback, time.Second)

	res := limiter.Check(context.Background(), "game-link:u42", testConfig())
	assert.False(t, res.Allowed)
	assert.Equal(t, resetAt, res.ResetAt)
	assert.Equal(t, 0, fallback.Len(), "fallback untouched while primary healthy")
}

func TestLimiterWithoutPrimary(t *testing.T) {
	limiter := NewLimiter(nil, NewLocalBackend(time.Minute), time.Second)
	res := limiter.Check(context.Background(), "game-link:u42", testConfig())
	assert.True(t, res.Allowed)
}

func TestLocalBackendConcurrentChecks(t *testing.T) {
	backend := NewLocalBackend(time.Minute)
	cfg := Config{Window: time.Minute, MaxRequests: 50}
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := backend.Check(ctx, "shared", cfg)
			require.NoError(t, err)
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed, "exactly MaxRequests checks may pass in one window")
}
