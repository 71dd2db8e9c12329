package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/lcportal/gamebridge/logger"
)

type localEntry struct {
	count   int
	resetAt time.Time
}

// LocalBackend counts attempts in an in-process map. It is the fallback for
// shared-backend outages and the sole backend in single-instance
// deployments. Expired entries are swept periodically to bound memory.
type LocalBackend struct {
	mu      sync.Mutex
	entries map[string]*localEntry

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepStopped  chan struct{}
	startOnce     sync.Once
	stopOnce      sync.Once

	// now is replaceable in tests
	now func() time.Time
}

// NewLocalBackend creates a local counter backend. The sweeper is not
// running until Start is called.
func NewLocalBackend(sweepInterval time.Duration) *LocalBackend {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	return &LocalBackend{
		entries:       make(map[string]*localEntry),
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
		sweepStopped:  make(chan struct{}),
		now:           time.Now,
	}
}

// Check implements Backend. It never fails.
func (b *LocalBackend) Check(_ context.Context, identifier string, cfg Config) (Result, error) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[identifier]
	if !ok || now.After(entry.resetAt) {
		entry = &localEntry{resetAt: now.Add(cfg.Window)}
		b.entries[identifier] = entry
	}
	entry.count++

	remaining := cfg.MaxRequests - entry.count
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   entry.count <= cfg.MaxRequests,
		Remaining: remaining,
		ResetAt:   entry.resetAt,
	}, nil
}

// Start launches the sweep goroutine. Safe to call once per backend.
func (b *LocalBackend) Start() {
	b.startOnce.Do(func() {
		go b.sweepLoop()
	})
}

// Stop terminates the sweep goroutine and waits for it to exit. Safe to
// call multiple times and without a prior Start.
func (b *LocalBackend) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopSweep)
	})
	b.startOnce.Do(func() {
		// Never started; unblock the Stop waiter below.
		close(b.sweepStopped)
	})
	<-b.sweepStopped
}

func (b *LocalBackend) sweepLoop() {
	defer close(b.sweepStopped)

	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopSweep:
			return
		case <-ticker.C:
			removed := b.SweepExpired()
			if removed > 0 {
				logger.Debug("rate limiter swept expired counters", "removed", removed)
			}
		}
	}
}

// SweepExpired removes entries whose window has passed and returns how many
// were removed.
func (b *LocalBackend) SweepExpired() int {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for key, entry := range b.entries {
		if now.After(entry.resetAt) {
			delete(b.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identifiers.
func (b *LocalBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
