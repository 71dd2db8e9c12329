// Package legacydb manages bounded, read-only access to the legacy game
// databases. Each configured game server gets at most one pooled connection
// handle, created lazily on first use and cached by server identifier. All
// query traffic goes through a read-only guard that rejects anything but
// SELECT statements before a network round trip happens.
package legacydb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/lcportal/gamebridge/config"
	"github.com/lcportal/gamebridge/logger"
	"github.com/lcportal/gamebridge/pkg/metrics"
)

// Pool is the subset of pgxpool.Pool the registry needs. Tests substitute
// lightweight fakes through the registry's pool factory.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// PoolFactory builds a pool for one legacy server.
type PoolFactory func(ctx context.Context, server config.LegacyServerConfig, poolCfg config.LegacyPoolConfig) (Pool, error)

// Entry pairs a live pool with the configuration it was created from.
type Entry struct {
	Config config.LegacyServerConfig
	pool   Pool
}

// Registry owns one pool per configured legacy server. Creation is
// idempotent under concurrency: simultaneous first requests for the same
// server identifier produce exactly one live pool.
type Registry struct {
	mu      sync.RWMutex
	pools   map[string]*Entry
	closed  bool
	poolCfg config.LegacyPoolConfig
	sf      singleflight.Group
	newPool PoolFactory
}

// NewRegistry creates an empty registry using the real pgx pool factory.
func NewRegistry(poolCfg config.LegacyPoolConfig) *Registry {
	return &Registry{
		pools:   make(map[string]*Entry),
		poolCfg: poolCfg,
		newPool: newPgxPool,
	}
}

// NewRegistryWithFactory creates a registry with a custom pool factory.
// Used by tests to avoid real network connections.
func NewRegistryWithFactory(poolCfg config.LegacyPoolConfig, factory PoolFactory) *Registry {
	return &Registry{
		pools:   make(map[string]*Entry),
		poolCfg: poolCfg,
		newPool: factory,
	}
}

// GetOrCreatePool returns the pool for server.ID, creating it on first use.
// Concurrent callers for the same identifier share one creation attempt and
// receive the same handle.
func (r *Registry) GetOrCreatePool(ctx context.Context, server config.LegacyServerConfig) (*Entry, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrRegistryClosed
	}
	if entry, ok := r.pools[server.ID]; ok {
		r.mu.RUnlock()
		return entry, nil
	}
	r.mu.RUnlock()

	// singleflight collapses concurrent creation for the same server id
	// into a single pool construction; losers of the race get the
	// winner's handle instead of building a duplicate pool.
	result, err, _ := r.sf.Do(server.ID, func() (any, error) {
		// Re-check: an earlier flight may have completed between our
		// read-lock check and entering this flight.
		r.mu.RLock()
		if entry, ok := r.pools[server.ID]; ok {
			r.mu.RUnlock()
			return entry, nil
		}
		closed := r.closed
		r.mu.RUnlock()
		if closed {
			return nil, ErrRegistryClosed
		}

		pool, err := r.newPool(ctx, server, r.poolCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pool for server %s: %w", server.ID, err)
		}

		entry := &Entry{Config: server, pool: pool}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			pool.Close()
			return nil, ErrRegistryClosed
		}
		if existing, ok := r.pools[server.ID]; ok {
			// Redundant creation lost a race with a reconfigure; keep
			// the registered pool and discard ours.
			r.mu.Unlock()
			pool.Close()
			return existing, nil
		}
		r.pools[server.ID] = entry
		r.mu.Unlock()

		logger.Info("legacy connection pool created",
			"server_id", server.ID, "host", server.Host, "database", server.Database)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Entry), nil
}

// lookup returns the live entry for a server identifier.
func (r *Registry) lookup(serverID string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	entry, ok := r.pools[serverID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotRegistered, serverID)
	}
	return entry, nil
}

// ActiveServers returns the identifiers of all servers with a live pool.
func (r *Registry) ActiveServers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	return ids
}

// ClosePool closes and removes the pool for one server. Closing an unknown
// server is a no-op.
func (r *Registry) ClosePool(serverID string) {
	r.mu.Lock()
	entry, ok := r.pools[serverID]
	if ok {
		delete(r.pools, serverID)
	}
	r.mu.Unlock()

	if ok {
		entry.pool.Close()
		logger.Info("legacy connection pool closed", "server_id", serverID)
	}
}

// Reconfigure invalidates any cached pool for the server and creates a
// fresh one from the new configuration.
func (r *Registry) Reconfigure(ctx context.Context, server config.LegacyServerConfig) (*Entry, error) {
	r.ClosePool(server.ID)
	return r.GetOrCreatePool(ctx, server)
}

// CloseAll closes every pool and marks the registry closed. Further calls
// return ErrRegistryClosed.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.pools))
	for _, entry := range r.pools {
		entries = append(entries, entry)
	}
	r.pools = make(map[string]*Entry)
	r.closed = true
	r.mu.Unlock()

	for _, entry := range entries {
		entry.pool.Close()
	}
	if len(entries) > 0 {
		logger.Info("all legacy connection pools closed", "count", len(entries))
	}
}

// StartPoolMetrics launches a goroutine that periodically publishes pool
// statistics for every live pool. It stops when ctx is cancelled.
func (r *Registry) StartPoolMetrics(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.collectPoolStats()
			}
		}
	}()
}

type statProvider interface {
	Stat() *pgxpool.Stat
}

func (r *Registry) collectPoolStats() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, entry := range r.pools {
		provider, ok := entry.pool.(statProvider)
		if !ok {
			continue
		}
		stats := provider.Stat()
		metrics.LegacyPoolTotalConns.WithLabelValues(id).Set(float64(stats.TotalConns()))
		metrics.LegacyPoolIdleConns.WithLabelValues(id).Set(float64(stats.IdleConns()))
		metrics.LegacyPoolInUseConns.WithLabelValues(id).Set(float64(stats.AcquiredConns()))
	}
}

// newPgxPool dials a legacy server with a deliberately small connection
// ceiling. These are externally operated databases; a slow one must not be
// able to absorb the service's connection budget.
func newPgxPool(ctx context.Context, server config.LegacyServerConfig, poolCfg config.LegacyPoolConfig) (Pool, error) {
	port := server.Port
	if port == 0 {
		port = 5432
	}

	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&default_query_exec_mode=simple_protocol",
		server.User, server.Password, server.Host, port, server.Database)

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string for server %s: %w", server.ID, err)
	}

	cfg.MaxConns = int32(poolCfg.GetMaxConns())
	cfg.MinConns = int32(poolCfg.MinConns)

	acquireTimeout, err := poolCfg.GetAcquireTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid acquire timeout: %w", err)
	}
	cfg.ConnConfig.ConnectTimeout = acquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to legacy database: %w", err)
	}

	return pool, nil
}
