package legacydb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/lcportal/gamebridge/logger"
	"github.com/lcportal/gamebridge/pkg/metrics"
)

// LegacyUserRecord is one account row read from a legacy database. It is
// never persisted by the bridge; it exists only for the duration of a
// single verification attempt.
type LegacyUserRecord struct {
	UserCode     int64
	Username     string
	PasswordHash string
	Activated    bool
}

// QueryReadOnly executes a SELECT against the named legacy server. Any
// statement whose normalized text does not begin with SELECT is rejected
// with ErrSecurityViolation before any pool or network access happens. The
// credential behind the pool is already read-only; this check exists so a
// bug that builds the wrong query string is caught in-process, loudly.
// Parameters are always passed as bound values.
func (r *Registry) QueryReadOnly(ctx context.Context, serverID, query string, args ...any) (pgx.Rows, error) {
	if err := checkReadOnly(query); err != nil {
		logger.Error("read-only guard rejected query",
			"server_id", serverID, "query", query)
		metrics.SecurityViolationsTotal.Inc()
		return nil, err
	}

	entry, err := r.lookup(serverID)
	if err != nil {
		return nil, err
	}

	rows, err := entry.pool.Query(ctx, query, args...)
	if err != nil {
		metrics.LegacyQueryErrorsTotal.WithLabelValues(serverID, classifyQueryError(err)).Inc()
		return nil, fmt.Errorf("query failed on server %s: %w", serverID, err)
	}
	return rows, nil
}

// checkReadOnly is the actual guard predicate.
func checkReadOnly(query string) error {
	normalized := strings.ToUpper(strings.TrimSpace(query))
	if !strings.HasPrefix(normalized, "SELECT") {
		return ErrSecurityViolation
	}
	return nil
}

func classifyQueryError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "query"
}

// FetchUser reads the account row for a legacy username. Returns
// ErrUserNotFound when no row exists.
func (r *Registry) FetchUser(ctx context.Context, serverID, username string) (*LegacyUserRecord, error) {
	rows, err := r.QueryReadOnly(ctx, serverID,
		"SELECT user_code, user_id, passwd, activated FROM bg_user WHERE user_id = $1 LIMIT 1",
		username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("fetching legacy user on server %s: %w", serverID, err)
		}
		return nil, ErrUserNotFound
	}

	var record LegacyUserRecord
	var activated int
	if err := rows.Scan(&record.UserCode, &record.Username, &record.PasswordHash, &activated); err != nil {
		return nil, fmt.Errorf("scanning legacy user row: %w", err)
	}
	record.Activated = activated != 0

	return &record, nil
}

// HealthCheck issues a trivial read against one server and confirms the
// expected scalar comes back.
func (r *Registry) HealthCheck(ctx context.Context, serverID string) bool {
	rows, err := r.QueryReadOnly(ctx, serverID, "SELECT 1 AS result")
	if err != nil {
		logger.Warn("legacy server health check failed", "server_id", serverID, "error", err)
		return false
	}
	defer rows.Close()

	if !rows.Next() {
		return false
	}
	var result int
	if err := rows.Scan(&result); err != nil {
		return false
	}
	return result == 1
}

// HealthCheckAll checks every registered server and reports per-server
// health.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]bool {
	results := make(map[string]bool)
	for _, id := range r.ActiveServers() {
		results[id] = r.HealthCheck(ctx, id)
	}
	return results
}
