package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AuditEvent is one security-relevant action recorded for compliance.
// Metadata is expected to be redacted before it reaches the store.
type AuditEvent struct {
	ID        int64
	ActorID   string
	Action    string
	Target    string
	Metadata  map[string]any
	CreatedAt time.Time
}

// InsertAuditEvent appends one event to the audit log.
func (db *Database) InsertAuditEvent(ctx context.Context, event *AuditEvent) error {
	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	var actorParam any
	if event.ActorID != "" {
		actorParam = event.ActorID
	}

	_, err := db.Pool.Exec(ctx,
		`INSERT INTO audit_log (actor_id, action, target, metadata) VALUES ($1, $2, $3, $4)`,
		actorParam, event.Action, event.Target, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// AuditQuery filters audit log reads.
type AuditQuery struct {
	ActorID string
	Action  string
	Limit   int
	Offset  int
}

// QueryAuditEvents returns matching events, newest first.
func (db *Database) QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditEvent, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT id, COALESCE(actor_id, ''), action, target, metadata, created_at
		FROM audit_log
		WHERE ($1 = '' OR actor_id = $1)
		  AND ($2 = '' OR action = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := db.Pool.Query(ctx, query, q.ActorID, q.Action, limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var event AuditEvent
		var metadataJSON []byte
		if err := rows.Scan(&event.ID, &event.ActorID, &event.Action, &event.Target,
			&metadataJSON, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}
