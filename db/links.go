package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// GameAccountLink asserts that a portal account has proven ownership of a
// legacy game account on one server.
type GameAccountLink struct {
	ID             string
	UserID         string
	ServerID       string
	LegacyUsername string
	Algorithm      string
	VerifiedAt     time.Time
	LastCheckAt    time.Time
}

// CreateLink inserts a new account link. The store's unique constraints are
// the authoritative uniqueness check: a violation — whether or not a
// pre-check ran first — comes back as ErrDuplicateLink.
func (db *Database) CreateLink(ctx context.Context, link *GameAccountLink) error {
	query := `
		INSERT INTO game_account_links (id, user_id, server_id, legacy_username, legacy_algo, verified_at, last_check_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := db.Pool.Exec(ctx, query,
		link.ID, link.UserID, link.ServerID, link.LegacyUsername,
		link.Algorithm, link.VerifiedAt, link.LastCheckAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateLink
		}
		return fmt.Errorf("failed to create account link: %w", err)
	}
	return nil
}

// GetLinkByID fetches one link by its identifier.
func (db *Database) GetLinkByID(ctx context.Context, linkID string) (*GameAccountLink, error) {
	query := `
		SELECT id, user_id, server_id, legacy_username, legacy_algo, verified_at, last_check_at
		FROM game_account_links WHERE id = $1`

	link, err := scanLink(db.Pool.QueryRow(ctx, query, linkID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get account link: %w", err)
	}
	return link, nil
}

// GetLinkByServerUsername fetches the link claiming a legacy account, if any.
func (db *Database) GetLinkByServerUsername(ctx context.Context, serverID, legacyUsername string) (*GameAccountLink, error) {
	query := `
		SELECT id, user_id, server_id, legacy_username, legacy_algo, verified_at, last_check_at
		FROM game_account_links WHERE server_id = $1 AND legacy_username = $2`

	link, err := scanLink(db.Pool.QueryRow(ctx, query, serverID, legacyUsername))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get account link: %w", err)
	}
	return link, nil
}

// ListLinksByUser returns all links held by one portal account, most
// recently verified first.
func (db *Database) ListLinksByUser(ctx context.Context, userID string) ([]*GameAccountLink, error) {
	query := `
		SELECT id, user_id, server_id, legacy_username, legacy_algo, verified_at, last_check_at
		FROM game_account_links WHERE user_id = $1 ORDER BY verified_at DESC`

	rows, err := db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list account links: %w", err)
	}
	defer rows.Close()

	var links []*GameAccountLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// DeleteLink removes one link by identifier.
func (db *Database) DeleteLink(ctx context.Context, linkID string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM game_account_links WHERE id = $1`, linkID)
	if err != nil {
		return fmt.Errorf("failed to delete account link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLinkNotFound
	}
	return nil
}

// TouchLink updates the last verification check timestamp.
func (db *Database) TouchLink(ctx context.Context, linkID string, checkedAt time.Time) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE game_account_links SET last_check_at = $2 WHERE id = $1`, linkID, checkedAt)
	if err != nil {
		return fmt.Errorf("failed to touch account link: %w", err)
	}
	return nil
}

func scanLink(row pgx.Row) (*GameAccountLink, error) {
	var link GameAccountLink
	err := row.Scan(&link.ID, &link.UserID, &link.ServerID, &link.LegacyUsername,
		&link.Algorithm, &link.VerifiedAt, &link.LastCheckAt)
	if err != nil {
		return nil, err
	}
	return &link, nil
}
