package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lcportal/gamebridge/config"
)

// GameServer is the administrative record for one legacy game database.
type GameServer struct {
	ID                  string
	Name                string
	Region              string
	Host                string
	Port                int
	Database            string
	ROUser              string
	ROPasswordEncrypted string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ToLegacyConfig converts the stored record into a registry dialing config.
func (s *GameServer) ToLegacyConfig() config.LegacyServerConfig {
	return config.LegacyServerConfig{
		ID:       s.ID,
		Name:     s.Name,
		Region:   s.Region,
		Host:     s.Host,
		Port:     s.Port,
		Database: s.Database,
		User:     s.ROUser,
		Password: s.ROPasswordEncrypted,
	}
}

// UpsertServer creates or updates a game server configuration.
func (db *Database) UpsertServer(ctx context.Context, server *GameServer) error {
	query := `
		INSERT INTO game_servers (id, name, region, host, port, database_name, ro_user, ro_password_encrypted, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			region = EXCLUDED.region,
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			database_name = EXCLUDED.database_name,
			ro_user = EXCLUDED.ro_user,
			ro_password_encrypted = EXCLUDED.ro_password_encrypted,
			updated_at = now()`

	_, err := db.Pool.Exec(ctx, query,
		server.ID, server.Name, server.Region, server.Host, server.Port,
		server.Database, server.ROUser, server.ROPasswordEncrypted)
	if err != nil {
		return fmt.Errorf("failed to upsert game server: %w", err)
	}
	return nil
}

// GetServer fetches one game server configuration.
func (db *Database) GetServer(ctx context.Context, serverID string) (*GameServer, error) {
	query := `
		SELECT id, name, region, host, port, database_name, ro_user, ro_password_encrypted, created_at, updated_at
		FROM game_servers WHERE id = $1`

	var server GameServer
	err := db.Pool.QueryRow(ctx, query, serverID).Scan(
		&server.ID, &server.Name, &server.Region, &server.Host, &server.Port,
		&server.Database, &server.ROUser, &server.ROPasswordEncrypted,
		&server.CreatedAt, &server.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServerNotFound
		}
		return nil, fmt.Errorf("failed to get game server: %w", err)
	}
	return &server, nil
}

// ListServers returns all configured game servers.
func (db *Database) ListServers(ctx context.Context) ([]*GameServer, error) {
	query := `
		SELECT id, name, region, host, port, database_name, ro_user, ro_password_encrypted, created_at, updated_at
		FROM game_servers ORDER BY name`

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list game servers: %w", err)
	}
	defer rows.Close()

	var servers []*GameServer
	for rows.Next() {
		var server GameServer
		if err := rows.Scan(
			&server.ID, &server.Name, &server.Region, &server.Host, &server.Port,
			&server.Database, &server.ROUser, &server.ROPasswordEncrypted,
			&server.CreatedAt, &server.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan game server: %w", err)
		}
		servers = append(servers, &server)
	}
	return servers, rows.Err()
}

// DeleteServer removes a game server configuration.
func (db *Database) DeleteServer(ctx context.Context, serverID string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM game_servers WHERE id = $1`, serverID)
	if err != nil {
		return fmt.Errorf("failed to delete game server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrServerNotFound
	}
	return nil
}
