package storage

import (
	"context"
	"fmt"

	"github.com/ashita-ai/nagare/internal/model"
)

// UpsertConnector records a connector registration keyed by name.
func (db *DB) UpsertConnector(ctx context.Context, info model.ConnectorInfo) error {
	caps := info.Capabilities
	if caps == nil {
		caps = []string{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO connectors (name, type, capabilities, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (name) DO UPDATE
		 SET type = EXCLUDED.type, capabilities = EXCLUDED.capabilities, updated_at = now()`,
		info.Name, info.Type, caps,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert connector %s: %w", info.Name, err)
	}
	return nil
}

// ListConnectors returns all connector registrations ordered by name.
func (db *DB) ListConnectors(ctx context.Context) ([]model.ConnectorInfo, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT name, type, capabilities, updated_at FROM connectors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list connectors: %w", err)
	}
	defer rows.Close()

	var out []model.ConnectorInfo
	for rows.Next() {
		var c model.ConnectorInfo
		if err := rows.Scan(&c.Name, &c.Type, &c.Capabilities, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan connector: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
