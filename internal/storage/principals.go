package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/nagare/internal/model"
)

// UpsertPrincipal creates a principal or replaces the role and key hash of
// an existing one with the same subject.
func (db *DB) UpsertPrincipal(ctx context.Context, subject string, role model.Role, apiKeyHash string) (model.Principal, error) {
	var p model.Principal
	err := db.pool.QueryRow(ctx,
		`INSERT INTO principals (id, subject, role, api_key_hash)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (subject) DO UPDATE
		 SET role = EXCLUDED.role, api_key_hash = EXCLUDED.api_key_hash
		 RETURNING id, subject, role, api_key_hash, created_at`,
		uuid.New(), subject, string(role), apiKeyHash,
	).Scan(&p.ID, &p.Subject, &p.Role, &p.APIKeyHash, &p.CreatedAt)
	if err != nil {
		return model.Principal{}, fmt.Errorf("storage: upsert principal %s: %w", subject, err)
	}
	return p, nil
}

// GetPrincipalBySubject looks up a principal for token issuance.
func (db *DB) GetPrincipalBySubject(ctx context.Context, subject string) (model.Principal, error) {
	var p model.Principal
	err := db.pool.QueryRow(ctx,
		`SELECT id, subject, role, api_key_hash, created_at FROM principals WHERE subject = $1`,
		subject,
	).Scan(&p.ID, &p.Subject, &p.Role, &p.APIKeyHash, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Principal{}, ErrPrincipalNotFound
		}
		return model.Principal{}, fmt.Errorf("storage: get principal: %w", err)
	}
	return p, nil
}
