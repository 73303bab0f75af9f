package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edushield/access-gateway/internal/domain/client"
	"github.com/edushield/access-gateway/internal/domain/errors"
)

// RegistryRepository implements client.Registry against the synced registry
// table. Registry data is reference data owned by the platform's client
// onboarding flow; this subsystem only reads it.
type RegistryRepository struct {
	db           *pgxpool.Pool
	queryTimeout time.Duration
}

// NewRegistryRepository creates a new PostgreSQL registry reader
func NewRegistryRepository(db *pgxpool.Pool, queryTimeout time.Duration) *RegistryRepository {
	return &RegistryRepository{db: db, queryTimeout: queryTimeout}
}

// GetClient returns the registry entry for a client id.
func (r *RegistryRepository) GetClient(ctx context.Context, tenantID, clientID string) (*client.RegistryEntry, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTimeout)
	defer cancel()

	var entry client.RegistryEntry
	err := r.db.QueryRow(ctx, `
		SELECT client_id, client_type, status, authorized_scopes, rate_limit_per_minute
		FROM client_registry
		WHERE tenant_id = $1 AND client_id = $2
	`, tenantID, clientID).Scan(
		&entry.ClientID, &entry.ClientType, &entry.Status,
		&entry.AuthorizedScopes, &entry.RateLimitPerMinute,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrClientNotFound
		}
		return nil, errors.NewInternalError("failed to load registry entry").WithCause(err)
	}
	return &entry, nil
}
