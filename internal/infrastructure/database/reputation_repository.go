package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edushield/access-gateway/internal/domain/client"
	"github.com/edushield/access-gateway/internal/domain/errors"
	"github.com/edushield/access-gateway/internal/metrics"
)

// maxCASRetries bounds the optimistic retry loop on reputation updates.
const maxCASRetries = 5

// ReputationRepository implements client.ReputationStore with optimistic
// per-key concurrency: every row carries a version, updates compare-and-swap
// on it and retry, so concurrent violations for the same client never lose
// an update.
type ReputationRepository struct {
	db           *pgxpool.Pool
	metrics      *metrics.Registry
	queryTimeout time.Duration
}

// NewReputationRepository creates a new PostgreSQL reputation store
func NewReputationRepository(db *pgxpool.Pool, reg *metrics.Registry, queryTimeout time.Duration) *ReputationRepository {
	return &ReputationRepository{db: db, metrics: reg, queryTimeout: queryTimeout}
}

// Get returns the reputation for a client, or a not-found error.
func (r *ReputationRepository) Get(ctx context.Context, tenantID, clientID string) (*client.Reputation, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTimeout)
	defer cancel()
	return r.get(ctx, tenantID, clientID)
}

func (r *ReputationRepository) get(ctx context.Context, tenantID, clientID string) (*client.Reputation, error) {
	var rep client.Reputation
	err := r.db.QueryRow(ctx, `
		SELECT tenant_id, client_id, score, tier, total_requests,
		       violation_count, consecutive_violations, last_violation_at,
		       last_clean_drift_at, version, updated_at
		FROM client_reputations
		WHERE tenant_id = $1 AND client_id = $2
	`, tenantID, clientID).Scan(
		&rep.TenantID, &rep.ClientID, &rep.Score, &rep.Tier, &rep.TotalRequests,
		&rep.ViolationCount, &rep.ConsecutiveViolations, &rep.LastViolationAt,
		&rep.LastCleanDriftAt, &rep.Version, &rep.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrReputationNotFound
		}
		return nil, errors.NewInternalError("failed to load reputation").WithCause(err)
	}
	return &rep, nil
}

// UpdateAtomic applies fn to the current reputation and persists the result
// with a version compare-and-swap, retrying on contention.
func (r *ReputationRepository) UpdateAtomic(ctx context.Context, tenantID, clientID string, fn func(*client.Reputation) error) (*client.Reputation, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTimeout)
	defer cancel()

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		rep, err := r.get(ctx, tenantID, clientID)
		if err != nil {
			if !errors.IsNotFound(err) {
				return nil, err
			}
			rep, err = client.NewReputation(tenantID, clientID)
			if err != nil {
				return nil, err
			}
			if err := r.insert(ctx, rep); err != nil {
				if errors.IsType(err, errors.ErrorTypeConflict) {
					// Another writer created it first; reload and retry.
					r.metrics.ReputationCAS.Inc()
					continue
				}
				return nil, err
			}
		}

		expectedVersion := rep.Version
		if err := fn(rep); err != nil {
			return nil, err
		}
		rep.Version = expectedVersion + 1

		tag, err := r.db.Exec(ctx, `
			UPDATE client_reputations SET
				score = $3, tier = $4, total_requests = $5,
				violation_count = $6, consecutive_violations = $7,
				last_violation_at = $8, last_clean_drift_at = $9,
				version = $10, updated_at = $11
			WHERE tenant_id = $1 AND client_id = $2 AND version = $12
		`,
			tenantID, clientID, rep.Score, rep.Tier, rep.TotalRequests,
			rep.ViolationCount, rep.ConsecutiveViolations,
			rep.LastViolationAt, rep.LastCleanDriftAt,
			rep.Version, rep.UpdatedAt, expectedVersion,
		)
		if err != nil {
			return nil, errors.NewInternalError("failed to update reputation").WithCause(err)
		}
		if tag.RowsAffected() == 1 {
			return rep, nil
		}

		// Lost the race; reload and retry.
		r.metrics.ReputationCAS.Inc()
	}

	return nil, errors.NewConflictError("reputation update contention exceeded retry budget")
}

func (r *ReputationRepository) insert(ctx context.Context, rep *client.Reputation) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO client_reputations (
			tenant_id, client_id, score, tier, total_requests,
			violation_count, consecutive_violations, last_violation_at,
			last_clean_drift_at, version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, client_id) DO NOTHING
	`,
		rep.TenantID, rep.ClientID, rep.Score, rep.Tier, rep.TotalRequests,
		rep.ViolationCount, rep.ConsecutiveViolations, rep.LastViolationAt,
		rep.LastCleanDriftAt, rep.Version, rep.UpdatedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to insert reputation").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewConflictError("reputation already exists")
	}
	return nil
}
