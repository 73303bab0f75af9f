package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edushield/access-gateway/internal/domain/errors"
	"github.com/edushield/access-gateway/internal/domain/incident"
)

// IncidentRepository implements incident.Repository.
type IncidentRepository struct {
	db           *pgxpool.Pool
	queryTimeout time.Duration
}

// NewIncidentRepository creates a new PostgreSQL incident repository
func NewIncidentRepository(db *pgxpool.Pool, queryTimeout time.Duration) *IncidentRepository {
	return &IncidentRepository{db: db, queryTimeout: queryTimeout}
}

// Save persists an incident. The write path creates and updates response
// actions; the review path flips status and closure.
func (r *IncidentRepository) Save(ctx context.Context, inc *incident.SecurityIncident) error {
	ctx, cancel := withQueryTimeout(ctx, r.queryTimeout)
	defer cancel()

	evidence, err := json.Marshal(inc.Evidence)
	if err != nil {
		return errors.NewInternalError("failed to marshal incident evidence").WithCause(err)
	}
	actions, err := json.Marshal(inc.ResponseActions)
	if err != nil {
		return errors.NewInternalError("failed to marshal response actions").WithCause(err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO security_incidents (
			id, tenant_id, client_id, user_id, incident_type, severity,
			detection_source, evidence, response_actions, escalated, status,
			next_review_at, created_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			response_actions = EXCLUDED.response_actions,
			escalated = EXCLUDED.escalated,
			status = EXCLUDED.status,
			next_review_at = EXCLUDED.next_review_at,
			closed_at = EXCLUDED.closed_at
	`,
		inc.ID, inc.TenantID, inc.ClientID, inc.UserID, inc.Type, inc.Severity,
		inc.DetectionSource, evidence, actions, inc.Escalated, inc.Status,
		inc.NextReviewAt, inc.CreatedAt, inc.ClosedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to save incident").WithCause(err)
	}
	return nil
}

// GetByID returns an incident by id.
func (r *IncidentRepository) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*incident.SecurityIncident, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTimeout)
	defer cancel()

	row := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, client_id, user_id, incident_type, severity,
		       detection_source, evidence, response_actions, escalated, status,
		       next_review_at, created_at, closed_at
		FROM security_incidents
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	inc, err := scanIncident(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrIncidentNotFound
		}
		return nil, err
	}
	return inc, nil
}

// ListOpenByClient returns open incidents for a client, newest first.
func (r *IncidentRepository) ListOpenByClient(ctx context.Context, tenantID, clientID string) ([]*incident.SecurityIncident, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, client_id, user_id, incident_type, severity,
		       detection_source, evidence, response_actions, escalated, status,
		       next_review_at, created_at, closed_at
		FROM security_incidents
		WHERE tenant_id = $1 AND client_id = $2 AND status != $3
		ORDER BY created_at DESC
	`, tenantID, clientID, incident.StatusClosed)
	if err != nil {
		return nil, errors.NewInternalError("failed to list open incidents").WithCause(err)
	}
	defer rows.Close()

	var incidents []*incident.SecurityIncident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to read incident rows").WithCause(err)
	}
	return incidents, nil
}

func scanIncident(row pgx.Row) (*incident.SecurityIncident, error) {
	var inc incident.SecurityIncident
	var evidence, actions []byte
	err := row.Scan(
		&inc.ID, &inc.TenantID, &inc.ClientID, &inc.UserID, &inc.Type,
		&inc.Severity, &inc.DetectionSource, &evidence, &actions,
		&inc.Escalated, &inc.Status, &inc.NextReviewAt, &inc.CreatedAt,
		&inc.ClosedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, errors.NewInternalError("failed to scan incident").WithCause(err)
	}

	if err := json.Unmarshal(evidence, &inc.Evidence); err != nil {
		return nil, errors.NewInternalError("malformed stored evidence").WithCause(err)
	}
	if err := json.Unmarshal(actions, &inc.ResponseActions); err != nil {
		return nil, errors.NewInternalError("malformed stored response actions").WithCause(err)
	}
	return &inc, nil
}
