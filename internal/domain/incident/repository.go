package incident

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists security incidents. Incidents are append-then-review:
// the write path creates and updates actions, closure happens only through
// an explicit review call.
type Repository interface {
	// Save persists a new incident or updates its response actions.
	Save(ctx context.Context, inc *SecurityIncident) error

	// GetByID returns an incident by id.
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*SecurityIncident, error)

	// ListOpenByClient returns open incidents for a client.
	ListOpenByClient(ctx context.Context, tenantID, clientID string) ([]*SecurityIncident, error)
}
