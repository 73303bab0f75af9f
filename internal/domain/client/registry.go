package client

import (
	"context"
)

// Status is the registry approval state of an external client.
type Status string

const (
	StatusApproved      Status = "approved"
	StatusPending       Status = "pending"
	StatusSuspended     Status = "suspended"
	StatusAccessRevoked Status = "access_revoked"
)

// RegistryEntry is the read-mostly reference record the external Client
// Registry supplies for a client id.
type RegistryEntry struct {
	ClientID           string
	ClientType         string
	Status             Status
	AuthorizedScopes   []string
	RateLimitPerMinute int
}

// IsApproved reports whether the client may be considered at all.
func (e *RegistryEntry) IsApproved() bool {
	return e.Status == StatusApproved
}

// MayRequestScope reports whether the registry authorizes the client for
// the named scope. An empty list means the client is scope-unrestricted at
// the registry level (consent still gates per user).
func (e *RegistryEntry) MayRequestScope(scope string) bool {
	if len(e.AuthorizedScopes) == 0 {
		return true
	}
	for _, s := range e.AuthorizedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Registry is the external collaborator boundary for client reference data.
type Registry interface {
	// GetClient returns the registry entry for a client id.
	GetClient(ctx context.Context, tenantID, clientID string) (*RegistryEntry, error)
}

// ReputationStore persists reputation state. UpdateAtomic must serialize
// concurrent updates for the same (tenant, client) key so no violation is
// lost; implementations use optimistic version CAS with retry.
type ReputationStore interface {
	// Get returns the reputation for a client, or a not-found error.
	Get(ctx context.Context, tenantID, clientID string) (*Reputation, error)

	// UpdateAtomic applies fn to the current reputation (creating the
	// initial record if absent) and persists the result atomically per key.
	UpdateAtomic(ctx context.Context, tenantID, clientID string, fn func(*Reputation) error) (*Reputation, error)
}
