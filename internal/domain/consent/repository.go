package consent

import (
	"context"
)

// Repository persists consent records. Implementations append superseding
// versions and always return the latest committed one.
type Repository interface {
	// GetCurrent returns the latest committed consent version for a user.
	GetCurrent(ctx context.Context, tenantID, userID string) (*Record, error)

	// Save appends a new consent version. The prior version is retained.
	Save(ctx context.Context, record *Record) error

	// SaveRevocation durably records a consent withdrawal.
	SaveRevocation(ctx context.Context, revocation *Revocation) error
}

// ParentalPolicyRepository persists guardian policies for minor users.
type ParentalPolicyRepository interface {
	// GetByUser returns the policy for a minor user, if one exists.
	GetByUser(ctx context.Context, tenantID, userID string) (*ParentalControlPolicy, error)

	// Save upserts a guardian policy.
	Save(ctx context.Context, policy *ParentalControlPolicy) error
}
