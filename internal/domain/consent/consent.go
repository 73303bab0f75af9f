package consent

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edushield/access-gateway/internal/domain/errors"
)

// DataCategory names one category of learner data that an external client
// may request access to.
type DataCategory string

const (
	CategoryProfileBasics      DataCategory = "profile_basics"
	CategoryBehavioralTiming   DataCategory = "behavioral_timing"
	CategoryAssessmentPatterns DataCategory = "assessment_patterns"
	CategoryChatInteractions   DataCategory = "chat_interactions"
	CategoryCrossCourse        DataCategory = "cross_course_correlation"
)

// String returns the string representation of the data category
func (c DataCategory) String() string {
	return string(c)
}

// CollectionLevel is the user's declared breadth of data collection.
type CollectionLevel string

const (
	CollectionMinimal       CollectionLevel = "minimal"
	CollectionStandard      CollectionLevel = "standard"
	CollectionComprehensive CollectionLevel = "comprehensive"
)

// RevocationType classifies how consent was withdrawn. Emergency stop and
// full withdrawal require synchronous session termination.
type RevocationType string

const (
	RevocationScopeRemoval    RevocationType = "scope_removal"
	RevocationEmergencyStop   RevocationType = "emergency_stop"
	RevocationFullWithdrawal  RevocationType = "full_withdrawal"
	RevocationSystemEmergency RevocationType = "system_emergency"
)

// RequiresSynchronousTermination reports whether sessions referencing the
// revoked scopes must be terminated in the same operation that records the
// revocation.
func (r RevocationType) RequiresSynchronousTermination() bool {
	return r == RevocationEmergencyStop || r == RevocationFullWithdrawal || r == RevocationSystemEmergency
}

// Record is the consent state for one (tenant, user) pair. Records are never
// deleted; every mutation produces a superseding version so the full consent
// history remains reconstructable.
type Record struct {
	ID       uuid.UUID
	TenantID string
	UserID   string

	// Category-level collection flags
	BehavioralTimingConsent   bool
	AssessmentPatternsConsent bool
	ChatInteractionsConsent   bool
	CrossCourseConsent        bool

	// ExternalAIAccessConsent is the top-level gate: when false, no scope
	// can authorize an external client regardless of the flags above.
	ExternalAIAccessConsent bool

	CollectionLevel CollectionLevel

	// ExternalClientScopes is the explicit list of scope names the user has
	// authorized for external AI clients.
	ExternalClientScopes []string

	ParentalConsentRequired bool
	ParentalConsentGranted  bool

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
	RevokedAt *time.Time
}

// NewRecord creates the first version of a consent record.
func NewRecord(tenantID, userID string, level CollectionLevel) (*Record, error) {
	if tenantID == "" {
		return nil, errors.NewValidationError("INVALID_TENANT", "tenant ID is required")
	}
	if userID == "" {
		return nil, errors.NewValidationError("INVALID_USER", "user ID is required")
	}
	switch level {
	case CollectionMinimal, CollectionStandard, CollectionComprehensive:
	default:
		return nil, errors.NewValidationError("INVALID_COLLECTION_LEVEL",
			fmt.Sprintf("invalid collection level: %s", level))
	}

	now := time.Now()
	return &Record{
		ID:                   uuid.New(),
		TenantID:             tenantID,
		UserID:               userID,
		CollectionLevel:      level,
		ExternalClientScopes: []string{},
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// HasScope reports whether the named scope is in the user's authorized list.
func (r *Record) HasScope(scope string) bool {
	for _, s := range r.ExternalClientScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AllowsCategory reports whether the user consented to collection of the
// given data category. Profile basics are covered by the top-level flag.
func (r *Record) AllowsCategory(category DataCategory) bool {
	switch category {
	case CategoryProfileBasics:
		return r.ExternalAIAccessConsent
	case CategoryBehavioralTiming:
		return r.BehavioralTimingConsent
	case CategoryAssessmentPatterns:
		return r.AssessmentPatternsConsent
	case CategoryChatInteractions:
		return r.ChatInteractionsConsent
	case CategoryCrossCourse:
		return r.CrossCourseConsent
	default:
		return false
	}
}

// GrantScopes returns a superseding version with the given scopes added to
// the authorized list.
func (r *Record) GrantScopes(scopes []string) (*Record, error) {
	if len(scopes) == 0 {
		return nil, errors.NewValidationError("NO_SCOPES", "at least one scope is required")
	}
	next := r.nextVersion()
	for _, s := range scopes {
		if !next.HasScope(s) {
			next.ExternalClientScopes = append(next.ExternalClientScopes, s)
		}
	}
	return next, nil
}

// Revoke returns a superseding version with the listed scopes removed. A nil
// or empty scope list withdraws external AI access entirely.
func (r *Record) Revoke(revocationType RevocationType, scopes []string) (*Record, error) {
	if r.RevokedAt != nil {
		return nil, errors.NewConflictError("consent record already revoked")
	}

	next := r.nextVersion()
	now := time.Now()

	switch revocationType {
	case RevocationScopeRemoval:
		remaining := make([]string, 0, len(next.ExternalClientScopes))
		removed := map[string]bool{}
		for _, s := range scopes {
			removed[s] = true
		}
		for _, s := range next.ExternalClientScopes {
			if !removed[s] {
				remaining = append(remaining, s)
			}
		}
		next.ExternalClientScopes = remaining
	case RevocationEmergencyStop, RevocationFullWithdrawal, RevocationSystemEmergency:
		next.ExternalClientScopes = []string{}
		next.ExternalAIAccessConsent = false
		next.RevokedAt = &now
	default:
		return nil, errors.NewValidationError("INVALID_REVOCATION_TYPE",
			fmt.Sprintf("invalid revocation type: %s", revocationType))
	}

	return next, nil
}

// nextVersion copies the record with the version counter bumped. The copy is
// what gets persisted; the prior version stays untouched in the store.
func (r *Record) nextVersion() *Record {
	scopes := make([]string, len(r.ExternalClientScopes))
	copy(scopes, r.ExternalClientScopes)

	next := *r
	next.ExternalClientScopes = scopes
	next.Version = r.Version + 1
	next.UpdatedAt = time.Now()
	return &next
}

// Revocation is the durable record of a consent withdrawal, carried to the
// audit sink and returned to the caller.
type Revocation struct {
	ID                 uuid.UUID
	TenantID           string
	UserID             string
	Type               RevocationType
	RevokedScopes      []string
	SessionsTerminated int
	RecordVersion      int
	OccurredAt         time.Time
}

// NewRevocation stamps a revocation event for the given record version.
func NewRevocation(tenantID, userID string, revocationType RevocationType, scopes []string, recordVersion int) *Revocation {
	return &Revocation{
		ID:            uuid.New(),
		TenantID:      tenantID,
		UserID:        userID,
		Type:          revocationType,
		RevokedScopes: scopes,
		RecordVersion: recordVersion,
		OccurredAt:    time.Now(),
	}
}
