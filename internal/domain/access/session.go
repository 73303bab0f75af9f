package access

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edushield/access-gateway/internal/domain/consent"
	"github.com/edushield/access-gateway/internal/domain/errors"
)

// EncryptionTier is the transport/storage protection level a session's data
// must travel under, derived from the highest scope sensitivity granted.
type EncryptionTier string

const (
	EncryptionStandard EncryptionTier = "standard"
	EncryptionEnhanced EncryptionTier = "enhanced"
	EncryptionMaximum  EncryptionTier = "maximum"
)

// TierForSensitivity maps scope sensitivity to the required encryption tier.
func TierForSensitivity(s consent.SensitivityTier) EncryptionTier {
	switch {
	case s >= consent.TierRestricted:
		return EncryptionMaximum
	case s >= consent.TierSensitive:
		return EncryptionEnhanced
	default:
		return EncryptionStandard
	}
}

// Session is a live grant for one (client, user) pair. No session may
// reference scopes absent from the consent record in force at issuance.
type Session struct {
	ID             uuid.UUID
	TenantID       string
	ClientID       string
	UserID         string
	GrantedScopes  []string
	Token          string
	ConsentVersion int
	Encryption     EncryptionTier
	IssuedAt       time.Time
	ExpiresAt      time.Time
	TerminatedAt   *time.Time
}

// NewSession issues a session for validated scopes.
func NewSession(tenantID, clientID, userID string, scopes []string, consentVersion int, encryption EncryptionTier, ttl time.Duration) (*Session, error) {
	if len(scopes) == 0 {
		return nil, errors.NewValidationError("NO_SCOPES", "session requires at least one granted scope")
	}
	if ttl <= 0 {
		return nil, errors.NewValidationError("INVALID_TTL", "session TTL must be positive")
	}
	now := time.Now()
	return &Session{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ClientID:       clientID,
		UserID:         userID,
		GrantedScopes:  scopes,
		ConsentVersion: consentVersion,
		Encryption:     encryption,
		IssuedAt:       now,
		ExpiresAt:      now.Add(ttl),
	}, nil
}

// IsActive reports whether the session is live at time t.
func (s *Session) IsActive(t time.Time) bool {
	return s.TerminatedAt == nil && t.Before(s.ExpiresAt)
}

// Terminate marks the session terminated. Idempotent: terminating an
// already-terminated session is a no-op and reports false.
func (s *Session) Terminate() bool {
	if s.TerminatedAt != nil {
		return false
	}
	now := time.Now()
	s.TerminatedAt = &now
	return true
}

// ReferencesScope reports whether the session grants the named scope.
func (s *Session) ReferencesScope(scope string) bool {
	for _, g := range s.GrantedScopes {
		if g == scope {
			return true
		}
	}
	return false
}

// SessionStore manages live sessions and the isolation marker. Termination
// during isolation must be safe to race against in-flight creation: the
// marker is set before enumeration and creation re-checks it before commit.
type SessionStore interface {
	// Create commits a new session, re-checking the revocation marker
	// immediately before the write. Returns ErrClientIsolated if set.
	Create(ctx context.Context, session *Session) error

	// Get returns a session by id.
	Get(ctx context.Context, tenantID string, sessionID uuid.UUID) (*Session, error)

	// ListByClient returns all live sessions for a client.
	ListByClient(ctx context.Context, tenantID, clientID string) ([]*Session, error)

	// ListByUser returns all live sessions for a user across clients.
	ListByUser(ctx context.Context, tenantID, userID string) ([]*Session, error)

	// Terminate ends a session; already-terminated sessions are a no-op.
	// Reports whether this call performed the termination.
	Terminate(ctx context.Context, tenantID string, sessionID uuid.UUID) (bool, error)

	// SetRevocationMarker blocks new session creation for a client until
	// the marker is cleared by review.
	SetRevocationMarker(ctx context.Context, tenantID, clientID, reason string) error

	// ClearRevocationMarker re-enables session creation after review.
	ClearRevocationMarker(ctx context.Context, tenantID, clientID string) error

	// IsRevoked reports whether the client's marker is set.
	IsRevoked(ctx context.Context, tenantID, clientID string) (bool, error)
}
