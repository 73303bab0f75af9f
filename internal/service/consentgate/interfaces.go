package consentgate

import (
	"context"
	"time"
)

// Service validates external client access against consent state, issues
// scoped sessions, and processes consent revocations.
type Service interface {
	// ValidateAccess checks the requested scopes against the user's consent
	// record, the client registry, and any parental control policy. Denials
	// are returned in the result, never as errors.
	ValidateAccess(ctx context.Context, req *ValidationRequest) (*ValidationResult, error)

	// IssueSession validates access and, when allowed, creates an active
	// session with a signed token for the granted scopes.
	IssueSession(ctx context.Context, req *SessionRequest) (*SessionResult, error)

	// VerifySession introspects a presented session token against the live
	// session store. Invalid or revoked tokens yield an inactive result,
	// never an error.
	VerifySession(ctx context.Context, token string) (*VerificationResult, error)

	// ProcessRevocation writes a superseding consent version and, for
	// revocation types that require it, terminates all matching sessions in
	// the same call.
	ProcessRevocation(ctx context.Context, req *RevocationRequest) (*RevocationResult, error)
}

// ValidationRequest identifies one client's request to access a user's data.
type ValidationRequest struct {
	TenantID        string
	UserID          string
	ClientID        string
	RequestedScopes []string
}

// ScopeViolation names a scope that failed validation and why.
type ScopeViolation struct {
	Scope  string `json:"scope"`
	Reason string `json:"reason"`
}

// ValidationResult is the full outcome of scope validation. Allowed is true
// only when at least one requested scope survived every check.
type ValidationResult struct {
	Allowed                  bool             `json:"allowed"`
	AllowedScopes            []string         `json:"allowed_scopes"`
	MissingConsents          []string         `json:"missing_consents"`
	Violations               []ScopeViolation `json:"violations"`
	ParentalApprovalRequired bool             `json:"parental_approval_required"`
	SessionLimitsEnforced    bool             `json:"session_limits_enforced"`
	ConsentVersion           int              `json:"consent_version"`
}

// SessionRequest asks for a live session over the requested scopes.
type SessionRequest struct {
	TenantID          string
	UserID            string
	ClientID          string
	RequestedScopes   []string
	RequestedDuration time.Duration
}

// SessionResult carries the issued session token, or the validation result
// explaining the denial.
type SessionResult struct {
	Issued     bool              `json:"issued"`
	SessionID  string            `json:"session_id,omitempty"`
	Token      string            `json:"token,omitempty"`
	Encryption string            `json:"encryption_tier,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at,omitempty"`
	Validation *ValidationResult `json:"validation"`
}

// VerificationResult is the outcome of session token introspection. Claims
// are only populated when the session is active.
type VerificationResult struct {
	Active        bool      `json:"active"`
	SessionID     string    `json:"session_id,omitempty"`
	TenantID      string    `json:"tenant_id,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	GrantedScopes []string  `json:"granted_scopes,omitempty"`
	Encryption    string    `json:"encryption_tier,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

// RevocationRequest withdraws consent. An empty scope list with a
// scope-removal type is rejected; terminal types ignore the scope list and
// withdraw everything.
type RevocationRequest struct {
	TenantID string
	UserID   string
	Type     string
	Scopes   []string
}

// RevocationResult reports the durable revocation and how many sessions were
// terminated synchronously with it.
type RevocationResult struct {
	RevocationID       string    `json:"revocation_id"`
	RecordVersion      int       `json:"record_version"`
	SessionsTerminated int       `json:"sessions_terminated"`
	OccurredAt         time.Time `json:"occurred_at"`
}
