package evaluator

import (
	"context"

	"github.com/edushield/access-gateway/internal/domain/client"
	"github.com/edushield/access-gateway/internal/domain/consent"
	"github.com/edushield/access-gateway/internal/service/incidentresponse"
)

// Service evaluates in-flight access requests against adaptive quotas,
// volume ceilings, and exfiltration heuristics.
type Service interface {
	// Evaluate runs the rule chain for one request. Denials are returned in
	// the decision, never as errors; errors mean the evaluation itself could
	// not complete and callers must deny.
	Evaluate(ctx context.Context, req *AccessRequest) (*Decision, error)

	// UpdateClientReputation applies a severity-weighted penalty for a
	// violation through an atomic per-key update.
	UpdateClientReputation(ctx context.Context, tenantID, clientID string, violation client.ViolationType) (*client.Reputation, error)
}

// IncidentReporter receives repeated-violation findings for orchestration.
// Satisfied by incidentresponse.Service.
type IncidentReporter interface {
	ProcessIncident(ctx context.Context, input *incidentresponse.IncidentInput) (*incidentresponse.IncidentResponse, error)
}

// AccessRequest is one in-flight request from an external client.
type AccessRequest struct {
	TenantID         string
	ClientID         string
	UserID           string
	DataCategory     consent.DataCategory
	RequestSizeBytes int64
	IPAddress        string
	UserAgent        string
}

// Decision is the evaluation outcome for one request.
type Decision struct {
	Allowed           bool   `json:"allowed"`
	Reason            string `json:"reason,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	RecommendedAction string `json:"recommended_action,omitempty"`
}

// Denial reason codes.
const (
	ReasonRateLimitExceeded   = "rate_limit_exceeded"
	ReasonVolumeLimitExceeded = "volume_limit_exceeded"
	ReasonSuspiciousPattern   = "suspicious_pattern_detected"
	ReasonClientReviewNeeded  = "client_review_required"
)

// Recommended caller actions attached to denials.
const (
	ActionBackoff       = "backoff_and_retry"
	ActionReduceVolume  = "reduce_request_volume"
	ActionContactReview = "contact_platform_review"
)
