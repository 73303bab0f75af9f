package incident

import (
	"time"

	"github.com/google/uuid"

	"github.com/edushield/access-gateway/internal/domain/errors"
)

// Severity drives the orchestrator's graduated response ladder.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// String returns the string representation of the severity
func (s Severity) String() string {
	return string(s)
}

// Type classifies the detected security event.
type Type string

const (
	TypeQuotaAbuse        Type = "quota_abuse"
	TypeAnomalousBehavior Type = "anomalous_behavior"
	TypeSystematicHarvest Type = "systematic_harvest"
	TypeCoordinatedAttack Type = "coordinated_attack"
	TypeConsentViolation  Type = "consent_violation"
	TypeIsolationFailure  Type = "isolation_failure"
)

// ResponseAction is one step the orchestrator took for an incident.
type ResponseAction string

const (
	ActionEnhancedMonitoring  ResponseAction = "enhanced_monitoring"
	ActionFlagForReview       ResponseAction = "flag_for_review"
	ActionForensicsCapture    ResponseAction = "forensics_capture"
	ActionEscalation          ResponseAction = "escalation"
	ActionClientIsolation     ResponseAction = "client_isolation"
	ActionEmergencyRevocation ResponseAction = "emergency_consent_revocation"
	ActionQuotaTightening     ResponseAction = "quota_tightening"
)

// Status is the review lifecycle of an incident. Incidents never auto-close;
// closure requires an explicit review action.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusClosed      Status = "closed"
)

// SecurityIncident is the durable record of one detected critical event.
type SecurityIncident struct {
	ID              uuid.UUID
	TenantID        string
	ClientID        string
	UserID          string
	Type            Type
	Severity        Severity
	DetectionSource string
	Evidence        Evidence
	ResponseActions []ResponseAction
	Escalated       bool
	Status          Status
	NextReviewAt    time.Time
	CreatedAt       time.Time
	ClosedAt        *time.Time
}

// New creates an open incident with a review deadline scaled by severity.
func New(tenantID, clientID, userID string, incidentType Type, severity Severity, detectionSource string, evidence Evidence) (*SecurityIncident, error) {
	if tenantID == "" || clientID == "" {
		return nil, errors.NewValidationError("INVALID_INCIDENT", "tenant and client IDs are required")
	}
	switch severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return nil, errors.NewValidationError("INVALID_SEVERITY", "unknown incident severity")
	}

	now := time.Now()
	return &SecurityIncident{
		ID:              uuid.New(),
		TenantID:        tenantID,
		ClientID:        clientID,
		UserID:          userID,
		Type:            incidentType,
		Severity:        severity,
		DetectionSource: detectionSource,
		Evidence:        evidence,
		ResponseActions: []ResponseAction{},
		Status:          StatusOpen,
		NextReviewAt:    now.Add(reviewDeadline(severity)),
		CreatedAt:       now,
	}, nil
}

// RecordAction appends a response action taken for this incident.
func (i *SecurityIncident) RecordAction(action ResponseAction) {
	i.ResponseActions = append(i.ResponseActions, action)
}

// Escalate flags the incident for compliance escalation.
func (i *SecurityIncident) Escalate() {
	i.Escalated = true
	i.RecordAction(ActionEscalation)
}

// Close ends the incident through an explicit review action.
func (i *SecurityIncident) Close(reviewedBy string) error {
	if i.Status == StatusClosed {
		return errors.NewConflictError("incident already closed")
	}
	if reviewedBy == "" {
		return errors.NewValidationError("INVALID_REVIEWER", "closure requires a reviewer")
	}
	now := time.Now()
	i.Status = StatusClosed
	i.ClosedAt = &now
	return nil
}

func reviewDeadline(severity Severity) time.Duration {
	switch severity {
	case SeverityCritical:
		return 4 * time.Hour
	case SeverityHigh:
		return 24 * time.Hour
	case SeverityMedium:
		return 72 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}
