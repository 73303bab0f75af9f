package incidentresponse

import (
	"context"
	"time"

	"github.com/edushield/access-gateway/internal/domain/incident"
	"github.com/edushield/access-gateway/internal/service/consentgate"
)

// Service orchestrates the graduated response to detected security events.
type Service interface {
	// ProcessIncident records the incident and executes the response ladder
	// for its severity.
	ProcessIncident(ctx context.Context, input *IncidentInput) (*IncidentResponse, error)

	// IsolateClient cuts off or degrades a client's access. Hard mode
	// terminates every live session and blocks new ones until review; soft
	// mode penalizes reputation so quotas tighten without termination.
	IsolateClient(ctx context.Context, tenantID, clientID string, mode IsolationMode, reason string) (*IsolationResult, error)
}

// ConsentRevoker is the consent gate dependency used for emergency
// revocations on critical consent violations.
type ConsentRevoker interface {
	ProcessRevocation(ctx context.Context, req *consentgate.RevocationRequest) (*consentgate.RevocationResult, error)
}

// IsolationMode selects how aggressively a client is cut off.
type IsolationMode string

const (
	IsolationSoft IsolationMode = "soft"
	IsolationHard IsolationMode = "hard"
)

// IncidentInput describes one detected security event.
type IncidentInput struct {
	TenantID        string
	ClientID        string
	UserID          string
	Type            incident.Type
	Severity        incident.Severity
	DetectionSource string
	Evidence        incident.Evidence
}

// IncidentResponse reports what the orchestrator did.
type IncidentResponse struct {
	IncidentID          string                    `json:"incident_id"`
	Severity            incident.Severity         `json:"severity"`
	IsolationApplied    bool                      `json:"isolation_applied"`
	SessionsTerminated  int                       `json:"sessions_terminated"`
	ResponseActions     []incident.ResponseAction `json:"response_actions"`
	ForensicsCaptured   bool                      `json:"forensics_captured"`
	EscalationTriggered bool                      `json:"escalation_triggered"`
	NextReviewRequired  time.Time                 `json:"next_review_required"`
}

// IsolationResult reports the outcome of one isolation call.
type IsolationResult struct {
	Mode               IsolationMode `json:"mode"`
	SessionsTerminated int           `json:"sessions_terminated"`
}
