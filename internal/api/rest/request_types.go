package rest

// Request bodies with validation tags. Validation failures are returned as
// structured 400 responses before any service call.

// ValidateAccessRequest asks whether a client may access a user's data under
// the requested scopes.
type ValidateAccessRequest struct {
	TenantID        string   `json:"tenant_id" validate:"required,max=64"`
	UserID          string   `json:"user_id" validate:"required,max=64"`
	ClientID        string   `json:"client_id" validate:"required,max=64"`
	RequestedScopes []string `json:"requested_scopes" validate:"required,min=1,dive,min=1,max=128"`
}

// IssueSessionRequest asks for a live session over the requested scopes.
type IssueSessionRequest struct {
	TenantID        string   `json:"tenant_id" validate:"required,max=64"`
	UserID          string   `json:"user_id" validate:"required,max=64"`
	ClientID        string   `json:"client_id" validate:"required,max=64"`
	RequestedScopes []string `json:"requested_scopes" validate:"required,min=1,dive,min=1,max=128"`
	DurationSeconds int      `json:"duration_seconds" validate:"omitempty,min=60,max=86400"`
}

// VerifySessionRequest introspects a presented session token.
type VerifySessionRequest struct {
	Token string `json:"token" validate:"required"`
}

// RevokeConsentRequest withdraws a user's consent.
type RevokeConsentRequest struct {
	TenantID string   `json:"tenant_id" validate:"required,max=64"`
	UserID   string   `json:"user_id" validate:"required,max=64"`
	Type     string   `json:"revocation_type" validate:"required,oneof=scope_removal emergency_stop full_withdrawal system_emergency"`
	Scopes   []string `json:"scopes" validate:"omitempty,dive,min=1,max=128"`
}

// EvaluateRequest runs one in-flight request through the quota evaluator.
type EvaluateRequest struct {
	TenantID         string `json:"tenant_id" validate:"required,max=64"`
	ClientID         string `json:"client_id" validate:"required,max=64"`
	UserID           string `json:"user_id" validate:"required,max=64"`
	DataCategory     string `json:"data_category" validate:"required,oneof=profile_basics behavioral_timing assessment_patterns chat_interactions cross_course_correlation"`
	RequestSizeBytes int64  `json:"request_size_bytes" validate:"min=0"`
	IPAddress        string `json:"ip_address" validate:"omitempty,ip"`
	UserAgent        string `json:"user_agent" validate:"omitempty,max=512"`
}

// AnalyzeRequest feeds one observed request to the anomaly detector.
type AnalyzeRequest struct {
	TenantID         string `json:"tenant_id" validate:"required,max=64"`
	ClientID         string `json:"client_id" validate:"required,max=64"`
	UserID           string `json:"user_id" validate:"omitempty,max=64"`
	DataCategory     string `json:"data_category" validate:"omitempty,oneof=profile_basics behavioral_timing assessment_patterns chat_interactions cross_course_correlation"`
	RequestSizeBytes int64  `json:"request_size_bytes" validate:"min=0"`
	IPAddress        string `json:"ip_address" validate:"omitempty,ip"`
	UserAgent        string `json:"user_agent" validate:"omitempty,max=512"`
}

// ReportIncidentRequest submits a detected security event for response.
type ReportIncidentRequest struct {
	TenantID        string          `json:"tenant_id" validate:"required,max=64"`
	ClientID        string          `json:"client_id" validate:"required,max=64"`
	UserID          string          `json:"user_id" validate:"omitempty,max=64"`
	Type            string          `json:"incident_type" validate:"required,oneof=quota_abuse anomalous_behavior systematic_harvest coordinated_attack consent_violation isolation_failure"`
	Severity        string          `json:"severity" validate:"required,oneof=low medium high critical"`
	DetectionSource string          `json:"detection_source" validate:"required,max=64"`
	Evidence        evidencePayload `json:"evidence" validate:"omitempty"`
}

// evidencePayload mirrors the wire form of incident evidence.
type evidencePayload struct {
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
}

// IsolateClientRequest cuts off a client's access.
type IsolateClientRequest struct {
	TenantID string `json:"tenant_id" validate:"required,max=64"`
	ClientID string `json:"client_id" validate:"required,max=64"`
	Mode     string `json:"mode" validate:"required,oneof=soft hard"`
	Reason   string `json:"reason" validate:"required,max=256"`
}
