package anomaly

import (
	"context"
	"time"

	"github.com/edushield/access-gateway/internal/domain/consent"
	"github.com/edushield/access-gateway/internal/service/incidentresponse"
)

// Service observes client behavior and reports deviations from learned
// baselines. Reports are advisory: the detector never blocks a request
// itself.
type Service interface {
	// Analyze folds the signal into the client's baseline and reports any
	// detected anomaly patterns.
	Analyze(ctx context.Context, signal *Signal) (*Report, error)
}

// IncidentReporter receives critical and coordinated findings for
// orchestration. Satisfied by incidentresponse.Service.
type IncidentReporter interface {
	ProcessIncident(ctx context.Context, input *incidentresponse.IncidentInput) (*incidentresponse.IncidentResponse, error)
}

// Signal is one observed request, successful or denied.
type Signal struct {
	TenantID         string
	ClientID         string
	UserID           string
	DataCategory     consent.DataCategory
	RequestSizeBytes int64
	Timestamp        time.Time
	IPAddress        string
	UserAgent        string
}

// Report is the detector's finding for one signal.
type Report struct {
	IsAnomalous        bool     `json:"is_anomalous"`
	IsCritical         bool     `json:"is_critical"`
	DetectedPatterns   []string `json:"detected_patterns"`
	BaselineConfidence float64  `json:"baseline_confidence"`
}

// Detected pattern names.
const (
	PatternOffHoursBulkAccess    = "off_hours_bulk_access"
	PatternSystematicEnumeration = "systematic_enumeration"
	PatternCoordinatedAttack     = "coordinated_attack"
	PatternEvasionTechniques     = "evasion_techniques"
)
