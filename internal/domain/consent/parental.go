package consent

import (
	"time"

	"github.com/google/uuid"

	"github.com/edushield/access-gateway/internal/domain/errors"
)

// TimeWindow is a guardian-approved access window on one day of the week.
// Start and End are minutes since midnight in the policy's timezone.
type TimeWindow struct {
	Day         time.Weekday
	StartMinute int
	EndMinute   int
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	if t.Weekday() != w.Day {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= w.StartMinute && minute < w.EndMinute
}

// NotificationPreference controls how the guardian is informed of external
// client activity.
type NotificationPreference string

const (
	NotifyNone      NotificationPreference = "none"
	NotifyDaily     NotificationPreference = "daily_digest"
	NotifyPerAccess NotificationPreference = "per_access"
	NotifyIncidents NotificationPreference = "incidents_only"
)

// ParentalControlPolicy governs a minor's external AI access. Created at
// account setup for minors and only ever updated by the guardian.
type ParentalControlPolicy struct {
	ID                      uuid.UUID
	TenantID                string
	UserID                  string
	GuardianID              string
	ExternalAIAccessAllowed bool
	AllowedClientTypes      []string
	AllowedTimeWindows      []TimeWindow
	MaxSessionDuration      time.Duration
	Notification            NotificationPreference
	GuardianOverrideEnabled bool
	UpdatedAt               time.Time
}

// NewParentalControlPolicy creates a policy with guardian defaults: access
// disabled until the guardian opts in.
func NewParentalControlPolicy(tenantID, userID, guardianID string) (*ParentalControlPolicy, error) {
	if tenantID == "" || userID == "" {
		return nil, errors.NewValidationError("INVALID_POLICY", "tenant and user IDs are required")
	}
	if guardianID == "" {
		return nil, errors.NewValidationError("INVALID_GUARDIAN", "guardian ID is required")
	}
	return &ParentalControlPolicy{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		UserID:             userID,
		GuardianID:         guardianID,
		AllowedClientTypes: []string{},
		AllowedTimeWindows: []TimeWindow{},
		MaxSessionDuration: 30 * time.Minute,
		Notification:       NotifyIncidents,
		UpdatedAt:          time.Now(),
	}, nil
}

// AllowsClientType reports whether the guardian has approved the client type.
func (p *ParentalControlPolicy) AllowsClientType(clientType string) bool {
	for _, t := range p.AllowedClientTypes {
		if t == clientType {
			return true
		}
	}
	return false
}

// AllowsAccessAt reports whether t falls inside any approved time window.
// A policy with no windows permits no time-restricted access at all: the
// guardian must approve windows explicitly.
func (p *ParentalControlPolicy) AllowsAccessAt(t time.Time) bool {
	for _, w := range p.AllowedTimeWindows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// ClampSessionDuration bounds a requested session duration by the policy.
func (p *ParentalControlPolicy) ClampSessionDuration(requested time.Duration) time.Duration {
	if p.MaxSessionDuration > 0 && requested > p.MaxSessionDuration {
		return p.MaxSessionDuration
	}
	return requested
}
