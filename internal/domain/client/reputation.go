package client

import (
	"time"

	"github.com/edushield/access-gateway/internal/domain/errors"
)

// RiskTier buckets a client's reputation score for adaptive policy.
type RiskTier string

const (
	TierLow      RiskTier = "low"
	TierMedium   RiskTier = "medium"
	TierHigh     RiskTier = "high"
	TierCritical RiskTier = "critical"
)

// String returns the string representation of the risk tier
func (t RiskTier) String() string {
	return string(t)
}

// ViolationType classifies a policy violation for penalty weighting.
type ViolationType string

const (
	ViolationRateLimit         ViolationType = "rate_limit_exceeded"
	ViolationVolumeLimit       ViolationType = "volume_limit_exceeded"
	ViolationSuspiciousPattern ViolationType = "suspicious_pattern_detected"
	ViolationConsentBreach     ViolationType = "consent_breach"
	ViolationIsolationBypass   ViolationType = "isolation_bypass_attempt"
)

const (
	// Score bounds; the clamp invariant holds under any update sequence.
	MinScore = 0.0
	MaxScore = 100.0

	// InitialScore is where new clients start: trusted enough to operate,
	// no headroom for immediate abuse.
	InitialScore = 70.0

	// criticalScoreThreshold is the floor below which a client is treated
	// as critical regardless of tier banding.
	criticalScoreThreshold = 25.0

	// criticalConsecutiveViolations forces critical tier even when the
	// score has not yet decayed below the threshold.
	criticalConsecutiveViolations = 5

	// cleanDrift is the positive score adjustment applied per sustained
	// clean interval.
	cleanDrift = 2.0
)

// violationPenalties weights the score subtraction per violation type.
var violationPenalties = map[ViolationType]float64{
	ViolationRateLimit:         5.0,
	ViolationVolumeLimit:       8.0,
	ViolationSuspiciousPattern: 15.0,
	ViolationConsentBreach:     25.0,
	ViolationIsolationBypass:   40.0,
}

// Reputation is the adaptive trust state for one (tenant, client) pair.
// Updates must go through atomic per-key read-modify-write; the Version
// field backs optimistic concurrency in the store.
type Reputation struct {
	TenantID              string
	ClientID              string
	Score                 float64
	Tier                  RiskTier
	TotalRequests         int64
	ViolationCount        int64
	ConsecutiveViolations int
	LastViolationAt       *time.Time
	LastCleanDriftAt      time.Time
	Version               int64
	UpdatedAt             time.Time
}

// NewReputation creates the starting reputation for a client.
func NewReputation(tenantID, clientID string) (*Reputation, error) {
	if tenantID == "" || clientID == "" {
		return nil, errors.NewValidationError("INVALID_REPUTATION", "tenant and client IDs are required")
	}
	now := time.Now()
	r := &Reputation{
		TenantID:         tenantID,
		ClientID:         clientID,
		Score:            InitialScore,
		LastCleanDriftAt: now,
		Version:          1,
		UpdatedAt:        now,
	}
	r.Tier = r.deriveTier()
	return r, nil
}

// RecordRequest counts an evaluated request against the client.
func (r *Reputation) RecordRequest() {
	r.TotalRequests++
	r.UpdatedAt = time.Now()
}

// ApplyViolation subtracts the severity-weighted penalty, bumps the
// violation counters and recomputes the tier. The score never leaves
// [MinScore, MaxScore].
func (r *Reputation) ApplyViolation(violation ViolationType) {
	penalty, ok := violationPenalties[violation]
	if !ok {
		penalty = violationPenalties[ViolationRateLimit]
	}

	now := time.Now()
	r.Score = clamp(r.Score - penalty)
	r.ViolationCount++
	r.ConsecutiveViolations++
	r.LastViolationAt = &now
	r.Tier = r.deriveTier()
	r.UpdatedAt = now
}

// ApplyCleanInterval resets the consecutive counter and drifts the score
// upward after a sustained violation-free period.
func (r *Reputation) ApplyCleanInterval(cleanFor, required time.Duration) bool {
	if required <= 0 || cleanFor < required {
		return false
	}
	r.ConsecutiveViolations = 0
	r.Score = clamp(r.Score + cleanDrift)
	r.Tier = r.deriveTier()
	now := time.Now()
	r.LastCleanDriftAt = now
	r.UpdatedAt = now
	return true
}

// IsCritical reports whether the client must be denied outright.
func (r *Reputation) IsCritical() bool {
	return r.Tier == TierCritical
}

// deriveTier maps score and consecutive violations to a risk tier.
func (r *Reputation) deriveTier() RiskTier {
	if r.ConsecutiveViolations >= criticalConsecutiveViolations {
		return TierCritical
	}
	switch {
	case r.Score < criticalScoreThreshold:
		return TierCritical
	case r.Score < 50:
		return TierHigh
	case r.Score < 75:
		return TierMedium
	default:
		return TierLow
	}
}

// RateLimitFraction scales the base request ceiling by risk tier: low risk
// gets the full ceiling, critical a fraction of it.
func (t RiskTier) RateLimitFraction() float64 {
	switch t {
	case TierLow:
		return 1.0
	case TierMedium:
		return 0.75
	case TierHigh:
		return 0.5
	case TierCritical:
		return 0.1
	default:
		return 0.5
	}
}

func clamp(score float64) float64 {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
