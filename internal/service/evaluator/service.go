package evaluator

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/edushield/access-gateway/internal/domain/access"
	"github.com/edushield/access-gateway/internal/domain/client"
	"github.com/edushield/access-gateway/internal/domain/errors"
	"github.com/edushield/access-gateway/internal/domain/incident"
	"github.com/edushield/access-gateway/internal/infrastructure/cache"
	"github.com/edushield/access-gateway/internal/infrastructure/config"
	"github.com/edushield/access-gateway/internal/metrics"
	"github.com/edushield/access-gateway/internal/service/incidentresponse"
)

var tracer = otel.Tracer("github.com/edushield/access-gateway/internal/service/evaluator")

// repeatedViolationThreshold is the consecutive-violation count at which a
// quota breach stops being noise and becomes a security incident.
const repeatedViolationThreshold = 3

type service struct {
	reputations client.ReputationStore
	rateLimiter cache.RateLimiter
	volume      cache.VolumeTracker
	accessLog   access.LogRepository
	reporter    IncidentReporter
	metrics     *metrics.Registry
	logger      *zap.Logger
	cfg         config.QuotaConfig
}

// NewService creates the access request evaluator. reporter may be nil when
// incident orchestration is not wired.
func NewService(
	reputations client.ReputationStore,
	rateLimiter cache.RateLimiter,
	volume cache.VolumeTracker,
	accessLog access.LogRepository,
	reporter IncidentReporter,
	reg *metrics.Registry,
	logger *zap.Logger,
	cfg config.QuotaConfig,
) Service {
	return &service{
		reputations: reputations,
		rateLimiter: rateLimiter,
		volume:      volume,
		accessLog:   accessLog,
		reporter:    reporter,
		metrics:     reg,
		logger:      logger,
		cfg:         cfg,
	}
}

// Evaluate runs the rule chain in order: adaptive rate limit, trailing
// volume ceiling, pattern heuristics, then the reputation gate. The first
// failing rule decides; every evaluation is appended to the access log.
func (s *service) Evaluate(ctx context.Context, req *AccessRequest) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "evaluator.evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", req.TenantID),
		attribute.String("client_id", req.ClientID),
	)

	timer := time.Now()
	defer func() {
		s.metrics.EvaluationDuration.WithLabelValues("evaluator").Observe(time.Since(timer).Seconds())
	}()

	if req.TenantID == "" || req.ClientID == "" {
		return nil, errors.NewValidationError("INVALID_REQUEST", "tenant and client IDs are required")
	}

	reputation, err := s.reputations.UpdateAtomic(ctx, req.TenantID, req.ClientID, func(r *client.Reputation) error {
		r.RecordRequest()
		s.maybeApplyCleanDrift(r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Rate ceiling scales down with the client's risk tier.
	ceiling := int(float64(s.cfg.BaseRateCeiling) * reputation.Tier.RateLimitFraction())
	if ceiling < 1 {
		ceiling = 1
	}
	quotaKey := req.TenantID + ":" + req.ClientID
	rate, err := s.rateLimiter.Allow(ctx, quotaKey, ceiling, s.cfg.RateWindow)
	if err != nil {
		return nil, err
	}
	if !rate.Allowed {
		retryAfter := int(math.Ceil(rate.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return s.deny(ctx, req, &Decision{
			Reason:            ReasonRateLimitExceeded,
			RetryAfterSeconds: retryAfter,
			RecommendedAction: ActionBackoff,
		}, client.ViolationRateLimit)
	}

	// The counter tracks bytes actually served, so the ceiling is checked
	// against the running total plus this request and the request is only
	// recorded on the allow path below.
	served, err := s.volume.Total(ctx, quotaKey)
	if err != nil {
		return nil, err
	}
	if served+req.RequestSizeBytes > s.cfg.VolumeCeilingBytes {
		return s.deny(ctx, req, &Decision{
			Reason:            ReasonVolumeLimitExceeded,
			RecommendedAction: ActionReduceVolume,
		}, client.ViolationVolumeLimit)
	}

	suspicious, err := s.detectSuspiciousPattern(ctx, req)
	if err != nil {
		return nil, err
	}
	if suspicious {
		return s.deny(ctx, req, &Decision{
			Reason:            ReasonSuspiciousPattern,
			RecommendedAction: ActionContactReview,
		}, client.ViolationSuspiciousPattern)
	}

	// The reputation gate runs last: a critical-tier client is denied even
	// when every quota check passed. No additional penalty is applied.
	if reputation.IsCritical() {
		decision := &Decision{
			Allowed:           false,
			Reason:            ReasonClientReviewNeeded,
			RecommendedAction: ActionContactReview,
		}
		s.append(ctx, req, access.DecisionDenied, decision.Reason)
		s.metrics.DecisionsTotal.WithLabelValues("evaluator", "denied", decision.Reason).Inc()
		return decision, nil
	}

	// Concurrent admits may overshoot the ceiling by in-flight bytes; the
	// next request settles against the updated total.
	if _, err := s.volume.Add(ctx, quotaKey, req.RequestSizeBytes, s.cfg.VolumeWindow); err != nil {
		return nil, err
	}

	s.append(ctx, req, access.DecisionAllowed, "")
	s.metrics.DecisionsTotal.WithLabelValues("evaluator", "allowed", "").Inc()
	return &Decision{Allowed: true}, nil
}

// UpdateClientReputation applies a severity-weighted penalty atomically.
// Concurrent violations for the same key serialize in the store so none is
// lost.
func (s *service) UpdateClientReputation(ctx context.Context, tenantID, clientID string, violation client.ViolationType) (*client.Reputation, error) {
	reputation, err := s.reputations.UpdateAtomic(ctx, tenantID, clientID, func(r *client.Reputation) error {
		r.ApplyViolation(violation)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ViolationsTotal.WithLabelValues(string(violation)).Inc()
	s.logger.Warn("client reputation penalized",
		zap.String("tenant_id", tenantID),
		zap.String("client_id", clientID),
		zap.String("violation_type", string(violation)),
		zap.Float64("score", reputation.Score),
		zap.String("tier", reputation.Tier.String()))
	return reputation, nil
}

// deny records the violation against the client's reputation, appends the
// denial to the access log, and returns the decision. Repeated violations
// are handed to incident response.
func (s *service) deny(ctx context.Context, req *AccessRequest, decision *Decision, violation client.ViolationType) (*Decision, error) {
	decision.Allowed = false
	reputation, err := s.UpdateClientReputation(ctx, req.TenantID, req.ClientID, violation)
	if err != nil {
		return nil, err
	}
	if reputation.ConsecutiveViolations >= repeatedViolationThreshold {
		s.raiseQuotaIncident(ctx, req, decision.Reason, reputation)
	}
	s.append(ctx, req, access.DecisionDenied, decision.Reason)
	s.metrics.DecisionsTotal.WithLabelValues("evaluator", "denied", decision.Reason).Inc()
	return decision, nil
}

// raiseQuotaIncident escalates a run of quota violations to the incident
// response orchestrator. The denial stands either way; a failed handoff is
// logged, never surfaced to the caller.
func (s *service) raiseQuotaIncident(ctx context.Context, req *AccessRequest, reason string, reputation *client.Reputation) {
	if s.reporter == nil {
		return
	}

	severity := incident.SeverityMedium
	if reputation.IsCritical() {
		severity = incident.SeverityHigh
	}

	_, err := s.reporter.ProcessIncident(ctx, &incidentresponse.IncidentInput{
		TenantID:        req.TenantID,
		ClientID:        req.ClientID,
		UserID:          req.UserID,
		Type:            incident.TypeQuotaAbuse,
		Severity:        severity,
		DetectionSource: "evaluator",
		Evidence: incident.Evidence{Quota: &incident.QuotaViolationEvidence{
			ViolationType: reason,
			WindowCount:   reputation.ConsecutiveViolations,
			ObservedAt:    time.Now(),
		}},
	})
	if err != nil {
		s.logger.Error("quota incident handoff failed",
			zap.String("tenant_id", req.TenantID),
			zap.String("client_id", req.ClientID),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

// detectSuspiciousPattern runs exfiltration heuristics over the trailing
// pattern window: bulk enumeration across users, and machine-regular
// request timing.
func (s *service) detectSuspiciousPattern(ctx context.Context, req *AccessRequest) (bool, error) {
	since := time.Now().Add(-s.cfg.PatternWindow)
	stats, err := s.accessLog.WindowStats(ctx, req.TenantID, req.ClientID, since)
	if err != nil {
		return false, err
	}
	if stats.RequestCount < s.cfg.EnumerationMinRequests {
		return false, nil
	}

	// Bulk enumeration: nearly every request in the window targets a
	// different user.
	userRatio := float64(stats.DistinctUserCount) / float64(stats.RequestCount)
	if userRatio >= s.cfg.EnumerationUserRatio {
		s.logger.Warn("bulk enumeration pattern detected",
			zap.String("tenant_id", req.TenantID),
			zap.String("client_id", req.ClientID),
			zap.Float64("user_ratio", userRatio),
			zap.Int("request_count", stats.RequestCount))
		return true, nil
	}

	// Scripted harvest: inter-request intervals too regular for a human.
	if cv, ok := intervalVariation(stats.Timestamps); ok && cv < s.cfg.TimingRegularityCV {
		s.logger.Warn("scripted timing pattern detected",
			zap.String("tenant_id", req.TenantID),
			zap.String("client_id", req.ClientID),
			zap.Float64("coefficient_of_variation", cv))
		return true, nil
	}
	return false, nil
}

// maybeApplyCleanDrift rewards a sustained violation-free period with a
// bounded positive score adjustment.
func (s *service) maybeApplyCleanDrift(r *client.Reputation) {
	last := r.LastCleanDriftAt
	if r.LastViolationAt != nil && r.LastViolationAt.After(last) {
		last = *r.LastViolationAt
	}
	r.ApplyCleanInterval(time.Since(last), s.cfg.CleanInterval)
}

func (s *service) append(ctx context.Context, req *AccessRequest, decision access.Decision, reason string) {
	entry := access.NewLogEntry(req.TenantID, req.ClientID, req.UserID, req.DataCategory, req.RequestSizeBytes, decision, reason)
	entry.IPAddress = req.IPAddress
	entry.UserAgent = req.UserAgent
	if err := s.accessLog.Append(ctx, entry); err != nil {
		// The decision stands; a lost log entry only weakens pattern
		// detection for this window.
		s.logger.Error("access log append failed",
			zap.String("tenant_id", req.TenantID),
			zap.String("client_id", req.ClientID),
			zap.Error(err))
	}
}

// intervalVariation returns the coefficient of variation of inter-request
// intervals. Needs at least three timestamps to be meaningful.
func intervalVariation(timestamps []time.Time) (float64, bool) {
	if len(timestamps) < 3 {
		return 0, false
	}

	intervals := make([]float64, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		intervals = append(intervals, timestamps[i].Sub(timestamps[i-1]).Seconds())
	}

	var sum float64
	for _, v := range intervals {
		sum += v
	}
	mean := sum / float64(len(intervals))
	if mean <= 0 {
		return 0, false
	}

	var variance float64
	for _, v := range intervals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(intervals))

	return math.Sqrt(variance) / mean, true
}
