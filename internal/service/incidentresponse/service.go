package incidentresponse

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/edushield/access-gateway/internal/domain/access"
	"github.com/edushield/access-gateway/internal/domain/client"
	"github.com/edushield/access-gateway/internal/domain/consent"
	"github.com/edushield/access-gateway/internal/domain/errors"
	"github.com/edushield/access-gateway/internal/domain/incident"
	"github.com/edushield/access-gateway/internal/infrastructure/audit"
	"github.com/edushield/access-gateway/internal/infrastructure/config"
	"github.com/edushield/access-gateway/internal/metrics"
	"github.com/edushield/access-gateway/internal/service/consentgate"
)

var tracer = otel.Tracer("github.com/edushield/access-gateway/internal/service/incidentresponse")

type service struct {
	incidents   incident.Repository
	sessions    access.SessionStore
	reputations client.ReputationStore
	revoker     ConsentRevoker
	publisher   *audit.Publisher
	metrics     *metrics.Registry
	logger      *zap.Logger
	cfg         config.IncidentConfig
}

// NewService creates the incident response orchestrator. revoker may be nil
// when emergency consent revocation is not wired.
func NewService(
	incidents incident.Repository,
	sessions access.SessionStore,
	reputations client.ReputationStore,
	revoker ConsentRevoker,
	publisher *audit.Publisher,
	reg *metrics.Registry,
	logger *zap.Logger,
	cfg config.IncidentConfig,
) Service {
	return &service{
		incidents:   incidents,
		sessions:    sessions,
		reputations: reputations,
		revoker:     revoker,
		publisher:   publisher,
		metrics:     reg,
		logger:      logger,
		cfg:         cfg,
	}
}

// ProcessIncident persists the incident and walks the response ladder:
// enhanced monitoring at low severity, plus review flagging and quota
// tightening at medium, plus forensics and escalation at high, hard
// isolation at critical. Incidents never auto-close; every one carries a
// review deadline.
func (s *service) ProcessIncident(ctx context.Context, input *IncidentInput) (*IncidentResponse, error) {
	ctx, span := tracer.Start(ctx, "incidentresponse.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", input.TenantID),
		attribute.String("client_id", input.ClientID),
		attribute.String("severity", input.Severity.String()),
	)

	inc, err := incident.New(input.TenantID, input.ClientID, input.UserID,
		input.Type, input.Severity, input.DetectionSource, input.Evidence)
	if err != nil {
		return nil, err
	}

	response := &IncidentResponse{
		IncidentID:         inc.ID.String(),
		Severity:           inc.Severity,
		NextReviewRequired: inc.NextReviewAt,
	}

	switch inc.Severity {
	case incident.SeverityLow:
		inc.RecordAction(incident.ActionEnhancedMonitoring)

	case incident.SeverityMedium:
		inc.RecordAction(incident.ActionEnhancedMonitoring)
		inc.RecordAction(incident.ActionFlagForReview)
		if err := s.tightenQuotas(ctx, input, inc); err != nil {
			return nil, err
		}

	case incident.SeverityHigh:
		inc.RecordAction(incident.ActionEnhancedMonitoring)
		s.captureForensics(inc, response)
		if err := s.tightenQuotas(ctx, input, inc); err != nil {
			return nil, err
		}
		s.escalate(inc, response)

	case incident.SeverityCritical:
		s.captureForensics(inc, response)
		isolation, err := s.IsolateClient(ctx, input.TenantID, input.ClientID, IsolationHard, string(input.Type))
		if err != nil {
			// The failed attempt has already been re-raised as its own
			// incident; still persist and escalate this one.
			s.logger.Error("hard isolation failed during incident response",
				zap.String("incident_id", inc.ID.String()),
				zap.Error(err))
		} else {
			inc.RecordAction(incident.ActionClientIsolation)
			response.IsolationApplied = true
			response.SessionsTerminated = isolation.SessionsTerminated
		}
		if input.Type == incident.TypeConsentViolation {
			s.emergencyRevocation(ctx, input, inc)
		}
		s.escalate(inc, response)
	}

	if err := s.incidents.Save(ctx, inc); err != nil {
		return nil, err
	}
	s.metrics.IncidentsTotal.WithLabelValues(inc.Severity.String()).Inc()

	response.ResponseActions = inc.ResponseActions
	s.logger.Info("incident processed",
		zap.String("incident_id", inc.ID.String()),
		zap.String("tenant_id", input.TenantID),
		zap.String("client_id", input.ClientID),
		zap.String("type", string(input.Type)),
		zap.String("severity", inc.Severity.String()),
		zap.Bool("isolated", response.IsolationApplied),
		zap.Bool("escalated", response.EscalationTriggered))
	return response, nil
}

// IsolateClient applies the requested isolation mode, retrying with
// escalating delay. A persistent failure is re-raised as a new high-severity
// incident so it cannot silently disappear.
func (s *service) IsolateClient(ctx context.Context, tenantID, clientID string, mode IsolationMode, reason string) (*IsolationResult, error) {
	var lastErr error
	attempts := s.cfg.IsolationRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := s.isolateOnce(ctx, tenantID, clientID, mode, reason)
		if err == nil {
			return result, nil
		}
		lastErr = err
		s.logger.Warn("isolation attempt failed",
			zap.String("tenant_id", tenantID),
			zap.String("client_id", clientID),
			zap.String("mode", string(mode)),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < attempts {
			select {
			case <-time.After(s.cfg.IsolationRetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = attempts
			}
		}
	}

	s.metrics.IsolationFailures.Inc()
	s.raiseIsolationFailure(ctx, tenantID, clientID, mode, attempts, lastErr)
	return nil, errors.NewIncidentError("ISOLATION_FAILED", "client isolation failed after retries").WithCause(lastErr)
}

// isolateOnce performs one isolation attempt. In hard mode the revocation
// marker goes down before session enumeration, so a session created mid-
// enumeration either sees the marker or is part of the list being
// terminated.
func (s *service) isolateOnce(ctx context.Context, tenantID, clientID string, mode IsolationMode, reason string) (*IsolationResult, error) {
	result := &IsolationResult{Mode: mode}

	if mode == IsolationSoft {
		_, err := s.reputations.UpdateAtomic(ctx, tenantID, clientID, func(r *client.Reputation) error {
			r.ApplyViolation(client.ViolationSuspiciousPattern)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := s.sessions.SetRevocationMarker(ctx, tenantID, clientID, reason); err != nil {
		return nil, err
	}

	sessions, err := s.sessions.ListByClient(ctx, tenantID, clientID)
	if err != nil {
		return nil, err
	}
	for _, session := range sessions {
		did, err := s.sessions.Terminate(ctx, tenantID, session.ID)
		if err != nil {
			return nil, err
		}
		if did {
			result.SessionsTerminated++
			s.metrics.SessionsTerminated.Inc()
		}
	}

	s.publisher.PublishJSON(audit.KindIsolation, tenantID, clientID, "", map[string]interface{}{
		"mode":                mode,
		"reason":              reason,
		"sessions_terminated": result.SessionsTerminated,
	})
	return result, nil
}

// raiseIsolationFailure records a failed isolation as its own high-severity
// incident carrying the original failure as evidence.
func (s *service) raiseIsolationFailure(ctx context.Context, tenantID, clientID string, mode IsolationMode, attempts int, cause error) {
	failureMsg := "unknown failure"
	if cause != nil {
		failureMsg = cause.Error()
	}
	evidence := incident.Evidence{Isolation: &incident.IsolationFailureEvidence{
		Mode:         string(mode),
		FailureError: failureMsg,
		Attempt:      attempts,
		ObservedAt:   time.Now(),
	}}

	inc, err := incident.New(tenantID, clientID, "", incident.TypeIsolationFailure,
		incident.SeverityHigh, "incident_response", evidence)
	if err != nil {
		s.logger.Error("failed to build isolation-failure incident", zap.Error(err))
		return
	}
	inc.Escalate()

	if err := s.incidents.Save(ctx, inc); err != nil {
		s.logger.Error("failed to persist isolation-failure incident",
			zap.String("tenant_id", tenantID),
			zap.String("client_id", clientID),
			zap.Error(err))
	}
	s.metrics.IncidentsTotal.WithLabelValues(inc.Severity.String()).Inc()
	s.publisher.PublishJSON(audit.KindSecurityIncident, tenantID, clientID, "", inc)
}

// tightenQuotas degrades the client's reputation so tier-scaled ceilings
// shrink on the next evaluation.
func (s *service) tightenQuotas(ctx context.Context, input *IncidentInput, inc *incident.SecurityIncident) error {
	_, err := s.reputations.UpdateAtomic(ctx, input.TenantID, input.ClientID, func(r *client.Reputation) error {
		r.ApplyViolation(client.ViolationSuspiciousPattern)
		return nil
	})
	if err != nil {
		return err
	}
	inc.RecordAction(incident.ActionQuotaTightening)
	return nil
}

func (s *service) captureForensics(inc *incident.SecurityIncident, response *IncidentResponse) {
	// Evidence is already attached to the durable incident record; the
	// action marks that it was captured at detection time, before any state
	// the attacker could alter.
	inc.RecordAction(incident.ActionForensicsCapture)
	response.ForensicsCaptured = true
}

func (s *service) escalate(inc *incident.SecurityIncident, response *IncidentResponse) {
	inc.Escalate()
	response.EscalationTriggered = true
	s.publisher.PublishJSON(audit.KindSecurityIncident, inc.TenantID, inc.ClientID, inc.UserID, inc)
}

// emergencyRevocation withdraws the affected user's consent when a critical
// consent violation implicates their data.
func (s *service) emergencyRevocation(ctx context.Context, input *IncidentInput, inc *incident.SecurityIncident) {
	if s.revoker == nil || input.UserID == "" {
		return
	}
	result, err := s.revoker.ProcessRevocation(ctx, &consentgate.RevocationRequest{
		TenantID: input.TenantID,
		UserID:   input.UserID,
		Type:     string(consent.RevocationSystemEmergency),
	})
	if err != nil {
		s.logger.Error("emergency consent revocation failed",
			zap.String("tenant_id", input.TenantID),
			zap.String("user_id", input.UserID),
			zap.Error(err))
		return
	}
	inc.RecordAction(incident.ActionEmergencyRevocation)
	s.logger.Info("emergency consent revocation applied",
		zap.String("revocation_id", result.RevocationID),
		zap.Int("sessions_terminated", result.SessionsTerminated))
}
