package consentgate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/edushield/access-gateway/internal/domain/access"
	"github.com/edushield/access-gateway/internal/domain/client"
	"github.com/edushield/access-gateway/internal/domain/consent"
	"github.com/edushield/access-gateway/internal/domain/errors"
	"github.com/edushield/access-gateway/internal/infrastructure/audit"
	"github.com/edushield/access-gateway/internal/infrastructure/auth"
	"github.com/edushield/access-gateway/internal/infrastructure/config"
	"github.com/edushield/access-gateway/internal/metrics"
)

var tracer = otel.Tracer("github.com/edushield/access-gateway/internal/service/consentgate")

// Validation reason codes surfaced to callers.
const (
	ReasonNoPrivacyConsent        = "no_privacy_consent"
	ReasonExternalAIAccess        = "external_ai_access"
	ReasonClientNotApproved       = "client_not_approved"
	ReasonParentalConsentRequired = "parental_consent_required"
	ReasonClientTypeBlocked       = "client_type_blocked"
	ReasonOutsideAllowedHours     = "outside_allowed_hours"
)

type service struct {
	consentRepo consent.Repository
	policyRepo  consent.ParentalPolicyRepository
	registry    client.Registry
	sessions    access.SessionStore
	catalog     *consent.Catalog
	minter      *auth.TokenMinter
	publisher   *audit.Publisher
	metrics     *metrics.Registry
	logger      *zap.Logger
	cfg         config.ConsentConfig
}

// NewService creates the consent gate service.
func NewService(
	consentRepo consent.Repository,
	policyRepo consent.ParentalPolicyRepository,
	registry client.Registry,
	sessions access.SessionStore,
	catalog *consent.Catalog,
	minter *auth.TokenMinter,
	publisher *audit.Publisher,
	reg *metrics.Registry,
	logger *zap.Logger,
	cfg config.ConsentConfig,
) Service {
	return &service{
		consentRepo: consentRepo,
		policyRepo:  policyRepo,
		registry:    registry,
		sessions:    sessions,
		catalog:     catalog,
		minter:      minter,
		publisher:   publisher,
		metrics:     reg,
		logger:      logger,
		cfg:         cfg,
	}
}

// ValidateAccess checks requested scopes against the consent record, the
// client registry, and any guardian policy. Store failures other than
// not-found propagate as errors so callers deny.
func (s *service) ValidateAccess(ctx context.Context, req *ValidationRequest) (*ValidationResult, error) {
	ctx, span := tracer.Start(ctx, "consentgate.validate")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", req.TenantID),
		attribute.String("client_id", req.ClientID),
	)

	// Consent lookups must answer inside the decision budget; a store that
	// stalls past it fails closed at the caller.
	if s.cfg.DecisionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DecisionTimeout)
		defer cancel()
	}

	timer := time.Now()
	defer func() {
		s.metrics.EvaluationDuration.WithLabelValues("consentgate").Observe(time.Since(timer).Seconds())
	}()

	if req.TenantID == "" || req.UserID == "" || req.ClientID == "" {
		return nil, errors.NewValidationError("INVALID_REQUEST", "tenant, user, and client IDs are required")
	}
	if len(req.RequestedScopes) == 0 {
		return nil, errors.NewValidationError("NO_SCOPES", "at least one scope must be requested")
	}

	record, err := s.consentRepo.GetCurrent(ctx, req.TenantID, req.UserID)
	if err != nil {
		if errors.IsNotFound(err) {
			return s.denyAll(req, ReasonNoPrivacyConsent, 0), nil
		}
		return nil, err
	}

	if !record.ExternalAIAccessConsent {
		// The top-level flag overrides every category-level grant.
		return s.denyAll(req, ReasonExternalAIAccess, record.Version), nil
	}

	entry, err := s.registry.GetClient(ctx, req.TenantID, req.ClientID)
	if err != nil {
		if errors.IsNotFound(err) {
			return s.denyAll(req, ReasonClientNotApproved, record.Version), nil
		}
		return nil, err
	}
	if !entry.IsApproved() {
		return s.denyAll(req, ReasonClientNotApproved, record.Version), nil
	}

	result := &ValidationResult{ConsentVersion: record.Version}

	var policy *consent.ParentalControlPolicy
	if record.ParentalConsentRequired {
		policy, err = s.policyRepo.GetByUser(ctx, req.TenantID, req.UserID)
		if err != nil && !errors.IsNotFound(err) {
			return nil, err
		}
		result.SessionLimitsEnforced = policy != nil

		// A minor without guardian sign-off gets nothing.
		if policy == nil || !policy.ExternalAIAccessAllowed {
			result.ParentalApprovalRequired = true
			return s.denyAllInto(result, req, ReasonParentalConsentRequired), nil
		}
		if !policy.AllowsClientType(entry.ClientType) {
			return s.denyAllInto(result, req, ReasonClientTypeBlocked), nil
		}
		if !policy.AllowsAccessAt(time.Now()) {
			return s.denyAllInto(result, req, ReasonOutsideAllowedHours), nil
		}
	}

	for _, name := range req.RequestedScopes {
		def, known := s.catalog.Resolve(name)
		if !known {
			// Unknown scope names fail closed.
			result.MissingConsents = append(result.MissingConsents, name)
			continue
		}
		if !entry.MayRequestScope(name) {
			result.Violations = append(result.Violations, ScopeViolation{Scope: name, Reason: ReasonClientNotApproved})
			continue
		}
		if !record.HasScope(name) || !record.AllowsCategory(def.Category) {
			result.MissingConsents = append(result.MissingConsents, name)
			continue
		}
		if def.RequiresParentalConsent && record.ParentalConsentRequired && !record.ParentalConsentGranted {
			result.ParentalApprovalRequired = true
			result.Violations = append(result.Violations, ScopeViolation{Scope: name, Reason: ReasonParentalConsentRequired})
			continue
		}
		result.AllowedScopes = append(result.AllowedScopes, name)
	}

	result.Allowed = len(result.AllowedScopes) > 0
	s.recordOutcome(req, result)
	return result, nil
}

// IssueSession validates access and commits a session with a signed token
// for the granted scopes.
func (s *service) IssueSession(ctx context.Context, req *SessionRequest) (*SessionResult, error) {
	validation, err := s.ValidateAccess(ctx, &ValidationRequest{
		TenantID:        req.TenantID,
		UserID:          req.UserID,
		ClientID:        req.ClientID,
		RequestedScopes: req.RequestedScopes,
	})
	if err != nil {
		return nil, err
	}
	if !validation.Allowed {
		return &SessionResult{Issued: false, Validation: validation}, nil
	}

	ttl := req.RequestedDuration
	if ttl <= 0 {
		ttl = s.cfg.SessionTTL
	}
	if validation.SessionLimitsEnforced {
		policy, err := s.policyRepo.GetByUser(ctx, req.TenantID, req.UserID)
		if err != nil && !errors.IsNotFound(err) {
			return nil, err
		}
		if policy != nil {
			ttl = policy.ClampSessionDuration(ttl)
		}
	}

	session, err := access.NewSession(
		req.TenantID, req.ClientID, req.UserID,
		validation.AllowedScopes, validation.ConsentVersion,
		s.encryptionTier(validation.AllowedScopes), ttl,
	)
	if err != nil {
		return nil, err
	}

	token, err := s.minter.Mint(session)
	if err != nil {
		return nil, errors.NewInternalError("failed to mint session token").WithCause(err)
	}
	session.Token = token

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("session issued",
		zap.String("tenant_id", req.TenantID),
		zap.String("client_id", req.ClientID),
		zap.String("session_id", session.ID.String()),
		zap.Strings("scopes", session.GrantedScopes),
		zap.String("encryption_tier", string(session.Encryption)))

	return &SessionResult{
		Issued:     true,
		SessionID:  session.ID.String(),
		Token:      token,
		Encryption: string(session.Encryption),
		ExpiresAt:  session.ExpiresAt,
		Validation: validation,
	}, nil
}

// VerifySession introspects a presented session token. A token that fails
// signature or claim validation yields an inactive result, not an error;
// errors mean the store could not answer and callers must deny.
func (s *service) VerifySession(ctx context.Context, token string) (*VerificationResult, error) {
	claims, err := s.minter.Parse(token)
	if err != nil {
		s.logger.Debug("session token rejected", zap.Error(err))
		return &VerificationResult{Active: false}, nil
	}

	sessionID, err := uuid.Parse(claims.ID)
	if err != nil {
		return &VerificationResult{Active: false}, nil
	}

	session, err := s.sessions.Get(ctx, claims.TenantID, sessionID)
	if err != nil {
		if errors.IsNotFound(err) {
			return &VerificationResult{Active: false}, nil
		}
		return nil, err
	}
	if !session.IsActive(time.Now()) {
		return &VerificationResult{Active: false}, nil
	}

	revoked, err := s.sessions.IsRevoked(ctx, claims.TenantID, claims.ClientID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return &VerificationResult{Active: false}, nil
	}

	return &VerificationResult{
		Active:        true,
		SessionID:     claims.ID,
		TenantID:      claims.TenantID,
		ClientID:      claims.ClientID,
		UserID:        claims.UserID,
		GrantedScopes: claims.GrantedScopes,
		Encryption:    claims.Encryption,
		ExpiresAt:     session.ExpiresAt,
	}, nil
}

// ProcessRevocation writes a superseding consent version and terminates
// matching sessions before returning. There is no asynchronous window: when
// this returns, terminated sessions are gone from the store.
func (s *service) ProcessRevocation(ctx context.Context, req *RevocationRequest) (*RevocationResult, error) {
	revocationType := consent.RevocationType(req.Type)

	record, err := s.consentRepo.GetCurrent(ctx, req.TenantID, req.UserID)
	if err != nil {
		return nil, err
	}

	next, err := record.Revoke(revocationType, req.Scopes)
	if err != nil {
		return nil, err
	}
	if err := s.consentRepo.Save(ctx, next); err != nil {
		return nil, err
	}

	terminated, err := s.terminateMatching(ctx, req, revocationType)
	if err != nil {
		// The superseding version is committed; surface the partial failure
		// so the caller can retry termination.
		return nil, err
	}

	revocation := consent.NewRevocation(req.TenantID, req.UserID, revocationType, req.Scopes, next.Version)
	revocation.SessionsTerminated = terminated
	if err := s.consentRepo.SaveRevocation(ctx, revocation); err != nil {
		return nil, err
	}

	s.publisher.PublishJSON(audit.KindConsentRevocation, req.TenantID, "", req.UserID, revocation)
	s.logger.Info("consent revoked",
		zap.String("tenant_id", req.TenantID),
		zap.String("user_id", req.UserID),
		zap.String("revocation_type", req.Type),
		zap.Int("sessions_terminated", terminated),
		zap.Int("record_version", next.Version))

	return &RevocationResult{
		RevocationID:       revocation.ID.String(),
		RecordVersion:      next.Version,
		SessionsTerminated: terminated,
		OccurredAt:         revocation.OccurredAt,
	}, nil
}

// terminateMatching ends every live session affected by the revocation.
// Terminal revocation types end all of the user's sessions; scope removal
// ends only sessions referencing a revoked scope.
func (s *service) terminateMatching(ctx context.Context, req *RevocationRequest, revocationType consent.RevocationType) (int, error) {
	sessions, err := s.sessions.ListByUser(ctx, req.TenantID, req.UserID)
	if err != nil {
		return 0, err
	}

	terminated := 0
	for _, session := range sessions {
		if !revocationType.RequiresSynchronousTermination() && !referencesAny(session, req.Scopes) {
			continue
		}
		did, err := s.sessions.Terminate(ctx, req.TenantID, session.ID)
		if err != nil {
			return terminated, err
		}
		if did {
			terminated++
			s.metrics.SessionsTerminated.Inc()
		}
	}
	return terminated, nil
}

func referencesAny(session *access.Session, scopes []string) bool {
	for _, scope := range scopes {
		if session.ReferencesScope(scope) {
			return true
		}
	}
	return false
}

// encryptionTier picks the strongest tier required by any granted scope.
func (s *service) encryptionTier(scopes []string) access.EncryptionTier {
	highest := consent.TierPublic
	for _, name := range scopes {
		if def, ok := s.catalog.Resolve(name); ok && def.Sensitivity > highest {
			highest = def.Sensitivity
		}
	}
	return access.TierForSensitivity(highest)
}

func (s *service) denyAll(req *ValidationRequest, reason string, version int) *ValidationResult {
	return s.denyAllInto(&ValidationResult{ConsentVersion: version}, req, reason)
}

func (s *service) denyAllInto(result *ValidationResult, req *ValidationRequest, reason string) *ValidationResult {
	for _, scope := range req.RequestedScopes {
		result.Violations = append(result.Violations, ScopeViolation{Scope: scope, Reason: reason})
	}
	result.Allowed = false
	result.AllowedScopes = nil
	s.recordOutcome(req, result)
	return result
}

func (s *service) recordOutcome(req *ValidationRequest, result *ValidationResult) {
	outcome := "denied"
	reason := ""
	if result.Allowed {
		outcome = "allowed"
	} else if len(result.Violations) > 0 {
		reason = result.Violations[0].Reason
	} else if len(result.MissingConsents) > 0 {
		reason = "missing_consent"
	}
	s.metrics.DecisionsTotal.WithLabelValues("consentgate", outcome, reason).Inc()

	if !result.Allowed {
		s.logger.Debug("access validation denied",
			zap.String("tenant_id", req.TenantID),
			zap.String("client_id", req.ClientID),
			zap.String("reason", reason),
			zap.Int("missing_consents", len(result.MissingConsents)))
	}
}
