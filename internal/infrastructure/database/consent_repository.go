package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edushield/access-gateway/internal/domain/consent"
	"github.com/edushield/access-gateway/internal/domain/errors"
)

// ConsentRepository implements consent.Repository. Consent versions are
// append-only: Save always inserts a new row and GetCurrent selects the
// highest committed version.
type ConsentRepository struct {
	db           *pgxpool.Pool
	queryTimeout time.Duration
}

// NewConsentRepository creates a new PostgreSQL consent repository
func NewConsentRepository(db *pgxpool.Pool, queryTimeout time.Duration) *ConsentRepository {
	return &ConsentRepository{db: db, queryTimeout: queryTimeout}
}

// GetCurrent returns the latest committed consent version for a user.
func (r *ConsentRepository) GetCurrent(ctx context.Context, tenantID, userID string) (*consent.Record, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTimeout)
	defer cancel()

	var rec consent.Record
	var scopes []byte
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, user_id,
		       behavioral_timing_consent, assessment_patterns_consent,
		       chat_interactions_consent, cross_course_consent,
		       external_ai_access_consent, collection_level,
		       external_client_scopes, parental_consent_required,
		       parental_consent_granted, version, created_at, updated_at, revoked_at
		FROM consent_records
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY version DESC
		LIMIT 1
	`, tenantID, userID).Scan(
		&rec.ID, &rec.TenantID, &rec.UserID,
		&rec.BehavioralTimingConsent, &rec.AssessmentPatternsConsent,
		&rec.ChatInteractionsConsent, &rec.CrossCourseConsent,
		&rec.ExternalAIAccessConsent, &rec.CollectionLevel,
		&scopes, &rec.ParentalConsentRequired,
		&rec.ParentalConsentGranted, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt, &rec.RevokedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrConsentNotFound
		}
		return nil, errors.NewInternalError("failed to load consent record").WithCause(err)
	}

	if err := json.Unmarshal(scopes, &rec.ExternalClientScopes); err != nil {
		// Malformed stored state fails closed, not open.
		return nil, errors.NewInternalError("malformed stored scope list").WithCause(err)
	}
	return &rec, nil
}

// Save appends a new consent version. The prior version is retained.
func (r *ConsentRepository) Save(ctx context.Context, record *consent.Record) error {
	ctx, cancel := withQueryTimeout(ctx, r.queryTimeout)
	defer cancel()

	scopes, err := json.Marshal(record.ExternalClientScopes)
	if err != nil {
		return errors.NewInternalError("failed to marshal scope list").WithCause(err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO consent_records (
			id, tenant_id, user_id,
			behavioral_timing_consent, assessment_patterns_consent,
			chat_interactions_consent, cross_course_consent,
			external_ai_access_consent, collection_level,
			external_client_scopes, parental_consent_required,
			parental_consent_granted, version, created_at, updated_at, revoked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (tenant_id, user_id, version) DO NOTHING
	`,
		record.ID, record.TenantID, record.UserID,
		record.BehavioralTimingConsent, record.AssessmentPatternsConsent,
		record.ChatInteractionsConsent, record.CrossCourseConsent,
		record.ExternalAIAccessConsent, record.CollectionLevel,
		scopes, record.ParentalConsentRequired,
		record.ParentalConsentGranted, record.Version, record.CreatedAt, record.UpdatedAt, record.RevokedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to save consent version").WithCause(err)
	}
	return nil
}

// SaveRevocation durably records a consent withdrawal.
func (r *ConsentRepository) SaveRevocation(ctx context.Context, revocation *consent.Revocation) error {
	ctx, cancel := withQueryTimeout(ctx, r.queryTimeout)
	defer cancel()

	scopes, err := json.Marshal(revocation.RevokedScopes)
	if err != nil {
		return errors.NewInternalError("failed to marshal revoked scopes").WithCause(err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO consent_revocations (
			id, tenant_id, user_id, revocation_type, revoked_scopes,
			sessions_terminated, record_version, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		revocation.ID, revocation.TenantID, revocation.UserID, revocation.Type,
		scopes, revocation.SessionsTerminated, revocation.RecordVersion, revocation.OccurredAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to save revocation").WithCause(err)
	}
	return nil
}

// ParentalPolicyRepository implements consent.ParentalPolicyRepository.
type ParentalPolicyRepository struct {
	db           *pgxpool.Pool
	queryTimeout time.Duration
}

// NewParentalPolicyRepository creates a new PostgreSQL policy repository
func NewParentalPolicyRepository(db *pgxpool.Pool, queryTimeout time.Duration) *ParentalPolicyRepository {
	return &ParentalPolicyRepository{db: db, queryTimeout: queryTimeout}
}

// GetByUser returns the policy for a minor user, if one exists.
func (r *ParentalPolicyRepository) GetByUser(ctx context.Context, tenantID, userID string) (*consent.ParentalControlPolicy, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTimeout)
	defer cancel()

	var policy consent.ParentalControlPolicy
	var clientTypes, windows []byte
	var maxSessionSeconds int64
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, user_id, guardian_id, external_ai_access_allowed,
		       allowed_client_types, allowed_time_windows, max_session_seconds,
		       notification_preference, guardian_override_enabled, updated_at
		FROM parental_control_policies
		WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID).Scan(
		&policy.ID, &policy.TenantID, &policy.UserID, &policy.GuardianID,
		&policy.ExternalAIAccessAllowed, &clientTypes, &windows,
		&maxSessionSeconds, &policy.Notification, &policy.GuardianOverrideEnabled,
		&policy.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("parental control policy")
		}
		return nil, errors.NewInternalError("failed to load parental policy").WithCause(err)
	}

	if err := json.Unmarshal(clientTypes, &policy.AllowedClientTypes); err != nil {
		return nil, errors.NewInternalError("malformed stored client types").WithCause(err)
	}
	if err := json.Unmarshal(windows, &policy.AllowedTimeWindows); err != nil {
		return nil, errors.NewInternalError("malformed stored time windows").WithCause(err)
	}
	policy.MaxSessionDuration = time.Duration(maxSessionSeconds) * time.Second
	return &policy, nil
}

// Save upserts a guardian policy.
func (r *ParentalPolicyRepository) Save(ctx context.Context, policy *consent.ParentalControlPolicy) error {
	ctx, cancel := withQueryTimeout(ctx, r.queryTimeout)
	defer cancel()

	clientTypes, err := json.Marshal(policy.AllowedClientTypes)
	if err != nil {
		return errors.NewInternalError("failed to marshal client types").WithCause(err)
	}
	windows, err := json.Marshal(policy.AllowedTimeWindows)
	if err != nil {
		return errors.NewInternalError("failed to marshal time windows").WithCause(err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO parental_control_policies (
			id, tenant_id, user_id, guardian_id, external_ai_access_allowed,
			allowed_client_types, allowed_time_windows, max_session_seconds,
			notification_preference, guardian_override_enabled, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET
			guardian_id = EXCLUDED.guardian_id,
			external_ai_access_allowed = EXCLUDED.external_ai_access_allowed,
			allowed_client_types = EXCLUDED.allowed_client_types,
			allowed_time_windows = EXCLUDED.allowed_time_windows,
			max_session_seconds = EXCLUDED.max_session_seconds,
			notification_preference = EXCLUDED.notification_preference,
			guardian_override_enabled = EXCLUDED.guardian_override_enabled,
			updated_at = EXCLUDED.updated_at
	`,
		policy.ID, policy.TenantID, policy.UserID, policy.GuardianID,
		policy.ExternalAIAccessAllowed, clientTypes, windows,
		int64(policy.MaxSessionDuration/time.Second), policy.Notification,
		policy.GuardianOverrideEnabled, policy.UpdatedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to save parental policy").WithCause(err)
	}
	return nil
}
