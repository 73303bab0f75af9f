package incidentresponse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edushield/access-gateway/internal/domain/access"
	"github.com/edushield/access-gateway/internal/domain/client"
	"github.com/edushield/access-gateway/internal/domain/errors"
	"github.com/edushield/access-gateway/internal/domain/incident"
	"github.com/edushield/access-gateway/internal/infrastructure/audit"
	"github.com/edushield/access-gateway/internal/infrastructure/config"
	"github.com/edushield/access-gateway/internal/metrics"
	"github.com/edushield/access-gateway/internal/service/consentgate"
)

// fakeSessionStore tracks the isolation marker and live sessions, and
// records the order of marker and enumeration calls.
type fakeSessionStore struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]*access.Session
	revoked   map[string]bool
	callOrder []string

	failMarker bool
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[uuid.UUID]*access.Session),
		revoked:  make(map[string]bool),
	}
}

func (s *fakeSessionStore) add(session *access.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

func (s *fakeSessionStore) Create(ctx context.Context, session *access.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[session.TenantID+":"+session.ClientID] {
		return errors.ErrClientIsolated
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *fakeSessionStore) Get(ctx context.Context, tenantID string, sessionID uuid.UUID) (*access.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	return session, nil
}

func (s *fakeSessionStore) ListByClient(ctx context.Context, tenantID, clientID string) ([]*access.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callOrder = append(s.callOrder, "list")
	var out []*access.Session
	for _, session := range s.sessions {
		if session.ClientID == clientID && session.IsActive(time.Now()) {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *fakeSessionStore) ListByUser(ctx context.Context, tenantID, userID string) ([]*access.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*access.Session
	for _, session := range s.sessions {
		if session.UserID == userID && session.IsActive(time.Now()) {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *fakeSessionStore) Terminate(ctx context.Context, tenantID string, sessionID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false, nil
	}
	return session.Terminate(), nil
}

func (s *fakeSessionStore) SetRevocationMarker(ctx context.Context, tenantID, clientID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMarker {
		return errors.NewInternalError("marker write failed")
	}
	s.callOrder = append(s.callOrder, "marker")
	s.revoked[tenantID+":"+clientID] = true
	return nil
}

func (s *fakeSessionStore) ClearRevocationMarker(ctx context.Context, tenantID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.revoked, tenantID+":"+clientID)
	return nil
}

func (s *fakeSessionStore) IsRevoked(ctx context.Context, tenantID, clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked[tenantID+":"+clientID], nil
}

type fakeReputationStore struct {
	mu   sync.Mutex
	reps map[string]*client.Reputation
}

func newFakeReputationStore() *fakeReputationStore {
	return &fakeReputationStore{reps: make(map[string]*client.Reputation)}
}

func (s *fakeReputationStore) Get(ctx context.Context, tenantID, clientID string) (*client.Reputation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.reps[tenantID+":"+clientID]
	if !ok {
		return nil, errors.ErrReputationNotFound
	}
	cp := *rep
	return &cp, nil
}

func (s *fakeReputationStore) UpdateAtomic(ctx context.Context, tenantID, clientID string, fn func(*client.Reputation) error) (*client.Reputation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.reps[tenantID+":"+clientID]
	if !ok {
		var err error
		rep, err = client.NewReputation(tenantID, clientID)
		if err != nil {
			return nil, err
		}
		s.reps[tenantID+":"+clientID] = rep
	}
	if err := fn(rep); err != nil {
		return nil, err
	}
	cp := *rep
	return &cp, nil
}

type fakeIncidentRepo struct {
	mu    sync.Mutex
	saved []*incident.SecurityIncident
}

func (r *fakeIncidentRepo) Save(ctx context.Context, inc *incident.SecurityIncident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, inc)
	return nil
}

func (r *fakeIncidentRepo) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*incident.SecurityIncident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inc := range r.saved {
		if inc.ID == id {
			return inc, nil
		}
	}
	return nil, errors.ErrIncidentNotFound
}

func (r *fakeIncidentRepo) ListOpenByClient(ctx context.Context, tenantID, clientID string) ([]*incident.SecurityIncident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*incident.SecurityIncident
	for _, inc := range r.saved {
		if inc.ClientID == clientID && inc.Status != incident.StatusClosed {
			out = append(out, inc)
		}
	}
	return out, nil
}

type fixture struct {
	incidents *fakeIncidentRepo
	sessions  *fakeSessionStore
	reps      *fakeReputationStore
	svc       Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		incidents: &fakeIncidentRepo{},
		sessions:  newFakeSessionStore(),
		reps:      newFakeReputationStore(),
	}
	reg := metrics.NewRegistry()
	publisher := audit.NewPublisher(zap.NewNop(), audit.NopSink{}, reg, 64, time.Second)
	t.Cleanup(publisher.Close)

	f.svc = NewService(f.incidents, f.sessions, f.reps, nil, publisher, reg, zap.NewNop(),
		config.IncidentConfig{
			IsolationRetries:    3,
			IsolationRetryDelay: time.Millisecond,
		})
	return f
}

func liveSession(t *testing.T, clientID, userID string) *access.Session {
	t.Helper()
	session, err := access.NewSession("district-1", clientID, userID,
		[]string{"profile.basic.read"}, 1, access.EncryptionStandard, time.Hour)
	require.NoError(t, err)
	return session
}

func TestIsolateClient_HardTerminatesExactlyTheLiveSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sessions.add(liveSession(t, "tutor-1", "student-1"))
	f.sessions.add(liveSession(t, "tutor-1", "student-2"))
	f.sessions.add(liveSession(t, "tutor-1", "student-3"))
	f.sessions.add(liveSession(t, "other-client", "student-1"))

	result, err := f.svc.IsolateClient(ctx, "district-1", "tutor-1", IsolationHard, "systematic_harvest")
	require.NoError(t, err)

	assert.Equal(t, 3, result.SessionsTerminated)

	// Marker goes down before session enumeration.
	require.GreaterOrEqual(t, len(f.sessions.callOrder), 2)
	assert.Equal(t, "marker", f.sessions.callOrder[0])
	assert.Equal(t, "list", f.sessions.callOrder[1])

	// New sessions for the isolated client are refused; other clients are
	// unaffected.
	err = f.sessions.Create(ctx, liveSession(t, "tutor-1", "student-9"))
	assert.ErrorIs(t, err, errors.ErrClientIsolated)
	assert.NoError(t, f.sessions.Create(ctx, liveSession(t, "other-client", "student-9")))
}

func TestIsolateClient_SecondCallTerminatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sessions.add(liveSession(t, "tutor-1", "student-1"))
	f.sessions.add(liveSession(t, "tutor-1", "student-2"))

	first, err := f.svc.IsolateClient(ctx, "district-1", "tutor-1", IsolationHard, "quota_abuse")
	require.NoError(t, err)
	assert.Equal(t, 2, first.SessionsTerminated)

	second, err := f.svc.IsolateClient(ctx, "district-1", "tutor-1", IsolationHard, "quota_abuse")
	require.NoError(t, err)
	assert.Equal(t, 0, second.SessionsTerminated)
}

func TestIsolateClient_SoftDegradesReputationWithoutTermination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := liveSession(t, "tutor-1", "student-1")
	f.sessions.add(session)

	result, err := f.svc.IsolateClient(ctx, "district-1", "tutor-1", IsolationSoft, "anomalous_behavior")
	require.NoError(t, err)

	assert.Equal(t, 0, result.SessionsTerminated)
	assert.True(t, session.IsActive(time.Now()))

	rep, err := f.reps.Get(ctx, "district-1", "tutor-1")
	require.NoError(t, err)
	assert.Less(t, rep.Score, client.InitialScore)

	revoked, err := f.sessions.IsRevoked(ctx, "district-1", "tutor-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestIsolateClient_PersistentFailureRaisesHighSeverityIncident(t *testing.T) {
	f := newFixture(t)
	f.sessions.failMarker = true
	ctx := context.Background()

	_, err := f.svc.IsolateClient(ctx, "district-1", "tutor-1", IsolationHard, "systematic_harvest")
	require.Error(t, err)

	require.Len(t, f.incidents.saved, 1)
	raised := f.incidents.saved[0]
	assert.Equal(t, incident.TypeIsolationFailure, raised.Type)
	assert.Equal(t, incident.SeverityHigh, raised.Severity)
	assert.True(t, raised.Escalated)
	require.NotNil(t, raised.Evidence.Isolation)
	assert.Equal(t, "hard", raised.Evidence.Isolation.Mode)
	assert.Equal(t, 3, raised.Evidence.Isolation.Attempt)
}

func TestProcessIncident_ResponseLadder(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name           string
		severity       incident.Severity
		wantActions    []incident.ResponseAction
		wantIsolation  bool
		wantForensics  bool
		wantEscalation bool
		wantTerminated int
	}{
		{
			name:        "low gets enhanced monitoring only",
			severity:    incident.SeverityLow,
			wantActions: []incident.ResponseAction{incident.ActionEnhancedMonitoring},
		},
		{
			name:     "medium keeps monitoring, flags for review and tightens quotas",
			severity: incident.SeverityMedium,
			wantActions: []incident.ResponseAction{
				incident.ActionEnhancedMonitoring, incident.ActionFlagForReview, incident.ActionQuotaTightening,
			},
		},
		{
			name:     "high keeps monitoring, captures forensics and escalates",
			severity: incident.SeverityHigh,
			wantActions: []incident.ResponseAction{
				incident.ActionEnhancedMonitoring, incident.ActionForensicsCapture,
				incident.ActionQuotaTightening, incident.ActionEscalation,
			},
			wantForensics:  true,
			wantEscalation: true,
		},
		{
			name:     "critical isolates hard and escalates",
			severity: incident.SeverityCritical,
			wantActions: []incident.ResponseAction{
				incident.ActionForensicsCapture, incident.ActionClientIsolation, incident.ActionEscalation,
			},
			wantIsolation:  true,
			wantForensics:  true,
			wantEscalation: true,
			wantTerminated: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.sessions.add(liveSession(t, "tutor-1", "student-1"))
			f.sessions.add(liveSession(t, "tutor-1", "student-2"))

			response, err := f.svc.ProcessIncident(ctx, &IncidentInput{
				TenantID:        "district-1",
				ClientID:        "tutor-1",
				Type:            incident.TypeQuotaAbuse,
				Severity:        tt.severity,
				DetectionSource: "evaluator",
				Evidence: incident.Evidence{Quota: &incident.QuotaViolationEvidence{
					ViolationType: "rate_limit_exceeded",
					WindowCount:   150,
					Ceiling:       100,
					ObservedAt:    time.Now(),
				}},
			})
			require.NoError(t, err)

			assert.NotEmpty(t, response.IncidentID)
			assert.Equal(t, tt.wantActions, response.ResponseActions)
			assert.Equal(t, tt.wantIsolation, response.IsolationApplied)
			assert.Equal(t, tt.wantForensics, response.ForensicsCaptured)
			assert.Equal(t, tt.wantEscalation, response.EscalationTriggered)
			assert.Equal(t, tt.wantTerminated, response.SessionsTerminated)
			assert.False(t, response.NextReviewRequired.IsZero())

			// Every severity persists a durable, open incident.
			require.Len(t, f.incidents.saved, 1)
			assert.Equal(t, incident.StatusOpen, f.incidents.saved[0].Status)
		})
	}
}

func TestProcessIncident_CriticalConsentViolationTriggersEmergencyRevocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	revoker := &stubRevoker{}
	reg := metrics.NewRegistry()
	publisher := audit.NewPublisher(zap.NewNop(), audit.NopSink{}, reg, 64, time.Second)
	t.Cleanup(publisher.Close)
	svc := NewService(f.incidents, f.sessions, f.reps, revoker, publisher, reg, zap.NewNop(),
		config.IncidentConfig{IsolationRetries: 1, IsolationRetryDelay: time.Millisecond})

	response, err := svc.ProcessIncident(ctx, &IncidentInput{
		TenantID:        "district-1",
		ClientID:        "tutor-1",
		UserID:          "student-1",
		Type:            incident.TypeConsentViolation,
		Severity:        incident.SeverityCritical,
		DetectionSource: "consentgate",
	})
	require.NoError(t, err)

	assert.True(t, response.IsolationApplied)
	require.NotNil(t, revoker.lastRequest)
	assert.Equal(t, "student-1", revoker.lastRequest.UserID)
	assert.Equal(t, "system_emergency", revoker.lastRequest.Type)
	assert.Contains(t, response.ResponseActions, incident.ActionEmergencyRevocation)
}

type stubRevoker struct {
	lastRequest *consentgate.RevocationRequest
}

func (s *stubRevoker) ProcessRevocation(ctx context.Context, req *consentgate.RevocationRequest) (*consentgate.RevocationResult, error) {
	s.lastRequest = req
	return &consentgate.RevocationResult{
		RevocationID:       uuid.New().String(),
		SessionsTerminated: 0,
		RecordVersion:      2,
	}, nil
}
