package incident

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvidence_TypedRoundTrip(t *testing.T) {
	observed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		evidence Evidence
		wantKind string
	}{
		{
			name: "quota violation",
			evidence: Evidence{Quota: &QuotaViolationEvidence{
				ViolationType: "rate_limit_exceeded",
				WindowCount:   150,
				Ceiling:       100,
				ObservedAt:    observed,
			}},
			wantKind: "quota_violation",
		},
		{
			name: "anomaly finding",
			evidence: Evidence{Anomaly: &AnomalyFindingEvidence{
				Patterns:           []string{"systematic_enumeration"},
				BaselineConfidence: 0.8,
				ObservationCount:   400,
				ObservedAt:         observed,
			}},
			wantKind: "anomaly_finding",
		},
		{
			name: "isolation failure",
			evidence: Evidence{Isolation: &IsolationFailureEvidence{
				Mode:         "hard",
				FailureError: "session store unavailable",
				Attempt:      3,
				ObservedAt:   observed,
			}},
			wantKind: "isolation_failure",
		},
		{
			name: "consent revocation",
			evidence: Evidence{Revocation: &RevocationEvidence{
				RevocationID:       "rev-1",
				RevocationType:     "system_emergency",
				SessionsTerminated: 2,
				ObservedAt:         observed,
			}},
			wantKind: "consent_revocation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKind, tt.evidence.Kind())

			raw, err := json.Marshal(tt.evidence)
			require.NoError(t, err)

			var decoded Evidence
			require.NoError(t, json.Unmarshal(raw, &decoded))
			assert.Equal(t, tt.evidence, decoded)
		})
	}
}

func TestEvidence_UnknownKindPreservedAsOpaque(t *testing.T) {
	wire := []byte(`{"kind":"future_detector_v9","payload":{"novel_field":42}}`)

	var decoded Evidence
	require.NoError(t, json.Unmarshal(wire, &decoded))
	assert.Equal(t, "future_detector_v9", decoded.Kind())
	assert.JSONEq(t, `{"novel_field":42}`, string(decoded.Opaque))

	// Round-trips without losing the unknown payload.
	raw, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(wire), string(raw))
}

func TestNew_ReviewDeadlineScalesWithSeverity(t *testing.T) {
	evidence := OpaqueEvidence("manual_report", json.RawMessage(`{}`))

	critical, err := New("district-1", "client-1", "", TypeSystematicHarvest, SeverityCritical, "manual", evidence)
	require.NoError(t, err)
	low, err := New("district-1", "client-1", "", TypeQuotaAbuse, SeverityLow, "manual", evidence)
	require.NoError(t, err)

	assert.True(t, critical.NextReviewAt.Before(low.NextReviewAt))
	assert.Equal(t, StatusOpen, critical.Status)

	_, err = New("district-1", "client-1", "", TypeQuotaAbuse, Severity("apocalyptic"), "manual", evidence)
	assert.Error(t, err)
}

func TestSecurityIncident_CloseRequiresReviewer(t *testing.T) {
	inc, err := New("district-1", "client-1", "", TypeQuotaAbuse, SeverityMedium, "evaluator", Evidence{})
	require.NoError(t, err)

	assert.Error(t, inc.Close(""))
	require.NoError(t, inc.Close("analyst-7"))
	assert.Equal(t, StatusClosed, inc.Status)
	assert.NotNil(t, inc.ClosedAt)

	// Already closed.
	assert.Error(t, inc.Close("analyst-7"))
}
