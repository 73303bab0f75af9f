package incident

import (
	"encoding/json"
	"fmt"
	"time"
)

// Evidence is a tagged union over the payload shapes detectors attach to
// incidents. Known variants get typed fields consumers can match on; the
// opaque fallback preserves payloads from detectors this version does not
// know about.
type Evidence struct {
	Quota      *QuotaViolationEvidence   `json:"quota,omitempty"`
	Anomaly    *AnomalyFindingEvidence   `json:"anomaly,omitempty"`
	Isolation  *IsolationFailureEvidence `json:"isolation,omitempty"`
	Revocation *RevocationEvidence       `json:"revocation,omitempty"`
	Opaque     json.RawMessage           `json:"opaque,omitempty"`
	OpaqueKind string                    `json:"opaque_kind,omitempty"`
}

// QuotaViolationEvidence captures a rate/volume breach.
type QuotaViolationEvidence struct {
	ViolationType string    `json:"violation_type"`
	WindowCount   int       `json:"window_count"`
	Ceiling       int       `json:"ceiling"`
	WindowBytes   int64     `json:"window_bytes,omitempty"`
	ObservedAt    time.Time `json:"observed_at"`
}

// AnomalyFindingEvidence captures detector output attached to an incident.
type AnomalyFindingEvidence struct {
	Patterns           []string  `json:"patterns"`
	BaselineConfidence float64   `json:"baseline_confidence"`
	ObservationCount   int64     `json:"observation_count"`
	ObservedAt         time.Time `json:"observed_at"`
}

// IsolationFailureEvidence records a failed isolation attempt so the retry
// incident carries the original failure.
type IsolationFailureEvidence struct {
	Mode         string    `json:"mode"`
	FailureError string    `json:"failure_error"`
	Attempt      int       `json:"attempt"`
	ObservedAt   time.Time `json:"observed_at"`
}

// RevocationEvidence records an emergency consent revocation triggered by
// incident response.
type RevocationEvidence struct {
	RevocationID       string    `json:"revocation_id"`
	RevocationType     string    `json:"revocation_type"`
	SessionsTerminated int       `json:"sessions_terminated"`
	ObservedAt         time.Time `json:"observed_at"`
}

// evidenceEnvelope is the wire form: a kind discriminator plus the payload.
type evidenceEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

const (
	kindQuota      = "quota_violation"
	kindAnomaly    = "anomaly_finding"
	kindIsolation  = "isolation_failure"
	kindRevocation = "consent_revocation"
)

// Kind returns the discriminator for the populated variant.
func (e Evidence) Kind() string {
	switch {
	case e.Quota != nil:
		return kindQuota
	case e.Anomaly != nil:
		return kindAnomaly
	case e.Isolation != nil:
		return kindIsolation
	case e.Revocation != nil:
		return kindRevocation
	case e.Opaque != nil:
		return e.OpaqueKind
	default:
		return ""
	}
}

// MarshalJSON encodes the populated variant behind a kind discriminator.
func (e Evidence) MarshalJSON() ([]byte, error) {
	var payload interface{}
	kind := e.Kind()

	switch kind {
	case kindQuota:
		payload = e.Quota
	case kindAnomaly:
		payload = e.Anomaly
	case kindIsolation:
		payload = e.Isolation
	case kindRevocation:
		payload = e.Revocation
	case "":
		return []byte(`{"kind":"","payload":null}`), nil
	default:
		return json.Marshal(evidenceEnvelope{Kind: kind, Payload: e.Opaque})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s evidence: %w", kind, err)
	}
	return json.Marshal(evidenceEnvelope{Kind: kind, Payload: raw})
}

// UnmarshalJSON decodes known kinds into typed variants and preserves
// everything else as opaque payload.
func (e *Evidence) UnmarshalJSON(data []byte) error {
	var env evidenceEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshaling evidence envelope: %w", err)
	}

	*e = Evidence{}
	switch env.Kind {
	case kindQuota:
		e.Quota = &QuotaViolationEvidence{}
		return json.Unmarshal(env.Payload, e.Quota)
	case kindAnomaly:
		e.Anomaly = &AnomalyFindingEvidence{}
		return json.Unmarshal(env.Payload, e.Anomaly)
	case kindIsolation:
		e.Isolation = &IsolationFailureEvidence{}
		return json.Unmarshal(env.Payload, e.Isolation)
	case kindRevocation:
		e.Revocation = &RevocationEvidence{}
		return json.Unmarshal(env.Payload, e.Revocation)
	case "":
		return nil
	default:
		e.Opaque = env.Payload
		e.OpaqueKind = env.Kind
		return nil
	}
}

// OpaqueEvidence wraps an unknown detector payload for forward
// compatibility.
func OpaqueEvidence(kind string, payload json.RawMessage) Evidence {
	return Evidence{Opaque: payload, OpaqueKind: kind}
}
