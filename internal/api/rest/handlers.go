package rest

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edushield/access-gateway/internal/domain/consent"
	"github.com/edushield/access-gateway/internal/domain/errors"
	"github.com/edushield/access-gateway/internal/domain/incident"
	"github.com/edushield/access-gateway/internal/service/anomaly"
	"github.com/edushield/access-gateway/internal/service/consentgate"
	"github.com/edushield/access-gateway/internal/service/evaluator"
	"github.com/edushield/access-gateway/internal/service/incidentresponse"
)

// Handlers exposes the pipeline services over HTTP.
type Handlers struct {
	consentGate consentgate.Service
	evaluator   evaluator.Service
	anomaly     anomaly.Service
	incidents   incidentresponse.Service
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(
	consentGate consentgate.Service,
	eval evaluator.Service,
	detector anomaly.Service,
	incidents incidentresponse.Service,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		consentGate: consentGate,
		evaluator:   eval,
		anomaly:     detector,
		incidents:   incidents,
		validate:    validator.New(),
		logger:      logger,
	}
}

// RegisterRoutes wires the endpoints onto the mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/access/validate", h.validateAccess)
	mux.HandleFunc("POST /api/v1/sessions", h.issueSession)
	mux.HandleFunc("POST /api/v1/sessions/verify", h.verifySession)
	mux.HandleFunc("POST /api/v1/consent/revoke", h.revokeConsent)
	mux.HandleFunc("POST /api/v1/access/evaluate", h.evaluateAccess)
	mux.HandleFunc("POST /api/v1/anomaly/analyze", h.analyzeSignal)
	mux.HandleFunc("POST /api/v1/incidents", h.reportIncident)
	mux.HandleFunc("POST /api/v1/clients/isolate", h.isolateClient)
	mux.HandleFunc("GET /health", h.health)
}

func (h *Handlers) validateAccess(w http.ResponseWriter, r *http.Request) {
	var req ValidateAccessRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.consentGate.ValidateAccess(r.Context(), &consentgate.ValidationRequest{
		TenantID:        req.TenantID,
		UserID:          req.UserID,
		ClientID:        req.ClientID,
		RequestedScopes: req.RequestedScopes,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) issueSession(w http.ResponseWriter, r *http.Request) {
	var req IssueSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.consentGate.IssueSession(r.Context(), &consentgate.SessionRequest{
		TenantID:          req.TenantID,
		UserID:            req.UserID,
		ClientID:          req.ClientID,
		RequestedScopes:   req.RequestedScopes,
		RequestedDuration: time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if !result.Issued {
		status = http.StatusForbidden
	}
	h.writeJSON(w, status, result)
}

func (h *Handlers) verifySession(w http.ResponseWriter, r *http.Request) {
	var req VerifySessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.consentGate.VerifySession(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) revokeConsent(w http.ResponseWriter, r *http.Request) {
	var req RevokeConsentRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.consentGate.ProcessRevocation(r.Context(), &consentgate.RevocationRequest{
		TenantID: req.TenantID,
		UserID:   req.UserID,
		Type:     req.Type,
		Scopes:   req.Scopes,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) evaluateAccess(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !h.decode(w, r, &req) {
		return
	}

	decision, err := h.evaluator.Evaluate(r.Context(), &evaluator.AccessRequest{
		TenantID:         req.TenantID,
		ClientID:         req.ClientID,
		UserID:           req.UserID,
		DataCategory:     consent.DataCategory(req.DataCategory),
		RequestSizeBytes: req.RequestSizeBytes,
		IPAddress:        req.IPAddress,
		UserAgent:        req.UserAgent,
	})
	if err != nil {
		// Evaluation failures deny: the caller sees a denial, not an open
		// gate.
		h.logger.Error("evaluation failed, denying", zap.Error(err))
		h.writeJSON(w, errors.GetStatusCode(err), &evaluator.Decision{
			Allowed:           false,
			Reason:            "evaluation_unavailable",
			RecommendedAction: evaluator.ActionBackoff,
		})
		return
	}
	h.writeJSON(w, http.StatusOK, decision)
}

func (h *Handlers) analyzeSignal(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.anomaly.Analyze(r.Context(), &anomaly.Signal{
		TenantID:         req.TenantID,
		ClientID:         req.ClientID,
		UserID:           req.UserID,
		DataCategory:     consent.DataCategory(req.DataCategory),
		RequestSizeBytes: req.RequestSizeBytes,
		Timestamp:        time.Now(),
		IPAddress:        req.IPAddress,
		UserAgent:        req.UserAgent,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) reportIncident(w http.ResponseWriter, r *http.Request) {
	var req ReportIncidentRequest
	if !h.decode(w, r, &req) {
		return
	}

	evidence, err := decodeEvidence(req.Evidence)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response, err := h.incidents.ProcessIncident(r.Context(), &incidentresponse.IncidentInput{
		TenantID:        req.TenantID,
		ClientID:        req.ClientID,
		UserID:          req.UserID,
		Type:            incident.Type(req.Type),
		Severity:        incident.Severity(req.Severity),
		DetectionSource: req.DetectionSource,
		Evidence:        evidence,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, response)
}

func (h *Handlers) isolateClient(w http.ResponseWriter, r *http.Request) {
	var req IsolateClientRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.incidents.IsolateClient(r.Context(), req.TenantID, req.ClientID,
		incidentresponse.IsolationMode(req.Mode), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// decode parses and validates the request body. Reports false after writing
// the error response.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		h.writeError(w, errors.NewValidationError("MALFORMED_BODY", "request body is not valid JSON"))
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		h.writeError(w, errors.NewValidationError("INVALID_REQUEST", err.Error()))
		return false
	}
	return true
}

func decodeEvidence(payload evidencePayload) (incident.Evidence, error) {
	if payload.Kind == "" {
		return incident.Evidence{}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return incident.Evidence{}, errors.NewValidationError("INVALID_EVIDENCE", "evidence payload is not serializable")
	}
	var evidence incident.Evidence
	if err := json.Unmarshal(raw, &evidence); err != nil {
		return incident.Evidence{}, errors.NewValidationError("INVALID_EVIDENCE", "evidence payload is malformed")
	}
	return evidence, nil
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := errors.GetStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}

	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.NewInternalError("internal error")
	}
	h.writeJSON(w, status, map[string]interface{}{"error": appErr})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("response encoding failed", zap.Error(err))
	}
}
