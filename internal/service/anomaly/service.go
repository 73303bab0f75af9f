package anomaly

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/edushield/access-gateway/internal/domain/access"
	"github.com/edushield/access-gateway/internal/domain/errors"
	"github.com/edushield/access-gateway/internal/domain/incident"
	"github.com/edushield/access-gateway/internal/infrastructure/config"
	"github.com/edushield/access-gateway/internal/metrics"
	"github.com/edushield/access-gateway/internal/service/incidentresponse"
)

var tracer = otel.Tracer("github.com/edushield/access-gateway/internal/service/anomaly")

const (
	// bulkMinRequests is the minimum short-horizon activity before bulk and
	// enumeration heuristics fire; below it there is not enough signal.
	bulkMinRequests = 20

	// bulkDeviationSigma is the baseline deviation, in standard deviations,
	// at which a single request counts as bulk even when the short-horizon
	// request count alone would not.
	bulkDeviationSigma = 6.0

	// offHoursShareCeiling is the baseline hour-of-day mass below which the
	// current hour counts as off-hours for this client.
	offHoursShareCeiling = 0.02
)

type service struct {
	accessLog access.LogRepository
	reporter  IncidentReporter
	metrics   *metrics.Registry
	logger    *zap.Logger
	cfg       config.AnomalyConfig

	mu        sync.RWMutex
	baselines map[string]*Baseline
	evasion   map[string]*evasionWindow
}

// evasionWindow tracks distinct source identities seen for a client inside
// the correlation window.
type evasionWindow struct {
	ips        map[string]time.Time
	userAgents map[string]time.Time
}

// NewService creates the behavioral anomaly detector. Baselines live in
// memory and rebuild from traffic after a restart; confidence gating keeps
// the cold-start period quiet. reporter may be nil when incident
// orchestration is not wired.
func NewService(accessLog access.LogRepository, reporter IncidentReporter, reg *metrics.Registry, logger *zap.Logger, cfg config.AnomalyConfig) Service {
	return &service{
		accessLog: accessLog,
		reporter:  reporter,
		metrics:   reg,
		logger:    logger,
		cfg:       cfg,
		baselines: make(map[string]*Baseline),
		evasion:   make(map[string]*evasionWindow),
	}
}

// Analyze folds the signal into the client baseline and runs the pattern
// detectors. The report is advisory; callers decide what to do with it.
func (s *service) Analyze(ctx context.Context, signal *Signal) (*Report, error) {
	ctx, span := tracer.Start(ctx, "anomaly.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", signal.TenantID),
		attribute.String("client_id", signal.ClientID),
	)

	timer := time.Now()
	defer func() {
		s.metrics.EvaluationDuration.WithLabelValues("anomaly").Observe(time.Since(timer).Seconds())
	}()

	if signal.TenantID == "" || signal.ClientID == "" {
		return nil, errors.NewValidationError("INVALID_SIGNAL", "tenant and client IDs are required")
	}
	if signal.Timestamp.IsZero() {
		signal.Timestamp = time.Now()
	}

	view := s.observe(signal)

	report := &Report{BaselineConfidence: view.confidence}

	stats, err := s.accessLog.WindowStats(ctx, signal.TenantID, signal.ClientID, signal.Timestamp.Add(-s.cfg.ShortHorizon))
	if err != nil {
		return nil, err
	}

	// Bulk is either many requests in the short horizon, or a single request
	// far outside the learned size or cadence profile.
	bulk := stats.RequestCount >= bulkMinRequests ||
		view.sizeDeviation >= bulkDeviationSigma ||
		view.intervalDeviation >= bulkDeviationSigma

	// Off-hours bulk access needs an established baseline: a fresh profile
	// has no notion of "usual hours", so low confidence suppresses it. All
	// baseline reads happen before this signal folds in, so the signal
	// cannot vouch for its own hour, size, or cadence.
	if view.confidence >= s.cfg.ConfidenceFloor &&
		bulk &&
		view.hourShare < offHoursShareCeiling {
		report.DetectedPatterns = append(report.DetectedPatterns, PatternOffHoursBulkAccess)
	}

	// Systematic enumeration: the window is dominated by distinct
	// (user, category) pairs. Always critical regardless of confidence.
	if stats.RequestCount >= bulkMinRequests {
		pairRatio := float64(stats.DistinctPairCount) / float64(stats.RequestCount)
		if pairRatio >= s.cfg.EnumerationPairRatio {
			report.DetectedPatterns = append(report.DetectedPatterns, PatternSystematicEnumeration)
			report.IsCritical = true
		}
	}

	coordinated, err := s.detectCoordination(ctx, signal)
	if err != nil {
		return nil, err
	}
	if coordinated {
		report.DetectedPatterns = append(report.DetectedPatterns, PatternCoordinatedAttack)
	}

	if s.detectEvasion(signal) {
		report.DetectedPatterns = append(report.DetectedPatterns, PatternEvasionTechniques)
	}

	report.IsAnomalous = len(report.DetectedPatterns) > 0
	if report.IsAnomalous {
		for _, pattern := range report.DetectedPatterns {
			s.metrics.AnomaliesTotal.WithLabelValues(pattern).Inc()
		}
		s.logger.Warn("behavioral anomaly detected",
			zap.String("tenant_id", signal.TenantID),
			zap.String("client_id", signal.ClientID),
			zap.Strings("patterns", report.DetectedPatterns),
			zap.Bool("critical", report.IsCritical),
			zap.Float64("baseline_confidence", view.confidence))
		s.reportFindings(ctx, signal, report)
	}
	return report, nil
}

// reportFindings hands findings severe enough to act on to incident
// response: critical reports and detected cross-client coordination. The
// report stays advisory; a failed handoff is logged, never surfaced.
func (s *service) reportFindings(ctx context.Context, signal *Signal, report *Report) {
	if s.reporter == nil {
		return
	}

	var incidentType incident.Type
	var severity incident.Severity
	switch {
	case report.IsCritical:
		incidentType = incident.TypeSystematicHarvest
		severity = incident.SeverityCritical
	case containsPattern(report.DetectedPatterns, PatternCoordinatedAttack):
		incidentType = incident.TypeCoordinatedAttack
		severity = incident.SeverityHigh
	default:
		return
	}

	_, err := s.reporter.ProcessIncident(ctx, &incidentresponse.IncidentInput{
		TenantID:        signal.TenantID,
		ClientID:        signal.ClientID,
		UserID:          signal.UserID,
		Type:            incidentType,
		Severity:        severity,
		DetectionSource: "anomaly_detector",
		Evidence: incident.Evidence{Anomaly: &incident.AnomalyFindingEvidence{
			Patterns:           report.DetectedPatterns,
			BaselineConfidence: report.BaselineConfidence,
			ObservedAt:         signal.Timestamp,
		}},
	})
	if err != nil {
		s.logger.Error("anomaly incident handoff failed",
			zap.String("tenant_id", signal.TenantID),
			zap.String("client_id", signal.ClientID),
			zap.Strings("patterns", report.DetectedPatterns),
			zap.Error(err))
	}
}

func containsPattern(patterns []string, want string) bool {
	for _, p := range patterns {
		if p == want {
			return true
		}
	}
	return false
}

// baselineView is the pre-update read of a client's baseline taken while a
// signal is folded in.
type baselineView struct {
	confidence        float64
	hourShare         float64
	sizeDeviation     float64
	intervalDeviation float64
}

// observe updates the client's baseline and evasion window under the lock.
// The returned view reflects the baseline as it stood before this signal
// was folded in, except confidence, which counts the new observation.
func (s *service) observe(signal *Signal) baselineView {
	key := signal.TenantID + ":" + signal.ClientID

	s.mu.Lock()
	defer s.mu.Unlock()

	baseline, ok := s.baselines[key]
	if !ok {
		baseline = NewBaseline(signal.TenantID, signal.ClientID)
		s.baselines[key] = baseline
	}

	view := baselineView{
		hourShare:     baseline.HourShare(signal.Timestamp.Hour()),
		sizeDeviation: baseline.SizeDeviation(signal.RequestSizeBytes),
	}
	if !baseline.LastSeen.IsZero() {
		view.intervalDeviation = baseline.IntervalDeviation(signal.Timestamp.Sub(baseline.LastSeen).Seconds())
	}
	baseline.Observe(signal.RequestSizeBytes, signal.Timestamp, s.cfg.BaselineDecay)
	view.confidence = baseline.Confidence()

	window, ok := s.evasion[key]
	if !ok {
		window = &evasionWindow{
			ips:        make(map[string]time.Time),
			userAgents: make(map[string]time.Time),
		}
		s.evasion[key] = window
	}
	cutoff := signal.Timestamp.Add(-s.cfg.CorrelationWindow)
	if signal.IPAddress != "" {
		window.ips[signal.IPAddress] = signal.Timestamp
	}
	if signal.UserAgent != "" {
		window.userAgents[signal.UserAgent] = signal.Timestamp
	}
	pruneBefore(window.ips, cutoff)
	pruneBefore(window.userAgents, cutoff)

	return view
}

// detectCoordination checks whether this client shares a violation type with
// enough other clients inside the correlation window.
func (s *service) detectCoordination(ctx context.Context, signal *Signal) (bool, error) {
	since := signal.Timestamp.Add(-s.cfg.CorrelationWindow)
	violations, err := s.accessLog.RecentViolations(ctx, signal.TenantID, since)
	if err != nil {
		return false, err
	}

	ownReasons, ok := violations[signal.ClientID]
	if !ok {
		return false, nil
	}

	clientsByReason := make(map[string]int)
	for _, reasons := range violations {
		seen := make(map[string]bool)
		for _, reason := range reasons {
			if !seen[reason] {
				clientsByReason[reason]++
				seen[reason] = true
			}
		}
	}

	for _, reason := range ownReasons {
		if clientsByReason[reason] >= s.cfg.CorrelationMinClients {
			return true, nil
		}
	}
	return false, nil
}

// detectEvasion flags a client rotating through source IPs or user agents.
func (s *service) detectEvasion(signal *Signal) bool {
	key := signal.TenantID + ":" + signal.ClientID

	s.mu.RLock()
	defer s.mu.RUnlock()

	window, ok := s.evasion[key]
	if !ok {
		return false
	}
	return len(window.ips) >= s.cfg.EvasionIPThreshold ||
		len(window.userAgents) >= s.cfg.EvasionUAThreshold
}

func pruneBefore(m map[string]time.Time, cutoff time.Time) {
	for k, seen := range m {
		if seen.Before(cutoff) {
			delete(m, k)
		}
	}
}
