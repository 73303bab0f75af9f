package anomaly

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edushield/access-gateway/internal/domain/access"
	"github.com/edushield/access-gateway/internal/domain/incident"
	"github.com/edushield/access-gateway/internal/infrastructure/config"
	"github.com/edushield/access-gateway/internal/metrics"
	"github.com/edushield/access-gateway/internal/service/incidentresponse"
)

type fakeAccessLog struct {
	mu         sync.Mutex
	stats      *access.WindowStats
	violations map[string][]string
}

func (l *fakeAccessLog) Append(ctx context.Context, entry *access.LogEntry) error { return nil }

func (l *fakeAccessLog) WindowStats(ctx context.Context, tenantID, clientID string, since time.Time) (*access.WindowStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stats != nil {
		return l.stats, nil
	}
	return &access.WindowStats{}, nil
}

func (l *fakeAccessLog) RecentViolations(ctx context.Context, tenantID string, since time.Time) (map[string][]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.violations != nil {
		return l.violations, nil
	}
	return map[string][]string{}, nil
}

type fakeIncidentReporter struct {
	mu     sync.Mutex
	inputs []*incidentresponse.IncidentInput
}

func (r *fakeIncidentReporter) ProcessIncident(ctx context.Context, input *incidentresponse.IncidentInput) (*incidentresponse.IncidentResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, input)
	return &incidentresponse.IncidentResponse{}, nil
}

func (r *fakeIncidentReporter) received() []*incidentresponse.IncidentInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*incidentresponse.IncidentInput(nil), r.inputs...)
}

func anomalyConfig() config.AnomalyConfig {
	return config.AnomalyConfig{
		ShortHorizon:          10 * time.Minute,
		EnumerationPairRatio:  0.9,
		CorrelationWindow:     15 * time.Minute,
		CorrelationMinClients: 3,
		EvasionIPThreshold:    5,
		EvasionUAThreshold:    4,
		ConfidenceFloor:       0.3,
		BaselineDecay:         0.98,
	}
}

func baseSignal() *Signal {
	return &Signal{
		TenantID:         "district-1",
		ClientID:         "tutor-1",
		UserID:           "student-1",
		RequestSizeBytes: 2048,
		Timestamp:        time.Now(),
		IPAddress:        "10.0.0.1",
		UserAgent:        "tutor-agent/1.0",
	}
}

func TestAnalyze_QuietTrafficIsNotAnomalous(t *testing.T) {
	svc := NewService(&fakeAccessLog{}, nil, metrics.NewRegistry(), zap.NewNop(), anomalyConfig())

	report, err := svc.Analyze(context.Background(), baseSignal())
	require.NoError(t, err)

	assert.False(t, report.IsAnomalous)
	assert.False(t, report.IsCritical)
	assert.Empty(t, report.DetectedPatterns)
}

func TestAnalyze_SystematicEnumerationIsAlwaysCritical(t *testing.T) {
	// One observation means near-zero baseline confidence, yet enumeration
	// must still fire.
	log := &fakeAccessLog{stats: &access.WindowStats{
		RequestCount:      100,
		DistinctUserCount: 95,
		DistinctPairCount: 95,
	}}
	svc := NewService(log, nil, metrics.NewRegistry(), zap.NewNop(), anomalyConfig())

	report, err := svc.Analyze(context.Background(), baseSignal())
	require.NoError(t, err)

	assert.True(t, report.IsAnomalous)
	assert.True(t, report.IsCritical)
	assert.Contains(t, report.DetectedPatterns, PatternSystematicEnumeration)
	assert.Less(t, report.BaselineConfidence, 0.3)
}

func TestAnalyze_OffHoursSuppressedBelowConfidenceFloor(t *testing.T) {
	log := &fakeAccessLog{stats: &access.WindowStats{RequestCount: 50}}
	svc := NewService(log, nil, metrics.NewRegistry(), zap.NewNop(), anomalyConfig())
	ctx := context.Background()

	// A cold baseline sees bulk traffic at an unusual hour but stays quiet.
	report, err := svc.Analyze(ctx, baseSignal())
	require.NoError(t, err)
	assert.NotContains(t, report.DetectedPatterns, PatternOffHoursBulkAccess)

	// Establish daytime-only history, then observe bulk traffic at 03:00.
	daytime := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		signal := baseSignal()
		signal.Timestamp = daytime.Add(time.Duration(i) * time.Minute)
		_, err := svc.Analyze(ctx, signal)
		require.NoError(t, err)
	}

	night := baseSignal()
	night.Timestamp = time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC)
	report, err = svc.Analyze(ctx, night)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, report.BaselineConfidence, 0.3)
	assert.Contains(t, report.DetectedPatterns, PatternOffHoursBulkAccess)
	assert.False(t, report.IsCritical)
}

func TestAnalyze_CoordinatedAttackAcrossClients(t *testing.T) {
	log := &fakeAccessLog{violations: map[string][]string{
		"tutor-1":  {"rate_limit_exceeded"},
		"tutor-2":  {"rate_limit_exceeded"},
		"tutor-3":  {"rate_limit_exceeded"},
		"helper-9": {"volume_limit_exceeded"},
	}}
	svc := NewService(log, nil, metrics.NewRegistry(), zap.NewNop(), anomalyConfig())

	report, err := svc.Analyze(context.Background(), baseSignal())
	require.NoError(t, err)
	assert.Contains(t, report.DetectedPatterns, PatternCoordinatedAttack)

	// A client not sharing the common violation type is not implicated.
	lone := baseSignal()
	lone.ClientID = "helper-9"
	report, err = svc.Analyze(context.Background(), lone)
	require.NoError(t, err)
	assert.NotContains(t, report.DetectedPatterns, PatternCoordinatedAttack)
}

func TestAnalyze_EvasionByRotatingSourceIdentity(t *testing.T) {
	svc := NewService(&fakeAccessLog{}, nil, metrics.NewRegistry(), zap.NewNop(), anomalyConfig())
	ctx := context.Background()

	var report *Report
	var err error
	for i := 0; i < 6; i++ {
		signal := baseSignal()
		signal.IPAddress = fmt.Sprintf("10.0.0.%d", i+1)
		report, err = svc.Analyze(ctx, signal)
		require.NoError(t, err)
	}

	assert.Contains(t, report.DetectedPatterns, PatternEvasionTechniques)
}

func TestAnalyze_CriticalFindingsReachIncidentResponse(t *testing.T) {
	log := &fakeAccessLog{stats: &access.WindowStats{
		RequestCount:      100,
		DistinctUserCount: 95,
		DistinctPairCount: 95,
	}}
	reporter := &fakeIncidentReporter{}
	svc := NewService(log, reporter, metrics.NewRegistry(), zap.NewNop(), anomalyConfig())

	report, err := svc.Analyze(context.Background(), baseSignal())
	require.NoError(t, err)
	require.True(t, report.IsCritical)

	inputs := reporter.received()
	require.Len(t, inputs, 1)
	assert.Equal(t, incident.TypeSystematicHarvest, inputs[0].Type)
	assert.Equal(t, incident.SeverityCritical, inputs[0].Severity)
	assert.Equal(t, "district-1", inputs[0].TenantID)
	assert.Equal(t, "tutor-1", inputs[0].ClientID)
	assert.Equal(t, "anomaly_detector", inputs[0].DetectionSource)
	require.NotNil(t, inputs[0].Evidence.Anomaly)
	assert.Contains(t, inputs[0].Evidence.Anomaly.Patterns, PatternSystematicEnumeration)
}

func TestAnalyze_CoordinationReachesIncidentResponse(t *testing.T) {
	log := &fakeAccessLog{violations: map[string][]string{
		"tutor-1": {"rate_limit_exceeded"},
		"tutor-2": {"rate_limit_exceeded"},
		"tutor-3": {"rate_limit_exceeded"},
	}}
	reporter := &fakeIncidentReporter{}
	svc := NewService(log, reporter, metrics.NewRegistry(), zap.NewNop(), anomalyConfig())

	report, err := svc.Analyze(context.Background(), baseSignal())
	require.NoError(t, err)
	require.Contains(t, report.DetectedPatterns, PatternCoordinatedAttack)

	inputs := reporter.received()
	require.Len(t, inputs, 1)
	assert.Equal(t, incident.TypeCoordinatedAttack, inputs[0].Type)
	assert.Equal(t, incident.SeverityHigh, inputs[0].Severity)
}

func TestAnalyze_SizeDeviationCountsAsBulk(t *testing.T) {
	// The short-horizon request count stays below the bulk threshold; the
	// only bulk evidence is how far the night request sits from the learned
	// size profile.
	log := &fakeAccessLog{stats: &access.WindowStats{RequestCount: 5}}
	svc := NewService(log, nil, metrics.NewRegistry(), zap.NewNop(), anomalyConfig())
	ctx := context.Background()

	// Daytime history with modest size variance around 2 KiB.
	daytime := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		signal := baseSignal()
		signal.RequestSizeBytes = 1800
		if i%2 == 1 {
			signal.RequestSizeBytes = 2300
		}
		signal.Timestamp = daytime.Add(time.Duration(i) * time.Minute)
		report, err := svc.Analyze(ctx, signal)
		require.NoError(t, err)
		require.NotContains(t, report.DetectedPatterns, PatternOffHoursBulkAccess)
	}

	// One 10 MiB pull at 03:00: thousands of standard deviations out.
	night := baseSignal()
	night.RequestSizeBytes = 10 << 20
	night.Timestamp = time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC)
	report, err := svc.Analyze(ctx, night)
	require.NoError(t, err)

	assert.Contains(t, report.DetectedPatterns, PatternOffHoursBulkAccess)
}

func TestBaseline_ConfidenceSaturates(t *testing.T) {
	b := NewBaseline("district-1", "tutor-1")
	assert.Zero(t, b.Confidence())

	now := time.Now()
	for i := 0; i < 50; i++ {
		b.Observe(1024, now.Add(time.Duration(i)*time.Second), 0.98)
	}
	assert.InDelta(t, 0.5, b.Confidence(), 0.01)

	for i := 50; i < 1000; i++ {
		b.Observe(1024, now.Add(time.Duration(i)*time.Second), 0.98)
	}
	assert.Greater(t, b.Confidence(), 0.9)
	assert.Less(t, b.Confidence(), 1.0)
}

func TestBaseline_IntervalDeviationFlagsFastCadence(t *testing.T) {
	b := NewBaseline("district-1", "tutor-1")

	// Human-ish cadence: gaps alternating between 50 and 70 seconds.
	at := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		gap := 50 * time.Second
		if i%2 == 1 {
			gap = 70 * time.Second
		}
		at = at.Add(gap)
		b.Observe(2048, at, 0.98)
	}

	// Sub-second cadence sits far below the learned interval.
	assert.Greater(t, b.IntervalDeviation(0.5), 4.0)
	// Slower than usual is not a harvest signal.
	assert.Zero(t, b.IntervalDeviation(300))
}

func TestBaseline_HourHistogramTracksActivity(t *testing.T) {
	b := NewBaseline("district-1", "tutor-1")
	afternoon := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		b.Observe(1024, afternoon.Add(time.Duration(i)*time.Second), 0.98)
	}

	assert.Greater(t, b.HourShare(15), 0.9)
	assert.Less(t, b.HourShare(3), 0.01)
}
