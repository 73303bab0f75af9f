package client

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReputation(t *testing.T) {
	rep, err := NewReputation("district-1", "client-1")
	require.NoError(t, err)
	assert.Equal(t, InitialScore, rep.Score)
	assert.Equal(t, TierMedium, rep.Tier)
	assert.Equal(t, int64(1), rep.Version)

	_, err = NewReputation("", "client-1")
	assert.Error(t, err)
}

func TestReputation_ApplyViolation(t *testing.T) {
	tests := []struct {
		name      string
		violation ViolationType
		wantScore float64
		wantTier  RiskTier
	}{
		{"rate limit", ViolationRateLimit, 65, TierMedium},
		{"volume limit", ViolationVolumeLimit, 62, TierMedium},
		{"suspicious pattern", ViolationSuspiciousPattern, 55, TierMedium},
		{"consent breach", ViolationConsentBreach, 45, TierHigh},
		{"isolation bypass", ViolationIsolationBypass, 30, TierHigh},
		{"unknown type gets base penalty", ViolationType("made_up"), 65, TierMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := NewReputation("district-1", "client-1")
			require.NoError(t, err)

			rep.ApplyViolation(tt.violation)
			assert.Equal(t, tt.wantScore, rep.Score)
			assert.Equal(t, tt.wantTier, rep.Tier)
			assert.Equal(t, int64(1), rep.ViolationCount)
			assert.Equal(t, 1, rep.ConsecutiveViolations)
			assert.NotNil(t, rep.LastViolationAt)
		})
	}
}

func TestReputation_ConsecutiveViolationsForceCritical(t *testing.T) {
	rep, err := NewReputation("district-1", "client-1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		rep.ApplyViolation(ViolationRateLimit)
	}
	// 70 - 5*5 = 45 would be high tier by score, but five consecutive
	// violations force critical.
	assert.Equal(t, 45.0, rep.Score)
	assert.Equal(t, TierCritical, rep.Tier)
	assert.True(t, rep.IsCritical())
}

func TestReputation_CleanIntervalDrift(t *testing.T) {
	rep, err := NewReputation("district-1", "client-1")
	require.NoError(t, err)
	rep.ApplyViolation(ViolationConsentBreach)
	require.Equal(t, 45.0, rep.Score)

	// Not enough clean time.
	assert.False(t, rep.ApplyCleanInterval(30*time.Minute, time.Hour))
	assert.Equal(t, 45.0, rep.Score)

	assert.True(t, rep.ApplyCleanInterval(2*time.Hour, time.Hour))
	assert.Equal(t, 47.0, rep.Score)
	assert.Equal(t, 0, rep.ConsecutiveViolations)
}

func TestReputation_ScoreStaysClampedUnderAnySequence(t *testing.T) {
	violations := []ViolationType{
		ViolationRateLimit, ViolationVolumeLimit, ViolationSuspiciousPattern,
		ViolationConsentBreach, ViolationIsolationBypass,
	}
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		rep, err := NewReputation("district-1", "client-1")
		require.NoError(t, err)

		for step := 0; step < 200; step++ {
			if rng.Intn(3) == 0 {
				rep.ApplyCleanInterval(2*time.Hour, time.Hour)
			} else {
				rep.ApplyViolation(violations[rng.Intn(len(violations))])
			}
			require.GreaterOrEqual(t, rep.Score, MinScore,
				"score fell below floor at trial %d step %d", trial, step)
			require.LessOrEqual(t, rep.Score, MaxScore,
				"score exceeded ceiling at trial %d step %d", trial, step)
		}
	}
}

func TestRiskTier_RateLimitFraction(t *testing.T) {
	assert.Equal(t, 1.0, TierLow.RateLimitFraction())
	assert.Equal(t, 0.75, TierMedium.RateLimitFraction())
	assert.Equal(t, 0.5, TierHigh.RateLimitFraction())
	assert.Equal(t, 0.1, TierCritical.RateLimitFraction())
}

func TestRegistryEntry_MayRequestScope(t *testing.T) {
	unrestricted := &RegistryEntry{ClientID: "client-1", Status: StatusApproved}
	assert.True(t, unrestricted.MayRequestScope("anything.read"))

	restricted := &RegistryEntry{
		ClientID:         "client-2",
		Status:           StatusApproved,
		AuthorizedScopes: []string{"profile.basic.read"},
	}
	assert.True(t, restricted.MayRequestScope("profile.basic.read"))
	assert.False(t, restricted.MayRequestScope("chat.interactions.read"))

	suspended := &RegistryEntry{ClientID: "client-3", Status: StatusSuspended}
	assert.False(t, suspended.IsApproved())
}
