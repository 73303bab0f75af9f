package consent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord(t *testing.T) {
	tests := []struct {
		name     string
		tenantID string
		userID   string
		level    CollectionLevel
		wantErr  bool
	}{
		{"valid minimal", "district-1", "student-1", CollectionMinimal, false},
		{"valid comprehensive", "district-1", "student-1", CollectionComprehensive, false},
		{"missing tenant", "", "student-1", CollectionStandard, true},
		{"missing user", "district-1", "", CollectionStandard, true},
		{"bad level", "district-1", "student-1", CollectionLevel("everything"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := NewRecord(tt.tenantID, tt.userID, tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, rec.Version)
			assert.False(t, rec.ExternalAIAccessConsent)
			assert.Empty(t, rec.ExternalClientScopes)
		})
	}
}

func TestRecord_TopLevelFlagOverridesCategories(t *testing.T) {
	rec, err := NewRecord("district-1", "student-1", CollectionComprehensive)
	require.NoError(t, err)

	// Every category flag set, but the top-level gate stays closed.
	rec.BehavioralTimingConsent = true
	rec.AssessmentPatternsConsent = true
	rec.ChatInteractionsConsent = true
	rec.CrossCourseConsent = true
	rec.ExternalAIAccessConsent = false

	assert.False(t, rec.AllowsCategory(CategoryProfileBasics))

	rec.ExternalAIAccessConsent = true
	assert.True(t, rec.AllowsCategory(CategoryProfileBasics))
	assert.True(t, rec.AllowsCategory(CategoryBehavioralTiming))
	assert.False(t, rec.AllowsCategory(DataCategory("unknown_category")))
}

func TestRecord_GrantAndRevokeScopesRoundTrip(t *testing.T) {
	rec, err := NewRecord("district-1", "student-1", CollectionStandard)
	require.NoError(t, err)

	granted, err := rec.GrantScopes([]string{"profile.basic.read", "behavioral.timing.read"})
	require.NoError(t, err)
	assert.Equal(t, 2, granted.Version)
	assert.True(t, granted.HasScope("profile.basic.read"))
	assert.True(t, granted.HasScope("behavioral.timing.read"))

	// The original version is untouched.
	assert.Equal(t, 1, rec.Version)
	assert.False(t, rec.HasScope("profile.basic.read"))

	revoked, err := granted.Revoke(RevocationScopeRemoval, []string{"behavioral.timing.read"})
	require.NoError(t, err)
	assert.Equal(t, 3, revoked.Version)
	assert.True(t, revoked.HasScope("profile.basic.read"))
	assert.False(t, revoked.HasScope("behavioral.timing.read"))
	assert.Nil(t, revoked.RevokedAt)
}

func TestRecord_TerminalRevocationWithdrawsEverything(t *testing.T) {
	for _, rt := range []RevocationType{RevocationEmergencyStop, RevocationFullWithdrawal, RevocationSystemEmergency} {
		t.Run(string(rt), func(t *testing.T) {
			rec, err := NewRecord("district-1", "student-1", CollectionStandard)
			require.NoError(t, err)
			rec.ExternalAIAccessConsent = true
			rec, err = rec.GrantScopes([]string{"profile.basic.read"})
			require.NoError(t, err)

			revoked, err := rec.Revoke(rt, nil)
			require.NoError(t, err)
			assert.Empty(t, revoked.ExternalClientScopes)
			assert.False(t, revoked.ExternalAIAccessConsent)
			require.NotNil(t, revoked.RevokedAt)
			assert.WithinDuration(t, time.Now(), *revoked.RevokedAt, time.Second)

			// Revoking an already-revoked version conflicts.
			_, err = revoked.Revoke(rt, nil)
			assert.Error(t, err)
		})
	}
}

func TestRevocationType_RequiresSynchronousTermination(t *testing.T) {
	assert.False(t, RevocationScopeRemoval.RequiresSynchronousTermination())
	assert.True(t, RevocationEmergencyStop.RequiresSynchronousTermination())
	assert.True(t, RevocationFullWithdrawal.RequiresSynchronousTermination())
	assert.True(t, RevocationSystemEmergency.RequiresSynchronousTermination())
}

func TestCatalog_UnknownScopeFailsClosed(t *testing.T) {
	catalog := DefaultCatalog()

	_, ok := catalog.Resolve("grades.full.write")
	assert.False(t, ok)

	def, ok := catalog.Resolve("chat.interactions.read")
	require.True(t, ok)
	assert.Equal(t, TierRestricted, def.Sensitivity)
	assert.True(t, def.RequiresParentalConsent)
}

func TestNewCatalog_RejectsDuplicates(t *testing.T) {
	_, err := NewCatalog([]ScopeDefinition{
		{Name: "a.read", Category: CategoryProfileBasics},
		{Name: "a.read", Category: CategoryProfileBasics},
	})
	assert.Error(t, err)
}
