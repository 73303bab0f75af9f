package consent

import (
	"fmt"

	"github.com/edushield/access-gateway/internal/domain/errors"
)

// SensitivityTier ranks how sensitive the data behind a scope is. Higher
// tiers require stronger session encryption.
type SensitivityTier int

const (
	TierPublic SensitivityTier = iota
	TierInternal
	TierSensitive
	TierRestricted
)

// String returns the string representation of the sensitivity tier
func (t SensitivityTier) String() string {
	switch t {
	case TierPublic:
		return "public"
	case TierInternal:
		return "internal"
	case TierSensitive:
		return "sensitive"
	case TierRestricted:
		return "restricted"
	default:
		return "unknown"
	}
}

// ScopeDefinition is a catalog entry for one named scope. The catalog is
// reference data: entries are effectively immutable once registered.
type ScopeDefinition struct {
	Name                    string
	Category                DataCategory
	Sensitivity             SensitivityTier
	RequiresExplicitConsent bool
	RequiresParentalConsent bool
	RealTimeAccessAllowed   bool
}

// Catalog resolves scope names to their definitions. Unknown names resolve
// to nothing so callers fail closed.
type Catalog struct {
	byName map[string]ScopeDefinition
}

// NewCatalog builds a catalog from the given definitions.
func NewCatalog(defs []ScopeDefinition) (*Catalog, error) {
	byName := make(map[string]ScopeDefinition, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, errors.NewValidationError("INVALID_SCOPE", "scope name is required")
		}
		if _, dup := byName[d.Name]; dup {
			return nil, errors.NewConflictError(fmt.Sprintf("duplicate scope definition: %s", d.Name))
		}
		byName[d.Name] = d
	}
	return &Catalog{byName: byName}, nil
}

// Resolve looks up a scope definition by name.
func (c *Catalog) Resolve(name string) (ScopeDefinition, bool) {
	def, ok := c.byName[name]
	return def, ok
}

// Names returns all registered scope names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for n := range c.byName {
		names = append(names, n)
	}
	return names
}

// DefaultCatalog returns the built-in scope catalog for learner data.
func DefaultCatalog() *Catalog {
	catalog, _ := NewCatalog([]ScopeDefinition{
		{
			Name:                    "profile.basic.read",
			Category:                CategoryProfileBasics,
			Sensitivity:             TierInternal,
			RequiresExplicitConsent: true,
			RealTimeAccessAllowed:   true,
		},
		{
			Name:                    "behavioral.timing.read",
			Category:                CategoryBehavioralTiming,
			Sensitivity:             TierSensitive,
			RequiresExplicitConsent: true,
			RequiresParentalConsent: true,
			RealTimeAccessAllowed:   true,
		},
		{
			Name:                    "assessment.patterns.read",
			Category:                CategoryAssessmentPatterns,
			Sensitivity:             TierSensitive,
			RequiresExplicitConsent: true,
			RequiresParentalConsent: true,
			RealTimeAccessAllowed:   false,
		},
		{
			Name:                    "chat.interactions.read",
			Category:                CategoryChatInteractions,
			Sensitivity:             TierRestricted,
			RequiresExplicitConsent: true,
			RequiresParentalConsent: true,
			RealTimeAccessAllowed:   false,
		},
		{
			Name:                    "crosscourse.correlation.read",
			Category:                CategoryCrossCourse,
			Sensitivity:             TierRestricted,
			RequiresExplicitConsent: true,
			RequiresParentalConsent: true,
			RealTimeAccessAllowed:   false,
		},
	})
	return catalog
}
