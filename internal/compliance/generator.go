// Package compliance raises advisory suggestions after a transaction has
// been classified.
package compliance

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/fiscal/internal/domain"
)

// Check inspects a classified transaction and returns a suggestion, or nil
// when there is nothing to report. Checks must be independent of each other.
type Check func(tx *domain.Transaction, c *domain.ClassificationResult) *domain.ComplianceSuggestion

// Generator runs every registered check once per evaluation.
type Generator struct {
	checks []Check
	now    func() time.Time
}

// NewGenerator creates a generator over the given checks.
func NewGenerator(checks ...Check) *Generator {
	return &Generator{
		checks: slices.Clone(checks),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewDefaultGenerator creates a generator with the default SAT checks.
func NewDefaultGenerator(cfg domain.ComplianceConfig) (*Generator, error) {
	checks, err := DefaultChecks(cfg)
	if err != nil {
		return nil, err
	}
	return NewGenerator(checks...), nil
}

// Len returns the number of registered checks.
func (g *Generator) Len() int {
	return len(g.checks)
}

// Generate runs all checks and returns the suggestions they raised, errors
// first, then warnings, then info. Within a severity, registration order is
// kept. The result is never nil.
func (g *Generator) Generate(tx *domain.Transaction, c *domain.ClassificationResult) []domain.ComplianceSuggestion {
	out := make([]domain.ComplianceSuggestion, 0)
	if tx == nil || c == nil {
		return out
	}

	now := g.now()
	ref := tx.Ref()
	for _, check := range g.checks {
		s := check(tx, c)
		if s == nil {
			continue
		}
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		if s.TenantID == "" {
			s.TenantID = tx.TenantID
		}
		if s.EntityType == "" {
			s.EntityType = ref.Type
			s.EntityID = ref.ID
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		s.Resolved = false
		out = append(out, *s)
	}

	slices.SortStableFunc(out, func(a, b domain.ComplianceSuggestion) int {
		return a.Severity.Rank() - b.Severity.Rank()
	})
	return out
}
