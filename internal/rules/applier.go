package rules

import "github.com/opensource-finance/fiscal/internal/domain"

// Apply merges the actions of a matched rule into c.
//
// The first rule to write a field owns it: later rules never overwrite it,
// even when their value differs. An explicit false counts as written.
// Apply reports whether at least one field was newly written, and appends
// the rule to c.AppliedRuleIDs when it was.
func Apply(c *domain.ClassificationResult, rule *domain.RuleDefinition) bool {
	if c == nil || rule == nil {
		return false
	}

	changed := false

	if rule.SetIsIsrDeductible.IsSet() && !c.IsIsrDeductible.IsSet() {
		c.IsIsrDeductible = rule.SetIsIsrDeductible
		c.Sources.IsIsrDeductible = rule.ID
		changed = true
	}

	if rule.SetIsIvaDeductible.IsSet() && !c.IsIvaDeductible.IsSet() {
		c.IsIvaDeductible = rule.SetIsIvaDeductible
		c.Sources.IsIvaDeductible = rule.ID
		changed = true
	}

	// The seeded expense type does not count as written by a rule.
	if rule.SetExpenseType != "" && !c.Sources.ExpenseTypeSet {
		c.ExpenseType = rule.SetExpenseType
		c.Sources.ExpenseType = rule.ID
		c.Sources.ExpenseTypeSet = true
		changed = true
	}

	if changed {
		c.AppliedRuleIDs = append(c.AppliedRuleIDs, rule.ID)
	}
	return changed
}
