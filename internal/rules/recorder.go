package rules

import (
	"time"

	"github.com/opensource-finance/fiscal/internal/domain"
)

// Record builds one audit entry. It has no side effects; persisting the
// entry is up to the caller.
func Record(ruleID int64, ruleName string, ref domain.EntityRef, matched, actionsApplied bool) domain.RuleExecutionLog {
	return domain.RuleExecutionLog{
		RuleID:         ruleID,
		RuleName:       ruleName,
		EntityType:     ref.Type,
		EntityID:       ref.ID,
		RuleMatched:    matched,
		ActionsApplied: actionsApplied,
		ExecutedAt:     time.Now().UTC(),
	}
}
