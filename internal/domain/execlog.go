package domain

import "time"

// RuleExecutionLog is one append-only audit entry: a single rule evaluated
// against a single entity.
type RuleExecutionLog struct {
	ID             int64     `json:"id,omitempty"`
	TenantID       string    `json:"tenantId,omitempty"`
	EvaluationID   string    `json:"evaluationId,omitempty"`
	Sequence       int       `json:"sequence"`
	RuleID         int64     `json:"ruleId"`
	RuleName       string    `json:"ruleName"`
	EntityType     string    `json:"entityType"`
	EntityID       string    `json:"entityId"`
	RuleMatched    bool      `json:"ruleMatched"`
	ActionsApplied bool      `json:"actionsApplied"`
	ExecutedAt     time.Time `json:"executedAt"`
}

// LogFilter narrows audit log listings.
type LogFilter struct {
	EntityID     string
	RuleID       int64
	EvaluationID string
	Limit        int
}
