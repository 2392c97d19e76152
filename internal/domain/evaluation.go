package domain

import (
	"time"
)

// EngineVersion is stamped on every evaluation.
const EngineVersion = "1.0.0"

// Evaluation represents one complete classification run for a transaction.
type Evaluation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	TxID      string    `json:"txId"`
	Timestamp time.Time `json:"timestamp"`

	Classification ClassificationResult   `json:"classification"`
	Logs           []RuleExecutionLog     `json:"logs"`
	Suggestions    []ComplianceSuggestion `json:"suggestions"`

	// Processing metadata
	Metadata EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	RulesMatched   int    `json:"rulesMatched"`
	RulesApplied   int    `json:"rulesApplied"`
	RulesMs        int64  `json:"rulesMs"`
	TotalMs        int64  `json:"totalMs"`
	DryRun         bool   `json:"dryRun,omitempty"`
	EngineVersion  string `json:"engineVersion"`
}

// Outcome labels for metrics and responses.
const (
	OutcomeClassified   = "classified"
	OutcomeUnclassified = "unclassified"
)

// Outcome reports whether any rule contributed to the classification.
func (e *Evaluation) Outcome() string {
	if e.Classification.Matched() {
		return OutcomeClassified
	}
	return OutcomeUnclassified
}

// HasErrors reports whether any suggestion has error severity.
func (e *Evaluation) HasErrors() bool {
	for _, s := range e.Suggestions {
		if s.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ClassificationRequested is the payload published on TopicTransactionIngested.
type ClassificationRequested struct {
	TxID     string `json:"txId"`
	TenantID string `json:"tenantId"`
	TraceID  string `json:"traceId,omitempty"`
}

// BatchReport summarizes a bulk re-classification. Failures are isolated
// per transaction.
type BatchReport struct {
	Requested int               `json:"requested"`
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
	TotalMs   int64             `json:"totalMs"`
}
