package domain

import (
	"strings"
	"time"
)

// Severity ranks a compliance suggestion.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ParseSeverity normalizes user input. "blocking" is an alias of error.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "blocking":
		return SeverityError, true
	case "warning", "warn":
		return SeverityWarning, true
	case "info":
		return SeverityInfo, true
	}
	return "", false
}

// Rank orders severities for display: errors first.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// ComplianceSuggestion is an advisory record raised after classification.
// Resolved is flipped by the user; the engine never reads it.
type ComplianceSuggestion struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenantId"`
	EvaluationID    string     `json:"evaluationId,omitempty"`
	Severity        Severity   `json:"severity"`
	SuggestionType  string     `json:"suggestionType"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	SuggestedAction string     `json:"suggestedAction,omitempty"`
	EntityType      string     `json:"entityType"`
	EntityID        string     `json:"entityId"`
	CreatedAt       time.Time  `json:"createdAt"`
	Resolved        bool       `json:"resolved"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
}

// SuggestionFilter narrows suggestion listings. Nil and empty fields are ignored.
type SuggestionFilter struct {
	Resolved       *bool
	Severity       Severity
	SuggestionType string
	EntityID       string
	Limit          int
}
