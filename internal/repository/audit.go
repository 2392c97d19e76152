package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/opensource-finance/fiscal/internal/domain"
)

// ListExecutionLogs returns audit entries. Entries of one evaluation come in
// evaluation order; otherwise newest first.
func (r *SQLRepository) ListExecutionLogs(ctx context.Context, tenantID string, filter domain.LogFilter) ([]*domain.RuleExecutionLog, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	w := &where{}
	w.add("tenant_id = ?", tenantID)
	if filter.EntityID != "" {
		w.add("entity_id = ?", filter.EntityID)
	}
	if filter.RuleID > 0 {
		w.add("rule_id = ?", filter.RuleID)
	}
	order := "id DESC"
	if filter.EvaluationID != "" {
		w.add("evaluation_id = ?", filter.EvaluationID)
		order = "sequence ASC"
	}

	query := `
		SELECT id, tenant_id, evaluation_id, sequence, rule_id, rule_name,
			   entity_type, entity_id, rule_matched, actions_applied, executed_at
		FROM rule_execution_logs
		WHERE ` + w.String() + `
		ORDER BY ` + order + `
		LIMIT ?
	`

	args := append(w.args, limitOrDefault(filter.Limit))
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.RuleExecutionLog
	for rows.Next() {
		var entry domain.RuleExecutionLog
		var matched, applied int

		if err := rows.Scan(
			&entry.ID, &entry.TenantID, &entry.EvaluationID, &entry.Sequence, &entry.RuleID, &entry.RuleName,
			&entry.EntityType, &entry.EntityID, &matched, &applied, &entry.ExecutedAt,
		); err != nil {
			return nil, err
		}

		entry.RuleMatched = matched == 1
		entry.ActionsApplied = applied == 1
		logs = append(logs, &entry)
	}

	return logs, rows.Err()
}

// ListSuggestions returns suggestions, errors first, newest first within a severity.
func (r *SQLRepository) ListSuggestions(ctx context.Context, tenantID string, filter domain.SuggestionFilter) ([]*domain.ComplianceSuggestion, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	w := &where{}
	w.add("tenant_id = ?", tenantID)
	if filter.Resolved != nil {
		w.add("resolved = ?", boolInt(*filter.Resolved))
	}
	if filter.Severity != "" {
		w.add("severity = ?", string(filter.Severity))
	}
	if filter.SuggestionType != "" {
		w.add("suggestion_type = ?", filter.SuggestionType)
	}
	if filter.EntityID != "" {
		w.add("entity_id = ?", filter.EntityID)
	}

	query := `
		SELECT id, tenant_id, evaluation_id, severity, suggestion_type, title,
			   description, suggested_action, entity_type, entity_id,
			   created_at, resolved, resolved_at
		FROM compliance_suggestions
		WHERE ` + w.String() + `
		ORDER BY CASE severity WHEN 'error' THEN 0 WHEN 'warning' THEN 1 ELSE 2 END,
			created_at DESC, id
		LIMIT ?
	`

	args := append(w.args, limitOrDefault(filter.Limit))
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var suggestions []*domain.ComplianceSuggestion
	for rows.Next() {
		var s domain.ComplianceSuggestion
		var severity string
		var resolved int
		var resolvedAt sql.NullTime

		if err := rows.Scan(
			&s.ID, &s.TenantID, &s.EvaluationID, &severity, &s.SuggestionType, &s.Title,
			&s.Description, &s.SuggestedAction, &s.EntityType, &s.EntityID,
			&s.CreatedAt, &resolved, &resolvedAt,
		); err != nil {
			return nil, err
		}

		s.Severity = domain.Severity(severity)
		s.Resolved = resolved == 1
		if resolvedAt.Valid {
			t := resolvedAt.Time
			s.ResolvedAt = &t
		}
		suggestions = append(suggestions, &s)
	}

	return suggestions, rows.Err()
}

// ResolveSuggestion marks a suggestion as handled by the user.
func (r *SQLRepository) ResolveSuggestion(ctx context.Context, tenantID string, suggestionID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		UPDATE compliance_suggestions
		SET resolved = 1, resolved_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, suggestionID)
	if err != nil {
		return err
	}
	return expectRow(result)
}
