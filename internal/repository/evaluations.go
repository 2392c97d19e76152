package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/fiscal/internal/domain"
)

// SaveEvaluation persists one classification run in a single SQL transaction:
// the classification is written back onto the transaction row, the
// evaluation and its logs are appended, and the entity's unresolved
// suggestions are replaced by the new ones. Resolved suggestions are kept.
//
// The classified expense type goes to classified_expense_type. expense_type
// stays the transaction's own value, which seeds every later run.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, tenantID string, eval *domain.Evaluation) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if eval == nil || eval.ID == "" || eval.TxID == "" {
		return fmt.Errorf("%w: evaluation id and tx id are required", ErrInvalidInput)
	}

	classification, err := json.Marshal(eval.Classification)
	if err != nil {
		return err
	}
	suggestions, err := json.Marshal(nonNilSuggestions(eval.Suggestions))
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(eval.Metadata)
	if err != nil {
		return err
	}

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	c := eval.Classification
	result, err := dbtx.ExecContext(ctx, r.rebind(`
		UPDATE transactions SET
			is_isr_deductible = ?, is_iva_deductible = ?, classified_expense_type = ?,
			classified_at = ?, last_evaluation_id = ?
		WHERE tenant_id = ? AND id = ?
	`),
		triValue(c.IsIsrDeductible), triValue(c.IsIvaDeductible), string(c.ExpenseType),
		eval.Timestamp, eval.ID,
		tenantID, eval.TxID,
	)
	if err != nil {
		return fmt.Errorf("failed to write back classification: %w", err)
	}
	if err := expectRow(result); err != nil {
		return err
	}

	if _, err := dbtx.ExecContext(ctx, r.rebind(`
		INSERT INTO evaluations (id, tenant_id, tx_id, timestamp, classification, suggestions, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`),
		eval.ID, tenantID, eval.TxID, eval.Timestamp,
		string(classification), string(suggestions), string(metadata),
	); err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}

	if err := r.insertLogs(ctx, dbtx, tenantID, eval); err != nil {
		return err
	}

	if err := r.replaceSuggestions(ctx, dbtx, tenantID, eval); err != nil {
		return err
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit evaluation: %w", err)
	}
	return nil
}

func (r *SQLRepository) insertLogs(ctx context.Context, dbtx *sql.Tx, tenantID string, eval *domain.Evaluation) error {
	if len(eval.Logs) == 0 {
		return nil
	}

	stmt, err := dbtx.PrepareContext(ctx, r.rebind(`
		INSERT INTO rule_execution_logs (
			tenant_id, evaluation_id, sequence, rule_id, rule_name,
			entity_type, entity_id, rule_matched, actions_applied, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare log insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range eval.Logs {
		if _, err := stmt.ExecContext(ctx,
			tenantID, eval.ID, entry.Sequence, entry.RuleID, entry.RuleName,
			entry.EntityType, entry.EntityID, boolInt(entry.RuleMatched), boolInt(entry.ActionsApplied),
			entry.ExecutedAt,
		); err != nil {
			return fmt.Errorf("failed to insert log for rule %d: %w", entry.RuleID, err)
		}
	}
	return nil
}

func (r *SQLRepository) replaceSuggestions(ctx context.Context, dbtx *sql.Tx, tenantID string, eval *domain.Evaluation) error {
	if _, err := dbtx.ExecContext(ctx, r.rebind(`
		DELETE FROM compliance_suggestions
		WHERE tenant_id = ? AND entity_type = ? AND entity_id = ? AND resolved = 0
	`), tenantID, domain.EntityTransaction, eval.TxID); err != nil {
		return fmt.Errorf("failed to clear suggestions: %w", err)
	}

	if len(eval.Suggestions) == 0 {
		return nil
	}

	stmt, err := dbtx.PrepareContext(ctx, r.rebind(`
		INSERT INTO compliance_suggestions (
			id, tenant_id, evaluation_id, severity, suggestion_type, title,
			description, suggested_action, entity_type, entity_id, created_at, resolved
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare suggestion insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range eval.Suggestions {
		if _, err := stmt.ExecContext(ctx,
			s.ID, tenantID, eval.ID, string(s.Severity), s.SuggestionType, s.Title,
			s.Description, s.SuggestedAction, s.EntityType, s.EntityID, s.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert suggestion %s: %w", s.SuggestionType, err)
		}
	}
	return nil
}

// GetEvaluation retrieves an evaluation by ID, including its logs in
// evaluation order, with tenant isolation.
func (r *SQLRepository) GetEvaluation(ctx context.Context, tenantID string, evalID string) (*domain.Evaluation, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, tx_id, timestamp, classification, suggestions, metadata
		FROM evaluations
		WHERE tenant_id = ? AND id = ?
	`

	var eval domain.Evaluation
	var classification, suggestions, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, evalID).Scan(
		&eval.ID, &eval.TenantID, &eval.TxID, &eval.Timestamp,
		&classification, &suggestions, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(classification), &eval.Classification); err != nil {
		return nil, fmt.Errorf("failed to parse classification: %w", err)
	}
	if err := json.Unmarshal([]byte(suggestions), &eval.Suggestions); err != nil {
		return nil, fmt.Errorf("failed to parse suggestions: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &eval.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	logs, err := r.ListExecutionLogs(ctx, tenantID, domain.LogFilter{EvaluationID: evalID})
	if err != nil {
		return nil, err
	}
	eval.Logs = make([]domain.RuleExecutionLog, 0, len(logs))
	for _, entry := range logs {
		eval.Logs = append(eval.Logs, *entry)
	}

	return &eval, nil
}

func nonNilSuggestions(s []domain.ComplianceSuggestion) []domain.ComplianceSuggestion {
	if s == nil {
		return []domain.ComplianceSuggestion{}
	}
	return s
}
