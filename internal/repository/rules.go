package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/fiscal/internal/domain"
)

const ruleColumns = `
	id, tenant_id, name, description, rule_type, priority, is_active,
	match_category_id, match_keywords, match_amount_min, match_amount_max,
	match_transaction_type, match_expense_type, match_expression,
	set_is_isr_deductible, set_is_iva_deductible, set_expense_type,
	notes, created_at, updated_at`

// CreateRule validates and stores a new rule. The store assigns the id in
// insertion order and writes it back onto rule.
func (r *SQLRepository) CreateRule(ctx context.Context, tenantID string, rule *domain.RuleDefinition) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	keywords, err := json.Marshal(nonNil(rule.MatchKeywords))
	if err != nil {
		return err
	}
	if rule.RuleType == "" {
		rule.RuleType = domain.RuleTypeDeductibility
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO deductibility_rules (
			tenant_id, name, description, rule_type, priority, is_active,
			match_category_id, match_keywords, match_amount_min, match_amount_max,
			match_transaction_type, match_expense_type, match_expression,
			set_is_isr_deductible, set_is_iva_deductible, set_expense_type,
			notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	var id int64
	err = r.db.QueryRowContext(ctx, r.rebind(query),
		tenantID, rule.Name, rule.Description, rule.RuleType, rule.Priority, boolInt(rule.IsActive),
		rule.MatchCategoryID, string(keywords), decimalValue(rule.MatchAmountMin), decimalValue(rule.MatchAmountMax),
		string(rule.MatchTransactionType), string(rule.MatchExpenseType), rule.MatchExpression,
		triValue(rule.SetIsIsrDeductible), triValue(rule.SetIsIvaDeductible), string(rule.SetExpenseType),
		rule.Notes, now, now,
	).Scan(&id)
	if err != nil {
		return err
	}

	rule.ID = id
	rule.TenantID = tenantID
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// UpdateRule replaces every field of an existing rule.
func (r *SQLRepository) UpdateRule(ctx context.Context, tenantID string, rule *domain.RuleDefinition) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}
	if rule.ID <= 0 {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	keywords, err := json.Marshal(nonNil(rule.MatchKeywords))
	if err != nil {
		return err
	}
	if rule.RuleType == "" {
		rule.RuleType = domain.RuleTypeDeductibility
	}
	now := time.Now().UTC()

	query := `
		UPDATE deductibility_rules SET
			name = ?, description = ?, rule_type = ?, priority = ?, is_active = ?,
			match_category_id = ?, match_keywords = ?, match_amount_min = ?, match_amount_max = ?,
			match_transaction_type = ?, match_expense_type = ?, match_expression = ?,
			set_is_isr_deductible = ?, set_is_iva_deductible = ?, set_expense_type = ?,
			notes = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Name, rule.Description, rule.RuleType, rule.Priority, boolInt(rule.IsActive),
		rule.MatchCategoryID, string(keywords), decimalValue(rule.MatchAmountMin), decimalValue(rule.MatchAmountMax),
		string(rule.MatchTransactionType), string(rule.MatchExpenseType), rule.MatchExpression,
		triValue(rule.SetIsIsrDeductible), triValue(rule.SetIsIvaDeductible), string(rule.SetExpenseType),
		rule.Notes, now,
		tenantID, rule.ID,
	)
	if err != nil {
		return err
	}
	if err := expectRow(result); err != nil {
		return err
	}

	rule.TenantID = tenantID
	rule.UpdatedAt = now
	return nil
}

// GetRule retrieves a rule by id with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID int64) (*domain.RuleDefinition, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + `
		FROM deductibility_rules
		WHERE tenant_id = ? AND id = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules returns the tenant's rules in evaluation order.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string, filter domain.RuleFilter) ([]*domain.RuleDefinition, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	w := &where{}
	w.add("tenant_id = ?", tenantID)
	if filter.RuleType != "" {
		w.add("rule_type = ?", filter.RuleType)
	}
	if filter.ActiveOnly {
		w.add("is_active = ?", 1)
	}

	query := `SELECT ` + ruleColumns + `
		FROM deductibility_rules
		WHERE ` + w.String() + `
		ORDER BY priority DESC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RuleDefinition
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// ListActiveRules returns the active rules of a rule type. An empty ruleType
// returns active rules of every type.
func (r *SQLRepository) ListActiveRules(ctx context.Context, tenantID string, ruleType string) ([]*domain.RuleDefinition, error) {
	return r.ListRules(ctx, tenantID, domain.RuleFilter{RuleType: ruleType, ActiveOnly: true})
}

// DeleteRule removes a rule. Past execution logs keep the denormalized rule name.
func (r *SQLRepository) DeleteRule(ctx context.Context, tenantID string, ruleID int64) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `DELETE FROM deductibility_rules WHERE tenant_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, ruleID)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func validateRule(rule *domain.RuleDefinition) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", ErrInvalidInput)
	}
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

func expectRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func scanRule(s scanner) (*domain.RuleDefinition, error) {
	var rule domain.RuleDefinition
	var active int
	var keywords string
	var minAmount, maxAmount sql.NullString
	var txType, expenseType, setExpense string
	var isr, iva sql.NullInt64

	if err := s.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description, &rule.RuleType, &rule.Priority, &active,
		&rule.MatchCategoryID, &keywords, &minAmount, &maxAmount,
		&txType, &expenseType, &rule.MatchExpression,
		&isr, &iva, &setExpense,
		&rule.Notes, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.IsActive = active == 1
	if keywords != "" {
		if err := json.Unmarshal([]byte(keywords), &rule.MatchKeywords); err != nil {
			return nil, fmt.Errorf("failed to parse keywords for rule %d: %w", rule.ID, err)
		}
	}
	if len(rule.MatchKeywords) == 0 {
		rule.MatchKeywords = nil
	}

	var err error
	if rule.MatchAmountMin, err = decimalFromNull(minAmount); err != nil {
		return nil, fmt.Errorf("rule %d: %w", rule.ID, err)
	}
	if rule.MatchAmountMax, err = decimalFromNull(maxAmount); err != nil {
		return nil, fmt.Errorf("rule %d: %w", rule.ID, err)
	}

	rule.MatchTransactionType = domain.TransactionType(txType)
	rule.MatchExpenseType = domain.ExpenseType(expenseType)
	rule.SetIsIsrDeductible = triFromNull(isr)
	rule.SetIsIvaDeductible = triFromNull(iva)
	rule.SetExpenseType = domain.ExpenseType(setExpense)
	return &rule, nil
}
