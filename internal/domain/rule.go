package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRule marks a rule definition that cannot be stored.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrNoAction marks a rule that sets none of the three output fields.
	ErrNoAction = fmt.Errorf("%w: at least one action (setIsIsrDeductible, setIsIvaDeductible, setExpenseType) is required", ErrInvalidRule)
)

// RuleTypeDeductibility is the default rule type label.
const RuleTypeDeductibility = "deductibility"

// RuleDefinition configures one deductibility classification rule.
// Criteria left at their zero value mean "don't care".
type RuleDefinition struct {
	ID          int64  `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	RuleType    string `json:"ruleType,omitempty"`

	// Higher evaluates first. Ties go to the lower ID.
	Priority int  `json:"priority"`
	IsActive bool `json:"isActive"`

	// Match criteria
	MatchCategoryID      string           `json:"matchCategoryId,omitempty"`
	MatchKeywords        []string         `json:"matchKeywords,omitempty"`
	MatchAmountMin       *decimal.Decimal `json:"matchAmountMin,omitempty"`
	MatchAmountMax       *decimal.Decimal `json:"matchAmountMax,omitempty"`
	MatchTransactionType TransactionType  `json:"matchTransactionType,omitempty"`
	MatchExpenseType     ExpenseType      `json:"matchExpenseType,omitempty"`
	MatchExpression      string           `json:"matchExpression,omitempty"` // CEL predicate

	// Actions
	SetIsIsrDeductible TriState    `json:"setIsIsrDeductible"`
	SetIsIvaDeductible TriState    `json:"setIsIvaDeductible"`
	SetExpenseType     ExpenseType `json:"setExpenseType,omitempty"`

	Notes string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// HasAction reports whether the rule sets at least one output field.
func (r *RuleDefinition) HasAction() bool {
	return r.SetIsIsrDeductible.IsSet() || r.SetIsIvaDeductible.IsSet() || r.SetExpenseType != ""
}

// HasCriteria reports whether the rule constrains anything. A rule without
// criteria is a catch-all.
func (r *RuleDefinition) HasCriteria() bool {
	return r.MatchCategoryID != "" ||
		len(r.MatchKeywords) > 0 ||
		r.MatchAmountMin != nil ||
		r.MatchAmountMax != nil ||
		r.MatchTransactionType != "" ||
		r.MatchExpenseType != "" ||
		r.MatchExpression != ""
}

// Validate enforces the invariants a stored rule must satisfy.
func (r *RuleDefinition) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if !r.HasAction() {
		return ErrNoAction
	}
	if r.MatchTransactionType != "" && !r.MatchTransactionType.Valid() {
		return fmt.Errorf("%w: unknown matchTransactionType %q", ErrInvalidRule, r.MatchTransactionType)
	}
	if r.MatchExpenseType != "" && !r.MatchExpenseType.Valid() {
		return fmt.Errorf("%w: unknown matchExpenseType %q", ErrInvalidRule, r.MatchExpenseType)
	}
	if r.SetExpenseType != "" && !r.SetExpenseType.Valid() {
		return fmt.Errorf("%w: unknown setExpenseType %q", ErrInvalidRule, r.SetExpenseType)
	}
	if r.MatchAmountMin != nil && r.MatchAmountMax != nil && r.MatchAmountMin.GreaterThan(*r.MatchAmountMax) {
		return fmt.Errorf("%w: matchAmountMin %s is greater than matchAmountMax %s",
			ErrInvalidRule, r.MatchAmountMin, r.MatchAmountMax)
	}
	return nil
}

// RuleFilter narrows rule listings.
type RuleFilter struct {
	RuleType   string
	ActiveOnly bool
}
