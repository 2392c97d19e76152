// Package rules provides the deductibility rule evaluation engine.
package rules

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/fiscal/internal/domain"
)

// Engine compiles rule definitions into immutable RuleSets.
// It holds no rule state; an Engine is safe for concurrent use.
type Engine struct {
	env *cel.Env
}

// NewEngine creates a new rule evaluation engine.
func NewEngine() (*Engine, error) {
	// Create CEL environment with transaction variables
	env, err := cel.NewEnv(
		cel.Variable("description", cel.StringType),
		cel.Variable("category_id", cel.StringType),
		cel.Variable("category_name", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("has_amount", cel.BoolType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("transaction_type", cel.StringType),
		cel.Variable("expense_type", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("cfdi_use", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// ValidateRule checks the rule invariants and compiles its match
// expression. Call it before storing a rule.
func (e *Engine) ValidateRule(def *domain.RuleDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidRule)
	}
	if err := def.Validate(); err != nil {
		return err
	}
	if def.MatchExpression == "" {
		return nil
	}
	if _, err := e.compileExpression(def.MatchExpression); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRule, err)
	}
	return nil
}

// CompiledRule is a rule definition prepared for evaluation.
type CompiledRule struct {
	Def *domain.RuleDefinition

	keywords []string
	program  cel.Program

	// broken is set when MatchExpression did not compile. Such a rule never matches.
	broken error
}

// Broken returns the compile error of the match expression, if any.
func (r *CompiledRule) Broken() error {
	return r.broken
}

// RuleSet is an immutable, ordered snapshot of active rules. Build one per
// request or batch and share it freely between goroutines.
type RuleSet struct {
	rules   []*CompiledRule
	hasExpr bool
	builtAt time.Time
}

// Compile builds a RuleSet from defs. Inactive rules are dropped and the rest
// sorted by priority descending, then id ascending. Definitions are copied,
// so later changes to defs do not leak into the snapshot. Rules without an id
// get one after the highest id present, in input order.
func (e *Engine) Compile(defs []*domain.RuleDefinition) *RuleSet {
	var maxID int64
	for _, def := range defs {
		if def != nil && def.ID > maxID {
			maxID = def.ID
		}
	}

	set := &RuleSet{builtAt: time.Now().UTC()}
	for _, def := range defs {
		if def == nil || !def.IsActive {
			continue
		}

		cp := *def
		cp.MatchKeywords = slices.Clone(def.MatchKeywords)
		if cp.ID == 0 {
			maxID++
			cp.ID = maxID
		}

		compiled := &CompiledRule{
			Def:      &cp,
			keywords: foldKeywords(cp.MatchKeywords),
		}
		if cp.MatchExpression != "" {
			set.hasExpr = true
			program, err := e.compileExpression(cp.MatchExpression)
			if err != nil {
				slog.Warn("rule expression does not compile, rule will never match",
					"rule_id", cp.ID,
					"rule_name", cp.Name,
					"error", err,
				)
				compiled.broken = err
			}
			compiled.program = program
		}
		set.rules = append(set.rules, compiled)
	}

	slices.SortStableFunc(set.rules, func(a, b *CompiledRule) int {
		return cmp.Or(
			cmp.Compare(b.Def.Priority, a.Def.Priority),
			cmp.Compare(a.Def.ID, b.Def.ID),
		)
	})

	return set
}

// Evaluate compiles defs and evaluates them against tx in one step.
func (e *Engine) Evaluate(defs []*domain.RuleDefinition, tx *domain.Transaction) (*domain.ClassificationResult, []domain.RuleExecutionLog) {
	return e.Compile(defs).Evaluate(tx)
}

// Len returns the number of active rules in the set.
func (s *RuleSet) Len() int {
	return len(s.rules)
}

// Rules returns the compiled rules in evaluation order.
func (s *RuleSet) Rules() []*CompiledRule {
	return slices.Clone(s.rules)
}

// BuiltAt returns when the snapshot was taken.
func (s *RuleSet) BuiltAt() time.Time {
	return s.builtAt
}

// Evaluate classifies tx. It walks the rules in order, applies every
// matching rule under the first-writer-wins policy and records exactly one
// log entry per rule. No match is a valid outcome: the result keeps its
// seeded values and AppliedRuleIDs is empty.
func (s *RuleSet) Evaluate(tx *domain.Transaction) (*domain.ClassificationResult, []domain.RuleExecutionLog) {
	result := domain.NewClassification(tx)
	logs := make([]domain.RuleExecutionLog, 0, len(s.rules))
	if tx == nil {
		return result, logs
	}

	ref := tx.Ref()
	text := haystack(tx)

	var activation map[string]any
	if s.hasExpr {
		activation = activationFor(tx)
	}

	for i, rule := range s.rules {
		matched := rule.matches(tx, text, activation)
		applied := false
		if matched {
			applied = Apply(result, rule.Def)
		}
		entry := Record(rule.Def.ID, rule.Def.Name, ref, matched, applied)
		entry.Sequence = i
		logs = append(logs, entry)
	}

	return result, logs
}

func (r *CompiledRule) matches(tx *domain.Transaction, text string, activation map[string]any) bool {
	if !matchCriteria(r.Def, r.keywords, text, tx) {
		return false
	}
	if r.Def.MatchExpression == "" {
		return true
	}
	if r.broken != nil || r.program == nil {
		return false
	}

	out, _, err := r.program.Eval(activation)
	if err != nil {
		slog.Debug("rule expression evaluation failed",
			"rule_id", r.Def.ID,
			"tx_id", tx.ID,
			"error", err,
		)
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

func (e *Engine) compileExpression(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	if outputType := ast.OutputType(); !outputType.IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

func activationFor(tx *domain.Transaction) map[string]any {
	amount := 0.0
	if tx.Amount != nil {
		amount = tx.Amount.InexactFloat64()
	}
	return map[string]any{
		"description":      tx.Description,
		"category_id":      tx.CategoryID,
		"category_name":    tx.CategoryName,
		"amount":           amount,
		"has_amount":       tx.Amount != nil,
		"currency":         tx.Currency,
		"transaction_type": string(tx.TransactionType),
		"expense_type":     string(tx.ExpenseType),
		"payment_method":   tx.PaymentMethod,
		"cfdi_use":         tx.CfdiUse,
	}
}
