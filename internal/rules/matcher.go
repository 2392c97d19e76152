package rules

import (
	"strings"

	"github.com/opensource-finance/fiscal/internal/domain"
	"golang.org/x/text/cases"
)

// Matches reports whether every criterion present on rule is satisfied by tx.
// A rule without criteria matches every transaction. MatchExpression is not
// considered here; it needs a compiled program, see RuleSet.
func Matches(rule *domain.RuleDefinition, tx *domain.Transaction) bool {
	if rule == nil || tx == nil {
		return false
	}
	return matchCriteria(rule, foldKeywords(rule.MatchKeywords), haystack(tx), tx)
}

// matchCriteria evaluates the declarative criteria. keywords must already be
// case-folded and text must be the folded haystack of tx.
func matchCriteria(rule *domain.RuleDefinition, keywords []string, text string, tx *domain.Transaction) bool {
	if rule.MatchCategoryID != "" && rule.MatchCategoryID != tx.CategoryID {
		return false
	}

	if len(keywords) > 0 && !containsAny(text, keywords) {
		return false
	}

	if rule.MatchAmountMin != nil || rule.MatchAmountMax != nil {
		// A missing amount never satisfies an amount bound.
		if tx.Amount == nil {
			return false
		}
		if rule.MatchAmountMin != nil && tx.Amount.LessThan(*rule.MatchAmountMin) {
			return false
		}
		if rule.MatchAmountMax != nil && tx.Amount.GreaterThan(*rule.MatchAmountMax) {
			return false
		}
	}

	if rule.MatchTransactionType != "" && rule.MatchTransactionType != tx.TransactionType {
		return false
	}

	if rule.MatchExpenseType != "" && rule.MatchExpenseType != tx.ExpenseType {
		return false
	}

	return true
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// haystack is the case-folded text keywords are searched in.
func haystack(tx *domain.Transaction) string {
	return fold(tx.Description + " " + tx.CategoryName)
}

// foldKeywords folds keywords and drops the ones that are blank.
func foldKeywords(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		out = append(out, fold(kw))
	}
	return out
}

// fold uses Unicode case folding so "GASOLINA", "Gasolina" and "gasolina"
// compare equal. A Caser is not safe for concurrent use.
func fold(s string) string {
	return cases.Fold().String(s)
}
