package rules

import (
	"testing"

	"github.com/opensource-finance/fiscal/internal/domain"
)

func TestMatches(t *testing.T) {
	tx := &domain.Transaction{
		ID:              "tx-001",
		Description:     "Viaje UBER centro",
		CategoryID:      "cat-transport",
		CategoryName:    "Transporte",
		Amount:          amount("100"),
		TransactionType: domain.TransactionBusiness,
		ExpenseType:     domain.ExpenseNational,
	}

	tests := []struct {
		name string
		rule *domain.RuleDefinition
		want bool
	}{
		{"catch-all", &domain.RuleDefinition{}, true},
		{"keyword case-insensitive", &domain.RuleDefinition{MatchKeywords: []string{"uber"}}, true},
		{"keyword upper in rule", &domain.RuleDefinition{MatchKeywords: []string{"CENTRO"}}, true},
		{"keyword in category name", &domain.RuleDefinition{MatchKeywords: []string{"transporte"}}, true},
		{"any keyword", &domain.RuleDefinition{MatchKeywords: []string{"didi", "uber"}}, true},
		{"no keyword", &domain.RuleDefinition{MatchKeywords: []string{"didi"}}, false},
		{"blank keywords ignored", &domain.RuleDefinition{MatchKeywords: []string{"", "  "}}, true},
		{"category", &domain.RuleDefinition{MatchCategoryID: "cat-transport"}, true},
		{"other category", &domain.RuleDefinition{MatchCategoryID: "cat-food"}, false},
		{"amount inclusive", &domain.RuleDefinition{MatchAmountMin: amount("100"), MatchAmountMax: amount("100")}, true},
		{"amount below min", &domain.RuleDefinition{MatchAmountMin: amount("100.01")}, false},
		{"amount above max", &domain.RuleDefinition{MatchAmountMax: amount("99.99")}, false},
		{"transaction type", &domain.RuleDefinition{MatchTransactionType: domain.TransactionBusiness}, true},
		{"other transaction type", &domain.RuleDefinition{MatchTransactionType: domain.TransactionPersonal}, false},
		{"expense type", &domain.RuleDefinition{MatchExpenseType: domain.ExpenseNational}, true},
		{"other expense type", &domain.RuleDefinition{MatchExpenseType: domain.ExpenseInternationalNoInvoice}, false},
		{
			"all criteria",
			&domain.RuleDefinition{
				MatchCategoryID:      "cat-transport",
				MatchKeywords:        []string{"uber"},
				MatchAmountMin:       amount("50"),
				MatchAmountMax:       amount("150"),
				MatchTransactionType: domain.TransactionBusiness,
				MatchExpenseType:     domain.ExpenseNational,
			},
			true,
		},
		{
			"one failing criterion",
			&domain.RuleDefinition{
				MatchKeywords:        []string{"uber"},
				MatchTransactionType: domain.TransactionPersonal,
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.rule, tx); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesMissingAmount(t *testing.T) {
	tx := &domain.Transaction{ID: "tx-001", Description: "sin monto"}

	if !Matches(&domain.RuleDefinition{MatchKeywords: []string{"monto"}}, tx) {
		t.Error("non-amount criteria should still match")
	}
	if Matches(&domain.RuleDefinition{MatchAmountMax: amount("1000")}, tx) {
		t.Error("max bound must not match a missing amount")
	}
}

func TestMatchesUnicodeFolding(t *testing.T) {
	tx := &domain.Transaction{Description: "COMPRA EN FARMACIA SAN PABLO - MEDICAMENTOS"}
	if !Matches(&domain.RuleDefinition{MatchKeywords: []string{"Farmacia"}}, tx) {
		t.Error("expected case-folded match")
	}

	tx = &domain.Transaction{Description: "Honorarios MÉDICOS"}
	if !Matches(&domain.RuleDefinition{MatchKeywords: []string{"médicos"}}, tx) {
		t.Error("expected accented keyword to fold")
	}
}
