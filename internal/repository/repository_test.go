package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/fiscal/internal/domain"
	"github.com/shopspring/decimal"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	// Create temp database file
	tmpFile, err := os.CreateTemp("", "fiscal-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:              "tx-001",
			Description:     "Pago gasolina",
			CategoryID:      "cat-fuel",
			CategoryName:    "Combustible",
			Amount:          dec("500.25"),
			Currency:        "MXN",
			TransactionType: domain.TransactionBusiness,
			ExpenseType:     domain.ExpenseNational,
			PaymentMethod:   domain.PaymentCreditCard,
			CfdiUse:         "G03",
			Date:            time.Now().UTC(),
			CreatedAt:       time.Now().UTC(),
		}

		if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tenantID, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved.ID != tx.ID {
			t.Errorf("expected ID %s, got %s", tx.ID, retrieved.ID)
		}
		if retrieved.Amount == nil || !retrieved.Amount.Equal(*tx.Amount) {
			t.Errorf("expected Amount %s, got %v", tx.Amount, retrieved.Amount)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
		if retrieved.ExpenseType != domain.ExpenseNational {
			t.Errorf("expected ExpenseType national, got %s", retrieved.ExpenseType)
		}
		if retrieved.IsIsrDeductible.IsSet() || retrieved.ClassifiedAt != nil {
			t.Error("new transaction must be unclassified")
		}
	})

	t.Run("MissingAmountRoundTrips", func(t *testing.T) {
		tx := &domain.Transaction{ID: "tx-no-amount", Description: "sin monto", Date: time.Now().UTC(), CreatedAt: time.Now().UTC()}
		if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
		retrieved, err := repo.GetTransaction(ctx, tenantID, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if retrieved.Amount != nil {
			t.Errorf("expected nil amount, got %s", retrieved.Amount)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "tenant-002", "tx-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		err := repo.SaveTransaction(ctx, "", &domain.Transaction{ID: "tx-test"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}

		_, err = repo.GetTransaction(ctx, "", "tx-001")
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}

		_, err = repo.ListRules(ctx, "", domain.RuleFilter{})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, tenantID, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetEvaluation(ctx, tenantID, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetRule(ctx, tenantID, 9999)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestRuleLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	first := &domain.RuleDefinition{
		Name:               "Gasolina",
		Priority:           10,
		IsActive:           true,
		MatchKeywords:      []string{"gasolina", "diesel"},
		MatchAmountMin:     dec("0"),
		MatchAmountMax:     dec("10000.50"),
		SetIsIsrDeductible: domain.TriTrue,
		SetIsIvaDeductible: domain.TriFalse,
		SetExpenseType:     domain.ExpenseNational,
	}
	second := &domain.RuleDefinition{Name: "Default", Priority: 10, IsActive: true, SetIsIvaDeductible: domain.TriTrue}
	inactive := &domain.RuleDefinition{Name: "Off", Priority: 50, IsActive: false, SetIsIsrDeductible: domain.TriFalse}

	for _, r := range []*domain.RuleDefinition{first, second, inactive} {
		if err := repo.CreateRule(ctx, tenantID, r); err != nil {
			t.Fatalf("CreateRule(%s) failed: %v", r.Name, err)
		}
	}

	t.Run("IdsInInsertionOrder", func(t *testing.T) {
		if !(first.ID < second.ID && second.ID < inactive.ID) {
			t.Errorf("ids not increasing: %d, %d, %d", first.ID, second.ID, inactive.ID)
		}
		if first.RuleType != domain.RuleTypeDeductibility {
			t.Errorf("expected default rule type, got %q", first.RuleType)
		}
	})

	t.Run("GetRoundTrips", func(t *testing.T) {
		got, err := repo.GetRule(ctx, tenantID, first.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if len(got.MatchKeywords) != 2 || got.MatchKeywords[1] != "diesel" {
			t.Errorf("unexpected keywords: %v", got.MatchKeywords)
		}
		if got.MatchAmountMax == nil || got.MatchAmountMax.String() != "10000.5" {
			t.Errorf("unexpected max amount: %v", got.MatchAmountMax)
		}
		if got.SetIsIsrDeductible != domain.TriTrue || got.SetIsIvaDeductible != domain.TriFalse {
			t.Errorf("tri-states lost: isr=%s iva=%s", got.SetIsIsrDeductible, got.SetIsIvaDeductible)
		}
		if got.SetExpenseType != domain.ExpenseNational {
			t.Errorf("unexpected expense type %s", got.SetExpenseType)
		}

		got, err = repo.GetRule(ctx, tenantID, second.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.SetIsIsrDeductible.IsSet() {
			t.Error("unset action must stay unset")
		}
		if got.MatchKeywords != nil {
			t.Errorf("expected no keywords, got %v", got.MatchKeywords)
		}
	})

	t.Run("ListActiveRules", func(t *testing.T) {
		rules, err := repo.ListActiveRules(ctx, tenantID, domain.RuleTypeDeductibility)
		if err != nil {
			t.Fatalf("ListActiveRules failed: %v", err)
		}
		if len(rules) != 2 {
			t.Fatalf("expected 2 active rules, got %d", len(rules))
		}
		if rules[0].ID != first.ID || rules[1].ID != second.ID {
			t.Errorf("expected priority then id order, got %d, %d", rules[0].ID, rules[1].ID)
		}

		all, err := repo.ListRules(ctx, tenantID, domain.RuleFilter{})
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(all) != 3 || all[0].ID != inactive.ID {
			t.Errorf("expected 3 rules with the inactive one first, got %d", len(all))
		}
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		err := repo.CreateRule(ctx, tenantID, &domain.RuleDefinition{Name: "inert", IsActive: true})
		if !errors.Is(err, ErrInvalidInput) || !errors.Is(err, domain.ErrNoAction) {
			t.Errorf("expected ErrInvalidInput wrapping ErrNoAction, got %v", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		second.Priority = 20
		second.SetIsIvaDeductible = domain.TriFalse
		if err := repo.UpdateRule(ctx, tenantID, second); err != nil {
			t.Fatalf("UpdateRule failed: %v", err)
		}
		got, err := repo.GetRule(ctx, tenantID, second.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Priority != 20 || got.SetIsIvaDeductible != domain.TriFalse {
			t.Errorf("update not stored: %+v", got)
		}

		missing := *second
		missing.ID = 9999
		if err := repo.UpdateRule(ctx, tenantID, &missing); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.UpdateRule(ctx, "tenant-002", second); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.DeleteRule(ctx, tenantID, inactive.ID); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		if err := repo.DeleteRule(ctx, tenantID, inactive.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})
}

func TestSaveEvaluation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Now().UTC()

	tx := &domain.Transaction{
		ID: "tx-001", Description: "Pago gasolina", Amount: dec("2500"),
		ExpenseType: domain.ExpenseInternationalWithInvoice, Date: now, CreatedAt: now,
	}
	if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}

	unclassified, err := repo.ListUnclassified(ctx, tenantID, 10)
	if err != nil {
		t.Fatalf("ListUnclassified failed: %v", err)
	}
	if len(unclassified) != 1 {
		t.Fatalf("expected 1 unclassified transaction, got %d", len(unclassified))
	}

	makeEval := func(id string, suggestions ...domain.ComplianceSuggestion) *domain.Evaluation {
		return &domain.Evaluation{
			ID:        id,
			TenantID:  tenantID,
			TxID:      tx.ID,
			Timestamp: time.Now().UTC(),
			Classification: domain.ClassificationResult{
				IsIsrDeductible: domain.TriTrue,
				IsIvaDeductible: domain.TriFalse,
				ExpenseType:     domain.ExpenseNational,
				AppliedRuleIDs:  []int64{1},
				Sources:         domain.FieldSources{IsIsrDeductible: 1, IsIvaDeductible: 1, ExpenseType: 1, ExpenseTypeSet: true},
			},
			Logs: []domain.RuleExecutionLog{
				{Sequence: 0, RuleID: 1, RuleName: "Gasolina", EntityType: domain.EntityTransaction, EntityID: tx.ID, RuleMatched: true, ActionsApplied: true, ExecutedAt: now},
				{Sequence: 1, RuleID: 2, RuleName: "Comida", EntityType: domain.EntityTransaction, EntityID: tx.ID, ExecutedAt: now},
			},
			Suggestions: suggestions,
			Metadata:    domain.EvaluationMetadata{RulesEvaluated: 2, RulesMatched: 1, EngineVersion: domain.EngineVersion},
		}
	}
	suggestion := func(id string, severity domain.Severity, kind string) domain.ComplianceSuggestion {
		return domain.ComplianceSuggestion{
			ID: id, TenantID: tenantID, Severity: severity, SuggestionType: kind, Title: kind,
			EntityType: domain.EntityTransaction, EntityID: tx.ID, CreatedAt: now,
		}
	}

	first := makeEval("eval-001",
		suggestion("s-1", domain.SeverityWarning, "missing_cfdi_use"),
		suggestion("s-2", domain.SeverityError, "cash_payment_limit"),
	)
	if err := repo.SaveEvaluation(ctx, tenantID, first); err != nil {
		t.Fatalf("SaveEvaluation failed: %v", err)
	}

	t.Run("WritesBackClassification", func(t *testing.T) {
		got, err := repo.GetTransaction(ctx, tenantID, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.IsIsrDeductible != domain.TriTrue || got.IsIvaDeductible != domain.TriFalse {
			t.Errorf("classification not written back: isr=%s iva=%s", got.IsIsrDeductible, got.IsIvaDeductible)
		}
		if got.ClassifiedAt == nil {
			t.Error("expected ClassifiedAt to be set")
		}
		if got.ClassifiedExpenseType != domain.ExpenseNational {
			t.Errorf("expected classified expense type national, got %q", got.ClassifiedExpenseType)
		}
		if got.ExpenseType != domain.ExpenseInternationalWithInvoice {
			t.Errorf("transaction's own expense type was overwritten: got %q", got.ExpenseType)
		}

		unclassified, err := repo.ListUnclassified(ctx, tenantID, 10)
		if err != nil {
			t.Fatalf("ListUnclassified failed: %v", err)
		}
		if len(unclassified) != 0 {
			t.Errorf("expected no unclassified transactions, got %d", len(unclassified))
		}
	})

	t.Run("GetEvaluation", func(t *testing.T) {
		got, err := repo.GetEvaluation(ctx, tenantID, first.ID)
		if err != nil {
			t.Fatalf("GetEvaluation failed: %v", err)
		}
		if len(got.Logs) != 2 || got.Logs[0].RuleID != 1 || got.Logs[1].RuleID != 2 {
			t.Errorf("logs not in evaluation order: %+v", got.Logs)
		}
		if got.Logs[0].EvaluationID != first.ID {
			t.Errorf("expected log evaluation id %s, got %s", first.ID, got.Logs[0].EvaluationID)
		}
		if len(got.Suggestions) != 2 {
			t.Errorf("expected 2 suggestions in snapshot, got %d", len(got.Suggestions))
		}
		if got.Classification.Sources.ExpenseType != 1 {
			t.Errorf("field sources lost: %+v", got.Classification.Sources)
		}
	})

	t.Run("SuggestionsOrderedBySeverity", func(t *testing.T) {
		list, err := repo.ListSuggestions(ctx, tenantID, domain.SuggestionFilter{})
		if err != nil {
			t.Fatalf("ListSuggestions failed: %v", err)
		}
		if len(list) != 2 || list[0].Severity != domain.SeverityError {
			t.Fatalf("expected error first, got %+v", list)
		}
	})

	t.Run("ReEvaluationReplacesUnresolved", func(t *testing.T) {
		if err := repo.ResolveSuggestion(ctx, tenantID, "s-2"); err != nil {
			t.Fatalf("ResolveSuggestion failed: %v", err)
		}
		if err := repo.ResolveSuggestion(ctx, tenantID, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		second := makeEval("eval-002", suggestion("s-3", domain.SeverityInfo, "personal_marked_deductible"))
		if err := repo.SaveEvaluation(ctx, tenantID, second); err != nil {
			t.Fatalf("SaveEvaluation failed: %v", err)
		}

		list, err := repo.ListSuggestions(ctx, tenantID, domain.SuggestionFilter{EntityID: tx.ID})
		if err != nil {
			t.Fatalf("ListSuggestions failed: %v", err)
		}
		ids := map[string]bool{}
		for _, s := range list {
			ids[s.ID] = true
		}
		if len(list) != 2 || !ids["s-2"] || !ids["s-3"] {
			t.Errorf("expected resolved s-2 kept and s-3 added, got %v", ids)
		}

		resolved := true
		list, err = repo.ListSuggestions(ctx, tenantID, domain.SuggestionFilter{Resolved: &resolved})
		if err != nil {
			t.Fatalf("ListSuggestions failed: %v", err)
		}
		if len(list) != 1 || list[0].ResolvedAt == nil {
			t.Errorf("expected one resolved suggestion with timestamp, got %+v", list)
		}
	})

	t.Run("ListExecutionLogs", func(t *testing.T) {
		logs, err := repo.ListExecutionLogs(ctx, tenantID, domain.LogFilter{RuleID: 1})
		if err != nil {
			t.Fatalf("ListExecutionLogs failed: %v", err)
		}
		if len(logs) != 2 {
			t.Errorf("expected 2 entries for rule 1 across evaluations, got %d", len(logs))
		}

		logs, err = repo.ListExecutionLogs(ctx, tenantID, domain.LogFilter{EntityID: "other"})
		if err != nil {
			t.Fatalf("ListExecutionLogs failed: %v", err)
		}
		if len(logs) != 0 {
			t.Errorf("expected no entries, got %d", len(logs))
		}
	})

	t.Run("UnknownTransaction", func(t *testing.T) {
		eval := makeEval("eval-003")
		eval.TxID = "missing"
		if err := repo.SaveEvaluation(ctx, tenantID, eval); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := repo.GetEvaluation(ctx, tenantID, "eval-003"); !errors.Is(err, ErrNotFound) {
			t.Errorf("failed save must not leave an evaluation behind, got %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}
