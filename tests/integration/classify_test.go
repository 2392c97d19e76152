//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Fiscal rule engine
// running as a server.
//
// These tests drive the complete pipeline over HTTP:
//
//	Rule form → Rule set → Classification → Compliance suggestions → Audit trail
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must run in inline mode (classification.async=false). Every
// test seeds its own rules under a fresh tenant, so no fixtures are needed.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig(t *testing.T) TestConfig {
	baseURL := os.Getenv("FISCAL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: fmt.Sprintf("it-%d", time.Now().UnixNano()),
	}
}

// ============================================================================
// API Request/Response Types (matching Fiscal's API contract)
// ============================================================================

type RuleForm struct {
	Name                 string   `json:"name"`
	Priority             int      `json:"priority"`
	MatchKeywords        []string `json:"matchKeywords,omitempty"`
	MatchAmountMax       string   `json:"matchAmountMax,omitempty"`
	MatchTransactionType string   `json:"matchTransactionType,omitempty"`
	MatchExpenseType     string   `json:"matchExpenseType,omitempty"`
	MatchExpression      string   `json:"matchExpression,omitempty"`
	SetIsIsrDeductible   *bool    `json:"setIsIsrDeductible"`
	SetIsIvaDeductible   *bool    `json:"setIsIvaDeductible"`
	SetExpenseType       string   `json:"setExpenseType,omitempty"`
}

type Rule struct {
	ID int64 `json:"id"`
	RuleForm
}

type TransactionRequest struct {
	Description     string `json:"description"`
	Amount          string `json:"amount,omitempty"`
	TransactionType string `json:"transactionType,omitempty"`
	ExpenseType     string `json:"expenseType,omitempty"`
	PaymentMethod   string `json:"paymentMethod,omitempty"`
	CfdiUse         string `json:"cfdiUse,omitempty"`
}

type Suggestion struct {
	ID             string `json:"id"`
	Severity       string `json:"severity"`
	SuggestionType string `json:"suggestionType"`
}

type Evaluation struct {
	ID             string `json:"id"`
	TxID           string `json:"txId"`
	Classification struct {
		IsIsrDeductible *bool   `json:"isIsrDeductible"`
		IsIvaDeductible *bool   `json:"isIvaDeductible"`
		ExpenseType     string  `json:"expenseType"`
		AppliedRuleIDs  []int64 `json:"appliedRuleIds"`
	} `json:"classification"`
	Suggestions []Suggestion `json:"suggestions"`
}

type TransactionResponse struct {
	TxID       string      `json:"txId"`
	Status     string      `json:"status"`
	Evaluation *Evaluation `json:"evaluation"`
}

type BatchReport struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func call(t *testing.T, config TestConfig, method, path string, body any, wantStatus int, out any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, wantStatus, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
}

func createRule(t *testing.T, config TestConfig, form RuleForm) Rule {
	t.Helper()
	var rule Rule
	call(t, config, http.MethodPost, "/rules", form, http.StatusCreated, &rule)
	return rule
}

func ingest(t *testing.T, config TestConfig, req TransactionRequest) TransactionResponse {
	t.Helper()
	var resp TransactionResponse
	call(t, config, http.MethodPost, "/transactions", req, http.StatusCreated, &resp)
	if resp.Evaluation == nil {
		t.Fatalf("expected inline classification, got status %q (is the server in async mode?)", resp.Status)
	}
	return resp
}

func boolPtr(b bool) *bool { return &b }

func hasSuggestion(eval *Evaluation, suggestionType string) bool {
	for _, s := range eval.Suggestions {
		if s.SuggestionType == suggestionType {
			return true
		}
	}
	return false
}

func seedSATRules(t *testing.T, config TestConfig) {
	t.Helper()

	createRule(t, config, RuleForm{
		Name:                 "Gastos personales",
		Priority:             100,
		MatchTransactionType: "personal",
		SetIsIsrDeductible:   boolPtr(false),
		SetIsIvaDeductible:   boolPtr(false),
	})
	createRule(t, config, RuleForm{
		Name:               "Combustible",
		Priority:           60,
		MatchKeywords:      []string{"gasolina", "pemex"},
		SetIsIsrDeductible: boolPtr(true),
		SetIsIvaDeductible: boolPtr(true),
		SetExpenseType:     "national",
	})
	createRule(t, config, RuleForm{
		Name:               "Servicios extranjeros sin factura",
		Priority:           40,
		MatchKeywords:      []string{"netflix", "spotify"},
		MatchExpenseType:   "international_no_invoice",
		SetIsIsrDeductible: boolPtr(false),
		SetIsIvaDeductible: boolPtr(false),
	})
}

// ============================================================================
// SCENARIO 1: Fuel paid electronically is deductible
// ============================================================================

func TestFuelPaidByTransfer_Deductible(t *testing.T) {
	config := getTestConfig(t)
	seedSATRules(t, config)

	resp := ingest(t, config, TransactionRequest{
		Description:     "Gasolina Pemex Insurgentes",
		Amount:          "850.00",
		TransactionType: "business",
		PaymentMethod:   "03",
		CfdiUse:         "G03",
	})

	c := resp.Evaluation.Classification
	if c.IsIsrDeductible == nil || !*c.IsIsrDeductible {
		t.Errorf("Expected ISR deductible, got %v", c.IsIsrDeductible)
	}
	if c.ExpenseType != "national" {
		t.Errorf("Expected expense type national, got %q", c.ExpenseType)
	}
	if hasSuggestion(resp.Evaluation, "fuel_cash_payment") {
		t.Error("Did not expect a fuel cash payment suggestion")
	}
}

// ============================================================================
// SCENARIO 2: Fuel paid in cash raises an error suggestion
// ============================================================================

func TestFuelPaidInCash_RaisesError(t *testing.T) {
	config := getTestConfig(t)
	seedSATRules(t, config)

	resp := ingest(t, config, TransactionRequest{
		Description:     "Gasolina Pemex",
		Amount:          "600",
		TransactionType: "business",
		PaymentMethod:   "01",
		CfdiUse:         "G03",
	})

	if !hasSuggestion(resp.Evaluation, "fuel_cash_payment") {
		t.Fatalf("Expected fuel_cash_payment suggestion, got %+v", resp.Evaluation.Suggestions)
	}

	var listed struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	call(t, config, http.MethodGet, "/suggestions?severity=error&entityId="+resp.TxID, nil, http.StatusOK, &listed)
	if len(listed.Suggestions) == 0 {
		t.Fatal("Expected the error suggestion to be stored")
	}

	call(t, config, http.MethodPost, "/suggestions/"+listed.Suggestions[0].ID+"/resolve", nil, http.StatusOK, nil)

	call(t, config, http.MethodGet, "/suggestions?resolved=false&entityId="+resp.TxID+"&type=fuel_cash_payment", nil, http.StatusOK, &listed)
	if len(listed.Suggestions) != 0 {
		t.Errorf("Expected no unresolved fuel suggestions, got %d", len(listed.Suggestions))
	}
}

// ============================================================================
// SCENARIO 3: Higher priority rule wins a conflicting field
// ============================================================================

func TestPersonalFuel_HigherPriorityWins(t *testing.T) {
	config := getTestConfig(t)
	seedSATRules(t, config)

	resp := ingest(t, config, TransactionRequest{
		Description:     "Gasolina fin de semana",
		Amount:          "400",
		TransactionType: "personal",
		PaymentMethod:   "04",
	})

	c := resp.Evaluation.Classification
	if c.IsIsrDeductible == nil || *c.IsIsrDeductible {
		t.Errorf("Expected personal rule to set ISR false first, got %v", c.IsIsrDeductible)
	}
	// Personal rule leaves expense type alone, so the fuel rule still sets it.
	if c.ExpenseType != "national" {
		t.Errorf("Expected expense type from the lower priority rule, got %q", c.ExpenseType)
	}
	if len(c.AppliedRuleIDs) != 2 {
		t.Errorf("Expected both rules applied, got %v", c.AppliedRuleIDs)
	}
}

// ============================================================================
// SCENARIO 4: No rule matches
// ============================================================================

func TestNoMatchingRule_Unclassified(t *testing.T) {
	config := getTestConfig(t)
	seedSATRules(t, config)

	resp := ingest(t, config, TransactionRequest{
		Description:     "Papeleria Lumen",
		Amount:          "120",
		TransactionType: "business",
	})

	c := resp.Evaluation.Classification
	if c.IsIsrDeductible != nil || c.IsIvaDeductible != nil {
		t.Errorf("Expected both tri-states unset, got %v / %v", c.IsIsrDeductible, c.IsIvaDeductible)
	}
	if !hasSuggestion(resp.Evaluation, "no_applicable_rule") {
		t.Errorf("Expected no_applicable_rule suggestion, got %+v", resp.Evaluation.Suggestions)
	}
}

// ============================================================================
// SCENARIO 5: Rule changes apply on re-classification
// ============================================================================

func TestRuleChange_BatchReclassify(t *testing.T) {
	config := getTestConfig(t)

	first := ingest(t, config, TransactionRequest{Description: "Uber aeropuerto", TransactionType: "business"})
	if first.Evaluation.Classification.IsIsrDeductible != nil {
		t.Fatal("Expected no classification without rules")
	}

	createRule(t, config, RuleForm{
		Name:               "Transporte",
		Priority:           10,
		MatchKeywords:      []string{"uber"},
		SetIsIsrDeductible: boolPtr(true),
	})

	var report BatchReport
	call(t, config, http.MethodPost, "/classify/batch", map[string]any{"unclassified": true}, http.StatusOK, &report)
	if len(report.Failed) != 0 {
		t.Errorf("Expected no failures, got %v", report.Failed)
	}

	var tx struct {
		IsIsrDeductible *bool `json:"isIsrDeductible"`
	}
	call(t, config, http.MethodGet, "/transactions/"+first.TxID, nil, http.StatusOK, &tx)
	if tx.IsIsrDeductible == nil || !*tx.IsIsrDeductible {
		t.Errorf("Expected transaction reclassified as deductible, got %v", tx.IsIsrDeductible)
	}
}

// ============================================================================
// SCENARIO 6: Tenants never see each other's data
// ============================================================================

func TestTenantIsolation(t *testing.T) {
	config := getTestConfig(t)
	seedSATRules(t, config)
	resp := ingest(t, config, TransactionRequest{Description: "Gasolina", TransactionType: "business", PaymentMethod: "03"})

	other := getTestConfig(t)
	call(t, other, http.MethodGet, "/transactions/"+resp.TxID, nil, http.StatusNotFound, nil)
	call(t, other, http.MethodGet, "/evaluations/"+resp.Evaluation.ID, nil, http.StatusNotFound, nil)

	otherResp := ingest(t, other, TransactionRequest{Description: "Gasolina", TransactionType: "business", PaymentMethod: "03"})
	if otherResp.Evaluation.Classification.IsIsrDeductible != nil {
		t.Error("Expected other tenant to have no rules")
	}
}
