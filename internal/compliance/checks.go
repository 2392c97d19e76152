package compliance

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/fiscal/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// Suggestion types raised by the default checks.
const (
	TypeNoApplicableRule         = "no_applicable_rule"
	TypeIvaUndetermined          = "iva_undetermined"
	TypeCashPaymentLimit         = "cash_payment_limit"
	TypeFuelCashPayment          = "fuel_cash_payment"
	TypeNoInvoiceIsrConflict     = "no_invoice_isr_conflict"
	TypeMissingCfdiUse           = "missing_cfdi_use"
	TypePersonalMarkedDeductible = "personal_marked_deductible"
)

// DefaultChecks returns the default SAT checks configured from cfg.
func DefaultChecks(cfg domain.ComplianceConfig) ([]Check, error) {
	limit, err := decimal.NewFromString(strings.TrimSpace(cfg.CashPaymentLimit))
	if err != nil {
		return nil, fmt.Errorf("invalid compliance.cashPaymentLimit %q: %w", cfg.CashPaymentLimit, err)
	}
	if limit.IsNegative() {
		return nil, fmt.Errorf("compliance.cashPaymentLimit must not be negative, got %s", limit)
	}

	electronic := make(map[string]bool, len(cfg.ElectronicPaymentMethods))
	for _, m := range cfg.ElectronicPaymentMethods {
		electronic[strings.TrimSpace(m)] = true
	}

	return []Check{
		NoApplicableRule,
		IvaUndetermined,
		CashPaymentLimit(limit, cfg.Currency, electronic),
		FuelCashPayment(cfg.FuelKeywords, electronic),
		NoInvoiceIsrConflict,
		MissingCfdiUse,
		PersonalMarkedDeductible,
	}, nil
}

// NoApplicableRule flags a transaction no rule contributed to.
func NoApplicableRule(tx *domain.Transaction, c *domain.ClassificationResult) *domain.ComplianceSuggestion {
	if c.Matched() {
		return nil
	}
	return &domain.ComplianceSuggestion{
		Severity:        domain.SeverityWarning,
		SuggestionType:  TypeNoApplicableRule,
		Title:           "Sin regla de deducibilidad aplicable",
		Description:     fmt.Sprintf("Ninguna regla activa clasificó la transacción %q.", tx.Description),
		SuggestedAction: "Crea una regla que cubra esta categoría o clasifica la transacción manualmente.",
	}
}

// IvaUndetermined flags a business expense that qualifies for IVA
// creditability but no rule decided it.
func IvaUndetermined(tx *domain.Transaction, c *domain.ClassificationResult) *domain.ComplianceSuggestion {
	if c.IsIvaDeductible.IsSet() || tx.TransactionType != domain.TransactionBusiness {
		return nil
	}
	if c.ExpenseType != domain.ExpenseNational && c.ExpenseType != domain.ExpenseInternationalWithInvoice {
		return nil
	}
	return &domain.ComplianceSuggestion{
		Severity:        domain.SeverityWarning,
		SuggestionType:  TypeIvaUndetermined,
		Title:           "IVA acreditable sin determinar",
		Description:     "El gasto es de negocio y con tipo de gasto elegible, pero ninguna regla definió si el IVA es acreditable.",
		SuggestedAction: "Agrega una regla que defina el IVA acreditable para este tipo de gasto.",
	}
}

// CashPaymentLimit flags an ISR-deductible payment above limit that was not
// paid electronically. Amounts in other currencies are not compared.
func CashPaymentLimit(limit decimal.Decimal, currency string, electronic map[string]bool) Check {
	return func(tx *domain.Transaction, c *domain.ClassificationResult) *domain.ComplianceSuggestion {
		if !c.IsIsrDeductible.IsTrue() || tx.Amount == nil || !tx.Amount.GreaterThan(limit) {
			return nil
		}
		if currency != "" && tx.Currency != "" && !strings.EqualFold(tx.Currency, currency) {
			return nil
		}
		if !paidNonElectronically(tx.PaymentMethod, electronic) {
			return nil
		}
		return &domain.ComplianceSuggestion{
			Severity:       domain.SeverityError,
			SuggestionType: TypeCashPaymentLimit,
			Title:          "Pago en efectivo excede el límite deducible",
			Description: fmt.Sprintf("El monto %s %s supera el límite de %s para pagos que no son electrónicos.",
				tx.Amount.StringFixed(2), currencyOr(tx.Currency, currency), limit.StringFixed(2)),
			SuggestedAction: "Paga con transferencia, cheque nominativo o tarjeta, o marca el gasto como no deducible.",
		}
	}
}

// FuelCashPayment flags fuel purchases marked ISR deductible that were not
// paid electronically.
func FuelCashPayment(keywords []string, electronic map[string]bool) Check {
	folded := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			folded = append(folded, cases.Fold().String(kw))
		}
	}

	return func(tx *domain.Transaction, c *domain.ClassificationResult) *domain.ComplianceSuggestion {
		if !c.IsIsrDeductible.IsTrue() || !paidNonElectronically(tx.PaymentMethod, electronic) {
			return nil
		}
		text := cases.Fold().String(tx.Description + " " + tx.CategoryName)
		for _, kw := range folded {
			if strings.Contains(text, kw) {
				return &domain.ComplianceSuggestion{
					Severity:        domain.SeverityError,
					SuggestionType:  TypeFuelCashPayment,
					Title:           "Combustible pagado en efectivo",
					Description:     "Los consumos de combustible solo son deducibles si se pagan con medios electrónicos.",
					SuggestedAction: "Verifica la forma de pago o marca el gasto como no deducible.",
				}
			}
		}
		return nil
	}
}

// NoInvoiceIsrConflict flags an international expense without invoice that
// was marked ISR deductible.
func NoInvoiceIsrConflict(tx *domain.Transaction, c *domain.ClassificationResult) *domain.ComplianceSuggestion {
	if c.ExpenseType != domain.ExpenseInternationalNoInvoice || !c.IsIsrDeductible.IsTrue() {
		return nil
	}
	return &domain.ComplianceSuggestion{
		Severity:        domain.SeverityError,
		SuggestionType:  TypeNoInvoiceIsrConflict,
		Title:           "Gasto sin factura marcado como deducible",
		Description:     "El gasto es internacional sin factura pero quedó marcado como deducible de ISR.",
		SuggestedAction: "Obtén el comprobante fiscal o revisa la regla que marcó el gasto como deducible.",
	}
}

// MissingCfdiUse flags a deductible business expense without a CFDI use code.
func MissingCfdiUse(tx *domain.Transaction, c *domain.ClassificationResult) *domain.ComplianceSuggestion {
	if !c.IsIsrDeductible.IsTrue() || tx.TransactionType != domain.TransactionBusiness || strings.TrimSpace(tx.CfdiUse) != "" {
		return nil
	}
	return &domain.ComplianceSuggestion{
		Severity:        domain.SeverityWarning,
		SuggestionType:  TypeMissingCfdiUse,
		Title:           "Falta el uso de CFDI",
		Description:     "El gasto es deducible pero no tiene uso de CFDI registrado.",
		SuggestedAction: "Captura el uso de CFDI de la factura (por ejemplo G03 Gastos en general).",
	}
}

// PersonalMarkedDeductible notes a personal transaction marked ISR deductible.
func PersonalMarkedDeductible(tx *domain.Transaction, c *domain.ClassificationResult) *domain.ComplianceSuggestion {
	if tx.TransactionType != domain.TransactionPersonal || !c.IsIsrDeductible.IsTrue() {
		return nil
	}
	return &domain.ComplianceSuggestion{
		Severity:        domain.SeverityInfo,
		SuggestionType:  TypePersonalMarkedDeductible,
		Title:           "Gasto personal marcado como deducible",
		Description:     "Solo ciertas deducciones personales son válidas en la declaración anual.",
		SuggestedAction: "Confirma que el gasto corresponde a una deducción personal permitida.",
	}
}

// paidNonElectronically reports whether method is a known non-electronic
// payment. An empty method or "99" (to be defined) is not judged.
func paidNonElectronically(method string, electronic map[string]bool) bool {
	method = strings.TrimSpace(method)
	if method == "" || method == domain.PaymentToBeDefined {
		return false
	}
	return !electronic[method]
}

func currencyOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
