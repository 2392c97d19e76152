package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType separates business spend from personal spend and transfers.
type TransactionType string

const (
	TransactionBusiness TransactionType = "business"
	TransactionPersonal TransactionType = "personal"
	TransactionTransfer TransactionType = "transfer"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionBusiness, TransactionPersonal, TransactionTransfer:
		return true
	}
	return false
}

// ExpenseType classifies spend as national or international, with or without invoice.
// The empty value means unset.
type ExpenseType string

const (
	ExpenseNational                 ExpenseType = "national"
	ExpenseInternationalWithInvoice ExpenseType = "international_with_invoice"
	ExpenseInternationalNoInvoice   ExpenseType = "international_no_invoice"
)

// Valid reports whether e is one of the known expense types.
func (e ExpenseType) Valid() bool {
	switch e {
	case ExpenseNational, ExpenseInternationalWithInvoice, ExpenseInternationalNoInvoice:
		return true
	}
	return false
}

// SAT "forma de pago" codes the compliance checks care about.
const (
	PaymentCash        = "01"
	PaymentCheck       = "02"
	PaymentTransfer    = "03"
	PaymentCreditCard  = "04"
	PaymentDebitCard   = "28"
	PaymentServiceCard = "29"
	PaymentToBeDefined = "99"
)

// EntityTransaction is the entity type used in logs and suggestions.
const EntityTransaction = "transaction"

// Transaction is a financial transaction that needs tax classification.
// The engine consumes it read-only.
type Transaction struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Description  string `json:"description"`
	CategoryID   string `json:"categoryId,omitempty"`
	CategoryName string `json:"categoryName,omitempty"`

	// Amount is nil when the source record has no amount.
	Amount   *decimal.Decimal `json:"amount"`
	Currency string           `json:"currency,omitempty"`

	TransactionType TransactionType `json:"transactionType,omitempty"`
	ExpenseType     ExpenseType     `json:"expenseType,omitempty"`

	// CFDI context
	PaymentMethod string `json:"paymentMethod,omitempty"`
	CfdiUse       string `json:"cfdiUse,omitempty"`
	InvoiceUUID   string `json:"invoiceUuid,omitempty"`

	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"createdAt"`

	// Written back by the persistence layer after classification. The
	// classified expense type is kept apart from ExpenseType, which stays the
	// transaction's own value and seeds every run.
	IsIsrDeductible       TriState    `json:"isIsrDeductible"`
	IsIvaDeductible       TriState    `json:"isIvaDeductible"`
	ClassifiedExpenseType ExpenseType `json:"classifiedExpenseType,omitempty"`
	ClassifiedAt          *time.Time  `json:"classifiedAt,omitempty"`
}

// TransactionRequest is the API payload for ingesting a transaction.
type TransactionRequest struct {
	ID              string           `json:"id,omitempty"`
	Description     string           `json:"description"`
	CategoryID      string           `json:"categoryId,omitempty"`
	CategoryName    string           `json:"categoryName,omitempty"`
	Amount          *decimal.Decimal `json:"amount"`
	Currency        string           `json:"currency,omitempty"`
	TransactionType TransactionType  `json:"transactionType,omitempty"`
	ExpenseType     ExpenseType      `json:"expenseType,omitempty"`
	PaymentMethod   string           `json:"paymentMethod,omitempty"`
	CfdiUse         string           `json:"cfdiUse,omitempty"`
	InvoiceUUID     string           `json:"invoiceUuid,omitempty"`
	Date            *time.Time       `json:"date,omitempty"`
}

// Validate checks the enum fields. Missing values are allowed.
func (r *TransactionRequest) Validate() error {
	if r.TransactionType != "" && !r.TransactionType.Valid() {
		return fmt.Errorf("unknown transactionType %q", r.TransactionType)
	}
	if r.ExpenseType != "" && !r.ExpenseType.Valid() {
		return fmt.Errorf("unknown expenseType %q", r.ExpenseType)
	}
	return nil
}

// ToTransaction converts a request to a Transaction domain object.
func (r *TransactionRequest) ToTransaction(tenantID string) *Transaction {
	now := time.Now().UTC()
	date := now
	if r.Date != nil {
		date = r.Date.UTC()
	}
	currency := r.Currency
	if currency == "" {
		currency = "MXN"
	}
	return &Transaction{
		ID:              r.ID,
		TenantID:        tenantID,
		Description:     r.Description,
		CategoryID:      r.CategoryID,
		CategoryName:    r.CategoryName,
		Amount:          r.Amount,
		Currency:        currency,
		TransactionType: r.TransactionType,
		ExpenseType:     r.ExpenseType,
		PaymentMethod:   r.PaymentMethod,
		CfdiUse:         r.CfdiUse,
		InvoiceUUID:     r.InvoiceUUID,
		Date:            date,
		CreatedAt:       now,
	}
}
