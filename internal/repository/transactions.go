package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opensource-finance/fiscal/internal/domain"
)

const transactionColumns = `
	id, tenant_id, description, category_id, category_name,
	amount, currency, transaction_type, expense_type,
	payment_method, cfdi_use, invoice_uuid, date, created_at,
	is_isr_deductible, is_iva_deductible, classified_expense_type, classified_at`

// SaveTransaction stores a transaction with tenant isolation. Saving an
// existing id replaces the input fields and keeps the stored classification.
// Classification results are never written here; see SaveEvaluation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, description, category_id, category_name,
			amount, currency, transaction_type, expense_type,
			payment_method, cfdi_use, invoice_uuid, date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			description = excluded.description,
			category_id = excluded.category_id,
			category_name = excluded.category_name,
			amount = excluded.amount,
			currency = excluded.currency,
			transaction_type = excluded.transaction_type,
			expense_type = excluded.expense_type,
			payment_method = excluded.payment_method,
			cfdi_use = excluded.cfdi_use,
			invoice_uuid = excluded.invoice_uuid,
			date = excluded.date
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.Description, tx.CategoryID, tx.CategoryName,
		decimalValue(tx.Amount), tx.Currency, string(tx.TransactionType), string(tx.ExpenseType),
		tx.PaymentMethod, tx.CfdiUse, tx.InvoiceUUID, tx.Date, tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ListUnclassified returns transactions that were never classified, oldest first.
func (r *SQLRepository) ListUnclassified(ctx context.Context, tenantID string, limit int) ([]*domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = ? AND classified_at IS NULL
		ORDER BY created_at, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amount sql.NullString
	var txType, expenseType, classifiedExpense string
	var isr, iva sql.NullInt64
	var classifiedAt sql.NullTime

	if err := s.Scan(
		&tx.ID, &tx.TenantID, &tx.Description, &tx.CategoryID, &tx.CategoryName,
		&amount, &tx.Currency, &txType, &expenseType,
		&tx.PaymentMethod, &tx.CfdiUse, &tx.InvoiceUUID, &tx.Date, &tx.CreatedAt,
		&isr, &iva, &classifiedExpense, &classifiedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if tx.Amount, err = decimalFromNull(amount); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	tx.TransactionType = domain.TransactionType(txType)
	tx.ExpenseType = domain.ExpenseType(expenseType)
	tx.IsIsrDeductible = triFromNull(isr)
	tx.IsIvaDeductible = triFromNull(iva)
	tx.ClassifiedExpenseType = domain.ExpenseType(classifiedExpense)
	if classifiedAt.Valid {
		t := classifiedAt.Time
		tx.ClassifiedAt = &t
	}
	return &tx, nil
}
