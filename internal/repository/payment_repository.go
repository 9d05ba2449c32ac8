package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/TGAssistantBot/internal/database"
	"github.com/digkill/TGAssistantBot/internal/models"
)

// PaymentRepository persists the invoice state machine.
type PaymentRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewPaymentRepository(db *sql.DB, dialect database.Dialect) *PaymentRepository {
	return &PaymentRepository{db: db, dialect: dialect}
}

const invoiceColumns = `invoice_id, user_id, amount, asset, status, pay_url, created_at, updated_at`

func (r *PaymentRepository) Create(ctx context.Context, inv *models.Invoice) error {
	query := r.dialect.InsertIgnore() + ` INTO payments (` + invoiceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if inv.Status == "" {
		inv.Status = models.InvoiceCreated
	}
	if _, err := r.db.ExecContext(ctx, query, inv.InvoiceID, inv.UserID, inv.Amount, inv.Asset, string(inv.Status), inv.PayURL, inv.CreatedAt, inv.UpdatedAt); err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// MarkPaid records a paid notification. Unknown invoices are inserted as paid;
// known ones move from created to paid. Later states are left untouched.
func (r *PaymentRepository) MarkPaid(ctx context.Context, inv models.Invoice, at time.Time) error {
	insert := r.dialect.InsertIgnore() + ` INTO payments (` + invoiceColumns + `) VALUES (?, ?, ?, ?, ?, '', ?, ?)`
	if _, err := r.db.ExecContext(ctx, insert, inv.InvoiceID, inv.UserID, inv.Amount, inv.Asset, string(models.InvoicePaid), at, at); err != nil {
		return fmt.Errorf("insert paid invoice: %w", err)
	}

	const update = `UPDATE payments SET status = ?, updated_at = ? WHERE invoice_id = ? AND status = ?`
	if _, err := r.db.ExecContext(ctx, update, string(models.InvoicePaid), at, inv.InvoiceID, string(models.InvoiceCreated)); err != nil {
		return fmt.Errorf("mark invoice paid: %w", err)
	}
	return nil
}

// MarkActivated moves a paid invoice to activated. It reports false when the
// invoice was not in the paid state, so only one caller ever wins.
func (r *PaymentRepository) MarkActivated(ctx context.Context, invoiceID string, at time.Time) (bool, error) {
	const query = `UPDATE payments SET status = ?, updated_at = ? WHERE invoice_id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query, string(models.InvoiceActivated), at, invoiceID, string(models.InvoicePaid))
	if err != nil {
		return false, fmt.Errorf("mark invoice activated: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("invoice rows affected: %w", err)
	}
	return affected > 0, nil
}

// RevertActivated returns an invoice to paid after a failed activation.
func (r *PaymentRepository) RevertActivated(ctx context.Context, invoiceID string, at time.Time) error {
	const query = `UPDATE payments SET status = ?, updated_at = ? WHERE invoice_id = ? AND status = ?`
	if _, err := r.db.ExecContext(ctx, query, string(models.InvoicePaid), at, invoiceID, string(models.InvoiceActivated)); err != nil {
		return fmt.Errorf("revert invoice: %w", err)
	}
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM payments WHERE invoice_id = ? LIMIT 1`
	inv, err := scanInvoice(r.db.QueryRowContext(ctx, query, invoiceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	return inv, nil
}

// ListByStatus returns invoices in the given state, oldest first.
func (r *PaymentRepository) ListByStatus(ctx context.Context, status models.InvoiceStatus, limit int) ([]models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM payments WHERE status = ? ORDER BY created_at LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice list: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var (
		inv    models.Invoice
		status string
	)
	if err := row.Scan(&inv.InvoiceID, &inv.UserID, &inv.Amount, &inv.Asset, &status, &inv.PayURL, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	inv.Status = models.InvoiceStatus(status)
	return &inv, nil
}
