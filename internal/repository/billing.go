package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opensource-finance/keeper/internal/domain"
)

// SaveInvoice stores an invoice.
func (r *SQLRepository) SaveInvoice(ctx context.Context, inv *domain.Invoice) error {
	if inv == nil || inv.ID == "" {
		return fmt.Errorf("%w: invoice id is required", ErrInvalidInput)
	}
	if inv.Amount.IsNegative() {
		return fmt.Errorf("%w: invoice amount must not be negative", ErrInvalidInput)
	}

	query := `
		INSERT INTO invoices (
			id, invoice_number, client_id, amount, currency, status,
			issue_date, due_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		inv.ID, inv.InvoiceNumber, inv.ClientID, inv.Amount.String(), inv.Currency, inv.Status,
		utc(inv.IssueDate), nullTime(inv.DueDate), utc(inv.CreatedAt),
	)
	return err
}

// ListInvoices returns invoices with their client joined.
func (r *SQLRepository) ListInvoices(ctx context.Context, q *domain.Query) ([]*domain.Invoice, error) {
	return list(ctx, r, invoicesTable, q, func(row rowScanner) (*domain.Invoice, error) {
		var (
			inv                       domain.Invoice
			due                       sql.NullTime
			cID, cName, cType, cCntry sql.NullString
		)
		if err := row.Scan(
			&inv.ID, &inv.InvoiceNumber, &inv.ClientID, &inv.Amount, &inv.Currency, &inv.Status,
			&inv.IssueDate, &due, &inv.CreatedAt,
			&cID, &cName, &cType, &cCntry,
		); err != nil {
			return nil, err
		}
		if due.Valid {
			d := due.Time
			inv.DueDate = &d
		}
		if cID.Valid {
			inv.Client = &domain.ClientRef{ID: cID.String, Name: cName.String, Type: cType.String, Country: cCntry.String}
		}
		return &inv, nil
	})
}

// SaveReceipt stores a payment receipt.
func (r *SQLRepository) SaveReceipt(ctx context.Context, rc *domain.Receipt) error {
	if rc == nil || rc.ID == "" {
		return fmt.Errorf("%w: receipt id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO receipts (
			id, receipt_number, invoice_id, amount, currency, payment_method,
			issue_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rc.ID, rc.ReceiptNumber, rc.InvoiceID, rc.Amount.String(), rc.Currency, rc.PaymentMethod,
		utc(rc.IssueDate), utc(rc.CreatedAt),
	)
	return err
}

// ListReceipts returns receipts with their invoice joined.
func (r *SQLRepository) ListReceipts(ctx context.Context, q *domain.Query) ([]*domain.Receipt, error) {
	return list(ctx, r, receiptsTable, q, func(row rowScanner) (*domain.Receipt, error) {
		var rc domain.Receipt
		var ref invoiceRefColumns
		if err := row.Scan(
			&rc.ID, &rc.ReceiptNumber, &rc.InvoiceID, &rc.Amount, &rc.Currency, &rc.PaymentMethod,
			&rc.IssueDate, &rc.CreatedAt,
			&ref.id, &ref.number, &ref.clientID,
		); err != nil {
			return nil, err
		}
		rc.Invoice = ref.toRef()
		return &rc, nil
	})
}

// SaveCreditNote stores a credit note.
func (r *SQLRepository) SaveCreditNote(ctx context.Context, cn *domain.CreditNote) error {
	if cn == nil || cn.ID == "" {
		return fmt.Errorf("%w: credit note id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO credit_notes (
			id, credit_note_number, invoice_id, amount, currency, reason,
			issue_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		cn.ID, cn.CreditNoteNumber, cn.InvoiceID, cn.Amount.String(), cn.Currency, cn.Reason,
		utc(cn.IssueDate), utc(cn.CreatedAt),
	)
	return err
}

// ListCreditNotes returns credit notes with their invoice joined.
func (r *SQLRepository) ListCreditNotes(ctx context.Context, q *domain.Query) ([]*domain.CreditNote, error) {
	return list(ctx, r, creditNotesTable, q, func(row rowScanner) (*domain.CreditNote, error) {
		var cn domain.CreditNote
		var ref invoiceRefColumns
		if err := row.Scan(
			&cn.ID, &cn.CreditNoteNumber, &cn.InvoiceID, &cn.Amount, &cn.Currency, &cn.Reason,
			&cn.IssueDate, &cn.CreatedAt,
			&ref.id, &ref.number, &ref.clientID,
		); err != nil {
			return nil, err
		}
		cn.Invoice = ref.toRef()
		return &cn, nil
	})
}

// invoiceRefColumns holds the nullable columns of a LEFT JOIN on invoices.
type invoiceRefColumns struct {
	id, number, clientID sql.NullString
}

func (c invoiceRefColumns) toRef() *domain.InvoiceRef {
	if !c.id.Valid {
		return nil
	}
	return &domain.InvoiceRef{ID: c.id.String, InvoiceNumber: c.number.String, ClientID: c.clientID.String}
}
