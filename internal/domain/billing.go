package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice statuses
const (
	InvoiceDraft     = "draft"
	InvoiceSent      = "sent"
	InvoicePaid      = "paid"
	InvoiceOverdue   = "overdue"
	InvoiceCancelled = "cancelled"
)

// Invoice is a bill issued to a client.
type Invoice struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoiceNumber"`
	ClientID      string          `json:"clientId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	IssueDate     time.Time       `json:"issueDate"`
	DueDate       *time.Time      `json:"dueDate,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`

	Client *ClientRef `json:"client,omitempty"`
}

// IsOpen reports whether the invoice still awaits payment.
func (i *Invoice) IsOpen() bool {
	return i.Status == InvoiceSent || i.Status == InvoiceOverdue
}

// InvoiceRef is the projection of an invoice joined onto a receipt or credit note.
type InvoiceRef struct {
	ID            string `json:"id"`
	InvoiceNumber string `json:"invoiceNumber"`
	ClientID      string `json:"clientId"`
}

// Receipt records a payment against an invoice.
type Receipt struct {
	ID            string          `json:"id"`
	ReceiptNumber string          `json:"receiptNumber"`
	InvoiceID     string          `json:"invoiceId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"paymentMethod"`
	IssueDate     time.Time       `json:"issueDate"`
	CreatedAt     time.Time       `json:"createdAt"`

	Invoice *InvoiceRef `json:"invoice,omitempty"`
}

// CreditNote reduces the amount owed on an invoice.
type CreditNote struct {
	ID               string          `json:"id"`
	CreditNoteNumber string          `json:"creditNoteNumber"`
	InvoiceID        string          `json:"invoiceId"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Reason           string          `json:"reason"`
	IssueDate        time.Time       `json:"issueDate"`
	CreatedAt        time.Time       `json:"createdAt"`

	Invoice *InvoiceRef `json:"invoice,omitempty"`
}
