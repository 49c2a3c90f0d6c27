package report

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/keeper/internal/analytics"
	"github.com/opensource-finance/keeper/internal/domain"
	"github.com/opensource-finance/keeper/internal/timebucket"
)

// FinancialParams are the inputs of the financial analytics report.
type FinancialParams struct {
	StartDate *time.Time
	EndDate   *time.Time
	Currency  string `validate:"omitempty,len=3,alpha"`
	GroupBy   string `validate:"omitempty,oneof=day week month quarter year"`
}

// FinancialData is everything fetched for the financial report.
type FinancialData struct {
	Invoices    []*domain.Invoice
	Receipts    []*domain.Receipt
	CreditNotes []*domain.CreditNote
}

// Financial is the financial analytics report.
type Financial struct {
	Period             Period                 `json:"period"`
	Currency           string                 `json:"currency,omitempty"`
	FinancialMetrics   FinancialMetrics       `json:"financial_metrics"`
	Distributions      FinancialDistributions `json:"distributions"`
	TimeSeries         []FinancialRow         `json:"time_series"`
	TopClients         []ClientRevenue        `json:"top_clients"`
	AgingAnalysis      AgingAnalysis          `json:"aging_analysis"`
	RecentTransactions []Transaction          `json:"recent_transactions"`
}

// FinancialMetrics are the headline numbers. Outstanding may be negative
// when receipts and credits exceed what was invoiced.
type FinancialMetrics struct {
	TotalInvoiced        float64 `json:"total_invoiced"`
	TotalPaid            float64 `json:"total_paid"`
	TotalCredited        float64 `json:"total_credited"`
	OutstandingAmount    float64 `json:"outstanding_amount"`
	CollectionRate       float64 `json:"collection_rate"`
	InvoiceCount         int     `json:"invoice_count"`
	ReceiptCount         int     `json:"receipt_count"`
	CreditNoteCount      int     `json:"credit_note_count"`
	AverageInvoiceAmount float64 `json:"average_invoice_amount"`
	OverdueAmount        float64 `json:"overdue_amount"`
	OverdueCount         int     `json:"overdue_count"`
	AveragePaymentDays   float64 `json:"average_payment_days"`
}

type FinancialDistributions struct {
	InvoicesByStatus   map[string]AmountCount `json:"invoices_by_status"`
	InvoicesByCurrency map[string]AmountCount `json:"invoices_by_currency"`
	PaymentMethods     map[string]AmountCount `json:"payment_methods"`
	CreditNoteReasons  map[string]AmountCount `json:"credit_note_reasons"`
}

type FinancialRow struct {
	Label        string  `json:"label"`
	Invoiced     float64 `json:"invoiced"`
	Paid         float64 `json:"paid"`
	Credited     float64 `json:"credited"`
	InvoiceCount int     `json:"invoice_count"`
}

type ClientRevenue struct {
	ClientID     string  `json:"client_id"`
	ClientName   string  `json:"client_name"`
	Amount       float64 `json:"amount"`
	InvoiceCount int     `json:"invoice_count"`
}

// AgingAnalysis splits open invoices by days past due.
type AgingAnalysis struct {
	Current    AmountCount `json:"current"`
	Days31To60 AmountCount `json:"days_31_60"`
	Days61To90 AmountCount `json:"days_61_90"`
	Over90     AmountCount `json:"over_90"`
	Total      float64     `json:"total"`
}

// Transaction is one invoice, receipt or credit note in the recent list.
type Transaction struct {
	Type     string    `json:"type"`
	ID       string    `json:"id"`
	Number   string    `json:"number"`
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
	Date     time.Time `json:"date"`
	Status   string    `json:"status,omitempty"`
}

// Financial fetches invoices, receipts and credit notes. Unlike the other
// reports any failed fetch aborts it: partial money figures are worse than
// none.
func (s *Service) Financial(ctx context.Context, p FinancialParams) (*Financial, error) {
	ctx, span := s.tracer.Start(ctx, "report.financial")
	defer span.End()

	r, err := s.resolveRange("", string(timebucket.Month), p.StartDate, p.EndDate)
	if err != nil {
		return nil, err
	}
	gran, err := granularity(p.GroupBy, r)
	if err != nil {
		return nil, err
	}

	var d FinancialData
	g, gctx := errgroup.WithContext(ctx)

	fetch(gctx, s, g, "invoices", true, &d.Invoices, func(ctx context.Context) ([]*domain.Invoice, error) {
		q := domain.NewQuery().Between("issue_date", r.Start, r.End).Eq("currency", p.Currency)
		return s.repo.ListInvoices(ctx, s.limited(q))
	})
	fetch(gctx, s, g, "receipts", true, &d.Receipts, func(ctx context.Context) ([]*domain.Receipt, error) {
		q := domain.NewQuery().Between("issue_date", r.Start, r.End).Eq("currency", p.Currency)
		return s.repo.ListReceipts(ctx, s.limited(q))
	})
	fetch(gctx, s, g, "credit_notes", true, &d.CreditNotes, func(ctx context.Context) ([]*domain.CreditNote, error) {
		q := domain.NewQuery().Between("issue_date", r.Start, r.End).Eq("currency", p.Currency)
		return s.repo.ListCreditNotes(ctx, s.limited(q))
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep, err := BuildFinancial(d, r, gran, s.now())
	if err != nil {
		return nil, err
	}
	rep.Currency = p.Currency
	return rep, nil
}

// BuildFinancial assembles the financial report. now anchors the aging
// analysis.
func BuildFinancial(d FinancialData, r timebucket.Range, g timebucket.Granularity, now time.Time) (*Financial, error) {
	d = FinancialData{
		Invoices:    within(d.Invoices, invoiceAt, r),
		Receipts:    within(d.Receipts, receiptAt, r),
		CreditNotes: within(d.CreditNotes, creditNoteAt, r),
	}
	series, err := financialSeries(d, r, g)
	if err != nil {
		return nil, err
	}

	total := invoiced(d.Invoices)
	received := analytics.Sum(d.Receipts, func(rc *domain.Receipt) decimal.Decimal { return rc.Amount })
	credited := analytics.Sum(d.CreditNotes, func(cn *domain.CreditNote) decimal.Decimal { return cn.Amount })
	overdue := analytics.Filter(d.Invoices, func(i *domain.Invoice) bool { return i.Status == domain.InvoiceOverdue })

	average := decimal.Zero
	if n := len(d.Invoices); n > 0 {
		average = analytics.Sum(d.Invoices, invoiceAmount).Div(decimal.NewFromInt(int64(n)))
	}

	return &Financial{
		Period: periodOf(r, g),
		FinancialMetrics: FinancialMetrics{
			TotalInvoiced:        analytics.Money(total),
			TotalPaid:            analytics.Money(received),
			TotalCredited:        analytics.Money(credited),
			OutstandingAmount:    analytics.Money(total.Sub(received).Sub(credited)),
			CollectionRate:       analytics.RateDecimal(received, total),
			InvoiceCount:         len(d.Invoices),
			ReceiptCount:         len(d.Receipts),
			CreditNoteCount:      len(d.CreditNotes),
			AverageInvoiceAmount: analytics.Money(average),
			OverdueAmount:        analytics.Money(analytics.Sum(overdue, invoiceAmount)),
			OverdueCount:         len(overdue),
			AveragePaymentDays: analytics.AverageDuration(d.Invoices, d.Receipts,
				analytics.Span[*domain.Invoice]{Key: func(i *domain.Invoice) string { return i.ID }, At: invoiceAt},
				analytics.Span[*domain.Receipt]{Key: func(rc *domain.Receipt) string { return rc.InvoiceID }, At: receiptAt},
			),
		},
		Distributions: FinancialDistributions{
			InvoicesByStatus:   amountCounts(d.Invoices, func(i *domain.Invoice) string { return i.Status }, invoiceAmount),
			InvoicesByCurrency: amountCounts(d.Invoices, func(i *domain.Invoice) string { return i.Currency }, invoiceAmount),
			PaymentMethods: amountCounts(d.Receipts,
				func(rc *domain.Receipt) string { return rc.PaymentMethod },
				func(rc *domain.Receipt) decimal.Decimal { return rc.Amount }),
			CreditNoteReasons: amountCounts(d.CreditNotes,
				func(cn *domain.CreditNote) string { return cn.Reason },
				func(cn *domain.CreditNote) decimal.Decimal { return cn.Amount }),
		},
		TimeSeries:         series,
		TopClients:         topClients(d.Invoices, topItems),
		AgingAnalysis:      agingAnalysis(analytics.AgingBuckets(d.Invoices, now)),
		RecentTransactions: recentTransactions(d, recentItems),
	}, nil
}

func financialSeries(d FinancialData, r timebucket.Range, g timebucket.Granularity) ([]FinancialRow, error) {
	rows, err := analytics.BucketedTimeSeries(d.Invoices, invoiceAt, r.Start, r.End, g,
		func(b analytics.Bucket[*domain.Invoice]) FinancialRow {
			return FinancialRow{Label: b.Label, Invoiced: analytics.Money(invoiced(b.Records)), InvoiceCount: len(b.Records)}
		})
	if err != nil {
		return nil, err
	}
	receipts, err := analytics.BucketedTimeSeries(d.Receipts, receiptAt, r.Start, r.End, g,
		func(b analytics.Bucket[*domain.Receipt]) float64 {
			return analytics.Money(analytics.Sum(b.Records, func(rc *domain.Receipt) decimal.Decimal { return rc.Amount }))
		})
	if err != nil {
		return nil, err
	}
	credits, err := analytics.BucketedTimeSeries(d.CreditNotes, creditNoteAt, r.Start, r.End, g,
		func(b analytics.Bucket[*domain.CreditNote]) float64 {
			return analytics.Money(analytics.Sum(b.Records, func(cn *domain.CreditNote) decimal.Decimal { return cn.Amount }))
		})
	if err != nil {
		return nil, err
	}

	for i := range rows {
		rows[i].Paid = receipts[i]
		rows[i].Credited = credits[i]
	}
	return rows, nil
}

type tally struct {
	amount decimal.Decimal
	count  int
}

func newTally() tally { return tally{amount: decimal.Zero} }

func (t tally) view() AmountCount {
	return AmountCount{Amount: analytics.Money(t.amount), Count: t.count}
}

func amountCounts[T any](records []T, key func(T) string, amount func(T) decimal.Decimal) map[string]AmountCount {
	g := analytics.GroupBy(records, key, newTally, func(t tally, r T) tally {
		return tally{amount: t.amount.Add(amount(r)), count: t.count + 1}
	})
	return analytics.MapValues(g, tally.view)
}

type clientTally struct {
	name string
	tally
}

func topClients(invoices []*domain.Invoice, n int) []ClientRevenue {
	billed := analytics.Filter(invoices, func(i *domain.Invoice) bool {
		return i.Status != domain.InvoiceDraft && i.Status != domain.InvoiceCancelled
	})
	g := analytics.GroupBy(billed,
		func(i *domain.Invoice) string { return i.ClientID },
		func() clientTally { return clientTally{tally: newTally()} },
		func(c clientTally, i *domain.Invoice) clientTally {
			if c.name == "" && i.Client != nil {
				c.name = i.Client.Name
			}
			c.amount = c.amount.Add(i.Amount)
			c.count++
			return c
		})

	top := analytics.TopN(g, n, func(a, b clientTally) bool { return a.amount.GreaterThan(b.amount) })
	out := make([]ClientRevenue, len(top))
	for i, e := range top {
		out[i] = ClientRevenue{
			ClientID:     e.Key,
			ClientName:   e.Value.name,
			Amount:       analytics.Money(e.Value.amount),
			InvoiceCount: e.Value.count,
		}
	}
	return out
}

func agingAnalysis(a analytics.Aging) AgingAnalysis {
	view := func(b analytics.AgingBucket) AmountCount {
		return AmountCount{Amount: analytics.Money(b.Amount), Count: b.Count}
	}
	return AgingAnalysis{
		Current:    view(a.Current),
		Days31To60: view(a.Days31To60),
		Days61To90: view(a.Days61To90),
		Over90:     view(a.Over90),
		Total:      analytics.Money(a.Total()),
	}
}

func recentTransactions(d FinancialData, n int) []Transaction {
	all := make([]Transaction, 0, len(d.Invoices)+len(d.Receipts)+len(d.CreditNotes))
	for _, i := range d.Invoices {
		all = append(all, Transaction{
			Type: "invoice", ID: i.ID, Number: i.InvoiceNumber, Amount: analytics.Money(i.Amount),
			Currency: i.Currency, Date: i.IssueDate, Status: i.Status,
		})
	}
	for _, rc := range d.Receipts {
		all = append(all, Transaction{
			Type: "receipt", ID: rc.ID, Number: rc.ReceiptNumber, Amount: analytics.Money(rc.Amount),
			Currency: rc.Currency, Date: rc.IssueDate,
		})
	}
	for _, cn := range d.CreditNotes {
		all = append(all, Transaction{
			Type: "credit_note", ID: cn.ID, Number: cn.CreditNoteNumber, Amount: analytics.Money(cn.Amount),
			Currency: cn.Currency, Date: cn.IssueDate,
		})
	}
	return analytics.MostRecent(all, func(t Transaction) time.Time { return t.Date }, n)
}
