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

// OverviewParams are the inputs of the dashboard overview.
type OverviewParams struct {
	Timeframe string `validate:"omitempty,oneof=day week month quarter year custom"`
	StartDate *time.Time
	EndDate   *time.Time
}

// OverviewData is everything fetched for one overview period.
type OverviewData struct {
	Clients  []*domain.Client
	SKRs     []*domain.SKR
	Invoices []*domain.Invoice
	Audit    []*domain.AuditLogEntry
}

// Overview is the dashboard summary.
type Overview struct {
	Period         Period                `json:"period"`
	Summary        OverviewSummary       `json:"summary"`
	Growth         OverviewGrowth        `json:"growth"`
	Distributions  OverviewDistributions `json:"distributions"`
	TimeSeries     []OverviewRow         `json:"time_series"`
	RecentActivity []ActivityItem        `json:"recent_activity"`
}

type OverviewSummary struct {
	NewClients      int     `json:"new_clients"`
	ApprovedClients int     `json:"approved_clients"`
	ComplianceRate  float64 `json:"compliance_rate"`
	NewSKRs         int     `json:"new_skrs"`
	ActiveSKRs      int     `json:"active_skrs"`
	Invoices        int     `json:"invoices"`
	InvoicedAmount  float64 `json:"invoiced_amount"`
	PaidAmount      float64 `json:"paid_amount"`
	AuditEvents     int     `json:"audit_events"`
	ActiveUsers     int     `json:"active_users"`
}

// OverviewGrowth holds percentage changes against the previous period of
// equal length.
type OverviewGrowth struct {
	Clients  float64 `json:"clients"`
	SKRs     float64 `json:"skrs"`
	Invoices float64 `json:"invoices"`
	Revenue  float64 `json:"revenue"`
	Activity float64 `json:"activity"`
}

type OverviewDistributions struct {
	ClientsByType    map[string]int `json:"clients_by_type"`
	ClientsByStatus  map[string]int `json:"clients_by_compliance_status"`
	SKRsByStatus     map[string]int `json:"skrs_by_status"`
	SKRsByAssetType  map[string]int `json:"skrs_by_asset_type"`
	InvoicesByStatus map[string]int `json:"invoices_by_status"`
	TopActions       []Ranked       `json:"top_actions"`
}

type OverviewRow struct {
	Label    string  `json:"label"`
	Clients  int     `json:"clients"`
	SKRs     int     `json:"skrs"`
	Invoices int     `json:"invoices"`
	Revenue  float64 `json:"revenue"`
}

// Overview fetches the current period, then the previous one for growth.
func (s *Service) Overview(ctx context.Context, p OverviewParams) (*Overview, error) {
	ctx, span := s.tracer.Start(ctx, "report.overview")
	defer span.End()

	r, err := s.resolveRange(p.Timeframe, string(timebucket.Month), p.StartDate, p.EndDate)
	if err != nil {
		return nil, err
	}

	cur, err := s.fetchOverview(ctx, r)
	if err != nil {
		return nil, err
	}
	prev, err := s.fetchOverview(ctx, r.Previous())
	if err != nil {
		return nil, err
	}

	return BuildOverview(cur, prev, r)
}

func (s *Service) fetchOverview(ctx context.Context, r timebucket.Range) (OverviewData, error) {
	var d OverviewData
	g, ctx := errgroup.WithContext(ctx)

	fetch(ctx, s, g, "clients", false, &d.Clients, func(ctx context.Context) ([]*domain.Client, error) {
		return s.repo.ListClients(ctx, s.limited(domain.NewQuery().Between("created_at", r.Start, r.End)))
	})
	fetch(ctx, s, g, "skrs", false, &d.SKRs, func(ctx context.Context) ([]*domain.SKR, error) {
		return s.repo.ListSKRs(ctx, s.limited(domain.NewQuery().Between("created_at", r.Start, r.End)))
	})
	fetch(ctx, s, g, "invoices", false, &d.Invoices, func(ctx context.Context) ([]*domain.Invoice, error) {
		return s.repo.ListInvoices(ctx, s.limited(domain.NewQuery().Between("issue_date", r.Start, r.End)))
	})
	fetch(ctx, s, g, "audit_logs", false, &d.Audit, func(ctx context.Context) ([]*domain.AuditLogEntry, error) {
		return s.repo.ListAuditLogs(ctx, s.limited(domain.NewQuery().Between("created_at", r.Start, r.End)))
	})

	return d, g.Wait()
}

// within drops rows outside r so each period counts only its own records.
func (d OverviewData) within(r timebucket.Range) OverviewData {
	return OverviewData{
		Clients:  within(d.Clients, clientAt, r),
		SKRs:     within(d.SKRs, skrAt, r),
		Invoices: within(d.Invoices, invoiceAt, r),
		Audit:    within(d.Audit, auditAt, r),
	}
}

// BuildOverview assembles the overview from both periods' data.
func BuildOverview(cur, prev OverviewData, r timebucket.Range) (*Overview, error) {
	cur = cur.within(r)
	prev = prev.within(r.Previous())
	series, err := overviewSeries(cur, r)
	if err != nil {
		return nil, err
	}

	approved := analytics.Count(cur.Clients, func(c *domain.Client) bool {
		return c.ComplianceStatus == domain.ComplianceApproved
	})

	return &Overview{
		Period: periodOf(r, timebucket.Day),
		Summary: OverviewSummary{
			NewClients:      len(cur.Clients),
			ApprovedClients: approved,
			ComplianceRate:  analytics.Rate(approved, len(cur.Clients)),
			NewSKRs:         len(cur.SKRs),
			ActiveSKRs:      analytics.Count(cur.SKRs, activeSKR),
			Invoices:        len(cur.Invoices),
			InvoicedAmount:  analytics.Money(invoiced(cur.Invoices)),
			PaidAmount:      analytics.Money(paid(cur.Invoices)),
			AuditEvents:     len(cur.Audit),
			ActiveUsers:     analytics.DistinctCount(cur.Audit, auditUser),
		},
		Growth: OverviewGrowth{
			Clients:  analytics.Growth(len(cur.Clients), len(prev.Clients)),
			SKRs:     analytics.Growth(len(cur.SKRs), len(prev.SKRs)),
			Invoices: analytics.Growth(len(cur.Invoices), len(prev.Invoices)),
			Revenue:  analytics.Growth(paid(cur.Invoices).InexactFloat64(), paid(prev.Invoices).InexactFloat64()),
			Activity: analytics.Growth(len(cur.Audit), len(prev.Audit)),
		},
		Distributions: OverviewDistributions{
			ClientsByType:    analytics.CountBy(cur.Clients, func(c *domain.Client) string { return c.Type }).Map(),
			ClientsByStatus:  analytics.CountBy(cur.Clients, func(c *domain.Client) string { return c.ComplianceStatus }).Map(),
			SKRsByStatus:     analytics.CountBy(cur.SKRs, func(s *domain.SKR) string { return s.Status }).Map(),
			SKRsByAssetType:  analytics.CountBy(cur.SKRs, func(s *domain.SKR) string { return s.AssetType }).Map(),
			InvoicesByStatus: analytics.CountBy(cur.Invoices, func(i *domain.Invoice) string { return i.Status }).Map(),
			TopActions:       ranked(analytics.TopCounts(analytics.CountBy(cur.Audit, auditAction), topItems)),
		},
		TimeSeries:     series,
		RecentActivity: recentActivity(cur.Audit, recentItems, false),
	}, nil
}

// overviewSeries builds the daily series. Every dataset uses the same
// buckets, so rows line up by index.
func overviewSeries(d OverviewData, r timebucket.Range) ([]OverviewRow, error) {
	clients, err := analytics.CountSeries(d.Clients, clientAt, r.Start, r.End, timebucket.Day)
	if err != nil {
		return nil, err
	}
	skrs, err := analytics.CountSeries(d.SKRs, skrAt, r.Start, r.End, timebucket.Day)
	if err != nil {
		return nil, err
	}
	invoices, err := analytics.BucketedTimeSeries(d.Invoices, invoiceAt, r.Start, r.End, timebucket.Day,
		func(b analytics.Bucket[*domain.Invoice]) OverviewRow {
			return OverviewRow{Label: b.Label, Invoices: len(b.Records), Revenue: analytics.Money(paid(b.Records))}
		})
	if err != nil {
		return nil, err
	}

	rows := make([]OverviewRow, len(invoices))
	for i := range invoices {
		rows[i] = invoices[i]
		rows[i].Clients = clients[i].Count
		rows[i].SKRs = skrs[i].Count
	}
	return rows, nil
}

func activeSKR(s *domain.SKR) bool {
	return s.Status == domain.SKRIssued || s.Status == domain.SKRInTransit
}

// invoiced sums every invoice that was actually issued.
func invoiced(invoices []*domain.Invoice) decimal.Decimal {
	return analytics.Sum(analytics.Filter(invoices, func(i *domain.Invoice) bool {
		return i.Status != domain.InvoiceDraft && i.Status != domain.InvoiceCancelled
	}), invoiceAmount)
}

func paid(invoices []*domain.Invoice) decimal.Decimal {
	return analytics.Sum(analytics.Filter(invoices, func(i *domain.Invoice) bool {
		return i.Status == domain.InvoicePaid
	}), invoiceAmount)
}

func invoiceAmount(i *domain.Invoice) decimal.Decimal { return i.Amount }
