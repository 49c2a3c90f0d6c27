package report

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/keeper/internal/analytics"
	"github.com/opensource-finance/keeper/internal/domain"
	"github.com/opensource-finance/keeper/internal/timebucket"
)

// staleReviewAge is how long a pending or under-review client may sit
// untouched before it is reported as stale.
const staleReviewAge = 30 * 24 * time.Hour

// ComplianceParams are the inputs of the compliance analytics report.
type ComplianceParams struct {
	StartDate  *time.Time
	EndDate    *time.Time
	ClientType string `validate:"omitempty,oneof=individual corporate institutional"`
	GroupBy    string `validate:"omitempty,oneof=day week month quarter year"`
}

// ComplianceData is everything fetched for the compliance report.
type ComplianceData struct {
	Clients     []*domain.Client
	AuditLogs   []*domain.AuditLogEntry
	Assessments []*domain.ComplianceAssessment
}

// Compliance is the compliance analytics report.
type Compliance struct {
	Period            Period                  `json:"period"`
	ComplianceMetrics ComplianceMetrics       `json:"compliance_metrics"`
	Distributions     ComplianceDistributions `json:"distributions"`
	TimeSeries        []ComplianceRow         `json:"time_series"`
	TeamActivity      []TeamMember            `json:"team_activity"`
	Issues            ComplianceIssues        `json:"issues"`
	RecentActivity    []ActivityItem          `json:"recent_activity"`
}

type ComplianceMetrics struct {
	TotalClients        int     `json:"total_clients"`
	ApprovedClients     int     `json:"approved_clients"`
	PendingClients      int     `json:"pending_clients"`
	RejectedClients     int     `json:"rejected_clients"`
	UnderReviewClients  int     `json:"under_review_clients"`
	ComplianceRate      float64 `json:"compliance_rate"`
	KYCCompletionRate   float64 `json:"kyc_completion_rate"`
	AverageRiskScore    float64 `json:"average_risk_score"`
	AverageApprovalDays float64 `json:"average_approval_days"`
	AssessmentCount     int     `json:"assessment_count"`
	ComplianceActions   int     `json:"compliance_actions"`
}

type ComplianceDistributions struct {
	ByStatus        map[string]int  `json:"by_status"`
	ByRiskLevel     map[string]int  `json:"by_risk_level"`
	ByType          map[string]int  `json:"by_type"`
	ByCountry       map[string]int  `json:"by_country"`
	KYCCompleteness KYCCompleteness `json:"kyc_completeness"`
}

// KYCCompleteness classifies clients by how many KYC documents they hold.
type KYCCompleteness struct {
	Complete int `json:"complete"`
	Partial  int `json:"partial"`
	Missing  int `json:"missing"`
}

type ComplianceRow struct {
	Label       string `json:"label"`
	NewClients  int    `json:"new_clients"`
	Approved    int    `json:"approved"`
	Assessments int    `json:"assessments"`
	Actions     int    `json:"actions"`
}

// TeamMember is one row of the compliance team leaderboard.
type TeamMember struct {
	UserID     string    `json:"user_id"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Role       string    `json:"role,omitempty"`
	Actions    int       `json:"actions"`
	Approvals  int       `json:"approvals"`
	LastActive time.Time `json:"last_active"`
}

// ComplianceIssues counts clients needing attention.
type ComplianceIssues struct {
	PendingReviews int `json:"pending_reviews"`
	Rejected       int `json:"rejected"`
	HighRisk       int `json:"high_risk"`
	IncompleteKYC  int `json:"incomplete_kyc"`
	StaleReviews   int `json:"stale_reviews"`
}

// Compliance builds the compliance report. Each dataset is optional: a
// failed fetch is logged and the report is built without it.
func (s *Service) Compliance(ctx context.Context, p ComplianceParams) (*Compliance, error) {
	ctx, span := s.tracer.Start(ctx, "report.compliance")
	defer span.End()

	r, err := s.resolveRange("", string(timebucket.Month), p.StartDate, p.EndDate)
	if err != nil {
		return nil, err
	}
	gran, err := granularity(p.GroupBy, r)
	if err != nil {
		return nil, err
	}

	var d ComplianceData
	g, gctx := errgroup.WithContext(ctx)

	fetch(gctx, s, g, "clients", false, &d.Clients, func(ctx context.Context) ([]*domain.Client, error) {
		q := domain.NewQuery().Between("created_at", r.Start, r.End).Eq("type", p.ClientType)
		return s.repo.ListClients(ctx, s.limited(q))
	})
	fetch(gctx, s, g, "audit_logs", false, &d.AuditLogs, func(ctx context.Context) ([]*domain.AuditLogEntry, error) {
		q := domain.NewQuery().
			Between("created_at", r.Start, r.End).
			In("resource_type", domain.ComplianceResources).
			Order("created_at", true)
		return s.repo.ListAuditLogs(ctx, s.limited(q))
	})
	fetch(gctx, s, g, "compliance_assessments", false, &d.Assessments, func(ctx context.Context) ([]*domain.ComplianceAssessment, error) {
		q := domain.NewQuery().Between("created_at", r.Start, r.End)
		return s.repo.ListComplianceAssessments(ctx, s.limited(q))
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return BuildCompliance(d, r, gran, s.cfg.RequiredKYCDocuments, s.now())
}

// BuildCompliance assembles the compliance report. A client holding at
// least requiredDocs KYC documents counts as complete.
func BuildCompliance(d ComplianceData, r timebucket.Range, g timebucket.Granularity, requiredDocs int, now time.Time) (*Compliance, error) {
	d = ComplianceData{
		Clients:     within(d.Clients, clientAt, r),
		AuditLogs:   within(d.AuditLogs, auditAt, r),
		Assessments: within(d.Assessments, assessmentAt, r),
	}
	series, err := complianceSeries(d, r, g)
	if err != nil {
		return nil, err
	}

	byStatus := analytics.CountBy(d.Clients, func(c *domain.Client) string { return c.ComplianceStatus })
	status := func(s string) int {
		n, _ := byStatus.Get(s)
		return n
	}
	kyc := kycCompleteness(d.Clients, requiredDocs)

	var riskTotal float64
	for _, a := range d.Assessments {
		riskTotal += a.RiskScore
	}
	var avgRisk float64
	if len(d.Assessments) > 0 {
		avgRisk = analytics.Round2(riskTotal / float64(len(d.Assessments)))
	}

	approvals := analytics.Filter(d.AuditLogs, func(e *domain.AuditLogEntry) bool {
		return e.Action == domain.ActionClientApproved
	})

	return &Compliance{
		Period: periodOf(r, g),
		ComplianceMetrics: ComplianceMetrics{
			TotalClients:       len(d.Clients),
			ApprovedClients:    status(domain.ComplianceApproved),
			PendingClients:     status(domain.CompliancePending),
			RejectedClients:    status(domain.ComplianceRejected),
			UnderReviewClients: status(domain.ComplianceUnderReview),
			ComplianceRate:     analytics.Rate(status(domain.ComplianceApproved), len(d.Clients)),
			KYCCompletionRate:  analytics.Rate(kyc.Complete, len(d.Clients)),
			AverageRiskScore:   avgRisk,
			AverageApprovalDays: analytics.Round2(analytics.AverageDuration(d.Clients, approvals,
				analytics.Span[*domain.Client]{Key: func(c *domain.Client) string { return c.ID }, At: clientAt},
				analytics.Span[*domain.AuditLogEntry]{Key: func(e *domain.AuditLogEntry) string { return e.ResourceID }, At: auditAt},
			)),
			AssessmentCount:   len(d.Assessments),
			ComplianceActions: len(d.AuditLogs),
		},
		Distributions: ComplianceDistributions{
			ByStatus:        byStatus.Map(),
			ByRiskLevel:     analytics.CountBy(d.Clients, func(c *domain.Client) string { return c.RiskLevel }).Map(),
			ByType:          analytics.CountBy(d.Clients, func(c *domain.Client) string { return c.Type }).Map(),
			ByCountry:       analytics.CountBy(d.Clients, func(c *domain.Client) string { return c.Country }).Map(),
			KYCCompleteness: kyc,
		},
		TimeSeries:     series,
		TeamActivity:   teamActivity(d.AuditLogs, topItems),
		Issues:         complianceIssues(d.Clients, requiredDocs, now),
		RecentActivity: recentActivity(d.AuditLogs, recentItems, false),
	}, nil
}

func complianceSeries(d ComplianceData, r timebucket.Range, g timebucket.Granularity) ([]ComplianceRow, error) {
	rows, err := analytics.BucketedTimeSeries(d.Clients, clientAt, r.Start, r.End, g,
		func(b analytics.Bucket[*domain.Client]) ComplianceRow {
			return ComplianceRow{
				Label:      b.Label,
				NewClients: len(b.Records),
				Approved: analytics.Count(b.Records, func(c *domain.Client) bool {
					return c.ComplianceStatus == domain.ComplianceApproved
				}),
			}
		})
	if err != nil {
		return nil, err
	}
	assessments, err := analytics.CountSeries(d.Assessments, assessmentAt, r.Start, r.End, g)
	if err != nil {
		return nil, err
	}
	actions, err := analytics.CountSeries(d.AuditLogs, auditAt, r.Start, r.End, g)
	if err != nil {
		return nil, err
	}

	for i := range rows {
		rows[i].Assessments = assessments[i].Count
		rows[i].Actions = actions[i].Count
	}
	return rows, nil
}

func kycCompleteness(clients []*domain.Client, requiredDocs int) KYCCompleteness {
	var k KYCCompleteness
	for _, c := range clients {
		switch n := len(c.KYCDocuments); {
		case n == 0:
			k.Missing++
		case n >= requiredDocs:
			k.Complete++
		default:
			k.Partial++
		}
	}
	return k
}

func teamActivity(entries []*domain.AuditLogEntry, n int) []TeamMember {
	g := analytics.GroupBy(entries, auditUser,
		func() TeamMember { return TeamMember{} },
		func(m TeamMember, e *domain.AuditLogEntry) TeamMember {
			m.UserID = e.UserID
			if m.Name == "" && e.User != nil {
				m.Name, m.Email, m.Role = e.User.FullName, e.User.Email, e.User.Role
			}
			m.Actions++
			if e.Action == domain.ActionClientApproved {
				m.Approvals++
			}
			if e.CreatedAt.After(m.LastActive) {
				m.LastActive = e.CreatedAt
			}
			return m
		})

	top := analytics.TopN(g, n, func(a, b TeamMember) bool { return a.Actions > b.Actions })
	out := make([]TeamMember, len(top))
	for i, e := range top {
		out[i] = e.Value
	}
	return out
}

func complianceIssues(clients []*domain.Client, requiredDocs int, now time.Time) ComplianceIssues {
	var is ComplianceIssues
	cutoff := now.Add(-staleReviewAge)
	for _, c := range clients {
		awaiting := c.ComplianceStatus == domain.CompliancePending || c.ComplianceStatus == domain.ComplianceUnderReview
		if awaiting {
			is.PendingReviews++
			if c.UpdatedAt.Before(cutoff) {
				is.StaleReviews++
			}
		}
		if c.ComplianceStatus == domain.ComplianceRejected {
			is.Rejected++
		}
		if c.RiskLevel == domain.RiskHigh {
			is.HighRisk++
		}
		if len(c.KYCDocuments) < requiredDocs {
			is.IncompleteKYC++
		}
	}
	return is
}
