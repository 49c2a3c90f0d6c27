package report

import (
	"time"

	"github.com/opensource-finance/keeper/internal/analytics"
	"github.com/opensource-finance/keeper/internal/domain"
	"github.com/opensource-finance/keeper/internal/rules"
	"github.com/opensource-finance/keeper/internal/timebucket"
)

// recentItems caps the "recent activity" style lists.
const recentItems = 10

// topItems caps leaderboards.
const topItems = 10

// Period is the resolved reporting window.
type Period struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Granularity string    `json:"granularity,omitempty"`
}

func periodOf(r timebucket.Range, g timebucket.Granularity) Period {
	return Period{Start: r.Start, End: r.End, Granularity: string(g)}
}

// Ranked is one row of a top-N list.
type Ranked struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

func ranked(entries []analytics.Entry[int]) []Ranked {
	out := make([]Ranked, len(entries))
	for i, e := range entries {
		out[i] = Ranked{Key: e.Key, Count: e.Value}
	}
	return out
}

// AmountCount pairs a money total with a record count.
type AmountCount struct {
	Amount float64 `json:"amount"`
	Count  int     `json:"count"`
}

// ActivityItem is the projection of an audit entry used in activity lists.
type ActivityItem struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	UserName     string         `json:"user_name,omitempty"`
	UserEmail    string         `json:"user_email,omitempty"`
	UserRole     string         `json:"user_role,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	IPAddress    string         `json:"ip_address"`
	RiskLevel    string         `json:"risk_level"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func activityItem(e *domain.AuditLogEntry, withDetails bool) ActivityItem {
	item := ActivityItem{
		ID:           e.ID,
		UserID:       e.UserID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		IPAddress:    e.IPAddress,
		RiskLevel:    rules.RiskLevelOf(e.Action),
		CreatedAt:    e.CreatedAt,
	}
	if e.User != nil {
		item.UserName = e.User.FullName
		item.UserEmail = e.User.Email
		item.UserRole = e.User.Role
	}
	if withDetails {
		item.Details = e.Details
	}
	return item
}

func recentActivity(entries []*domain.AuditLogEntry, n int, withDetails bool) []ActivityItem {
	recent := analytics.MostRecent(entries, auditAt, n)
	out := make([]ActivityItem, len(recent))
	for i, e := range recent {
		out[i] = activityItem(e, withDetails)
	}
	return out
}

// FindingView is a finding as returned to clients.
type FindingView struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	UserID      string         `json:"user_id"`
	IPAddress   string         `json:"ip_address,omitempty"`
	Count       int            `json:"count"`
	Description string         `json:"description"`
	FirstSeen   time.Time      `json:"first_seen"`
	LastSeen    time.Time      `json:"last_seen"`
	RuleID      string         `json:"rule_id,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

func findingViews(findings []domain.Finding) []FindingView {
	out := make([]FindingView, len(findings))
	for i, f := range findings {
		out[i] = FindingView{
			ID:          f.ID,
			Type:        f.Type,
			Severity:    string(f.Severity),
			UserID:      f.UserID,
			IPAddress:   f.IPAddress,
			Count:       f.Count,
			Description: f.Description,
			FirstSeen:   f.FirstSeen,
			LastSeen:    f.LastSeen,
			RuleID:      f.RuleID,
			Details:     f.Details,
		}
	}
	return out
}

// Record accessors shared by the builders.

func auditAt(e *domain.AuditLogEntry) time.Time { return e.CreatedAt }
func auditUser(e *domain.AuditLogEntry) string { return e.UserID }
func auditAction(e *domain.AuditLogEntry) string { return e.Action }
func auditResource(e *domain.AuditLogEntry) string { return e.ResourceType }
func auditIP(e *domain.AuditLogEntry) string { return e.IPAddress }
func clientAt(c *domain.Client) time.Time { return c.CreatedAt }
func skrAt(s *domain.SKR) time.Time { return s.CreatedAt }
func invoiceAt(i *domain.Invoice) time.Time { return i.IssueDate }
func receiptAt(r *domain.Receipt) time.Time { return r.IssueDate }
func creditNoteAt(n *domain.CreditNote) time.Time { return n.IssueDate }
func assessmentAt(a *domain.ComplianceAssessment) time.Time { return a.CreatedAt }

// within keeps the records whose timestamp lies in [r.Start, r.End), the
// same span the series buckets cover.
func within[T any](records []T, at func(T) time.Time, r timebucket.Range) []T {
	return analytics.Filter(records, func(rec T) bool { return r.Contains(at(rec)) })
}
