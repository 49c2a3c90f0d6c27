package report

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/keeper/internal/analytics"
	"github.com/opensource-finance/keeper/internal/domain"
	"github.com/opensource-finance/keeper/internal/rules"
	"github.com/opensource-finance/keeper/internal/timebucket"
)

// Monitoring list sizes.
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// Alert sources.
const (
	SourceActivity = "activity"
	SourceSecurity = "security"
)

// Window is a monitoring range and the granularity of its timeline.
type Window struct {
	Range       timebucket.Range
	Granularity timebucket.Granularity
}

// ActivityParams are the inputs of the activity monitor.
type ActivityParams struct {
	Timeframe    string `validate:"omitempty,oneof=hour day week month"`
	UserID       string `validate:"omitempty,max=128"`
	ActionType   string `validate:"omitempty,max=128"`
	ResourceType string `validate:"omitempty,max=128"`
	Limit        int    `validate:"min=0,max=100"`
}

// Activity is the activity monitor response.
type Activity struct {
	Period               Period               `json:"period"`
	Activities           []ActivityItem       `json:"activities"`
	Statistics           ActivityStats        `json:"statistics"`
	SuspiciousActivities []FindingView        `json:"suspicious_activities"`
	Timeline             []analytics.CountRow `json:"timeline"`
}

type ActivityStats struct {
	TotalActivities    int            `json:"total_activities"`
	UniqueUsers        int            `json:"unique_users"`
	UniqueIPs          int            `json:"unique_ips"`
	ByAction           map[string]int `json:"by_action"`
	ByResourceType     map[string]int `json:"by_resource_type"`
	ByUser             map[string]int `json:"by_user"`
	ByRiskLevel        map[string]int `json:"by_risk_level"`
	HourlyDistribution map[string]int `json:"hourly_distribution"`
	TopUsers           []Ranked       `json:"top_users"`
	TopActions         []Ranked       `json:"top_actions"`
}

// SecurityParams are the inputs of the security monitor.
type SecurityParams struct {
	Timeframe string `validate:"omitempty,oneof=hour day week month"`
	Severity  string `validate:"omitempty,oneof=low medium high critical"`
	EventType string `validate:"omitempty,max=128"`
	Limit     int    `validate:"min=0,max=100"`
}

// Security is the security monitor response.
type Security struct {
	Period           Period               `json:"period"`
	Events           []SecurityEvent      `json:"events"`
	Analysis         SecurityAnalysis     `json:"analysis"`
	Metrics          SecurityMetrics      `json:"metrics"`
	Alerts           []FindingView        `json:"alerts"`
	FailedLoginsByIP []Ranked             `json:"failed_logins_by_ip"`
	RoleChanges      []ActivityItem       `json:"role_changes"`
	PermissionDenied []ActivityItem       `json:"permission_denied"`
	Timeline         []analytics.CountRow `json:"timeline"`
}

// SecurityEvent is an audit entry with its event severity.
type SecurityEvent struct {
	ActivityItem
	Severity string `json:"severity"`
}

type SecurityAnalysis struct {
	TotalEvents  int            `json:"total_events"`
	RecentEvents int            `json:"recent_events"`
	BySeverity   map[string]int `json:"by_severity"`
	ByEventType  map[string]int `json:"by_event_type"`
	UniqueUsers  int            `json:"unique_users"`
	UniqueIPs    int            `json:"unique_ips"`
}

type SecurityMetrics struct {
	FailedLogins         int     `json:"failed_logins"`
	SuccessfulLogins     int     `json:"successful_logins"`
	LoginSuccessRate     float64 `json:"login_success_rate"`
	AccountLockouts      int     `json:"account_lockouts"`
	PermissionDenials    int     `json:"permission_denials"`
	RoleChanges          int     `json:"role_changes"`
	UnauthorizedAccess   int     `json:"unauthorized_access"`
	SuspiciousActivities int     `json:"suspicious_activities"`
	ThreatLevel          string  `json:"threat_level"`
}

// Activity runs the activity monitor over the trailing timeframe.
func (s *Service) Activity(ctx context.Context, p ActivityParams) (*Activity, error) {
	ctx, span := s.tracer.Start(ctx, "report.activity")
	defer span.End()

	w, err := s.monitoringWindow(p.Timeframe)
	if err != nil {
		return nil, err
	}

	var entries []*domain.AuditLogEntry
	g, gctx := errgroup.WithContext(ctx)
	fetch(gctx, s, g, "audit_logs", false, &entries, func(ctx context.Context) ([]*domain.AuditLogEntry, error) {
		q := domain.NewQuery().
			Between("created_at", w.Range.Start, w.Range.End).
			Eq("user_id", p.UserID).
			Eq("action", p.ActionType).
			Eq("resource_type", p.ResourceType).
			Order("created_at", true)
		return s.repo.ListAuditLogs(ctx, s.limited(q))
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	findings := s.detect(ctx, s.activity, entries)
	s.dispatch(ctx, SourceActivity, findings)
	return BuildActivity(entries, findings, w, p.Limit, s.loc)
}

// BuildActivity assembles the activity monitor response. limit caps the
// activity list only; statistics cover every entry.
func BuildActivity(entries []*domain.AuditLogEntry, findings []domain.Finding, w Window, limit int, loc *time.Location) (*Activity, error) {
	timeline, err := analytics.CountSeries(entries, auditAt, w.Range.Start, w.Range.End, w.Granularity)
	if err != nil {
		return nil, err
	}

	byUser := analytics.CountBy(entries, auditUser)
	byAction := analytics.CountBy(entries, auditAction)

	return &Activity{
		Period:     periodOf(w.Range, w.Granularity),
		Activities: recentActivity(entries, listLimit(limit), true),
		Statistics: ActivityStats{
			TotalActivities:    len(entries),
			UniqueUsers:        analytics.DistinctCount(entries, auditUser),
			UniqueIPs:          analytics.DistinctCount(entries, auditIP),
			ByAction:           byAction.Map(),
			ByResourceType:     analytics.CountBy(entries, auditResource).Map(),
			ByUser:             byUser.Map(),
			ByRiskLevel:        analytics.CountBy(entries, func(e *domain.AuditLogEntry) string { return rules.RiskLevelOf(e.Action) }).Map(),
			HourlyDistribution: analytics.HourlyDistribution(entries, auditAt, loc).Map(),
			TopUsers:           ranked(analytics.TopCounts(byUser, topItems)),
			TopActions:         ranked(analytics.TopCounts(byAction, topItems)),
		},
		SuspiciousActivities: findingViews(sortedFindings(findings)),
		Timeline:             timeline,
	}, nil
}

// Security runs the security monitor over the trailing timeframe.
func (s *Service) Security(ctx context.Context, p SecurityParams) (*Security, error) {
	ctx, span := s.tracer.Start(ctx, "report.security")
	defer span.End()

	w, err := s.monitoringWindow(p.Timeframe)
	if err != nil {
		return nil, err
	}

	var entries []*domain.AuditLogEntry
	g, gctx := errgroup.WithContext(ctx)
	fetch(gctx, s, g, "security_events", false, &entries, func(ctx context.Context) ([]*domain.AuditLogEntry, error) {
		q := domain.NewQuery().
			Between("created_at", w.Range.Start, w.Range.End).
			Order("created_at", true)
		if p.EventType != "" {
			q.Eq("action", p.EventType)
		} else {
			q.In("action", domain.SecurityActions)
		}
		return s.repo.ListAuditLogs(ctx, s.limited(q))
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	findings := s.detect(ctx, s.security, entries)
	s.dispatch(ctx, SourceSecurity, findings)
	return BuildSecurity(entries, findings, w, p, s.security.Thresholds().RecentWindow, s.now())
}

// BuildSecurity assembles the security monitor response. A severity filter
// narrows the event list and the alerts; the analysis and metrics always
// cover every event. Events newer than recent before now count as recent.
func BuildSecurity(entries []*domain.AuditLogEntry, findings []domain.Finding, w Window, p SecurityParams, recent time.Duration, now time.Time) (*Security, error) {
	timeline, err := analytics.CountSeries(entries, auditAt, w.Range.Start, w.Range.End, w.Granularity)
	if err != nil {
		return nil, err
	}

	severity := func(e *domain.AuditLogEntry) string { return string(rules.SeverityOf(e.Action)) }
	action := func(name string) func(*domain.AuditLogEntry) bool {
		return func(e *domain.AuditLogEntry) bool { return e.Action == name }
	}

	bySeverity := map[string]int{
		string(domain.SeverityLow):      0,
		string(domain.SeverityMedium):   0,
		string(domain.SeverityHigh):     0,
		string(domain.SeverityCritical): 0,
	}
	for k, n := range analytics.CountBy(entries, severity).Map() {
		bySeverity[k] = n
	}

	failed := analytics.Filter(entries, action(domain.ActionLoginFailed))
	succeeded := analytics.Count(entries, action(domain.ActionLoginSuccess))

	alerts := sortedFindings(findings)
	events := entries
	if p.Severity != "" {
		alerts = analytics.Filter(alerts, func(f domain.Finding) bool { return string(f.Severity) == p.Severity })
		events = analytics.Filter(entries, func(e *domain.AuditLogEntry) bool { return severity(e) == p.Severity })
	}

	eventList := analytics.MostRecent(events, auditAt, listLimit(p.Limit))
	views := make([]SecurityEvent, len(eventList))
	for i, e := range eventList {
		views[i] = SecurityEvent{ActivityItem: activityItem(e, true), Severity: severity(e)}
	}

	cutoff := now.Add(-recent)
	return &Security{
		Period: periodOf(w.Range, w.Granularity),
		Events: views,
		Analysis: SecurityAnalysis{
			TotalEvents:  len(entries),
			RecentEvents: analytics.Count(entries, func(e *domain.AuditLogEntry) bool { return e.CreatedAt.After(cutoff) }),
			BySeverity:   bySeverity,
			ByEventType:  analytics.CountBy(entries, auditAction).Map(),
			UniqueUsers:  analytics.DistinctCount(entries, auditUser),
			UniqueIPs:    analytics.DistinctCount(entries, auditIP),
		},
		Metrics: SecurityMetrics{
			FailedLogins:         len(failed),
			SuccessfulLogins:     succeeded,
			LoginSuccessRate:     analytics.Rate(succeeded, succeeded+len(failed)),
			AccountLockouts:      analytics.Count(entries, action(domain.ActionAccountLocked)),
			PermissionDenials:    analytics.Count(entries, action(domain.ActionPermissionDenied)),
			RoleChanges:          analytics.Count(entries, action(domain.ActionRoleChanged)),
			UnauthorizedAccess:   analytics.Count(entries, action(domain.ActionUnauthorizedAccess)),
			SuspiciousActivities: analytics.Count(entries, action(domain.ActionSuspiciousActivity)),
			ThreatLevel:          threatLevel(findings),
		},
		Alerts:           findingViews(alerts),
		FailedLoginsByIP: ranked(analytics.TopCounts(analytics.CountBy(failed, auditIP), topItems)),
		RoleChanges:      recentActivity(analytics.Filter(entries, action(domain.ActionRoleChanged)), recentItems, true),
		PermissionDenied: recentActivity(analytics.Filter(entries, action(domain.ActionPermissionDenied)), recentItems, true),
		Timeline:         timeline,
	}, nil
}

// threatLevel is the highest finding severity, low when there are none.
func threatLevel(findings []domain.Finding) string {
	level := domain.SeverityLow
	for _, f := range findings {
		if f.Severity.Rank() > level.Rank() {
			level = f.Severity
		}
	}
	return string(level)
}

// monitoringWindow resolves a trailing monitoring timeframe. Short windows
// get an hourly timeline.
func (s *Service) monitoringWindow(timeframe string) (Window, error) {
	if timeframe == "" {
		timeframe = string(timebucket.Day)
	}
	r, err := s.resolveRange(timeframe, "", nil, nil)
	if err != nil {
		return Window{}, err
	}
	g := timebucket.Day
	if timeframe == string(timebucket.Hour) || timeframe == string(timebucket.Day) {
		g = timebucket.Hour
	}
	return Window{Range: r, Granularity: g}, nil
}

func listLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

func sortedFindings(findings []domain.Finding) []domain.Finding {
	out := append([]domain.Finding(nil), findings...)
	rules.SortBySeverity(out, func(f domain.Finding) domain.Severity { return f.Severity })
	return out
}

// detect runs the heuristics of d and the loaded custom rules over entries.
func (s *Service) detect(ctx context.Context, d *rules.Detector, entries []*domain.AuditLogEntry) []domain.Finding {
	groups := rules.GroupEntries(entries)
	features := make([]rules.Features, len(groups))
	for i, g := range groups {
		features[i] = d.Measure(g)
	}

	findings := d.Evaluate(features)
	if s.engine != nil {
		findings = append(findings, s.engine.Evaluate(ctx, features)...)
	}
	for _, f := range findings {
		s.metrics.Finding(f.Type, string(f.Severity))
	}
	return sortedFindings(findings)
}

// dispatch publishes findings at or above the alert severity. The same
// finding for the same user and address is published once per recent
// window: the cache holds the ID of the finding that claimed the key, and
// a failed publish releases the claim.
func (s *Service) dispatch(ctx context.Context, source string, findings []domain.Finding) {
	if s.bus == nil {
		return
	}
	window := s.security.Thresholds().RecentWindow

	for _, f := range findings {
		if f.Severity.Rank() < s.cfg.AlertSeverity.Rank() {
			continue
		}

		key := "alert:" + f.Type + f.RuleID + ":" + f.UserID + ":" + f.IPAddress
		if s.alerted(ctx, key) {
			continue
		}
		s.claim(ctx, key, f.ID, window)

		payload, err := json.Marshal(domain.SecurityAlert{Finding: f, Source: source})
		if err != nil {
			slog.ErrorContext(ctx, "failed to encode alert", "finding", f.ID, "error", err)
			s.release(ctx, key)
			continue
		}
		if err := s.bus.Publish(ctx, domain.TopicSecurityAlert, payload); err != nil {
			slog.WarnContext(ctx, "failed to publish alert",
				"finding_type", f.Type,
				"severity", f.Severity,
				"error", err,
			)
			s.release(ctx, key)
		}
	}
}

// alerted reports whether key was claimed within the current window. A
// cache error counts as not alerted.
func (s *Service) alerted(ctx context.Context, key string) bool {
	if s.cache == nil {
		return false
	}
	prev, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "alert dedupe unavailable", "error", err)
		return false
	}
	if prev != nil {
		slog.DebugContext(ctx, "alert already dispatched", "key", key, "finding", string(prev))
		return true
	}
	return false
}

func (s *Service) claim(ctx context.Context, key, findingID string, window time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, []byte(findingID), window); err != nil {
		slog.WarnContext(ctx, "failed to record alert", "key", key, "error", err)
	}
}

func (s *Service) release(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		slog.WarnContext(ctx, "failed to release alert claim", "key", key, "error", err)
	}
}
