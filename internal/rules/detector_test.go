package rules

import (
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/keeper/internal/domain"
)

// midday keeps generated entries inside business hours for both monitors.
var midday = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

func entry(user, ip, action, resource string, at time.Time) *domain.AuditLogEntry {
	return &domain.AuditLogEntry{
		ID:           fmt.Sprintf("%s-%s-%d", user, action, at.UnixNano()),
		UserID:       user,
		IPAddress:    ip,
		Action:       action,
		ResourceType: resource,
		CreatedAt:    at,
	}
}

func TestRiskLevelOf(t *testing.T) {
	tests := map[string]string{
		domain.ActionLoginFailed:           RiskHigh,
		domain.ActionAccountLocked:         RiskHigh,
		domain.ActionSuspiciousActivity:    RiskHigh,
		domain.ActionUnauthorizedAccess:    RiskHigh,
		domain.ActionRoleChanged:           RiskMedium,
		domain.ActionPermissionDenied:      RiskMedium,
		domain.ActionSensitiveDataAccessed: RiskMedium,
		domain.ActionLoginSuccess:          RiskLow,
		domain.ActionLogout:                RiskLow,
		domain.ActionPasswordChanged:       RiskLow,
		"kyc_document_approved":            RiskMedium,
		"":                                 RiskMedium,
	}
	for action, want := range tests {
		if got := RiskLevelOf(action); got != want {
			t.Errorf("RiskLevelOf(%q) = %s, want %s", action, got, want)
		}
	}
}

func TestMultipleFailedLogins(t *testing.T) {
	d := NewDetector(ActivityThresholds(), time.UTC)

	t.Run("SixFailuresIsHigh", func(t *testing.T) {
		var entries []*domain.AuditLogEntry
		for i := 0; i < 6; i++ {
			entries = append(entries, entry("U", "1.2.3.4", domain.ActionLoginFailed, "auth", midday.Add(time.Duration(i)*time.Minute)))
		}

		findings := d.Detect(entries)
		var matched []domain.Finding
		for _, f := range findings {
			if f.Type == domain.FindingMultipleFailedLogins {
				matched = append(matched, f)
			}
		}
		if len(matched) != 1 {
			t.Fatalf("expected exactly one failed-login finding, got %d", len(matched))
		}
		f := matched[0]
		if f.Count != 6 || f.Severity != domain.SeverityHigh {
			t.Errorf("expected count 6 severity high, got count %d severity %s", f.Count, f.Severity)
		}
		if f.UserID != "U" || f.IPAddress != "1.2.3.4" {
			t.Errorf("unexpected group %s/%s", f.UserID, f.IPAddress)
		}
	})

	t.Run("FourFailuresIsQuiet", func(t *testing.T) {
		var entries []*domain.AuditLogEntry
		for i := 0; i < 4; i++ {
			entries = append(entries, entry("U", "1.2.3.4", domain.ActionLoginFailed, "auth", midday.Add(time.Duration(i)*time.Minute)))
		}
		if findings := d.Detect(entries); len(findings) != 0 {
			t.Errorf("expected no findings, got %+v", findings)
		}
	})

	t.Run("TwentyFailuresIsCritical", func(t *testing.T) {
		var entries []*domain.AuditLogEntry
		for i := 0; i < 20; i++ {
			entries = append(entries, entry("U", "1.2.3.4", domain.ActionLoginFailed, "auth", midday.Add(time.Duration(i)*time.Minute)))
		}
		findings := d.Detect(entries)
		if len(findings) == 0 || findings[0].Severity != domain.SeverityCritical {
			t.Errorf("expected a critical finding first, got %+v", findings)
		}
	})

	t.Run("SplitAcrossAddresses", func(t *testing.T) {
		var entries []*domain.AuditLogEntry
		for i := 0; i < 6; i++ {
			ip := "10.0.0.1"
			if i%2 == 0 {
				ip = "10.0.0.2"
			}
			entries = append(entries, entry("U", ip, domain.ActionLoginFailed, "auth", midday.Add(time.Duration(i)*time.Minute)))
		}
		if findings := d.Detect(entries); len(findings) != 0 {
			t.Errorf("three failures per address should not trigger, got %+v", findings)
		}
	})
}

func TestRapidSuccessiveActions(t *testing.T) {
	d := NewDetector(ActivityThresholds(), time.UTC)

	var entries []*domain.AuditLogEntry
	for i := 0; i < 11; i++ {
		entries = append(entries, entry("U", "ip", "invoice_viewed", "invoice", midday.Add(time.Duration(i)*500*time.Millisecond)))
	}
	// Out of order input is sorted before measuring gaps
	entries[0], entries[10] = entries[10], entries[0]

	findings := d.Detect(entries)
	if len(findings) != 1 || findings[0].Type != domain.FindingRapidActions {
		t.Fatalf("expected one rapid-actions finding, got %+v", findings)
	}
	if findings[0].Count != 10 || findings[0].Severity != domain.SeverityMedium {
		t.Errorf("unexpected finding %+v", findings[0])
	}
	if entries[0].CreatedAt.Before(entries[10].CreatedAt) {
		t.Error("input slice was reordered")
	}
}

func TestUnusualAccessBreadth(t *testing.T) {
	d := NewDetector(ActivityThresholds(), time.UTC)

	resources := []string{"client", "invoice", "skr", "receipt", "credit_note"}

	t.Run("WithinWindow", func(t *testing.T) {
		var entries []*domain.AuditLogEntry
		for i, r := range resources {
			entries = append(entries, entry("U", "ip", "viewed", r, midday.Add(time.Duration(i)*time.Minute)))
		}
		findings := d.Detect(entries)
		if len(findings) != 1 || findings[0].Type != domain.FindingUnusualAccess || findings[0].Count != 5 {
			t.Errorf("expected breadth finding with count 5, got %+v", findings)
		}
	})

	t.Run("SpreadOut", func(t *testing.T) {
		var entries []*domain.AuditLogEntry
		for i, r := range resources {
			entries = append(entries, entry("U", "ip", "viewed", r, midday.Add(time.Duration(i)*2*time.Minute)))
		}
		if findings := d.Detect(entries); len(findings) != 0 {
			t.Errorf("5 types over 8 minutes should not trigger, got %+v", findings)
		}
	})
}

func TestOffHoursWindows(t *testing.T) {
	night := time.Date(2024, 4, 10, 20, 0, 0, 0, time.UTC) // off-hours for activity only
	var entries []*domain.AuditLogEntry
	for i := 0; i < 10; i++ {
		entries = append(entries, entry("U", "ip", "viewed", "client", night.Add(time.Duration(i)*time.Minute)))
	}

	activity := NewDetector(ActivityThresholds(), time.UTC).Detect(entries)
	if len(activity) != 1 || activity[0].Type != domain.FindingOffHours || activity[0].Severity != domain.SeverityLow {
		t.Errorf("activity monitor should flag 20:00, got %+v", activity)
	}

	security := NewDetector(SecurityThresholds(), time.UTC).Detect(entries)
	for _, f := range security {
		if f.Type == domain.FindingOffHours {
			t.Errorf("security monitor should treat 20:00 as business hours")
		}
	}

	// Timezone shifts the local hour
	loc := time.FixedZone("UTC+8", 8*3600)
	shifted := NewDetector(ActivityThresholds(), loc).Detect(entries)
	if len(shifted) != 1 || shifted[0].Type != domain.FindingOffHours {
		t.Errorf("04:00 local time should be off-hours, got %+v", shifted)
	}
}

func TestHighRiskUserScore(t *testing.T) {
	th := SecurityThresholds()
	d := NewDetector(th, time.UTC)

	// 4 high (40) + 2 medium (10) across two addresses: 50
	var entries []*domain.AuditLogEntry
	for i := 0; i < 4; i++ {
		entries = append(entries, entry("U", fmt.Sprintf("ip-%d", i%2), domain.ActionUnauthorizedAccess, "client", midday.Add(time.Duration(i)*time.Minute)))
	}
	entries = append(entries,
		entry("U", "ip-0", domain.ActionRoleChanged, "user", midday.Add(10*time.Minute)),
		entry("U", "ip-1", domain.ActionPermissionDenied, "user", midday.Add(11*time.Minute)),
	)

	findings := d.Detect(entries)
	var risk []domain.Finding
	for _, f := range findings {
		if f.Type == domain.FindingHighRiskUser {
			risk = append(risk, f)
		}
	}
	if len(risk) != 1 {
		t.Fatalf("expected one high-risk-user finding, got %d", len(risk))
	}
	if risk[0].Severity != domain.SeverityHigh || risk[0].Details["risk_score"] != 50 {
		t.Errorf("unexpected finding %+v", risk[0])
	}

	// Activity monitor does not score users
	for _, f := range NewDetector(ActivityThresholds(), time.UTC).Detect(entries) {
		if f.Type == domain.FindingHighRiskUser {
			t.Error("activity monitor should not produce risk score findings")
		}
	}
}

func TestSeverityOrdering(t *testing.T) {
	var entries []*domain.AuditLogEntry
	night := time.Date(2024, 4, 10, 2, 0, 0, 0, time.UTC)
	// Low: off hours for user A
	for i := 0; i < 10; i++ {
		entries = append(entries, entry("A", "ip", "viewed", "client", night.Add(time.Duration(i)*time.Minute)))
	}
	// Medium: rapid actions for user B
	for i := 0; i < 12; i++ {
		entries = append(entries, entry("B", "ip", "viewed", "client", midday.Add(time.Duration(i)*100*time.Millisecond)))
	}
	// High: failed logins for user C
	for i := 0; i < 5; i++ {
		entries = append(entries, entry("C", "ip", domain.ActionLoginFailed, "auth", midday.Add(time.Duration(i)*time.Minute)))
	}

	findings := NewDetector(ActivityThresholds(), time.UTC).Detect(entries)
	if len(findings) < 3 {
		t.Fatalf("expected at least 3 findings, got %d", len(findings))
	}
	for i := 1; i < len(findings); i++ {
		if findings[i].Severity.Rank() > findings[i-1].Severity.Rank() {
			t.Fatalf("findings not ordered by severity at %d: %s after %s", i, findings[i].Severity, findings[i-1].Severity)
		}
	}
	if findings[0].UserID != "C" || findings[len(findings)-1].UserID != "A" {
		t.Errorf("unexpected order: first %s last %s", findings[0].UserID, findings[len(findings)-1].UserID)
	}
}

func TestSortBySeverityIsStable(t *testing.T) {
	items := []domain.Finding{
		{ID: "1", Severity: domain.SeverityLow},
		{ID: "2", Severity: domain.SeverityHigh},
		{ID: "3", Severity: domain.SeverityLow},
		{ID: "4", Severity: domain.SeverityHigh},
		{ID: "5", Severity: domain.SeverityCritical},
	}
	SortBySeverity(items, func(f domain.Finding) domain.Severity { return f.Severity })

	want := []string{"5", "2", "4", "1", "3"}
	for i, id := range want {
		if items[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, items[i].ID)
		}
	}
}
