package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/keeper/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "keeper-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("ClientsRoundTrip", func(t *testing.T) {
		c := &domain.Client{
			ID:               "client-001",
			Name:             "Acme Holdings",
			Type:             domain.ClientCorporate,
			Country:          "CH",
			ComplianceStatus: domain.ComplianceApproved,
			RiskLevel:        domain.RiskLow,
			KYCDocuments:     []domain.KYCDocument{{Type: "passport"}, {Type: "proof_of_address"}},
			CreatedAt:        base,
		}
		if err := repo.SaveClient(ctx, c); err != nil {
			t.Fatalf("SaveClient failed: %v", err)
		}

		clients, err := repo.ListClients(ctx, domain.NewQuery().Eq("id", c.ID))
		if err != nil {
			t.Fatalf("ListClients failed: %v", err)
		}
		if len(clients) != 1 {
			t.Fatalf("expected 1 client, got %d", len(clients))
		}
		got := clients[0]
		if got.Name != c.Name || len(got.KYCDocuments) != 2 {
			t.Errorf("unexpected client %+v", got)
		}
		if !got.CreatedAt.Equal(base) || !got.UpdatedAt.Equal(base) {
			t.Errorf("timestamps not preserved: %s / %s", got.CreatedAt, got.UpdatedAt)
		}
	})

	t.Run("AuditLogsJoinUser", func(t *testing.T) {
		repo.SaveUserProfile(ctx, &domain.UserProfile{ID: "user-1", FullName: "Dana Reyes", Email: "dana@example.com", Role: domain.RoleCompliance})

		entries := []*domain.AuditLogEntry{
			{ID: "log-1", UserID: "user-1", Action: domain.ActionLoginSuccess, ResourceType: "auth", IPAddress: "10.0.0.1", CreatedAt: base},
			{ID: "log-2", UserID: "user-1", Action: "kyc_document_approved", ResourceType: "client", ResourceID: "client-001",
				Details: map[string]any{"document": "passport"}, CreatedAt: base.Add(time.Hour)},
			{ID: "log-3", UserID: "ghost", Action: domain.ActionLoginFailed, ResourceType: "auth", CreatedAt: base.Add(2 * time.Hour)},
		}
		for _, e := range entries {
			if err := repo.SaveAuditLog(ctx, e); err != nil {
				t.Fatalf("SaveAuditLog failed: %v", err)
			}
		}

		logs, err := repo.ListAuditLogs(ctx, domain.NewQuery().Order("created_at", false))
		if err != nil {
			t.Fatalf("ListAuditLogs failed: %v", err)
		}
		if len(logs) != 3 {
			t.Fatalf("expected 3 logs, got %d", len(logs))
		}
		if logs[0].ID != "log-1" || logs[2].ID != "log-3" {
			t.Errorf("unexpected order: %s, %s, %s", logs[0].ID, logs[1].ID, logs[2].ID)
		}
		if logs[0].User == nil || logs[0].User.Email != "dana@example.com" {
			t.Errorf("expected joined user profile, got %+v", logs[0].User)
		}
		if logs[2].User != nil {
			t.Errorf("expected nil user for missing profile, got %+v", logs[2].User)
		}
		if logs[1].Details["document"] != "passport" {
			t.Errorf("details not decoded: %+v", logs[1].Details)
		}
	})

	t.Run("QueryFilters", func(t *testing.T) {
		tests := []struct {
			name string
			q    *domain.Query
			want int
		}{
			{"eq", domain.NewQuery().Eq("action", domain.ActionLoginFailed), 1},
			{"in", domain.NewQuery().In("action", []string{domain.ActionLoginFailed, domain.ActionLoginSuccess}), 2},
			{"ilike", domain.NewQuery().ILike("action", "KYC_DOC"), 1},
			{"joined ilike", domain.NewQuery().ILike("email", "DANA@"), 2},
			{"range", domain.NewQuery().Between("created_at", base.Add(30*time.Minute), base.Add(90*time.Minute)), 1},
			{"gte inclusive", domain.NewQuery().Gte("created_at", base.Add(2*time.Hour)), 1},
			{"range end exclusive", domain.NewQuery().Between("created_at", base, base.Add(2*time.Hour)), 2},
			{"lt", domain.NewQuery().Lt("created_at", base.Add(time.Hour)), 1},
			{"limit", domain.NewQuery().WithLimit(2), 2},
			{"empty eq ignored", domain.NewQuery().Eq("user_id", ""), 3},
			{"no match", domain.NewQuery().Eq("user_id", "nobody"), 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				logs, err := repo.ListAuditLogs(ctx, tt.q)
				if err != nil {
					t.Fatalf("ListAuditLogs failed: %v", err)
				}
				if len(logs) != tt.want {
					t.Errorf("expected %d rows, got %d", tt.want, len(logs))
				}
			})
		}
	})

	t.Run("RangeAcrossTimezones", func(t *testing.T) {
		zurich := time.FixedZone("CET", 3600)
		start := base.In(zurich) // same instant, different zone
		logs, err := repo.ListAuditLogs(ctx, domain.NewQuery().Gte("created_at", start).Lte("created_at", start))
		if err != nil {
			t.Fatalf("ListAuditLogs failed: %v", err)
		}
		if len(logs) != 1 || logs[0].ID != "log-1" {
			t.Errorf("expected log-1 at the exact instant, got %d rows", len(logs))
		}
	})

	t.Run("UnknownFieldRejected", func(t *testing.T) {
		_, err := repo.ListAuditLogs(ctx, domain.NewQuery().Eq("password", "x"))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		_, err = repo.ListInvoices(ctx, domain.NewQuery().Order("1; DROP TABLE invoices", true))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for order field, got %v", err)
		}
	})

	t.Run("InvoicesReceiptsCreditNotes", func(t *testing.T) {
		due := base.AddDate(0, 0, 30)
		inv := &domain.Invoice{
			ID: "inv-1", InvoiceNumber: "INV-0001", ClientID: "client-001",
			Amount: decimal.RequireFromString("1250.50"), Currency: "USD", Status: domain.InvoiceSent,
			IssueDate: base, DueDate: &due, CreatedAt: base,
		}
		orphan := &domain.Invoice{
			ID: "inv-2", InvoiceNumber: "INV-0002", ClientID: "missing",
			Amount: decimal.NewFromInt(10), Currency: "EUR", Status: domain.InvoiceDraft,
			IssueDate: base, CreatedAt: base.Add(time.Minute),
		}
		for _, i := range []*domain.Invoice{inv, orphan} {
			if err := repo.SaveInvoice(ctx, i); err != nil {
				t.Fatalf("SaveInvoice failed: %v", err)
			}
		}

		invoices, err := repo.ListInvoices(ctx, domain.NewQuery().Eq("currency", "USD"))
		if err != nil {
			t.Fatalf("ListInvoices failed: %v", err)
		}
		if len(invoices) != 1 {
			t.Fatalf("expected 1 USD invoice, got %d", len(invoices))
		}
		got := invoices[0]
		if !got.Amount.Equal(inv.Amount) {
			t.Errorf("expected amount %s, got %s", inv.Amount, got.Amount)
		}
		if got.DueDate == nil || !got.DueDate.Equal(due) {
			t.Errorf("due date not preserved: %v", got.DueDate)
		}
		if got.Client == nil || got.Client.Name != "Acme Holdings" {
			t.Errorf("expected joined client, got %+v", got.Client)
		}

		all, _ := repo.ListInvoices(ctx, domain.NewQuery().Eq("id", "inv-2"))
		if len(all) != 1 || all[0].Client != nil || all[0].DueDate != nil {
			t.Errorf("orphan invoice should have no client or due date: %+v", all)
		}

		repo.SaveReceipt(ctx, &domain.Receipt{
			ID: "rc-1", ReceiptNumber: "RC-1", InvoiceID: "inv-1", Amount: decimal.NewFromInt(1000),
			Currency: "USD", PaymentMethod: "wire", IssueDate: base.AddDate(0, 0, 5), CreatedAt: base.AddDate(0, 0, 5),
		})
		receipts, err := repo.ListReceipts(ctx, nil)
		if err != nil {
			t.Fatalf("ListReceipts failed: %v", err)
		}
		if len(receipts) != 1 || receipts[0].Invoice == nil || receipts[0].Invoice.InvoiceNumber != "INV-0001" {
			t.Errorf("expected receipt joined to invoice, got %+v", receipts)
		}

		repo.SaveCreditNote(ctx, &domain.CreditNote{
			ID: "cn-1", CreditNoteNumber: "CN-1", InvoiceID: "inv-1", Amount: decimal.NewFromInt(50),
			Currency: "USD", Reason: "discount", IssueDate: base, CreatedAt: base,
		})
		notes, err := repo.ListCreditNotes(ctx, domain.NewQuery().Eq("client_id", "client-001"))
		if err != nil {
			t.Fatalf("ListCreditNotes failed: %v", err)
		}
		if len(notes) != 1 || !notes[0].Amount.Equal(decimal.NewFromInt(50)) {
			t.Errorf("unexpected credit notes %+v", notes)
		}
	})

	t.Run("SKRsAndAssessments", func(t *testing.T) {
		repo.SaveSKR(ctx, &domain.SKR{ID: "skr-1", SKRNumber: "SKR-1", ClientID: "client-001", AssetType: "gold", Status: domain.SKRIssued, CreatedAt: base})
		repo.SaveComplianceAssessment(ctx, &domain.ComplianceAssessment{ID: "ca-1", ClientID: "client-001", RiskScore: 42.5, Status: "completed", CreatedAt: base})

		skrs, err := repo.ListSKRs(ctx, domain.NewQuery().Eq("status", domain.SKRIssued))
		if err != nil || len(skrs) != 1 {
			t.Fatalf("ListSKRs: %v, %d rows", err, len(skrs))
		}
		assessments, err := repo.ListComplianceAssessments(ctx, nil)
		if err != nil || len(assessments) != 1 || assessments[0].RiskScore != 42.5 {
			t.Fatalf("ListComplianceAssessments: %v, %+v", err, assessments)
		}
	})

	t.Run("EmptyResultIsNotAnError", func(t *testing.T) {
		skrs, err := repo.ListSKRs(ctx, domain.NewQuery().Eq("status", domain.SKRClosed))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if skrs == nil || len(skrs) != 0 {
			t.Errorf("expected empty non-nil slice, got %v", skrs)
		}
	})
}

func TestDetectionRules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := &domain.DetectionRule{
		ID:         "rule-1",
		Name:       "Login burst",
		Expression: "failed_logins > 3",
		Severity:   domain.SeverityHigh,
		Enabled:    true,
	}
	if err := repo.SaveDetectionRule(ctx, rule); err != nil {
		t.Fatalf("SaveDetectionRule failed: %v", err)
	}

	got, err := repo.GetDetectionRule(ctx, "rule-1")
	if err != nil {
		t.Fatalf("GetDetectionRule failed: %v", err)
	}
	if got.Severity != domain.SeverityHigh || !got.Enabled || got.CreatedAt.IsZero() {
		t.Errorf("unexpected rule %+v", got)
	}

	// Upsert
	rule.Expression = "failed_logins > 5"
	if err := repo.SaveDetectionRule(ctx, rule); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	rules, _ := repo.ListDetectionRules(ctx)
	if len(rules) != 1 || rules[0].Expression != "failed_logins > 5" {
		t.Errorf("expected updated rule, got %+v", rules)
	}

	if err := repo.DeleteDetectionRule(ctx, "rule-1"); err != nil {
		t.Fatalf("DeleteDetectionRule failed: %v", err)
	}
	got, _ = repo.GetDetectionRule(ctx, "rule-1")
	if got.Enabled {
		t.Error("deleted rule should be disabled")
	}

	if _, err := repo.GetDetectionRule(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := repo.DeleteDetectionRule(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAlertNotifications(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i, sev := range []domain.Severity{domain.SeverityHigh, domain.SeverityCritical} {
		err := repo.SaveAlertNotification(ctx, &domain.AlertNotification{
			ID:          strings.Repeat("a", i+1),
			FindingType: domain.FindingMultipleFailedLogins,
			Severity:    sev,
			UserID:      "user-1",
			Source:      "security_monitor",
			CreatedAt:   now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("SaveAlertNotification failed: %v", err)
		}
	}

	alerts, err := repo.ListAlertNotifications(ctx, domain.NewQuery().Eq("severity", domain.SeverityCritical))
	if err != nil {
		t.Fatalf("ListAlertNotifications failed: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Severity != domain.SeverityCritical {
		t.Errorf("unexpected alerts %+v", alerts)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestInMemoryDatabase(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	defer repo.Close()

	if err := repo.SaveUserProfile(context.Background(), &domain.UserProfile{ID: "u", Role: domain.RoleAdmin}); err != nil {
		t.Errorf("write to in-memory database failed: %v", err)
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestQueryBuild(t *testing.T) {
	q := domain.NewQuery().
		Eq("status", domain.InvoiceSent).
		In("currency", []string{"USD", "EUR"}).
		ILike("invoice_number", "INV").
		Order("issue_date", true).
		WithLimit(5)

	sql, args, err := invoicesTable.build(q)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	for _, want := range []string{
		"i.status = ?",
		"i.currency IN (?, ?)",
		"LOWER(i.invoice_number) LIKE ?",
		"ORDER BY i.issue_date DESC",
		"LIMIT 5",
		"LEFT JOIN clients c",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("expected %q in %s", want, sql)
		}
	}
	if len(args) != 4 || args[3] != "%inv%" {
		t.Errorf("unexpected args %v", args)
	}
}
