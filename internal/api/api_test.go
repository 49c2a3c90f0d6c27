package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/keeper/internal/auth"
	"github.com/opensource-finance/keeper/internal/bus"
	"github.com/opensource-finance/keeper/internal/cache"
	"github.com/opensource-finance/keeper/internal/domain"
	"github.com/opensource-finance/keeper/internal/metrics"
	"github.com/opensource-finance/keeper/internal/report"
	"github.com/opensource-finance/keeper/internal/repository"
	"github.com/opensource-finance/keeper/internal/rules"
)

const testSecret = "api-test-secret-that-is-long-enough"

type testEnv struct {
	server *Server
	repo   *repository.SQLRepository
	tokens map[string]string
}

// newTestEnv builds a server over an in-memory SQLite database seeded with
// a user, an invoice and a handful of audit entries from the last hour.
func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	ctx := context.Background()

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(100)
	b := bus.NewChannelBus(16)
	t.Cleanup(func() { b.Close() })

	engine, err := rules.NewEngine(2)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	m := metrics.New()

	cfg := domain.DefaultConfig().Monitoring
	cfg.ReportRateLimit = rateLimit
	cfg.ReportRateWindow = time.Minute

	reports, err := report.New(repo, report.Options{
		Engine:  engine,
		Bus:     b,
		Cache:   c,
		Metrics: m,
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("failed to create report service: %v", err)
	}

	authn, err := auth.New(domain.AuthConfig{JWTSecret: testSecret, Issuer: "keeper", TokenExpiry: time.Hour})
	if err != nil {
		t.Fatalf("failed to create authenticator: %v", err)
	}

	server := NewServer(domain.ServerConfig{Host: "localhost", Port: 8080}, Deps{
		Repo:       repo,
		Cache:      c,
		Bus:        b,
		Engine:     engine,
		Reports:    reports,
		Auth:       authn,
		Metrics:    m,
		Monitoring: cfg,
		Version:    "test-v1",
	})

	tokens := make(map[string]string)
	for _, role := range domain.Roles {
		token, err := authn.Issue(auth.Principal{UserID: "user-" + role, Role: role})
		if err != nil {
			t.Fatalf("failed to issue %s token: %v", role, err)
		}
		tokens[role] = token
	}

	now := time.Now().UTC()
	if err := repo.SaveUserProfile(ctx, &domain.UserProfile{ID: "user-admin", FullName: "Ada Admin", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("SaveUserProfile failed: %v", err)
	}
	if err := repo.SaveInvoice(ctx, &domain.Invoice{
		ID:            "inv-1",
		InvoiceNumber: "INV-0001",
		Amount:        decimal.NewFromInt(1200),
		Currency:      "USD",
		Status:        domain.InvoiceSent,
		IssueDate:     now.Add(-2 * time.Hour),
		CreatedAt:     now.Add(-2 * time.Hour),
	}); err != nil {
		t.Fatalf("SaveInvoice failed: %v", err)
	}
	actions := []string{domain.ActionLoginFailed, domain.ActionLoginFailed, domain.ActionLoginSuccess, "client_updated"}
	for i, action := range actions {
		if err := repo.SaveAuditLog(ctx, &domain.AuditLogEntry{
			ID:           "log-" + action + "-" + string(rune('a'+i)),
			UserID:       "user-admin",
			Action:       action,
			ResourceType: "client",
			IPAddress:    "10.0.0.1",
			CreatedAt:    now.Add(-time.Duration(10*(i+1)) * time.Minute),
		}); err != nil {
			t.Fatalf("SaveAuditLog failed: %v", err)
		}
	}

	return &testEnv{server: server, repo: repo, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[role])
	}

	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

// fieldErrors returns the field map of a validation failure response.
func fieldErrors(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
	fields, _ := decodeBody(t, rr)["fields"].(map[string]any)
	return fields
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, 10)

	rr := env.do(t, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	resp := decodeBody(t, rr)
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", resp["status"])
	}
	if resp["version"] != "test-v1" {
		t.Errorf("expected version test-v1, got %v", resp["version"])
	}

	rr = env.do(t, http.MethodGet, "/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected ready 200, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 10)
	env.do(t, http.MethodGet, "/health", "", nil)

	rr := env.do(t, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `keeper_http_requests_total{method="GET",route="/health",status="200"}`) {
		t.Errorf("expected request counter for /health in:\n%s", rr.Body.String())
	}
}

func TestAuthorization(t *testing.T) {
	env := newTestEnv(t, 10)

	tests := []struct {
		name   string
		path   string
		role   string
		status int
	}{
		{"NoToken", "/api/analytics/overview", "", http.StatusUnauthorized},
		{"AnyRoleSeesOverview", "/api/analytics/overview", domain.RoleReadOnly, http.StatusOK},
		{"FinanceCannotSeeCompliance", "/api/analytics/compliance", domain.RoleFinance, http.StatusForbidden},
		{"OperationsCannotSeeFinancial", "/api/analytics/financial", domain.RoleOperations, http.StatusForbidden},
		{"ComplianceCannotSeeSecurity", "/api/monitoring/security", domain.RoleCompliance, http.StatusForbidden},
		{"ComplianceSeesActivity", "/api/monitoring/activity", domain.RoleCompliance, http.StatusOK},
		{"AdminSeesSecurity", "/api/monitoring/security", domain.RoleAdmin, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, tt.path, tt.role, nil)
			if rr.Code != tt.status {
				t.Errorf("expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}

	t.Run("InvalidToken", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/analytics/overview", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
	})
}

func TestFinancialEndpoint(t *testing.T) {
	env := newTestEnv(t, 10)

	t.Run("Success", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/analytics/financial?currency=usd", domain.RoleFinance, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decodeBody(t, rr)
		if resp["currency"] != "USD" {
			t.Errorf("expected currency USD, got %v", resp["currency"])
		}
		fm, _ := resp["financial_metrics"].(map[string]any)
		if fm["total_invoiced"] != 1200.0 {
			t.Errorf("expected total_invoiced 1200, got %v", fm["total_invoiced"])
		}
	})

	t.Run("BadCurrency", func(t *testing.T) {
		fields := fieldErrors(t, env.do(t, http.MethodGet, "/api/analytics/financial?currency=US", domain.RoleFinance, nil))
		if _, ok := fields["currency"]; !ok {
			t.Errorf("expected currency error, got %v", fields)
		}
	})

	t.Run("StartDateOnly", func(t *testing.T) {
		fields := fieldErrors(t, env.do(t, http.MethodGet, "/api/analytics/financial?start_date=2024-01-01", domain.RoleFinance, nil))
		if _, ok := fields["end_date"]; !ok {
			t.Errorf("expected end_date error, got %v", fields)
		}
	})

	t.Run("MalformedDate", func(t *testing.T) {
		fields := fieldErrors(t, env.do(t, http.MethodGet, "/api/analytics/financial?start_date=yesterday&end_date=2024-01-01", domain.RoleFinance, nil))
		if _, ok := fields["start_date"]; !ok {
			t.Errorf("expected start_date error, got %v", fields)
		}
	})
}

func TestComplianceEndpoint(t *testing.T) {
	env := newTestEnv(t, 10)

	fields := fieldErrors(t, env.do(t, http.MethodGet, "/api/analytics/compliance?client_type=alien", domain.RoleCompliance, nil))
	if _, ok := fields["client_type"]; !ok {
		t.Errorf("expected client_type error, got %v", fields)
	}

	rr := env.do(t, http.MethodGet, "/api/analytics/compliance?group_by=week", domain.RoleCompliance, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAuditReportEndpoint(t *testing.T) {
	env := newTestEnv(t, 10)
	today := time.Now().UTC().Format(time.DateOnly)
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format(time.DateOnly)

	t.Run("JSON", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/audit/reports", domain.RoleCompliance, map[string]any{
			"report_type": "summary",
			"start_date":  yesterday,
			"end_date":    today,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decodeBody(t, rr)
		if resp["generated_by"] != "user-compliance" {
			t.Errorf("expected generated_by user-compliance, got %v", resp["generated_by"])
		}
	})

	t.Run("CSV", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/audit/reports", domain.RoleAdmin, map[string]any{
			"report_type": "detailed",
			"start_date":  yesterday,
			"end_date":    today,
			"format":      "csv",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
			t.Errorf("expected text/csv, got %q", ct)
		}
		if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "audit-report-detailed-") {
			t.Errorf("unexpected Content-Disposition %q", cd)
		}

		lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
		if lines[0] != strings.Join(report.CSVHeader, ",") {
			t.Errorf("unexpected header %q", lines[0])
		}
		if len(lines) != 5 {
			t.Errorf("expected 4 rows after the header, got %d", len(lines)-1)
		}
		if !strings.Contains(lines[1], "Ada Admin") {
			t.Errorf("expected user name in first row, got %q", lines[1])
		}
	})

	t.Run("EndBeforeStart", func(t *testing.T) {
		fields := fieldErrors(t, env.do(t, http.MethodPost, "/api/audit/reports", domain.RoleAdmin, map[string]any{
			"report_type": "summary",
			"start_date":  "2024-02-01",
			"end_date":    "2024-01-01",
		}))
		if _, ok := fields["end_date"]; !ok {
			t.Errorf("expected end_date error, got %v", fields)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		fields := fieldErrors(t, env.do(t, http.MethodPost, "/api/audit/reports", domain.RoleAdmin, map[string]any{
			"report_type": "everything",
			"start_date":  yesterday,
			"end_date":    today,
		}))
		if _, ok := fields["report_type"]; !ok {
			t.Errorf("expected report_type error, got %v", fields)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/audit/reports", strings.NewReader("{"))
		req.Header.Set("Authorization", "Bearer "+env.tokens[domain.RoleAdmin])
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestAuditReportRateLimit(t *testing.T) {
	env := newTestEnv(t, 2)
	body := map[string]any{
		"report_type": "summary",
		"start_date":  "2024-01-01",
		"end_date":    "2024-01-31",
	}

	for i := 0; i < 2; i++ {
		if rr := env.do(t, http.MethodPost, "/api/audit/reports", domain.RoleAdmin, body); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d: %s", i+1, rr.Code, rr.Body.String())
		}
	}

	rr := env.do(t, http.MethodPost, "/api/audit/reports", domain.RoleAdmin, body)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Errorf("expected Retry-After 60, got %q", rr.Header().Get("Retry-After"))
	}

	// Limits are per caller
	if rr := env.do(t, http.MethodPost, "/api/audit/reports", domain.RoleCompliance, body); rr.Code != http.StatusOK {
		t.Errorf("expected other caller to pass, got %d", rr.Code)
	}
}

func TestMonitoringEndpoints(t *testing.T) {
	env := newTestEnv(t, 10)

	for _, limit := range []string{"0", "500", "ten"} {
		t.Run("Limit"+limit, func(t *testing.T) {
			fields := fieldErrors(t, env.do(t, http.MethodGet, "/api/monitoring/activity?limit="+limit, domain.RoleAdmin, nil))
			if _, ok := fields["limit"]; !ok {
				t.Errorf("expected limit error, got %v", fields)
			}
		})
	}

	t.Run("BadTimeframe", func(t *testing.T) {
		fields := fieldErrors(t, env.do(t, http.MethodGet, "/api/monitoring/activity?timeframe=decade", domain.RoleAdmin, nil))
		if _, ok := fields["timeframe"]; !ok {
			t.Errorf("expected timeframe error, got %v", fields)
		}
	})

	t.Run("Activity", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/monitoring/activity?timeframe=day&limit=2", domain.RoleAdmin, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		activities, _ := decodeBody(t, rr)["activities"].([]any)
		if len(activities) != 2 {
			t.Errorf("expected 2 activities, got %d", len(activities))
		}
	})

	t.Run("Security", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/monitoring/security?timeframe=day", domain.RoleAdmin, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		m, _ := decodeBody(t, rr)["metrics"].(map[string]any)
		if m["failed_logins"] != 2.0 {
			t.Errorf("expected 2 failed logins, got %v", m["failed_logins"])
		}
	})

	t.Run("BadSeverity", func(t *testing.T) {
		fields := fieldErrors(t, env.do(t, http.MethodGet, "/api/monitoring/security?severity=urgent", domain.RoleAdmin, nil))
		if _, ok := fields["severity"]; !ok {
			t.Errorf("expected severity error, got %v", fields)
		}
	})
}

func TestRuleManagement(t *testing.T) {
	env := newTestEnv(t, 10)

	t.Run("InvalidExpression", func(t *testing.T) {
		fields := fieldErrors(t, env.do(t, http.MethodPost, "/api/monitoring/rules", domain.RoleAdmin, map[string]any{
			"id":         "bad",
			"name":       "Bad",
			"expression": "failed_logins >",
			"severity":   "high",
		}))
		if _, ok := fields["expression"]; !ok {
			t.Errorf("expected expression error, got %v", fields)
		}
	})

	t.Run("MissingSeverity", func(t *testing.T) {
		fields := fieldErrors(t, env.do(t, http.MethodPost, "/api/monitoring/rules", domain.RoleAdmin, map[string]any{
			"name":       "No severity",
			"expression": "failed_logins > 3",
		}))
		if _, ok := fields["severity"]; !ok {
			t.Errorf("expected severity error, got %v", fields)
		}
	})

	rr := env.do(t, http.MethodPost, "/api/monitoring/rules", domain.RoleAdmin, map[string]any{
		"id":         "many-failures",
		"name":       "Many failures",
		"expression": "failed_logins > 1",
		"severity":   "critical",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/api/monitoring/rules/reload", domain.RoleAdmin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if count := decodeBody(t, rr)["count"]; count != 1.0 {
		t.Errorf("expected 1 loaded rule, got %v", count)
	}

	rr = env.do(t, http.MethodGet, "/api/monitoring/rules/many-failures", domain.RoleAdmin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodDelete, "/api/monitoring/rules/many-failures", domain.RoleAdmin, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}

	rule, err := env.repo.GetDetectionRule(context.Background(), "many-failures")
	if err != nil {
		t.Fatalf("GetDetectionRule failed: %v", err)
	}
	if rule.Enabled {
		t.Error("expected rule to be disabled after delete")
	}

	t.Run("NotFound", func(t *testing.T) {
		if rr := env.do(t, http.MethodGet, "/api/monitoring/rules/missing", domain.RoleAdmin, nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
		if rr := env.do(t, http.MethodDelete, "/api/monitoring/rules/missing", domain.RoleAdmin, nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"UserID":     "user_id",
		"StartDate":  "start_date",
		"ClientType": "client_type",
		"Limit":      "limit",
		"KYCStatus":  "kyc_status",
	}
	for in, want := range tests {
		if got := snakeCase(in); got != want {
			t.Errorf("snakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("2024-03-10", true)
	if err != nil {
		t.Fatalf("parseDate failed: %v", err)
	}
	if want := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("expected plain end date to cover the whole day, got %v", got)
	}

	got, err = parseDate("2024-03-10T15:04:05+02:00", true)
	if err != nil {
		t.Fatalf("parseDate failed: %v", err)
	}
	if want := time.Date(2024, 3, 10, 13, 4, 5, 0, time.UTC); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if _, err := parseDate("10/03/2024", false); err == nil {
		t.Error("expected error for unsupported format")
	}
}
