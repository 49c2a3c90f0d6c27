//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running Keeper
// server loaded with the seed data.
//
// Run with:
//
//	go run ./cmd/seed
//	go run ./cmd/keeper &
//	KEEPER_TEST_TOKEN=<admin token printed by seed> go test -tags=integration -v ./tests/integration/...
//
// The seed data includes six failed logins from 203.0.113.9 within the last
// hour, which the security monitor is expected to flag.
package integration

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
	Token   string
}

func getTestConfig(t *testing.T) TestConfig {
	t.Helper()

	baseURL := os.Getenv("KEEPER_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	token := os.Getenv("KEEPER_TEST_TOKEN")
	if token == "" {
		t.Skip("KEEPER_TEST_TOKEN not set")
	}
	return TestConfig{BaseURL: baseURL, Token: token}
}

func call(t *testing.T, config TestConfig, method, path string, body any) (int, http.Header, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+config.Token)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, resp.Header, respBody
}

func getJSON(t *testing.T, config TestConfig, path string, dst any) {
	t.Helper()

	status, _, body := call(t, config, http.MethodGet, path, nil)
	if status != http.StatusOK {
		t.Fatalf("GET %s: expected 200, got %d: %s", path, status, body)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		t.Fatalf("GET %s: failed to decode: %v", path, err)
	}
}

func TestHealth(t *testing.T) {
	config := getTestConfig(t)

	var resp struct {
		Status string `json:"status"`
	}
	getJSON(t, config, "/health", &resp)
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %q", resp.Status)
	}
}

func TestOverview_SeededData(t *testing.T) {
	config := getTestConfig(t)

	var resp struct {
		Summary struct {
			NewClients  int `json:"new_clients"`
			AuditEvents int `json:"audit_events"`
		} `json:"summary"`
		TimeSeries []json.RawMessage `json:"time_series"`
	}
	getJSON(t, config, "/api/analytics/overview?timeframe=year", &resp)

	if resp.Summary.NewClients == 0 {
		t.Error("expected seeded clients in the last year")
	}
	if resp.Summary.AuditEvents == 0 {
		t.Error("expected seeded audit events in the last year")
	}
	if len(resp.TimeSeries) == 0 {
		t.Error("expected a time series")
	}
}

func TestFinancial_FiguresAddUp(t *testing.T) {
	config := getTestConfig(t)

	var resp struct {
		Metrics struct {
			TotalInvoiced     float64 `json:"total_invoiced"`
			TotalPaid         float64 `json:"total_paid"`
			TotalCredited     float64 `json:"total_credited"`
			OutstandingAmount float64 `json:"outstanding_amount"`
		} `json:"financial_metrics"`
	}
	getJSON(t, config, "/api/analytics/financial?start_date=2000-01-01&end_date="+time.Now().UTC().Format(time.DateOnly), &resp)

	m := resp.Metrics
	want := m.TotalInvoiced - m.TotalPaid - m.TotalCredited
	if diff := want - m.OutstandingAmount; diff > 0.01 || diff < -0.01 {
		t.Errorf("outstanding %.2f != invoiced - paid - credited (%.2f)", m.OutstandingAmount, want)
	}
}

func TestSecurity_FailedLoginBurstFlagged(t *testing.T) {
	config := getTestConfig(t)

	var resp struct {
		Metrics struct {
			FailedLogins int    `json:"failed_logins"`
			ThreatLevel  string `json:"threat_level"`
		} `json:"metrics"`
		FailedLoginsByIP []struct {
			Key   string `json:"key"`
			Count int    `json:"count"`
		} `json:"failed_logins_by_ip"`
	}
	getJSON(t, config, "/api/monitoring/security?timeframe=hour", &resp)

	if resp.Metrics.FailedLogins < 6 {
		t.Errorf("expected at least 6 failed logins, got %d", resp.Metrics.FailedLogins)
	}
	if resp.Metrics.ThreatLevel != "high" && resp.Metrics.ThreatLevel != "critical" {
		t.Errorf("expected high threat level, got %q", resp.Metrics.ThreatLevel)
	}
	if len(resp.FailedLoginsByIP) == 0 || resp.FailedLoginsByIP[0].Key != "203.0.113.9" {
		t.Errorf("expected 203.0.113.9 to lead failed logins, got %+v", resp.FailedLoginsByIP)
	}
}

func TestAuditReport_CSVExport(t *testing.T) {
	config := getTestConfig(t)

	status, header, body := call(t, config, http.MethodPost, "/api/audit/reports", map[string]any{
		"report_type": "security",
		"start_date":  time.Now().UTC().AddDate(0, 0, -1).Format(time.DateOnly),
		"end_date":    time.Now().UTC().Format(time.DateOnly),
		"format":      "csv",
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if !strings.HasPrefix(header.Get("Content-Type"), "text/csv") {
		t.Errorf("expected text/csv, got %q", header.Get("Content-Type"))
	}

	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse csv: %v", err)
	}
	if len(records) < 2 {
		t.Fatalf("expected rows after the header, got %d records", len(records))
	}
	for _, rec := range records[1:] {
		if rec[4] == "client_created" || rec[4] == "invoice_created" {
			t.Errorf("security report should not include %s", rec[4])
		}
	}
}

func TestRules_StarterRulesStored(t *testing.T) {
	config := getTestConfig(t)

	var resp struct {
		Rules []struct {
			ID string `json:"id"`
		} `json:"rules"`
	}
	getJSON(t, config, "/api/monitoring/rules", &resp)

	found := false
	for _, r := range resp.Rules {
		if r.ID == "credential-stuffing" {
			found = true
		}
	}
	if !found {
		t.Error("expected the seeded credential-stuffing rule")
	}
}
