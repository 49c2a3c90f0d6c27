// Seed tool for loading synthetic back-office data into Keeper's database.
//
// Usage:
//
//	go run ./cmd/seed -days 90 -clients 40
//
// This tool:
//  1. Creates one back-office user per role
//  2. Generates clients, SKRs, invoices, receipts, credit notes and
//     compliance assessments spread over the last -days days
//  3. Writes audit activity, including a failed-login burst the security
//     monitor will flag
//  4. Stores the starter detection rules
//  5. Prints a bearer token per role for trying the API
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/keeper/internal/auth"
	"github.com/opensource-finance/keeper/internal/config"
	"github.com/opensource-finance/keeper/internal/domain"
	"github.com/opensource-finance/keeper/internal/repository"
	"github.com/opensource-finance/keeper/internal/rules"
)

var (
	countries     = []string{"CH", "GB", "DE", "SG", "AE", "US", "LU"}
	clientTypes   = []string{domain.ClientIndividual, domain.ClientCorporate, domain.ClientInstitutional}
	statuses      = []string{domain.ComplianceApproved, domain.ComplianceApproved, domain.CompliancePending, domain.ComplianceUnderReview, domain.ComplianceRejected}
	riskLevels    = []string{domain.RiskLow, domain.RiskLow, domain.RiskMedium, domain.RiskHigh}
	documentTypes = []string{"passport", "proof_of_address", "source_of_funds", "company_registration"}
	assetTypes    = []string{"gold_bullion", "silver_bullion", "art", "documents"}
	skrStatuses   = []string{domain.SKRIssued, domain.SKRInTransit, domain.SKRDelivered, domain.SKRClosed}
	methods       = []string{"wire", "card", "sepa"}
	ips           = []string{"10.0.0.10", "10.0.0.11", "10.0.0.12", "192.168.1.20"}
	workActions   = []string{"client_viewed", "client_updated", "invoice_created", "skr_viewed", "report_exported"}
	resources     = []string{"client", "invoice", "skr", "kyc_document", "report"}
)

type seeder struct {
	repo  domain.Repository
	rng   *rand.Rand
	now   time.Time
	days  int
	users []*domain.UserProfile
}

func main() {
	days := flag.Int("days", 90, "Days of history to generate")
	clients := flag.Int("clients", 40, "Number of clients to create")
	seed := flag.Uint64("seed", 1, "Random seed")
	withRules := flag.Bool("rules", true, "Store the starter detection rules")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	s := &seeder{
		repo: repo,
		rng:  rand.New(rand.NewPCG(*seed, *seed)),
		now:  time.Now().UTC().Truncate(time.Minute),
		days: *days,
	}

	ctx := context.Background()
	if err := s.run(ctx, *clients, *withRules); err != nil {
		slog.Error("seeding failed", "error", err)
		os.Exit(1)
	}

	if cfg.Auth.JWTSecret == "" {
		fmt.Println("KEEPER_AUTH__JWT_SECRET not set; skipping token generation")
		return
	}
	authn, err := auth.New(cfg.Auth)
	if err != nil {
		slog.Error("failed to initialize authenticator", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Bearer tokens:")
	for _, u := range s.users {
		token, err := authn.Issue(auth.Principal{UserID: u.ID, Email: u.Email, Name: u.FullName, Role: u.Role})
		if err != nil {
			slog.Error("failed to issue token", "role", u.Role, "error", err)
			os.Exit(1)
		}
		fmt.Printf("  %-11s %s\n", u.Role, token)
	}
}

func (s *seeder) run(ctx context.Context, clients int, withRules bool) error {
	if err := s.seedUsers(ctx); err != nil {
		return err
	}
	if err := s.seedClients(ctx, clients); err != nil {
		return err
	}
	if err := s.seedSecurityBurst(ctx); err != nil {
		return err
	}
	if withRules {
		for _, rule := range rules.BuiltinRules() {
			if err := s.repo.SaveDetectionRule(ctx, rule); err != nil {
				return fmt.Errorf("save rule %s: %w", rule.ID, err)
			}
		}
	}

	slog.Info("seed complete", "users", len(s.users), "clients", clients, "days", s.days)
	return nil
}

func (s *seeder) seedUsers(ctx context.Context) error {
	for _, role := range domain.Roles {
		u := &domain.UserProfile{
			ID:       "user-" + role,
			FullName: "Demo " + role,
			Email:    role + "@keeper.example",
			Role:     role,
		}
		if err := s.repo.SaveUserProfile(ctx, u); err != nil {
			return fmt.Errorf("save user %s: %w", u.ID, err)
		}
		s.users = append(s.users, u)
	}
	return nil
}

func (s *seeder) seedClients(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		created := s.pastTime()
		c := &domain.Client{
			ID:               uuid.NewString(),
			Name:             fmt.Sprintf("Client %03d", i+1),
			Email:            fmt.Sprintf("client%03d@example.com", i+1),
			Type:             pick(s.rng, clientTypes),
			Country:          pick(s.rng, countries),
			ComplianceStatus: pick(s.rng, statuses),
			RiskLevel:        pick(s.rng, riskLevels),
			CreatedAt:        created,
			UpdatedAt:        created.Add(time.Duration(s.rng.IntN(72)) * time.Hour),
		}
		for _, doc := range documentTypes[:s.rng.IntN(len(documentTypes)+1)] {
			c.KYCDocuments = append(c.KYCDocuments, domain.KYCDocument{Type: doc, Status: "verified", UploadedAt: created})
		}
		if err := s.repo.SaveClient(ctx, c); err != nil {
			return fmt.Errorf("save client %s: %w", c.ID, err)
		}

		if err := s.audit(ctx, "user-compliance", "client_created", "client", c.ID, created); err != nil {
			return err
		}
		if c.ComplianceStatus == domain.ComplianceApproved {
			if err := s.audit(ctx, "user-compliance", domain.ActionClientApproved, "client", c.ID, c.UpdatedAt); err != nil {
				return err
			}
		}

		if err := s.repo.SaveComplianceAssessment(ctx, &domain.ComplianceAssessment{
			ID:        uuid.NewString(),
			ClientID:  c.ID,
			RiskScore: float64(s.rng.IntN(100)),
			Status:    "completed",
			CreatedAt: c.UpdatedAt,
		}); err != nil {
			return fmt.Errorf("save assessment: %w", err)
		}

		if err := s.repo.SaveSKR(ctx, &domain.SKR{
			ID:        uuid.NewString(),
			SKRNumber: fmt.Sprintf("SKR-%05d", i+1),
			ClientID:  c.ID,
			AssetType: pick(s.rng, assetTypes),
			Status:    pick(s.rng, skrStatuses),
			CreatedAt: created.Add(24 * time.Hour),
		}); err != nil {
			return fmt.Errorf("save skr: %w", err)
		}

		if err := s.seedBilling(ctx, c, i); err != nil {
			return err
		}
	}
	return nil
}

// seedBilling issues a few invoices per client; most are paid, some carry
// a credit note, the rest stay open with due dates in the past or future.
func (s *seeder) seedBilling(ctx context.Context, c *domain.Client, n int) error {
	count := 1 + s.rng.IntN(3)
	for j := 0; j < count; j++ {
		issued := s.pastTime()
		due := issued.AddDate(0, 0, 30)
		amount := decimal.New(int64(50000+s.rng.IntN(2000000)), -2)

		inv := &domain.Invoice{
			ID:            uuid.NewString(),
			InvoiceNumber: fmt.Sprintf("INV-%03d-%d", n+1, j+1),
			ClientID:      c.ID,
			Amount:        amount,
			Currency:      "USD",
			Status:        domain.InvoiceSent,
			IssueDate:     issued,
			DueDate:       &due,
			CreatedAt:     issued,
		}

		roll := s.rng.IntN(10)
		switch {
		case roll < 6:
			inv.Status = domain.InvoicePaid
		case roll < 8 && due.Before(s.now):
			inv.Status = domain.InvoiceOverdue
		}
		if err := s.repo.SaveInvoice(ctx, inv); err != nil {
			return fmt.Errorf("save invoice %s: %w", inv.InvoiceNumber, err)
		}
		if err := s.audit(ctx, "user-finance", "invoice_created", "invoice", inv.ID, issued); err != nil {
			return err
		}

		if inv.Status == domain.InvoicePaid {
			paidAt := issued.Add(time.Duration(1+s.rng.IntN(40*24)) * time.Hour)
			if paidAt.After(s.now) {
				paidAt = s.now
			}
			if err := s.repo.SaveReceipt(ctx, &domain.Receipt{
				ID:            uuid.NewString(),
				ReceiptNumber: "RCP-" + inv.InvoiceNumber[4:],
				InvoiceID:     inv.ID,
				Amount:        amount,
				Currency:      inv.Currency,
				PaymentMethod: pick(s.rng, methods),
				IssueDate:     paidAt,
				CreatedAt:     paidAt,
			}); err != nil {
				return fmt.Errorf("save receipt: %w", err)
			}
		}

		if roll == 9 {
			if err := s.repo.SaveCreditNote(ctx, &domain.CreditNote{
				ID:               uuid.NewString(),
				CreditNoteNumber: "CN-" + inv.InvoiceNumber[4:],
				InvoiceID:        inv.ID,
				Amount:           amount.Div(decimal.NewFromInt(10)).Round(2),
				Currency:         inv.Currency,
				Reason:           "goodwill",
				IssueDate:        issued.AddDate(0, 0, 5),
				CreatedAt:        issued.AddDate(0, 0, 5),
			}); err != nil {
				return fmt.Errorf("save credit note: %w", err)
			}
		}
	}
	return nil
}

// seedSecurityBurst writes ordinary working-hours traffic for every user
// plus six failed logins from one address within the last hour.
func (s *seeder) seedSecurityBurst(ctx context.Context) error {
	for _, u := range s.users {
		for k := 0; k < 20; k++ {
			at := s.pastTime()
			if err := s.audit(ctx, u.ID, domain.ActionLoginSuccess, "session", "", at); err != nil {
				return err
			}
			action := pick(s.rng, workActions)
			if err := s.audit(ctx, u.ID, action, pick(s.rng, resources), uuid.NewString(), at.Add(5*time.Minute)); err != nil {
				return err
			}
		}
	}

	for k := 0; k < 6; k++ {
		at := s.now.Add(-time.Duration(50-5*k) * time.Minute)
		if err := s.auditFrom(ctx, "user-operations", domain.ActionLoginFailed, "session", "", "203.0.113.9", at); err != nil {
			return err
		}
	}
	return s.auditFrom(ctx, "user-operations", domain.ActionPermissionDenied, "report", "", "203.0.113.9", s.now.Add(-10*time.Minute))
}

func (s *seeder) audit(ctx context.Context, userID, action, resource, resourceID string, at time.Time) error {
	return s.auditFrom(ctx, userID, action, resource, resourceID, pick(s.rng, ips), at)
}

func (s *seeder) auditFrom(ctx context.Context, userID, action, resource, resourceID, ip string, at time.Time) error {
	e := &domain.AuditLogEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Action:       action,
		ResourceType: resource,
		ResourceID:   resourceID,
		IPAddress:    ip,
		UserAgent:    "keeper-seed",
		CreatedAt:    at,
	}
	if err := s.repo.SaveAuditLog(ctx, e); err != nil {
		return fmt.Errorf("save audit log %s: %w", action, err)
	}
	return nil
}

// pastTime returns a working-hours timestamp within the seeded history.
func (s *seeder) pastTime() time.Time {
	day := s.now.AddDate(0, 0, -s.rng.IntN(max(s.days, 1)))
	y, m, d := day.Date()
	t := time.Date(y, m, d, 9+s.rng.IntN(8), s.rng.IntN(60), 0, 0, time.UTC)
	if t.After(s.now) {
		t = s.now.Add(-time.Hour)
	}
	return t
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}
