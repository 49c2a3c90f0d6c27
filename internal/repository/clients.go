package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/keeper/internal/domain"
)

// SaveClient inserts or updates a client.
func (r *SQLRepository) SaveClient(ctx context.Context, c *domain.Client) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: client id is required", ErrInvalidInput)
	}

	docs := c.KYCDocuments
	if docs == nil {
		docs = []domain.KYCDocument{}
	}
	kyc, err := marshalJSON(docs)
	if err != nil {
		return err
	}

	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = c.CreatedAt
	}

	query := `
		INSERT INTO clients (
			id, name, email, type, country, compliance_status, risk_level,
			kyc_documents, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			type = excluded.type,
			country = excluded.country,
			compliance_status = excluded.compliance_status,
			risk_level = excluded.risk_level,
			kyc_documents = excluded.kyc_documents,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.Name, c.Email, c.Type, c.Country, c.ComplianceStatus, c.RiskLevel,
		kyc, utc(c.CreatedAt), utc(updated),
	)
	return err
}

// ListClients returns clients matching q.
func (r *SQLRepository) ListClients(ctx context.Context, q *domain.Query) ([]*domain.Client, error) {
	return list(ctx, r, clientsTable, q, func(row rowScanner) (*domain.Client, error) {
		var c domain.Client
		var kyc string
		if err := row.Scan(
			&c.ID, &c.Name, &c.Email, &c.Type, &c.Country, &c.ComplianceStatus, &c.RiskLevel,
			&kyc, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		c.KYCDocuments = []domain.KYCDocument{}
		if kyc != "" {
			if err := json.Unmarshal([]byte(kyc), &c.KYCDocuments); err != nil {
				return nil, fmt.Errorf("failed to parse kyc documents for %s: %w", c.ID, err)
			}
		}
		return &c, nil
	})
}

// SaveSKR stores a Secure Keeper Receipt.
func (r *SQLRepository) SaveSKR(ctx context.Context, s *domain.SKR) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: skr id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO skrs (id, skr_number, client_id, asset_type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		s.ID, s.SKRNumber, s.ClientID, s.AssetType, s.Status, utc(s.CreatedAt),
	)
	return err
}

// ListSKRs returns SKRs matching q.
func (r *SQLRepository) ListSKRs(ctx context.Context, q *domain.Query) ([]*domain.SKR, error) {
	return list(ctx, r, skrsTable, q, func(row rowScanner) (*domain.SKR, error) {
		var s domain.SKR
		if err := row.Scan(&s.ID, &s.SKRNumber, &s.ClientID, &s.AssetType, &s.Status, &s.CreatedAt); err != nil {
			return nil, err
		}
		return &s, nil
	})
}

// SaveComplianceAssessment stores a compliance assessment.
func (r *SQLRepository) SaveComplianceAssessment(ctx context.Context, a *domain.ComplianceAssessment) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO compliance_assessments (id, client_id, risk_score, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.ClientID, a.RiskScore, a.Status, utc(a.CreatedAt),
	)
	return err
}

// ListComplianceAssessments returns assessments matching q.
func (r *SQLRepository) ListComplianceAssessments(ctx context.Context, q *domain.Query) ([]*domain.ComplianceAssessment, error) {
	return list(ctx, r, assessmentsTable, q, func(row rowScanner) (*domain.ComplianceAssessment, error) {
		var a domain.ComplianceAssessment
		if err := row.Scan(&a.ID, &a.ClientID, &a.RiskScore, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		return &a, nil
	})
}
