package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/keeper/internal/domain"
)

// SaveDetectionRule inserts or updates a detection rule.
func (r *SQLRepository) SaveDetectionRule(ctx context.Context, rule *domain.DetectionRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	created := rule.CreatedAt
	if created.IsZero() {
		created = now
	}

	query := `
		INSERT INTO detection_rules (
			id, name, description, expression, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression, string(rule.Severity),
		boolToInt(rule.Enabled), utc(created), now,
	)
	return err
}

// GetDetectionRule retrieves a rule by ID, enabled or not.
func (r *SQLRepository) GetDetectionRule(ctx context.Context, ruleID string) (*domain.DetectionRule, error) {
	query := `
		SELECT id, name, description, expression, severity, enabled, created_at, updated_at
		FROM detection_rules
		WHERE id = ?
	`

	rule, err := scanDetectionRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListDetectionRules retrieves all rules ordered by name.
func (r *SQLRepository) ListDetectionRules(ctx context.Context) ([]*domain.DetectionRule, error) {
	query := `
		SELECT id, name, description, expression, severity, enabled, created_at, updated_at
		FROM detection_rules
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]*domain.DetectionRule, 0)
	for rows.Next() {
		rule, err := scanDetectionRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DeleteDetectionRule soft-deletes a rule by setting enabled = 0.
func (r *SQLRepository) DeleteDetectionRule(ctx context.Context, ruleID string) error {
	query := `
		UPDATE detection_rules
		SET enabled = 0, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

func scanDetectionRule(row rowScanner) (*domain.DetectionRule, error) {
	var rule domain.DetectionRule
	var description sql.NullString
	var severity string
	var enabled int

	if err := row.Scan(
		&rule.ID, &rule.Name, &description, &rule.Expression, &severity, &enabled,
		&rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Severity = domain.Severity(severity)
	rule.Enabled = enabled == 1
	return &rule, nil
}

// SaveAlertNotification records a dispatched alert.
func (r *SQLRepository) SaveAlertNotification(ctx context.Context, n *domain.AlertNotification) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("%w: notification id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO alert_notifications (
			id, finding_type, severity, user_id, ip_address, description, source, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		n.ID, n.FindingType, string(n.Severity), n.UserID, n.IPAddress, n.Description, n.Source,
		utc(n.CreatedAt),
	)
	return err
}

// ListAlertNotifications returns notifications matching q.
func (r *SQLRepository) ListAlertNotifications(ctx context.Context, q *domain.Query) ([]*domain.AlertNotification, error) {
	return list(ctx, r, alertsTable, q, func(row rowScanner) (*domain.AlertNotification, error) {
		var n domain.AlertNotification
		var severity string
		if err := row.Scan(
			&n.ID, &n.FindingType, &severity, &n.UserID, &n.IPAddress, &n.Description, &n.Source, &n.CreatedAt,
		); err != nil {
			return nil, err
		}
		n.Severity = domain.Severity(severity)
		return &n, nil
	})
}
