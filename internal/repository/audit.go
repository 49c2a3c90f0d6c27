package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/keeper/internal/domain"
)

// SaveUserProfile inserts or updates a back-office user.
func (r *SQLRepository) SaveUserProfile(ctx context.Context, u *domain.UserProfile) error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO user_profiles (id, full_name, email, role)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			email = excluded.email,
			role = excluded.role
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), u.ID, u.FullName, u.Email, u.Role)
	return err
}

// SaveAuditLog stores an audit log entry.
func (r *SQLRepository) SaveAuditLog(ctx context.Context, e *domain.AuditLogEntry) error {
	if e == nil || e.ID == "" || e.Action == "" {
		return fmt.Errorf("%w: audit entry needs id and action", ErrInvalidInput)
	}

	var details sql.NullString
	if e.Details != nil {
		s, err := marshalJSON(e.Details)
		if err != nil {
			return err
		}
		details = sql.NullString{String: s, Valid: true}
	}

	query := `
		INSERT INTO audit_logs (
			id, user_id, action, resource_type, resource_id,
			details, ip_address, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.ID, e.UserID, e.Action, e.ResourceType, e.ResourceID,
		details, e.IPAddress, e.UserAgent, utc(e.CreatedAt),
	)
	return err
}

// ListAuditLogs returns audit entries with the acting user's profile joined.
func (r *SQLRepository) ListAuditLogs(ctx context.Context, q *domain.Query) ([]*domain.AuditLogEntry, error) {
	return list(ctx, r, auditLogsTable, q, scanAuditLog)
}

func scanAuditLog(row rowScanner) (*domain.AuditLogEntry, error) {
	var (
		e                         domain.AuditLogEntry
		details                   sql.NullString
		uID, uName, uEmail, uRole sql.NullString
	)

	if err := row.Scan(
		&e.ID, &e.UserID, &e.Action, &e.ResourceType, &e.ResourceID, &details,
		&e.IPAddress, &e.UserAgent, &e.CreatedAt,
		&uID, &uName, &uEmail, &uRole,
	); err != nil {
		return nil, err
	}

	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			// Keep the raw payload rather than dropping the row
			e.Details = map[string]any{"raw": details.String}
		}
	}

	if uID.Valid {
		e.User = &domain.UserProfile{ID: uID.String, FullName: uName.String, Email: uEmail.String, Role: uRole.String}
	}

	return &e, nil
}
