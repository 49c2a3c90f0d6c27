package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/keeper/internal/domain"
)

// table describes how a domain.Query maps onto one SELECT.
type table struct {
	name    string
	sel     string            // column list
	from    string            // FROM clause including joins
	columns map[string]string // filterable field -> qualified column
	order   string            // default ORDER BY
}

var (
	clientsTable = table{
		name: "clients",
		sel: `c.id, c.name, c.email, c.type, c.country, c.compliance_status, c.risk_level,
			c.kyc_documents, c.created_at, c.updated_at`,
		from: "clients c",
		columns: map[string]string{
			"id": "c.id", "name": "c.name", "email": "c.email", "type": "c.type",
			"country": "c.country", "compliance_status": "c.compliance_status",
			"risk_level": "c.risk_level", "created_at": "c.created_at", "updated_at": "c.updated_at",
		},
		order: "c.created_at DESC",
	}

	auditLogsTable = table{
		name: "audit_logs",
		sel: `a.id, a.user_id, a.action, a.resource_type, a.resource_id, a.details,
			a.ip_address, a.user_agent, a.created_at, u.id, u.full_name, u.email, u.role`,
		from: "audit_logs a LEFT JOIN user_profiles u ON u.id = a.user_id",
		columns: map[string]string{
			"id": "a.id", "user_id": "a.user_id", "action": "a.action",
			"resource_type": "a.resource_type", "resource_id": "a.resource_id",
			"ip_address": "a.ip_address", "created_at": "a.created_at",
			"email": "u.email", "role": "u.role", "full_name": "u.full_name",
		},
		order: "a.created_at DESC",
	}

	invoicesTable = table{
		name: "invoices",
		sel: `i.id, i.invoice_number, i.client_id, i.amount, i.currency, i.status,
			i.issue_date, i.due_date, i.created_at, c.id, c.name, c.type, c.country`,
		from: "invoices i LEFT JOIN clients c ON c.id = i.client_id",
		columns: map[string]string{
			"id": "i.id", "invoice_number": "i.invoice_number", "client_id": "i.client_id",
			"currency": "i.currency", "status": "i.status", "issue_date": "i.issue_date",
			"due_date": "i.due_date", "created_at": "i.created_at", "amount": "i.amount",
			"client_type": "c.type", "client_country": "c.country",
		},
		order: "i.created_at DESC",
	}

	receiptsTable = table{
		name: "receipts",
		sel: `r.id, r.receipt_number, r.invoice_id, r.amount, r.currency, r.payment_method,
			r.issue_date, r.created_at, i.id, i.invoice_number, i.client_id`,
		from: "receipts r LEFT JOIN invoices i ON i.id = r.invoice_id",
		columns: map[string]string{
			"id": "r.id", "receipt_number": "r.receipt_number", "invoice_id": "r.invoice_id",
			"currency": "r.currency", "payment_method": "r.payment_method",
			"issue_date": "r.issue_date", "created_at": "r.created_at", "amount": "r.amount",
			"client_id": "i.client_id",
		},
		order: "r.created_at DESC",
	}

	creditNotesTable = table{
		name: "credit_notes",
		sel: `n.id, n.credit_note_number, n.invoice_id, n.amount, n.currency, n.reason,
			n.issue_date, n.created_at, i.id, i.invoice_number, i.client_id`,
		from: "credit_notes n LEFT JOIN invoices i ON i.id = n.invoice_id",
		columns: map[string]string{
			"id": "n.id", "credit_note_number": "n.credit_note_number", "invoice_id": "n.invoice_id",
			"currency": "n.currency", "reason": "n.reason", "issue_date": "n.issue_date",
			"created_at": "n.created_at", "amount": "n.amount", "client_id": "i.client_id",
		},
		order: "n.created_at DESC",
	}

	skrsTable = table{
		name: "skrs",
		sel:  "s.id, s.skr_number, s.client_id, s.asset_type, s.status, s.created_at",
		from: "skrs s",
		columns: map[string]string{
			"id": "s.id", "skr_number": "s.skr_number", "client_id": "s.client_id",
			"asset_type": "s.asset_type", "status": "s.status", "created_at": "s.created_at",
		},
		order: "s.created_at DESC",
	}

	assessmentsTable = table{
		name: "compliance_assessments",
		sel:  "ca.id, ca.client_id, ca.risk_score, ca.status, ca.created_at",
		from: "compliance_assessments ca",
		columns: map[string]string{
			"id": "ca.id", "client_id": "ca.client_id", "risk_score": "ca.risk_score",
			"status": "ca.status", "created_at": "ca.created_at",
		},
		order: "ca.created_at DESC",
	}

	alertsTable = table{
		name: "alert_notifications",
		sel:  "al.id, al.finding_type, al.severity, al.user_id, al.ip_address, al.description, al.source, al.created_at",
		from: "alert_notifications al",
		columns: map[string]string{
			"id": "al.id", "finding_type": "al.finding_type", "severity": "al.severity",
			"user_id": "al.user_id", "ip_address": "al.ip_address", "source": "al.source",
			"created_at": "al.created_at",
		},
		order: "al.created_at DESC",
	}
)

// build renders a SELECT for q. Unknown fields and malformed values are
// rejected with ErrInvalidInput.
func (t table) build(q *domain.Query) (string, []any, error) {
	if q == nil {
		q = domain.NewQuery()
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(t.sel)
	sb.WriteString(" FROM ")
	sb.WriteString(t.from)

	var (
		where []string
		args  []any
	)
	for _, f := range q.Filters {
		col, ok := t.columns[f.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: unknown field %q for %s", ErrInvalidInput, f.Field, t.name)
		}

		switch f.Op {
		case domain.OpEq:
			where = append(where, col+" = ?")
			args = append(args, bindValue(f.Value))
		case domain.OpGte:
			where = append(where, col+" >= ?")
			args = append(args, bindValue(f.Value))
		case domain.OpLte:
			where = append(where, col+" <= ?")
			args = append(args, bindValue(f.Value))
		case domain.OpLt:
			where = append(where, col+" < ?")
			args = append(args, bindValue(f.Value))
		case domain.OpILike:
			s, ok := f.Value.(string)
			if !ok {
				return "", nil, fmt.Errorf("%w: ilike on %s needs a string", ErrInvalidInput, f.Field)
			}
			where = append(where, "LOWER("+col+") LIKE ?")
			args = append(args, "%"+strings.ToLower(s)+"%")
		case domain.OpIn:
			values, ok := f.Value.([]string)
			if !ok || len(values) == 0 {
				return "", nil, fmt.Errorf("%w: in on %s needs a non-empty list", ErrInvalidInput, f.Field)
			}
			marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
			where = append(where, col+" IN ("+marks+")")
			for _, v := range values {
				args = append(args, v)
			}
		default:
			return "", nil, fmt.Errorf("%w: unsupported operator %q", ErrInvalidInput, f.Op)
		}
	}

	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}

	sb.WriteString(" ORDER BY ")
	if q.OrderBy != "" {
		col, ok := t.columns[q.OrderBy]
		if !ok {
			return "", nil, fmt.Errorf("%w: unknown order field %q for %s", ErrInvalidInput, q.OrderBy, t.name)
		}
		sb.WriteString(col)
		if q.Descending {
			sb.WriteString(" DESC")
		} else {
			sb.WriteString(" ASC")
		}
	} else {
		sb.WriteString(t.order)
	}

	if q.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}

	return sb.String(), args, nil
}

// bindValue normalises filter values before they reach the driver.
func bindValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC()
	case domain.Severity:
		return string(t)
	}
	return v
}
