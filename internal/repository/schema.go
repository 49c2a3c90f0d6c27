package repository

// Schema definitions for the Keeper database.
// Compatible with both SQLite and PostgreSQL. Timestamps are written in UTC.

const schemaUserProfiles = `
CREATE TABLE IF NOT EXISTS user_profiles (
    id TEXT PRIMARY KEY,
    full_name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL
);
`

const schemaClients = `
CREATE TABLE IF NOT EXISTS clients (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    country TEXT NOT NULL DEFAULT '',
    compliance_status TEXT NOT NULL,
    risk_level TEXT NOT NULL DEFAULT '',
    kyc_documents TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_clients_created ON clients(created_at);
CREATE INDEX IF NOT EXISTS idx_clients_status ON clients(compliance_status);
`

const schemaAuditLogs = `
CREATE TABLE IF NOT EXISTS audit_logs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL,
    resource_type TEXT NOT NULL DEFAULT '',
    resource_id TEXT NOT NULL DEFAULT '',
    details TEXT,
    ip_address TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_logs_user ON audit_logs(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action, created_at);
`

const schemaInvoices = `
CREATE TABLE IF NOT EXISTS invoices (
    id TEXT PRIMARY KEY,
    invoice_number TEXT NOT NULL,
    client_id TEXT NOT NULL,
    amount NUMERIC(20,2) NOT NULL,
    currency TEXT NOT NULL,
    status TEXT NOT NULL,
    issue_date TIMESTAMP NOT NULL,
    due_date TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_created ON invoices(created_at);
CREATE INDEX IF NOT EXISTS idx_invoices_client ON invoices(client_id);
`

const schemaReceipts = `
CREATE TABLE IF NOT EXISTS receipts (
    id TEXT PRIMARY KEY,
    receipt_number TEXT NOT NULL,
    invoice_id TEXT NOT NULL,
    amount NUMERIC(20,2) NOT NULL,
    currency TEXT NOT NULL,
    payment_method TEXT NOT NULL DEFAULT '',
    issue_date TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_receipts_created ON receipts(created_at);
CREATE INDEX IF NOT EXISTS idx_receipts_invoice ON receipts(invoice_id);
`

const schemaCreditNotes = `
CREATE TABLE IF NOT EXISTS credit_notes (
    id TEXT PRIMARY KEY,
    credit_note_number TEXT NOT NULL,
    invoice_id TEXT NOT NULL,
    amount NUMERIC(20,2) NOT NULL,
    currency TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    issue_date TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_notes_created ON credit_notes(created_at);
`

const schemaSKRs = `
CREATE TABLE IF NOT EXISTS skrs (
    id TEXT PRIMARY KEY,
    skr_number TEXT NOT NULL,
    client_id TEXT NOT NULL,
    asset_type TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_skrs_created ON skrs(created_at);
`

const schemaComplianceAssessments = `
CREATE TABLE IF NOT EXISTS compliance_assessments (
    id TEXT PRIMARY KEY,
    client_id TEXT NOT NULL,
    risk_score REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_compliance_assessments_created ON compliance_assessments(created_at);
`

// schemaDetectionRules defines operator-managed CEL detection rules.
const schemaDetectionRules = `
CREATE TABLE IF NOT EXISTS detection_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detection_rules_enabled ON detection_rules(enabled);
`

const schemaAlertNotifications = `
CREATE TABLE IF NOT EXISTS alert_notifications (
    id TEXT PRIMARY KEY,
    finding_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',
    ip_address TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alert_notifications_created ON alert_notifications(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaUserProfiles,
		schemaClients,
		schemaAuditLogs,
		schemaInvoices,
		schemaReceipts,
		schemaCreditNotes,
		schemaSKRs,
		schemaComplianceAssessments,
		schemaDetectionRules,
		schemaAlertNotifications,
	}
}
