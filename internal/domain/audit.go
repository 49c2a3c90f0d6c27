package domain

import "time"

// Roles recognised by the auth layer.
const (
	RoleAdmin      = "admin"
	RoleFinance    = "finance"
	RoleOperations = "operations"
	RoleCompliance = "compliance"
	RoleReadOnly   = "read_only"
)

// Roles lists every valid role.
var Roles = []string{RoleAdmin, RoleFinance, RoleOperations, RoleCompliance, RoleReadOnly}

// Well-known audit actions. Action is a free-form tag; these are the ones
// the monitoring heuristics know about.
const (
	ActionLoginFailed           = "login_failed"
	ActionLoginSuccess          = "login_success"
	ActionLogout                = "logout"
	ActionPasswordChanged       = "password_changed"
	ActionAccountLocked         = "account_locked"
	ActionSuspiciousActivity    = "suspicious_activity"
	ActionUnauthorizedAccess    = "unauthorized_access"
	ActionRoleChanged           = "role_changed"
	ActionPermissionDenied      = "permission_denied"
	ActionSensitiveDataAccessed = "sensitive_data_accessed"
)

// Compliance workflow actions.
const (
	ActionClientApproved      = "client_approved"
	ActionClientRejected      = "client_rejected"
	ActionKYCDocumentApproved = "kyc_document_approved"
)

// ComplianceResources are the resource types whose audit entries count as
// compliance activity.
var ComplianceResources = []string{"client", "kyc_document", "compliance_assessment"}

// SecurityActions are the audit actions the security monitor watches.
var SecurityActions = []string{
	ActionLoginFailed,
	ActionLoginSuccess,
	ActionLogout,
	ActionPasswordChanged,
	ActionAccountLocked,
	ActionSuspiciousActivity,
	ActionUnauthorizedAccess,
	ActionRoleChanged,
	ActionPermissionDenied,
	ActionSensitiveDataAccessed,
}

// UserProfile is a back-office user.
type UserProfile struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// AuditLogEntry records one action taken in the back office.
type AuditLogEntry struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId"`
	Details      map[string]any `json:"details,omitempty"`
	IPAddress    string         `json:"ipAddress"`
	UserAgent    string         `json:"userAgent,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`

	// Joined user profile, nil when the user row is missing
	User *UserProfile `json:"user,omitempty"`
}
