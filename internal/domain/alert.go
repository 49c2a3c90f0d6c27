package domain

import (
	"time"
)

// Severity of a finding or alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: critical=4, high=3, medium=2, low=1, unknown=0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Finding types produced by the monitoring heuristics.
const (
	FindingMultipleFailedLogins = "multiple_failed_logins"
	FindingRapidActions         = "rapid_successive_actions"
	FindingUnusualAccess        = "unusual_access_breadth"
	FindingOffHours             = "off_hours_activity"
	FindingHighRiskUser         = "high_risk_user"
	FindingCustomRule           = "custom_rule"
)

// Finding is one suspicious-activity detection.
type Finding struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Severity    Severity       `json:"severity"`
	UserID      string         `json:"userId"`
	IPAddress   string         `json:"ipAddress,omitempty"`
	Count       int            `json:"count"`
	Description string         `json:"description"`
	FirstSeen   time.Time      `json:"firstSeen"`
	LastSeen    time.Time      `json:"lastSeen"`
	RuleID      string         `json:"ruleId,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// AlertNotification is a persisted record of a finding that was dispatched.
type AlertNotification struct {
	ID          string    `json:"id"`
	FindingType string    `json:"findingType"`
	Severity    Severity  `json:"severity"`
	UserID      string    `json:"userId"`
	IPAddress   string    `json:"ipAddress,omitempty"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"createdAt"`
}
