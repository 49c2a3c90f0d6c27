package rules

import "github.com/opensource-finance/keeper/internal/domain"

// BuiltinRules returns starter detection rules. They are not loaded
// automatically; the seed tool stores them so operators have examples to
// edit through the rules API.
func BuiltinRules() []*domain.DetectionRule {
	return []*domain.DetectionRule{
		{
			ID:          "credential-stuffing",
			Name:        "Credential stuffing",
			Description: "Many failed logins mixed with other traffic from one address",
			Expression:  "failed_logins >= 3 && actions >= 3 * failed_logins",
			Severity:    domain.SeverityHigh,
			Enabled:     true,
		},
		{
			ID:          "night-bulk-access",
			Name:        "Night bulk access",
			Description: "Broad off-hours access across resource types",
			Expression:  "off_hours_actions >= 5 && distinct_resource_types >= 3",
			Severity:    domain.SeverityMedium,
			Enabled:     true,
		},
		{
			ID:          "anonymous-source",
			Name:        "Anonymous source",
			Description: "Activity without a recorded IP address",
			Expression:  "ip_address == '' && actions > 0",
			Severity:    domain.SeverityLow,
			Enabled:     false,
		},
	}
}
