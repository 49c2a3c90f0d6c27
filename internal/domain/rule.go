package domain

import "time"

// DetectionRule is an operator-defined monitoring rule. The expression is CEL
// evaluated against the activity features of one (user, ip) group and must
// return a bool.
type DetectionRule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Expression  string   `json:"expression"`
	Severity    Severity `json:"severity"`

	// Whether rule is active
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
