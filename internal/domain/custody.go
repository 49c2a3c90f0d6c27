package domain

import "time"

// SKR statuses
const (
	SKRDraft     = "draft"
	SKRIssued    = "issued"
	SKRInTransit = "in_transit"
	SKRDelivered = "delivered"
	SKRClosed    = "closed"
	SKRCancelled = "cancelled"
)

// SKR is a Secure Keeper Receipt: a custody record for a client's asset.
type SKR struct {
	ID        string    `json:"id"`
	SKRNumber string    `json:"skrNumber"`
	ClientID  string    `json:"clientId"`
	AssetType string    `json:"assetType"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// ComplianceAssessment is a scored review of a client.
type ComplianceAssessment struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"clientId"`
	RiskScore float64   `json:"riskScore"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}
