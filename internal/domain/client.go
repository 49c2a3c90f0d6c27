package domain

import "time"

// Client types
const (
	ClientIndividual    = "individual"
	ClientCorporate     = "corporate"
	ClientInstitutional = "institutional"
)

// Compliance statuses
const (
	ComplianceApproved    = "approved"
	CompliancePending     = "pending"
	ComplianceRejected    = "rejected"
	ComplianceUnderReview = "under_review"
)

// Risk levels
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Client is a custody client with its KYC state.
type Client struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Email            string        `json:"email,omitempty"`
	Type             string        `json:"type"`
	Country          string        `json:"country"`
	ComplianceStatus string        `json:"complianceStatus"`
	RiskLevel        string        `json:"riskLevel"`
	KYCDocuments     []KYCDocument `json:"kycDocuments"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// KYCDocument is one uploaded identity or compliance document.
type KYCDocument struct {
	Type       string    `json:"type"`
	Status     string    `json:"status,omitempty"`
	UploadedAt time.Time `json:"uploadedAt,omitempty"`
}

// ClientRef is the projection of a client joined onto another record.
type ClientRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Country string `json:"country,omitempty"`
}
