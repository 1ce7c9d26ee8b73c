package model

import "time"

// List is a named, strategy-built set of targets for a client.
type List struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Name      string    `json:"name"`
	ICPID     string    `json:"icp_id,omitempty"`
	PersonaID string    `json:"persona_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListMember links a company or contact to a list. Absent ids are stored as
// empty strings so (ListID, CompanyID, ContactID) stays unique.
type ListMember struct {
	ID                string     `json:"id"`
	ListID            string     `json:"list_id"`
	CompanyID         string     `json:"company_id,omitempty"`
	ContactID         string     `json:"contact_id,omitempty"`
	ICPFitScore       float64    `json:"icp_fit_score"`
	SignalScore       float64    `json:"signal_score"`
	OriginalityScore  float64    `json:"originality_score"`
	IntelligenceScore float64    `json:"intelligence_score"`
	AddedReason       string     `json:"added_reason,omitempty"`
	AddedAt           time.Time  `json:"added_at"`
	RemovedAt         *time.Time `json:"removed_at,omitempty"`
}
