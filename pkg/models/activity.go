package models

import "time"

// Activity is an interaction or history entry attached to a lead.
type Activity struct {
	ID         string    `json:"id" db:"id"`
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	LeadID     string    `json:"lead_id" db:"lead_id"`
	Kind       string    `json:"kind" db:"kind"`
	Summary    string    `json:"summary" db:"summary"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
