package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// LeadStatus is the pipeline status of a lead.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusProposal  LeadStatus = "proposal"
	LeadStatusWon       LeadStatus = "won"
	// LeadStatusLost is terminal. Tombstoned duplicates are moved here.
	LeadStatusLost LeadStatus = "lost"
)

// Lead is a prospective customer owned by one tenant.
type Lead struct {
	ID             string         `json:"id" db:"id"`
	TenantID       string         `json:"tenant_id" db:"tenant_id"`
	CompanyName    string         `json:"company_name" db:"company_name"`
	ContactName    string         `json:"contact_name" db:"contact_name"`
	Email          string         `json:"email" db:"email"`
	Phone          string         `json:"phone" db:"phone"`
	City           string         `json:"city" db:"city"`
	Category       string         `json:"category" db:"category"`
	Stage          string         `json:"stage" db:"stage"`
	Temperature    string         `json:"temperature" db:"temperature"`
	Status         LeadStatus     `json:"status" db:"status"`
	EstimatedValue *float64       `json:"estimated_value,omitempty" db:"estimated_value"`
	Notes          string         `json:"notes" db:"notes"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
	LastActivityAt *time.Time     `json:"last_activity_at,omitempty" db:"last_activity_at"`
	IsDuplicate    bool           `json:"is_duplicate" db:"is_duplicate"`
	DuplicateOf    *string        `json:"duplicate_of,omitempty" db:"duplicate_of"`
	MergedAt       *time.Time     `json:"merged_at,omitempty" db:"merged_at"`
	MergedFrom     pq.StringArray `json:"merged_from" db:"merged_from"`
}

// IsActive reports whether the lead may take part in a dedup run.
func (l *Lead) IsActive() bool {
	return l.Status != LeadStatusLost && l.MergedAt == nil
}

// RecentActivity is the later of last_activity_at and updated_at.
func (l *Lead) RecentActivity() time.Time {
	if l.LastActivityAt != nil && l.LastActivityAt.After(l.UpdatedAt) {
		return *l.LastActivityAt
	}
	return l.UpdatedAt
}

// IsBlank reports whether a text field counts as empty for merging and scoring.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
