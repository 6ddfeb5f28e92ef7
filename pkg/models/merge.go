package models

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
)

// MatchType identifies which identity signal put leads in the same group.
type MatchType string

const (
	MatchTypeEmail    MatchType = "email"
	MatchTypePhone    MatchType = "phone"
	MatchTypeNameCity MatchType = "name_city"
)

// MatchTypes lists match types in priority order.
var MatchTypes = []MatchType{MatchTypeEmail, MatchTypePhone, MatchTypeNameCity}

// ExactMatchScore is recorded for every merge; all matchers compare normalized keys exactly.
const ExactMatchScore = 1.0

// DuplicateGroup is a set of active leads sharing one normalized key.
// Members keep the order of the grouping input (created_at, then id).
type DuplicateGroup struct {
	MatchType MatchType `json:"match_type"`
	MatchKey  string    `json:"match_key"`
	Members   []Lead    `json:"members"`
}

// MemberIDs returns the ids of the group in member order.
func (g *DuplicateGroup) MemberIDs() []string {
	ids := make([]string, len(g.Members))
	for i := range g.Members {
		ids[i] = g.Members[i].ID
	}
	return ids
}

// LeadPatch is the set of survivor fields a merge fills in. A nil field is left unchanged.
type LeadPatch struct {
	CompanyName    *string  `json:"company_name,omitempty"`
	ContactName    *string  `json:"contact_name,omitempty"`
	Email          *string  `json:"email,omitempty"`
	Phone          *string  `json:"phone,omitempty"`
	City           *string  `json:"city,omitempty"`
	Category       *string  `json:"category,omitempty"`
	Stage          *string  `json:"stage,omitempty"`
	Temperature    *string  `json:"temperature,omitempty"`
	EstimatedValue *float64 `json:"estimated_value,omitempty"`
	Notes          *string  `json:"notes,omitempty"`
	// MergedFrom is the complete new merged_from list, not a delta.
	MergedFrom []string `json:"merged_from"`
}

// Fields returns the patched scalar columns keyed by column name.
func (p *LeadPatch) Fields() map[string]any {
	fields := map[string]any{}
	set := func(col string, v *string) {
		if v != nil {
			fields[col] = *v
		}
	}
	set("company_name", p.CompanyName)
	set("contact_name", p.ContactName)
	set("email", p.Email)
	set("phone", p.Phone)
	set("city", p.City)
	set("category", p.Category)
	set("stage", p.Stage)
	set("temperature", p.Temperature)
	set("notes", p.Notes)
	if p.EstimatedValue != nil {
		fields["estimated_value"] = *p.EstimatedValue
	}
	return fields
}

// IsEmpty reports whether the patch changes no scalar column and carries no merged ids.
func (p *LeadPatch) IsEmpty() bool {
	return len(p.Fields()) == 0 && len(p.MergedFrom) == 0
}

// Apply writes the patch onto lead in memory.
func (p *LeadPatch) Apply(lead *Lead) {
	assign := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	assign(&lead.CompanyName, p.CompanyName)
	assign(&lead.ContactName, p.ContactName)
	assign(&lead.Email, p.Email)
	assign(&lead.Phone, p.Phone)
	assign(&lead.City, p.City)
	assign(&lead.Category, p.Category)
	assign(&lead.Stage, p.Stage)
	assign(&lead.Temperature, p.Temperature)
	assign(&lead.Notes, p.Notes)
	if p.EstimatedValue != nil {
		v := *p.EstimatedValue
		lead.EstimatedValue = &v
	}
	lead.MergedFrom = append([]string(nil), p.MergedFrom...)
}

// MergePlan is the computed outcome for one group before anything is written.
type MergePlan struct {
	Group      DuplicateGroup `json:"group"`
	Survivor   Lead           `json:"survivor"`
	Duplicates []Lead         `json:"duplicates"`
	Patch      LeadPatch      `json:"patch"`
}

// DuplicateIDs returns the ids of the leads the plan tombstones.
func (p *MergePlan) DuplicateIDs() []string {
	ids := make([]string, len(p.Duplicates))
	for i := range p.Duplicates {
		ids[i] = p.Duplicates[i].ID
	}
	return ids
}

// DuplicateSnapshot is the identity of a duplicate captured in its merge log entry.
type DuplicateSnapshot struct {
	CompanyName string     `json:"company_name"`
	ContactName string     `json:"contact_name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	City        string     `json:"city"`
	Status      LeadStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	MergedFrom  []string   `json:"merged_from,omitempty"`
}

func SnapshotOf(lead *Lead) DuplicateSnapshot {
	return DuplicateSnapshot{
		CompanyName: lead.CompanyName,
		ContactName: lead.ContactName,
		Email:       lead.Email,
		Phone:       lead.Phone,
		City:        lead.City,
		Status:      lead.Status,
		CreatedAt:   lead.CreatedAt,
		MergedFrom:  append([]string(nil), lead.MergedFrom...),
	}
}

// MergeLogEntry records one duplicate folded into a survivor. Entries are never modified.
type MergeLogEntry struct {
	ID              string                            `json:"id" db:"id"`
	TenantID        string                            `json:"tenant_id" db:"tenant_id"`
	RunID           string                            `json:"run_id" db:"run_id"`
	OriginalID      string                            `json:"original_id" db:"original_id"`
	SurvivorID      string                            `json:"survivor_id" db:"survivor_id"`
	MatchType       MatchType                         `json:"match_type" db:"match_type"`
	MatchKey        string                            `json:"match_key" db:"match_key"`
	SimilarityScore float64                           `json:"similarity_score" db:"similarity_score"`
	Details         database.JSONB[DuplicateSnapshot] `json:"details" db:"details"`
	PerformedBy     *string                           `json:"performed_by,omitempty" db:"performed_by"`
	IsAutomatic     bool                              `json:"is_automatic" db:"is_automatic"`
	CreatedAt       time.Time                         `json:"created_at" db:"created_at"`
}

// MergeOutcome describes a committed group merge to post-commit hooks.
type MergeOutcome struct {
	RunID               string    `json:"run_id"`
	TenantID            string    `json:"tenant_id"`
	MatchType           MatchType `json:"match_type"`
	MatchKey            string    `json:"match_key"`
	SurvivorID          string    `json:"survivor_id"`
	DuplicateIDs        []string  `json:"duplicate_ids"`
	MergedFrom          []string  `json:"merged_from"`
	ActivitiesRepointed int64     `json:"activities_repointed"`
	MergedAt            time.Time `json:"merged_at"`
}
