package models

import "time"

// Trigger asks for one dedup run over a tenant.
type Trigger struct {
	TenantID          string  `json:"tenant_id" validate:"required"`
	TriggeredBy       *string `json:"triggered_by,omitempty"`
	TriggeredManually bool    `json:"triggered_manually"`
	DryRun            bool    `json:"dry_run"`
}

// Actor returns the user recorded on merge log entries, or nil for automated runs.
func (t *Trigger) Actor() *string {
	if !t.TriggeredManually || t.TriggeredBy == nil || *t.TriggeredBy == "" {
		return nil
	}
	actor := *t.TriggeredBy
	return &actor
}

// ErrorKind classifies a failed group.
type ErrorKind string

const (
	ErrorKindTransient              ErrorKind = "transient_store"
	ErrorKindConcurrentModification ErrorKind = "concurrent_modification"
)

// GroupError records a group whose unit of work was rolled back.
type GroupError struct {
	MatchType MatchType `json:"match_type"`
	MatchKey  string    `json:"match_key"`
	LeadIDs   []string  `json:"lead_ids"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
}

// RunSummary reports what one run did.
type RunSummary struct {
	RunID          string            `json:"run_id"`
	TenantID       string            `json:"tenant_id"`
	GroupsDetected int               `json:"groups_detected"`
	GroupsMerged   int               `json:"groups_merged"`
	RecordsMerged  int               `json:"records_merged"`
	ByMatchType    map[MatchType]int `json:"breakdown_by_match_type"`
	GroupErrors    []GroupError      `json:"group_errors"`
	DryRun         bool              `json:"dry_run"`
	Plans          []MergePlan       `json:"plans,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    time.Time         `json:"completed_at"`
}

func NewRunSummary(runID, tenantID string, dryRun bool, startedAt time.Time) *RunSummary {
	byType := make(map[MatchType]int, len(MatchTypes))
	for _, mt := range MatchTypes {
		byType[mt] = 0
	}
	return &RunSummary{
		RunID:       runID,
		TenantID:    tenantID,
		ByMatchType: byType,
		GroupErrors: []GroupError{},
		DryRun:      dryRun,
		StartedAt:   startedAt,
	}
}
