package events

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// EventType defines the type of event
type EventType string

const (
	EventTypeLeadMerged EventType = "lead.merged"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	TenantID      string    `json:"tenant_id"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// LeadMergedEvent is emitted once per committed duplicate group
type LeadMergedEvent struct {
	BaseEvent
	RunID               string           `json:"run_id"`
	SurvivorID          string           `json:"survivor_id"`
	DuplicateIDs        []string         `json:"duplicate_ids"`
	MergedFrom          []string         `json:"merged_from"`
	MatchType           models.MatchType `json:"match_type"`
	MatchKey            string           `json:"match_key"`
	ActivitiesRepointed int64            `json:"activities_repointed"`
	MergedAt            time.Time        `json:"merged_at"`
}
