package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// TriggerEventType marks a dedup trigger in the "type" field or header.
const TriggerEventType = "dedup.requested"

// ErrNotATrigger is returned for messages that carry no tenant to deduplicate.
var ErrNotATrigger = errors.New("message is not a dedup trigger")

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Parsed content
	Trigger *TriggerMessage
}

// TriggerMessage asks for a dedup run over one tenant or a batch of tenants.
type TriggerMessage struct {
	Type              string    `json:"type,omitempty"`
	TenantID          string    `json:"tenant_id,omitempty"`
	TenantIDs         []string  `json:"tenant_ids,omitempty"`
	TriggeredBy       *string   `json:"triggered_by,omitempty"`
	TriggeredManually bool      `json:"triggered_manually"`
	DryRun            bool      `json:"dry_run"`
	RequestedAt       time.Time `json:"requested_at,omitempty"`
}

// ParseTrigger decodes the value as a TriggerMessage. The tenant_id header is used
// when the body names no tenant.
func (m *IncomingMessage) ParseTrigger() error {
	var msg TriggerMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return fmt.Errorf("invalid trigger payload: %w", err)
	}
	if msg.Type != "" && msg.Type != TriggerEventType {
		return fmt.Errorf("%w: type %q", ErrNotATrigger, msg.Type)
	}
	if msg.TenantID == "" && len(msg.TenantIDs) == 0 {
		msg.TenantID = m.Headers["tenant_id"]
	}
	if strings.TrimSpace(msg.TenantID) == "" && len(msg.TenantIDs) == 0 {
		return ErrNotATrigger
	}
	m.Trigger = &msg
	return nil
}

// Triggers expands the message into one engine trigger per tenant, in message order.
func (t *TriggerMessage) Triggers() []models.Trigger {
	tenants := t.TenantIDs
	if t.TenantID != "" {
		tenants = append([]string{t.TenantID}, tenants...)
	}

	seen := make(map[string]bool, len(tenants))
	out := make([]models.Trigger, 0, len(tenants))
	for _, tenantID := range tenants {
		if seen[tenantID] {
			continue
		}
		seen[tenantID] = true
		out = append(out, models.Trigger{
			TenantID:          tenantID,
			TriggeredBy:       t.TriggeredBy,
			TriggeredManually: t.TriggeredManually,
			DryRun:            t.DryRun,
		})
	}
	return out
}
