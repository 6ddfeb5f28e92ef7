// Package events publishes lead lifecycle events to Kafka
package events

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appcontext "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Publisher writes events to the output topic
type Publisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// Emitter publishes a lead.merged event after each committed merge
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
	now       func() time.Time
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (e *Emitter) Name() string {
	return "events"
}

// AfterMerge emits the lead.merged event for outcome
func (e *Emitter) AfterMerge(ctx context.Context, outcome *models.MergeOutcome) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.AfterMerge")
	defer span.End()

	event := &LeadMergedEvent{
		BaseEvent: BaseEvent{
			EventID:       uuid.NewString(),
			EventType:     EventTypeLeadMerged,
			SchemaVersion: kafka.SchemaVersion,
			TenantID:      outcome.TenantID,
			Timestamp:     e.now().UTC(),
			CorrelationID: appcontext.GetRequestID(ctx),
		},
		RunID:               outcome.RunID,
		SurvivorID:          outcome.SurvivorID,
		DuplicateIDs:        outcome.DuplicateIDs,
		MergedFrom:          outcome.MergedFrom,
		MatchType:           outcome.MatchType,
		MatchKey:            outcome.MatchKey,
		ActivitiesRepointed: outcome.ActivitiesRepointed,
		MergedAt:            outcome.MergedAt,
	}

	if err := e.publisher.Publish(ctx, kafka.Event{
		Key:       outcome.SurvivorID,
		EventType: string(EventTypeLeadMerged),
		TenantID:  outcome.TenantID,
		Payload:   event,
	}); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit lead.merged event")
		return err
	}

	return nil
}
