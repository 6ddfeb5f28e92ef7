// Package processor turns consumed trigger messages into dedup runs.
package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/dedup"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Runner is the engine surface the processor drives
type Runner interface {
	Run(ctx context.Context, trigger models.Trigger) (*models.RunSummary, error)
	RunTenants(ctx context.Context, triggers []models.Trigger, workers int) []dedup.TenantResult
}

// Processor handles trigger messages from the consumer
type Processor struct {
	runner  Runner
	workers int
	logger  ectologger.Logger
}

func NewProcessor(runner Runner, workers int, logger ectologger.Logger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		runner:  runner,
		workers: workers,
		logger:  logger,
	}
}

// HandleMessage is a kafka.MessageHandler. Invalid tenants and tenants already being
// processed are permanent; store failures are returned as-is so the message is retried.
func (p *Processor) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.HandleMessage")
	defer span.End()

	if msg.Trigger == nil {
		return kafka.Permanent(kafka.ErrNotATrigger)
	}

	triggers := msg.Trigger.Triggers()
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"tenants": len(triggers),
		"dry_run": msg.Trigger.DryRun,
		"offset":  msg.Offset,
	})

	if len(triggers) == 1 {
		summary, err := p.runner.Run(ctx, triggers[0])
		err = disposition(err)
		if err != nil {
			log.WithError(err).Warn("Dedup run failed")
			return err
		}
		log.WithFields(map[string]any{
			"run_id":         summary.RunID,
			"records_merged": summary.RecordsMerged,
		}).Info("Processed dedup trigger")
		return nil
	}

	results := p.runner.RunTenants(ctx, triggers, p.workers)
	var retryable []error
	merged := 0
	for _, result := range results {
		err := disposition(result.Err)
		if err == nil {
			if result.Summary != nil {
				merged += result.Summary.RecordsMerged
			}
			continue
		}
		log.WithError(err).WithFields(map[string]any{"tenant_id": result.TenantID}).Warn("Dedup run failed")
		if !errors.Is(err, kafka.ErrPermanent) {
			retryable = append(retryable, fmt.Errorf("tenant %s: %w", result.TenantID, err))
		}
	}

	log.WithFields(map[string]any{"records_merged": merged}).Info("Processed dedup trigger batch")
	// reruns are idempotent, so retrying a partly failed batch is safe
	return errors.Join(retryable...)
}

// disposition marks errors that a redelivery cannot fix as permanent.
func disposition(err error) error {
	if err == nil {
		return nil
	}
	var verr *dedup.ValidationError
	if errors.As(err, &verr) || errors.Is(err, dedup.ErrRunInProgress) {
		return kafka.Permanent(err)
	}
	return err
}
