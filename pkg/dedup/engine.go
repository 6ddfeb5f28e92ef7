// Package dedup runs per-tenant lead deduplication: it plans duplicate groups in
// memory and applies each group's merge as one unit of work.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	appcontext "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/grouping"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/utils"
)

// LeadStore is the lead persistence the engine needs. Every method joins the
// transaction carried by ctx when there is one.
type LeadStore interface {
	LoadCandidates(ctx context.Context, tenantID string) ([]models.Lead, error)
	LockActive(ctx context.Context, tenantID string, ids []string) ([]models.Lead, error)
	ApplyPatch(ctx context.Context, tenantID, survivorID string, patch models.LeadPatch, now time.Time) error
	RepointDuplicates(ctx context.Context, tenantID, survivorID string, duplicateIDs []string) (int64, error)
	Tombstone(ctx context.Context, tenantID, survivorID string, duplicateIDs []string, mergedAt time.Time) error
}

type ActivityStore interface {
	Repoint(ctx context.Context, tenantID, survivorID string, fromLeadIDs []string) (int64, error)
}

type MergeLogStore interface {
	Append(ctx context.Context, entries []models.MergeLogEntry) error
}

// Transactor runs fn in one transaction, committing only when fn returns nil.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker serializes runs of the same tenant across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// MergeHook is told about every committed group. Hook failures are logged and never undo the merge.
type MergeHook interface {
	Name() string
	AfterMerge(ctx context.Context, outcome *models.MergeOutcome) error
}

type Config struct {
	LockTTL           time.Duration
	RequireUUIDTenant bool
	Now               func() time.Time
}

type Option func(*Engine)

func WithLocker(locker Locker) Option {
	return func(e *Engine) { e.locker = locker }
}

func WithHooks(hooks ...MergeHook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, hooks...) }
}

func WithPlanner(planner *Planner) Option {
	return func(e *Engine) { e.planner = planner }
}

type Engine struct {
	cfg        Config
	planner    *Planner
	leads      LeadStore
	activities ActivityStore
	mergeLogs  MergeLogStore
	tx         Transactor
	locker     Locker
	hooks      []MergeHook
	logger     ectologger.Logger
}

func NewEngine(cfg Config, leads LeadStore, activities ActivityStore, mergeLogs MergeLogStore, tx Transactor, logger ectologger.Logger, opts ...Option) *Engine {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	e := &Engine{
		cfg:        cfg,
		planner:    DefaultPlanner(),
		leads:      leads,
		activities: activities,
		mergeLogs:  mergeLogs,
		tx:         tx,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func lockKey(tenantID string) string {
	return "dedup:tenant:" + tenantID
}

// Run deduplicates one tenant. Group failures land in the summary's GroupErrors and do not
// fail the run. A cancelled ctx stops the run between groups and returns the partial summary with ctx.Err().
func (e *Engine) Run(ctx context.Context, trigger models.Trigger) (*models.RunSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "dedup.Engine.Run")
	defer span.End()

	trigger.TenantID = strings.TrimSpace(trigger.TenantID)
	if err := e.validate(trigger); err != nil {
		metrics.RunsTotal.WithLabelValues("invalid", strconv.FormatBool(trigger.DryRun)).Inc()
		return nil, err
	}

	runID := uuid.NewString()
	ctx = appcontext.SetTenantID(ctx, trigger.TenantID)
	ctx = appcontext.SetRunID(ctx, runID)
	started := time.Now()

	var summary *models.RunSummary
	run := func(ctx context.Context) error {
		var err error
		summary, err = e.run(ctx, runID, trigger)
		return err
	}

	var err error
	if e.locker != nil && !trigger.DryRun {
		err = e.locker.WithLock(ctx, lockKey(trigger.TenantID), e.cfg.LockTTL, run)
		if errors.Is(err, redis.ErrLockNotAcquired) {
			err = ErrRunInProgress
		}
	} else {
		err = run(ctx)
	}

	dryRun := strconv.FormatBool(trigger.DryRun)
	metrics.RunDuration.WithLabelValues(dryRun).Observe(time.Since(started).Seconds())
	metrics.RunsTotal.WithLabelValues(runStatus(summary, err), dryRun).Inc()

	if err != nil {
		tracing.RecordError(span, err)
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": trigger.TenantID,
			"run_id":    runID,
		}).Warn("Dedup run did not complete")
		return summary, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":       summary.TenantID,
		"run_id":          summary.RunID,
		"dry_run":         summary.DryRun,
		"groups_detected": summary.GroupsDetected,
		"groups_merged":   summary.GroupsMerged,
		"records_merged":  summary.RecordsMerged,
		"group_errors":    len(summary.GroupErrors),
	}).Info("Dedup run completed")
	return summary, nil
}

func runStatus(summary *models.RunSummary, err error) string {
	switch {
	case errors.Is(err, ErrRunInProgress):
		return "in_progress"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case err != nil:
		return "failed"
	case len(summary.GroupErrors) > 0:
		return "partial"
	default:
		return "success"
	}
}

func (e *Engine) validate(trigger models.Trigger) error {
	if _, err := utils.Validate(trigger); err != nil {
		return &ValidationError{Field: "tenant_id", Message: err.Error()}
	}
	if e.cfg.RequireUUIDTenant {
		if err := utils.ValidateValue(trigger.TenantID, "uuid"); err != nil {
			return &ValidationError{Field: "tenant_id", Message: err.Error()}
		}
	}
	return nil
}

func (e *Engine) run(ctx context.Context, runID string, trigger models.Trigger) (*models.RunSummary, error) {
	summary := models.NewRunSummary(runID, trigger.TenantID, trigger.DryRun, e.cfg.Now().UTC())

	leads, err := e.leads.LoadCandidates(ctx, trigger.TenantID)
	if err != nil {
		summary.CompletedAt = e.cfg.Now().UTC()
		return summary, classify("load_candidates", nil, err)
	}

	plans := e.planner.Plan(leads)
	summary.GroupsDetected = len(plans)

	if trigger.DryRun {
		summary.Plans = plans
		for i := range plans {
			summary.ByMatchType[plans[i].Group.MatchType] += len(plans[i].Duplicates)
			summary.RecordsMerged += len(plans[i].Duplicates)
		}
		summary.CompletedAt = e.cfg.Now().UTC()
		return summary, nil
	}

	for i := range plans {
		if err := ctx.Err(); err != nil {
			summary.CompletedAt = e.cfg.Now().UTC()
			return summary, err
		}

		plan := &plans[i]
		matchType := string(plan.Group.MatchType)
		outcome, err := e.mergeGroup(ctx, runID, trigger, plan)
		if err != nil {
			summary.GroupErrors = append(summary.GroupErrors, groupError(&plan.Group, err))
			metrics.GroupsTotal.WithLabelValues(matchType, "failed").Inc()
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"match_type": plan.Group.MatchType,
				"match_key":  plan.Group.MatchKey,
				"lead_ids":   plan.Group.MemberIDs(),
			}).Warn("Duplicate group rolled back")
			continue
		}

		summary.GroupsMerged++
		summary.RecordsMerged += len(outcome.DuplicateIDs)
		summary.ByMatchType[outcome.MatchType] += len(outcome.DuplicateIDs)
		metrics.GroupsTotal.WithLabelValues(matchType, "merged").Inc()
		metrics.RecordsMergedTotal.WithLabelValues(matchType).Add(float64(len(outcome.DuplicateIDs)))

		e.runHooks(ctx, outcome)
	}

	summary.CompletedAt = e.cfg.Now().UTC()
	return summary, nil
}

// mergeGroup applies one plan as a single transaction. Members are re-read under row
// locks and re-planned, so the write reflects their committed state.
func (e *Engine) mergeGroup(ctx context.Context, runID string, trigger models.Trigger, plan *models.MergePlan) (*models.MergeOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "dedup.Engine.mergeGroup")
	defer span.End()

	tenantID := trigger.TenantID
	ids := plan.Group.MemberIDs()
	var outcome *models.MergeOutcome

	err := e.tx.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := e.leads.LockActive(ctx, tenantID, ids)
		if err != nil {
			return classify("lock_active", ids, err)
		}
		if len(locked) != len(ids) {
			return &ConcurrentModificationError{
				LeadIDs: ids,
				Detail:  fmt.Sprintf("%d of %d leads are no longer active", len(ids)-len(locked), len(ids)),
			}
		}
		grouping.SortLeads(locked)
		if !e.planner.StillMatches(plan.Group, locked) {
			return &ConcurrentModificationError{LeadIDs: ids, Detail: "leads no longer share the match key"}
		}

		fresh := e.planner.PlanGroup(models.DuplicateGroup{
			MatchType: plan.Group.MatchType,
			MatchKey:  plan.Group.MatchKey,
			Members:   locked,
		})
		survivorID := fresh.Survivor.ID
		duplicateIDs := fresh.DuplicateIDs()
		now := e.cfg.Now().UTC()

		if err := e.leads.ApplyPatch(ctx, tenantID, survivorID, fresh.Patch, now); err != nil {
			return classify("apply_patch", ids, err)
		}

		repointed, err := e.activities.Repoint(ctx, tenantID, survivorID, duplicateIDs)
		if err != nil {
			return classify("repoint_activities", ids, err)
		}

		if _, err := e.leads.RepointDuplicates(ctx, tenantID, survivorID, duplicateIDs); err != nil {
			return classify("repoint_duplicates", ids, err)
		}

		if err := e.leads.Tombstone(ctx, tenantID, survivorID, duplicateIDs, now); err != nil {
			return classify("tombstone", ids, err)
		}

		entries := make([]models.MergeLogEntry, 0, len(fresh.Duplicates))
		for i := range fresh.Duplicates {
			dup := &fresh.Duplicates[i]
			entries = append(entries, models.MergeLogEntry{
				ID:              uuid.NewString(),
				TenantID:        tenantID,
				RunID:           runID,
				OriginalID:      dup.ID,
				SurvivorID:      survivorID,
				MatchType:       plan.Group.MatchType,
				MatchKey:        plan.Group.MatchKey,
				SimilarityScore: models.ExactMatchScore,
				Details:         database.NewJSONB(models.SnapshotOf(dup)),
				PerformedBy:     trigger.Actor(),
				IsAutomatic:     !trigger.TriggeredManually,
				CreatedAt:       now,
			})
		}
		if err := e.mergeLogs.Append(ctx, entries); err != nil {
			return classify("append_merge_log", ids, err)
		}

		outcome = &models.MergeOutcome{
			RunID:               runID,
			TenantID:            tenantID,
			MatchType:           plan.Group.MatchType,
			MatchKey:            plan.Group.MatchKey,
			SurvivorID:          survivorID,
			DuplicateIDs:        duplicateIDs,
			MergedFrom:          fresh.Patch.MergedFrom,
			ActivitiesRepointed: repointed,
			MergedAt:            now,
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, classify("transaction", ids, err)
	}
	return outcome, nil
}

func (e *Engine) runHooks(ctx context.Context, outcome *models.MergeOutcome) {
	for _, hook := range e.hooks {
		if err := hook.AfterMerge(ctx, outcome); err != nil {
			metrics.HookFailuresTotal.WithLabelValues(hook.Name()).Inc()
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"hook":        hook.Name(),
				"survivor_id": outcome.SurvivorID,
			}).Warn("Post-merge hook failed")
		}
	}
}

// TenantResult is the outcome of one tenant in RunTenants.
type TenantResult struct {
	TenantID string
	Summary  *models.RunSummary
	Err      error
}

// RunTenants runs triggers concurrently with at most workers runs in flight. A failing
// tenant never stops the others. Results keep the order of triggers.
func (e *Engine) RunTenants(ctx context.Context, triggers []models.Trigger, workers int) []TenantResult {
	if workers <= 0 {
		workers = 1
	}
	results := make([]TenantResult, len(triggers))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, trigger := range triggers {
		g.Go(func() error {
			summary, err := e.Run(ctx, trigger)
			results[i] = TenantResult{TenantID: strings.TrimSpace(trigger.TenantID), Summary: summary, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
