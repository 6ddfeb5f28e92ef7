package lead

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const table = "leads"

var leadStruct = database.NewStruct(new(models.Lead))

// Repository handles lead persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new lead repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func buildActiveSelect(tenantID string, ids []string, forUpdate bool) (string, []any) {
	sb := leadStruct.SelectFrom(table)
	conds := []string{
		sb.Equal("tenant_id", tenantID),
		sb.NotEqual("status", string(models.LeadStatusLost)),
		sb.IsNull("merged_at"),
	}
	if len(ids) > 0 {
		conds = append(conds, sb.In("id", database.Strings(ids)...))
	}
	sb.Where(conds...)
	sb.OrderBy("created_at", "id")
	if forUpdate {
		sb.ForUpdate()
	}
	return sb.Build()
}

// LoadCandidates returns the tenant's active, never-merged leads ordered by created_at, id.
func (r *Repository) LoadCandidates(ctx context.Context, tenantID string) ([]models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.LoadCandidates")
	defer span.End()

	query, args := buildActiveSelect(tenantID, nil, false)
	var leads []models.Lead
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &leads, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load candidate leads")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load candidate leads")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"count":     len(leads),
	}).Debug("Loaded candidate leads")
	return leads, nil
}

// LockActive row-locks the given leads and returns those still active.
// Callers compare the result against ids to detect concurrent merges.
func (r *Repository) LockActive(ctx context.Context, tenantID string, ids []string) ([]models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.LockActive")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	query, args := buildActiveSelect(tenantID, ids, true)
	var leads []models.Lead
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &leads, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to lock leads")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to lock leads")
	}
	return leads, nil
}

func buildApplyPatch(tenantID, survivorID string, patch models.LeadPatch, now time.Time) (string, []any) {
	ub := database.NewUpdateBuilder()
	ub.Update(table)

	fields := patch.Fields()
	cols := make([]string, 0, len(fields))
	for col := range fields {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	assignments := make([]string, 0, len(cols)+2)
	for _, col := range cols {
		assignments = append(assignments, ub.Assign(col, fields[col]))
	}
	assignments = append(assignments,
		ub.Assign("merged_from", pq.StringArray(patch.MergedFrom)),
		ub.Assign("updated_at", now),
	)
	ub.Set(assignments...)
	ub.Where(
		ub.Equal("id", survivorID),
		ub.Equal("tenant_id", tenantID),
		ub.IsNull("merged_at"),
	)
	return ub.Build()
}

// ApplyPatch writes the merge patch onto the survivor. It fails with 409 when the
// survivor was merged away since it was loaded.
func (r *Repository) ApplyPatch(ctx context.Context, tenantID, survivorID string, patch models.LeadPatch, now time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.ApplyPatch")
	defer span.End()

	query, args := buildApplyPatch(tenantID, survivorID, patch, now)
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to apply merge patch")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to apply merge patch")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusConflict, "survivor lead %s is no longer active", survivorID)
	}
	return nil
}

func buildTombstone(tenantID, survivorID string, duplicateIDs []string, mergedAt time.Time) (string, []any) {
	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("is_duplicate", true),
		ub.Assign("duplicate_of", survivorID),
		ub.Assign("merged_at", mergedAt),
		ub.Assign("status", string(models.LeadStatusLost)),
		ub.Assign("merged_from", pq.StringArray{}),
		ub.Assign("updated_at", mergedAt),
	)
	ub.Where(
		ub.Equal("tenant_id", tenantID),
		ub.In("id", database.Strings(duplicateIDs)...),
		ub.IsNull("merged_at"),
	)
	return ub.Build()
}

// Tombstone marks duplicates as merged into survivorID. The merged_from of a
// duplicate is cleared because the survivor now carries it.
func (r *Repository) Tombstone(ctx context.Context, tenantID, survivorID string, duplicateIDs []string, mergedAt time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.Tombstone")
	defer span.End()

	if len(duplicateIDs) == 0 {
		return nil
	}

	query, args := buildTombstone(tenantID, survivorID, duplicateIDs, mergedAt)
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to tombstone duplicate leads")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to tombstone duplicate leads")
	}

	rows, _ := result.RowsAffected()
	if rows != int64(len(duplicateIDs)) {
		return httperror.NewHTTPErrorf(http.StatusConflict, "%d of %d duplicate leads were already merged", int64(len(duplicateIDs))-rows, len(duplicateIDs))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"survivor_id": survivorID,
		"count":       rows,
	}).Debug("Tombstoned duplicate leads")
	return nil
}

func buildRepointDuplicates(tenantID, survivorID string, duplicateIDs []string) (string, []any) {
	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(ub.Assign("duplicate_of", survivorID))
	ub.Where(
		ub.Equal("tenant_id", tenantID),
		ub.In("duplicate_of", database.Strings(duplicateIDs)...),
	)
	return ub.Build()
}

// RepointDuplicates moves earlier tombstones that point at any of duplicateIDs onto survivorID,
// so duplicate_of always names a live lead.
func (r *Repository) RepointDuplicates(ctx context.Context, tenantID, survivorID string, duplicateIDs []string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.RepointDuplicates")
	defer span.End()

	if len(duplicateIDs) == 0 {
		return 0, nil
	}

	query, args := buildRepointDuplicates(tenantID, survivorID, duplicateIDs)
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to re-point earlier tombstones")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to re-point earlier tombstones")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}
