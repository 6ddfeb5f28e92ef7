package mergelog

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	table        = "lead_merge_logs"
	defaultLimit = 100
	maxLimit     = 1000
)

var entryStruct = database.NewStruct(new(models.MergeLogEntry))

// Repository is the append-only store of merge log entries. It has
// no update or delete operations.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new merge log repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Filter narrows List. Empty fields are ignored.
type Filter struct {
	SurvivorID string `query:"survivor_id"`
	OriginalID string `query:"original_id"`
	RunID      string `query:"run_id"`
	Limit      int    `query:"limit" validate:"omitempty,min=1,max=1000"`
}

func buildAppend(entries []models.MergeLogEntry) (string, []any) {
	values := make([]any, len(entries))
	for i := range entries {
		values[i] = &entries[i]
	}
	ib := entryStruct.InsertInto(table, values...)
	ib.OnConflictDoNothing()
	return ib.Build()
}

// Append stores entries, filling in missing ids and timestamps.
func (r *Repository) Append(ctx context.Context, entries []models.MergeLogEntry) error {
	ctx, span := tracing.StartSpan(ctx, "mergelog.Repository.Append")
	defer span.End()

	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.New().String()
		}
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = now
		}
	}

	query, args := buildAppend(entries)
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to append merge log entries")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to append merge log entries")
	}
	return nil
}

func buildList(tenantID string, filter Filter) (string, []any) {
	sb := entryStruct.SelectFrom(table)
	conds := []string{sb.Equal("tenant_id", tenantID)}
	if filter.SurvivorID != "" {
		conds = append(conds, sb.Equal("survivor_id", filter.SurvivorID))
	}
	if filter.OriginalID != "" {
		conds = append(conds, sb.Equal("original_id", filter.OriginalID))
	}
	if filter.RunID != "" {
		conds = append(conds, sb.Equal("run_id", filter.RunID))
	}
	sb.Where(conds...)
	sb.OrderBy("created_at", "id")

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	sb.Limit(limit)
	return sb.Build()
}

// List returns the tenant's merge log entries, oldest first.
func (r *Repository) List(ctx context.Context, tenantID string, filter Filter) ([]models.MergeLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "mergelog.Repository.List")
	defer span.End()

	query, args := buildList(tenantID, filter)
	entries := []models.MergeLogEntry{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list merge log entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge log entries")
	}
	return entries, nil
}
