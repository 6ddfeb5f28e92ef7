package activity

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Repository handles lead activity persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new activity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func buildRepoint(tenantID, survivorID string, fromLeadIDs []string) (string, []any) {
	ub := database.NewUpdateBuilder()
	ub.Update("lead_activities")
	ub.Set(ub.Assign("lead_id", survivorID))
	ub.Where(
		ub.Equal("tenant_id", tenantID),
		ub.In("lead_id", database.Strings(fromLeadIDs)...),
	)
	return ub.Build()
}

// Repoint moves every activity of fromLeadIDs onto survivorID. Running it twice is a no-op.
func (r *Repository) Repoint(ctx context.Context, tenantID, survivorID string, fromLeadIDs []string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "activity.Repository.Repoint")
	defer span.End()

	if len(fromLeadIDs) == 0 {
		return 0, nil
	}

	query, args := buildRepoint(tenantID, survivorID, fromLeadIDs)
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to re-point lead activities")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to re-point lead activities")
	}

	rows, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"survivor_id": survivorID,
		"activities":  rows,
	}).Debug("Re-pointed lead activities")
	return rows, nil
}
