package dedup

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/internal/repositories/mergelog"
	appcontext "github.com/Ramsey-B/clover/pkg/context"
	engine "github.com/Ramsey-B/clover/pkg/dedup"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/utils"
)

// Runner starts a dedup run
type Runner interface {
	Run(ctx context.Context, trigger models.Trigger) (*models.RunSummary, error)
}

// MergeLogLister reads the merge audit log
type MergeLogLister interface {
	List(ctx context.Context, tenantID string, filter mergelog.Filter) ([]models.MergeLogEntry, error)
}

// Handler serves the tenant dedup routes
type Handler struct {
	runner    Runner
	mergeLogs MergeLogLister
	logger    ectologger.Logger
}

func NewHandler(runner Runner, mergeLogs MergeLogLister, logger ectologger.Logger) *Handler {
	return &Handler{
		runner:    runner,
		mergeLogs: mergeLogs,
		logger:    logger,
	}
}

// Register registers dedup routes on a /tenants/:tenant_id group
func (h *Handler) Register(g *echo.Group) {
	g.POST("/dedup-runs", h.StartRun)
	g.GET("/merge-logs", h.ListMergeLogs)
}

// StartRunRequest is the body of a manual run
type StartRunRequest struct {
	TriggeredBy string `json:"triggered_by"`
	DryRun      bool   `json:"dry_run"`
}

// StartRun runs dedup for the tenant synchronously and returns the summary
func (h *Handler) StartRun(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[StartRunRequest](c)
	if err != nil {
		return err
	}

	triggeredBy := strings.TrimSpace(req.TriggeredBy)
	if triggeredBy == "" {
		triggeredBy = appcontext.GetUserID(ctx)
	}

	trigger := models.Trigger{
		TenantID:          c.Param("tenant_id"),
		TriggeredManually: true,
		DryRun:            req.DryRun,
	}
	if triggeredBy != "" {
		trigger.TriggeredBy = &triggeredBy
	}

	summary, err := h.runner.Run(ctx, trigger)
	if err != nil {
		if errors.Is(err, engine.ErrRunInProgress) {
			return httperror.NewHTTPError(http.StatusConflict, err.Error())
		}
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":         summary.RunID,
		"triggered_by":   triggeredBy,
		"records_merged": summary.RecordsMerged,
	}).Info("Manual dedup run finished")

	return c.JSON(http.StatusOK, summary)
}

// ListMergeLogs lists merge log entries filtered by survivor_id, original_id or run_id
func (h *Handler) ListMergeLogs(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID := strings.TrimSpace(c.Param("tenant_id"))
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	filter, err := utils.BindRequest[mergelog.Filter](c)
	if err != nil {
		return err
	}

	entries, err := h.mergeLogs.List(ctx, tenantID, filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entries)
}
