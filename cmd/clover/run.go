package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/pkg/models"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run deduplication for one or more tenants",
	Long: `Run deduplication once for each --tenant and print the run summaries as
JSON. Runs started here are manual: merge log entries record --triggered-by.

Example:
  $ clover run --tenant 7d4c... --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenants, _ := cmd.Flags().GetStringSlice("tenant")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		triggeredBy, _ := cmd.Flags().GetString("triggered-by")
		return runOnce(cmd, tenants, dryRun, triggeredBy)
	},
}

func init() {
	runCmd.Flags().StringSlice("tenant", nil, "Tenant id to deduplicate (repeatable)")
	runCmd.Flags().Bool("dry-run", false, "Compute the plan without writing anything")
	runCmd.Flags().String("triggered-by", "cli", "Actor recorded on merge log entries")
	runCmd.Flags().Int("workers", 4, "Tenants processed in parallel")
	_ = runCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, tenants []string, dryRun bool, triggeredBy string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.close(shutdownCtx)
	}()

	if err := a.start(ctx); err != nil {
		return fmt.Errorf("failed to start dependencies: %w", err)
	}

	triggers := make([]models.Trigger, len(tenants))
	for i, tenantID := range tenants {
		actor := triggeredBy
		triggers[i] = models.Trigger{
			TenantID:          tenantID,
			TriggeredBy:       &actor,
			TriggeredManually: true,
			DryRun:            dryRun,
		}
	}

	results := a.engine.RunTenants(ctx, triggers, a.cfg.DedupWorkerCount)

	summaries := make([]*models.RunSummary, 0, len(results))
	var errs []error
	for _, result := range results {
		if result.Summary != nil {
			summaries = append(summaries, result.Summary)
		}
		if result.Err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", result.TenantID, result.Err))
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(summaries); err != nil {
		return err
	}
	return errors.Join(errs...)
}
