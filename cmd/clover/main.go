package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "clover",
	Short: "Lead deduplication and merge engine",
	Long: `clover finds duplicate leads inside a tenant, picks the most complete
record of each group as the survivor, folds the duplicates into it and
records every merge in an append-only audit log.

Configuration comes from the environment (and .env). Flags override it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db-host", "localhost", "PostgreSQL host")
	rootCmd.PersistentFlags().Bool("require-uuid", false, "Reject tenant ids that are not UUIDs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
