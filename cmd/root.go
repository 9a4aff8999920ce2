package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/profile-service/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "profile-service",
	Short: "Consolidated profile cache and refresh scheduler",
	Long:  "Merges financial, enrichment, insight, and network data into consolidated business profiles with per-source TTLs, upstream-cadence-aware refresh scheduling, and an HTTP API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
