package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dealflow",
	Short: "Funding news ingestion and feature extraction pipeline",
	Long: "Ingests startup funding news from RSS/Atom feeds, chunks and embeds each article, " +
		"and extracts companies, investors and funding rounds into a queryable store.",
	SilenceUsage: true,
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
