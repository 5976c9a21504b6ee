package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dealflow/internal/config"
	"github.com/sells-group/dealflow/internal/lifecycle"
)

var (
	runMode  string
	runLimit int
	runJSON  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one batch of the configured worker stage",
	Long: "Runs a single batch of ingestion, processing or feature extraction. The stage comes from " +
		"--mode, then WORKER_MODE / DEALFLOW_WORKER_MODE, then worker.mode in config.yaml.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStageCommand(cmd.Context(), resolveMode(runMode, cfg), runLimit, runJSON)
	},
}

// stageCommand builds the fixed-stage shortcuts (ingest, process, features).
func stageCommand(use, mode, short string) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	c := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStageCommand(cmd.Context(), mode, limit, asJSON)
		},
	}
	c.Flags().IntVar(&limit, "limit", 0, "batch size (default worker.batch_size)")
	c.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return c
}

// resolveMode applies flag > env > config precedence. Env and config are
// already merged by config.Load.
func resolveMode(flag string, c *config.Config) string {
	if flag != "" {
		return flag
	}
	return c.Worker.Mode
}

func runStageCommand(ctx context.Context, mode string, limit int, asJSON bool) error {
	if !config.IsWorkerMode(mode) {
		return eris.Errorf("unknown worker mode %q (want ingestion, processing or features)", mode)
	}
	env, err := initPipeline(ctx, mode)
	if err != nil {
		return err
	}
	defer env.Close()

	if limit <= 0 {
		limit = cfg.Worker.BatchSize
	}
	sum, err := runStage(ctx, env.Controller, mode, limit)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	fmt.Printf("%s: %s\n", mode, sum)
	return nil
}

// runStage runs one batch of the named stage. Ingestion takes limit as the
// per-feed entry cap; the other stages take it as the document batch size.
func runStage(ctx context.Context, ctrl *lifecycle.Controller, mode string, limit int) (fmt.Stringer, error) {
	switch mode {
	case config.ModeIngestion:
		return ctrl.Ingest(ctx, limit)
	case config.ModeProcessing:
		return ctrl.ProcessPending(ctx, limit)
	case config.ModeFeatures:
		return ctrl.ExtractFeatures(ctx, limit)
	default:
		return nil, eris.Errorf("unknown stage %q", mode)
	}
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "worker stage: ingestion, processing or features")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "batch size (default worker.batch_size)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the summary as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stageCommand("ingest", config.ModeIngestion, "Ingest new articles from every active feed"))
	rootCmd.AddCommand(stageCommand("process", config.ModeProcessing, "Chunk and embed pending documents"))
	rootCmd.AddCommand(stageCommand("features", config.ModeFeatures, "Extract companies, investors and funding rounds"))
}
