package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/talgya/unrest/internal/engine"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation headless to completion",
		Long: `Run one simulation as fast as possible and print the final counts.

Outputs are enabled through the storage section of the config:
  storage.db_path    record the run in SQLite
  storage.jsonl_dir  write a zstd-compressed JSON line per tick
  storage.csv_dir    dump the aggregate series every csv_every ticks

Examples:
  unrest run
  unrest run --config experiment.yaml --seed 7 --max-iters 250`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				cfg.Model.Seed, _ = cmd.Flags().GetInt64("seed")
			}
			if cmd.Flags().Changed("max-iters") {
				cfg.Model.MaxIters, _ = cmd.Flags().GetUint64("max-iters")
			}
			label, _ := cmd.Flags().GetString("label")

			s, err := openSession(cfg, label)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			eng := engine.NewEngine(s.Model)
			eng.Interval = 0
			eng.ReportEvery = cfg.Logging.ReportEvery
			eng.OnReport = engine.LogReport

			runErr := eng.Run(ctx)
			if errors.Is(runErr, context.Canceled) {
				slog.Warn("run interrupted", "tick", s.Model.Tick())
			}
			if err := s.finish(runErr); err != nil {
				slog.Error("closing outputs failed", "error", err)
			}
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("run failed at tick %d: %w", s.Model.Tick(), runErr)
			}

			printSummary(cmd.OutOrStdout(), s.Model)
			if s.Recorder != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "  run id:     %s\n", s.Recorder.ID)
			}
			return nil
		},
	}

	cmd.Flags().Int64("seed", 0, "Random seed (0 = random)")
	cmd.Flags().Uint64("max-iters", 0, "Iteration bound")
	cmd.Flags().String("label", "", "Label stored with the run")

	return cmd
}
