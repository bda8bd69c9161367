package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/unrest/internal/batch"
	"github.com/talgya/unrest/internal/persistence"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Repeat runs over a parameter sweep",
		Long: `Run batch.trials trials of every combination of the batch sweep lists
(jail_capacity, ratio, direction_bias, environment), each to batch.max_steps.
Trial n of every combination uses seed batch.base_seed + n.

Writes one row per trial to --output and per-combination means to the same
path with a -summary suffix.

Examples:
  unrest batch --config sweep.yaml
  unrest batch --trials 5 --output results.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("trials") {
				cfg.Batch.Trials, _ = cmd.Flags().GetInt("trials")
			}
			if cmd.Flags().Changed("output") {
				cfg.Batch.Output, _ = cmd.Flags().GetString("output")
			}

			runner, err := batch.NewRunner(cfg)
			if err != nil {
				return err
			}
			if cfg.Storage.DBPath != "" {
				db, err := persistence.Open(cfg.Storage.DBPath)
				if err != nil {
					return err
				}
				defer db.Close()
				runner.DB = db
			}
			runner.OnResult = func(r batch.Result) {
				slog.Info("trial finished",
					"combination", r.Combination.String(),
					"trial", r.Trial,
					"seed", r.Seed,
					"active", r.Final.Active,
					"detained", r.Final.Detained,
				)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			results, summaries, runErr := runner.Run(ctx)

			if len(results) > 0 {
				if err := batch.WriteResultsCSV(cfg.Batch.Output, results); err != nil {
					return fmt.Errorf("write results: %w", err)
				}
				summaryPath := summaryPathFor(cfg.Batch.Output)
				if err := batch.WriteSummaryCSV(summaryPath, summaries); err != nil {
					return fmt.Errorf("write summary: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s runs to %s and %s\n",
					humanize.Comma(int64(len(results))), cfg.Batch.Output, summaryPath)
			}
			if runErr != nil {
				return runErr
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ENVIRONMENT\tJAIL\tRATIO\tBIAS\tTRIALS\tQUIESCENT\tACTIVE\tDEVIANT\tDETAINED")
			for _, s := range summaries {
				fmt.Fprintf(tw, "%s\t%d\t%g\t%s\t%d\t%.1f\t%.1f\t%.1f\t%.1f\n",
					s.Environment, s.JailCapacity, s.Ratio, s.DirectionBias, s.Trials,
					s.MeanQuiescent, s.MeanActive, s.MeanDeviant, s.MeanDetained)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().Int("trials", 0, "Trials per combination")
	cmd.Flags().String("output", "", "Per-trial CSV path")

	return cmd
}

// summaryPathFor derives "results-summary.csv" from "results.csv".
func summaryPathFor(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-summary" + ext
}
