package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/unrest/internal/persistence"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show stored runs or the tick history of one run",
		Long: `Without arguments, list the most recent runs in storage.db_path.
With a run id (or "last"), print that run's per-tick aggregates.

Examples:
  unrest history
  unrest history last --from 100 --limit 20`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Storage.DBPath == "" {
				return errors.New("no database configured (set storage.db_path or UNREST_DB_PATH)")
			}
			db, err := persistence.Open(cfg.Storage.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				runs, err := db.Runs(limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tLABEL\tSEED\tSTATUS\tTICKS\tSTARTED")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
						r.ID, r.Label, r.Seed, r.Status, humanize.Comma(r.FinalTick), r.StartedAt)
				}
				return tw.Flush()
			}

			runID := args[0]
			if runID == "last" {
				runID, err = db.GetMeta("last_run")
				if err != nil {
					return errors.New("no last run recorded")
				}
			}
			run, err := db.Run(runID)
			if err != nil {
				return err
			}

			from, _ := cmd.Flags().GetUint64("from")
			to, _ := cmd.Flags().GetUint64("to")
			rows, err := db.TickHistory(run.ID, from, to, limit)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Run %s (seed %d, %s, %s ticks)\n", run.ID, run.Seed, run.Status, humanize.Comma(run.FinalTick))
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TICK\tQUIESCENT\tACTIVE\tDEVIANT\tDETAINED\tAVG_AGGRESSION\tADMITTED")
			for _, r := range rows {
				fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%.3f\t%d\n",
					r.Tick, r.Quiescent, r.Active, r.Deviant, r.Detained, r.AvgAggression, r.Admitted)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().Int("limit", 50, "Maximum rows")
	cmd.Flags().Uint64("from", 0, "First tick")
	cmd.Flags().Uint64("to", ^uint64(0), "Last tick")

	return cmd
}
