package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/unrest/internal/collector"
	"github.com/talgya/unrest/internal/config"
	"github.com/talgya/unrest/internal/engine"
	"github.com/talgya/unrest/internal/logging"
	"github.com/talgya/unrest/internal/persistence"
	"github.com/talgya/unrest/internal/placement"
)

// loadConfig reads --config, applies env overrides and --log-level, and
// installs the process logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		if !logging.ValidLevel(lvl) {
			return nil, fmt.Errorf("invalid --log-level %q", lvl)
		}
		cfg.Logging.Level = lvl
	}
	slog.SetDefault(logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr))
	if cfg.Path != "" {
		slog.Debug("config loaded", "path", cfg.Path)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// session is one model plus the outputs it reports into.
type session struct {
	Model    *engine.Model
	DB       *persistence.DB
	Recorder *persistence.Recorder

	jsonl *collector.JSONL
	csv   *collector.CSV
}

// openSession builds the configured outputs and a populated, unstarted
// model that reports into them.
func openSession(cfg *config.Config, label string) (*session, error) {
	p, err := cfg.Params()
	if err != nil {
		return nil, err
	}
	if p.Seed == 0 {
		// Fix the seed now so the run row and the CSV labels carry it.
		p.Seed = time.Now().UnixNano()
	}

	s := &session{}
	var sinks collector.Multi

	if cfg.Storage.DBPath != "" {
		if dir := filepath.Dir(cfg.Storage.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		s.DB, err = persistence.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, err
		}
		s.Recorder, err = s.DB.CreateRun(label, p, cfg.Placement)
		if err != nil {
			s.close()
			return nil, err
		}
		s.Recorder.SnapshotEvery = cfg.Storage.SnapshotEvery
		sinks = append(sinks, s.Recorder)
		slog.Info("recording run", "db", cfg.Storage.DBPath, "run_id", s.Recorder.ID)
	}

	if cfg.Storage.JSONLDir != "" {
		name := fmt.Sprintf("run-%d", p.Seed)
		if s.Recorder != nil {
			name = "run-" + s.Recorder.ID
		}
		s.jsonl, err = collector.NewJSONL(cfg.Storage.JSONLDir, name)
		if err != nil {
			s.close()
			return nil, err
		}
		sinks = append(sinks, s.jsonl)
		slog.Info("writing record log", "path", s.jsonl.Path())
	}

	if cfg.Storage.CSVDir != "" {
		s.csv, err = collector.NewCSV(cfg.Storage.CSVDir, cfg.Storage.CSVEvery, runLabels(cfg, p)...)
		if err != nil {
			s.close()
			return nil, err
		}
		sinks = append(sinks, s.csv)
	}

	var c engine.Collector
	if len(sinks) > 0 {
		c = sinks
	}
	s.Model, err = engine.NewModel(p, c)
	if err != nil {
		s.close()
		return nil, err
	}
	// Per-agent snapshots are only worth building when something keeps them.
	if s.Recorder != nil || s.jsonl != nil {
		s.Model.SetSnapshotEvery(cfg.Storage.SnapshotEvery)
	} else {
		s.Model.SetSnapshotEvery(0)
	}
	if err := placement.Populate(s.Model, s.Model.Rand(), cfg.Placement); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func runLabels(cfg *config.Config, p engine.Params) []collector.Label {
	return []collector.Label{
		{Name: "environment", Value: string(cfg.Placement.Environment)},
		{Name: "jail_capacity", Value: strconv.Itoa(p.JailCapacity)},
		{Name: "ratio", Value: strconv.FormatFloat(cfg.Placement.Ratio, 'f', -1, 64)},
		{Name: "direction_bias", Value: p.DirectionBias.String()},
		{Name: "seed", Value: strconv.FormatInt(p.Seed, 10)},
	}
}

// finish records the outcome of the run and closes every output.
func (s *session) finish(runErr error) error {
	var errs []error
	if s.Recorder != nil {
		status := persistence.StatusFinished
		if runErr != nil {
			status = persistence.StatusFailed
		}
		if err := s.Recorder.Finish(s.Model.Tick(), status); err != nil {
			errs = append(errs, fmt.Errorf("finish run: %w", err))
		}
		if err := s.DB.SaveMeta("last_run", s.Recorder.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if s.csv != nil {
		if err := s.csv.Close(); err != nil {
			errs = append(errs, err)
		} else if files := s.csv.Files(); len(files) > 0 {
			slog.Info("csv dumps written", "files", len(files), "last", files[len(files)-1])
		}
	}
	errs = append(errs, s.close())
	return errors.Join(errs...)
}

func (s *session) close() error {
	var errs []error
	if s.jsonl != nil {
		errs = append(errs, s.jsonl.Close())
	}
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	return errors.Join(errs...)
}

// printSummary writes the final state of a run.
func printSummary(w io.Writer, m *engine.Model) {
	last := m.Last()
	if last == nil {
		return
	}
	c := last.Counts
	total := c.Residents()
	fmt.Fprintf(w, "Run finished at tick %s (seed %d)\n", humanize.Comma(int64(last.Tick)), m.Seed())
	fmt.Fprintf(w, "  residents:  %s\n", humanize.Comma(int64(total)))
	fmt.Fprintf(w, "  quiescent:  %s (%s)\n", humanize.Comma(int64(c.Quiescent)), share(c.Quiescent, total))
	fmt.Fprintf(w, "  active:     %s (%s)\n", humanize.Comma(int64(c.Active)), share(c.Active, total))
	fmt.Fprintf(w, "  deviant:    %s (%s)\n", humanize.Comma(int64(c.Deviant)), share(c.Deviant, total))
	fmt.Fprintf(w, "  detained:   %s (%s)\n", humanize.Comma(int64(c.Detained)), share(c.Detained, total))
	fmt.Fprintf(w, "  admissions: %s\n", humanize.Comma(int64(last.Admitted)))
	fmt.Fprintf(w, "  security:   %s, obstacles: %s\n", humanize.Comma(int64(last.Security)), humanize.Comma(int64(last.Obstacles)))
}

func share(n, total int) string {
	if total == 0 {
		return "0%"
	}
	return humanize.FtoaWithDigits(100*float64(n)/float64(total), 1) + "%"
}
