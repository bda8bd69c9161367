// Package batch repeats runs over a parameter sweep and summarizes the
// final state of each combination.
package batch

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/config"
	"github.com/talgya/unrest/internal/engine"
	"github.com/talgya/unrest/internal/persistence"
	"github.com/talgya/unrest/internal/placement"
)

// Combination is one point of the sweep.
type Combination struct {
	Environment   placement.Environment `json:"environment"`
	JailCapacity  int                   `json:"jail_capacity"`
	Ratio         float64               `json:"ratio"`
	DirectionBias string                `json:"direction_bias"`
}

func (c Combination) String() string {
	return fmt.Sprintf("%s/jail=%d/ratio=%g/bias=%s", c.Environment, c.JailCapacity, c.Ratio, c.DirectionBias)
}

// Result is the final state of one trial.
type Result struct {
	Combination
	Trial         int           `json:"trial"`
	Seed          int64         `json:"seed"`
	RunID         string        `json:"run_id,omitempty"`
	Ticks         uint64        `json:"ticks"`
	Final         engine.Counts `json:"final"`
	AvgAggression float64       `json:"avg_aggression"`
	Admitted      uint64        `json:"admitted"`
}

// Summary averages the trials of one combination.
type Summary struct {
	Combination
	Trials        int     `json:"trials"`
	MeanQuiescent float64 `json:"mean_quiescent"`
	MeanActive    float64 `json:"mean_active"`
	MeanDeviant   float64 `json:"mean_deviant"`
	MeanDetained  float64 `json:"mean_detained"`
	MeanAdmitted  float64 `json:"mean_admitted"`
}

// Runner executes a sweep. Trials run one after another; trial n of every
// combination is seeded with BaseSeed+n, so combinations share their
// random streams. A resulting seed of zero draws a random one.
type Runner struct {
	Params    engine.Params
	Placement placement.Config
	Batch     config.BatchConfig

	// DB, when set, records every trial as its own run.
	DB *persistence.DB

	// OnResult is called after each trial.
	OnResult func(Result)
}

// NewRunner builds a runner from a loaded configuration.
func NewRunner(cfg *config.Config) (*Runner, error) {
	p, err := cfg.Params()
	if err != nil {
		return nil, err
	}
	return &Runner{Params: p, Placement: cfg.Placement, Batch: cfg.Batch}, nil
}

// Combinations expands the sweep lists. An empty list contributes the base
// value alone.
func (r *Runner) Combinations() ([]Combination, error) {
	envs := []placement.Environment{r.Placement.Environment}
	if len(r.Batch.Environment) > 0 {
		envs = envs[:0]
		for _, s := range r.Batch.Environment {
			env, err := placement.ParseEnvironment(s)
			if err != nil {
				return nil, err
			}
			envs = append(envs, env)
		}
	}
	jails := r.Batch.JailCapacity
	if len(jails) == 0 {
		jails = []int{r.Params.JailCapacity}
	}
	ratios := r.Batch.Ratio
	if len(ratios) == 0 {
		ratios = []float64{r.Placement.Ratio}
	}
	biases := r.Batch.DirectionBias
	if len(biases) == 0 {
		biases = []string{r.Params.DirectionBias.String()}
	}

	var combos []Combination
	for _, env := range envs {
		for _, jail := range jails {
			for _, ratio := range ratios {
				for _, bias := range biases {
					combos = append(combos, Combination{
						Environment:   env,
						JailCapacity:  jail,
						Ratio:         ratio,
						DirectionBias: bias,
					})
				}
			}
		}
	}
	return combos, nil
}

// Run executes every trial of every combination and returns the per-trial
// results in execution order with one summary per combination.
func (r *Runner) Run(ctx context.Context) ([]Result, []Summary, error) {
	combos, err := r.Combinations()
	if err != nil {
		return nil, nil, err
	}
	trials := r.Batch.Trials
	if trials <= 0 {
		trials = 1
	}

	slog.Info("batch starting", "combinations", len(combos), "trials", trials)

	var results []Result
	var summaries []Summary
	for _, combo := range combos {
		var group []Result
		for trial := 0; trial < trials; trial++ {
			if err := ctx.Err(); err != nil {
				return results, summaries, err
			}
			res, err := r.runOne(combo, trial, r.Batch.BaseSeed+int64(trial))
			if err != nil {
				return results, summaries, fmt.Errorf("%s trial %d: %w", combo, trial, err)
			}
			group = append(group, res)
			results = append(results, res)
			if r.OnResult != nil {
				r.OnResult(res)
			}
		}
		summaries = append(summaries, summarize(combo, group))
	}

	slog.Info("batch finished", "runs", len(results))
	return results, summaries, nil
}

func (r *Runner) runOne(combo Combination, trial int, seed int64) (Result, error) {
	p := r.Params
	p.JailCapacity = combo.JailCapacity
	p.Seed = seed
	if r.Batch.MaxSteps > 0 {
		p.MaxIters = r.Batch.MaxSteps
	}
	bias, err := agents.ParseDirectionBias(combo.DirectionBias)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", engine.ErrConfiguration, err)
	}
	p.DirectionBias = bias

	pc := r.Placement
	pc.Environment = combo.Environment
	pc.Ratio = combo.Ratio

	var collector engine.Collector
	var rec *persistence.Recorder
	if r.DB != nil {
		rec, err = r.DB.CreateRun(fmt.Sprintf("batch %s #%d", combo, trial), p, pc)
		if err != nil {
			return Result{}, err
		}
		collector = rec
	}
	var m *engine.Model
	fail := func(err error) (Result, error) {
		if rec != nil {
			var tick uint64
			if m != nil {
				tick = m.Tick()
			}
			if ferr := rec.Finish(tick, persistence.StatusFailed); ferr != nil {
				err = errors.Join(err, fmt.Errorf("finish run: %w", ferr))
			}
		}
		return Result{}, err
	}

	m, err = engine.NewModel(p, collector)
	if err != nil {
		return fail(err)
	}
	if rec == nil {
		m.SetSnapshotEvery(0)
	} else {
		m.SetSnapshotEvery(rec.SnapshotEvery)
	}
	if err := placement.Populate(m, m.Rand(), pc); err != nil {
		return fail(err)
	}
	if err := m.Start(); err != nil {
		return fail(err)
	}
	for m.Running() {
		if _, err := m.Step(); err != nil {
			return fail(err)
		}
	}
	if rec != nil {
		if err := rec.Finish(m.Tick(), persistence.StatusFinished); err != nil {
			return Result{}, err
		}
	}

	last := m.Last()
	res := Result{
		Combination:   combo,
		Trial:         trial,
		Seed:          m.Seed(),
		Ticks:         m.Tick(),
		Final:         last.Counts,
		AvgAggression: last.AvgAggression,
		Admitted:      last.Admitted,
	}
	if rec != nil {
		res.RunID = rec.ID
	}
	slog.Debug("trial finished", "combination", combo.String(), "trial", trial,
		"seed", res.Seed, "active", res.Final.Active, "detained", res.Final.Detained)
	return res, nil
}

func summarize(combo Combination, group []Result) Summary {
	s := Summary{Combination: combo, Trials: len(group)}
	if len(group) == 0 {
		return s
	}
	for _, r := range group {
		s.MeanQuiescent += float64(r.Final.Quiescent)
		s.MeanActive += float64(r.Final.Active)
		s.MeanDeviant += float64(r.Final.Deviant)
		s.MeanDetained += float64(r.Final.Detained)
		s.MeanAdmitted += float64(r.Admitted)
	}
	n := float64(len(group))
	s.MeanQuiescent /= n
	s.MeanActive /= n
	s.MeanDeviant /= n
	s.MeanDetained /= n
	s.MeanAdmitted /= n
	return s
}

// WriteResultsCSV writes one row per trial.
func WriteResultsCSV(path string, results []Result) error {
	header := []string{
		"environment", "jail_capacity", "ratio", "direction_bias", "trial", "seed",
		"ticks", "quiescent", "active", "deviant", "detained", "avg_aggression", "admitted", "run_id",
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			string(r.Environment),
			strconv.Itoa(r.JailCapacity),
			formatFloat(r.Ratio),
			r.DirectionBias,
			strconv.Itoa(r.Trial),
			strconv.FormatInt(r.Seed, 10),
			strconv.FormatUint(r.Ticks, 10),
			strconv.Itoa(r.Final.Quiescent),
			strconv.Itoa(r.Final.Active),
			strconv.Itoa(r.Final.Deviant),
			strconv.Itoa(r.Final.Detained),
			formatFloat(r.AvgAggression),
			strconv.FormatUint(r.Admitted, 10),
			r.RunID,
		})
	}
	return writeCSV(path, header, rows)
}

// WriteSummaryCSV writes one row per combination.
func WriteSummaryCSV(path string, summaries []Summary) error {
	header := []string{
		"environment", "jail_capacity", "ratio", "direction_bias", "trials",
		"mean_quiescent", "mean_active", "mean_deviant", "mean_detained", "mean_admitted",
	}
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			string(s.Environment),
			strconv.Itoa(s.JailCapacity),
			formatFloat(s.Ratio),
			s.DirectionBias,
			strconv.Itoa(s.Trials),
			formatFloat(s.MeanQuiescent),
			formatFloat(s.MeanActive),
			formatFloat(s.MeanDeviant),
			formatFloat(s.MeanDetained),
			formatFloat(s.MeanAdmitted),
		})
	}
	return writeCSV(path, header, rows)
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Write(header)
	w.WriteAll(rows)
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
