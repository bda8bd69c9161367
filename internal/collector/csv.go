package collector

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/talgya/unrest/internal/engine"
)

// Label is a constant column appended to every CSV row, typically a run
// parameter such as the environment or jail capacity.
type Label struct {
	Name  string
	Value string
}

// CSV accumulates the aggregate series and, every Every ticks, writes the
// whole series so far to a fresh numbered file in Dir (exp-1.csv,
// exp-2.csv, ...). Close writes a final dump.
type CSV struct {
	Dir    string
	Every  uint64
	Labels []Label

	mu      sync.Mutex
	rows    [][]string
	written []string
	dirty   bool
}

// NewCSV creates a CSV collector writing into dir.
func NewCSV(dir string, every uint64, labels ...Label) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &CSV{Dir: dir, Every: every, Labels: labels}, nil
}

// Header returns the column names.
func (c *CSV) Header() []string {
	h := []string{"tick", "quiescent", "active", "deviant", "detained", "avg_aggression", "admitted"}
	for _, l := range c.Labels {
		h = append(h, l.Name)
	}
	return h
}

func (c *CSV) Collect(rec *engine.TickRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	row := []string{
		strconv.FormatUint(rec.Tick, 10),
		strconv.Itoa(rec.Counts.Quiescent),
		strconv.Itoa(rec.Counts.Active),
		strconv.Itoa(rec.Counts.Deviant),
		strconv.Itoa(rec.Counts.Detained),
		strconv.FormatFloat(rec.AvgAggression, 'f', 4, 64),
		strconv.FormatUint(rec.Admitted, 10),
	}
	for _, l := range c.Labels {
		row = append(row, l.Value)
	}
	c.rows = append(c.rows, row)
	c.dirty = true

	if c.Every > 0 && rec.Tick > 0 && rec.Tick%c.Every == 0 {
		return c.dumpLocked()
	}
	return nil
}

// Files returns the paths written so far.
func (c *CSV) Files() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

// Close writes the series if anything arrived since the last dump.
func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	return c.dumpLocked()
}

func (c *CSV) dumpLocked() error {
	path, err := nextExperimentPath(c.Dir)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	w.Write(c.Header())
	w.WriteAll(c.rows)
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	c.written = append(c.written, path)
	c.dirty = false
	return nil
}

// nextExperimentPath numbers files after the CSVs already in dir.
func nextExperimentPath(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".csv") {
			n++
		}
	}
	return filepath.Join(dir, fmt.Sprintf("exp-%d.csv", n+1)), nil
}
