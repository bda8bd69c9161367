package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "unrest.yaml")
	content := `
model:
  width: 12
  height: 12
  max_iters: 20
  seed: 11
storage:
  db_path: ` + filepath.Join(dir, "runs.db") + `
  jsonl_dir: ` + filepath.Join(dir, "jsonl") + `
  csv_dir: ` + filepath.Join(dir, "csv") + `
  csv_every: 10
logging:
  level: warn
batch:
  trials: 2
  max_steps: 10
  jail_capacity: [0, 5]
  output: ` + filepath.Join(dir, "batch.csv") + `
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("%v failed: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestVersion(t *testing.T) {
	if out := execute(t, "version"); !strings.HasPrefix(out, "unrest version ") {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestRunWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	out := execute(t, "run", "--config", cfg, "--label", "smoke")
	if !strings.Contains(out, "Run finished at tick 21 (seed 11)") {
		t.Errorf("unexpected summary:\n%s", out)
	}
	if !strings.Contains(out, "run id:") {
		t.Errorf("expected run id in output:\n%s", out)
	}

	jsonl, _ := filepath.Glob(filepath.Join(dir, "jsonl", "*.jsonl.zst"))
	if len(jsonl) != 1 {
		t.Errorf("expected one record log, got %v", jsonl)
	}
	csvs, _ := filepath.Glob(filepath.Join(dir, "csv", "*.csv"))
	if len(csvs) != 3 {
		t.Errorf("expected dumps at ticks 10 and 20 plus a final one, got %v", csvs)
	}

	hist := execute(t, "history", "--config", cfg)
	if !strings.Contains(hist, "smoke") || !strings.Contains(hist, "finished") {
		t.Errorf("expected stored run in history:\n%s", hist)
	}
	ticks := execute(t, "history", "last", "--config", cfg, "--from", "5", "--limit", "3")
	lines := strings.Split(strings.TrimSpace(ticks), "\n")
	if len(lines) != 5 {
		t.Errorf("expected title, header, and 3 rows, got:\n%s", ticks)
	}
}

func TestRunSeedFlagOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	out := execute(t, "run", "--config", cfg, "--seed", "77", "--max-iters", "4")
	if !strings.Contains(out, "Run finished at tick 5 (seed 77)") {
		t.Errorf("unexpected summary:\n%s", out)
	}
}

func TestBatchWritesCSVs(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	out := execute(t, "batch", "--config", cfg)
	if !strings.Contains(out, "Wrote 4 runs") {
		t.Errorf("unexpected batch output:\n%s", out)
	}
	for _, name := range []string{"batch.csv", "batch-summary.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
}

func TestSummaryPathFor(t *testing.T) {
	tests := map[string]string{
		"results.csv":   "results-summary.csv",
		"out/batch.csv": "out/batch-summary.csv",
		"noext":         "noext-summary",
	}
	for in, want := range tests {
		if got := summaryPathFor(in); got != want {
			t.Errorf("summaryPathFor(%q) = %q, expected %q", in, got, want)
		}
	}
}

func TestShare(t *testing.T) {
	if got := share(1, 4); got != "25%" {
		t.Errorf("expected 25%%, got %q", got)
	}
	if got := share(1, 3); got != "33.3%" {
		t.Errorf("expected 33.3%%, got %q", got)
	}
	if got := share(3, 0); got != "0%" {
		t.Errorf("expected 0%%, got %q", got)
	}
}
