package persistence

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/talgya/unrest/internal/engine"
	"github.com/talgya/unrest/internal/placement"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "unrest.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func runInto(t *testing.T, rec *Recorder, p engine.Params) *engine.Model {
	t.Helper()
	m, err := engine.NewModel(p, rec)
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	if err := placement.Populate(m, m.Rand(), placement.DefaultConfig()); err != nil {
		t.Fatalf("Populate failed: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for m.Running() {
		if _, err := m.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
	}
	if err := rec.Finish(m.Tick(), StatusFinished); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	return m
}

func smallParams() engine.Params {
	p := engine.DefaultParams()
	p.Width, p.Height = 12, 12
	p.MaxIters = 20
	p.Seed = 8
	return p
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	p := smallParams()

	rec, err := db.CreateRun("baseline", p, placement.DefaultConfig())
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	m := runInto(t, rec, p)

	run, err := db.Run(rec.ID)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != StatusFinished || run.FinalTick != int64(m.Tick()) || run.Label != "baseline" {
		t.Errorf("unexpected run row: %+v", run)
	}
	if !run.FinishedAt.Valid {
		t.Error("expected finished_at to be set")
	}
	stored, err := run.Params()
	if err != nil {
		t.Fatalf("Params failed: %v", err)
	}
	if stored.Seed != p.Seed || stored.Width != p.Width || stored.DirectionBias != p.DirectionBias {
		t.Errorf("stored params differ: %+v", stored)
	}
}

func TestTickHistoryMatchesModel(t *testing.T) {
	db := openTestDB(t)
	p := smallParams()
	rec, _ := db.CreateRun("", p, nil)
	m := runInto(t, rec, p)

	rows, err := db.TickHistory(rec.ID, 0, ^uint64(0), 1000)
	if err != nil {
		t.Fatalf("TickHistory failed: %v", err)
	}
	if len(rows) != int(m.Tick())+1 {
		t.Fatalf("expected %d rows, got %d", m.Tick()+1, len(rows))
	}
	last := rows[len(rows)-1]
	want := m.Last().Counts
	if last.Quiescent != want.Quiescent || last.Active != want.Active || last.Deviant != want.Deviant || last.Detained != want.Detained {
		t.Errorf("last row %+v does not match %+v", last, want)
	}

	window, err := db.TickHistory(rec.ID, 5, 9, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 3 || window[0].Tick != 5 || window[2].Tick != 7 {
		t.Errorf("unexpected window: %+v", window)
	}
}

func TestSnapshotsStoredOnSnapshotTicks(t *testing.T) {
	db := openTestDB(t)
	p := smallParams()
	rec, _ := db.CreateRun("", p, nil)
	rec.SnapshotEvery = 5
	m := runInto(t, rec, p)

	at10, err := db.AgentSnapshots(rec.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(at10) != len(m.Agents(nil)) {
		t.Errorf("expected %d snapshots at tick 10, got %d", len(m.Agents(nil)), len(at10))
	}
	at11, _ := db.AgentSnapshots(rec.ID, 11)
	if len(at11) != 0 {
		t.Errorf("expected no snapshots at tick 11, got %d", len(at11))
	}
}

func TestRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	p := smallParams()
	first, _ := db.CreateRun("first", p, nil)
	second, _ := db.CreateRun("second", p, nil)

	runs, err := db.Runs(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != second.ID || runs[1].ID != first.ID {
		t.Errorf("unexpected order: %+v", runs)
	}
	if runs[0].Status != StatusRunning {
		t.Errorf("expected unfinished run to be running, got %s", runs[0].Status)
	}
}

func TestRunNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Run("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveMeta("last_run", "abc"); err != nil {
		t.Fatal(err)
	}
	db.SaveMeta("last_run", "def")
	v, err := db.GetMeta("last_run")
	if err != nil || v != "def" {
		t.Errorf("expected def, got %q (%v)", v, err)
	}
}
