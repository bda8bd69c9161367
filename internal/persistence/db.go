// Package persistence stores runs, their per-tick aggregates, and agent
// snapshots in SQLite.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/unrest/internal/engine"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Run status values.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// DB wraps a SQLite connection for run storage.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		seed INTEGER NOT NULL,
		params_json TEXT NOT NULL,
		placement_json TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		final_tick INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tick_stats (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		quiescent INTEGER NOT NULL,
		active INTEGER NOT NULL,
		deviant INTEGER NOT NULL,
		detained INTEGER NOT NULL,
		avg_aggression REAL NOT NULL,
		admitted INTEGER NOT NULL,
		security INTEGER NOT NULL,
		obstacles INTEGER NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS agent_snapshots (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		agent_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		condition TEXT NOT NULL DEFAULT '',
		detained INTEGER NOT NULL DEFAULT 0,
		arrest_probability REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, tick, agent_id)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// RunInfo is one row of the runs table.
type RunInfo struct {
	ID            string         `db:"id" json:"id"`
	Label         string         `db:"label" json:"label,omitempty"`
	Seed          int64          `db:"seed" json:"seed"`
	ParamsJSON    string         `db:"params_json" json:"-"`
	PlacementJSON string         `db:"placement_json" json:"-"`
	StartedAt     string         `db:"started_at" json:"started_at"`
	FinishedAt    sql.NullString `db:"finished_at" json:"-"`
	FinalTick     int64          `db:"final_tick" json:"final_tick"`
	Status        string         `db:"status" json:"status"`
}

// Params decodes the stored model parameters.
func (r RunInfo) Params() (engine.Params, error) {
	var p engine.Params
	err := json.Unmarshal([]byte(r.ParamsJSON), &p)
	return p, err
}

// StatsRow is one row of the tick_stats table.
type StatsRow struct {
	RunID         string  `db:"run_id" json:"-"`
	Tick          int64   `db:"tick" json:"tick"`
	Quiescent     int     `db:"quiescent" json:"quiescent"`
	Active        int     `db:"active" json:"active"`
	Deviant       int     `db:"deviant" json:"deviant"`
	Detained      int     `db:"detained" json:"detained"`
	AvgAggression float64 `db:"avg_aggression" json:"avg_aggression"`
	Admitted      int64   `db:"admitted" json:"admitted"`
	Security      int     `db:"security" json:"security"`
	Obstacles     int     `db:"obstacles" json:"obstacles"`
}

// SnapshotRow is one row of the agent_snapshots table.
type SnapshotRow struct {
	RunID             string  `db:"run_id" json:"-"`
	Tick              int64   `db:"tick" json:"tick"`
	AgentID           int64   `db:"agent_id" json:"agent_id"`
	Kind              string  `db:"kind" json:"kind"`
	X                 int     `db:"x" json:"x"`
	Y                 int     `db:"y" json:"y"`
	Condition         string  `db:"condition" json:"condition,omitempty"`
	Detained          bool    `db:"detained" json:"detained"`
	ArrestProbability float64 `db:"arrest_probability" json:"arrest_probability"`
}

// Recorder writes one run's records. It implements engine.Collector.
type Recorder struct {
	db *DB
	ID string

	// SnapshotEvery stores agent snapshots only on ticks that are a
	// multiple of it; zero stores none.
	SnapshotEvery uint64
}

// CreateRun registers a new run and returns its recorder. placement is
// stored as JSON alongside the parameters.
func (db *DB) CreateRun(label string, p engine.Params, placement any) (*Recorder, error) {
	params, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	place, err := json.Marshal(placement)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	_, err = db.conn.Exec(`INSERT INTO runs
		(id, label, seed, params_json, placement_json, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, label, p.Seed, string(params), string(place),
		time.Now().UTC().Format(time.RFC3339), StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	slog.Info("run created", "run_id", id, "seed", p.Seed, "label", label)
	return &Recorder{db: db, ID: id, SnapshotEvery: 10}, nil
}

// Collect stores the aggregates of rec and, on snapshot ticks, its agent
// snapshots, in one transaction.
func (r *Recorder) Collect(rec *engine.TickRecord) error {
	tx, err := r.db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT OR REPLACE INTO tick_stats
		(run_id, tick, quiescent, active, deviant, detained, avg_aggression, admitted, security, obstacles)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, int64(rec.Tick),
		rec.Counts.Quiescent, rec.Counts.Active, rec.Counts.Deviant, rec.Counts.Detained,
		rec.AvgAggression, int64(rec.Admitted), rec.Security, rec.Obstacles,
	)
	if err != nil {
		return fmt.Errorf("insert tick %d: %w", rec.Tick, err)
	}

	if r.SnapshotEvery > 0 && rec.Tick%r.SnapshotEvery == 0 && len(rec.Agents) > 0 {
		stmt, err := tx.Preparex(`INSERT OR REPLACE INTO agent_snapshots
			(run_id, tick, agent_id, kind, x, y, condition, detained, arrest_probability)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range rec.Agents {
			_, err := stmt.Exec(
				r.ID, int64(rec.Tick), int64(a.ID), a.Kind.String(),
				a.Position.X, a.Position.Y, a.Condition, a.Detained, a.ArrestProbability,
			)
			if err != nil {
				return fmt.Errorf("insert snapshot of agent %d: %w", a.ID, err)
			}
		}
	}

	return tx.Commit()
}

// Finish records the run's final tick and status.
func (r *Recorder) Finish(finalTick uint64, status string) error {
	_, err := r.db.conn.Exec(
		"UPDATE runs SET finished_at = ?, final_tick = ?, status = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), int64(finalTick), status, r.ID,
	)
	return err
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(limit int) ([]RunInfo, error) {
	var runs []RunInfo
	err := db.conn.Select(&runs,
		"SELECT * FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	return runs, err
}

// Run returns one run by ID.
func (db *DB) Run(id string) (RunInfo, error) {
	var run RunInfo
	err := db.conn.Get(&run, "SELECT * FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return run, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// TickHistory returns a run's aggregates for ticks in [from, to], oldest
// first, at most limit rows.
func (db *DB) TickHistory(runID string, from, to uint64, limit int) ([]StatsRow, error) {
	if to > 1<<63-1 {
		to = 1<<63 - 1
	}
	var rows []StatsRow
	err := db.conn.Select(&rows,
		`SELECT * FROM tick_stats
		WHERE run_id = ? AND tick >= ? AND tick <= ?
		ORDER BY tick ASC LIMIT ?`,
		runID, int64(from), int64(to), limit,
	)
	return rows, err
}

// AgentSnapshots returns every stored snapshot of a run at tick.
func (db *DB) AgentSnapshots(runID string, tick uint64) ([]SnapshotRow, error) {
	var rows []SnapshotRow
	err := db.conn.Select(&rows,
		"SELECT * FROM agent_snapshots WHERE run_id = ? AND tick = ? ORDER BY agent_id",
		runID, int64(tick),
	)
	return rows, err
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}
