// Package runindex maintains a small sqlite database summarizing finished
// runs, so the replay tool can answer "which runs exist and who won" without
// re-reading every JSONL log.
package runindex

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentdyn/infosim/internal/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	log_path        TEXT NOT NULL,
	indexed_at      TEXT NOT NULL,
	rounds          INTEGER NOT NULL DEFAULT 0,
	tasks_completed INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS agent_totals (
	run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	agent_id TEXT NOT NULL,
	total    INTEGER NOT NULL,
	PRIMARY KEY (run_id, agent_id)
);
CREATE TABLE IF NOT EXISTS event_counts (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	event_type TEXT NOT NULL,
	count      INTEGER NOT NULL,
	PRIMARY KEY (run_id, event_type)
);
`

// DB wraps the sqlite handle.
type DB struct {
	sql *sql.DB
}

// Open creates or opens the index database and ensures the schema exists.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runindex: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("runindex: create schema: %w", err)
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error { return d.sql.Close() }

// RunSummary is one indexed run.
type RunSummary struct {
	ID             string
	LogPath        string
	Rounds         int
	TasksCompleted int
}

// Summarize pulls the indexable facts out of an event stream: round and
// completion counts from the simulation_end payload, per-agent totals, and
// the per-type event histogram. Logs without a simulation_end (crashed runs)
// index with zero rounds but still get their event counts.
func Summarize(evs []events.Event) (rounds, tasksCompleted int, totals map[string]int, counts map[string]int) {
	totals = make(map[string]int)
	counts = make(map[string]int)
	for _, e := range evs {
		counts[e.EventType]++
		if e.EventType != events.TypeSimulationEnd {
			continue
		}
		var end struct {
			Results *struct {
				Rounds         int            `json:"rounds"`
				Totals         map[string]int `json:"totals"`
				TasksCompleted int            `json:"tasks_completed"`
			} `json:"results"`
		}
		if err := e.Decode(&end); err != nil || end.Results == nil {
			continue
		}
		rounds = end.Results.Rounds
		tasksCompleted = end.Results.TasksCompleted
		for agent, total := range end.Results.Totals {
			totals[agent] = total
		}
	}
	return rounds, tasksCompleted, totals, counts
}

// IndexRun upserts one run and its derived rows in a single transaction.
func (d *DB) IndexRun(runID, logPath string, evs []events.Event) error {
	rounds, tasksCompleted, totals, counts := Summarize(evs)

	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("runindex: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO runs (id, log_path, indexed_at, rounds, tasks_completed)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   log_path = excluded.log_path,
		   indexed_at = excluded.indexed_at,
		   rounds = excluded.rounds,
		   tasks_completed = excluded.tasks_completed`,
		runID, logPath, time.Now().UTC().Format(time.RFC3339), rounds, tasksCompleted,
	); err != nil {
		return fmt.Errorf("runindex: upsert run: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM agent_totals WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("runindex: clear totals: %w", err)
	}
	for agent, total := range totals {
		if _, err := tx.Exec(
			`INSERT INTO agent_totals (run_id, agent_id, total) VALUES (?, ?, ?)`,
			runID, agent, total,
		); err != nil {
			return fmt.Errorf("runindex: insert total: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM event_counts WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("runindex: clear counts: %w", err)
	}
	for eventType, count := range counts {
		if _, err := tx.Exec(
			`INSERT INTO event_counts (run_id, event_type, count) VALUES (?, ?, ?)`,
			runID, eventType, count,
		); err != nil {
			return fmt.Errorf("runindex: insert count: %w", err)
		}
	}
	return tx.Commit()
}

// Runs lists every indexed run, most recently indexed first.
func (d *DB) Runs() ([]RunSummary, error) {
	rows, err := d.sql.Query(
		`SELECT id, log_path, rounds, tasks_completed FROM runs ORDER BY indexed_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("runindex: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.LogPath, &r.Rounds, &r.TasksCompleted); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AgentTotals returns the indexed per-agent final totals for one run.
func (d *DB) AgentTotals(runID string) (map[string]int, error) {
	rows, err := d.sql.Query(`SELECT agent_id, total FROM agent_totals WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("runindex: query totals: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var agent string
		var total int
		if err := rows.Scan(&agent, &total); err != nil {
			return nil, err
		}
		out[agent] = total
	}
	return out, rows.Err()
}

// EventCounts returns the per-type event histogram for one run.
func (d *DB) EventCounts(runID string) (map[string]int, error) {
	rows, err := d.sql.Query(`SELECT event_type, count FROM event_counts WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("runindex: query counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		out[eventType] = count
	}
	return out, rows.Err()
}
