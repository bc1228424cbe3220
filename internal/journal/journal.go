// Package journal records setup runs and every external command they
// dispatched in a local sqlite database. The journal is observability only:
// a journal failure is logged and never aborts an install.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/linuxrdp/xrdp-setup/internal/executor"
)

// maxStderrBytes caps the stderr tail stored per command.
const maxStderrBytes = 4 << 10

// Run terminal statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// DefaultDataDir returns the per-user journal location.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", "xrdp-setup")
}

// Journal is the sqlite-backed run history.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
}

// Entry is one past run, as listed by History.
type Entry struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Mode       string
	Status     string
	Error      string
	Commands   int
}

// Open creates or opens the journal database under dataDir.
func Open(dataDir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "xrdp-setup.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	j := &Journal{db: db, logger: logger}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return j, nil
}

// migrate creates the schema.
func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished_at DATETIME,
		mode TEXT NOT NULL,
		flags TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'running',
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		argv TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		stderr TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_commands_run ON commands(run_id);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Begin records the start of a run and returns its handle. flags is stored
// as a JSON snapshot of the request.
func (j *Journal) Begin(mode string, flags any) (*Run, error) {
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return nil, fmt.Errorf("marshal flags: %w", err)
	}

	id := ulid.Make().String()

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.db.Exec(
		"INSERT INTO runs (id, mode, flags) VALUES (?, ?, ?)",
		id, mode, string(flagsJSON),
	); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Run{j: j, ID: id}, nil
}

// History returns the most recent runs, newest first.
func (j *Journal) History(limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`
		SELECT r.id, r.started_at, COALESCE(r.finished_at, r.started_at),
		       r.mode, r.status, r.error,
		       (SELECT COUNT(*) FROM commands c WHERE c.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.StartedAt, &e.FinishedAt,
			&e.Mode, &e.Status, &e.Error, &e.Commands); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Run is the handle for one in-progress setup run. It implements
// executor.Recorder so every dispatched command lands in the journal.
type Run struct {
	j  *Journal
	ID string
}

// RecordCommand stores one dispatched command. Best effort: a database
// error is logged at warn and otherwise ignored.
func (r *Run) RecordCommand(name string, args []string, res *executor.Result, _ error, elapsed time.Duration) {
	argv := strings.Join(append([]string{name}, args...), " ")

	exitCode := -1
	stderr := ""
	if res != nil {
		exitCode = res.ExitCode
		stderr = res.Stderr
		if len(stderr) > maxStderrBytes {
			stderr = stderr[len(stderr)-maxStderrBytes:]
		}
	}

	r.j.mu.Lock()
	defer r.j.mu.Unlock()
	if _, err := r.j.db.Exec(
		"INSERT INTO commands (run_id, argv, exit_code, stderr, duration_ms) VALUES (?, ?, ?, ?, ?)",
		r.ID, argv, exitCode, stderr, elapsed.Milliseconds(),
	); err != nil {
		r.j.logger.Warn("journal: record command failed", "run_id", r.ID, "error", err)
	}
}

// Finish marks the run as completed. Best effort.
func (r *Run) Finish(status, errText string) {
	r.j.mu.Lock()
	defer r.j.mu.Unlock()
	if _, err := r.j.db.Exec(
		"UPDATE runs SET finished_at = CURRENT_TIMESTAMP, status = ?, error = ? WHERE id = ?",
		status, errText, r.ID,
	); err != nil {
		r.j.logger.Warn("journal: finish run failed", "run_id", r.ID, "error", err)
	}
}
