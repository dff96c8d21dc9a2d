package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"git.unix.lgbt/diamondburned/procmon/procmon"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

// Run is a single finished run of a program, as recorded by History.
type Run struct {
	Run      string
	File     string
	PID      int
	ExitCode int
	Killed   bool
	Error    string
	Duration time.Duration
	Ended    time.Time
}

// History keeps the outcome of every run in an SQLite database. It implements
// procmon.Journaler by recording exited events and ignoring every other event,
// so it can be combined with MultiWriter.
type History struct {
	db        *sql.DB
	now       func() time.Time
	closeOnce sync.Once
	closeErr  error
}

var _ procmon.Journaler = (*History)(nil)

const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run         TEXT    NOT NULL,
	file        TEXT    NOT NULL,
	pid         INTEGER NOT NULL,
	exit_code   INTEGER NOT NULL,
	killed      INTEGER NOT NULL,
	error       TEXT    NOT NULL,
	duration_ns INTEGER NOT NULL,
	ended_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_file_ended ON runs (file, ended_at);
`

// OpenHistory opens or creates the history database at path. The database is
// opened with WAL mode so readers do not block the monitor.
func OpenHistory(ctx context.Context, path string) (*History, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, errors.Wrap(err, "failed to create history directory")
		}
	}

	// modernc.org/sqlite uses _pragma=name(value) syntax
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open history")
	}

	// One connection, so that an in-memory database is shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create history schema")
	}

	return &History{db: db, now: time.Now}, nil
}

// Write records the event if it is an exited event.
func (h *History) Write(ev procmon.Event) error {
	exited, ok := ev.(*procmon.EventProcessExited)
	if !ok {
		return nil
	}

	_, err := h.db.Exec(
		`INSERT INTO runs (run, file, pid, exit_code, killed, error, duration_ns, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exited.Run, exited.File, exited.PID, exited.ExitCode, exited.Killed,
		exited.Error, int64(exited.Duration), h.now().UnixNano(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to record run")
	}

	return nil
}

// Recent returns up to limit runs, newest first. If file is not empty, only
// runs of that program are returned.
func (h *History) Recent(ctx context.Context, file string, limit int) ([]Run, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT run, file, pid, exit_code, killed, error, duration_ns, ended_at
		 FROM runs
		 WHERE ? = '' OR file = ?
		 ORDER BY ended_at DESC, id DESC
		 LIMIT ?`,
		file, file, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query history")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var duration, ended int64

		if err := rows.Scan(
			&r.Run, &r.File, &r.PID, &r.ExitCode, &r.Killed,
			&r.Error, &duration, &ended); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}

		r.Duration = time.Duration(duration)
		r.Ended = time.Unix(0, ended)
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read history")
	}

	return runs, nil
}

// Close closes the database. It is safe to call Close multiple times.
func (h *History) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.db.Close()
	})
	return h.closeErr
}
