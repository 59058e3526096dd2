// Package history keeps a local ledger of evaluation and remediation
// runs so operators can answer "when was this host last scanned, and
// with what" without digging through report directories.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const defaultLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at         TIMESTAMP NOT NULL,
	host       TEXT NOT NULL,
	verb       TEXT NOT NULL,
	profile    TEXT NOT NULL DEFAULT '',
	datastream TEXT NOT NULL DEFAULT '',
	strategy   TEXT NOT NULL DEFAULT '',
	fidelity   TEXT NOT NULL DEFAULT '',
	exit_code  INTEGER NOT NULL DEFAULT 0,
	compliant  INTEGER NOT NULL DEFAULT 0,
	report     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_host_at ON runs(host, at);
`

// Entry is one recorded run.
type Entry struct {
	ID         int64
	At         time.Time
	Host       string
	Verb       string
	Profile    string
	Datastream string
	Strategy   string
	Fidelity   string
	ExitCode   int
	Compliant  bool
	Report     string
}

// Store is the ledger handle. Safe for use from one process; the busy
// timeout covers the occasional overlapping CLI invocation.
type Store struct {
	db  *sql.DB
	Log zerolog.Logger
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %v", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing ledger %s: %v", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one run and returns its id. A zero At becomes now.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (at, host, verb, profile, datastream, strategy, fidelity, exit_code, compliant, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At, e.Host, e.Verb, e.Profile, e.Datastream, e.Strategy, e.Fidelity,
		e.ExitCode, e.Compliant, e.Report)
	if err != nil {
		return 0, fmt.Errorf("recording run: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.Log.Debug().Int64("id", id).Str("host", e.Host).Str("verb", e.Verb).
		Msg("run recorded")
	return id, nil
}

// Recent returns up to limit runs, newest first. limit <= 0 uses the
// default of 50.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, host, verb, profile, datastream, strategy, fidelity, exit_code, compliant, report
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %v", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.At, &e.Host, &e.Verb, &e.Profile, &e.Datastream,
			&e.Strategy, &e.Fidelity, &e.ExitCode, &e.Compliant, &e.Report); err != nil {
			return nil, fmt.Errorf("reading ledger row: %v", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastForHost returns the most recent run for one host, or false when
// the host has never been recorded.
func (s *Store) LastForHost(ctx context.Context, host string) (Entry, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, host, verb, profile, datastream, strategy, fidelity, exit_code, compliant, report
		FROM runs WHERE host = ? ORDER BY id DESC LIMIT 1`, host)
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading ledger: %v", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return Entry{}, false, rows.Err()
	}
	var e Entry
	if err := rows.Scan(&e.ID, &e.At, &e.Host, &e.Verb, &e.Profile, &e.Datastream,
		&e.Strategy, &e.Fidelity, &e.ExitCode, &e.Compliant, &e.Report); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}
