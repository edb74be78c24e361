package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS request_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at INTEGER NOT NULL,
	kind TEXT NOT NULL,
	texts INTEGER NOT NULL DEFAULT 0,
	latency_us INTEGER NOT NULL,
	success INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS request_log_at_idx ON request_log(at);
`

// SQLiteStore persists entries in a SQLite request log so summaries survive
// daemon restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the request log at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create metrics schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_log (at, kind, texts, latency_us, success, error) VALUES (?, ?, ?, ?, ?, ?)`,
		unixNano(e.At), e.Kind, e.Texts, e.Latency.Microseconds(), e.Success, e.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Summary(ctx context.Context, since time.Time) (Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT texts, latency_us, success FROM request_log WHERE at >= ?`, unixNano(since))
	if err != nil {
		return Summary{Since: since}, fmt.Errorf("failed to query request log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			latencyUs int64
		)
		if err := rows.Scan(&e.Texts, &latencyUs, &e.Success); err != nil {
			return Summary{Since: since}, fmt.Errorf("failed to scan request log: %w", err)
		}
		e.Latency = time.Duration(latencyUs) * time.Microsecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return Summary{Since: since}, err
	}
	return summarize(since, entries), nil
}

func (s *SQLiteStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_log WHERE at < ?`, unixNano(before))
	if err != nil {
		return 0, fmt.Errorf("failed to clean request log: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Recorder = (*SQLiteStore)(nil)

// unixNano clamps times before the epoch, including the zero time, to 0.
func unixNano(t time.Time) int64 {
	if t.Before(time.Unix(0, 0)) {
		return 0
	}
	return t.UnixNano()
}
