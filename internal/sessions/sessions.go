// Package sessions persists the last known delivery destination per
// session key. The watch core consults it to answer "where did we last
// reach this user", and records successful deliveries back into it.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"panewatch/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_routes (
	session_key TEXT PRIMARY KEY,
	channel     TEXT NOT NULL,
	target      TEXT NOT NULL,
	account_id  TEXT NOT NULL DEFAULT '',
	thread_id   TEXT NOT NULL DEFAULT '',
	label       TEXT NOT NULL DEFAULT '',
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_routes_updated
	ON session_routes(updated_at DESC);
`

// Route is the most recent known delivery destination for a session.
type Route struct {
	SessionKey string
	Channel    string
	Target     string
	AccountID  string
	ThreadID   string
	Label      string
	UpdatedAt  time.Time
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(path string, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sessions db path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LastRoute returns the route for a session key, or nil when none is known.
func (s *Store) LastRoute(ctx context.Context, sessionKey string) (*Route, error) {
	sessionKey = strings.TrimSpace(sessionKey)
	if sessionKey == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT session_key, channel, target, account_id, thread_id, label, updated_at
		 FROM session_routes WHERE session_key = ?`, sessionKey)
	r, err := scanRoute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RecentRoutes returns known routes ordered most recently updated first.
// A limit <= 0 returns every route.
func (s *Store) RecentRoutes(ctx context.Context, limit int) ([]Route, error) {
	if limit <= 0 {
		// SQLite reads a negative LIMIT as unbounded.
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_key, channel, target, account_id, thread_id, label, updated_at
		 FROM session_routes ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// RecordRoute upserts the destination for a session key.
func (s *Store) RecordRoute(ctx context.Context, r Route) error {
	r.SessionKey = strings.TrimSpace(r.SessionKey)
	r.Channel = strings.ToLower(strings.TrimSpace(r.Channel))
	r.Target = strings.TrimSpace(r.Target)
	if r.SessionKey == "" || r.Channel == "" || r.Target == "" {
		return nil
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_routes(session_key, channel, target, account_id, thread_id, label, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(session_key) DO UPDATE SET
			channel=excluded.channel, target=excluded.target,
			account_id=excluded.account_id, thread_id=excluded.thread_id,
			label=excluded.label, updated_at=excluded.updated_at`,
		r.SessionKey, r.Channel, r.Target, r.AccountID, r.ThreadID, r.Label, r.UpdatedAt.UnixMilli())
	return err
}

type scanner interface {
	Scan(dst ...any) error
}

func scanRoute(sc scanner) (*Route, error) {
	var r Route
	var ms int64
	if err := sc.Scan(&r.SessionKey, &r.Channel, &r.Target, &r.AccountID, &r.ThreadID, &r.Label, &ms); err != nil {
		return nil, err
	}
	r.UpdatedAt = time.UnixMilli(ms)
	return &r, nil
}
