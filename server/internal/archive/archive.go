// Package archive keeps finished and replaced sessions in a sqlite database
// so they can be listed after the live store has moved on.
//
// Each session is one row keyed by session id. Save is an upsert: a session
// archived when it was replaced and again when it closed keeps only the
// latest copy. The full View is stored as JSON next to a few summary columns
// used for listing.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/probewatch/probewatch/server/internal/store"
)

// ErrNotFound is returned by Get for an unknown session id.
var ErrNotFound = errors.New("archive: session not found")

// Record is one archived session without its results.
type Record struct {
	SessionID   string        `json:"session_id"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Terminal    bool          `json:"terminal"`
	Summary     store.Summary `json:"summary"`
	SavedAt     time.Time     `json:"saved_at"`
}

// Archive is a sqlite-backed session archive. It is safe for concurrent use.
type Archive struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
}

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id   TEXT PRIMARY KEY,
		started_at   INTEGER NOT NULL,
		completed_at INTEGER,
		terminal     INTEGER NOT NULL,
		total        INTEGER NOT NULL,
		completed    INTEGER NOT NULL,
		success      INTEGER NOT NULL,
		failed       INTEGER NOT NULL,
		saved_at     INTEGER NOT NULL,
		data         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS sessions_started ON sessions (started_at);
`

// Open opens (creating if needed) the database at path. Sessions started
// more than retention ago are pruned on every Save; zero keeps everything.
func Open(ctx context.Context, path string, retention time.Duration) (*Archive, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("archive: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open database: %w", err)
	}
	// sqlite allows one writer; serialise instead of retrying on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("archive: create table: %w", err)
	}

	return &Archive{db: db, retention: retention, now: time.Now}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Save stores v, replacing any earlier copy of the same session.
func (a *Archive) Save(ctx context.Context, v store.View) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("archive: encode session: %w", err)
	}

	var completed sql.NullInt64
	if v.CompletedAt != nil {
		completed = sql.NullInt64{Int64: v.CompletedAt.UnixNano(), Valid: true}
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions
			(session_id, started_at, completed_at, terminal, total, completed, success, failed, saved_at, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.StartedAt.UnixNano(), completed, v.Terminal,
		v.Summary.Total, v.Summary.Completed, v.Summary.Success, v.Summary.Failed,
		a.now().UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("archive: save session %s: %w", v.ID, err)
	}
	slog.Debug("archive: session saved", "session", v.ID, "terminal", v.Terminal)

	if a.retention > 0 {
		if n, err := a.Prune(ctx, a.now().Add(-a.retention)); err != nil {
			slog.Warn("archive: prune failed", "err", err)
		} else if n > 0 {
			slog.Info("archive: pruned old sessions", "count", n)
		}
	}
	return nil
}

// List returns up to limit sessions, newest first. limit <= 0 means all.
func (a *Archive) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT session_id, started_at, completed_at, terminal, saved_at, data
		   FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			rec            Record
			started, saved int64
			completed      sql.NullInt64
			data           string
			view           store.View
		)
		if err := rows.Scan(&rec.SessionID, &started, &completed, &rec.Terminal, &saved, &data); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &view); err != nil {
			return nil, fmt.Errorf("archive: decode session %s: %w", rec.SessionID, err)
		}
		rec.StartedAt = time.Unix(0, started).UTC()
		rec.SavedAt = time.Unix(0, saved).UTC()
		if completed.Valid {
			t := time.Unix(0, completed.Int64).UTC()
			rec.CompletedAt = &t
		}
		rec.Summary = view.Summary
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get returns the archived copy of one session including its results.
func (a *Archive) Get(ctx context.Context, id string) (store.View, error) {
	var data string
	err := a.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE session_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.View{}, ErrNotFound
	}
	if err != nil {
		return store.View{}, fmt.Errorf("archive: get %s: %w", id, err)
	}
	var v store.View
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return store.View{}, fmt.Errorf("archive: decode session %s: %w", id, err)
	}
	return v, nil
}

// Prune deletes sessions started before cutoff and returns how many went.
func (a *Archive) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("archive: prune: %w", err)
	}
	return res.RowsAffected()
}
