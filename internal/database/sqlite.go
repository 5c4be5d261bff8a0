package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"clipsave/internal/autosave"
	"clipsave/internal/database/migrations"
	"clipsave/internal/history"
)

// SQLiteStore persists history events in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ history.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens path (or ":memory:") and migrates it to the latest
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// OpenConnection opens a SQLite connection with the PRAGMAs the store
// relies on. An in-memory database is pinned to one connection, since
// each connection would otherwise see its own empty database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}
	return db, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, e autosave.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (id, created_at, category, level, message) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Time.UnixNano(), e.Category.String(), e.Level.String(), e.Message)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]autosave.Event, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, category, level, message FROM history
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var events []autosave.Event
	for rows.Next() {
		var (
			e               autosave.Event
			nanos           int64
			category, level string
		)
		if err := rows.Scan(&e.ID, &nanos, &category, &level, &e.Message); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Time = time.Unix(0, nanos)
		if e.Category, err = autosave.ParseCategory(category); err != nil {
			return nil, err
		}
		if e.Level, err = autosave.ParseLevel(level); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history rows: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) Trim(ctx context.Context, keep int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE rowid NOT IN (
			SELECT rowid FROM history ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("trimming history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
