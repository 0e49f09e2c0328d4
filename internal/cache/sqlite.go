package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS validation_records (
	url          TEXT PRIMARY KEY,
	last_checked INTEGER NOT NULL,
	is_active    INTEGER NOT NULL,
	resolved_url TEXT NOT NULL DEFAULT ''
)`

// SQLiteStore keeps records in an embedded SQLite database.
type SQLiteStore struct {
	path string
	mu   sync.Mutex
	db   *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("cache: sqlite store needs a path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{path: path, db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.load(ctx)
	switch {
	case err == nil:
		return records, nil
	case isCorrupt(err):
		if rerr := s.reset(); rerr != nil {
			return nil, fmt.Errorf("cache: reset sqlite %s: %w", s.path, rerr)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	default:
		// Locked, cancelled or I/O failures leave the database in place.
		return nil, fmt.Errorf("cache: load sqlite %s: %w", s.path, err)
	}
}

// isCorrupt reports whether err is SQLite saying the file is damaged or not a
// database at all.
func isCorrupt(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}

func (s *SQLiteStore) load(ctx context.Context) (map[string]Record, error) {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT url, last_checked, is_active, resolved_url FROM validation_records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := make(map[string]Record)
	for rows.Next() {
		var (
			rec    Record
			nanos  int64
			active bool
		)
		if err := rows.Scan(&rec.URL, &nanos, &active, &rec.ResolvedURL); err != nil {
			return nil, err
		}
		rec.LastChecked = time.Unix(0, nanos).UTC()
		rec.Active = active
		records[rec.URL] = rec
	}
	return records, rows.Err()
}

// reset drops a database that could not be read and starts a fresh one.
func (s *SQLiteStore) reset() error {
	s.db.Close()
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)
	s.db = db
	return nil
}

// Save replaces all rows in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, records map[string]Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("cache: sqlite schema: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: sqlite begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM validation_records`); err != nil {
		return fmt.Errorf("cache: sqlite clear: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO validation_records (url, last_checked, is_active, resolved_url) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("cache: sqlite prepare: %w", err)
	}
	defer stmt.Close()
	for url, rec := range records {
		if _, err := stmt.ExecContext(ctx, url, rec.LastChecked.UnixNano(), rec.Active, rec.ResolvedURL); err != nil {
			return fmt.Errorf("cache: sqlite insert %s: %w", url, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: sqlite commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
