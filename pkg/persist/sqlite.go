package persist

import (
	"database/sql"
	"fmt"

	"github.com/warpdl/proxydl/pkg/logger"
	"github.com/warpdl/proxydl/pkg/taskq"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache (
    pos           INTEGER PRIMARY KEY,
    url           TEXT    NOT NULL,
    name          TEXT    NOT NULL DEFAULT '',
    password      TEXT    NOT NULL DEFAULT '',
    resume_offset INTEGER NOT NULL DEFAULT 0
)`

// SQLiteStore keeps the cache in a SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	secrets Secrets
	keys    keySet
	log     logger.Logger
}

// OpenSQLite opens or creates the cache database at path.
func OpenSQLite(path string, secrets Secrets, l logger.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open cache database: %w", ErrPersistence, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create cache schema: %w", ErrPersistence, err)
	}
	return &SQLiteStore{db: db, secrets: secrets, log: logger.OrNop(l)}, nil
}

// LoadCache returns the stored entries in their saved order. Read errors
// are logged and yield an empty list.
func (s *SQLiteStore) LoadCache() []taskq.CacheEntry {
	rows, err := s.db.Query(`SELECT url, name, password, resume_offset FROM cache ORDER BY pos`)
	if err != nil {
		s.log.Warning("persist: query cache: %v", err)
		return []taskq.CacheEntry{}
	}
	defer rows.Close()

	entries := []taskq.CacheEntry{}
	for rows.Next() {
		var e taskq.CacheEntry
		if err := rows.Scan(&e.URL, &e.DisplayName, &e.Password, &e.ResumeOffset); err != nil {
			s.log.Warning("persist: scan cache row: %v", err)
			return []taskq.CacheEntry{}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		s.log.Warning("persist: iterate cache rows: %v", err)
		return []taskq.CacheEntry{}
	}
	if err := fillPasswords(s.secrets, &s.keys, entries); err != nil {
		s.log.Warning("persist: restore cached passwords: %v", err)
	}
	return entries
}

// SaveCache replaces the stored entries in one transaction.
func (s *SQLiteStore) SaveCache(entries []taskq.CacheEntry) error {
	entries, kept, err := stashPasswords(s.secrets, entries)
	if err != nil {
		return fmt.Errorf("%w: stash passwords: %w", ErrPersistence, err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrPersistence, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cache`); err != nil {
		return fmt.Errorf("%w: clear cache: %w", ErrPersistence, err)
	}
	stmt, err := tx.Prepare(`INSERT INTO cache (pos, url, name, password, resume_offset) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %w", ErrPersistence, err)
	}
	defer stmt.Close()
	for i, e := range entries {
		if _, err := stmt.Exec(i, e.URL, e.DisplayName, e.Password, e.ResumeOffset); err != nil {
			return fmt.Errorf("%w: insert %s: %w", ErrPersistence, e.URL, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrPersistence, err)
	}
	if err := forgetPasswords(s.secrets, &s.keys, kept); err != nil {
		s.log.Warning("persist: delete stale passwords: %v", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
