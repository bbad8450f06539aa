package tagstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schema string

// SQLiteStore persists the index in a SQLite database
type SQLiteStore struct {
	*index
	db  *sql.DB
	log *logrus.Entry
}

// NewSQLite opens (or creates) the database at dbPath. A file that is not a
// usable database is moved to <dbPath>.corrupt and replaced by an empty one.
func NewSQLite(dbPath string, log *logrus.Entry) (*SQLiteStore, error) {
	db, err := openDB(dbPath)
	if isCorrupt(err) {
		aside := dbPath + ".corrupt"
		log.WithError(err).WithFields(logrus.Fields{
			"file":     dbPath,
			"moved_to": aside,
		}).Warn("tag database corrupt, starting empty")
		if err := os.Rename(dbPath, aside); err != nil {
			return nil, fmt.Errorf("move corrupt database: %w", err)
		}
		db, err = openDB(dbPath)
	}
	if err != nil {
		return nil, err
	}

	return &SQLiteStore{index: newIndex(), db: db, log: log}, nil
}

func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

func isCorrupt(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrNotADB || se.Code == sqlite3.ErrCorrupt
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads every file/tag row into memory. Corrupt pages leave the index
// empty without failing.
func (s *SQLiteStore) Load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT path, tag FROM file_tags ORDER BY path, tag")
	if isCorrupt(err) {
		s.log.WithError(err).Warn("tag database corrupt, starting empty")
		s.reset()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()

	m := make(map[string][]string)
	for rows.Next() {
		var path, tag string
		if err := rows.Scan(&path, &tag); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		m[path] = append(m[path], tag)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load tags: %w", err)
	}

	s.replace(m)
	return nil
}

// Save replaces all rows with the in-memory mapping in one transaction
func (s *SQLiteStore) Save(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM file_tags"); err != nil {
		return fmt.Errorf("clear file tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files"); err != nil {
		return fmt.Errorf("clear files: %w", err)
	}

	now := time.Now()
	for path, tags := range s.snapshot() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO files (path, updated_at) VALUES (?, ?)",
			path, now,
		); err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
		for _, tag := range tags {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO file_tags (path, tag) VALUES (?, ?)",
				path, tag,
			); err != nil {
				return fmt.Errorf("insert file tag: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tags: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
