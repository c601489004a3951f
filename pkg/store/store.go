// Package store owns the SQLite database that records sync state, perceptual
// hashes and thumbnails.
//
// A *Store is opened once per process and handed to every stage that needs
// it; there is no package-level handle. The duplicate and thumbnail
// packages reach their tables through DB().
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/pdxmph/goopho/pkg/phash"
)

// DriverName is the database/sql driver registered by this package. It is
// the stock mattn driver plus a hamming(a, b) SQL function.
const DriverName = "sqlite3_goopho"

// MemoryPath opens a private in-memory database, mostly for tests.
const MemoryPath = ":memory:"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("hamming", hamming, true)
		},
	})
}

// hamming is the SQL side of phash.Distance. Hashes are stored as the
// signed image of their bits, so the conversion back is lossless.
func hamming(a, b int64) int {
	return phash.Distance(uint64(a), uint64(b))
}

// Store is the persistent sync-state and duplicate store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and brings its schema
// up to date.
func Open(path string) (*Store, error) {
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
	}

	db, err := sql.Open(DriverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.Ping(); err != nil {
		closeQuietly(db)
		return nil, Wrap("ping", err)
	}

	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	slog.Debug("store opened", "path", path)
	return s, nil
}

// dsn builds the mattn connection string. Pragmas given here are applied to
// every pooled connection, which matters for foreign_keys.
func dsn(path string) string {
	params := "_foreign_keys=on&_busy_timeout=5000&_synchronous=NORMAL"
	if path != MemoryPath {
		params += "&_journal_mode=WAL"
	}
	return path + "?" + params
}

func closeQuietly(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Error("Failed to close database", "error", err)
	}
}

// init creates the database schema
func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS image (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mtime TEXT NOT NULL,
		url TEXT NOT NULL,
		inserted TEXT NOT NULL,
		UNIQUE (mtime, url)
	);

	CREATE INDEX IF NOT EXISTS idx_image_url ON image(url);

	-- No foreign key: hash history outlives its image row until pruned.
	CREATE TABLE IF NOT EXISTS dhash (
		image_id INTEGER PRIMARY KEY,
		dhash INTEGER NOT NULL,
		inserted TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dhash_inserted ON dhash(inserted);

	CREATE TABLE IF NOT EXISTS thumbnail (
		image_id INTEGER PRIMARY KEY
			REFERENCES image(id) ON DELETE CASCADE ON UPDATE RESTRICT,
		base64 TEXT NOT NULL,
		inserted TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return Wrap("create schema", err)
	}
	return nil
}

// DB returns the underlying handle for the packages that own the other
// tables.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats summarizes the store contents.
type Stats struct {
	Images        int64     `json:"images"`
	Hashes        int64     `json:"hashes"`
	Thumbnails    int64     `json:"thumbnails"`
	OrphanHashes  int64     `json:"orphan_hashes"`
	OldestMTime   time.Time `json:"oldest_mtime,omitempty"`
	NewestMTime   time.Time `json:"newest_mtime,omitempty"`
	SQLiteVersion string    `json:"sqlite_version"`
	FileSizeBytes int64     `json:"file_size_bytes,omitempty"`
}

// Stats returns row counts and a few facts about the database file.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM image`, &st.Images},
		{`SELECT COUNT(*) FROM dhash`, &st.Hashes},
		{`SELECT COUNT(*) FROM thumbnail`, &st.Thumbnails},
		{`SELECT COUNT(*) FROM dhash WHERE image_id NOT IN (SELECT id FROM image)`, &st.OrphanHashes},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, Wrap("stats", err)
		}
	}

	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MIN(mtime), MAX(mtime) FROM image`).Scan(&oldest, &newest)
	if err != nil {
		return nil, Wrap("stats", err)
	}
	if oldest.Valid {
		if st.OldestMTime, err = ParseTime(oldest.String); err != nil {
			return nil, Wrap("stats", err)
		}
	}
	if newest.Valid {
		if st.NewestMTime, err = ParseTime(newest.String); err != nil {
			return nil, Wrap("stats", err)
		}
	}

	if err := s.db.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&st.SQLiteVersion); err != nil {
		return nil, Wrap("stats", err)
	}

	if s.path != MemoryPath {
		if info, err := os.Stat(s.path); err == nil {
			st.FileSizeBytes = info.Size()
		}
	}

	return &st, nil
}

// Vacuum reclaims space left behind by Forget and pruning.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return Wrap("vacuum", err)
}

// DefaultPath returns the default database path
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "goopho", "goopho.db")
}
