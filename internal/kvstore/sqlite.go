package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a [Store] backed by a single SQLite table. Expiry is
// stored as a unix-nanosecond deadline; rows past it are invisible to
// reads and are deleted by [SQLiteStore.Sweep].
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath. The schema
// is created automatically on first use.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: in-process writers queue on the pool instead of
	// racing for the WAL write lock.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_entries (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		version    INTEGER NOT NULL,
		expires_at INTEGER,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_kv_entries_expires ON kv_entries(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// deadline converts a TTL into the stored expires_at value. Zero TTL
// stores NULL (never expires).
func (s *SQLiteStore) deadline(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: s.now().Add(ttl).UnixNano(), Valid: true}
}

func (s *SQLiteStore) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var e Entry
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version FROM kv_entries
		 WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.now().UnixNano(),
	).Scan(&e.Value, &e.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	return e, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO kv_entries (key, value, version, expires_at, updated_at)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT (key) DO UPDATE
		 SET value = excluded.value,
		     version = kv_entries.version + 1,
		     expires_at = excluded.expires_at,
		     updated_at = excluded.updated_at
		 RETURNING version`,
		key, value, s.deadline(ttl), s.stamp(),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("set %s: %w", key, err)
	}
	return version, nil
}

func (s *SQLiteStore) CompareAndSwap(ctx context.Context, key, value string, version int64, ttl time.Duration) (int64, error) {
	now := s.now().UnixNano()
	var row *sql.Row
	if version == 0 {
		// Insert, or take over a row that has expired. A live row makes
		// the upsert's WHERE false and RETURNING yields nothing.
		row = s.db.QueryRowContext(ctx,
			`INSERT INTO kv_entries (key, value, version, expires_at, updated_at)
			 VALUES (?, ?, 1, ?, ?)
			 ON CONFLICT (key) DO UPDATE
			 SET value = excluded.value,
			     version = kv_entries.version + 1,
			     expires_at = excluded.expires_at,
			     updated_at = excluded.updated_at
			 WHERE kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= ?
			 RETURNING version`,
			key, value, s.deadline(ttl), s.stamp(), now,
		)
	} else {
		row = s.db.QueryRowContext(ctx,
			`UPDATE kv_entries
			 SET value = ?, version = version + 1, expires_at = ?, updated_at = ?
			 WHERE key = ? AND version = ? AND (expires_at IS NULL OR expires_at > ?)
			 RETURNING version`,
			value, s.deadline(ttl), s.stamp(), key, version, now,
		)
	}

	var next int64
	err := row.Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrVersionConflict
	}
	if err != nil {
		return 0, fmt.Errorf("compare-and-swap %s: %w", key, err)
	}
	return next, nil
}

// Sweep deletes expired rows and returns how many were removed.
func (s *SQLiteStore) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		s.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	return res.RowsAffected()
}
