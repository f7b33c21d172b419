package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" //nolint:blankimports // SQLite driver

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

// SQLiteFileName is the cache database file created inside data_dir.
const SQLiteFileName = "cache.db"

const sqliteSchema = `CREATE TABLE IF NOT EXISTS detail_cache (
	cve_id     TEXT PRIMARY KEY,
	payload    TEXT    NOT NULL,
	fetched_at INTEGER NOT NULL
)`

type cacheRow struct {
	CVEID     string `db:"cve_id"`
	Payload   string `db:"payload"`
	FetchedAt int64  `db:"fetched_at"`
}

// SQLiteStore persists entries in a SQLite database under data_dir, so the cache
// survives across runs.
type SQLiteStore struct {
	db  *sqlx.DB
	ttl time.Duration
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the cache database at path.
func OpenSQLite(ctx context.Context, path string, ttl time.Duration, opts ...Option) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	// A single connection serialises writers.
	db.SetMaxOpenConns(1)

	store := NewSQLiteStore(db, ttl, opts...)
	if migrateErr := store.Migrate(ctx); migrateErr != nil {
		_ = db.Close()
		return nil, migrateErr
	}
	return store, nil
}

// NewSQLiteStore wraps an existing connection. Call Migrate before first use.
func NewSQLiteStore(db *sqlx.DB, ttl time.Duration, opts ...Option) *SQLiteStore {
	o := applyOptions(opts)
	return &SQLiteStore{db: db, ttl: ttl, now: o.now}
}

// Migrate creates the cache table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create detail_cache table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.DetailPayload, bool, error) {
	var row cacheRow
	query := `SELECT cve_id, payload, fetched_at FROM detail_cache WHERE cve_id = ?`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DetailPayload{}, false, nil
		}
		return domain.DetailPayload{}, false, fmt.Errorf("select cache entry %s: %w", id, err)
	}

	entry := Entry{FetchedAt: time.Unix(0, row.FetchedAt)}
	if !entry.Fresh(s.now(), s.ttl) {
		return domain.DetailPayload{}, false, nil
	}
	if err := json.Unmarshal([]byte(row.Payload), &entry.Payload); err != nil {
		return domain.DetailPayload{}, false, fmt.Errorf("decode cache entry %s: %w", id, err)
	}
	return entry.Payload, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, id string, payload domain.DetailPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", id, err)
	}

	query := `INSERT INTO detail_cache (cve_id, payload, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT (cve_id) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`
	if _, execErr := s.db.ExecContext(ctx, query, id, string(data), s.now().UnixNano()); execErr != nil {
		return fmt.Errorf("upsert cache entry %s: %w", id, execErr)
	}
	return nil
}

// Prune deletes entries older than the TTL and returns how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.ttl).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM detail_cache WHERE fetched_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune detail_cache: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
