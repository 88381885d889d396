// Package postgres implements the storage adapter on a shared PostgreSQL
// table, namespacing rows by location path.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"simplepersist/internal/storage/core"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/simplepersist?sslmode=disable"
)

var (
	_ core.Opener  = (*Opener)(nil)
	_ core.Adapter = (*Store)(nil)
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Opener shares one connection pool across all locations.
type Opener struct {
	db *sql.DB
}

// New opens the pool for dsn (falls back to defaultDSN) and ensures the kv table exists.
func New(ctx context.Context, dsn string) (*Opener, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Opener{db: db}, nil
}

func ensureTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS kv (
		location TEXT NOT NULL,
		key TEXT NOT NULL,
		payload JSONB NOT NULL,
		PRIMARY KEY (location, key)
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure kv table: %w", err)
	}
	return nil
}

func (o *Opener) Driver() core.Driver { return core.DriverPostgres }

// DB exposes the underlying sql.DB for integration testing hooks.
func (o *Opener) DB() *sql.DB { return o.db }

// Close releases the pool. Adapters opened from it stop working.
func (o *Opener) Close() error { return o.db.Close() }

// Open returns an adapter scoped to loc. No rows are created until the first Set.
func (o *Opener) Open(_ context.Context, loc core.Location) (core.Adapter, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	return &Store{db: o.db, location: loc.Path()}, nil
}

// Store implements core.Adapter for one location inside the shared table.
type Store struct {
	db       *sql.DB
	location string
}

func (s *Store) Driver() core.Driver { return core.DriverPostgres }

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv WHERE location = $1 ORDER BY key`, s.location)
	if err != nil {
		return nil, fmt.Errorf("select keys: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM kv WHERE location = $1 AND key = $2`, s.location, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select %s: %w", key, err)
	}
	return payload, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if !json.Valid(value) {
		return fmt.Errorf("upsert %s: payload is not valid json", key)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO kv(location,key,payload) VALUES($1,$2,$3) ON CONFLICT(location,key) DO UPDATE SET payload=EXCLUDED.payload`, s.location, key, value); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE location = $1 AND key = $2`, s.location, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the Opener.
func (s *Store) Close() error { return nil }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
