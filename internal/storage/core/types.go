// Package core defines the driver-neutral storage adapter abstractions used
// by the key/value and collection services.
package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Driver identifies a concrete storage backend implementation.
type Driver string

const (
	// DriverFilesystem stores one JSON file per key under a directory.
	DriverFilesystem Driver = "fs" // local filesystem (default, dev)
	// DriverMemory keeps everything in process memory.
	DriverMemory Driver = "memory" // in-memory (tests)
	// DriverSQLite keeps one embedded database file per location directory.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres keeps every location in one shared PostgreSQL table.
	DriverPostgres Driver = "postgres"
	// DriverS3 maps keys onto objects of an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
)

// Kind is the storage kind a location belongs to.
type Kind string

const (
	KindKeyValue   Kind = "kv"
	KindCollection Kind = "collection"
)

// Location names one (kind, store name, tenant) triple.
type Location struct {
	Kind   Kind
	Name   string
	Tenant string
}

// Validate rejects segments that would escape or collapse the directory layout.
func (l Location) Validate() error {
	switch l.Kind {
	case KindKeyValue, KindCollection:
	default:
		return fmt.Errorf("invalid storage kind %q", l.Kind)
	}
	if err := validSegment("name", l.Name); err != nil {
		return err
	}
	return validSegment("tenant", l.Tenant)
}

// Path returns the slash separated relative path kind/name/tenant.
func (l Location) Path() string {
	return string(l.Kind) + "/" + l.Name + "/" + l.Tenant
}

// Dir returns the location directory under base.
func (l Location) Dir(base string) string {
	return filepath.Join(base, string(l.Kind), l.Name, l.Tenant)
}

func (l Location) String() string { return l.Path() }

func validSegment(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("empty %s", field)
	}
	if v == "." || v == ".." {
		return fmt.Errorf("invalid %s %q", field, v)
	}
	if strings.ContainsAny(v, "/\\\x00") {
		return fmt.Errorf("invalid %s %q contains a path separator", field, v)
	}
	return nil
}

// Adapter is a key/value store scoped to one Location. Values are opaque
// serialized documents (JSON in practice).
type Adapter interface {
	// Keys returns every stored key in ascending order.
	Keys(ctx context.Context) ([]string, error)
	// Get returns the value and true, or false when the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set creates or replaces the value at key.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Close releases the handle. Data stays persisted.
	Close() error
	// Driver returns the backend driver identifier.
	Driver() Driver
}

// Opener initializes adapters for locations, creating backing storage on
// first access.
type Opener interface {
	Open(ctx context.Context, loc Location) (Adapter, error)
	Driver() Driver
}

// ErrClosed is returned by adapters used after Close.
var ErrClosed = errors.New("storage: adapter closed")
