// Package storage re-exports the storage adapter abstractions and selects a
// backend implementation from configuration.
package storage

import (
	"context"
	"fmt"

	"simplepersist/internal/infra/storage/fs"
	"simplepersist/internal/infra/storage/memory"
	"simplepersist/internal/infra/storage/postgres"
	"simplepersist/internal/infra/storage/s3"
	"simplepersist/internal/infra/storage/sqlite"
	"simplepersist/internal/storage/core"
)

type (
	// Driver identifies a storage backend driver.
	Driver = core.Driver
	// Kind is the storage kind (kv or collection).
	Kind = core.Kind
	// Location names one (kind, store name, tenant) triple.
	Location = core.Location
	// Adapter is a key/value handle scoped to one Location.
	Adapter = core.Adapter
	// Opener initializes adapters for locations.
	Opener = core.Opener
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverMemory     = core.DriverMemory
	DriverSQLite     = core.DriverSQLite
	DriverPostgres   = core.DriverPostgres
	DriverS3         = core.DriverS3

	KindKeyValue   = core.KindKeyValue
	KindCollection = core.KindCollection
)

// ErrClosed is returned by adapters used after Close.
var ErrClosed = core.ErrClosed

// Options selects and configures a backend.
type Options struct {
	Driver      Driver
	BaseDir     string // fs and sqlite root (default .data)
	PostgresDSN string
	S3          s3.Config
	// HandleCache bounds the number of open adapters kept between calls.
	// Zero reopens a fresh adapter for every operation.
	HandleCache int
}

// Open builds the opener described by opts, wrapped in a handle cache when
// opts.HandleCache is positive. Defaults to the filesystem driver.
func Open(ctx context.Context, opts Options) (Opener, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	var (
		base Opener
		err  error
	)
	switch driver {
	case DriverFilesystem:
		base, err = fs.New(opts.BaseDir)
	case DriverMemory:
		base = memory.New()
	case DriverSQLite:
		base, err = sqlite.New(opts.BaseDir)
	case DriverPostgres:
		base, err = postgres.New(ctx, opts.PostgresDSN)
	case DriverS3:
		base, err = s3.New(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
	if err != nil {
		return nil, err
	}
	if opts.HandleCache <= 0 {
		return base, nil
	}
	cached, err := NewCachedOpener(base, opts.HandleCache)
	if err != nil {
		return nil, err
	}
	return cached, nil
}
