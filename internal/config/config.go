// Package config loads the persistd configuration from a YAML file and
// SIMPLEPERSIST_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"simplepersist/internal/infra/storage/s3"
	"simplepersist/internal/persist"
	"simplepersist/internal/storage"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SIMPLEPERSIST_"

const (
	defaultListen      = ":8080"
	defaultBaseDir     = ".data"
	defaultHandleCache = 64
)

// Config is the full process configuration.
type Config struct {
	Listen  string  `yaml:"listen"`
	Storage Storage `yaml:"storage"`
	Log     Log     `yaml:"log"`
	Stores  []Store `yaml:"stores"`
}

// Storage selects and configures the storage backend.
type Storage struct {
	Driver      string `yaml:"driver"`
	BaseDir     string `yaml:"base_dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
	S3          S3     `yaml:"s3"`
	HandleCache int    `yaml:"handle_cache"`
}

// S3 configures the s3 driver.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	Prefix    string `yaml:"prefix"`
	PathStyle bool   `yaml:"path_style"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Store declares one mounted store.
type Store struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // kv|collection
	// Path is the HTTP mount prefix, /api/<name> when empty.
	Path string `yaml:"path"`
	// Validation is an optional expr-lang predicate.
	Validation string `yaml:"validation"`
	// TenantQuery names the query parameter carrying the tenant. Empty means
	// every request uses the default tenant.
	TenantQuery string `yaml:"tenant_query"`
}

// MountPath returns the HTTP prefix of the store.
func (s Store) MountPath() string {
	if s.Path != "" {
		return "/" + strings.Trim(s.Path, "/")
	}
	return "/api/" + s.Name
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Listen: defaultListen,
		Storage: Storage{
			Driver:      string(storage.DriverFilesystem),
			BaseDir:     defaultBaseDir,
			HandleCache: defaultHandleCache,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads path (skipped when empty), overlays the environment and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode parses YAML onto cfg, rejecting unknown fields.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// applyEnv overlays SIMPLEPERSIST_* variables found through lookup.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("LISTEN", &cfg.Listen)
	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("BASE_DIR", &cfg.Storage.BaseDir)
	str("POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("S3_REGION", &cfg.Storage.S3.Region)
	str("S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	str("S3_PREFIX", &cfg.Storage.S3.Prefix)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	if v, ok := lookup(EnvPrefix + "S3_PATH_STYLE"); ok && v != "" {
		cfg.Storage.S3.PathStyle = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := lookup(EnvPrefix + "HANDLE_CACHE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sHANDLE_CACHE: %w", EnvPrefix, err)
		}
		cfg.Storage.HandleCache = n
	}
	return nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	switch storage.Driver(c.Storage.Driver) {
	case storage.DriverFilesystem, storage.DriverMemory, storage.DriverSQLite, storage.DriverPostgres:
	case storage.DriverS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Storage.HandleCache < 0 {
		errs = append(errs, fmt.Errorf("storage.handle_cache: must not be negative, got %d", c.Storage.HandleCache))
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", f))
	}

	names := map[string]bool{}
	paths := map[string]bool{}
	for i, s := range c.Stores {
		field := fmt.Sprintf("stores[%d]", i)
		// kind is reported separately below
		loc := storage.Location{Kind: storage.KindKeyValue, Name: s.Name, Tenant: persist.DefaultTenant}
		if err := loc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s.name: %w", field, err))
		}
		if names[s.Name] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate store %q", field, s.Name))
		}
		names[s.Name] = true
		if p := s.MountPath(); paths[p] {
			errs = append(errs, fmt.Errorf("%s.path: %s is already mounted", field, p))
		} else {
			paths[p] = true
		}
		switch storage.Kind(s.Kind) {
		case storage.KindKeyValue:
			if s.Validation != "" {
				if _, err := persist.CompileKeyValueRule(s.Validation); err != nil {
					errs = append(errs, fmt.Errorf("%s.validation: %w", field, err))
				}
			}
		case storage.KindCollection:
			if s.Validation != "" {
				if _, err := persist.CompileCollectionRule(s.Validation); err != nil {
					errs = append(errs, fmt.Errorf("%s.validation: %w", field, err))
				}
			}
		default:
			errs = append(errs, fmt.Errorf("%s.kind: must be kv or collection, got %q", field, s.Kind))
		}
	}
	return errors.Join(errs...)
}

// StorageOptions converts the storage section for storage.Open.
func (c Config) StorageOptions() storage.Options {
	return storage.Options{
		Driver:      storage.Driver(c.Storage.Driver),
		BaseDir:     c.Storage.BaseDir,
		PostgresDSN: c.Storage.PostgresDSN,
		S3: s3.Config{
			Region:    c.Storage.S3.Region,
			Bucket:    c.Storage.S3.Bucket,
			Endpoint:  c.Storage.S3.Endpoint,
			Prefix:    c.Storage.S3.Prefix,
			PathStyle: c.Storage.S3.PathStyle,
		},
		HandleCache: c.Storage.HandleCache,
	}
}

func (l Log) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the process logger writing to w.
func (l Log) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := l.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
