// Package fs implements the storage adapter on the local filesystem. Every
// key becomes one JSON file inside the location directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"simplepersist/internal/storage/core"
)

const fileSuffix = ".json"

var (
	_ core.Opener  = (*Opener)(nil)
	_ core.Adapter = (*Store)(nil)
)

// Opener creates filesystem adapters rooted under a base directory.
type Opener struct {
	root string
}

// New returns an opener rooted at path, creating it if needed.
func New(root string) (*Opener, error) {
	if root == "" {
		root = ".data"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Opener{root: root}, nil
}

// Root returns the configured base directory.
func (o *Opener) Root() string { return o.root }

func (o *Opener) Driver() core.Driver { return core.DriverFilesystem }

// Open creates the location directory when absent and returns an adapter on it.
func (o *Opener) Open(_ context.Context, loc core.Location) (core.Adapter, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	dir := loc.Dir(o.root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", loc, err)
	}
	return &Store{dir: dir}, nil
}

// Store implements core.Adapter for one directory. Writes land through a temp
// file and rename, so readers never observe a half written value.
type Store struct {
	dir    string
	mu     sync.RWMutex
	closed bool
}

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Dir returns the directory backing the adapter.
func (s *Store) Dir() string { return s.dir }

func (s *Store) pathFor(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	return filepath.Join(s.dir, url.PathEscape(key)+fileSuffix), nil
}

func (s *Store) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, core.ErrClosed
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			// foreign file, not one of ours
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, core.ErrClosed
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrClosed
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) Remove(_ context.Context, key string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrClosed
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
