// Package memory implements an in-memory storage adapter for tests and
// ephemeral deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"simplepersist/internal/storage/core"
)

var (
	_ core.Opener  = (*Opener)(nil)
	_ core.Adapter = (*Store)(nil)
)

type bucket struct {
	mu   sync.RWMutex
	objs map[string][]byte
}

// Opener hands out adapters over process memory. Data of a location survives
// adapter Close and lives as long as the opener.
type Opener struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// New returns an empty in-memory opener.
func New() *Opener { return &Opener{buckets: make(map[string]*bucket)} }

func (o *Opener) Driver() core.Driver { return core.DriverMemory }

// Open returns an adapter for loc, creating its bucket on first access.
func (o *Opener) Open(_ context.Context, loc core.Location) (core.Adapter, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.buckets[loc.Path()]
	if !ok {
		b = &bucket{objs: make(map[string][]byte)}
		o.buckets[loc.Path()] = b
	}
	return &Store{b: b}, nil
}

// Locations lists every location path opened so far.
func (o *Opener) Locations() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.buckets))
	for k := range o.buckets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Store implements core.Adapter over one in-memory bucket.
type Store struct {
	b      *bucket
	mu     sync.RWMutex
	closed bool
}

func (s *Store) Driver() core.Driver { return core.DriverMemory }

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Keys returns all keys in ascending order.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	if s.isClosed() {
		return nil, core.ErrClosed
	}
	s.b.mu.RLock()
	defer s.b.mu.RUnlock()
	out := make([]string, 0, len(s.b.objs))
	for k := range s.b.objs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Get returns a copy of the stored value.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s.isClosed() {
		return nil, false, core.ErrClosed
	}
	s.b.mu.RLock()
	v, ok := s.b.objs[key]
	s.b.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(v), true, nil
}

// Set stores a copy of value.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if s.isClosed() {
		return core.ErrClosed
	}
	s.b.mu.Lock()
	s.b.objs[key] = cloneBytes(value)
	s.b.mu.Unlock()
	return nil
}

// Remove deletes key if present.
func (s *Store) Remove(_ context.Context, key string) error {
	if s.isClosed() {
		return core.ErrClosed
	}
	s.b.mu.Lock()
	delete(s.b.objs, key)
	s.b.mu.Unlock()
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
