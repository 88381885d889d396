package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedOpener keeps up to size adapters open between calls, keyed by
// location. Callers still Close what they Open; closing a leased handle only
// releases the lease. The underlying adapter is closed once it has been
// evicted and every lease on it is released.
type CachedOpener struct {
	base  Opener
	mu    sync.Mutex
	cache *lru.Cache[string, *sharedHandle]
}

var _ Opener = (*CachedOpener)(nil)

type sharedHandle struct {
	Adapter
	refs    int
	evicted bool
}

// NewCachedOpener wraps base with an LRU of the given size.
func NewCachedOpener(base Opener, size int) (*CachedOpener, error) {
	if size <= 0 {
		return nil, fmt.Errorf("handle cache size must be positive, got %d", size)
	}
	c := &CachedOpener{base: base}
	cache, err := lru.NewWithEvict[string, *sharedHandle](size, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// onEvict runs under c.mu since every cache mutation happens with it held.
func (c *CachedOpener) onEvict(_ string, h *sharedHandle) {
	h.evicted = true
	if h.refs == 0 {
		_ = h.Adapter.Close()
	}
}

func (c *CachedOpener) Driver() Driver { return c.base.Driver() }

// Open returns a lease on the cached adapter for loc, opening it on a miss.
func (c *CachedOpener) Open(ctx context.Context, loc Location) (Adapter, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	key := loc.Path()
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.cache.Get(key)
	if !ok {
		a, err := c.base.Open(ctx, loc)
		if err != nil {
			return nil, err
		}
		h = &sharedHandle{Adapter: a}
		c.cache.Add(key, h)
	}
	h.refs++
	return &lease{owner: c, h: h}, nil
}

// Len reports how many adapters are currently cached.
func (c *CachedOpener) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// Close evicts every cached adapter and closes the base opener when it owns
// resources of its own.
func (c *CachedOpener) Close() error {
	c.mu.Lock()
	c.cache.Purge()
	c.mu.Unlock()
	if closer, ok := c.base.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *CachedOpener) release(h *sharedHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h.refs--
	if h.refs == 0 && h.evicted {
		return h.Adapter.Close()
	}
	return nil
}

type lease struct {
	owner *CachedOpener
	h     *sharedHandle
	once  sync.Once
}

func (l *lease) Keys(ctx context.Context) ([]string, error) { return l.h.Keys(ctx) }

func (l *lease) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return l.h.Get(ctx, key)
}

func (l *lease) Set(ctx context.Context, key string, value []byte) error {
	return l.h.Set(ctx, key, value)
}

func (l *lease) Remove(ctx context.Context, key string) error { return l.h.Remove(ctx, key) }

func (l *lease) Driver() Driver { return l.h.Driver() }

func (l *lease) Close() error {
	var err error
	l.once.Do(func() { err = l.owner.release(l.h) })
	return err
}
