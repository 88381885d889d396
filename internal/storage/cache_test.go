package storage

import (
	"context"
	"sync"
	"testing"

	"simplepersist/internal/infra/storage/memory"
	"simplepersist/internal/storage/storagetest"
)

type countingOpener struct {
	Opener
	mu     sync.Mutex
	opens  int
	closes int
	closed bool
}

func (c *countingOpener) Open(ctx context.Context, loc Location) (Adapter, error) {
	a, err := c.Opener.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.opens++
	c.mu.Unlock()
	return &countingAdapter{Adapter: a, owner: c}, nil
}

func (c *countingOpener) Close() error {
	c.closed = true
	return nil
}

func (c *countingOpener) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens, c.closes
}

type countingAdapter struct {
	Adapter
	owner *countingOpener
}

func (a *countingAdapter) Close() error {
	a.owner.mu.Lock()
	a.owner.closes++
	a.owner.mu.Unlock()
	return a.Adapter.Close()
}

func loc(tenant string) Location {
	return Location{Kind: KindKeyValue, Name: "n", Tenant: tenant}
}

func TestCachedOpener_Conformance(t *testing.T) {
	c, err := NewCachedOpener(memory.New(), 4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	storagetest.Run(t, c)
}

func TestCachedOpener_ReusesHandles(t *testing.T) {
	ctx := context.Background()
	base := &countingOpener{Opener: memory.New()}
	c, err := NewCachedOpener(base, 2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for range 3 {
		a, err := c.Open(ctx, loc("t"))
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := a.Set(ctx, "k", []byte(`1`)); err != nil {
			t.Fatalf("set: %v", err)
		}
		_ = a.Close()
	}
	if opens, closes := base.counts(); opens != 1 || closes != 0 {
		t.Fatalf("expected one open and no close, got %d/%d", opens, closes)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 cached handle, got %d", c.Len())
	}
}

func TestCachedOpener_EvictionClosesIdleHandle(t *testing.T) {
	ctx := context.Background()
	base := &countingOpener{Opener: memory.New()}
	c, _ := NewCachedOpener(base, 1)

	a, _ := c.Open(ctx, loc("a"))
	_ = a.Close()
	b, _ := c.Open(ctx, loc("b"))
	defer func() { _ = b.Close() }()

	if _, closes := base.counts(); closes != 1 {
		t.Fatalf("expected evicted idle handle to close, got %d closes", closes)
	}
}

func TestCachedOpener_EvictionWaitsForLeases(t *testing.T) {
	ctx := context.Background()
	base := &countingOpener{Opener: memory.New()}
	c, _ := NewCachedOpener(base, 1)

	a, _ := c.Open(ctx, loc("a"))
	b, _ := c.Open(ctx, loc("b"))
	if _, closes := base.counts(); closes != 0 {
		t.Fatalf("leased handle closed early")
	}
	if err := a.Set(ctx, "still", []byte(`true`)); err != nil {
		t.Fatalf("evicted but leased handle should keep working: %v", err)
	}
	_ = a.Close()
	_ = a.Close() // releasing twice counts once
	if _, closes := base.counts(); closes != 1 {
		t.Fatalf("expected close after last lease, got %d", closes)
	}
	_ = b.Close()
}

func TestCachedOpener_CloseClosesBase(t *testing.T) {
	ctx := context.Background()
	base := &countingOpener{Opener: memory.New()}
	c, _ := NewCachedOpener(base, 4)
	a, _ := c.Open(ctx, loc("a"))
	_ = a.Close()
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !base.closed {
		t.Fatalf("base opener not closed")
	}
	if _, closes := base.counts(); closes != 1 {
		t.Fatalf("purge should close idle handles, got %d", closes)
	}
}

func TestNewCachedOpener_RejectsNonPositiveSize(t *testing.T) {
	if _, err := NewCachedOpener(memory.New(), 0); err == nil {
		t.Fatalf("expected size error")
	}
}
