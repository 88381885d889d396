package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"simplepersist/internal/storage/core"
	"simplepersist/internal/storage/storagetest"
)

func newTempOpener(t *testing.T) *Opener {
	t.Helper()
	o, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestOpener_Conformance(t *testing.T) {
	storagetest.Run(t, newTempOpener(t))
}

func TestOpener_CreatesLocationDirectory(t *testing.T) {
	o := newTempOpener(t)
	loc := core.Location{Kind: core.KindCollection, Name: "todos", Tenant: "acme"}
	a, err := o.Open(context.Background(), loc)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = a.Close() }()
	dir := filepath.Join(o.Root(), "collection", "todos", "acme")
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		t.Fatalf("expected directory %s: %v", dir, err)
	}
	if err := a.Set(context.Background(), "__collection", []byte(`[]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "__collection.json")); err != nil {
		t.Fatalf("expected value file: %v", err)
	}
}

func TestStore_IgnoresForeignFiles(t *testing.T) {
	o := newTempOpener(t)
	ctx := context.Background()
	a, err := o.Open(ctx, core.Location{Kind: core.KindKeyValue, Name: "n", Tenant: "t"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	dir := a.(*Store).Dir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad%zz.json"), []byte("1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.json"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	keys, err := a.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
}

func TestStore_NoTempFilesLeftBehind(t *testing.T) {
	o := newTempOpener(t)
	ctx := context.Background()
	a, err := o.Open(ctx, core.Location{Kind: core.KindKeyValue, Name: "n", Tenant: "t"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for range 5 {
		if err := a.Set(ctx, "k", []byte(`1`)); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	entries, err := os.ReadDir(a.(*Store).Dir())
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestStore_ClosedAdapterFails(t *testing.T) {
	o := newTempOpener(t)
	ctx := context.Background()
	a, err := o.Open(ctx, core.Location{Kind: core.KindKeyValue, Name: "n", Tenant: "t"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = a.Close()
	if err := a.Set(ctx, "k", []byte(`1`)); err != core.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := a.Keys(ctx); err != core.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
