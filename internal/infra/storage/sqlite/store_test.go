package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"simplepersist/internal/storage/core"
	"simplepersist/internal/storage/storagetest"
)

func TestOpener_Conformance(t *testing.T) {
	o, err := New(t.TempDir())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	storagetest.Run(t, o)
}

func TestOpener_OneFilePerLocation(t *testing.T) {
	root := t.TempDir()
	o, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	a, err := o.Open(ctx, core.Location{Kind: core.KindCollection, Name: "todos", Tenant: "acme"})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = a.Close() }()
	path := filepath.Join(root, "collection", "todos", "acme", FileName)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected db file: %v", err)
	}
	s := a.(*Store)
	if s.Path() != path {
		t.Fatalf("unexpected path %s", s.Path())
	}
	var name string
	if err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='kv'").Scan(&name); err != nil {
		t.Fatalf("lookup kv table: %v", err)
	}
}

func TestOpener_OpenFailure(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		return nil, errors.New("boom")
	})
	defer restore()
	o, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := o.Open(context.Background(), core.Location{Kind: core.KindKeyValue, Name: "n", Tenant: "t"}); err == nil {
		t.Fatalf("expected open error")
	}
}
