package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"simplepersist/internal/storage/storagetest"
)

// TestOpener_Conformance runs against a live server when
// SIMPLEPERSIST_TEST_POSTGRES_DSN is set.
func TestOpener_Conformance(t *testing.T) {
	dsn := os.Getenv("SIMPLEPERSIST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SIMPLEPERSIST_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	o, err := New(ctx, dsn)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() {
		_, _ = o.DB().ExecContext(ctx, `DELETE FROM kv WHERE location LIKE 'kv/conformance/%'`)
		_ = o.Close()
	})
	if _, err := o.DB().ExecContext(ctx, `DELETE FROM kv WHERE location LIKE 'kv/conformance/%'`); err != nil {
		t.Fatalf("reset: %v", err)
	}
	storagetest.Run(t, o)
}

func TestNew_OpenFailure(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		return nil, errors.New("boom")
	})
	defer restore()
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatalf("expected open error")
	}
}
