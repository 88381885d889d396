// Package storagetest holds the behavioural checks every storage adapter
// backend must pass.
package storagetest

import (
	"context"
	"testing"

	"simplepersist/internal/storage/core"
)

// Run exercises opener against the adapter contract.
func Run(t *testing.T, opener core.Opener) {
	t.Helper()
	ctx := context.Background()
	loc := core.Location{Kind: core.KindKeyValue, Name: "conformance", Tenant: "t1"}

	a, err := opener.Open(ctx, loc)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = a.Close() }()

	if keys, err := a.Keys(ctx); err != nil || len(keys) != 0 {
		t.Fatalf("fresh location should be empty: %v %v", keys, err)
	}
	if _, ok, err := a.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing get: ok=%v err=%v", ok, err)
	}
	odd := "a/b c%d?.json"
	for k, v := range map[string]string{"beta": `2`, "alpha": `{"x":1}`, odd: `"weird"`} {
		if err := a.Set(ctx, k, []byte(v)); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if err := a.Set(ctx, "beta", []byte(`3`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, ok, err := a.Get(ctx, "beta")
	if err != nil || !ok {
		t.Fatalf("get beta: %v %v", ok, err)
	}
	if string(got) != `3` {
		t.Fatalf("expected overwritten value, got %s", got)
	}
	if got, _, _ := a.Get(ctx, odd); string(got) != `"weird"` {
		t.Fatalf("odd key roundtrip failed: %s", got)
	}
	keys, err := a.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []string{odd, "alpha", "beta"}
	if len(keys) != len(want) {
		t.Fatalf("unexpected keys %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys out of order: %v", keys)
		}
	}
	if err := a.Remove(ctx, "alpha"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := a.Remove(ctx, "alpha"); err != nil {
		t.Fatalf("second remove should be silent: %v", err)
	}
	if _, ok, _ := a.Get(ctx, "alpha"); ok {
		t.Fatalf("alpha should be gone")
	}
	if err := a.Set(ctx, "", []byte(`1`)); err == nil {
		t.Fatalf("expected empty key error")
	}

	// another tenant sees nothing
	other, err := opener.Open(ctx, core.Location{Kind: core.KindKeyValue, Name: "conformance", Tenant: "t2"})
	if err != nil {
		t.Fatalf("open other: %v", err)
	}
	defer func() { _ = other.Close() }()
	if keys, err := other.Keys(ctx); err != nil || len(keys) != 0 {
		t.Fatalf("tenant leak: %v %v", keys, err)
	}

	// reopening sees persisted data
	again, err := opener.Open(ctx, loc)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = again.Close() }()
	if got, ok, _ := again.Get(ctx, "beta"); !ok || string(got) != `3` {
		t.Fatalf("reopen lost data: %s", got)
	}

	if _, err := opener.Open(ctx, core.Location{Kind: core.KindKeyValue, Name: "..", Tenant: "t"}); err == nil {
		t.Fatalf("expected traversal error")
	}
	if _, err := opener.Open(ctx, core.Location{Kind: core.KindKeyValue, Name: "n", Tenant: "a/b"}); err == nil {
		t.Fatalf("expected separator error")
	}
}
