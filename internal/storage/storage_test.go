package storage

import (
	"context"
	"testing"
)

func TestOpen_SelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		driver Driver
		want   Driver
	}{
		{"", DriverFilesystem},
		{DriverFilesystem, DriverFilesystem},
		{DriverMemory, DriverMemory},
		{DriverSQLite, DriverSQLite},
	}
	for _, tc := range cases {
		o, err := Open(ctx, Options{Driver: tc.driver, BaseDir: t.TempDir()})
		if err != nil {
			t.Fatalf("open %q: %v", tc.driver, err)
		}
		if o.Driver() != tc.want {
			t.Fatalf("driver %q: got %s want %s", tc.driver, o.Driver(), tc.want)
		}
	}
}

func TestOpen_WrapsInHandleCache(t *testing.T) {
	o, err := Open(context.Background(), Options{Driver: DriverMemory, HandleCache: 8})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := o.(*CachedOpener); !ok {
		t.Fatalf("expected cached opener, got %T", o)
	}
	if o.Driver() != DriverMemory {
		t.Fatalf("cache should report base driver, got %s", o.Driver())
	}
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Options{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, Options{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
