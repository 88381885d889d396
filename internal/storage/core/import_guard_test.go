package core

import (
	"testing"

	"simplepersist/testutil"
)

func TestCoreHasNoBackendImports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", func(path string) bool {
		return path != "context" && path != "errors" && path != "fmt" && path != "path/filepath" && path != "strings"
	}, "adapter contract must only depend on the standard library")
}
