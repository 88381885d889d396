package client

import (
	"testing"

	"simplepersist/testutil"
)

func TestClientDoesNotLinkServerPackages(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.PrefixForbidden(
		"simplepersist/internal/persist",
		"simplepersist/internal/storage",
		"simplepersist/internal/infra",
		"simplepersist/internal/adapters",
	), "client must stay free of storage drivers")
}
