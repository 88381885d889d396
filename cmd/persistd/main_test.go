package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplepersist/internal/config"
)

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand()
	assert.Equal(t, "persistd", cmd.Use)
	for _, name := range []string{"serve", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	sub, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	flag := sub.Flags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "persistd dev\n", out.String())
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Stores = []config.Store{
		{Name: "prefs", Kind: "kv", Validation: `key != "locked"`},
		{Name: "todos", Kind: "collection", TenantQuery: "tenant"},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func request(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBuild_ServesConfiguredStores(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := build(context.Background(), testConfig(t), logger)
	require.NoError(t, err)
	defer app.Close()

	rec := request(t, app.Handler, http.MethodPut, "/api/prefs/theme", `{"value":"dark"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = request(t, app.Handler, http.MethodPut, "/api/prefs/locked", `{"value":1}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = request(t, app.Handler, http.MethodPost, "/api/todos/item?tenant=acme", `{"item":{"text":"A"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = request(t, app.Handler, http.MethodGet, "/api/todos/?tenant=acme", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"text":"A"`)
	rec = request(t, app.Handler, http.MethodGet, "/api/todos/", "")
	assert.Contains(t, rec.Body.String(), `"data":[]`)

	rec = request(t, app.Handler, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = request(t, app.Handler, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := rec.Body.String()
	assert.Contains(t, metrics, `simplepersist_operations_total{operation="put",status="success",store="prefs"} 1`)
	assert.Contains(t, metrics, `simplepersist_operations_total{operation="put",status="error",store="prefs"} 1`)
	assert.Contains(t, metrics, "simplepersist_hub_subscribers 0")
}

func TestBuild_StorageError(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "s3"
	_, err := build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorContains(t, err, "open storage")
}
