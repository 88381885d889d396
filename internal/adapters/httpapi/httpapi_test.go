package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"simplepersist/internal/hub"
	"simplepersist/internal/infra/storage/memory"
	"simplepersist/internal/persist"
)

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func newKVHandler(t *testing.T, opts ...Option) (*persist.KeyValueService, http.Handler) {
	t.Helper()
	svc := persist.NewKeyValueService("prefs", memory.New(),
		persist.WithKeyValueValidation(func(key string, _ any) bool { return key != "forbidden" }))
	mux := http.NewServeMux()
	Mount(mux, "/api/prefs", NewKeyValueHandler(svc, opts...))
	return svc, mux
}

func TestKeyValueHandler_CRUD(t *testing.T) {
	_, h := newKVHandler(t)

	rec, body := do(t, h, http.MethodGet, "/api/prefs/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{}, body["data"])
	require.Equal(t, "default", body["tenant"])
	require.Equal(t, "prefs", body["name"])

	rec, body = do(t, h, http.MethodPut, "/api/prefs/theme", `{"value":"dark"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["ok"])
	require.NotZero(t, body["version"])

	rec, body = do(t, h, http.MethodGet, "/api/prefs/theme", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "theme", body["key"])
	require.Equal(t, "dark", body["value"])

	rec, _ = do(t, h, http.MethodDelete, "/api/prefs/theme", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = do(t, h, http.MethodGet, "/api/prefs/theme", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not found", body["error"])
}

func TestKeyValueHandler_PutValidation(t *testing.T) {
	_, h := newKVHandler(t)

	rec, body := do(t, h, http.MethodPut, "/api/prefs/k", `{"other":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "missing value", body["error"])

	rec, _ = do(t, h, http.MethodPut, "/api/prefs/k", ``)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPut, "/api/prefs/k", `{"value":null}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = do(t, h, http.MethodPut, "/api/prefs/forbidden", `{"value":1}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "validation failed", body["error"])

	rec, _ = do(t, h, http.MethodPut, "/api/prefs/k", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeyValueHandler_EscapedKeys(t *testing.T) {
	svc, h := newKVHandler(t)
	rec, _ := do(t, h, http.MethodPut, "/api/prefs/a%2Fb%20c", `{"value":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	entry, found, err := svc.Get(context.Background(), "default", "a/b c")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, float64(1), entry.Value)
}

func TestKeyValueHandler_Bulk(t *testing.T) {
	svc, h := newKVHandler(t)
	ctx := context.Background()
	_, err := svc.Put(ctx, "default", "alpha", 1)
	require.NoError(t, err)

	rec, _ := do(t, h, http.MethodPost, "/api/prefs/_bulk", `{"upsert":{"beta":2},"delete":["alpha"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	snap, err := svc.GetAll(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"beta": float64(2)}, snap.Data)

	rec, body := do(t, h, http.MethodPost, "/api/prefs/_bulk", `{"upsert":{"forbidden":1}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "forbidden", body["key"])
}

func TestKeyValueHandler_MethodNotAllowed(t *testing.T) {
	_, h := newKVHandler(t)
	rec, _ := do(t, h, http.MethodPost, "/api/prefs/", `{}`)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	rec, _ = do(t, h, http.MethodPatch, "/api/prefs/k", `{}`)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Contains(t, rec.Header().Get("Allow"), http.MethodPut)
}

func TestKeyValueHandler_BodyLimit(t *testing.T) {
	_, h := newKVHandler(t, WithBodyLimit(16))
	rec, body := do(t, h, http.MethodPut, "/api/prefs/k", `{"value":"`+strings.Repeat("x", 64)+`"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, "request body too large", body["error"])
}

func TestTenantResolution(t *testing.T) {
	svc, h := newKVHandler(t, WithTenantResolver(QueryTenant("tenant")))
	rec, _ := do(t, h, http.MethodPut, "/api/prefs/k?tenant=acme", `{"value":"a"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	snap, err := svc.GetAll(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"k": "a"}, snap.Data)
	snap, err = svc.GetAll(context.Background(), "default")
	require.NoError(t, err)
	require.Empty(t, snap.Data)

	rec, _ = do(t, h, http.MethodGet, "/api/prefs/?tenant=..", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	_, denied := newKVHandler(t, WithTenantResolver(func(*http.Request) (string, error) {
		return "", errors.New("no session")
	}))
	rec, body := do(t, denied, http.MethodGet, "/api/prefs/", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "no session", body["error"])
}

func readEvent(t *testing.T, sc *bufio.Scanner) (string, hub.Event) {
	t.Helper()
	var name string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var ev hub.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			return name, ev
		}
	}
	t.Fatalf("stream ended: %v", sc.Err())
	return "", hub.Event{}
}

func TestKeyValueHandler_EventStream(t *testing.T) {
	svc, h := newKVHandler(t, WithTenantResolver(QueryTenant("tenant")))
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/prefs/__events?tenant=t1", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return svc.Hub().Subscribers(svc.Scope("t1")) == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = svc.Put(ctx, "t2", "other", 1)
	require.NoError(t, err)
	v, err := svc.Put(ctx, "t1", "mine", 1)
	require.NoError(t, err)

	name, ev := readEvent(t, bufio.NewScanner(resp.Body))
	require.Equal(t, "update", name)
	require.Equal(t, "kv", ev.Type)
	require.Equal(t, "t1", ev.Tenant)
	require.Equal(t, "mine", ev.Key)
	require.Equal(t, v, ev.Version)

	cancel()
	require.Eventually(t, func() bool { return svc.Hub().Subscribers(svc.Scope("t1")) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventStream_Heartbeat(t *testing.T) {
	_, h := newKVHandler(t, WithHeartbeat(20*time.Millisecond))
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/prefs/__events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan())
	require.Equal(t, ": ping", sc.Text())
}

func TestMount_Root(t *testing.T) {
	svc := persist.NewKeyValueService("prefs", memory.New())
	mux := http.NewServeMux()
	Mount(mux, "/", NewKeyValueHandler(svc))
	rec, _ := do(t, mux, http.MethodPut, "/k", `{"value":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	entry, found, err := svc.Get(context.Background(), "", "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, float64(1), entry.Value)
}
