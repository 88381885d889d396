// Package httpapi exposes the key/value and collection services over HTTP,
// including the server-sent events channel clients subscribe to.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"simplepersist/internal/hub"
	"simplepersist/internal/observability"
	"simplepersist/internal/persist"
)

const (
	// DefaultKeyValueBodyLimit bounds key/value request bodies.
	DefaultKeyValueBodyLimit int64 = 1 << 20
	// DefaultCollectionBodyLimit bounds collection request bodies.
	DefaultCollectionBodyLimit int64 = 2 << 20
	// DefaultHeartbeat is the interval of SSE keep-alive comments.
	DefaultHeartbeat = 15 * time.Second

	eventsPath = "__events"
	// eventBuffer is how many undelivered events one stream holds before
	// further events are dropped.
	eventBuffer = 64
)

// TenantResolver derives the tenant of a request. A returned error rejects
// the request with 401.
type TenantResolver func(*http.Request) (string, error)

// DefaultTenant resolves every request to the default tenant.
func DefaultTenant(*http.Request) (string, error) { return persist.DefaultTenant, nil }

// QueryTenant reads the tenant from query parameter param, falling back to
// the default tenant when the parameter is absent.
func QueryTenant(param string) TenantResolver {
	return func(r *http.Request) (string, error) {
		t := r.URL.Query().Get(param)
		if t == "" {
			return persist.DefaultTenant, nil
		}
		if strings.ContainsAny(t, `/\`) || t == "." || t == ".." {
			return "", fmt.Errorf("invalid tenant %q", t)
		}
		return t, nil
	}
}

type config struct {
	tenant    TenantResolver
	logger    observability.Logger
	heartbeat time.Duration
	bodyLimit int64
}

// Option configures a handler.
type Option func(*config)

// WithTenantResolver sets how the tenant of a request is derived.
func WithTenantResolver(fn TenantResolver) Option { return func(c *config) { c.tenant = fn } }

// WithLogger sets the handler logger.
func WithLogger(l observability.Logger) Option { return func(c *config) { c.logger = l } }

// WithHeartbeat sets the SSE keep-alive interval.
func WithHeartbeat(d time.Duration) Option { return func(c *config) { c.heartbeat = d } }

// WithBodyLimit overrides the maximum accepted request body size in bytes.
func WithBodyLimit(n int64) Option { return func(c *config) { c.bodyLimit = n } }

func buildConfig(limit int64, opts []Option) config {
	c := config{tenant: DefaultTenant, heartbeat: DefaultHeartbeat, bodyLimit: limit}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	if c.tenant == nil {
		c.tenant = DefaultTenant
	}
	if c.heartbeat <= 0 {
		c.heartbeat = DefaultHeartbeat
	}
	if c.bodyLimit <= 0 {
		c.bodyLimit = limit
	}
	c.logger = observability.LoggerOrNoop(c.logger)
	return c
}

// Mount registers h on mux under prefix, stripping the prefix before h sees
// the request.
func Mount(mux *http.ServeMux, prefix string, h http.Handler) {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		mux.Handle("/", h)
		return
	}
	mux.Handle(prefix+"/", http.StripPrefix(prefix, h))
}

func (c config) resolveTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant, err := c.tenant(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return "", false
	}
	if tenant == "" {
		tenant = persist.DefaultTenant
	}
	return tenant, true
}

// route returns the unescaped path below the mount point.
func route(r *http.Request) (string, error) {
	p := strings.Trim(r.URL.EscapedPath(), "/")
	return url.PathUnescape(p)
}

var errEmptyBody = errors.New("empty body")

// decodeBody reads a JSON body of at most limit bytes into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	defer func() { _ = body.Close() }()
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// writeDecodeError answers a body that could not be decoded.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid JSON body")
}

// writeServiceError maps a service error onto a status code.
func (c config) writeServiceError(w http.ResponseWriter, err error) {
	var verr *persist.ValidationError
	switch {
	case errors.As(err, &verr):
		payload := map[string]any{"error": "validation failed"}
		if verr.Key != "" {
			payload["key"] = verr.Key
		}
		writeJSON(w, http.StatusUnprocessableEntity, payload)
	case errors.Is(err, persist.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		c.logger.Error("store request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allow ...string) {
	w.Header().Set("Allow", strings.Join(allow, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// serveEvents streams update events of one scope until the client goes away.
// Listeners run inside the publishing request, so events are handed to the
// stream through a buffer and dropped when the client cannot keep up.
func (c config) serveEvents(w http.ResponseWriter, r *http.Request, subscribe func(hub.Listener) func()) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	events := make(chan hub.Event, eventBuffer)
	unsubscribe := subscribe(func(ev hub.Event) {
		select {
		case events <- ev:
		default:
			c.logger.Warn("dropping update event for slow subscriber", "scope", ev.Scope, "version", ev.Version)
		}
	})
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			payload, err := json.Marshal(ev)
			if err != nil {
				c.logger.Error("encode update event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: update\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
