package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"simplepersist/internal/hub"
	"simplepersist/internal/persist"
)

// KeyValueHandler serves one key/value store.
type KeyValueHandler struct {
	svc *persist.KeyValueService
	cfg config
}

// NewKeyValueHandler constructs the handler for svc.
func NewKeyValueHandler(svc *persist.KeyValueService, opts ...Option) *KeyValueHandler {
	return &KeyValueHandler{svc: svc, cfg: buildConfig(DefaultKeyValueBodyLimit, opts)}
}

func (h *KeyValueHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.cfg.resolveTenant(w, r)
	if !ok {
		return
	}
	key, err := route(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key encoding")
		return
	}

	switch {
	case key == "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleGetAll(w, r, tenant)
	case key == eventsPath && r.Method == http.MethodGet:
		h.cfg.serveEvents(w, r, func(fn hub.Listener) func() { return h.svc.Subscribe(tenant, fn) })
	case key == "_bulk" && r.Method == http.MethodPost:
		h.handleBulk(w, r, tenant)
	default:
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, r, tenant, key)
		case http.MethodPut:
			h.handlePut(w, r, tenant, key)
		case http.MethodDelete:
			h.handleDelete(w, r, tenant, key)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
		}
	}
}

func (h *KeyValueHandler) handleGetAll(w http.ResponseWriter, r *http.Request, tenant string) {
	snap, err := h.svc.GetAll(r.Context(), tenant)
	if err != nil {
		h.cfg.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":    snap.Data,
		"version": snap.Version,
		"tenant":  tenant,
		"name":    h.svc.Name(),
	})
}

func (h *KeyValueHandler) handleGet(w http.ResponseWriter, r *http.Request, tenant, key string) {
	entry, found, err := h.svc.Get(r.Context(), tenant, key)
	if err != nil {
		h.cfg.writeServiceError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *KeyValueHandler) handlePut(w http.ResponseWriter, r *http.Request, tenant, key string) {
	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := decodeBody(w, r, h.cfg.bodyLimit, &body); err != nil && !errors.Is(err, errEmptyBody) {
		writeDecodeError(w, err)
		return
	}
	if body.Value == nil {
		writeError(w, http.StatusBadRequest, "missing value")
		return
	}
	var value any
	if err := json.Unmarshal(body.Value, &value); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	version, err := h.svc.Put(r.Context(), tenant, key, value)
	if err != nil {
		h.cfg.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version})
}

func (h *KeyValueHandler) handleDelete(w http.ResponseWriter, r *http.Request, tenant, key string) {
	version, err := h.svc.Delete(r.Context(), tenant, key)
	if err != nil {
		h.cfg.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version})
}

func (h *KeyValueHandler) handleBulk(w http.ResponseWriter, r *http.Request, tenant string) {
	var body struct {
		Upsert map[string]any `json:"upsert"`
		Delete []string       `json:"delete"`
	}
	if err := decodeBody(w, r, h.cfg.bodyLimit, &body); err != nil && !errors.Is(err, errEmptyBody) {
		writeDecodeError(w, err)
		return
	}
	version, err := h.svc.Bulk(r.Context(), tenant, body.Upsert, body.Delete)
	if err != nil {
		h.cfg.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version})
}
