package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"simplepersist/internal/hub"
	"simplepersist/internal/persist"
)

// CollectionHandler serves one collection store.
type CollectionHandler struct {
	svc *persist.CollectionService
	cfg config
}

// NewCollectionHandler constructs the handler for svc.
func NewCollectionHandler(svc *persist.CollectionService, opts ...Option) *CollectionHandler {
	return &CollectionHandler{svc: svc, cfg: buildConfig(DefaultCollectionBodyLimit, opts)}
}

func (h *CollectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.cfg.resolveTenant(w, r)
	if !ok {
		return
	}
	path, err := route(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path encoding")
		return
	}

	switch {
	case path == "":
		switch r.Method {
		case http.MethodGet:
			h.handleGetAll(w, r, tenant)
		case http.MethodPut:
			h.handlePutAll(w, r, tenant)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPut)
		}
	case path == eventsPath:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.cfg.serveEvents(w, r, func(fn hub.Listener) func() { return h.svc.Subscribe(tenant, fn) })
	case path == "item":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleAdd(w, r, tenant)
	case strings.HasPrefix(path, "item/"):
		id := strings.TrimPrefix(path, "item/")
		switch r.Method {
		case http.MethodPut:
			h.handlePut(w, r, tenant, id)
		case http.MethodPatch:
			h.handlePatch(w, r, tenant, id)
		case http.MethodDelete:
			h.handleDelete(w, r, tenant, id)
		default:
			methodNotAllowed(w, http.MethodPut, http.MethodPatch, http.MethodDelete)
		}
	default:
		writeError(w, http.StatusNotFound, "collection endpoint not found")
	}
}

func (h *CollectionHandler) handleGetAll(w http.ResponseWriter, r *http.Request, tenant string) {
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

func (h *CollectionHandler) handlePutAll(w http.ResponseWriter, r *http.Request, tenant string) {
	var body struct {
		Data any `json:"data"`
	}
	if err := decodeBody(w, r, h.cfg.bodyLimit, &body); err != nil && !errors.Is(err, errEmptyBody) {
		writeDecodeError(w, err)
		return
	}
	data, ok := body.Data.([]any)
	if !ok {
		writeError(w, http.StatusBadRequest, "data must be an array")
		return
	}
	version, err := h.svc.PutAll(r.Context(), tenant, data)
	if err != nil {
		h.cfg.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version})
}

func (h *CollectionHandler) handleAdd(w http.ResponseWriter, r *http.Request, tenant string) {
	var body struct {
		Item any `json:"item"`
	}
	if err := decodeBody(w, r, h.cfg.bodyLimit, &body); err != nil && !errors.Is(err, errEmptyBody) {
		writeDecodeError(w, err)
		return
	}
	item, ok := body.Item.(map[string]any)
	if !ok {
		writeError(w, http.StatusBadRequest, "item must be an object")
		return
	}
	stored, version, err := h.svc.Add(r.Context(), tenant, item)
	if err != nil {
		h.cfg.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version, "item": stored})
}

// recordBody decodes a body that is either {field: {...}} or the bare object.
// An empty body counts as an empty object.
func (h *CollectionHandler) recordBody(w http.ResponseWriter, r *http.Request, field string) (persist.Record, bool) {
	var body any
	if err := decodeBody(w, r, h.cfg.bodyLimit, &body); err != nil {
		if !errors.Is(err, errEmptyBody) {
			writeDecodeError(w, err)
			return nil, false
		}
		body = map[string]any{}
	}
	if obj, ok := body.(map[string]any); ok {
		if inner, present := obj[field]; present && inner != nil {
			body = inner
		}
	}
	rec, ok := body.(map[string]any)
	if !ok {
		writeError(w, http.StatusBadRequest, field+" must be an object")
		return nil, false
	}
	return rec, true
}

func (h *CollectionHandler) handlePut(w http.ResponseWriter, r *http.Request, tenant, id string) {
	item, ok := h.recordBody(w, r, "item")
	if !ok {
		return
	}
	stored, version, err := h.svc.Put(r.Context(), tenant, id, item)
	if err != nil {
		h.cfg.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version, "item": stored})
}

func (h *CollectionHandler) handlePatch(w http.ResponseWriter, r *http.Request, tenant, id string) {
	patch, ok := h.recordBody(w, r, "patch")
	if !ok {
		return
	}
	stored, version, err := h.svc.Patch(r.Context(), tenant, id, patch)
	if err != nil {
		h.cfg.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version, "item": stored})
}

func (h *CollectionHandler) handleDelete(w http.ResponseWriter, r *http.Request, tenant, id string) {
	version, err := h.svc.Delete(r.Context(), tenant, id)
	if err != nil {
		h.cfg.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version, "id": id})
}
