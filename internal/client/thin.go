package client

import (
	"context"
	"net/http"
	"net/url"
)

// KeyValueClient wraps the key/value routes of one store.
type KeyValueClient struct {
	t transport
}

// NewKeyValueClient returns a client for the store mounted at endpoint.
func NewKeyValueClient(endpoint string, opts ...Option) *KeyValueClient {
	return &KeyValueClient{t: transport{endpoint: trimEndpoint(endpoint), opts: buildOptions(opts)}}
}

// GetAll returns every key of the store.
func (c *KeyValueClient) GetAll(ctx context.Context) (map[string]any, error) {
	var snap Snapshot[map[string]any]
	if err := c.t.do(ctx, "get all", http.MethodGet, "/", nil, &snap); err != nil {
		return nil, err
	}
	if snap.Data == nil {
		snap.Data = map[string]any{}
	}
	return snap.Data, nil
}

// SetKey stores value under key and returns the write version.
func (c *KeyValueClient) SetKey(ctx context.Context, key string, value any) (int64, error) {
	var res writeResult
	err := c.t.do(ctx, "write", http.MethodPut, "/"+url.PathEscape(key), map[string]any{"value": value}, &res)
	return res.Version, err
}

// DeleteKey removes key.
func (c *KeyValueClient) DeleteKey(ctx context.Context, key string) (int64, error) {
	var res writeResult
	err := c.t.do(ctx, "delete", http.MethodDelete, "/"+url.PathEscape(key), nil, &res)
	return res.Version, err
}

// Bulk upserts and deletes several keys in one request.
func (c *KeyValueClient) Bulk(ctx context.Context, upsert map[string]any, del []string) (int64, error) {
	body := map[string]any{}
	if upsert != nil {
		body["upsert"] = upsert
	}
	if del != nil {
		body["delete"] = del
	}
	var res writeResult
	err := c.t.do(ctx, "bulk", http.MethodPost, "/_bulk", body, &res)
	return res.Version, err
}

// CollectionClient wraps the collection routes of one store.
type CollectionClient struct {
	t transport
}

// NewCollectionClient returns a client for the collection mounted at endpoint.
func NewCollectionClient(endpoint string, opts ...Option) *CollectionClient {
	return &CollectionClient{t: transport{endpoint: trimEndpoint(endpoint), opts: buildOptions(opts)}}
}

// GetAll returns the whole collection.
func (c *CollectionClient) GetAll(ctx context.Context) ([]map[string]any, error) {
	var snap Snapshot[[]map[string]any]
	if err := c.t.do(ctx, "get all", http.MethodGet, "/", nil, &snap); err != nil {
		return nil, err
	}
	if snap.Data == nil {
		snap.Data = []map[string]any{}
	}
	return snap.Data, nil
}

// PutAll replaces the collection. Missing ids are assigned before sending.
func (c *CollectionClient) PutAll(ctx context.Context, records []any) (int64, error) {
	var res writeResult
	err := c.t.do(ctx, "write", http.MethodPut, "/", map[string]any{"data": EnsureIDs(records)}, &res)
	return res.Version, err
}

// Add appends item, assigning an id first when it has none, and returns the
// record as sent.
func (c *CollectionClient) Add(ctx context.Context, item map[string]any) (map[string]any, error) {
	withID := EnsureIDs([]any{item})[0].(map[string]any)
	if err := c.t.do(ctx, "add", http.MethodPost, "/item", map[string]any{"item": withID}, nil); err != nil {
		return nil, err
	}
	return withID, nil
}

// SetItem replaces the record at id.
func (c *CollectionClient) SetItem(ctx context.Context, id string, item map[string]any) (int64, error) {
	body := make(map[string]any, len(item)+1)
	for k, v := range item {
		body[k] = v
	}
	body["id"] = id
	var res writeResult
	err := c.t.do(ctx, "put", http.MethodPut, "/item/"+url.PathEscape(id), map[string]any{"item": body}, &res)
	return res.Version, err
}

// UpdateItem shallow-merges patch into the record at id.
func (c *CollectionClient) UpdateItem(ctx context.Context, id string, patch map[string]any) (int64, error) {
	var res writeResult
	err := c.t.do(ctx, "patch", http.MethodPatch, "/item/"+url.PathEscape(id), map[string]any{"patch": patch}, &res)
	return res.Version, err
}

// DeleteItem removes the record at id.
func (c *CollectionClient) DeleteItem(ctx context.Context, id string) (int64, error) {
	var res writeResult
	err := c.t.do(ctx, "delete", http.MethodDelete, "/item/"+url.PathEscape(id), nil, &res)
	return res.Version, err
}
