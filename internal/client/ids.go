package client

import "github.com/google/uuid"

// RandomID returns a fresh record id.
func RandomID() string { return uuid.NewString() }

// EnsureIDs returns a copy of arr in which every element is an object with a
// non-empty string id. Objects without one get a fresh id; other values are wrapped
// as {id, value}.
func EnsureIDs(arr []any) []any {
	out := make([]any, len(arr))
	for i, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			out[i] = map[string]any{"id": RandomID(), "value": item}
			continue
		}
		if id, hasID := obj["id"].(string); hasID && id != "" {
			out[i] = obj
			continue
		}
		withID := make(map[string]any, len(obj)+1)
		for k, v := range obj {
			withID[k] = v
		}
		withID["id"] = RandomID()
		out[i] = withID
	}
	return out
}
