package persist

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// Record is one collection element. After normalization it always carries
// a string "id".
type Record = map[string]any

// GenID returns a random UUID, falling back to 16 random hex-encoded bytes.
func GenID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// recordID returns the id of v when v is an object carrying a non-empty
// string id.
func recordID(v any) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := obj["id"].(string)
	return id, ok && id != ""
}

// NeedsNormalization reports whether any element is not an object, lacks a
// non-empty string id, or repeats an id seen earlier in the slice.
func NeedsNormalization(data []any) bool {
	seen := make(map[string]struct{}, len(data))
	for _, v := range data {
		id, ok := recordID(v)
		if !ok {
			return true
		}
		if _, dup := seen[id]; dup {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}

// NormalizeCollection returns a copy of data in which every element is a
// Record with a unique non-empty string id. Non-object elements become
// {id, value}; objects lacking such an id, or repeating one, get a fresh id. Running it on
// already normalized data changes nothing.
func NormalizeCollection(data []any) []Record {
	out := make([]Record, 0, len(data))
	seen := make(map[string]struct{}, len(data))
	for _, v := range data {
		obj, isObj := v.(map[string]any)
		if !isObj {
			id := GenID()
			seen[id] = struct{}{}
			out = append(out, Record{"id": id, "value": v})
			continue
		}
		id, hasID := recordID(obj)
		if _, dup := seen[id]; hasID && !dup {
			seen[id] = struct{}{}
			out = append(out, obj)
			continue
		}
		next := cloneRecord(obj)
		next["id"] = GenID()
		seen[next["id"].(string)] = struct{}{}
		out = append(out, next)
	}
	return out
}

func cloneRecord(in Record) Record {
	out := make(Record, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// merge returns {...base, ...over, id}.
func merge(base, over Record, id string) Record {
	out := make(Record, len(base)+len(over)+1)
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	out["id"] = id
	return out
}

func toAny(records []Record) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}
