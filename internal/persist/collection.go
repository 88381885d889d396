package persist

import (
	"context"
	"fmt"
	"time"

	"simplepersist/internal/hub"
	"simplepersist/internal/storage"
)

// CollectionKey is the reserved storage key holding the whole record array.
const CollectionKey = "__collection"

// CollectionService is tenant-scoped CRUD over an ordered array of records
// with unique string ids. The array is stored as one value; every mutation
// reads it, changes it in memory and writes it back while holding the scope's
// write lock, so writers inside one service instance never lose updates.
type CollectionService struct {
	base
	validation CollectionValidation
}

// NewCollectionService constructs the service for store name on opener.
func NewCollectionService(name string, opener storage.Opener, opts ...Option) *CollectionService {
	o := buildOptions(opts)
	return &CollectionService{
		base:       newBase(name, storage.KindCollection, opener, o),
		validation: o.CollectionValidation,
	}
}

func (s *CollectionService) check(item Record) error {
	if s.validation != nil && !s.validation(item) {
		id, _ := item["id"].(string)
		return &ValidationError{Store: s.name, Key: id, Item: item}
	}
	return nil
}

// readAll loads the array, normalizing and persisting it back when any
// element is not a record with a unique string id.
func (s *CollectionService) readAll(ctx context.Context, a storage.Adapter) ([]Record, error) {
	raw, ok, err := a.Get(ctx, CollectionKey)
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	if !ok {
		return []Record{}, nil
	}
	var decoded any
	if err := jsonUnmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	arr, isArr := decoded.([]any)
	if isArr && !NeedsNormalization(arr) {
		out := make([]Record, len(arr))
		for i, v := range arr {
			out[i] = v.(map[string]any)
		}
		return out, nil
	}
	normalized := NormalizeCollection(arr)
	if err := s.writeAll(ctx, a, normalized); err != nil {
		return nil, err
	}
	s.logger.Info("normalized collection", "store", s.name, "records", len(normalized))
	return normalized, nil
}

func (s *CollectionService) writeAll(ctx context.Context, a storage.Adapter, records []Record) error {
	raw, err := jsonMarshal(records)
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}
	if err := a.Set(ctx, CollectionKey, raw); err != nil {
		return fmt.Errorf("set collection: %w", err)
	}
	return nil
}

// mutate runs fn on the current array under the scope write lock, persists
// the array fn returns and announces ev stamped with the new version.
func (s *CollectionService) mutate(ctx context.Context, tenant string, ev hub.Event, fn func([]Record) ([]Record, error)) (int64, error) {
	scope := s.Scope(tenant)
	release := s.locks.acquire(scope, true)
	var version int64
	err := s.withAdapter(ctx, tenant, func(a storage.Adapter) error {
		cur, err := s.readAll(ctx, a)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		if err := s.writeAll(ctx, a, next); err != nil {
			return err
		}
		version = s.stamp(scope)
		return nil
	})
	release()
	if err != nil {
		return 0, err
	}
	ev.Tenant = normalizeTenant(tenant)
	ev.Version = version
	s.emit(scope, ev)
	return version, nil
}

func indexOf(records []Record, id string) int {
	for i, r := range records {
		if rid, _ := r["id"].(string); rid == id {
			return i
		}
	}
	return -1
}

// GetAll returns the whole collection, normalizing it first when needed.
func (s *CollectionService) GetAll(ctx context.Context, tenant string) (snap Snapshot[[]Record], err error) {
	defer func(start time.Time) { s.observe(ctx, "get_all", start, err) }(time.Now())
	scope := s.Scope(tenant)
	// write lock: readAll may persist a normalized array
	release := s.locks.acquire(scope, true)
	defer release()
	snap.Version = s.currentVersion(scope)
	err = s.withAdapter(ctx, tenant, func(a storage.Adapter) error {
		var err error
		snap.Data, err = s.readAll(ctx, a)
		return err
	})
	if err != nil {
		return Snapshot[[]Record]{}, err
	}
	return snap, nil
}

// PutAll replaces the collection. Elements are normalized first and every
// resulting record must pass validation, otherwise nothing is written.
func (s *CollectionService) PutAll(ctx context.Context, tenant string, data []any) (version int64, err error) {
	defer func(start time.Time) { s.observe(ctx, "put_all", start, err) }(time.Now())
	normalized := NormalizeCollection(data)
	for _, r := range normalized {
		if err := s.check(r); err != nil {
			return 0, err
		}
	}
	scope := s.Scope(tenant)
	release := s.locks.acquire(scope, true)
	err = s.withAdapter(ctx, tenant, func(a storage.Adapter) error {
		if err := s.writeAll(ctx, a, normalized); err != nil {
			return err
		}
		version = s.stamp(scope)
		return nil
	})
	release()
	if err != nil {
		return 0, err
	}
	s.emit(scope, hub.Event{Tenant: normalizeTenant(tenant), Version: version})
	return version, nil
}

// Add appends item, generating an id when it has no non-empty string id. An
// existing record with the same id is shallow-merged with item instead. The
// stored record is returned.
func (s *CollectionService) Add(ctx context.Context, tenant string, item Record) (out Record, version int64, err error) {
	defer func(start time.Time) { s.observe(ctx, "add", start, err) }(time.Now())
	withID := item
	id, ok := item["id"].(string)
	if !ok || id == "" {
		id = GenID()
		withID = merge(nil, item, id)
	}
	if err := s.check(withID); err != nil {
		return nil, 0, err
	}
	version, err = s.mutate(ctx, tenant, hub.Event{Op: "add", ID: id}, func(cur []Record) ([]Record, error) {
		if i := indexOf(cur, id); i >= 0 {
			out = merge(cur[i], withID, id)
			cur[i] = out
			return cur, nil
		}
		out = withID
		return append(cur, withID), nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, version, nil
}

// Put replaces the record at id with {...item, id}, appending it when absent.
func (s *CollectionService) Put(ctx context.Context, tenant, id string, item Record) (out Record, version int64, err error) {
	defer func(start time.Time) { s.observe(ctx, "put", start, err) }(time.Now())
	if id == "" {
		return nil, 0, ErrInvalidKey
	}
	out = merge(nil, item, id)
	if err := s.check(out); err != nil {
		return nil, 0, err
	}
	version, err = s.mutate(ctx, tenant, hub.Event{Op: "put", ID: id}, func(cur []Record) ([]Record, error) {
		if i := indexOf(cur, id); i >= 0 {
			cur[i] = out
			return cur, nil
		}
		return append(cur, out), nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, version, nil
}

// Patch shallow-merges partial into the record at id (or into an empty
// record when absent) and validates the result before writing.
func (s *CollectionService) Patch(ctx context.Context, tenant, id string, partial Record) (out Record, version int64, err error) {
	defer func(start time.Time) { s.observe(ctx, "patch", start, err) }(time.Now())
	if id == "" {
		return nil, 0, ErrInvalidKey
	}
	version, err = s.mutate(ctx, tenant, hub.Event{Op: "patch", ID: id}, func(cur []Record) ([]Record, error) {
		i := indexOf(cur, id)
		if i < 0 {
			out = merge(nil, partial, id)
		} else {
			out = merge(cur[i], partial, id)
		}
		if err := s.check(out); err != nil {
			return nil, err
		}
		if i < 0 {
			return append(cur, out), nil
		}
		cur[i] = out
		return cur, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, version, nil
}

// Delete removes the record at id. Deleting an absent id is not an error.
func (s *CollectionService) Delete(ctx context.Context, tenant, id string) (version int64, err error) {
	defer func(start time.Time) { s.observe(ctx, "delete", start, err) }(time.Now())
	return s.mutate(ctx, tenant, hub.Event{Op: "delete", ID: id}, func(cur []Record) ([]Record, error) {
		next := cur[:0]
		for _, r := range cur {
			if rid, _ := r["id"].(string); rid != id {
				next = append(next, r)
			}
		}
		return next, nil
	})
}
