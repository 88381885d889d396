package persist

import (
	"context"
	"fmt"
	"sort"
	"time"

	"simplepersist/internal/hub"
	"simplepersist/internal/storage"
)

// KeyValueService is tenant-scoped CRUD over flat key/value pairs.
type KeyValueService struct {
	base
	validation KeyValueValidation
}

// Entry is a single key read.
type Entry struct {
	Key     string `json:"key"`
	Value   any    `json:"value"`
	Version int64  `json:"version"`
}

// NewKeyValueService constructs the service for store name on opener.
func NewKeyValueService(name string, opener storage.Opener, opts ...Option) *KeyValueService {
	o := buildOptions(opts)
	return &KeyValueService{
		base:       newBase(name, storage.KindKeyValue, opener, o),
		validation: o.KeyValueValidation,
	}
}

func (s *KeyValueService) valid(key string, value any) bool {
	return s.validation == nil || s.validation(key, value)
}

// GetAll resolves every key of tenant. Writes racing with the enumeration may
// or may not be visible.
func (s *KeyValueService) GetAll(ctx context.Context, tenant string) (snap Snapshot[map[string]any], err error) {
	defer func(start time.Time) { s.observe(ctx, "get_all", start, err) }(time.Now())
	scope := s.Scope(tenant)
	release := s.locks.acquire(scope, false)
	defer release()
	snap.Version = s.currentVersion(scope)
	snap.Data = make(map[string]any)
	err = s.withAdapter(ctx, tenant, func(a storage.Adapter) error {
		keys, err := a.Keys(ctx)
		if err != nil {
			return fmt.Errorf("list keys: %w", err)
		}
		for _, k := range keys {
			raw, ok, err := a.Get(ctx, k)
			if err != nil {
				return fmt.Errorf("get %s: %w", k, err)
			}
			if !ok {
				// removed between Keys and Get
				continue
			}
			var v any
			if err := jsonUnmarshal(raw, &v); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			snap.Data[k] = v
		}
		return nil
	})
	if err != nil {
		return Snapshot[map[string]any]{}, err
	}
	return snap, nil
}

// Get returns the entry at key. The bool is false when the key is absent.
func (s *KeyValueService) Get(ctx context.Context, tenant, key string) (entry Entry, found bool, err error) {
	defer func(start time.Time) { s.observe(ctx, "get", start, err) }(time.Now())
	if key == "" {
		return Entry{}, false, ErrInvalidKey
	}
	scope := s.Scope(tenant)
	release := s.locks.acquire(scope, false)
	defer release()
	entry = Entry{Key: key, Version: s.currentVersion(scope)}
	err = s.withAdapter(ctx, tenant, func(a storage.Adapter) error {
		raw, ok, err := a.Get(ctx, key)
		if err != nil || !ok {
			return err
		}
		found = true
		return jsonUnmarshal(raw, &entry.Value)
	})
	if err != nil {
		return Entry{}, false, err
	}
	return entry, found, nil
}

// Put validates and writes value at key, then announces the change.
func (s *KeyValueService) Put(ctx context.Context, tenant, key string, value any) (version int64, err error) {
	defer func(start time.Time) { s.observe(ctx, "put", start, err) }(time.Now())
	if key == "" {
		return 0, ErrInvalidKey
	}
	if !s.valid(key, value) {
		return 0, &ValidationError{Store: s.name, Key: key}
	}
	raw, err := jsonMarshal(value)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", key, err)
	}
	scope := s.Scope(tenant)
	release := s.locks.acquire(scope, true)
	err = s.withAdapter(ctx, tenant, func(a storage.Adapter) error {
		return a.Set(ctx, key, raw)
	})
	if err == nil {
		version = s.stamp(scope)
	}
	release()
	if err != nil {
		return 0, err
	}
	s.emit(scope, hub.Event{Tenant: normalizeTenant(tenant), Version: version, Key: key})
	return version, nil
}

// Delete removes key without checking that it exists.
func (s *KeyValueService) Delete(ctx context.Context, tenant, key string) (version int64, err error) {
	defer func(start time.Time) { s.observe(ctx, "delete", start, err) }(time.Now())
	if key == "" {
		return 0, ErrInvalidKey
	}
	scope := s.Scope(tenant)
	release := s.locks.acquire(scope, true)
	err = s.withAdapter(ctx, tenant, func(a storage.Adapter) error {
		return a.Remove(ctx, key)
	})
	if err == nil {
		version = s.stamp(scope)
	}
	release()
	if err != nil {
		return 0, err
	}
	s.emit(scope, hub.Event{Tenant: normalizeTenant(tenant), Version: version, Key: key, Deleted: true})
	return version, nil
}

// Bulk applies upserts in ascending key order, validating each one, then
// removes deleteKeys. The first rejected upsert aborts the call with a
// *ValidationError; upserts written before it stay written and are still
// announced with a bulk event.
func (s *KeyValueService) Bulk(ctx context.Context, tenant string, upsert map[string]any, deleteKeys []string) (version int64, err error) {
	defer func(start time.Time) { s.observe(ctx, "bulk", start, err) }(time.Now())
	keys := make([]string, 0, len(upsert))
	for k := range upsert {
		if k == "" {
			return 0, ErrInvalidKey
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	scope := s.Scope(tenant)
	release := s.locks.acquire(scope, true)
	written := 0
	err = s.withAdapter(ctx, tenant, func(a storage.Adapter) error {
		for _, k := range keys {
			v := upsert[k]
			if !s.valid(k, v) {
				return &ValidationError{Store: s.name, Key: k}
			}
			raw, err := jsonMarshal(v)
			if err != nil {
				return fmt.Errorf("encode %s: %w", k, err)
			}
			if err := a.Set(ctx, k, raw); err != nil {
				return fmt.Errorf("set %s: %w", k, err)
			}
			written++
		}
		for _, k := range deleteKeys {
			if k == "" {
				continue
			}
			if err := a.Remove(ctx, k); err != nil {
				return fmt.Errorf("remove %s: %w", k, err)
			}
			written++
		}
		return nil
	})
	if err == nil || written > 0 {
		version = s.stamp(scope)
	}
	release()
	if err == nil || written > 0 {
		s.emit(scope, hub.Event{Tenant: normalizeTenant(tenant), Version: version, Bulk: true})
	}
	if err != nil {
		if written > 0 {
			s.logger.Warn("bulk write aborted after partial commit", "store", s.name, "tenant", normalizeTenant(tenant), "written", written, "error", err)
		}
		return 0, err
	}
	return version, nil
}
