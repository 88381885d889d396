// Package persist implements the tenant-scoped key/value and collection
// services. Reads return versioned snapshots; every successful mutation is
// announced on the update hub so subscribers know to refetch.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"simplepersist/internal/hub"
	"simplepersist/internal/observability"
	"simplepersist/internal/storage"
)

// DefaultTenant is used when a caller passes an empty tenant.
const DefaultTenant = "default"

// Snapshot is the full state of one scope together with its version.
type Snapshot[T any] struct {
	Data    T     `json:"data"`
	Version int64 `json:"version"`
}

// Clock supplies the wall-clock time versions are derived from.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Options configures a service instance.
type Options struct {
	Hub                  *hub.Hub
	KeyValueValidation   KeyValueValidation
	CollectionValidation CollectionValidation
	Logger               observability.Logger
	Metrics              observability.MetricsRecorder
	Clock                Clock
}

// Option mutates Options.
type Option func(*Options)

// WithHub shares hub between services. By default each service owns its own.
func WithHub(h *hub.Hub) Option { return func(o *Options) { o.Hub = h } }

// WithKeyValueValidation sets the per-write predicate of a key/value service.
func WithKeyValueValidation(fn KeyValueValidation) Option {
	return func(o *Options) { o.KeyValueValidation = fn }
}

// WithCollectionValidation sets the per-record predicate of a collection service.
func WithCollectionValidation(fn CollectionValidation) Option {
	return func(o *Options) { o.CollectionValidation = fn }
}

// WithLogger sets the service logger.
func WithLogger(l observability.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option { return func(o *Options) { o.Metrics = m } }

// WithClock overrides the version clock.
func WithClock(c Clock) Option { return func(o *Options) { o.Clock = c } }

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.Hub == nil {
		o.Hub = hub.New(hub.WithLogger(o.Logger))
	}
	o.Logger = observability.LoggerOrNoop(o.Logger)
	if o.Metrics == nil {
		o.Metrics = observability.NoopMetrics{}
	}
	if o.Clock == nil {
		o.Clock = ClockFunc(time.Now)
	}
	return o
}

// base carries what both services share: storage access, per-scope locking,
// version bookkeeping and observability.
type base struct {
	name    string
	kind    storage.Kind
	opener  storage.Opener
	hub     *hub.Hub
	logger  observability.Logger
	metrics observability.MetricsRecorder
	clock   Clock
	locks   scopeLocks

	vmu      sync.Mutex
	versions map[string]int64
}

func newBase(name string, kind storage.Kind, opener storage.Opener, o Options) base {
	return base{
		name:     name,
		kind:     kind,
		opener:   opener,
		hub:      o.Hub,
		logger:   o.Logger,
		metrics:  o.Metrics,
		clock:    o.Clock,
		locks:    scopeLocks{m: make(map[string]*scopeLock)},
		versions: make(map[string]int64),
	}
}

func normalizeTenant(t string) string {
	if t == "" {
		return DefaultTenant
	}
	return t
}

// Scope returns the notification scope of tenant.
func (b *base) Scope(tenant string) string {
	return fmt.Sprintf("%s:%s:%s", b.kind, b.name, normalizeTenant(tenant))
}

// Name returns the store name.
func (b *base) Name() string { return b.name }

// Hub returns the hub this service publishes on.
func (b *base) Hub() *hub.Hub { return b.hub }

// Subscribe registers fn for updates of tenant's scope.
func (b *base) Subscribe(tenant string, fn hub.Listener) (unsubscribe func()) {
	return b.hub.Subscribe(b.Scope(tenant), fn)
}

func (b *base) location(tenant string) storage.Location {
	return storage.Location{Kind: b.kind, Name: b.name, Tenant: normalizeTenant(tenant)}
}

func (b *base) withAdapter(ctx context.Context, tenant string, fn func(storage.Adapter) error) error {
	a, err := b.opener.Open(ctx, b.location(tenant))
	if err != nil {
		return fmt.Errorf("open %s: %w", b.location(tenant), err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			b.logger.Warn("close storage adapter failed", "store", b.name, "tenant", tenant, "error", cerr)
		}
	}()
	return fn(a)
}

// stamp assigns the version of a mutation on scope. Versions never go
// backwards within a service instance; equal versions are allowed.
func (b *base) stamp(scope string) int64 {
	now := b.clock.Now().UnixMilli()
	b.vmu.Lock()
	defer b.vmu.Unlock()
	if prev := b.versions[scope]; prev > now {
		now = prev
	}
	b.versions[scope] = now
	return now
}

// currentVersion is the version of the last mutation on scope, or the
// current time when none has been seen yet.
func (b *base) currentVersion(scope string) int64 {
	b.vmu.Lock()
	defer b.vmu.Unlock()
	if v, ok := b.versions[scope]; ok {
		return v
	}
	v := b.clock.Now().UnixMilli()
	b.versions[scope] = v
	return v
}

func (b *base) emit(scope string, ev hub.Event) {
	ev.Scope = scope
	ev.Type = string(b.kind)
	ev.Name = b.name
	b.hub.Emit(scope, ev)
}

func (b *base) observe(ctx context.Context, op string, started time.Time, err error) {
	b.metrics.Observe(ctx, b.name, op, err == nil, time.Since(started))
	if err != nil {
		b.logger.Debug("store operation failed", "store", b.name, "kind", b.kind, "op", op, "error", err)
	}
}

// encoding seam for stored payloads.
var (
	jsonMarshal   = json.Marshal
	jsonUnmarshal = json.Unmarshal
)

type scopeLock struct {
	sync.RWMutex
	refs int
}

// scopeLocks hands out one RWMutex per scope, dropping entries nobody holds.
type scopeLocks struct {
	mu sync.Mutex
	m  map[string]*scopeLock
}

func (l *scopeLocks) acquire(scope string, write bool) (release func()) {
	l.mu.Lock()
	sl, ok := l.m[scope]
	if !ok {
		sl = &scopeLock{}
		l.m[scope] = sl
	}
	sl.refs++
	l.mu.Unlock()

	if write {
		sl.Lock()
	} else {
		sl.RLock()
	}
	return func() {
		if write {
			sl.Unlock()
		} else {
			sl.RUnlock()
		}
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.m, scope)
		}
		l.mu.Unlock()
	}
}
