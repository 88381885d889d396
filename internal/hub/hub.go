// Package hub is the in-process publish/subscribe registry that fans update
// notifications out to every live subscriber of a scope.
package hub

import (
	"fmt"
	"sync"

	"simplepersist/internal/observability"
)

// Event is the notification published after every successful mutation. It
// tells subscribers that a refetch is warranted; it never carries the data.
type Event struct {
	Scope   string `json:"scope"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Tenant  string `json:"tenant"`
	Version int64  `json:"version"`
	Key     string `json:"key,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Bulk    bool   `json:"bulk,omitempty"`
	Op      string `json:"op,omitempty"`
	ID      string `json:"id,omitempty"`
}

// Listener receives events for one scope.
type Listener func(Event)

type subscriber struct {
	id uint64
	fn Listener
}

// Hub maps scope strings to subscriber lists. A scope entry exists while it
// has at least one subscriber. There is no cap on subscribers per scope.
type Hub struct {
	mu     sync.RWMutex
	scopes map[string][]subscriber
	nextID uint64
	closed bool
	logger observability.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger used to report listener panics.
func WithLogger(l observability.Logger) Option {
	return func(h *Hub) { h.logger = observability.LoggerOrNoop(l) }
}

// New returns an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{scopes: make(map[string][]subscriber), logger: observability.NoopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Emit delivers ev synchronously, in subscription order, to every listener
// subscribed to scope at the time of the call.
func (h *Hub) Emit(scope string, ev Event) {
	h.mu.RLock()
	subs := h.scopes[scope]
	h.mu.RUnlock()
	// subscribe and unsubscribe copy on write, so subs is never mutated under us
	for _, s := range subs {
		h.deliver(scope, s, ev)
	}
}

func (h *Hub) deliver(scope string, s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("update listener panicked", "scope", scope, "panic", fmt.Sprint(r))
		}
	}()
	s.fn(ev)
}

// Subscribe registers fn for scope. The returned function removes exactly
// this registration and may be called any number of times.
func (h *Hub) Subscribe(scope string, fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	h.nextID++
	id := h.nextID
	cur := h.scopes[scope]
	next := make([]subscriber, len(cur), len(cur)+1)
	copy(next, cur)
	h.scopes[scope] = append(next, subscriber{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { h.remove(scope, id) }) }
}

func (h *Hub) remove(scope string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur := h.scopes[scope]
	next := make([]subscriber, 0, len(cur))
	for _, s := range cur {
		if s.id != id {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(h.scopes, scope)
		return
	}
	h.scopes[scope] = next
}

// Subscribers returns the live subscriber count for scope.
func (h *Hub) Subscribers(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.scopes[scope])
}

// Stats reports the registry size.
func (h *Hub) Stats() observability.HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := observability.HubStats{Scopes: len(h.scopes)}
	for _, subs := range h.scopes {
		st.Subscribers += len(subs)
	}
	return st
}

// Close drops every subscriber. Afterwards Emit delivers nothing and
// Subscribe returns a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.scopes = make(map[string][]subscriber)
	h.mu.Unlock()
}
