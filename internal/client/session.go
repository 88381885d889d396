package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// State is the connection state of a SyncSession.
type State int32

const (
	// StateDisconnected means no push stream and no poller are running.
	StateDisconnected State = iota
	// StateConnecting means the push stream is being opened.
	StateConnecting
	// StateLive means the push stream is open.
	StateLive
	// StateDegraded means the session is polling.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Snapshot is a versioned copy of remote state.
type Snapshot[T any] struct {
	Data    T     `json:"data"`
	Version int64 `json:"version"`
}

// fetchRound is one GET shared by every caller that joined before it was sent.
type fetchRound[T any] struct {
	done chan struct{}
	snap Snapshot[T]
	err  error
}

func newFetchRound[T any]() *fetchRound[T] {
	return &fetchRound[T]{done: make(chan struct{})}
}

// pathFlight tracks the fetch running for one path and the round queued
// behind it.
type pathFlight[T any] struct {
	next *fetchRound[T]
}

// SyncSession keeps a local copy of one remote scope. Snapshots are applied
// last-write-wins: an incoming snapshot replaces the held one when its
// version is at least as new, and onChange is called for every applied
// snapshot, never concurrently.
type SyncSession[T any] struct {
	t        transport
	onChange func(T)
	state    atomic.Int32

	flightMu sync.Mutex
	flights  map[string]*pathFlight[T]

	applyMu sync.Mutex // serializes compare-and-apply with onChange
	mu      sync.RWMutex
	current Snapshot[T]
	has     bool

	lifeMu     sync.Mutex
	cancelPush context.CancelFunc
	cancelPoll context.CancelFunc
	wg         sync.WaitGroup
}

// NewSyncSession creates a session for the store mounted at endpoint.
// onChange may be nil.
func NewSyncSession[T any](endpoint string, onChange func(T), opts ...Option) *SyncSession[T] {
	if onChange == nil {
		onChange = func(T) {}
	}
	return &SyncSession[T]{
		t:        transport{endpoint: trimEndpoint(endpoint), opts: buildOptions(opts)},
		onChange: onChange,
		flights:  map[string]*pathFlight[T]{},
	}
}

// State reports the current connection state.
func (s *SyncSession[T]) State() State { return State(s.state.Load()) }

func (s *SyncSession[T]) setState(st State) { s.state.Store(int32(st)) }

// Current returns the held snapshot and whether one has been applied yet.
func (s *SyncSession[T]) Current() (Snapshot[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.has
}

// FetchAll retrieves endpoint+path and applies the result. The request is
// always sent after the call starts: a call made while a fetch for the same
// path is running waits for it and then shares one follow-up request with
// every other caller that arrived meanwhile. Cancelling ctx stops the wait,
// not the request, whose answer is still applied when it arrives.
func (s *SyncSession[T]) FetchAll(ctx context.Context, path string) (Snapshot[T], error) {
	if path == "" {
		path = "/"
	}
	r := s.join(path)
	select {
	case <-r.done:
		return r.snap, r.err
	case <-ctx.Done():
		return Snapshot[T]{}, ctx.Err()
	}
}

// join returns a round for path that has not been sent yet, sending it right
// away when nothing is in flight.
func (s *SyncSession[T]) join(path string) *fetchRound[T] {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	if f, running := s.flights[path]; running {
		if f.next == nil {
			f.next = newFetchRound[T]()
		}
		return f.next
	}
	f := &pathFlight[T]{}
	s.flights[path] = f
	r := newFetchRound[T]()
	go s.run(path, f, r)
	return r
}

// run sends r and then every round queued behind it until none is left.
func (s *SyncSession[T]) run(path string, f *pathFlight[T], r *fetchRound[T]) {
	for r != nil {
		var snap Snapshot[T]
		r.err = s.t.do(context.Background(), "fetch", http.MethodGet, path, nil, &snap)
		if r.err == nil {
			s.apply(snap)
			r.snap = snap
		}
		close(r.done)

		s.flightMu.Lock()
		r, f.next = f.next, nil
		if r == nil {
			delete(s.flights, path)
		}
		s.flightMu.Unlock()
	}
}

func (s *SyncSession[T]) apply(next Snapshot[T]) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.mu.Lock()
	if s.has && next.Version < s.current.Version {
		s.mu.Unlock()
		s.t.opts.logger.Debug("discarding stale snapshot", "endpoint", s.t.endpoint, "version", next.Version, "current", s.current.Version)
		return
	}
	s.current = next
	s.has = true
	s.mu.Unlock()
	s.onChange(next.Data)
}

// StartPush opens the event stream at endpoint+"/__events" in the background.
// Every update event triggers a FetchAll. When the stream cannot be opened or
// fails later, the session switches to polling for good; it never
// reconnects. Calling StartPush while a stream is running does nothing.
func (s *SyncSession[T]) StartPush(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.cancelPush != nil {
		return
	}
	pushCtx, cancel := context.WithCancel(ctx)
	s.cancelPush = cancel
	s.setState(StateConnecting)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.stream(pushCtx)
		if pushCtx.Err() != nil {
			s.lifeMu.Lock()
			if s.cancelPoll == nil {
				s.setState(StateDisconnected)
			}
			s.lifeMu.Unlock()
			return
		}
		s.t.opts.logger.Info("event stream closed, falling back to polling", "endpoint", s.t.endpoint, "error", err)
		s.fallback(pushCtx)
	}()
}

// fallback starts polling unless the push stream was stopped meanwhile.
func (s *SyncSession[T]) fallback(pushCtx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if pushCtx.Err() != nil {
		return
	}
	s.startPollingLocked(0)
}

var errStreamEnded = errors.New("event stream ended")

func (s *SyncSession[T]) stream(ctx context.Context) error {
	req, err := s.t.newRequest(ctx, http.MethodGet, "/__events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := s.t.opts.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: "subscribe", Status: resp.StatusCode, Message: errorMessage(resp)}
	}
	s.setState(StateLive)

	sc := bufio.NewScanner(resp.Body)
	event := ""
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if event == "update" {
				s.refresh()
			}
			event = ""
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return errStreamEnded
}

// refresh queues a fetch without waiting for it so the stream keeps being
// drained. The fetch outlives Stop and its answer is still applied.
func (s *SyncSession[T]) refresh() {
	r := s.join("/")
	go func() {
		<-r.done
		if r.err != nil {
			s.t.opts.logger.Debug("refetch after update failed", "endpoint", s.t.endpoint, "error", r.err)
		}
	}()
}

// StartPolling fetches every interval until Stop. A non-positive interval
// uses the configured poll interval. Calling it while a poller runs does
// nothing.
func (s *SyncSession[T]) StartPolling(interval time.Duration) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.startPollingLocked(interval)
}

func (s *SyncSession[T]) startPollingLocked(interval time.Duration) {
	if s.cancelPoll != nil {
		return
	}
	if interval <= 0 {
		interval = s.t.opts.pollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelPoll = cancel
	s.setState(StateDegraded)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.FetchAll(ctx, "/"); err != nil && ctx.Err() == nil {
					s.t.opts.logger.Debug("poll failed", "endpoint", s.t.endpoint, "error", err)
				}
			}
		}
	}()
}

// Stop closes the event stream and the poller and waits for their goroutines
// to exit. Fetches already sent are not cancelled; a late answer is still
// applied. Stop may be called from onChange and more than once.
func (s *SyncSession[T]) Stop() {
	s.lifeMu.Lock()
	if s.cancelPush != nil {
		s.cancelPush()
		s.cancelPush = nil
	}
	if s.cancelPoll != nil {
		s.cancelPoll()
		s.cancelPoll = nil
	}
	s.lifeMu.Unlock()
	s.wg.Wait()
	s.setState(StateDisconnected)
}
