// Package stream implements the reactive streaming-query layer: a
// StreamingQuery holds a hot broadcast of its latest mapped result list,
// refreshed in response to table/column change notifications raised by
// writes through the data engine.
package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/graknol/declarative-sqlite-go/internal/depanalysis"
	"github.com/graknol/declarative-sqlite-go/internal/query"
	"github.com/graknol/declarative-sqlite-go/internal/sqlconn"
)

// bufferWindow is the coalescing window notifyTableChanged batches events
// over before computing affected streams.
const bufferWindow = 50 * time.Millisecond

// disposeCeiling bounds how long Dispose waits for an in-flight refresh.
const disposeCeiling = 5 * time.Second

// Mapper converts one raw result row into the stream's element type.
type Mapper[T any] func(sqlconn.Row) (T, error)

// Listener receives the latest mapped result list on every observable
// change.
type Listener[T any] func([]T)

type cacheEntry[T any] struct {
	value   T
	version string
}

// StreamingQuery owns one live query: its IR, computed dependencies, a
// per-row cache keyed by system_id for referential stability, and the set
// of currently subscribed listeners.
type StreamingQuery[T any] struct {
	id      string
	manager *Manager

	mu        sync.Mutex
	q         *query.Query
	deps      *depanalysis.Dependencies
	mapper    Mapper[T]
	listeners map[int]Listener[T]
	nextSub   int
	cache      map[string]cacheEntry[T]
	lastIDs    []string
	hasEmitted bool
	last       []T

	refreshMu sync.Mutex
	disposed  bool
}

// NewStreamingQuery constructs a query without registering it; call Listen
// to activate it against m.
func NewStreamingQuery[T any](m *Manager, q *query.Query, mapper Mapper[T]) (*StreamingQuery[T], error) {
	deps, err := m.engine.Analyzer.Analyze(q)
	if err != nil {
		return nil, fmt.Errorf("stream: analyze dependencies: %w", err)
	}
	return &StreamingQuery[T]{
		id:        uuid.New().String(),
		manager:   m,
		q:         q,
		deps:      deps,
		mapper:    mapper,
		listeners: map[int]Listener[T]{},
		cache:     map[string]cacheEntry[T]{},
	}, nil
}

// ID returns the stream's identity, used for manager inventory.
func (s *StreamingQuery[T]) ID() string { return s.id }

func (s *StreamingQuery[T]) dependencies() *depanalysis.Dependencies {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deps
}

func (s *StreamingQuery[T]) listenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// subscription is returned by Listen; call it to unsubscribe.
type subscription func()

// Listen registers fn to receive every future emission. On the first
// listener, the stream registers with the manager and triggers a refresh;
// the returned subscription unsubscribes fn, and when the last listener is
// gone the stream unregisters and clears its result-id list and cache
// (without closing — it can reactivate on a later Listen).
func (s *StreamingQuery[T]) Listen(fn Listener[T]) subscription {
	s.mu.Lock()
	wasEmpty := len(s.listeners) == 0
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.mu.Unlock()

	if wasEmpty {
		s.manager.register(s)
		go s.Refresh()
	}

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		empty := len(s.listeners) == 0
		s.mu.Unlock()

		if empty {
			s.manager.unregisterOnly(s.id)
			s.mu.Lock()
			s.lastIDs = nil
			s.cache = map[string]cacheEntry[T]{}
			s.hasEmitted = false
			s.mu.Unlock()
		}
	}
}

func (s *StreamingQuery[T]) broadcast(items []T) {
	s.mu.Lock()
	s.last = items
	fns := make([]Listener[T], 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(items)
	}
}

// Latest returns the most recently emitted list, or nil if the stream has
// never refreshed.
func (s *StreamingQuery[T]) Latest() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Refresh executes the query, reconciles the result against the per-row
// cache, and emits a new list only when something observable changed.
func (s *StreamingQuery[T]) Refresh() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.isDisposed() {
		return
	}

	s.mu.Lock()
	q := s.q
	mapper := s.mapper
	s.mu.Unlock()

	rows, err := s.manager.engine.QueryMaps(q)
	if err != nil {
		return // a failed refresh leaves the last good emission in place
	}

	newIDs := make([]string, 0, len(rows))
	for _, r := range rows {
		newIDs = append(newIDs, fmt.Sprint(r["system_id"]))
	}

	s.mu.Lock()
	unchanged := s.hasEmitted && sameIDs(s.lastIDs, newIDs)
	if unchanged {
		for i, id := range newIDs {
			entry, ok := s.cache[id]
			if !ok || entry.version != fmt.Sprint(rows[i]["system_version"]) {
				unchanged = false
				break
			}
		}
	}
	if unchanged {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	items := make([]T, 0, len(rows))
	newCache := make(map[string]cacheEntry[T], len(rows))
	for i, r := range rows {
		id := newIDs[i]
		version := fmt.Sprint(r["system_version"])

		s.mu.Lock()
		entry, ok := s.cache[id]
		s.mu.Unlock()

		if ok && entry.version == version {
			items = append(items, entry.value)
			newCache[id] = entry
			continue
		}
		mapped, err := mapper(r)
		if err != nil {
			return
		}
		items = append(items, mapped)
		newCache[id] = cacheEntry[T]{value: mapped, version: version}
	}

	s.mu.Lock()
	s.cache = newCache
	s.lastIDs = newIDs
	s.hasEmitted = true
	disposed := s.disposed
	s.mu.Unlock()

	// A dispose() that arrived while this refresh was in flight is allowed
	// to let the refresh run to completion, but its result must never
	// reach subscribers: emission, not just the refresh itself, is what
	// dispose suppresses.
	if disposed {
		return
	}
	s.broadcast(items)
}

// UpdateQuery atomically swaps the query and/or mapper. A structurally
// equal replacement query is a no-op; a mapper change invalidates the
// cache before the triggered refresh.
func (s *StreamingQuery[T]) UpdateQuery(q *query.Query, mapper Mapper[T]) error {
	s.mu.Lock()
	sameQuery := s.q.Equal(q)
	mapperChanged := mapper != nil
	if !sameQuery {
		deps, err := s.manager.engine.Analyzer.Analyze(q)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("stream: analyze dependencies: %w", err)
		}
		s.q = q
		s.deps = deps
	}
	if mapperChanged {
		s.mapper = mapper
		s.cache = map[string]cacheEntry[T]{}
		s.lastIDs = nil
	}
	s.mu.Unlock()

	if sameQuery && !mapperChanged {
		return nil
	}
	go s.Refresh()
	return nil
}

func (s *StreamingQuery[T]) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// dispose marks the stream disposed, awaits any in-flight refresh with a
// ceiling, and clears the cache. Subsequent calls are no-ops.
func (s *StreamingQuery[T]) dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.refreshMu.Lock()
		s.refreshMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(disposeCeiling):
	}

	s.mu.Lock()
	s.cache = map[string]cacheEntry[T]{}
	s.lastIDs = nil
	s.listeners = map[int]Listener[T]{}
	s.mu.Unlock()
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
