package stream

import (
	"sync"
	"time"

	"github.com/graknol/declarative-sqlite-go/internal/ddbengine"
	"github.com/graknol/declarative-sqlite-go/internal/depanalysis"
)

// registeredStream is the non-generic view of a StreamingQuery the
// manager operates over; every instantiation of StreamingQuery[T]
// satisfies it.
type registeredStream interface {
	ID() string
	dependencies() *depanalysis.Dependencies
	Refresh()
	dispose()
}

// Manager is the per-engine registry of active streams. It registers
// itself with the engine as a
// ChangeNotifier so every insert/update/delete/bulkLoad fans out here.
type Manager struct {
	engine *ddbengine.Engine

	mu      sync.RWMutex
	streams map[string]registeredStream

	events chan string
	wg     sync.WaitGroup

	disposeOnce sync.Once
	done        chan struct{}
}

// NewManager builds a Manager bound to engine and starts its batching
// goroutine. The manager registers itself with engine immediately.
func NewManager(engine *ddbengine.Engine) *Manager {
	m := &Manager{
		engine:  engine,
		streams: map[string]registeredStream{},
		events:  make(chan string, 256),
		done:    make(chan struct{}),
	}
	engine.AddNotifier(m)
	m.wg.Add(1)
	go m.batchLoop()
	return m
}

func (m *Manager) register(s registeredStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[s.ID()] = s
}

// Unregister removes id from the inventory and asynchronously disposes it.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	s, ok := m.streams[id]
	delete(m.streams, id)
	m.mu.Unlock()
	if ok {
		go s.dispose()
	}
}

// unregisterOnly removes id from the inventory without disposing it (the
// stream may reactivate on a later Listen).
func (m *Manager) unregisterOnly(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, id)
}

// NotifyTablesChanged implements ddbengine.ChangeNotifier: each named
// table is enqueued into the 50ms coalescing buffer.
func (m *Manager) NotifyTablesChanged(tables []string) {
	for _, t := range tables {
		m.enqueue(t)
	}
}

// NotifyColumnChanged filters directly against the column-level predicate
// and refreshes affected streams synchronously — column-precise
// notifications are rare enough not to warrant buffering.
func (m *Manager) NotifyColumnChanged(table, column string) {
	m.mu.RLock()
	var affected []registeredStream
	for _, s := range m.streams {
		if s.dependencies().AffectedByColumn(table, column) {
			affected = append(affected, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range affected {
		s.Refresh()
	}
}

// NotifyMultipleTablesChanged batches every table the same way
// NotifyTablesChanged does; used by migrations and bulk loads.
func (m *Manager) NotifyMultipleTablesChanged(tables []string) {
	m.NotifyTablesChanged(tables)
}

func (m *Manager) enqueue(table string) {
	select {
	case m.events <- table:
		return
	default:
	}
	// Buffer full: process the table synchronously on the caller's
	// goroutine rather than dropping the notification — a notification
	// must never be lost.
	m.processTables([]string{table})
}

func (m *Manager) batchLoop() {
	defer m.wg.Done()
	pending := map[string]struct{}{}
	timer := time.NewTimer(bufferWindow)
	if !timer.Stop() {
		<-timer.C
	}
	timerRunning := false

	flush := func() {
		if len(pending) == 0 {
			return
		}
		tables := make([]string, 0, len(pending))
		for t := range pending {
			tables = append(tables, t)
		}
		pending = map[string]struct{}{}
		m.processTables(tables)
	}

	for {
		select {
		case t, ok := <-m.events:
			if !ok {
				flush()
				return
			}
			pending[t] = struct{}{}
			if !timerRunning {
				timer.Reset(bufferWindow)
				timerRunning = true
			}
		case <-timer.C:
			timerRunning = false
			flush()
		case <-m.done:
			flush()
			return
		}
	}
}

func (m *Manager) processTables(tables []string) {
	m.mu.RLock()
	affectedSet := map[registeredStream]struct{}{}
	for _, t := range tables {
		for _, s := range m.streams {
			if s.dependencies().AffectedByTable(t) {
				affectedSet[s] = struct{}{}
			}
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for s := range affectedSet {
		wg.Add(1)
		go func(s registeredStream) {
			defer wg.Done()
			s.Refresh()
		}(s)
	}
	wg.Wait()
}

// Cleanup drops streams that currently have no listeners, freeing their
// cache and id list.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.streams {
		if ls, ok := s.(interface{ listenerCount() int }); ok && ls.listenerCount() == 0 {
			delete(m.streams, id)
		}
	}
}

// Dispose awaits outstanding refreshes, disposes every registered stream,
// and stops the batching goroutine.
func (m *Manager) Dispose() {
	m.disposeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()

		m.mu.Lock()
		streams := make([]registeredStream, 0, len(m.streams))
		for _, s := range m.streams {
			streams = append(streams, s)
		}
		m.streams = map[string]registeredStream{}
		m.mu.Unlock()

		var wg sync.WaitGroup
		for _, s := range streams {
			wg.Add(1)
			go func(s registeredStream) {
				defer wg.Done()
				s.dispose()
			}(s)
		}
		wg.Wait()
	})
}
