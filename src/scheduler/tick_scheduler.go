package scheduler

import (
	"sort"
	"sync"
	"time"

	"telemetry-observer/src/interfaces"
)

// DefaultTickInterval approximates one render frame.
const DefaultTickInterval = 16 * time.Millisecond

// -----------------------------------------------------------------------------
// TickScheduler runs scheduled callbacks once per tick on a single goroutine,
// the engine's render loop. Callbacks scheduled during a tick run on the next
// one.
// -----------------------------------------------------------------------------

type TickScheduler struct {
	mu      sync.Mutex
	pending map[uint64]func()
	nextID  uint64
	ticker  *time.Ticker
	done    chan struct{}
	stopped bool
}

// -----------------------------------------------------------------------------

// NewTickScheduler creates and starts a scheduler. A non-positive interval
// uses DefaultTickInterval.
func NewTickScheduler(interval time.Duration) *TickScheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	s := &TickScheduler{
		pending: make(map[uint64]func()),
		ticker:  time.NewTicker(interval),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// -----------------------------------------------------------------------------

// Schedule queues fn for the next tick. The returned cancel handle is safe to
// call at any time, including after the callback has fired.
func (s *TickScheduler) Schedule(fn func()) interfaces.CancelFn {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return func() {}
	}

	id := s.nextID
	s.nextID++
	s.pending[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}
}

// -----------------------------------------------------------------------------

// Stop terminates the loop and discards pending callbacks.
func (s *TickScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.pending = make(map[uint64]func())
	s.mu.Unlock()

	s.ticker.Stop()
	close(s.done)
}

// -----------------------------------------------------------------------------

func (s *TickScheduler) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C:
			s.flush()
		}
	}
}

// flush executes the callbacks queued before this tick, in schedule order.
func (s *TickScheduler) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = make(map[uint64]func())
	s.mu.Unlock()

	ids := make([]uint64, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		batch[id]()
	}
}
