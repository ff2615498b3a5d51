package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the default bound on a subscriber's event queue
// (spec.md §4.1).
const DefaultQueueSize = 1000

// core holds the state shared by a root Bus and every Bus derived from it
// via Child: the subscriber set and the ID allocator. Scoping (Child) only
// changes which graph_id/stream_id get stamped on publish; it never forks
// the subscriber set, so a subscription made on the root sees events
// published through any of its children.
type core struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscription
	nextID    uint64
	queueSize int
	debugSink atomic.Pointer[func(AgentEvent)]
	reserved  atomic.Bool
}

// Bus is an in-memory, process-local typed pub/sub. The zero value is not
// usable; construct with New.
type Bus struct {
	core     *core
	graphID  string // stamped by Child, empty on the root bus
	streamID string // stamped by Child, empty unless scoped to a stream
}

// Handle identifies an active subscription for Unsubscribe.
type Handle uint64

type subscription struct {
	filter  Filter
	handler Handler

	mu       sync.Mutex
	queue    []AgentEvent
	capacity int
	dropped  atomic.Uint64
	signal   chan struct{}
	closed   atomic.Bool
	done     chan struct{}
}

// New creates a root event bus with the default per-subscriber queue size.
func New() *Bus {
	return NewWithQueueSize(DefaultQueueSize)
}

// NewWithQueueSize creates a root bus with a custom per-subscriber queue bound.
func NewWithQueueSize(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{core: &core{
		subs:      make(map[uint64]*subscription),
		queueSize: queueSize,
	}}
}

// SetDebugSink installs a callback invoked synchronously for every event
// any bus derived from the same root publishes (before fan-out to
// subscribers). Feeds the opt-in JSONL event debug log (spec.md §6). A nil
// sink disables it.
func (b *Bus) SetDebugSink(sink func(AgentEvent)) {
	if sink == nil {
		b.core.debugSink.Store(nil)
		return
	}
	b.core.debugSink.Store(&sink)
}

// SetReservedEventsEnabled gates EmitReserved. Off by default: spec.md §9's
// Open Questions reserve EventStreamStarted/EventContextCompacted for a
// future emitter without committing to one yet, so nothing in this engine
// calls EmitReserved today, but a deployment can flip this on to let a
// forward-compatible client exercise handling of those types early.
func (b *Bus) SetReservedEventsEnabled(enabled bool) {
	b.core.reserved.Store(enabled)
}

// ReservedEventsEnabled reports whether EmitReserved will publish.
func (b *Bus) ReservedEventsEnabled() bool {
	return b.core.reserved.Load()
}

// EmitReserved publishes a reserved event type (EventStreamStarted,
// EventContextCompacted) if enabled via SetReservedEventsEnabled, and is a
// no-op otherwise or for any other event type.
func (b *Bus) EmitReserved(typ EventType, data map[string]any) {
	if typ != EventStreamStarted && typ != EventContextCompacted {
		return
	}
	if !b.ReservedEventsEnabled() {
		return
	}
	b.Publish(NewEvent(typ, data))
}

// Publish enqueues the event to every subscription whose filter matches.
// Never blocks: a subscriber at capacity drops its oldest queued event.
// Publishers observe no error — overflow is only visible via Dropped().
func (b *Bus) Publish(e AgentEvent) {
	if b.graphID != "" && e.GraphID == "" {
		e.GraphID = b.graphID
	}
	if b.streamID != "" && e.StreamID == "" {
		e.StreamID = b.streamID
	}

	c := b.core
	c.mu.RLock()
	matching := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		if s.filter.matches(e) {
			matching = append(matching, s)
		}
	}
	c.mu.RUnlock()

	if sinkPtr := c.debugSink.Load(); sinkPtr != nil {
		(*sinkPtr)(e)
	}

	for _, s := range matching {
		s.enqueue(e)
	}
}

// Subscribe registers handler for events matching filter. Events are
// delivered in publication order on a dedicated goroutine per subscription,
// so a slow handler never delays other subscribers or the publisher.
func (b *Bus) Subscribe(filter Filter, handler Handler) Handle {
	c := b.core
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	s := &subscription{
		filter:   filter,
		handler:  handler,
		capacity: c.queueSize,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	c.subs[id] = s
	c.mu.Unlock()

	go s.deliverLoop()
	return Handle(id)
}

// Unsubscribe stops delivery for handle. Idempotent: unsubscribing a
// handle twice, or one that was never registered, is a no-op.
func (b *Bus) Unsubscribe(h Handle) {
	c := b.core
	c.mu.Lock()
	s, ok := c.subs[uint64(h)]
	if ok {
		delete(c.subs, uint64(h))
	}
	c.mu.Unlock()
	if ok {
		s.close()
	}
}

// Dropped returns the number of events dropped for overflow on the
// subscription identified by h, or 0 if h is unknown.
func (b *Bus) Dropped(h Handle) uint64 {
	c := b.core
	c.mu.RLock()
	s, ok := c.subs[uint64(h)]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	return s.dropped.Load()
}

// Scope selects which identity fields a child bus stamps onto every event
// it publishes.
type Scope struct {
	GraphID  string
	StreamID string
}

// Child returns a derived bus sharing this bus's subscriber set but
// stamping scope.GraphID / scope.StreamID onto every published event that
// doesn't already carry one. Used by GraphExecutor and ExecutionStream so
// callers don't have to pass scope on every Publish call.
func (b *Bus) Child(scope Scope) *Bus {
	return &Bus{
		core:     b.core,
		graphID:  firstNonEmpty(scope.GraphID, b.graphID),
		streamID: firstNonEmpty(scope.StreamID, b.streamID),
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (s *subscription) enqueue(e AgentEvent) {
	s.mu.Lock()
	if len(s.queue) >= s.capacity {
		s.queue = s.queue[1:]
		s.dropped.Add(1)
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) deliverLoop() {
	for {
		select {
		case <-s.signal:
		case <-s.done:
			return
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			e := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.invoke(e)

			if s.closed.Load() {
				return
			}
		}

		if s.closed.Load() {
			return
		}
	}
}

// invoke calls the handler with panic isolation: a panicking handler is
// logged and the subscription stays active (spec.md §4.1).
func (s *subscription) invoke(e AgentEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event bus handler panicked",
				"event_type", e.Type, "recover", r)
		}
	}()
	s.handler(e)
}

func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
}
