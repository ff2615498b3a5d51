// Package state implements the engine's per-session shared key/value store
// (spec.md §4.2). It supports three isolation policies selected at session
// creation and emits state_changed / state_conflict events on the bus the
// store was constructed with.
package state

import (
	"sync"

	"github.com/pajohmail/aden-hive/pkg/bus"
)

// Isolation controls which executions can see which writes.
type Isolation string

const (
	// Isolated: each execution sees only keys it wrote. Reads of keys
	// written by other executions return unset.
	Isolated Isolation = "ISOLATED"
	// Shared: all executions in the session see all keys. Default.
	Shared Isolation = "SHARED"
	// Synchronized: shared, with a per-key advisory lock available through
	// Lock. Set does not acquire that lock, and GraphExecutor does not hold
	// it while a node runs; concurrent writers of a key are not reported as
	// a state conflict under this policy, and the last Set stands.
	Synchronized Isolation = "SYNCHRONIZED"
)

// entry is a stored value tagged with the execution that wrote it, needed
// to implement ISOLATED read scoping.
type entry struct {
	value     any
	writtenBy string
}

// Store is a session's shared state. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	values    map[string]entry
	isolation Isolation
	bus       *bus.Bus

	keyLocksMu sync.Mutex
	keyLocks   map[string]*sync.Mutex

	onWriteMu sync.RWMutex
	onWrite   func(key, executionID string)
}

// SetWriteHook installs fn to be called synchronously by Set, after the
// value is stored and before Set returns, every time a key is written. Used by GraphExecutor to
// attribute writes to parallel branches for state_conflict detection
// without racing the (async) event bus. A nil fn disables the hook.
func (s *Store) SetWriteHook(fn func(key, executionID string)) {
	s.onWriteMu.Lock()
	s.onWrite = fn
	s.onWriteMu.Unlock()
}

// New creates a Store with the given isolation policy, publishing
// state_changed/state_conflict events on b (may be nil to disable events,
// e.g. in unit tests of the store alone).
func New(isolation Isolation, b *bus.Bus) *Store {
	if isolation == "" {
		isolation = Shared
	}
	return &Store{
		values:    make(map[string]entry),
		isolation: isolation,
		bus:       b,
		keyLocks:  make(map[string]*sync.Mutex),
	}
}

// Get returns the value for key as seen by executionID, honoring the
// isolation policy, and whether it was set.
func (s *Store) Get(executionID, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.values[key]
	if !ok {
		return nil, false
	}
	if s.isolation == Isolated && e.writtenBy != executionID {
		return nil, false
	}
	return e.value, true
}

// Set writes key=value on behalf of executionID. Emits a state_changed
// event with the old and new value. Under SYNCHRONIZED isolation, callers
// that need the per-key advisory lock held across several operations
// should use Lock and the release func it returns; Set itself is always
// atomic.
func (s *Store) Set(executionID, key string, value any) {
	s.mu.Lock()
	old, hadOld := s.values[key]
	s.values[key] = entry{value: value, writtenBy: executionID}
	s.mu.Unlock()

	s.onWriteMu.RLock()
	hook := s.onWrite
	s.onWriteMu.RUnlock()
	if hook != nil {
		hook(key, executionID)
	}

	if s.bus != nil {
		var oldVal any
		if hadOld {
			oldVal = old.value
		}
		s.bus.Publish(bus.NewEvent(bus.EventStateChanged, map[string]any{
			"key":          key,
			"old_value":    oldVal,
			"new_value":    value,
			"execution_id": executionID,
		}))
	}
}

// Delete removes key. No-op if absent.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Snapshot returns an immutable copy of the full key space, ignoring
// isolation — used by CheckpointStore, which persists the whole session.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, e := range s.values {
		out[k] = e.value
	}
	return out
}

// Restore replaces the store's contents with snapshot. Restored values are
// attributed to no execution (ISOLATED reads of a restored key return
// unset until rewritten) since the snapshot does not carry per-key
// provenance — consistent with a checkpoint being a fresh starting point.
func (s *Store) Restore(snapshot map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]entry, len(snapshot))
	for k, v := range snapshot {
		s.values[k] = entry{value: v}
	}
}

// Isolation returns the store's configured isolation policy.
func (s *Store) Isolation() Isolation { return s.isolation }

// Lock acquires key's advisory lock under SYNCHRONIZED isolation and
// returns the func that releases it. No-op under other isolation
// policies (callers may call it unconditionally).
func (s *Store) Lock(key string) func() {
	if s.isolation != Synchronized {
		return func() {}
	}
	s.keyLocksMu.Lock()
	l, ok := s.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[key] = l
	}
	s.keyLocksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// PublishConflict emits a state_conflict event for key, raised by
// GraphExecutor when parallel branches write the same key under an
// isolation policy that doesn't tolerate it (spec.md §4.5, §9).
func (s *Store) PublishConflict(key string, branches []string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.NewEvent(bus.EventStateConflict, map[string]any{
		"key":      key,
		"branches": branches,
	}))
}
