package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeOrdering(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var received []int

	b.Subscribe(Filter{EventTypes: []EventType{EventCustom}}, func(e AgentEvent) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.Data["seq"].(int))
	})

	for i := 0; i < 50; i++ {
		b.Publish(NewEvent(EventCustom, map[string]any{"seq": i}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 50
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range received {
		assert.Equal(t, i, seq)
	}
}

func TestFilterMatching(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var matched int

	b.Subscribe(Filter{NodeID: "node-a"}, func(e AgentEvent) {
		mu.Lock()
		matched++
		mu.Unlock()
	})

	b.Publish(AgentEvent{Type: EventCustom, NodeID: "node-a", Timestamp: time.Now()})
	b.Publish(AgentEvent{Type: EventCustom, NodeID: "node-b", Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return matched == 1
	}, time.Second, time.Millisecond)
}

func TestOverflowDropsOldest(t *testing.T) {
	b := NewWithQueueSize(10)

	blockFirst := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var received []int
	first := true

	h := b.Subscribe(Filter{}, func(e AgentEvent) {
		mu.Lock()
		if first {
			first = false
			mu.Unlock()
			close(blockFirst)
			<-release
			mu.Lock()
		}
		received = append(received, e.Data["seq"].(int))
		mu.Unlock()
	})

	// First event blocks the handler goroutine so the queue backs up.
	b.Publish(NewEvent(EventCustom, map[string]any{"seq": -1}))
	<-blockFirst

	for i := 0; i < 1001; i++ {
		b.Publish(NewEvent(EventCustom, map[string]any{"seq": i}))
	}
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1+10
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// Oldest of the 1001 queued events were dropped; only the most recent
	// 10 plus the unblocking event survive.
	assert.Equal(t, -1, received[0])
	assert.Equal(t, 991, received[1])
	assert.Equal(t, 1000, received[len(received)-1])
	assert.Equal(t, uint64(991), b.Dropped(h))
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := New()
	h := b.Subscribe(Filter{}, func(AgentEvent) {})
	b.Unsubscribe(h)
	assert.NotPanics(t, func() { b.Unsubscribe(h) })
	assert.NotPanics(t, func() { b.Unsubscribe(Handle(9999)) })
}

func TestHandlerPanicIsolated(t *testing.T) {
	b := New()
	var mu sync.Mutex
	healthy := 0

	b.Subscribe(Filter{}, func(AgentEvent) {
		panic("boom")
	})
	b.Subscribe(Filter{}, func(AgentEvent) {
		mu.Lock()
		healthy++
		mu.Unlock()
	})

	b.Publish(NewEvent(EventCustom, nil))
	b.Publish(NewEvent(EventCustom, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return healthy == 2
	}, time.Second, time.Millisecond)
}

func TestChildStampsScope(t *testing.T) {
	root := New()
	child := root.Child(Scope{GraphID: "g1", StreamID: "s1"})

	var got AgentEvent
	var mu sync.Mutex
	root.Subscribe(Filter{}, func(e AgentEvent) {
		mu.Lock()
		got = e
		mu.Unlock()
	})

	child.Publish(NewEvent(EventCustom, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got.GraphID == "g1"
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "s1", got.StreamID)

	grandchild := child.Child(Scope{})
	grandchild.Publish(NewEvent(EventCustom, map[string]any{"x": 1}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got.Data["x"] == 1
	}, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "g1", got.GraphID, "grandchild inherits parent scope when its own is empty")
}

func TestEmitReservedGatedByFlag(t *testing.T) {
	b := New()
	var got []AgentEvent
	var mu sync.Mutex
	b.Subscribe(Filter{}, func(e AgentEvent) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	b.EmitReserved(EventStreamStarted, nil)
	b.EmitReserved(EventCustom, nil) // not a reserved type, always a no-op

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, got, "EmitReserved must not publish while disabled")
	mu.Unlock()

	assert.False(t, b.ReservedEventsEnabled())
	b.SetReservedEventsEnabled(true)
	assert.True(t, b.ReservedEventsEnabled())

	b.EmitReserved(EventContextCompacted, map[string]any{"reason": "test"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EventContextCompacted, got[0].Type)
}
