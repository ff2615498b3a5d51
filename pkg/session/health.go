package session

import (
	"sync"
	"time"

	"github.com/pajohmail/aden-hive/pkg/bus"
)

// healthJudge is the timer-driven executor that inspects a worker's recent
// events on a fixed schedule (spec.md §4.7). It counts pathology-indicating
// events since its last tick and, past a small threshold, escalates: first
// to the worker (worker_escalation_ticket), and if escalations keep
// recurring, to the queen (queen_intervention_requested).
//
// Grounded on pkg/cleanup/service.go's ticker+cancel/done lifecycle.
type healthJudge struct {
	bus      *bus.Bus
	interval time.Duration

	mu               sync.Mutex
	stalls           int
	doomLoops        int
	conflicts        int
	failures         int
	consecutiveTicks int // ticks in a row with at least one escalation

	subHandles []bus.Handle
	cancel     chan struct{}
	done       chan struct{}
}

// escalationThreshold is how many pathology events in one window trigger a
// worker_escalation_ticket.
const escalationThreshold = 1

// interventionStreak is how many consecutive escalating ticks trigger a
// queen_intervention_requested (the health judge has tried the worker and
// it keeps failing, so the queen needs to step in).
const interventionStreak = 3

func newHealthJudge(b *bus.Bus, interval time.Duration) *healthJudge {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	h := &healthJudge{bus: b, interval: interval}

	h.subHandles = append(h.subHandles,
		b.Subscribe(bus.Filter{EventTypes: []bus.EventType{bus.EventNodeStalled}}, func(bus.AgentEvent) {
			h.mu.Lock()
			h.stalls++
			h.mu.Unlock()
		}),
		b.Subscribe(bus.Filter{EventTypes: []bus.EventType{bus.EventNodeToolDoomLoop}}, func(bus.AgentEvent) {
			h.mu.Lock()
			h.doomLoops++
			h.mu.Unlock()
		}),
		b.Subscribe(bus.Filter{EventTypes: []bus.EventType{bus.EventStateConflict}}, func(bus.AgentEvent) {
			h.mu.Lock()
			h.conflicts++
			h.mu.Unlock()
		}),
		b.Subscribe(bus.Filter{EventTypes: []bus.EventType{bus.EventExecutionFailed}}, func(bus.AgentEvent) {
			h.mu.Lock()
			h.failures++
			h.mu.Unlock()
		}),
	)
	return h
}

// start launches the ticker loop. Idempotent.
func (h *healthJudge) start() {
	h.mu.Lock()
	if h.cancel != nil {
		h.mu.Unlock()
		return
	}
	h.cancel = make(chan struct{})
	h.done = make(chan struct{})
	h.mu.Unlock()

	go h.run()
}

func (h *healthJudge) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.cancel:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *healthJudge) tick() {
	h.mu.Lock()
	total := h.stalls + h.doomLoops + h.conflicts + h.failures
	h.stalls, h.doomLoops, h.conflicts, h.failures = 0, 0, 0, 0
	escalating := total >= escalationThreshold
	if escalating {
		h.consecutiveTicks++
	} else {
		h.consecutiveTicks = 0
	}
	streak := h.consecutiveTicks
	h.mu.Unlock()

	if !escalating {
		return
	}

	h.bus.Publish(bus.NewEvent(bus.EventWorkerEscalationTicket, map[string]any{
		"pathology_events": total,
	}))

	if streak >= interventionStreak {
		h.bus.Publish(bus.NewEvent(bus.EventQueenInterventionRequested, map[string]any{
			"reason": "worker health degraded for consecutive health-check intervals",
		}))
	}
}

func (h *healthJudge) stop() {
	h.mu.Lock()
	cancel := h.cancel
	done := h.done
	h.mu.Unlock()
	if cancel == nil {
		for _, handle := range h.subHandles {
			h.bus.Unsubscribe(handle)
		}
		return
	}
	select {
	case <-cancel:
	default:
		close(cancel)
	}
	if done != nil {
		<-done
	}
	for _, handle := range h.subHandles {
		h.bus.Unsubscribe(handle)
	}
}
