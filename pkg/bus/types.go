// Package bus implements the engine's in-memory, process-local event bus.
//
// Every state change inside the engine — a node starting an iteration, an
// LLM text delta, a tool call completing, a judge verdict, an edge
// traversal — is published as a typed AgentEvent. Subscribers register a
// Filter and receive matching events, in publish order, on a bounded
// per-subscription queue. Publish never blocks: a full queue drops its
// oldest event and increments a counter instead of stalling the publisher.
package bus

import "time"

// EventType is the closed set of event types the engine emits. See
// spec.md §6 for the canonical list.
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
	EventExecutionPaused    EventType = "execution_paused"
	EventExecutionResumed   EventType = "execution_resumed"

	EventNodeLoopStarted   EventType = "node_loop_started"
	EventNodeLoopIteration EventType = "node_loop_iteration"
	EventNodeLoopCompleted EventType = "node_loop_completed"

	EventLLMTextDelta      EventType = "llm_text_delta"
	EventLLMReasoningDelta EventType = "llm_reasoning_delta"

	EventToolCallStarted   EventType = "tool_call_started"
	EventToolCallCompleted EventType = "tool_call_completed"

	EventClientOutputDelta    EventType = "client_output_delta"
	EventClientInputRequested EventType = "client_input_requested"

	EventNodeInternalOutput EventType = "node_internal_output"
	EventNodeInputBlocked   EventType = "node_input_blocked"
	EventNodeStalled        EventType = "node_stalled"
	EventNodeRetry          EventType = "node_retry"
	EventNodeToolDoomLoop   EventType = "node_tool_doom_loop"

	EventJudgeVerdict EventType = "judge_verdict"
	EventOutputKeySet EventType = "output_key_set"
	EventEdgeTraversed EventType = "edge_traversed"

	EventStateChanged  EventType = "state_changed"
	EventStateConflict EventType = "state_conflict"

	EventGoalProgress       EventType = "goal_progress"
	EventGoalAchieved       EventType = "goal_achieved"
	EventConstraintViolation EventType = "constraint_violation"

	EventWorkerEscalationTicket    EventType = "worker_escalation_ticket"
	EventQueenInterventionRequested EventType = "queen_intervention_requested"
	EventEscalationRequested       EventType = "escalation_requested"

	EventWebhookReceived EventType = "webhook_received"
	EventCustom          EventType = "custom"

	// Reserved — no emitter yet. Defined per spec.md §9 Open Questions so
	// clients can recognize them once FeatureReservedEvents is enabled.
	EventStreamStarted    EventType = "stream_started"
	EventContextCompacted EventType = "context_compacted"
)

// AgentEvent is the envelope published on the bus. The identity tuple
// (GraphID, StreamID, NodeID, ExecutionID) uniquely locates an event per
// spec.md §3.
type AgentEvent struct {
	Type          EventType      `json:"type"`
	StreamID      string         `json:"stream_id,omitempty"`
	NodeID        string         `json:"node_id,omitempty"`
	ExecutionID   string         `json:"execution_id,omitempty"`
	GraphID       string         `json:"graph_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Filter selects which events a subscription receives. All non-empty
// fields are AND-combined; EventTypes (if non-empty) matches if the
// event's type is any of the listed types.
type Filter struct {
	EventTypes  []EventType
	StreamID    string
	NodeID      string
	ExecutionID string
	GraphID     string
}

func (f Filter) matches(e AgentEvent) bool {
	if len(f.EventTypes) > 0 {
		ok := false
		for _, t := range f.EventTypes {
			if t == e.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.StreamID != "" && f.StreamID != e.StreamID {
		return false
	}
	if f.NodeID != "" && f.NodeID != e.NodeID {
		return false
	}
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if f.GraphID != "" && f.GraphID != e.GraphID {
		return false
	}
	return true
}

// Handler receives events matching a subscription's filter. Handlers run
// synchronously on the subscription's dedicated delivery goroutine, so a
// slow handler only delays its own subscription, never others.
type Handler func(AgentEvent)

// NewEvent builds an AgentEvent of the given type with data and a
// Timestamp of now, ready to pass to Bus.Publish.
func NewEvent(typ EventType, data map[string]any) AgentEvent {
	return AgentEvent{
		Type:      typ,
		Data:      data,
		Timestamp: time.Now(),
	}
}
