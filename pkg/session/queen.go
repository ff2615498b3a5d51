package session

import (
	"context"
	"log/slog"

	"github.com/pajohmail/aden-hive/pkg/bus"
	"github.com/pajohmail/aden-hive/pkg/graph"
	"github.com/pajohmail/aden-hive/pkg/node"
	"github.com/pajohmail/aden-hive/pkg/state"
)

// queenSystemPrompt is the dedicated system prompt for a session's
// always-on conversational executor (spec.md §4.7).
const queenSystemPrompt = "You are the queen: a persistent, client-facing assistant for this session. " +
	"Chat naturally with the user. You may load or reconfigure a worker agent on their behalf."

// queenExecutionID namespaces the queen's NodeConversation/shared-state
// writes away from any worker execution sharing the same session.
func queenExecutionID(sessionID string) string { return sessionID + "#queen" }

// queen wraps one EventLoopNode.Run call driving the session's queen
// executor for the session's entire lifetime: MaxIterations is unbounded
// and ClientFacing is set, so the run blocks on client_input_requested
// between turns (pkg/node/eventloop.go's ClientFacing branch) rather than
// returning — one Run call serves every chat turn until the session stops.
type queen struct {
	node  *node.EventLoopNode
	spec  graph.NodeSpec
	conv  *node.Conversation
	scope node.Scope

	input  chan string
	cancel context.CancelFunc
	done   chan struct{}
	result *node.NodeResult
	err    error
}

func newQueen(eln *node.EventLoopNode, sessionID string, b *bus.Bus) *queen {
	return &queen{
		node: eln,
		spec: graph.NodeSpec{
			ID:            "queen",
			Type:          graph.NodeTypeEventLoop,
			ClientFacing:  true,
			MaxIterations: 0,
			SystemPrompt:  queenSystemPrompt,
		},
		conv:  node.NewConversation(),
		scope: node.Scope{ExecutionID: queenExecutionID(sessionID), NodeID: "queen", Bus: b},
		// Buffered 1, mirroring GraphExecutor's per-execution inbox: a chat
		// message sent while the queen is mid-turn waits in the buffer for
		// the next client_input_requested block instead of being dropped.
		input: make(chan string, 1),
	}
}

func (q *queen) start(ctx context.Context, shared *state.Store) {
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})

	go func() {
		defer close(q.done)
		result, err := q.node.Run(runCtx, q.spec, q.conv, shared, q.scope, q.input)
		q.result, q.err = result, err
		if err != nil {
			slog.Error("queen run ended with error", "execution_id", q.scope.ExecutionID, "error", err)
		}
	}()
}

// chat delivers message to the queen's input. Returns false only if a
// message is already buffered and unconsumed (the queen is saturated).
func (q *queen) chat(message string) bool {
	select {
	case q.input <- message:
		return true
	default:
		return false
	}
}

func (q *queen) stop() {
	if q.cancel != nil {
		q.cancel()
	}
}
