// Package stream implements ExecutionStream (spec.md §4.6): one live
// execution instance — generates the execution id, holds the
// cancellation signal, owns a scope-stamped child bus, and exposes
// start/pause/resume/cancel/inject/status over a running GraphExecutor.
package stream

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pajohmail/aden-hive/pkg/bus"
	"github.com/pajohmail/aden-hive/pkg/checkpoint"
	"github.com/pajohmail/aden-hive/pkg/executor"
	"github.com/pajohmail/aden-hive/pkg/graph"
	"github.com/pajohmail/aden-hive/pkg/node"
	"github.com/pajohmail/aden-hive/pkg/state"
)

// Status is an ExecutionStream's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ExecutionStream wraps one GraphExecutor.ExecuteWithGate call with
// lifecycle controls. A stream is single-use: Start may only be called
// once.
type ExecutionStream struct {
	ExecutionID string
	SessionID   string
	Graph       *graph.Graph
	Shared      *state.Store
	Bus         *bus.Bus // already scoped (graph_id/stream_id) by the caller via bus.Child

	executor    *executor.GraphExecutor
	checkpoints *checkpoint.Store

	mu          sync.Mutex
	status      Status
	currentNode string
	visits      map[string]int
	gate        *executor.PauseGate
	cancelFn    context.CancelFunc
	done        chan struct{}
	result      *executor.Result
	err         error

	trackHandle bus.Handle
}

// New creates a pending ExecutionStream. checkpoints may be nil to disable
// the Checkpoint method.
func New(sessionID string, g *graph.Graph, ex *executor.GraphExecutor, shared *state.Store, b *bus.Bus, checkpoints *checkpoint.Store) *ExecutionStream {
	return &ExecutionStream{
		ExecutionID: uuid.New().String(),
		SessionID:   sessionID,
		Graph:       g,
		Shared:      shared,
		Bus:         b,
		executor:    ex,
		checkpoints: checkpoints,
		status:      StatusPending,
		currentNode: g.EntryNode,
		visits:      map[string]int{g.EntryNode: 1},
	}
}

// Start launches the execution in the background. ctx governs the whole
// run; cancelling it (or calling Cancel) aborts the execution.
func (s *ExecutionStream) Start(ctx context.Context) {
	s.mu.Lock()
	if s.status != StatusPending {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	s.gate = executor.NewPauseGate()
	s.status = StatusRunning
	s.done = make(chan struct{})
	s.mu.Unlock()

	// Track the current node and visit counts from edge_traversed events
	// (best-effort, for Checkpoint — GraphExecutor does not expose its
	// internal traversal state directly).
	s.trackHandle = s.Bus.Subscribe(bus.Filter{
		EventTypes:  []bus.EventType{bus.EventEdgeTraversed},
		ExecutionID: s.ExecutionID,
	}, func(e bus.AgentEvent) {
		target, _ := e.Data["target"].(string)
		if target == "" {
			return
		}
		s.mu.Lock()
		s.currentNode = target
		s.visits[target]++
		s.mu.Unlock()
	})

	go func() {
		defer close(s.done)
		defer s.Bus.Unsubscribe(s.trackHandle)

		res, err := s.executor.ExecuteWithGate(runCtx, s.Graph, s.ExecutionID, s.Shared, s.Bus, s.gate)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.result = res
		s.err = err
		switch {
		case err != nil:
			s.status = StatusFailed
		case res == nil:
			s.status = StatusFailed
		case res.Status == node.StatusCancelled:
			s.status = StatusCancelled
		case res.Status == node.StatusSuccess:
			s.status = StatusCompleted
		default:
			s.status = StatusFailed
		}
	}()
}

// Pause suspends the execution before its next node visit. No-op if not
// running.
func (s *ExecutionStream) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning || s.gate == nil {
		return
	}
	s.gate.Pause()
	s.status = StatusPaused
	publish(s.Bus, s.ExecutionID, s.currentNode, bus.EventExecutionPaused, nil)
}

// Resume un-suspends a paused execution. No-op if not paused.
func (s *ExecutionStream) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused || s.gate == nil {
		return
	}
	s.gate.Resume()
	s.status = StatusRunning
	publish(s.Bus, s.ExecutionID, s.currentNode, bus.EventExecutionResumed, nil)
}

// Cancel aborts the execution. If it is paused, it is first resumed so the
// cancellation is observed promptly rather than staying blocked on the
// pause gate.
func (s *ExecutionStream) Cancel() {
	s.mu.Lock()
	gate := s.gate
	cancel := s.cancelFn
	s.mu.Unlock()
	if gate != nil {
		gate.Resume()
	}
	if cancel != nil {
		cancel()
	}
}

// Inject hands content to this execution's client-input inbox, read by the
// next node that blocks on client_input_requested. Returns false if the
// execution is not running or an earlier message is still unread; it
// does not check whether a node is blocked right now.
func (s *ExecutionStream) Inject(content string) bool {
	return s.executor.Inject(s.ExecutionID, content)
}

// Status returns the stream's current lifecycle status.
func (s *ExecutionStream) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done returns a channel closed once Start's goroutine has returned.
func (s *ExecutionStream) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Result returns the terminal Result and error once Done is closed. Safe
// to call before then; returns (nil, nil).
func (s *ExecutionStream) Result() (*executor.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// CurrentNode returns the node the stream is at (or most recently was at),
// for the topology progress view (spec.md §6 GET .../graphs/{id}/nodes).
func (s *ExecutionStream) CurrentNode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentNode
}

// Visits returns a copy of the stream's per-node visit counts.
func (s *ExecutionStream) Visits() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.visits))
	for k, v := range s.visits {
		out[k] = v
	}
	return out
}

// Checkpoint snapshots the current shared state and best-effort traversal
// position into the checkpoint store, returning the new checkpoint id.
func (s *ExecutionStream) Checkpoint() (string, error) {
	if s.checkpoints == nil {
		return "", nil
	}
	s.mu.Lock()
	current := s.currentNode
	visits := make(map[string]int, len(s.visits))
	for k, v := range s.visits {
		visits[k] = v
	}
	s.mu.Unlock()

	return s.checkpoints.Write(s.SessionID, checkpoint.Checkpoint{
		ExecutionID:         s.ExecutionID,
		SharedStateSnapshot: s.Shared.Snapshot(),
		CurrentNode:         current,
		VisitCounts:         visits,
	})
}

func publish(b *bus.Bus, executionID, nodeID string, typ bus.EventType, data map[string]any) {
	e := bus.NewEvent(typ, data)
	e.ExecutionID = executionID
	e.NodeID = nodeID
	b.Publish(e)
}
