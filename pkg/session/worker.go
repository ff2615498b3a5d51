package session

import (
	"context"
	"sync"
	"time"

	"github.com/pajohmail/aden-hive/pkg/bus"
	"github.com/pajohmail/aden-hive/pkg/checkpoint"
	"github.com/pajohmail/aden-hive/pkg/executor"
	"github.com/pajohmail/aden-hive/pkg/graph"
	"github.com/pajohmail/aden-hive/pkg/state"
	"github.com/pajohmail/aden-hive/pkg/stream"
)

// DefaultHealthInterval is how often a loaded worker's health judge
// inspects recent events when Deps.HealthInterval is unset (spec.md §4.7).
const DefaultHealthInterval = 30 * time.Second

// worker holds the graphs and running ExecutionStreams of a session's
// optional worker, plus its health judge (spec.md §4.7). Created by
// Session.LoadWorker, torn down by Session.UnloadWorker or Session.stop.
type worker struct {
	graph    *graph.Graph
	executor *executor.GraphExecutor

	mu            sync.Mutex
	streams       map[string]*stream.ExecutionStream
	lastPaused    string // most recently Stop()-paused execution id, for Resume(no checkpoint)
	blockedExecID string // execution currently blocked on client_input_requested, "" if none

	trackHandles []bus.Handle
	health       *healthJudge
}

func newWorker(g *graph.Graph, ex *executor.GraphExecutor, b *bus.Bus, healthInterval time.Duration) *worker {
	w := &worker{
		graph:    g,
		executor: ex,
		streams:  make(map[string]*stream.ExecutionStream),
	}

	w.trackHandles = append(w.trackHandles,
		b.Subscribe(bus.Filter{EventTypes: []bus.EventType{bus.EventClientInputRequested}}, func(e bus.AgentEvent) {
			w.mu.Lock()
			w.blockedExecID = e.ExecutionID
			w.mu.Unlock()
		}),
		b.Subscribe(bus.Filter{EventTypes: []bus.EventType{bus.EventNodeLoopIteration}}, func(e bus.AgentEvent) {
			w.mu.Lock()
			if w.blockedExecID == e.ExecutionID {
				w.blockedExecID = ""
			}
			w.mu.Unlock()
		}),
	)

	w.health = newHealthJudge(b, healthInterval)
	return w
}

func (w *worker) track(s *stream.ExecutionStream) {
	w.mu.Lock()
	w.streams[s.ExecutionID] = s
	w.mu.Unlock()
}

func (w *worker) get(executionID string) (*stream.ExecutionStream, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.streams[executionID]
	return s, ok
}

// blocked returns the execution currently blocked on client_input_requested
// and whether one exists (spec.md §4.7 chat routing priority 1). Best
// effort: reconstructed from events, same limitation as pkg/stream's
// traversal tracking.
func (w *worker) blocked() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blockedExecID, w.blockedExecID != ""
}

func (w *worker) markPaused(executionID string) {
	w.mu.Lock()
	w.lastPaused = executionID
	w.mu.Unlock()
}

func (w *worker) mostRecentlyPaused() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPaused, w.lastPaused != ""
}

func (w *worker) stop(b *bus.Bus) {
	w.health.stop()
	for _, h := range w.trackHandles {
		b.Unsubscribe(h)
	}
	w.mu.Lock()
	streams := make([]*stream.ExecutionStream, 0, len(w.streams))
	for _, s := range w.streams {
		streams = append(streams, s)
	}
	w.mu.Unlock()
	for _, s := range streams {
		s.Cancel()
	}
}

// trigger starts a new worker execution at entryNode, returning its
// ExecutionStream.
func (w *worker) trigger(ctx context.Context, sessionID, entryNode string, shared *state.Store, b *bus.Bus, checkpoints *checkpoint.Store, input map[string]any) (*stream.ExecutionStream, error) {
	g := w.graph
	if entryNode != "" && entryNode != g.EntryNode {
		rebuilt, err := graph.New(graph.Graph{
			ID:          g.ID,
			Nodes:       g.Nodes,
			Edges:       g.Edges,
			EntryNode:   entryNode,
			EntryPoints: g.EntryPoints,
		})
		if err != nil {
			return nil, err
		}
		g = rebuilt
	}

	s := stream.New(sessionID, g, w.executor, shared, b, checkpoints)

	for k, v := range input {
		shared.Set(s.ExecutionID, k, v)
	}

	s.Start(ctx)
	w.track(s)
	return s, nil
}
