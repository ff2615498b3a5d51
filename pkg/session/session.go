// Package session implements SessionManager (spec.md §4.7): the lifecycle
// of a session's queen/worker/health-judge triplet, chat routing between
// them, and event fan-out to subscribers. Grounded on the teacher's
// ConnectionManager (pkg/events/manager.go) for the long-lived,
// goroutine-backed, mutex-guarded lifecycle object shape; the session
// directory/listing concern the teacher's SessionService owns
// (pkg/services/session_service.go) belongs to pkg/registry, not here —
// this package is the live, in-memory runtime, not the durable record.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pajohmail/aden-hive/pkg/bus"
	"github.com/pajohmail/aden-hive/pkg/checkpoint"
	"github.com/pajohmail/aden-hive/pkg/executor"
	"github.com/pajohmail/aden-hive/pkg/graph"
	"github.com/pajohmail/aden-hive/pkg/judge"
	"github.com/pajohmail/aden-hive/pkg/llm"
	"github.com/pajohmail/aden-hive/pkg/node"
	"github.com/pajohmail/aden-hive/pkg/state"
	"github.com/pajohmail/aden-hive/pkg/stream"
	"github.com/pajohmail/aden-hive/pkg/tool"
)

// Deps bundles the constructors a Manager uses to build a session's queen
// and a worker's GraphExecutor. model is the caller-supplied model
// override from the create_session/load_worker request body (spec.md §6);
// implementations may ignore it and return a fixed client.
type Deps struct {
	NewLLM   func(model string) llm.Client
	NewTools func() tool.Executor
	NewJudge func(llmClient llm.Client) *judge.Protocol

	// Checkpoints is shared by every session. May be nil to disable
	// Resume/Replay and ExecutionStream.Checkpoint.
	Checkpoints *checkpoint.Store

	// Isolation is the SharedState policy new sessions are created with.
	Isolation state.Isolation

	// HealthInterval overrides DefaultHealthInterval for every worker's
	// health judge. Zero uses the default.
	HealthInterval time.Duration
}

// Session owns one session's live runtime: its scoped EventBus, SharedState,
// always-on queen, and optional worker (spec.md §3, §4.7).
type Session struct {
	ID        string
	Bus       *bus.Bus
	Shared    *state.Store
	CreatedAt time.Time

	deps Deps

	mu     sync.RWMutex
	queen  *queen
	worker *worker
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(ctx context.Context, id string, rootBus *bus.Bus, deps Deps) *Session {
	sessCtx, cancel := context.WithCancel(ctx)
	b := rootBus.Child(bus.Scope{StreamID: id})
	shared := state.New(deps.Isolation, b)

	s := &Session{
		ID:        id,
		Bus:       b,
		Shared:    shared,
		CreatedAt: time.Now(),
		deps:      deps,
		ctx:       sessCtx,
		cancel:    cancel,
	}

	llmClient := deps.NewLLM("")
	eln := &node.EventLoopNode{LLM: llmClient, Judge: deps.NewJudge(llmClient), Tools: deps.NewTools()}
	s.queen = newQueen(eln, id, b)
	s.queen.start(sessCtx, shared)

	return s
}

// LoadWorker creates the session's worker over g, running nodes through an
// EventLoopNode built from model (spec.md §4.7 load_worker). 409-equivalent:
// returns ErrWorkerAlreadyLoaded if one is already loaded.
func (s *Session) LoadWorker(g *graph.Graph, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker != nil {
		return ErrWorkerAlreadyLoaded
	}

	llmClient := s.deps.NewLLM(model)
	eln := &node.EventLoopNode{LLM: llmClient, Judge: s.deps.NewJudge(llmClient), Tools: s.deps.NewTools()}
	ex := executor.New(eln, nil, nil)

	w := newWorker(g, ex, s.Bus, s.deps.HealthInterval)
	w.health.start()
	s.worker = w
	return nil
}

// UnloadWorker tears down the worker and its health judge; the queen
// survives (spec.md §4.7). No-op if no worker is loaded.
func (s *Session) UnloadWorker() error {
	s.mu.Lock()
	w := s.worker
	s.worker = nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	w.stop(s.Bus)
	return nil
}

// Trigger starts a new worker execution at entryPointID's target node (or
// the graph's default entry node if entryPointID is ""), seeding input into
// shared state under the new execution id (spec.md §4.7).
func (s *Session) Trigger(entryPointID string, input map[string]any) (string, error) {
	s.mu.RLock()
	w := s.worker
	s.mu.RUnlock()
	if w == nil {
		return "", ErrWorkerNotLoaded
	}

	entryNode, err := resolveEntryNode(w.graph, entryPointID)
	if err != nil {
		return "", err
	}

	st, err := w.trigger(s.ctx, s.ID, entryNode, s.Shared, s.Bus, s.deps.Checkpoints, input)
	if err != nil {
		return "", err
	}
	return st.ExecutionID, nil
}

func resolveEntryNode(g *graph.Graph, entryPointID string) (string, error) {
	if entryPointID == "" {
		return g.EntryNode, nil
	}
	for _, ep := range g.EntryPoints {
		if ep.ID == entryPointID {
			return ep.TargetNode, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntryPoint, entryPointID)
}

// Chat routes message by priority: a worker execution blocked on
// client_input_requested, else the queen, else ErrNoActiveRecipient
// (spec.md §4.7, §8 scenario 5).
func (s *Session) Chat(message string) (status string, delivered bool, err error) {
	s.mu.RLock()
	w, q := s.worker, s.queen
	s.mu.RUnlock()

	if w != nil {
		if execID, ok := w.blocked(); ok {
			if st, ok := w.get(execID); ok && st.Inject(message) {
				return "injected", true, nil
			}
		}
	}

	if q != nil {
		if q.chat(message) {
			return "queen", true, nil
		}
	}

	return "", false, ErrNoActiveRecipient
}

// BlockedExecution returns the execution id currently blocked on
// client_input_requested, if any (spec.md §6 POST /inject resolves a
// node_id to this before calling Inject).
func (s *Session) BlockedExecution() (string, bool) {
	s.mu.RLock()
	w := s.worker
	s.mu.RUnlock()
	if w == nil {
		return "", false
	}
	return w.blocked()
}

// Inject delivers content directly to a specific worker execution blocked
// on client_input_requested (spec.md §6 POST /inject), bypassing Chat's
// priority routing.
func (s *Session) Inject(executionID, content string) (bool, error) {
	s.mu.RLock()
	w := s.worker
	s.mu.RUnlock()
	if w == nil {
		return false, ErrWorkerNotLoaded
	}
	st, ok := w.get(executionID)
	if !ok {
		return false, ErrExecutionNotFound
	}
	return st.Inject(content), nil
}

// Stop pauses the named worker execution (spec.md §8 scenario 4: "call
// stop" → "execution_paused"; stop is a pause, not a cancel — full abort is
// only exposed via StopSession's teardown).
func (s *Session) Stop(executionID string) error {
	s.mu.RLock()
	w := s.worker
	s.mu.RUnlock()
	if w == nil {
		return ErrWorkerNotLoaded
	}
	st, ok := w.get(executionID)
	if !ok {
		return ErrExecutionNotFound
	}
	st.Pause()
	w.markPaused(executionID)
	return nil
}

// Resume continues a paused execution. With no checkpointID, it resumes
// the most recently Stop()-paused in-memory stream. With a checkpointID, it
// starts a fresh execution against the session's live SharedState restored
// from that checkpoint — distinct from Replay, which runs against an
// isolated copy so it never mutates the live session (spec.md §8 scenario
// 4, Open Question decision in DESIGN.md).
func (s *Session) Resume(checkpointID string) (string, error) {
	s.mu.RLock()
	w := s.worker
	s.mu.RUnlock()
	if w == nil {
		return "", ErrWorkerNotLoaded
	}

	if checkpointID == "" {
		execID, ok := w.mostRecentlyPaused()
		if !ok {
			return "", fmt.Errorf("session: no paused execution to resume")
		}
		st, ok := w.get(execID)
		if !ok {
			return "", ErrExecutionNotFound
		}
		st.Resume()
		return execID, nil
	}

	if s.deps.Checkpoints == nil {
		return "", ErrCheckpointsDisabled
	}
	cp, err := s.deps.Checkpoints.Get(s.ID, checkpointID)
	if err != nil {
		return "", err
	}
	s.Shared.Restore(cp.SharedStateSnapshot)

	st, err := w.trigger(s.ctx, s.ID, cp.CurrentNode, s.Shared, s.Bus, s.deps.Checkpoints, nil)
	if err != nil {
		return "", err
	}
	return st.ExecutionID, nil
}

// Replay re-runs a worker execution from checkpointID against a freshly
// isolated SharedState seeded from the checkpoint's snapshot, so inspecting
// past behavior never perturbs the session's live state (spec.md §8
// scenario 4's sibling op; see DESIGN.md for the resume/replay split).
func (s *Session) Replay(checkpointID string) (string, error) {
	s.mu.RLock()
	w := s.worker
	s.mu.RUnlock()
	if w == nil {
		return "", ErrWorkerNotLoaded
	}
	if s.deps.Checkpoints == nil {
		return "", ErrCheckpointsDisabled
	}

	cp, err := s.deps.Checkpoints.Get(s.ID, checkpointID)
	if err != nil {
		return "", err
	}

	replayShared := state.New(s.Shared.Isolation(), s.Bus)
	replayShared.Restore(cp.SharedStateSnapshot)

	st, err := w.trigger(s.ctx, s.ID, cp.CurrentNode, replayShared, s.Bus, nil, nil)
	if err != nil {
		return "", err
	}
	return st.ExecutionID, nil
}

// Graph returns the loaded worker's graph, or nil if none is loaded
// (spec.md §6 GET .../graphs/{id}/nodes).
func (s *Session) Graph() *graph.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.worker == nil {
		return nil
	}
	return s.worker.graph
}

// Executions returns every tracked execution stream of the loaded worker,
// for rendering per-node progress alongside the graph topology. Returns
// nil if no worker is loaded.
func (s *Session) Executions() []*stream.ExecutionStream {
	s.mu.RLock()
	w := s.worker
	s.mu.RUnlock()
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*stream.ExecutionStream, 0, len(w.streams))
	for _, st := range w.streams {
		out = append(out, st)
	}
	return out
}

// Subscribe multiplexes from the session's shared EventBus — queen, worker,
// and health-judge events all flow through it (spec.md §4.7). Filter
// defaults to CanonicalEventTypes when EventTypes is empty.
func (s *Session) Subscribe(filter bus.Filter, handler bus.Handler) bus.Handle {
	if len(filter.EventTypes) == 0 {
		filter.EventTypes = CanonicalEventTypes
	}
	return s.Bus.Subscribe(filter, handler)
}

// Unsubscribe is idempotent (spec.md §4's idempotence invariant).
func (s *Session) Unsubscribe(h bus.Handle) { s.Bus.Unsubscribe(h) }

// stop cancels all streams (worker and queen), flushes no durable state of
// its own (checkpoints are written on demand, not at teardown), and is
// idempotent.
func (s *Session) stop() {
	s.mu.Lock()
	w := s.worker
	q := s.queen
	s.worker = nil
	s.mu.Unlock()

	if w != nil {
		w.stop(s.Bus)
	}
	if q != nil {
		q.stop()
	}
	s.cancel()
}

// CanonicalEventTypes is the default client-relevant subset a subscriber
// sees when it supplies no explicit filter (spec.md §4.7 SSE fan-out).
var CanonicalEventTypes = []bus.EventType{
	bus.EventExecutionStarted, bus.EventExecutionCompleted, bus.EventExecutionFailed,
	bus.EventExecutionPaused, bus.EventExecutionResumed,
	bus.EventClientOutputDelta, bus.EventClientInputRequested,
	bus.EventToolCallStarted, bus.EventToolCallCompleted,
	bus.EventJudgeVerdict, bus.EventOutputKeySet, bus.EventEdgeTraversed,
	bus.EventGoalProgress, bus.EventGoalAchieved, bus.EventConstraintViolation,
	bus.EventWorkerEscalationTicket, bus.EventQueenInterventionRequested,
	bus.EventEscalationRequested, bus.EventWebhookReceived, bus.EventCustom,
}
