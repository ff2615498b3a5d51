// Package executor implements GraphExecutor (spec.md §4.5): drives one
// execution of a Graph from its entry node to a terminal edge, selecting
// outgoing edges in priority order, fanning out to parallel branches when
// more than one edge matches at the same priority, and rejoining them at
// their nearest common descendant.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pajohmail/aden-hive/pkg/bus"
	"github.com/pajohmail/aden-hive/pkg/graph"
	"github.com/pajohmail/aden-hive/pkg/node"
	"github.com/pajohmail/aden-hive/pkg/state"
)

// FunctionFn is the body of a "function"-type node (spec.md §3): plain Go
// code, no LLM turn, no judge.
type FunctionFn func(ctx context.Context, spec graph.NodeSpec, shared *state.Store, scope node.Scope) (*node.NodeResult, error)

// Router resolves a "router" edge group: the candidates are every edge
// leaving the same node at the same priority with Condition == router.
// Returns the selected edge, or nil if none should be taken.
type Router interface {
	Select(ctx context.Context, nodeID string, candidates []graph.EdgeSpec, shared *state.Store, executionID string) (*graph.EdgeSpec, error)
}

// VisitCapError is returned when a node would exceed its NodeSpec.MaxNodeVisits
// (spec.md §3 invariant).
type VisitCapError struct {
	NodeID string
	Cap    int
}

func (e *VisitCapError) Error() string {
	return fmt.Sprintf("node %q exceeded max_node_visits (%d)", e.NodeID, e.Cap)
}

// Result is the outcome of one GraphExecutor.Execute call.
type Result struct {
	Status  node.Status
	Outputs map[string]any
	Error   error
}

// GraphExecutor runs graphs. A single value is reused across executions;
// all per-execution state is passed into Execute or lives in the
// per-execution inbox registry.
type GraphExecutor struct {
	EventLoop *node.EventLoopNode
	Functions map[string]FunctionFn
	Router    Router

	mu      sync.Mutex
	inboxes map[string]chan string // executionID -> current client-input channel
}

// New creates a GraphExecutor.
func New(eventLoop *node.EventLoopNode, functions map[string]FunctionFn, router Router) *GraphExecutor {
	if functions == nil {
		functions = map[string]FunctionFn{}
	}
	return &GraphExecutor{
		EventLoop: eventLoop,
		Functions: functions,
		Router:    router,
		inboxes:   make(map[string]chan string),
	}
}

// Inject puts content in executionID's one-slot client-input inbox, which
// the next node of that execution to block on client input reads. Returns
// false if executionID is not running or the inbox already holds an
// unread message; it does not check whether a node is blocked right now.
func (ex *GraphExecutor) Inject(executionID, content string) bool {
	ex.mu.Lock()
	ch, ok := ex.inboxes[executionID]
	ex.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- content:
		return true
	default:
		return false
	}
}

func (ex *GraphExecutor) registerInbox(executionID string) chan string {
	ch := make(chan string, 1)
	ex.mu.Lock()
	ex.inboxes[executionID] = ch
	ex.mu.Unlock()
	return ch
}

func (ex *GraphExecutor) unregisterInbox(executionID string) {
	ex.mu.Lock()
	delete(ex.inboxes, executionID)
	ex.mu.Unlock()
}

// Execute runs g to completion starting at g.EntryNode, under executionID,
// against shared, publishing events on b (spec.md §4.5). Equivalent to
// ExecuteWithGate with a nil gate (no pause support).
func (ex *GraphExecutor) Execute(ctx context.Context, g *graph.Graph, executionID string, shared *state.Store, b *bus.Bus) (*Result, error) {
	return ex.ExecuteWithGate(ctx, g, executionID, shared, b, nil)
}

// ExecuteWithGate is Execute, additionally honoring gate: before running
// each node, it blocks if the gate is paused. ExecutionStream uses this to
// implement pause()/resume() at node-visit boundaries (spec.md §4.6).
func (ex *GraphExecutor) ExecuteWithGate(ctx context.Context, g *graph.Graph, executionID string, shared *state.Store, b *bus.Bus, gate *PauseGate) (*Result, error) {
	inputCh := ex.registerInbox(executionID)
	defer ex.unregisterInbox(executionID)

	backEdges := graph.BackEdges(g, g.EntryNode)
	visits := map[string]int{}

	publish(b, executionID, "", bus.EventExecutionStarted, map[string]any{"entry_node": g.EntryNode})

	current := g.EntryNode
	for {
		if gate != nil {
			if err := gate.wait(ctx); err != nil {
				publish(b, executionID, current, bus.EventExecutionFailed, map[string]any{"error": err.Error()})
				return &Result{Status: node.StatusCancelled, Error: err}, nil
			}
		}

		spec, ok := g.Node(current)
		if !ok {
			err := fmt.Errorf("node %q not found", current)
			publish(b, executionID, current, bus.EventExecutionFailed, map[string]any{"error": err.Error()})
			return nil, err
		}

		if spec.MaxNodeVisits > 0 && visits[current] >= spec.MaxNodeVisits {
			err := &VisitCapError{NodeID: current, Cap: spec.MaxNodeVisits}
			publish(b, executionID, current, bus.EventExecutionFailed, map[string]any{"error": err.Error()})
			return nil, err
		}
		visits[current]++

		scope := node.Scope{ExecutionID: executionID, NodeID: current, Bus: b}
		result, err := ex.runNodeWithRetry(ctx, spec, shared, scope, inputCh)
		if err != nil {
			publish(b, executionID, current, bus.EventExecutionFailed, map[string]any{"error": err.Error()})
			return nil, err
		}
		applyOutputs(shared, executionID, result.Outputs)

		if result.Status == node.StatusCancelled {
			return &Result{Status: result.Status, Outputs: result.Outputs, Error: result.Error}, nil
		}

		matched, err := ex.selectEdges(ctx, g, current, result, shared, executionID)
		if err != nil {
			publish(b, executionID, current, bus.EventExecutionFailed, map[string]any{"error": err.Error()})
			return nil, err
		}

		if len(matched) == 0 {
			if result.Status == node.StatusSuccess {
				publish(b, executionID, current, bus.EventExecutionCompleted, map[string]any{"outputs": result.Outputs})
				return &Result{Status: result.Status, Outputs: result.Outputs}, nil
			}
			failErr := result.Error
			if failErr == nil {
				failErr = fmt.Errorf("node %q ended in status %s with no matching edge", current, result.Status)
			}
			publish(b, executionID, current, bus.EventExecutionFailed, map[string]any{"error": failErr.Error()})
			return &Result{Status: result.Status, Outputs: result.Outputs, Error: failErr}, nil
		}

		for _, e := range matched {
			publish(b, executionID, current, bus.EventEdgeTraversed, map[string]any{
				"source": e.Source, "target": e.Target,
				"condition": string(e.Condition), "back_edge": backEdges[e],
			})
		}

		if len(matched) == 1 {
			current = matched[0].Target
			continue
		}

		// Parallel fan-out: run every matched branch concurrently and join
		// at their nearest common descendant, or independently if none
		// exists (spec.md §4.5/§8 scenario 6, §9).
		joinNode, hasJoin := nearestCommonDescendant(g, matched)
		outcomes := ex.runBranches(ctx, g, executionID, matched, shared, b, joinNode, hasJoin)

		if err := resolveConflicts(shared, outcomes); err != nil {
			publish(b, executionID, current, bus.EventExecutionFailed, map[string]any{"error": err.Error()})
			return nil, err
		}

		failed := firstBranchFailure(outcomes)
		if failed != nil {
			publish(b, executionID, current, bus.EventExecutionFailed, map[string]any{"error": failed.err.Error()})
			return &Result{Status: node.StatusFailed, Error: failed.err}, nil
		}

		if !hasJoin {
			outputs := mergeBranchOutputs(outcomes)
			publish(b, executionID, current, bus.EventExecutionCompleted, map[string]any{"outputs": outputs})
			return &Result{Status: node.StatusSuccess, Outputs: outputs}, nil
		}

		current = joinNode
	}
}

func publish(b *bus.Bus, executionID, nodeID string, typ bus.EventType, data map[string]any) {
	e := bus.NewEvent(typ, data)
	e.ExecutionID = executionID
	e.NodeID = nodeID
	b.Publish(e)
}

func applyOutputs(shared *state.Store, executionID string, outputs map[string]any) {
	for k, v := range outputs {
		shared.Set(executionID, k, v)
	}
}

// runNodeWithRetry runs spec once, then — if it fails and NodeRetryBudget
// allows — re-enters it from scratch (a fresh Conversation) up to that
// many more times (spec.md §4.5: node-level retry is distinct from
// LLM-level retry, which EventLoopNode handles internally).
func (ex *GraphExecutor) runNodeWithRetry(ctx context.Context, spec graph.NodeSpec, shared *state.Store, scope node.Scope, input <-chan string) (*node.NodeResult, error) {
	runner, err := ex.runnerFor(spec)
	if err != nil {
		return nil, err
	}

	var result *node.NodeResult
	for attempt := 0; ; attempt++ {
		result, err = runner.Run(ctx, spec, shared, scope, input)
		if err != nil {
			return nil, err
		}
		if result.Status != node.StatusFailed || attempt >= spec.NodeRetryBudget {
			return result, nil
		}

		msg := ""
		if result.Error != nil {
			msg = result.Error.Error()
		}
		publish(scope.Bus, scope.ExecutionID, scope.NodeID, bus.EventNodeRetry, map[string]any{
			"retry_count": attempt + 1, "max_retries": spec.NodeRetryBudget, "scope": "node", "error": msg,
		})
	}
}

// Runner abstracts node.EventLoopNode behind the node-type dispatch
// spec.md §9 describes.
type Runner interface {
	Run(ctx context.Context, spec graph.NodeSpec, shared *state.Store, scope node.Scope, input <-chan string) (*node.NodeResult, error)
}

// EventLoopRunner adapts *node.EventLoopNode to Runner, giving every
// invocation a fresh Conversation and publishing node_loop_completed once
// the node's loop returns a result.
type EventLoopRunner struct {
	Node *node.EventLoopNode
}

func (r *EventLoopRunner) Run(ctx context.Context, spec graph.NodeSpec, shared *state.Store, scope node.Scope, input <-chan string) (*node.NodeResult, error) {
	result, err := r.Node.Run(ctx, spec, node.NewConversation(), shared, scope, input)
	if err != nil {
		return nil, err
	}
	publish(scope.Bus, scope.ExecutionID, scope.NodeID, bus.EventNodeLoopCompleted, map[string]any{"status": string(result.Status), "iterations": result.Iterations})
	return result, nil
}

// FunctionRunner adapts a FunctionFn to Runner, bracketing the call with
// the same node_loop_started/node_loop_completed events an event_loop
// node's run emits so clients don't need to special-case node type.
type FunctionRunner struct {
	Fn FunctionFn
}

func (r *FunctionRunner) Run(ctx context.Context, spec graph.NodeSpec, shared *state.Store, scope node.Scope, input <-chan string) (*node.NodeResult, error) {
	publish(scope.Bus, scope.ExecutionID, scope.NodeID, bus.EventNodeLoopStarted, map[string]any{"type": "function"})
	result, err := r.Fn(ctx, spec, shared, scope)
	if err != nil {
		return nil, err
	}
	publish(scope.Bus, scope.ExecutionID, scope.NodeID, bus.EventNodeLoopCompleted, map[string]any{"status": string(result.Status)})
	return result, nil
}

func (ex *GraphExecutor) runnerFor(spec graph.NodeSpec) (Runner, error) {
	switch spec.Type {
	case graph.NodeTypeEventLoop:
		if ex.EventLoop == nil {
			return nil, fmt.Errorf("node %q is event_loop type but no EventLoopNode is configured", spec.ID)
		}
		return &EventLoopRunner{Node: ex.EventLoop}, nil
	case graph.NodeTypeFunction:
		fn, ok := ex.Functions[spec.ID]
		if !ok {
			return nil, fmt.Errorf("node %q is function type but no FunctionFn is registered", spec.ID)
		}
		return &FunctionRunner{Fn: fn}, nil
	default:
		return nil, fmt.Errorf("node %q has unknown type %q", spec.ID, spec.Type)
	}
}

// selectEdges evaluates current's outgoing edges priority group by
// priority group (ascending), returning the first group with at least one
// match. A group containing more than one matching edge is a parallel
// fan-out (spec.md §4.5).
func (ex *GraphExecutor) selectEdges(ctx context.Context, g *graph.Graph, current string, result *node.NodeResult, shared *state.Store, executionID string) ([]graph.EdgeSpec, error) {
	edges := g.OutgoingEdges(current)
	i := 0
	for i < len(edges) {
		j := i
		for j < len(edges) && edges[j].Priority == edges[i].Priority {
			j++
		}
		group := edges[i:j]

		matched, err := ex.evaluateGroup(ctx, group, result, shared, executionID)
		if err != nil {
			return nil, err
		}
		if len(matched) > 0 {
			return matched, nil
		}
		i = j
	}
	return nil, nil
}

func (ex *GraphExecutor) evaluateGroup(ctx context.Context, group []graph.EdgeSpec, result *node.NodeResult, shared *state.Store, executionID string) ([]graph.EdgeSpec, error) {
	if group[0].Condition == graph.EdgeRouter {
		if ex.Router == nil {
			return nil, errors.New("router edge present but no Router is configured")
		}
		sel, err := ex.Router.Select(ctx, group[0].Source, group, shared, executionID)
		if err != nil {
			return nil, fmt.Errorf("router for node %q: %w", group[0].Source, err)
		}
		if sel == nil {
			return nil, nil
		}
		return []graph.EdgeSpec{*sel}, nil
	}

	var matched []graph.EdgeSpec
	for _, e := range group {
		if edgeConditionMatches(e, result, shared, executionID) {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func edgeConditionMatches(e graph.EdgeSpec, result *node.NodeResult, shared *state.Store, executionID string) bool {
	switch e.Condition {
	case graph.EdgeAlways:
		return true
	case graph.EdgeOnSuccess:
		return result.Status == node.StatusSuccess
	case graph.EdgeOnFailure:
		return result.Status != node.StatusSuccess
	case graph.EdgeConditional:
		v, _ := shared.Get(executionID, e.PredicateKey)
		return isTruthy(v) != e.Negate
	default:
		return false
	}
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	default:
		return true
	}
}

// nearestCommonDescendant finds a node reachable from every branch target,
// approximating "nearest" as the first node in branch 0's breadth-first
// reachability order that is also reachable from every other branch
// (spec.md §9 parallel join design note).
func nearestCommonDescendant(g *graph.Graph, branches []graph.EdgeSpec) (string, bool) {
	if len(branches) == 0 {
		return "", false
	}
	order := bfsOrder(g, branches[0].Target)
	reachableSets := make([]map[string]bool, len(branches))
	for i, e := range branches {
		if i == 0 {
			reachableSets[i] = setOf(order)
			continue
		}
		reachableSets[i] = setOf(bfsOrder(g, e.Target))
	}

	for _, n := range order {
		inAll := true
		for _, set := range reachableSets {
			if !set[n] {
				inAll = false
				break
			}
		}
		if inAll {
			return n, true
		}
	}
	return "", false
}

func bfsOrder(g *graph.Graph, start string) []string {
	visited := map[string]bool{start: true}
	order := []string{start}
	queue := []string{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, e := range g.OutgoingEdges(n) {
			if visited[e.Target] {
				continue
			}
			visited[e.Target] = true
			order = append(order, e.Target)
			queue = append(queue, e.Target)
		}
	}
	return order
}

func setOf(xs []string) map[string]bool {
	m := make(map[string]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}

// branchOutcome is one parallel branch's terminal state.
type branchOutcome struct {
	edge   graph.EdgeSpec
	result *Result
	err    error
	writes map[string]bool
}

// runBranches runs every matched edge's target as an independent
// sub-execution scoped to its own branch execution id
// (parentExecutionID#index), so ISOLATED/SHARED state semantics already
// scope per-branch writes without new store machinery. Each branch runs
// until it reaches join (if hasJoin) or its own terminal state.
func (ex *GraphExecutor) runBranches(ctx context.Context, g *graph.Graph, parentExecutionID string, branches []graph.EdgeSpec, shared *state.Store, b *bus.Bus, join string, hasJoin bool) []*branchOutcome {
	// A single write hook, shared by every branch goroutine, records which
	// execution id wrote which key. Installed once for the whole fan-out so
	// concurrent branches don't race installing/overwriting each other's
	// hook (spec.md §4.5/§9 parallel join design note).
	var writesMu sync.Mutex
	writesByExec := map[string]map[string]bool{}
	shared.SetWriteHook(func(key, execID string) {
		writesMu.Lock()
		m, ok := writesByExec[execID]
		if !ok {
			m = map[string]bool{}
			writesByExec[execID] = m
		}
		m[key] = true
		writesMu.Unlock()
	})

	outcomes := make([]*branchOutcome, len(branches))
	var wg sync.WaitGroup

	for idx, e := range branches {
		wg.Add(1)
		go func(idx int, e graph.EdgeSpec) {
			defer wg.Done()
			branchExecID := fmt.Sprintf("%s#%d", parentExecutionID, idx)

			res, err := ex.runSubgraph(ctx, g, branchExecID, e.Target, join, hasJoin, shared, b)
			outcomes[idx] = &branchOutcome{edge: e, result: res, err: err}
		}(idx, e)
	}

	wg.Wait()
	shared.SetWriteHook(nil)

	writesMu.Lock()
	for idx := range branches {
		branchExecID := fmt.Sprintf("%s#%d", parentExecutionID, idx)
		if outcomes[idx] != nil {
			outcomes[idx].writes = writesByExec[branchExecID]
		}
	}
	writesMu.Unlock()

	return outcomes
}

// runSubgraph is Execute's traversal loop restricted to a single branch: it
// stops (successfully) the moment current == join, instead of requiring a
// terminal edge. Used only from runBranches.
func (ex *GraphExecutor) runSubgraph(ctx context.Context, g *graph.Graph, executionID, start, join string, hasJoin bool, shared *state.Store, b *bus.Bus) (*Result, error) {
	visits := map[string]int{}
	current := start
	for {
		if hasJoin && current == join {
			return &Result{Status: node.StatusSuccess}, nil
		}

		spec, ok := g.Node(current)
		if !ok {
			return nil, fmt.Errorf("node %q not found", current)
		}
		if spec.MaxNodeVisits > 0 && visits[current] >= spec.MaxNodeVisits {
			return nil, &VisitCapError{NodeID: current, Cap: spec.MaxNodeVisits}
		}
		visits[current]++

		scope := node.Scope{ExecutionID: executionID, NodeID: current, Bus: b}
		result, err := ex.runNodeWithRetry(ctx, spec, shared, scope, nil)
		if err != nil {
			return nil, err
		}
		applyOutputs(shared, executionID, result.Outputs)

		if result.Status != node.StatusSuccess {
			return &Result{Status: result.Status, Outputs: result.Outputs, Error: result.Error}, nil
		}

		matched, err := ex.selectEdges(ctx, g, current, result, shared, executionID)
		if err != nil {
			return nil, err
		}
		if len(matched) == 0 {
			return &Result{Status: node.StatusSuccess, Outputs: result.Outputs}, nil
		}
		// Nested fan-out within a branch, prior to rejoining the parent
		// fan-out, is not supported: take the highest-priority match only.
		current = matched[0].Target
	}
}

// resolveConflicts checks whether more than one branch wrote the same key.
// Under SYNCHRONIZED isolation this is allowed (each Set is atomic and the
// last write stands; the store's per-key Lock is not taken here); under
// SHARED/ISOLATED it is a conflict (spec.md §4.5, §9).
func resolveConflicts(shared *state.Store, outcomes []*branchOutcome) error {
	if shared.Isolation() == state.Synchronized {
		return nil
	}

	writers := map[string][]string{}
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		for k := range o.writes {
			writers[k] = append(writers[k], o.edge.Target)
		}
	}

	var conflicted []string
	for k, branches := range writers {
		if len(branches) > 1 {
			sort.Strings(branches)
			shared.PublishConflict(k, branches)
			conflicted = append(conflicted, k)
		}
	}
	if len(conflicted) > 0 {
		sort.Strings(conflicted)
		return fmt.Errorf("state conflict: keys %v written by more than one parallel branch", conflicted)
	}
	return nil
}

func firstBranchFailure(outcomes []*branchOutcome) *branchOutcome {
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		if o.err != nil {
			return o
		}
		if o.result != nil && o.result.Status != node.StatusSuccess {
			err := o.result.Error
			if err == nil {
				err = fmt.Errorf("branch into %q ended in status %s", o.edge.Target, o.result.Status)
			}
			return &branchOutcome{edge: o.edge, err: err}
		}
	}
	return nil
}

func mergeBranchOutputs(outcomes []*branchOutcome) map[string]any {
	out := map[string]any{}
	for _, o := range outcomes {
		if o == nil || o.result == nil {
			continue
		}
		for k, v := range o.result.Outputs {
			out[k] = v
		}
	}
	return out
}

// PauseGate suspends an in-progress ExecuteWithGate call between node
// visits. The zero value is paused=false (running).
type PauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

// NewPauseGate creates a running (unpaused) gate.
func NewPauseGate() *PauseGate {
	return &PauseGate{resume: make(chan struct{})}
}

// Pause suspends the gate. Idempotent.
func (g *PauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = true
}

// Resume unsuspends the gate, releasing anyone blocked in wait. Idempotent.
func (g *PauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resume)
	g.resume = make(chan struct{})
}

// Paused reports whether the gate is currently suspended.
func (g *PauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

func (g *PauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	ch := g.resume
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
