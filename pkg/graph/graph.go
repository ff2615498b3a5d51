// Package graph defines the immutable graph specification the engine
// executes (spec.md §3): nodes, edges, entry points, load-time validation,
// and informational back-edge classification.
package graph

import "fmt"

// NodeType is the tagged-variant discriminator for NodeSpec.Type. The
// executor never inspects this beyond selecting a handler (spec.md §9's
// "dynamic dispatch" design note): each type maps to exactly one
// executor.Runner implementation.
type NodeType string

const (
	NodeTypeEventLoop NodeType = "event_loop"
	NodeTypeFunction   NodeType = "function"
)

// OutputKey is one of a node's declared output keys. Nullable keys are not
// required to be set for the node to succeed (spec.md §3 invariant on
// non-nullable keys).
type OutputKey struct {
	Key      string
	Nullable bool
}

// NodeSpec is one node in a Graph (spec.md §3).
type NodeSpec struct {
	ID               string
	Type             NodeType
	InputKeys        []string
	OutputKeys       []OutputKey
	PermittedTools   []string
	MaxRetries       int // LLM transient-error retry budget within one node run (spec.md §4.4); 0 = use node package default
	NodeRetryBudget  int // node-level re-entries from scratch on node failure (spec.md §4.5); 0 = no re-entry
	MaxIterations    int // EventLoopNode iteration budget; 0 = unbounded
	MaxNodeVisits    int // 0 = unbounded (spec.md §3 invariant)
	SuccessCriteria  string
	SystemPrompt     string
	ClientFacing     bool
}

// EdgeCondition is the evaluation rule for an EdgeSpec (spec.md §3).
type EdgeCondition string

const (
	EdgeAlways      EdgeCondition = "always"
	EdgeOnSuccess   EdgeCondition = "on_success"
	EdgeOnFailure   EdgeCondition = "on_failure"
	EdgeConditional EdgeCondition = "conditional"
	EdgeRouter      EdgeCondition = "router"
)

// EdgeSpec connects Source to Target under Condition, evaluated in
// ascending Priority order with ties broken by declaration order
// (spec.md §3).
//
// Conditional edges are predicated on a single shared-state boolean key
// rather than an arbitrary expression language: the engine's scope is the
// execution core, not a general expression evaluator, and every example
// agent spec in this pack expresses branching as a boolean flag written by
// set_output. Negate flips the sense (matches iff the key is falsy/unset).
type EdgeSpec struct {
	Source        string
	Target        string
	Condition     EdgeCondition
	Priority      int
	PredicateKey  string // used when Condition == EdgeConditional
	Negate        bool
	declOrder     int // set by Graph validation/normalization, used as the priority tiebreaker
}

// DeclOrder returns the edge's declaration order, used to break priority
// ties (spec.md §3: "ties broken by declaration order").
func (e EdgeSpec) DeclOrder() int { return e.declOrder }

// TriggerSource is the kind of external event that can fire an entry point.
type TriggerSource string

const (
	TriggerManual  TriggerSource = "manual"
	TriggerWebhook TriggerSource = "webhook"
	TriggerTimer   TriggerSource = "timer"
	TriggerEvent   TriggerSource = "event"
)

// EntryPointSpec binds a named trigger source to a target node
// (spec.md §3, GLOSSARY "Entry point").
type EntryPointSpec struct {
	ID            string
	Trigger       TriggerSource
	RoutingConfig map[string]any
	TargetNode    string
}

// Graph is an immutable specification: nodes, edges, one entry node, and
// optional named entry points (spec.md §3).
type Graph struct {
	ID          string
	Nodes       []NodeSpec
	Edges       []EdgeSpec
	EntryNode   string
	EntryPoints []EntryPointSpec

	nodeIndex map[string][]EdgeSpec // source -> outgoing edges, priority-sorted
	nodeByID  map[string]NodeSpec
}

// ConfigError is returned by New when a graph spec is invalid
// (spec.md §7 ConfigError — rejected at load time before any execution
// starts).
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "invalid graph config: " + e.Reason }

// New validates spec and builds an executable Graph, or returns a
// *ConfigError. Edges are normalized: outgoing edges per source are
// sorted by (Priority asc, declaration order asc) once, here, so
// GraphExecutor never has to re-sort on every step.
func New(spec Graph) (*Graph, error) {
	if len(spec.Nodes) == 0 {
		return nil, &ConfigError{Reason: "graph has no nodes"}
	}

	g := &Graph{
		ID:          spec.ID,
		Nodes:       spec.Nodes,
		EntryNode:   spec.EntryNode,
		EntryPoints: spec.EntryPoints,
		nodeByID:    make(map[string]NodeSpec, len(spec.Nodes)),
	}

	for _, n := range spec.Nodes {
		if n.ID == "" {
			return nil, &ConfigError{Reason: "node with empty id"}
		}
		if _, dup := g.nodeByID[n.ID]; dup {
			return nil, &ConfigError{Reason: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		g.nodeByID[n.ID] = n
	}

	if spec.EntryNode == "" {
		return nil, &ConfigError{Reason: "missing entry_node"}
	}
	if _, ok := g.nodeByID[spec.EntryNode]; !ok {
		return nil, &ConfigError{Reason: fmt.Sprintf("entry_node %q does not exist", spec.EntryNode)}
	}

	edges := make([]EdgeSpec, len(spec.Edges))
	copy(edges, spec.Edges)
	for i := range edges {
		edges[i].declOrder = i
		if _, ok := g.nodeByID[edges[i].Source]; !ok {
			return nil, &ConfigError{Reason: fmt.Sprintf("edge source %q does not exist", edges[i].Source)}
		}
		if _, ok := g.nodeByID[edges[i].Target]; !ok {
			return nil, &ConfigError{Reason: fmt.Sprintf("edge target %q does not exist", edges[i].Target)}
		}
	}
	g.Edges = edges

	for _, ep := range spec.EntryPoints {
		if _, ok := g.nodeByID[ep.TargetNode]; !ok {
			return nil, &ConfigError{Reason: fmt.Sprintf("entry point %q targets unknown node %q", ep.ID, ep.TargetNode)}
		}
	}

	g.nodeIndex = make(map[string][]EdgeSpec)
	for _, e := range g.Edges {
		g.nodeIndex[e.Source] = append(g.nodeIndex[e.Source], e)
	}
	for src := range g.nodeIndex {
		sortEdges(g.nodeIndex[src])
	}

	if cyc := findDeadOnSuccessCycle(g); cyc != "" {
		return nil, &ConfigError{Reason: "cyclic on_success with no exit: " + cyc}
	}

	return g, nil
}

func sortEdges(edges []EdgeSpec) {
	// insertion sort: graphs are small (tens of edges per node at most),
	// and this keeps declaration order stable without importing sort for
	// a two-key comparison.
	for i := 1; i < len(edges); i++ {
		j := i
		for j > 0 && less(edges[j], edges[j-1]) {
			edges[j], edges[j-1] = edges[j-1], edges[j]
			j--
		}
	}
}

func less(a, b EdgeSpec) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.declOrder < b.declOrder
}

// Node looks up a node spec by id.
func (g *Graph) Node(id string) (NodeSpec, bool) {
	n, ok := g.nodeByID[id]
	return n, ok
}

// OutgoingEdges returns nodeID's outgoing edges sorted by (priority asc,
// declaration order asc), the order GraphExecutor evaluates them in
// (spec.md §4.5).
func (g *Graph) OutgoingEdges(nodeID string) []EdgeSpec {
	return g.nodeIndex[nodeID]
}
