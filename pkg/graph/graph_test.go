package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmptyGraph(t *testing.T) {
	_, err := New(Graph{})
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNewRejectsMissingEntryNode(t *testing.T) {
	_, err := New(Graph{
		Nodes: []NodeSpec{{ID: "a"}},
	})
	require.Error(t, err)
}

func TestNewRejectsUnknownEntryNode(t *testing.T) {
	_, err := New(Graph{
		Nodes:     []NodeSpec{{ID: "a"}},
		EntryNode: "does-not-exist",
	})
	require.Error(t, err)
}

func TestNewRejectsEdgeToUnknownNode(t *testing.T) {
	_, err := New(Graph{
		Nodes:     []NodeSpec{{ID: "a"}},
		EntryNode: "a",
		Edges:     []EdgeSpec{{Source: "a", Target: "ghost", Condition: EdgeAlways}},
	})
	require.Error(t, err)
}

func TestNewRejectsDeadOnSuccessCycle(t *testing.T) {
	_, err := New(Graph{
		Nodes:     []NodeSpec{{ID: "a"}, {ID: "b"}},
		EntryNode: "a",
		Edges: []EdgeSpec{
			{Source: "a", Target: "b", Condition: EdgeOnSuccess},
			{Source: "b", Target: "a", Condition: EdgeOnSuccess},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic on_success with no exit")
}

func TestNewAllowsCycleWithExit(t *testing.T) {
	g, err := New(Graph{
		Nodes:     []NodeSpec{{ID: "a"}, {ID: "b"}, {ID: "done"}},
		EntryNode: "a",
		Edges: []EdgeSpec{
			{Source: "a", Target: "b", Condition: EdgeOnSuccess},
			{Source: "b", Target: "a", Condition: EdgeOnFailure},
			{Source: "b", Target: "done", Condition: EdgeOnSuccess},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, g)
}

func TestOutgoingEdgesSortedByPriorityThenDeclOrder(t *testing.T) {
	g, err := New(Graph{
		Nodes:     []NodeSpec{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
		EntryNode: "a",
		Edges: []EdgeSpec{
			{Source: "a", Target: "b", Condition: EdgeConditional, Priority: 5},
			{Source: "a", Target: "c", Condition: EdgeConditional, Priority: 1},
			{Source: "a", Target: "d", Condition: EdgeConditional, Priority: 1},
		},
	})
	require.NoError(t, err)

	edges := g.OutgoingEdges("a")
	require.Len(t, edges, 3)
	assert.Equal(t, "c", edges[0].Target) // priority 1, declared first
	assert.Equal(t, "d", edges[1].Target) // priority 1, declared second
	assert.Equal(t, "b", edges[2].Target) // priority 5
}

func TestBackEdgesClassifiesCycleEdge(t *testing.T) {
	g, err := New(Graph{
		Nodes:     []NodeSpec{{ID: "a"}, {ID: "b"}, {ID: "done"}},
		EntryNode: "a",
		Edges: []EdgeSpec{
			{Source: "a", Target: "b", Condition: EdgeOnSuccess},
			{Source: "b", Target: "a", Condition: EdgeOnFailure},
			{Source: "b", Target: "done", Condition: EdgeOnSuccess},
		},
	})
	require.NoError(t, err)

	back := BackEdges(g, "a")
	assert.True(t, back[g.OutgoingEdges("b")[0]] || back[g.OutgoingEdges("b")[1]])

	var sawBack bool
	for _, e := range g.Edges {
		if e.Source == "b" && e.Target == "a" {
			sawBack = back[e]
		}
	}
	assert.True(t, sawBack, "b->a should be classified as a back edge")
}

func TestBackEdgesForwardEdgesNotClassified(t *testing.T) {
	g, err := New(Graph{
		Nodes:     []NodeSpec{{ID: "a"}, {ID: "b"}},
		EntryNode: "a",
		Edges: []EdgeSpec{
			{Source: "a", Target: "b", Condition: EdgeAlways},
		},
	})
	require.NoError(t, err)

	back := BackEdges(g, "a")
	for _, e := range g.Edges {
		assert.False(t, back[e])
	}
}

func TestDuplicateNodeIDRejected(t *testing.T) {
	_, err := New(Graph{
		Nodes:     []NodeSpec{{ID: "a"}, {ID: "a"}},
		EntryNode: "a",
	})
	require.Error(t, err)
}

func TestEntryPointTargetingUnknownNodeRejected(t *testing.T) {
	_, err := New(Graph{
		Nodes:     []NodeSpec{{ID: "a"}},
		EntryNode: "a",
		EntryPoints: []EntryPointSpec{
			{ID: "ep1", Trigger: TriggerWebhook, TargetNode: "ghost"},
		},
	})
	require.Error(t, err)
}
