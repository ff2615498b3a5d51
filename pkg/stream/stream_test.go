package stream

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pajohmail/aden-hive/pkg/bus"
	"github.com/pajohmail/aden-hive/pkg/checkpoint"
	"github.com/pajohmail/aden-hive/pkg/executor"
	"github.com/pajohmail/aden-hive/pkg/graph"
	"github.com/pajohmail/aden-hive/pkg/judge"
	"github.com/pajohmail/aden-hive/pkg/llm"
	"github.com/pajohmail/aden-hive/pkg/llm/mockllm"
	"github.com/pajohmail/aden-hive/pkg/node"
	"github.com/pajohmail/aden-hive/pkg/state"
	"github.com/pajohmail/aden-hive/pkg/tool"
)

func acceptAllJudge() *judge.Protocol {
	return judge.NewProtocol([]judge.EvaluationRule{
		{ID: "accept", Priority: 1, Condition: func(judge.Request) bool { return true }, Action: judge.Accept},
	}, nil, 0, "")
}

func setOutputEntry(key, value string) mockllm.ScriptEntry {
	return mockllm.ScriptEntry{Chunks: []llm.Chunk{
		&llm.ToolCallChunk{CallID: "1", Name: tool.SetOutput, Arguments: `{"key":"` + key + `","value":"` + value + `"}`},
	}}
}

func newLinearGraph(t *testing.T) *graph.Graph {
	g, err := graph.New(graph.Graph{
		EntryNode: "a",
		Nodes: []graph.NodeSpec{
			{ID: "a", Type: graph.NodeTypeEventLoop, OutputKeys: []graph.OutputKey{{Key: "a_done"}}},
		},
	})
	require.NoError(t, err)
	return g
}

func TestStreamStartRunsToCompletion(t *testing.T) {
	mock := mockllm.New()
	mock.AddForNode("a", setOutputEntry("a_done", "yes"))
	eln := &node.EventLoopNode{LLM: mock, Judge: acceptAllJudge(), Tools: tool.NewStubExecutor(nil)}
	ex := executor.New(eln, nil, nil)

	g := newLinearGraph(t)
	shared := state.New(state.Shared, nil)
	s := New("sess-1", g, ex, shared, bus.New(), nil)

	s.Start(context.Background())
	<-s.Done()

	assert.Equal(t, StatusCompleted, s.Status())
	res, err := s.Result()
	require.NoError(t, err)
	assert.Equal(t, "yes", res.Outputs["a_done"])
}

func TestStreamPauseResume(t *testing.T) {
	// Node "a" blocks mid-flight on waitCh so the test can deterministically
	// pause while the stream is still running, then a second node "b" only
	// starts once resumed — proving the gate actually held the traversal.
	waitCh := make(chan struct{})
	onBlock := make(chan struct{})

	mock := mockllm.New()
	mock.AddForNode("a", mockllm.ScriptEntry{
		Chunks:  []llm.Chunk{&llm.ToolCallChunk{CallID: "1", Name: tool.SetOutput, Arguments: `{"key":"a_done","value":"yes"}`}},
		WaitCh:  waitCh,
		OnBlock: onBlock,
	})
	mock.AddForNode("b", setOutputEntry("b_done", "yes"))

	eln := &node.EventLoopNode{LLM: mock, Judge: acceptAllJudge(), Tools: tool.NewStubExecutor(nil)}
	ex := executor.New(eln, nil, nil)

	g, err := graph.New(graph.Graph{
		EntryNode: "a",
		Nodes: []graph.NodeSpec{
			{ID: "a", Type: graph.NodeTypeEventLoop, OutputKeys: []graph.OutputKey{{Key: "a_done"}}},
			{ID: "b", Type: graph.NodeTypeEventLoop, OutputKeys: []graph.OutputKey{{Key: "b_done"}}},
		},
		Edges: []graph.EdgeSpec{{Source: "a", Target: "b", Condition: graph.EdgeOnSuccess}},
	})
	require.NoError(t, err)

	shared := state.New(state.Shared, nil)
	s := New("sess-1", g, ex, shared, bus.New(), nil)

	s.Pause() // no-op before Start
	s.Start(context.Background())

	<-onBlock // node "a"'s LLM call is in flight
	s.Pause()
	assert.Equal(t, StatusPaused, s.Status())
	close(waitCh) // let node "a" finish; gate now blocks before node "b"

	select {
	case <-s.Done():
		t.Fatal("execution completed while paused")
	case <-time.After(50 * time.Millisecond):
	}

	s.Resume()
	<-s.Done()
	assert.Equal(t, StatusCompleted, s.Status())
	res, _ := s.Result()
	assert.Equal(t, "yes", res.Outputs["b_done"])
}

func TestStreamCancel(t *testing.T) {
	mock := mockllm.New()
	blockCh := make(chan struct{})
	mock.AddForNode("a", mockllm.ScriptEntry{BlockUntilCancelled: true, OnBlock: blockCh})
	eln := &node.EventLoopNode{LLM: mock, Judge: acceptAllJudge(), Tools: tool.NewStubExecutor(nil)}
	ex := executor.New(eln, nil, nil)

	g := newLinearGraph(t)
	shared := state.New(state.Shared, nil)
	s := New("sess-1", g, ex, shared, bus.New(), nil)

	s.Start(context.Background())
	<-blockCh
	s.Cancel()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finish after Cancel")
	}
	assert.Equal(t, StatusCancelled, s.Status())
}

func TestStreamInjectDeliversToBlockedNode(t *testing.T) {
	g, err := graph.New(graph.Graph{
		EntryNode: "a",
		Nodes: []graph.NodeSpec{
			{ID: "a", Type: graph.NodeTypeEventLoop, ClientFacing: true, OutputKeys: []graph.OutputKey{{Key: "name"}}},
		},
	})
	require.NoError(t, err)

	mock := mockllm.New()
	mock.AddForNode("a", mockllm.ScriptEntry{Text: "what's your name?"})
	mock.AddForNode("a", setOutputEntry("name", "Alice"))
	eln := &node.EventLoopNode{LLM: mock, Judge: acceptAllJudge(), Tools: tool.NewStubExecutor(nil)}
	ex := executor.New(eln, nil, nil)

	shared := state.New(state.Shared, nil)
	s := New("sess-1", g, ex, shared, bus.New(), nil)
	s.Start(context.Background())

	var delivered bool
	for i := 0; i < 200 && !delivered; i++ {
		delivered = s.Inject("Alice")
	}
	require.True(t, delivered)

	<-s.Done()
	assert.Equal(t, StatusCompleted, s.Status())
	res, _ := s.Result()
	assert.Equal(t, "Alice", res.Outputs["name"])
}

func TestStreamCheckpointSnapshotsSharedState(t *testing.T) {
	mock := mockllm.New()
	mock.AddForNode("a", setOutputEntry("a_done", "yes"))
	eln := &node.EventLoopNode{LLM: mock, Judge: acceptAllJudge(), Tools: tool.NewStubExecutor(nil)}
	ex := executor.New(eln, nil, nil)

	g := newLinearGraph(t)
	shared := state.New(state.Shared, nil)

	dir, err := os.MkdirTemp("", "hive-checkpoint-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	cps := checkpoint.NewStore(dir)

	s := New("sess-1", g, ex, shared, bus.New(), cps)
	s.Start(context.Background())
	<-s.Done()

	id, err := s.Checkpoint()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	cp, err := cps.Get("sess-1", id)
	require.NoError(t, err)
	assert.Equal(t, "yes", cp.SharedStateSnapshot["a_done"])
}
