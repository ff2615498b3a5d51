package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pajohmail/aden-hive/pkg/bus"
	"github.com/pajohmail/aden-hive/pkg/graph"
	"github.com/pajohmail/aden-hive/pkg/judge"
	"github.com/pajohmail/aden-hive/pkg/llm"
	"github.com/pajohmail/aden-hive/pkg/llm/mockllm"
	"github.com/pajohmail/aden-hive/pkg/state"
	"github.com/pajohmail/aden-hive/pkg/tool"
)

func acceptAllJudge() *judge.Protocol {
	return judge.NewProtocol([]judge.EvaluationRule{
		{ID: "accept", Priority: 1, Condition: func(judge.Request) bool { return true }, Action: judge.Accept},
	}, nil, 0, "")
}

func newTestScope(b *bus.Bus, executionID, nodeID string) Scope {
	return Scope{ExecutionID: executionID, NodeID: nodeID, Bus: b}
}

func TestRunSucceedsWithSetOutput(t *testing.T) {
	mock := mockllm.New()
	mock.AddSequential(mockllm.ScriptEntry{Chunks: []llm.Chunk{
		&llm.TextChunk{Content: "working on it"},
		&llm.ToolCallChunk{CallID: "1", Name: tool.SetOutput, Arguments: `{"key":"result","value":"done"}`},
	}})

	n := &EventLoopNode{LLM: mock, Judge: acceptAllJudge(), Tools: tool.NewStubExecutor(nil)}
	shared := state.New(state.Shared, nil)
	conv := NewConversation()
	b := bus.New()

	spec := graph.NodeSpec{ID: "n1", OutputKeys: []graph.OutputKey{{Key: "result"}}}
	res, err := n.Run(context.Background(), spec, conv, shared, newTestScope(b, "exec-1", "n1"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "done", res.Outputs["result"])
}

func TestRunFailsWhenRequiredOutputMissingAndRetryBudgetExhausted(t *testing.T) {
	mock := mockllm.New()
	for i := 0; i < 5; i++ {
		mock.AddSequential(mockllm.ScriptEntry{Text: "i am done, nothing more to say"})
	}

	n := &EventLoopNode{LLM: mock, Judge: acceptAllJudge(), Tools: tool.NewStubExecutor(nil)}
	shared := state.New(state.Shared, nil)
	conv := NewConversation()
	b := bus.New()

	spec := graph.NodeSpec{ID: "n1", MaxIterations: 2, OutputKeys: []graph.OutputKey{{Key: "result"}}}
	res, err := n.Run(context.Background(), spec, conv, shared, newTestScope(b, "exec-1", "n1"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error.Error(), "iteration budget exhausted")
}

func TestRunDetectsStall(t *testing.T) {
	mock := mockllm.New()
	for i := 0; i < 4; i++ {
		mock.AddSequential(mockllm.ScriptEntry{Text: "same answer every time"})
	}

	n := &EventLoopNode{LLM: mock, Judge: judge.NewProtocol([]judge.EvaluationRule{
		{ID: "retry", Priority: 1, Condition: func(judge.Request) bool { return true }, Action: judge.Retry},
	}, nil, 0, ""), Tools: tool.NewStubExecutor(nil)}
	shared := state.New(state.Shared, nil)
	conv := NewConversation()
	b := bus.New()

	spec := graph.NodeSpec{ID: "n1"}
	res, err := n.Run(context.Background(), spec, conv, shared, newTestScope(b, "exec-1", "n1"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error.Error(), "stalled")
}

func TestRunDetectsToolDoomLoop(t *testing.T) {
	mock := mockllm.New()
	for i := 0; i < 6; i++ {
		mock.AddSequential(mockllm.ScriptEntry{Chunks: []llm.Chunk{
			&llm.ToolCallChunk{CallID: "x", Name: "search", Arguments: `{"q":"same"}`},
		}})
	}

	n := &EventLoopNode{LLM: mock, Judge: acceptAllJudge(), Tools: tool.NewStubExecutor(nil)}
	shared := state.New(state.Shared, nil)
	conv := NewConversation()
	b := bus.New()

	spec := graph.NodeSpec{ID: "n1"}
	res, err := n.Run(context.Background(), spec, conv, shared, newTestScope(b, "exec-1", "n1"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error.Error(), "doom loop")
}

func TestRunEscalatesOnSyntheticEscalateTool(t *testing.T) {
	mock := mockllm.New()
	mock.AddSequential(mockllm.ScriptEntry{Chunks: []llm.Chunk{
		&llm.ToolCallChunk{CallID: "1", Name: tool.EscalateToCoder, Arguments: `{"reason":"stuck","context":"cannot proceed"}`},
	}})

	n := &EventLoopNode{LLM: mock, Judge: acceptAllJudge(), Tools: tool.NewStubExecutor(nil)}
	shared := state.New(state.Shared, nil)
	conv := NewConversation()
	b := bus.New()

	spec := graph.NodeSpec{ID: "n1"}
	res, err := n.Run(context.Background(), spec, conv, shared, newTestScope(b, "exec-1", "n1"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, res.Status)
}

func TestRunBlocksOnClientInputThenResumes(t *testing.T) {
	mock := mockllm.New()
	mock.AddSequential(mockllm.ScriptEntry{Text: "what is your name?"})
	mock.AddSequential(mockllm.ScriptEntry{Chunks: []llm.Chunk{
		&llm.ToolCallChunk{CallID: "1", Name: tool.SetOutput, Arguments: `{"key":"name","value":"Alice"}`},
	}})

	n := &EventLoopNode{LLM: mock, Judge: acceptAllJudge(), Tools: tool.NewStubExecutor(nil)}
	shared := state.New(state.Shared, nil)
	conv := NewConversation()
	b := bus.New()

	inputCh := make(chan string, 1)
	inputCh <- "Alice"

	spec := graph.NodeSpec{ID: "n1", ClientFacing: true, OutputKeys: []graph.OutputKey{{Key: "name"}}}
	res, err := n.Run(context.Background(), spec, conv, shared, newTestScope(b, "exec-1", "n1"), inputCh)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "Alice", res.Outputs["name"])
}

func TestRunHonorsCancellation(t *testing.T) {
	mock := mockllm.New()
	blockCh := make(chan struct{})
	mock.AddSequential(mockllm.ScriptEntry{BlockUntilCancelled: true, OnBlock: blockCh})

	n := &EventLoopNode{LLM: mock, Judge: acceptAllJudge(), Tools: tool.NewStubExecutor(nil)}
	shared := state.New(state.Shared, nil)
	conv := NewConversation()
	b := bus.New()

	ctx, cancel := context.WithCancel(context.Background())
	spec := graph.NodeSpec{ID: "n1"}

	resultCh := make(chan *NodeResult, 1)
	go func() {
		res, _ := n.Run(ctx, spec, conv, shared, newTestScope(b, "exec-1", "n1"), nil)
		resultCh <- res
	}()

	<-blockCh
	cancel()

	select {
	case res := <-resultCh:
		assert.Equal(t, StatusCancelled, res.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
