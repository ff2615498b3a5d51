package mockllm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pajohmail/aden-hive/pkg/llm"
)

func drain(t *testing.T, ch <-chan llm.Chunk) []llm.Chunk {
	t.Helper()
	var out []llm.Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestSequentialDispatchInOrder(t *testing.T) {
	c := New()
	c.AddSequential(ScriptEntry{Text: "first"})
	c.AddSequential(ScriptEntry{Text: "second"})

	ch1, err := c.Generate(context.Background(), &llm.GenerateInput{})
	require.NoError(t, err)
	chunks1 := drain(t, ch1)
	require.Len(t, chunks1, 2)
	assert.Equal(t, "first", chunks1[0].(*llm.TextChunk).Content)

	ch2, err := c.Generate(context.Background(), &llm.GenerateInput{})
	require.NoError(t, err)
	chunks2 := drain(t, ch2)
	assert.Equal(t, "second", chunks2[0].(*llm.TextChunk).Content)
}

func TestNodeScriptTakesPriorityOverSequential(t *testing.T) {
	c := New()
	c.AddSequential(ScriptEntry{Text: "fallback"})
	c.AddForNode("queen", ScriptEntry{Text: "queen-response"})

	ch, err := c.Generate(context.Background(), &llm.GenerateInput{NodeID: "queen"})
	require.NoError(t, err)
	chunks := drain(t, ch)
	assert.Equal(t, "queen-response", chunks[0].(*llm.TextChunk).Content)
	assert.Equal(t, 1, c.CallCount())
}

func TestExhaustedScriptReturnsError(t *testing.T) {
	c := New()
	_, err := c.Generate(context.Background(), &llm.GenerateInput{})
	require.Error(t, err)
}

func TestBlockUntilCancelledClosesOnCancel(t *testing.T) {
	c := New()
	c.AddSequential(ScriptEntry{BlockUntilCancelled: true})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Generate(ctx, &llm.GenerateInput{})
	require.NoError(t, err)
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}
