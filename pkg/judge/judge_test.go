package judge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pajohmail/aden-hive/pkg/llm"
	"github.com/pajohmail/aden-hive/pkg/llm/mockllm"
)

func TestImplicitContinueBypassesRulesAndLLM(t *testing.T) {
	p := NewProtocol(
		[]EvaluationRule{{ID: "always-escalate", Priority: 100, Condition: func(Request) bool { return true }, Action: Escalate}},
		nil, 0, "",
	)
	v, err := p.Evaluate(context.Background(), Request{NonSyntheticToolCalls: true})
	require.NoError(t, err)
	assert.Equal(t, Continue, v.Action)
	assert.Equal(t, JudgeImplicit, v.JudgeType)
}

func TestRuleStageHighestPriorityWins(t *testing.T) {
	p := NewProtocol([]EvaluationRule{
		{ID: "low", Priority: 1, Condition: func(Request) bool { return true }, Action: Retry},
		{ID: "high", Priority: 10, Condition: func(Request) bool { return true }, Action: Accept},
	}, nil, 0, "")

	v, err := p.Evaluate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, Accept, v.Action)
	assert.Equal(t, JudgeRule, v.JudgeType)
}

func TestNoRuleNoLLMEscalates(t *testing.T) {
	p := NewProtocol(nil, nil, 0, "")
	v, err := p.Evaluate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, Escalate, v.Action)
}

func TestLLMStageHighConfidenceAccepted(t *testing.T) {
	mock := mockllm.New()
	mock.AddSequential(mockllm.ScriptEntry{Text: `{"action": "ACCEPT", "confidence": 0.95, "feedback": "looks good"}`})

	p := NewProtocol(nil, mock, 0.7, "judge-model")
	v, err := p.Evaluate(context.Background(), Request{SuccessCriteria: "done"})
	require.NoError(t, err)
	assert.Equal(t, Accept, v.Action)
	assert.Equal(t, JudgeLLM, v.JudgeType)
	assert.InDelta(t, 0.95, v.Confidence, 0.001)
}

func TestLLMStageLowConfidenceEscalates(t *testing.T) {
	mock := mockllm.New()
	mock.AddSequential(mockllm.ScriptEntry{Text: `{"action": "ACCEPT", "confidence": 0.3, "feedback": "unsure"}`})

	p := NewProtocol(nil, mock, 0.7, "")
	v, err := p.Evaluate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, Escalate, v.Action)
	assert.Equal(t, "low confidence", v.Feedback)
}

func TestLLMStageUnparseableJSONEscalates(t *testing.T) {
	mock := mockllm.New()
	mock.AddSequential(mockllm.ScriptEntry{Text: "not json at all"})

	p := NewProtocol(nil, mock, 0, "")
	v, err := p.Evaluate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, Escalate, v.Action)
}

func TestLLMStagePropagatesErrorChunk(t *testing.T) {
	mock := mockllm.New()
	mock.AddSequential(mockllm.ScriptEntry{Chunks: []llm.Chunk{&llm.ErrorChunk{Message: "provider down"}}})

	p := NewProtocol(nil, mock, 0, "")
	_, err := p.Evaluate(context.Background(), Request{})
	require.Error(t, err)
}
