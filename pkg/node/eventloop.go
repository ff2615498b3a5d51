package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pajohmail/aden-hive/pkg/bus"
	"github.com/pajohmail/aden-hive/pkg/graph"
	"github.com/pajohmail/aden-hive/pkg/judge"
	"github.com/pajohmail/aden-hive/pkg/llm"
	"github.com/pajohmail/aden-hive/pkg/state"
	"github.com/pajohmail/aden-hive/pkg/tool"
)

// Status is a NodeResult's terminal disposition.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusEscalated Status = "escalated"
	StatusCancelled Status = "cancelled"
)

// NodeResult is EventLoopNode.Run's public contract (spec.md §4.4).
type NodeResult struct {
	Outputs    map[string]any
	Status     Status
	Iterations int
	Error      error
}

// Scope identifies the node invocation being run, for event stamping.
type Scope struct {
	ExecutionID string
	NodeID      string
	Bus         *bus.Bus
}

func (s Scope) publish(typ bus.EventType, data map[string]any) {
	e := bus.NewEvent(typ, data)
	e.NodeID = s.NodeID
	e.ExecutionID = s.ExecutionID
	s.Bus.Publish(e)
}

// DefaultMaxRetries is the transient-LLM-error retry budget used when a
// NodeSpec doesn't set one (spec.md §4.4).
const DefaultMaxRetries = 3

// EventLoopNode drives one node's bounded multi-turn LLM+tool loop
// (spec.md §4.4). A single EventLoopNode value is reused across node
// invocations; all per-invocation state lives in the Conversation and
// the arguments to Run.
type EventLoopNode struct {
	LLM   llm.Client
	Judge *judge.Protocol
	Tools tool.Executor
}

// Run executes spec's node loop to completion. input, if non-nil, is read
// while the node is blocked on client_input_requested (spec.md §4.4 step
// 6); the caller (GraphExecutor/ExecutionStream) owns routing injected
// content onto it.
func (n *EventLoopNode) Run(
	ctx context.Context,
	spec graph.NodeSpec,
	conv *Conversation,
	shared *state.Store,
	scope Scope,
	input <-chan string,
) (*NodeResult, error) {
	maxRetries := spec.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	stall := &stallTracker{}
	doom := &doomLoopTracker{}

	for iteration := 1; ; iteration++ {
		if spec.MaxIterations > 0 && iteration > spec.MaxIterations {
			return &NodeResult{Status: StatusFailed, Iterations: iteration - 1, Error: errors.New("iteration budget exhausted")}, nil
		}

		if iteration == 1 {
			scope.publish(bus.EventNodeLoopStarted, map[string]any{"max_iterations": spec.MaxIterations})
		}
		scope.publish(bus.EventNodeLoopIteration, map[string]any{"iteration": iteration})

		if err := ctx.Err(); err != nil {
			return &NodeResult{Status: StatusCancelled, Iterations: iteration - 1, Error: err}, nil
		}

		messages := n.buildMessages(spec, conv, shared, scope.ExecutionID)

		toolDefs, err := n.listTools(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("listing tools for node %s: %w", spec.ID, err)
		}

		text, thinking, toolCalls, genErr := n.runLLMTurnWithRetry(ctx, spec, scope, messages, toolDefs, iteration, maxRetries)
		if genErr != nil {
			if errors.Is(genErr, context.Canceled) || errors.Is(genErr, context.DeadlineExceeded) {
				return &NodeResult{Status: StatusCancelled, Iterations: iteration, Error: genErr}, nil
			}
			return &NodeResult{Status: StatusFailed, Iterations: iteration, Error: genErr}, nil
		}
		if err := ctx.Err(); err != nil {
			return &NodeResult{Status: StatusCancelled, Iterations: iteration, Error: err}, nil
		}

		if text != "" {
			conv.Append(Turn{Role: RoleAssistant, Content: text})
		}
		_ = thinking

		if stall.observe(text) {
			scope.publish(bus.EventNodeStalled, map[string]any{"reason": "identical assistant text 3 turns in a row"})
			return &NodeResult{Status: StatusFailed, Iterations: iteration, Error: errors.New("node stalled: repeated identical response")}, nil
		}

		outputs := map[string]any{}
		var nonSyntheticCalls bool
		var escalated bool
		var escalateReason string

		for _, tc := range toolCalls {
			if tc.Name == tool.SetOutput {
				key, val, ok := parseSetOutput(tc.Arguments)
				if ok {
					outputs[key] = val
					shared.Set(scope.ExecutionID, key, val)
					scope.publish(bus.EventOutputKeySet, map[string]any{"key": key, "value": val})
				}
				conv.Append(Turn{Role: RoleToolResult, Content: "ok", Metadata: map[string]any{"tool_call_id": tc.ID, "tool_name": tc.Name}})
				continue
			}
			if tc.Name == tool.EscalateToCoder {
				reason, escCtx := parseEscalate(tc.Arguments)
				scope.publish(bus.EventEscalationRequested, map[string]any{"reason": reason, "context": escCtx})
				escalated = true
				escalateReason = reason
				continue
			}

			nonSyntheticCalls = true
			if repeated, shouldFail := doom.observe(tc.Name, tc.Arguments); repeated {
				scope.publish(bus.EventNodeToolDoomLoop, map[string]any{"description": fmt.Sprintf("tool %q called repeatedly with identical arguments", tc.Name)})
				if shouldFail {
					return &NodeResult{Status: StatusFailed, Iterations: iteration, Error: errors.New("node tool doom loop detected")}, nil
				}
				conv.Append(Turn{Role: RoleUser, Content: "You have called the same tool with the same arguments several times in a row. Try a different approach or finish the task."})
			}

			result := n.executeTool(ctx, scope, tc)
			conv.Append(Turn{Role: RoleToolResult, Content: result.Content, Metadata: map[string]any{"tool_call_id": tc.ID, "tool_name": tc.Name, "is_error": result.IsError}})
		}

		if escalated {
			return &NodeResult{Status: StatusEscalated, Iterations: iteration, Error: fmt.Errorf("escalated: %s", escalateReason)}, nil
		}

		if len(toolCalls) == 0 && spec.ClientFacing {
			scope.publish(bus.EventClientInputRequested, map[string]any{"prompt": text})
			select {
			case content, ok := <-input:
				if !ok {
					return &NodeResult{Status: StatusCancelled, Iterations: iteration, Error: errors.New("input channel closed")}, nil
				}
				conv.Append(Turn{Role: RoleUser, Content: content})
				continue
			case <-ctx.Done():
				return &NodeResult{Status: StatusCancelled, Iterations: iteration, Error: ctx.Err()}, nil
			}
		}

		verdict, err := n.Judge.Evaluate(ctx, judge.Request{
			Iteration:             iteration,
			SuccessCriteria:       spec.SuccessCriteria,
			Messages:              toLLMMessages(messages),
			NonSyntheticToolCalls: nonSyntheticCalls,
		})
		if err != nil {
			return nil, fmt.Errorf("judge evaluation for node %s: %w", spec.ID, err)
		}
		scope.publish(bus.EventJudgeVerdict, map[string]any{
			"action": string(verdict.Action), "feedback": verdict.Feedback,
			"judge_type": string(verdict.JudgeType), "iteration": iteration,
		})

		switch verdict.Action {
		case judge.Accept:
			missing := missingRequiredOutputs(spec, outputs, shared, scope.ExecutionID)
			if len(missing) == 0 {
				return &NodeResult{Status: StatusSuccess, Iterations: iteration, Outputs: collectOutputs(spec, shared, scope.ExecutionID)}, nil
			}
			scope.publish(bus.EventJudgeVerdict, map[string]any{
				"action": string(judge.Retry), "feedback": fmt.Sprintf("missing keys: %v", missing),
				"judge_type": string(judge.JudgeRule), "iteration": iteration,
			})
			conv.Append(Turn{Role: RoleUser, Content: fmt.Sprintf("Missing required output keys: %v. Call set_output to provide them.", missing)})
		case judge.Retry:
			conv.Append(Turn{Role: RoleUser, Content: verdict.Feedback})
		case judge.Escalate:
			scope.publish(bus.EventEscalationRequested, map[string]any{"reason": verdict.Feedback})
			return &NodeResult{Status: StatusEscalated, Iterations: iteration, Error: fmt.Errorf("escalated by judge: %s", verdict.Feedback)}, nil
		case judge.Continue:
			// fall through to next iteration
		}
	}
}

func (n *EventLoopNode) listTools(ctx context.Context, spec graph.NodeSpec) ([]llm.ToolDefinition, error) {
	synthetic := []llm.ToolDefinition{
		{Name: tool.SetOutput, Description: "Set one of this node's output keys.", ParametersSchema: `{"type":"object","properties":{"key":{"type":"string"},"value":{}},"required":["key","value"]}`},
		{Name: tool.EscalateToCoder, Description: "Stop this node and escalate it, with a reason.", ParametersSchema: `{"type":"object","properties":{"reason":{"type":"string"},"context":{"type":"string"}},"required":["reason"]}`},
	}
	if n.Tools == nil {
		return synthetic, nil
	}
	all, err := n.Tools.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	if len(spec.PermittedTools) == 0 {
		return append(synthetic, all...), nil
	}
	permitted := make(map[string]bool, len(spec.PermittedTools))
	for _, t := range spec.PermittedTools {
		permitted[t] = true
	}
	filtered := synthetic
	for _, t := range all {
		if permitted[t.Name] {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

func (n *EventLoopNode) executeTool(ctx context.Context, scope Scope, tc llm.ToolCall) *tool.Result {
	scope.publish(bus.EventToolCallStarted, map[string]any{"tool_use_id": tc.ID, "tool_name": tc.Name, "tool_input": tc.Arguments})
	result, err := n.Tools.Execute(ctx, tc)
	if err != nil {
		result = &tool.Result{CallID: tc.ID, Name: tc.Name, Content: err.Error(), IsError: true}
	}
	scope.publish(bus.EventToolCallCompleted, map[string]any{"tool_use_id": tc.ID, "tool_name": tc.Name, "result": result.Content, "is_error": result.IsError})
	return result
}

// runLLMTurnWithRetry calls the LLM once, retrying transient errors with
// exponential backoff up to maxRetries (spec.md §4.4).
func (n *EventLoopNode) runLLMTurnWithRetry(
	ctx context.Context,
	spec graph.NodeSpec,
	scope Scope,
	messages []llm.ConversationMessage,
	toolDefs []llm.ToolDefinition,
	iteration, maxRetries int,
) (text, thinking string, calls []llm.ToolCall, err error) {
	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		text, thinking, calls, err = n.runLLMTurn(ctx, spec, scope, messages, toolDefs, iteration)
		if err == nil {
			return text, thinking, calls, nil
		}
		var re retryableErr
		if errors.As(err, &re) && !re.retryable {
			return "", "", nil, err
		}
		if attempt >= maxRetries {
			return "", "", nil, err
		}
		scope.publish(bus.EventNodeRetry, map[string]any{"retry_count": attempt + 1, "max_retries": maxRetries, "error": err.Error()})

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", "", nil, ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(backoff*2), float64(30*time.Second)))
	}
}

func (n *EventLoopNode) runLLMTurn(
	ctx context.Context,
	spec graph.NodeSpec,
	scope Scope,
	messages []llm.ConversationMessage,
	toolDefs []llm.ToolDefinition,
	iteration int,
) (text, thinking string, calls []llm.ToolCall, err error) {
	ch, err := n.LLM.Generate(ctx, &llm.GenerateInput{
		SessionID:   "",
		ExecutionID: scope.ExecutionID,
		NodeID:      scope.NodeID,
		Messages:    messages,
		Tools:       toolDefs,
	})
	if err != nil {
		return "", "", nil, err
	}

	var textBuf, thinkBuf string
	for chunk := range ch {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			textBuf += c.Content
			if spec.ClientFacing {
				scope.publish(bus.EventClientOutputDelta, map[string]any{"content": c.Content, "snapshot": textBuf, "iteration": iteration})
			} else {
				scope.publish(bus.EventLLMTextDelta, map[string]any{"content": c.Content, "snapshot": textBuf, "iteration": iteration})
			}
		case *llm.ThinkingChunk:
			thinkBuf += c.Content
			scope.publish(bus.EventLLMReasoningDelta, map[string]any{"content": c.Content, "snapshot": thinkBuf, "iteration": iteration})
		case *llm.ToolCallChunk:
			calls = append(calls, llm.ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments})
		case *llm.UsageChunk:
			// usage is observational only; no event type is defined for it
			// in the closed set (spec.md §6), so it is dropped here.
		case *llm.ErrorChunk:
			return "", "", nil, retryableErr{msg: c.Message, retryable: c.Retryable}
		}
	}
	return textBuf, thinkBuf, calls, nil
}

type retryableErr struct {
	msg       string
	retryable bool
}

func (e retryableErr) Error() string { return e.msg }

func (n *EventLoopNode) buildMessages(spec graph.NodeSpec, conv *Conversation, shared *state.Store, executionID string) []llm.ConversationMessage {
	var out []llm.ConversationMessage
	if spec.SystemPrompt != "" {
		out = append(out, llm.ConversationMessage{Role: llm.RoleSystem, Content: spec.SystemPrompt})
	}
	for _, key := range spec.InputKeys {
		if v, ok := shared.Get(executionID, key); ok {
			b, _ := json.Marshal(v)
			out = append(out, llm.ConversationMessage{Role: llm.RoleSystem, Content: fmt.Sprintf("input %s = %s", key, string(b))})
		}
	}
	for _, t := range conv.Turns() {
		role := t.Role
		if role == RoleToolResult {
			toolCallID, _ := t.Metadata["tool_call_id"].(string)
			toolName, _ := t.Metadata["tool_name"].(string)
			out = append(out, llm.ConversationMessage{Role: llm.RoleTool, Content: t.Content, ToolCallID: toolCallID, ToolName: toolName})
			continue
		}
		out = append(out, llm.ConversationMessage{Role: role, Content: t.Content})
	}
	return out
}

func toLLMMessages(m []llm.ConversationMessage) []llm.ConversationMessage { return m }

func parseSetOutput(args string) (key string, value any, ok bool) {
	var payload struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal([]byte(args), &payload); err != nil || payload.Key == "" {
		return "", nil, false
	}
	return payload.Key, payload.Value, true
}

func parseEscalate(args string) (reason string, context string) {
	var payload struct {
		Reason  string `json:"reason"`
		Context string `json:"context"`
	}
	_ = json.Unmarshal([]byte(args), &payload)
	return payload.Reason, payload.Context
}

func missingRequiredOutputs(spec graph.NodeSpec, outputsThisTurn map[string]any, shared *state.Store, executionID string) []string {
	var missing []string
	for _, ok := range spec.OutputKeys {
		if ok.Nullable {
			continue
		}
		if _, set := outputsThisTurn[ok.Key]; set {
			continue
		}
		if _, set := shared.Get(executionID, ok.Key); set {
			continue
		}
		missing = append(missing, ok.Key)
	}
	return missing
}

func collectOutputs(spec graph.NodeSpec, shared *state.Store, executionID string) map[string]any {
	out := map[string]any{}
	for _, ok := range spec.OutputKeys {
		if v, set := shared.Get(executionID, ok.Key); set {
			out[ok.Key] = v
		}
	}
	return out
}
