// Package tool defines the engine's tool-execution boundary: the
// interface EventLoopNode calls to run an LLM-requested tool, plus the
// two synthetic tools (set_output, escalate_to_coder) every node offers
// regardless of which Executor backs its registry tools. Grounded in the
// teacher's pkg/agent/tool_executor.go (ToolExecutor interface and its
// StubToolExecutor).
package tool

import (
	"context"
	"fmt"

	"github.com/pajohmail/aden-hive/pkg/llm"
)

// Synthetic tool names, always available to every EventLoopNode ahead of
// whatever an Executor reports via ListTools (spec.md §4.4 step 5).
const (
	SetOutput       = "set_output"
	EscalateToCoder = "escalate_to_coder"
)

// IsSynthetic reports whether name is one of the engine's built-in tools,
// handled by EventLoopNode itself rather than dispatched to an Executor.
func IsSynthetic(name string) bool {
	return name == SetOutput || name == EscalateToCoder
}

// Result is the output of one tool execution.
type Result struct {
	CallID  string // matches the ToolCall.ID
	Name    string
	Content string
	IsError bool
}

// Executor abstracts tool execution for EventLoopNode. Concrete
// implementations: StubExecutor (canned responses, for tests) and
// pkg/tool/mcp.Executor (a real MCP-backed registry).
type Executor interface {
	Execute(ctx context.Context, call llm.ToolCall) (*Result, error)
	ListTools(ctx context.Context) ([]llm.ToolDefinition, error)
	Close() error
}

// StubExecutor returns canned responses. Used in tests and as the default
// executor for nodes with no permitted tools beyond the synthetic two.
type StubExecutor struct {
	tools []llm.ToolDefinition
}

// NewStubExecutor creates a stub executor reporting the given definitions.
func NewStubExecutor(tools []llm.ToolDefinition) *StubExecutor {
	return &StubExecutor{tools: tools}
}

func (s *StubExecutor) Execute(_ context.Context, call llm.ToolCall) (*Result, error) {
	return &Result{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf("[stub] tool %q called with args: %s", call.Name, call.Arguments),
		IsError: false,
	}, nil
}

func (s *StubExecutor) ListTools(_ context.Context) ([]llm.ToolDefinition, error) {
	return s.tools, nil
}

func (s *StubExecutor) Close() error { return nil }
