// Package mcp implements tool.Executor against a single real MCP server,
// grounded in the teacher's pkg/mcp/client.go and pkg/mcp/executor.go:
// connect once via a streamable-HTTP transport, cache the tool list,
// translate MCP CallToolResult content into a flat tool.Result.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pajohmail/aden-hive/pkg/llm"
	"github.com/pajohmail/aden-hive/pkg/tool"
	"github.com/pajohmail/aden-hive/pkg/version"
)

var _ tool.Executor = (*Executor)(nil)

// Executor runs tool calls against one MCP server over streamable HTTP.
type Executor struct {
	serverID string
	client   *mcpsdk.Client
	session  *mcpsdk.ClientSession

	toolCacheMu sync.RWMutex
	toolCache   []*mcpsdk.Tool
}

// Dial connects to the MCP server at url and returns a ready Executor.
func Dial(ctx context.Context, serverID, url string) (*Executor, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	transport := &mcpsdk.StreamableClientTransport{Endpoint: url}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to MCP server %q at %s: %w", serverID, url, err)
	}

	return &Executor{serverID: serverID, client: client, session: session}, nil
}

// ListTools implements tool.Executor. Results are cached for the lifetime
// of the Executor, matching the teacher's assumption that a Client
// instance is short-lived and scoped to one session.
func (e *Executor) ListTools(ctx context.Context) ([]llm.ToolDefinition, error) {
	e.toolCacheMu.RLock()
	cached := e.toolCache
	e.toolCacheMu.RUnlock()
	if cached != nil {
		return toDefinitions(e.serverID, cached), nil
	}

	var tools []*mcpsdk.Tool
	for result, err := range e.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing tools on %q: %w", e.serverID, err)
		}
		tools = append(tools, result)
	}

	e.toolCacheMu.Lock()
	e.toolCache = tools
	e.toolCacheMu.Unlock()

	return toDefinitions(e.serverID, tools), nil
}

// Execute implements tool.Executor. Tool names are namespaced as
// "server.tool"; calls for a different server than this Executor owns are
// reported as a tool-level error rather than a Go error, matching MCP
// convention (the LLM sees the failure as a tool result, not a crash).
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) (*tool.Result, error) {
	server, toolName, ok := strings.Cut(call.Name, ".")
	if !ok || server != e.serverID {
		return &tool.Result{
			CallID:  call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("tool %q is not served by %q", call.Name, e.serverID),
			IsError: true,
		}, nil
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return &tool.Result{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("failed to parse tool arguments: %s", err),
				IsError: true,
			}, nil
		}
	}

	result, err := e.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return &tool.Result{
			CallID:  call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("MCP tool execution failed: %s", err),
			IsError: true,
		}, nil
	}

	return &tool.Result{
		CallID:  call.ID,
		Name:    call.Name,
		Content: extractText(result),
		IsError: result.IsError,
	}, nil
}

// Close implements tool.Executor.
func (e *Executor) Close() error {
	return e.session.Close()
}

func toDefinitions(serverID string, tools []*mcpsdk.Tool) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(tools))
	for i, t := range tools {
		schema, _ := json.Marshal(t.InputSchema)
		out[i] = llm.ToolDefinition{
			Name:             serverID + "." + t.Name,
			Description:      t.Description,
			ParametersSchema: string(schema),
		}
	}
	return out
}

func extractText(result *mcpsdk.CallToolResult) string {
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
