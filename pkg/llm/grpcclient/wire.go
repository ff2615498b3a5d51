// Package grpcclient implements llm.Client by streaming conversations to
// the LLM sidecar process over gRPC (grounded in the teacher's
// pkg/agent/llm_grpc.go: a thin client wrapping a generated service stub
// around a single streaming Generate RPC).
//
// The wire messages here are hand-written Go structs carried over gRPC's
// pluggable codec mechanism (encoding.Codec, registered as "json") rather
// than protoc-gen-go output: generating real .pb.go bindings requires
// running protoc/protoc-gen-go, which is out of scope, and hand-authoring
// bytes that merely impersonate generated code would fabricate a
// dependency's build output. The proto/llm.proto file alongside this
// package documents the wire schema these structs mirror field-for-field;
// swapping in real generated bindings later is a drop-in replacement of
// this file, not of the client or the llm.Client-facing API.
package grpcclient

// wireConversationMessage mirrors proto/llm.proto's ConversationMessage.
type wireConversationMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
}

type wireToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolDefinition struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	ParametersSchema string `json:"parameters_schema"`
}

// wireGenerateRequest mirrors proto/llm.proto's GenerateRequest.
type wireGenerateRequest struct {
	SessionID   string                    `json:"session_id"`
	ExecutionID string                    `json:"execution_id"`
	NodeID      string                    `json:"node_id"`
	Model       string                    `json:"model"`
	Messages    []wireConversationMessage `json:"messages"`
	Tools       []wireToolDefinition      `json:"tools,omitempty"`
}

// wireGenerateResponse mirrors proto/llm.proto's GenerateResponse. Exactly
// one of the Text/Thinking/ToolCall/Usage/Error fields is set per message,
// mirroring the proto's oneof.
type wireGenerateResponse struct {
	IsFinal  bool              `json:"is_final"`
	Text     *wireText         `json:"text,omitempty"`
	Thinking *wireThinking     `json:"thinking,omitempty"`
	ToolCall *wireToolCallResp `json:"tool_call,omitempty"`
	Usage    *wireUsage        `json:"usage,omitempty"`
	Error    *wireError        `json:"error,omitempty"`
}

type wireText struct {
	Content string `json:"content"`
}

type wireThinking struct {
	Content string `json:"content"`
}

type wireToolCallResp struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type wireError struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
