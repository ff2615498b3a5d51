package grpcclient

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/pajohmail/aden-hive/pkg/llm"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const generateMethod = "/hive.llm.v1.LLMService/Generate"

// Client implements llm.Client by streaming conversations to the LLM
// sidecar over gRPC. Uses insecure (plaintext) transport: the sidecar runs
// as a co-located process, the same deployment assumption the teacher
// makes for its own LLM service.
type Client struct {
	conn *grpc.ClientConn
}

// New dials addr (e.g. "localhost:50051").
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing LLM service at %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Generate opens a server-streaming Generate call and translates incoming
// wire messages into llm.Chunk values.
func (c *Client) Generate(ctx context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	desc := &grpc.StreamDesc{StreamName: "Generate", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, generateMethod, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return nil, fmt.Errorf("opening Generate stream: %w", err)
	}

	if err := stream.SendMsg(toWireRequest(input)); err != nil {
		return nil, fmt.Errorf("sending Generate request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("closing Generate send side: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		for {
			var resp wireGenerateResponse
			err := stream.RecvMsg(&resp)
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case ch <- &llm.ErrorChunk{Message: err.Error(), Retryable: false}:
				case <-ctx.Done():
				}
				return
			}
			if chunk := fromWireResponse(&resp); chunk != nil {
				select {
				case ch <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func toWireRequest(input *llm.GenerateInput) *wireGenerateRequest {
	req := &wireGenerateRequest{
		SessionID:   input.SessionID,
		ExecutionID: input.ExecutionID,
		NodeID:      input.NodeID,
		Model:       input.Model,
	}
	req.Messages = make([]wireConversationMessage, len(input.Messages))
	for i, m := range input.Messages {
		wm := wireConversationMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		req.Messages[i] = wm
	}
	for _, t := range input.Tools {
		req.Tools = append(req.Tools, wireToolDefinition{
			Name:             t.Name,
			Description:      t.Description,
			ParametersSchema: t.ParametersSchema,
		})
	}
	return req
}

func fromWireResponse(resp *wireGenerateResponse) llm.Chunk {
	switch {
	case resp.Text != nil:
		return &llm.TextChunk{Content: resp.Text.Content}
	case resp.Thinking != nil:
		return &llm.ThinkingChunk{Content: resp.Thinking.Content}
	case resp.ToolCall != nil:
		return &llm.ToolCallChunk{CallID: resp.ToolCall.CallID, Name: resp.ToolCall.Name, Arguments: resp.ToolCall.Arguments}
	case resp.Usage != nil:
		return &llm.UsageChunk{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens}
	case resp.Error != nil:
		return &llm.ErrorChunk{Message: resp.Error.Message, Retryable: resp.Error.Retryable}
	default:
		return nil
	}
}
