// Package mockllm provides a scripted llm.Client for tests, grounded in
// the teacher's test/e2e/mock_llm.go: a dual-dispatch mock that serves
// per-node scripted responses where one was registered, falling back to a
// single sequential script for everything else.
package mockllm

import (
	"context"
	"fmt"
	"sync"

	"github.com/pajohmail/aden-hive/pkg/llm"
)

// ScriptEntry defines a single scripted response to one Generate call.
// Exactly one of Chunks, Text, or Err should be set.
type ScriptEntry struct {
	Chunks []llm.Chunk // pre-built chunks to return verbatim
	Text   string      // shorthand: wrapped as a TextChunk + UsageChunk
	Err    error       // Generate returns this error instead of a stream

	BlockUntilCancelled bool            // block Generate until ctx is cancelled, then close with no chunks
	WaitCh              <-chan struct{} // block Generate until closed, then proceed normally
	OnBlock             chan<- struct{} // notified when Generate enters a blocking path
}

// Client implements llm.Client with scripted responses.
type Client struct {
	mu             sync.Mutex
	sequential     []ScriptEntry
	seqIndex       int
	byNode         map[string][]ScriptEntry
	nodeIndex      map[string]int
	capturedInputs []*llm.GenerateInput
}

// New creates an empty scripted client.
func New() *Client {
	return &Client{
		byNode:    make(map[string][]ScriptEntry),
		nodeIndex: make(map[string]int),
	}
}

// AddSequential appends an entry consumed in declaration order by calls
// whose node has no node-specific script.
func (c *Client) AddSequential(entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequential = append(c.sequential, entry)
}

// AddForNode appends an entry consumed in order for calls from nodeID.
func (c *Client) AddForNode(nodeID string, entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byNode[nodeID] = append(c.byNode[nodeID], entry)
}

// Generate implements llm.Client.
func (c *Client) Generate(ctx context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	c.mu.Lock()
	c.capturedInputs = append(c.capturedInputs, input)
	entry, err := c.nextEntry(input)
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if entry.BlockUntilCancelled {
		ch := make(chan llm.Chunk)
		go func() {
			if entry.OnBlock != nil {
				entry.OnBlock <- struct{}{}
			}
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}

	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
		case <-ctx.Done():
			ch := make(chan llm.Chunk)
			close(ch)
			return ch, nil
		}
	}

	if entry.Err != nil {
		return nil, entry.Err
	}

	chunks := entry.Chunks
	if len(chunks) == 0 && entry.Text != "" {
		chunks = []llm.Chunk{
			&llm.TextChunk{Content: entry.Text},
			&llm.UsageChunk{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		}
	}

	ch := make(chan llm.Chunk, len(chunks))
	for _, chunk := range chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

// Close implements llm.Client.
func (c *Client) Close() error { return nil }

// CallCount returns the total number of Generate calls observed.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.capturedInputs)
}

// Inputs returns every GenerateInput observed so far, in call order.
func (c *Client) Inputs() []*llm.GenerateInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*llm.GenerateInput, len(c.capturedInputs))
	copy(out, c.capturedInputs)
	return out
}

// nextEntry selects the next script entry: node-specific script first,
// sequential fallback otherwise. Must be called with c.mu held.
func (c *Client) nextEntry(input *llm.GenerateInput) (*ScriptEntry, error) {
	if input.NodeID != "" {
		if entries, ok := c.byNode[input.NodeID]; ok {
			idx := c.nodeIndex[input.NodeID]
			if idx < len(entries) {
				c.nodeIndex[input.NodeID] = idx + 1
				return &entries[idx], nil
			}
		}
	}

	if c.seqIndex < len(c.sequential) {
		entry := &c.sequential[c.seqIndex]
		c.seqIndex++
		return entry, nil
	}

	return nil, fmt.Errorf("mockllm: no more script entries (node=%q, sequential=%d/%d)",
		input.NodeID, c.seqIndex, len(c.sequential))
}
