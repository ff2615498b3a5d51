// Package node implements NodeConversation and EventLoopNode, the inner
// multi-turn LLM+tool loop GraphExecutor runs for each node visit
// (spec.md §4.3, §4.4).
package node

import (
	"sync"
	"time"
)

// Turn roles, mirroring llm.Role* but kept local since a turn also carries
// tool_result turns that are not sent back to the LLM verbatim as
// ConversationMessage until translated by buildMessages.
const (
	RoleSystem     = "system"
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolResult = "tool_result"
)

// Turn is one entry in a NodeConversation (spec.md §3).
type Turn struct {
	Role      string
	Content   string
	Metadata  map[string]any
	Timestamp time.Time
}

// Conversation is the append-only turn log for one in-flight node
// invocation. Not persisted across node boundaries; cleared when the node
// completes (outputs are summarized into shared state instead).
type Conversation struct {
	mu    sync.Mutex
	turns []Turn
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Append adds a turn, stamping Timestamp if zero.
func (c *Conversation) Append(t Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	c.mu.Lock()
	c.turns = append(c.turns, t)
	c.mu.Unlock()
}

// Turns returns a copy of the conversation so far.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Clear empties the conversation (spec.md §3: cleared when the node
// completes).
func (c *Conversation) Clear() {
	c.mu.Lock()
	c.turns = nil
	c.mu.Unlock()
}

// Snapshot returns the conversation in the shape CheckpointStore persists
// it in (a list of generic maps, so checkpoint.go has no dependency on
// this package).
func (c *Conversation) Snapshot() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, len(c.turns))
	for i, t := range c.turns {
		out[i] = map[string]any{
			"role":      t.Role,
			"content":   t.Content,
			"metadata":  t.Metadata,
			"timestamp": t.Timestamp,
		}
	}
	return out
}
