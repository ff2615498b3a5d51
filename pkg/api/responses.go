package api

import "time"

// SessionResponse is returned by POST/GET /api/sessions/:sid.
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	HasWorker bool      `json:"has_worker"`
	GraphID   string    `json:"graph_id,omitempty"`
	Loading   bool      `json:"loading,omitempty"`
}

// DirectorySessionView is one row of ListSessionsResponse.
type DirectorySessionView struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Removed   bool      `json:"removed"`
}

// ListSessionsResponse is returned by GET /api/sessions.
type ListSessionsResponse struct {
	Sessions []DirectorySessionView `json:"sessions"`
}

// TriggerResponse is returned by POST /api/sessions/:sid/trigger.
type TriggerResponse struct {
	ExecutionID string `json:"execution_id"`
}

// InjectResponse is returned by POST /api/sessions/:sid/inject.
type InjectResponse struct {
	Delivered bool `json:"delivered"`
}

// ChatResponse is returned by POST /api/sessions/:sid/chat.
type ChatResponse struct {
	Status    string `json:"status"`
	Delivered bool   `json:"delivered"`
}

// ResumeResponse is returned by POST /api/sessions/:sid/resume and /replay.
type ResumeResponse struct {
	ExecutionID string `json:"execution_id"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// NodeProgress describes one node's position in the topology view returned
// by GET .../graphs/:gid/nodes (spec.md §6).
type NodeProgress struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Visits   int    `json:"visits"`
	IsActive bool   `json:"is_active"`
}

// EdgeView describes one edge in the topology view, including whether it is
// a back edge (pkg/graph.BackEdges — informational only, spec.md §4.5/§9).
type EdgeView struct {
	Source     string `json:"source"`
	Target     string `json:"target"`
	Condition  string `json:"condition"`
	IsBackEdge bool   `json:"is_back_edge"`
}

// GraphNodesResponse is returned by GET .../graphs/:gid/nodes.
type GraphNodesResponse struct {
	GraphID   string         `json:"graph_id"`
	EntryNode string         `json:"entry_node"`
	Nodes     []NodeProgress `json:"nodes"`
	Edges     []EdgeView     `json:"edges"`
}
