package api

// CreateSessionRequest is the HTTP request body for POST /api/sessions.
type CreateSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	AgentPath string `json:"agent_path,omitempty"`
	Model     string `json:"model,omitempty"`
}

// LoadWorkerRequest is the HTTP request body for POST /api/sessions/:sid/worker.
type LoadWorkerRequest struct {
	AgentPath string `json:"agent_path"`
	WorkerID  string `json:"worker_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

// TriggerRequest is the HTTP request body for POST /api/sessions/:sid/trigger.
type TriggerRequest struct {
	EntryPointID string         `json:"entry_point_id"`
	InputData    map[string]any `json:"input_data"`
	SessionState map[string]any `json:"session_state,omitempty"`
}

// InjectRequest is the HTTP request body for POST /api/sessions/:sid/inject.
type InjectRequest struct {
	NodeID  string `json:"node_id"`
	Content string `json:"content"`
	GraphID string `json:"graph_id,omitempty"`
}

// ChatRequest is the HTTP request body for POST /api/sessions/:sid/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// StopRequest is the HTTP request body for POST /api/sessions/:sid/stop.
type StopRequest struct {
	ExecutionID string `json:"execution_id"`
}

// ResumeRequest is the HTTP request body for POST /api/sessions/:sid/resume.
type ResumeRequest struct {
	SessionID    string `json:"session_id"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// ReplayRequest is the HTTP request body for POST /api/sessions/:sid/replay.
type ReplayRequest struct {
	SessionID    string `json:"session_id"`
	CheckpointID string `json:"checkpoint_id"`
}
