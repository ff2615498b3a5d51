package api

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pajohmail/aden-hive/pkg/judge"
	"github.com/pajohmail/aden-hive/pkg/llm"
	"github.com/pajohmail/aden-hive/pkg/llm/mockllm"
	"github.com/pajohmail/aden-hive/pkg/session"
	"github.com/pajohmail/aden-hive/pkg/state"
	"github.com/pajohmail/aden-hive/pkg/tool"
)

// newTestManager builds a real session.Manager wired with a scripted
// mockllm.Client, matching the engine-level test fixtures already used in
// pkg/session's own tests rather than inventing a fake Manager.
func newTestManager(t *testing.T) (*session.Manager, *mockllm.Client) {
	t.Helper()
	mock := mockllm.New()
	mgr := session.NewManager(session.Deps{
		NewLLM:    func(string) llm.Client { return mock },
		NewTools:  func() tool.Executor { return tool.NewStubExecutor(nil) },
		NewJudge:  func(c llm.Client) *judge.Protocol { return judge.NewProtocol(nil, c, 0.7, "") },
		Isolation: state.Shared,
	})
	t.Cleanup(mgr.Shutdown)
	return mgr, mock
}

// newTestManagerDeps is a convenience wrapper for tests that only need the
// Manager, not the mock client handle.
func newTestManagerDeps(t *testing.T) *session.Manager {
	t.Helper()
	mgr, _ := newTestManager(t)
	return mgr
}

// newTestServer builds a Server over a fresh test Manager.
func newTestServer(t *testing.T) (*Server, *mockllm.Client) {
	t.Helper()
	mgr, mock := newTestManager(t)
	return NewServer(mgr, nil, "", nil), mock
}

const testAgentSpec = `
id: triage-agent
model: claude-test
entry_node: investigate
nodes:
  - id: investigate
    type: event_loop
    output_keys:
      - key: root_cause
    max_iterations: 5
edges:
  - source: investigate
    target: investigate
    condition: always
entry_points:
  - id: webhook
    trigger: webhook
    target_node: investigate
`

// writeTestAgentSpec writes testAgentSpec to a temp file and returns its path.
func writeTestAgentSpec(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testAgentSpec), 0o644))
	return path
}
