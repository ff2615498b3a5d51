package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validSpec = `
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

func writeSpec(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeSpec(t, validSpec)

	spec, g, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "triage-agent", spec.ID)
	require.Equal(t, "investigate", g.EntryNode)
	require.Len(t, g.Edges, 1)
}

func TestLoad_MissingRequiredField(t *testing.T) {
	path := writeSpec(t, `
id: broken
nodes:
  - id: a
    type: event_loop
`)

	_, _, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidEdgeCondition(t *testing.T) {
	path := writeSpec(t, `
id: broken
entry_node: a
nodes:
  - id: a
    type: event_loop
edges:
  - source: a
    target: a
    condition: not_a_real_condition
`)

	_, _, err := Load(path)
	require.Error(t, err)
}

func TestLoad_UnreadableFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
