package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphNodesHandler_NoWorkerLoaded(t *testing.T) {
	s, _ := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/sessions", CreateSessionRequest{SessionID: "sess-1"})

	rec := doJSON(t, s, http.MethodGet, "/api/sessions/sess-1/graphs/triage-agent/nodes", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGraphNodesHandler_WrongGraphID(t *testing.T) {
	s, _ := newTestServer(t)
	path := writeTestAgentSpec(t)
	doJSON(t, s, http.MethodPost, "/api/sessions", CreateSessionRequest{SessionID: "sess-1", AgentPath: path})

	rec := doJSON(t, s, http.MethodGet, "/api/sessions/sess-1/graphs/not-the-graph/nodes", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGraphNodesHandler_Success(t *testing.T) {
	s, _ := newTestServer(t)
	path := writeTestAgentSpec(t)
	doJSON(t, s, http.MethodPost, "/api/sessions", CreateSessionRequest{SessionID: "sess-1", AgentPath: path})

	rec := doJSON(t, s, http.MethodGet, "/api/sessions/sess-1/graphs/triage-agent/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp GraphNodesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "triage-agent", resp.GraphID)
	assert.Equal(t, "investigate", resp.EntryNode)
	require.Len(t, resp.Nodes, 1)
	assert.Equal(t, "investigate", resp.Nodes[0].ID)
	require.Len(t, resp.Edges, 1)
	assert.Equal(t, "investigate", resp.Edges[0].Source)
	assert.Equal(t, "investigate", resp.Edges[0].Target)
}
