package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(data))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, r)
	return rec
}

func TestListSessionsHandler_DirectoryDisabled(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/sessions", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateSessionHandler_Minimal(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/sessions", CreateSessionRequest{SessionID: "sess-1"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.False(t, resp.HasWorker)
}

func TestCreateSessionHandler_Conflict(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/sessions", CreateSessionRequest{SessionID: "dup"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/sessions", CreateSessionRequest{SessionID: "dup"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateSessionHandler_WithAgentPath(t *testing.T) {
	s, _ := newTestServer(t)
	path := writeTestAgentSpec(t)

	rec := doJSON(t, s, http.MethodPost, "/api/sessions", CreateSessionRequest{SessionID: "sess-2", AgentPath: path})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.HasWorker)
	assert.Equal(t, "triage-agent", resp.GraphID)
}

func TestCreateSessionHandler_BadAgentPathRollsBackSession(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/sessions", CreateSessionRequest{SessionID: "sess-3", AgentPath: "/does/not/exist.yaml"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/sessions/sess-3", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSessionHandler_NotFound(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSessionHandler_Idempotent(t *testing.T) {
	s, _ := newTestServer(t)

	doJSON(t, s, http.MethodPost, "/api/sessions", CreateSessionRequest{SessionID: "sess-4"})

	rec := doJSON(t, s, http.MethodDelete, "/api/sessions/sess-4", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/sessions/sess-4", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/sessions/sess-4", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
