package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/agentx/agentx/internal/a2a"
	"github.com/agentx/agentx/internal/engine"
	"github.com/agentx/agentx/internal/monitoring"
	"github.com/agentx/agentx/internal/observability"
	"github.com/agentx/agentx/internal/registry"
	"github.com/agentx/agentx/internal/security"
)

func testServer(t *testing.T, authEnabled bool) *Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	reg := registry.New(registry.DefaultConfig(), logger)
	metrics, err := observability.NewMetricsManager(otel.Meter("test"))
	require.NoError(t, err)
	tracer := observability.NewTraceManager("test")
	eng := engine.New(engine.DefaultConfig(), reg, logger, tracer, metrics)
	sec := security.NewManager(security.DefaultConfig(), logger)

	srv, err := New(Config{ListenAddr: "127.0.0.1:0", AuthEnabled: authEnabled},
		eng, reg, sec, monitoring.NewStream(100), logger, tracer)
	require.NoError(t, err)
	t.Cleanup(func() { srv.listener.Close() })
	return srv
}

func postRPC(t *testing.T, srv *Server, body string, headers map[string]string) *a2a.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/a2a/v1", bytes.NewBufferString(body))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	srv.handleRPC(recorder, req)

	var resp a2a.Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return &resp
}

func TestRPCSubmitAndGetTask(t *testing.T) {
	srv := testServer(t, false)

	resp := postRPC(t, srv, `{"jsonrpc":"2.0","method":"submitTask","params":{"id":"t1","kind":"text_gen"},"id":"r1"}`, nil)
	require.Nil(t, resp.Error)
	var out map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	assert.Equal(t, "t1", out["taskId"])
	assert.Equal(t, "submitted", out["status"])

	resp = postRPC(t, srv, `{"jsonrpc":"2.0","method":"getTask","params":{"taskId":"t1"},"id":"r2"}`, nil)
	require.Nil(t, resp.Error)
}

func TestRPCUnknownMethod(t *testing.T) {
	srv := testServer(t, false)
	resp := postRPC(t, srv, `{"jsonrpc":"2.0","method":"invalid_method","id":"r1"}`, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.CodeMethodNotFound, resp.Error.Code)
	assert.JSONEq(t, `"r1"`, string(resp.ID))
}

func TestRPCMalformedFrame(t *testing.T) {
	srv := testServer(t, false)
	resp := postRPC(t, srv, `{"jsonrpc":"1.0","method":"x"}`, nil)
	require.NotNil(t, resp.Error)
}

func TestRPCRequiresSessionWhenAuthEnabled(t *testing.T) {
	srv := testServer(t, true)

	resp := postRPC(t, srv, `{"jsonrpc":"2.0","method":"getCapabilities","id":"r1"}`, nil)
	require.NotNil(t, resp.Error)

	// Issue a session for a trusted agent and retry.
	srv.security.SetTrustLevel("agent1", a2a.TrustTrusted)
	body, _ := json.Marshal(createSessionRequest{AgentID: "agent1", AuthType: "none"})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBuffer(body))
	recorder := httptest.NewRecorder()
	srv.handleCreateSession(recorder, req)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var session map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &session))
	sessionID, _ := session["sessionId"].(string)
	require.NotEmpty(t, sessionID)

	resp = postRPC(t, srv, `{"jsonrpc":"2.0","method":"getCapabilities","id":"r2"}`,
		map[string]string{sessionHeader: sessionID})
	assert.Nil(t, resp.Error)
}

func TestListAgentsRoute(t *testing.T) {
	srv := testServer(t, false)
	card := a2a.NewAgentCard("a1", "Agent", "", "1.0.0")
	card.AddEndpoint(a2a.Endpoint{Protocol: "http", URL: "http://localhost:8080"})
	require.NoError(t, srv.registry.Register(httptest.NewRequest(http.MethodGet, "/", nil).Context(), card))

	recorder := httptest.NewRecorder()
	srv.handleListAgents(recorder, httptest.NewRequest(http.MethodGet, "/v1/agents", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	var cards []*a2a.AgentCard
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &cards))
	require.Len(t, cards, 1)
	assert.Equal(t, "a1", cards[0].ID)
}
