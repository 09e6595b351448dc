package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/agentx/agentx/internal/a2a"
	"github.com/agentx/agentx/internal/observability"
	"github.com/agentx/agentx/internal/plugin"
)

func testBridge(t *testing.T) *Bridge {
	t.Helper()
	return testBridgeWindow(t, 0)
}

func testBridgeWindow(t *testing.T, window int) *Bridge {
	t.Helper()
	metrics, err := observability.NewMetricsManager(otel.Meter("test"))
	require.NoError(t, err)
	cfg := DefaultConfig()
	if window > 0 {
		cfg.StreamWindow = window
	}
	return New(cfg, slog.New(slog.DiscardHandler), observability.NewTraceManager("test"), metrics)
}

// echoCaller replies in the framework-native shape, like a real plugin.
type echoCaller struct {
	lastRequest *plugin.ProcessMessageRequest
	fail        error
}

func (c *echoCaller) ProcessMessage(ctx context.Context, req *plugin.ProcessMessageRequest) (*plugin.ProcessMessageResponse, error) {
	c.lastRequest = req
	if c.fail != nil {
		return nil, c.fail
	}
	native, _ := json.Marshal(map[string]any{
		"role":    "assistant",
		"content": "echo: " + req.Message.TextContent(),
	})
	return &plugin.ProcessMessageResponse{Native: native}, nil
}

func onlineCard(id string) *a2a.AgentCard {
	card := a2a.NewAgentCard(id, "Agent "+id, "", "1.0.0")
	card.AddEndpoint(a2a.Endpoint{Protocol: "http", URL: "http://localhost:8080"})
	return card
}

func TestRouteTranslatesAndCorrelates(t *testing.T) {
	br := testBridge(t)
	caller := &echoCaller{}
	br.AttachPlugin("p1", plugin.FrameworkLangChain, caller)
	require.NoError(t, br.BindAgent("a1", "p1"))

	msg := a2a.NewUserMessage("ping")
	msg.From = "caller"
	msg.To = "a1"
	msg.TaskID = "t1"
	msg.ContextID = "ctx1"

	reply, err := br.Route(context.Background(), msg, onlineCard("a1"))
	require.NoError(t, err)
	require.NotNil(t, reply)

	// The outbound request carried the LangChain translation.
	require.NotNil(t, caller.lastRequest)
	var native map[string]any
	require.NoError(t, json.Unmarshal(caller.lastRequest.Native, &native))
	assert.Equal(t, "human", native["role"])
	assert.Equal(t, "ping", native["content"])

	// The reply is correlated by task and context, not message id.
	assert.Equal(t, "t1", reply.TaskID)
	assert.Equal(t, "ctx1", reply.ContextID)
	assert.Equal(t, "a1", reply.From)
	assert.Equal(t, "caller", reply.To)
	assert.Equal(t, a2a.RoleAgent, reply.Role)
	assert.Equal(t, "echo: ping", reply.TextContent())
	assert.NotEqual(t, msg.MessageID, reply.MessageID)
}

func TestRouteWithoutBinding(t *testing.T) {
	br := testBridge(t)
	msg := a2a.NewUserMessage("ping")
	msg.To = "a1"

	_, err := br.Route(context.Background(), msg, onlineCard("a1"))
	require.Error(t, err)
	assert.Equal(t, a2a.KindServiceUnavailable, a2a.AsError(err).Kind)
}

func TestDetachPluginDropsRoutes(t *testing.T) {
	br := testBridge(t)
	br.AttachPlugin("p1", plugin.FrameworkAutoGen, &echoCaller{})
	require.NoError(t, br.BindAgent("a1", "p1"))
	require.NoError(t, br.BindAgent("a2", "p1"))

	br.DetachPlugin("p1")
	_, ok := br.AgentRoute("a1")
	assert.False(t, ok)
	_, ok = br.AgentRoute("a2")
	assert.False(t, ok)
}

func TestBindAgentRequiresAttachedPlugin(t *testing.T) {
	br := testBridge(t)
	assert.Error(t, br.BindAgent("a1", "ghost"))
}

func TestRouteFromAgentWrapsErrors(t *testing.T) {
	br := testBridge(t)
	caller := &echoCaller{fail: context.DeadlineExceeded}
	br.AttachPlugin("p1", plugin.FrameworkLangChain, caller)
	require.NoError(t, br.BindAgent("a1", "p1"))

	msg := a2a.NewUserMessage("ping")
	msg.From = "caller"
	msg.To = "a1"

	reply := br.RouteFromAgent(context.Background(), msg, onlineCard("a1"))
	require.NotNil(t, reply)
	assert.Equal(t, string(a2a.KindTimeout), reply.Metadata["error_code"])
	assert.Equal(t, "caller", reply.To)
}

func TestEmptyReplyMeansNoResponse(t *testing.T) {
	br := testBridge(t)
	caller := &nilCaller{}
	br.AttachPlugin("p1", plugin.FrameworkMastra, caller)
	require.NoError(t, br.BindAgent("a1", "p1"))

	msg := a2a.NewUserMessage("fire and forget")
	msg.To = "a1"
	reply, err := br.Route(context.Background(), msg, onlineCard("a1"))
	require.NoError(t, err)
	assert.Nil(t, reply)
}

type nilCaller struct{}

func (nilCaller) ProcessMessage(ctx context.Context, req *plugin.ProcessMessageRequest) (*plugin.ProcessMessageResponse, error) {
	return &plugin.ProcessMessageResponse{}, nil
}
