package plugin

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/agentx/agentx/internal/a2a"
)

// fakePlugin is a minimal in-process plugin implementation.
type fakePlugin struct {
	agents map[string]*a2a.AgentCard
}

func newFakePlugin() *fakePlugin {
	return &fakePlugin{agents: make(map[string]*a2a.AgentCard)}
}

func (p *fakePlugin) Initialize(ctx context.Context, req *InitializeRequest) (*InitializeResponse, error) {
	return &InitializeResponse{
		SupportedFeatures: []string{"messaging", "streaming"},
		Info: Info{
			Name:      "fake",
			Version:   "1.0.0",
			Framework: FrameworkLangChain,
		},
	}, nil
}

func (p *fakePlugin) Shutdown(ctx context.Context) error { return nil }

func (p *fakePlugin) HealthCheck(ctx context.Context) (*HealthCheckResponse, error) {
	return &HealthCheckResponse{Status: HealthServing}, nil
}

func (p *fakePlugin) ProcessMessage(ctx context.Context, req *ProcessMessageRequest) (*ProcessMessageResponse, error) {
	reply := a2a.NewAgentMessage("pong: " + req.Message.TextContent())
	return &ProcessMessageResponse{Message: reply}, nil
}

func (p *fakePlugin) ProcessStream(stream ChunkStream) error {
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := stream.Send(chunk); err != nil {
			return err
		}
		if chunk.IsFinal {
			return nil
		}
	}
}

func (p *fakePlugin) RegisterAgent(ctx context.Context, req *RegisterAgentRequest) (*RegisterAgentResponse, error) {
	p.agents[req.Agent.ID] = req.Agent
	return &RegisterAgentResponse{AgentID: req.Agent.ID, RegistrationToken: "tok-" + req.Agent.ID}, nil
}

func (p *fakePlugin) UnregisterAgent(ctx context.Context, req *UnregisterAgentRequest) error {
	delete(p.agents, req.AgentID)
	return nil
}

func (p *fakePlugin) ListAgents(ctx context.Context) (*ListAgentsResponse, error) {
	out := &ListAgentsResponse{}
	for _, card := range p.agents {
		out.Agents = append(out.Agents, card)
	}
	return out, nil
}

func (p *fakePlugin) GetAgentCapabilities(ctx context.Context, req *GetAgentCapabilitiesRequest) (*GetAgentCapabilitiesResponse, error) {
	card, ok := p.agents[req.AgentID]
	if !ok {
		return &GetAgentCapabilitiesResponse{}, nil
	}
	return &GetAgentCapabilitiesResponse{Capabilities: card.Capabilities}, nil
}

func (p *fakePlugin) GetPluginInfo(ctx context.Context) (*Info, error) {
	return &Info{Name: "fake", Version: "1.0.0", Framework: FrameworkLangChain}, nil
}

func (p *fakePlugin) GetMetrics(ctx context.Context) (*MetricsResponse, error) {
	return &MetricsResponse{Metrics: map[string]float64{"messages": 1}}, nil
}

// startLoopback serves a fake plugin over a real gRPC connection.
func startLoopback(t *testing.T) *Client {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	RegisterServer(srv, newFakePlugin())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	client, err := Dial(lis.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLoopbackUnaryCalls(t *testing.T) {
	client := startLoopback(t)
	ctx := context.Background()

	initResp, err := client.Initialize(ctx, &InitializeRequest{
		PluginID: "p1",
		Config:   map[string]string{"model": "small"},
	})
	require.NoError(t, err)
	assert.Equal(t, FrameworkLangChain, initResp.Info.Framework)
	assert.Contains(t, initResp.SupportedFeatures, "streaming")

	health, err := client.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthServing, health.Status)

	msg := a2a.NewUserMessage("ping")
	resp, err := client.ProcessMessage(ctx, &ProcessMessageRequest{Message: msg})
	require.NoError(t, err)
	require.NotNil(t, resp.Message)
	assert.Equal(t, "pong: ping", resp.Message.TextContent())
	assert.Equal(t, a2a.RoleAgent, resp.Message.Role)

	info, err := client.GetPluginInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fake", info.Name)

	metrics, err := client.GetMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, metrics.Metrics["messages"])

	require.NoError(t, client.Shutdown(ctx))
}

func TestLoopbackAgentManagement(t *testing.T) {
	client := startLoopback(t)
	ctx := context.Background()

	card := a2a.NewAgentCard("a1", "Agent", "", "1.0.0")
	card.AddEndpoint(a2a.Endpoint{Protocol: "http", URL: "http://localhost:8080"})
	card.AddCapability(a2a.NewCapability("translate", "", a2a.CapTextGeneration))

	regResp, err := client.RegisterAgent(ctx, &RegisterAgentRequest{Agent: card})
	require.NoError(t, err)
	assert.Equal(t, "a1", regResp.AgentID)
	assert.NotEmpty(t, regResp.RegistrationToken)

	list, err := client.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, list.Agents, 1)

	caps, err := client.GetAgentCapabilities(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, caps.Capabilities, 1)
	assert.Equal(t, "translate", caps.Capabilities[0].Name)

	require.NoError(t, client.UnregisterAgent(ctx, "a1"))
	list, err = client.ListAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, list.Agents)
}

func TestLoopbackStreamEcho(t *testing.T) {
	client := startLoopback(t)
	ctx := context.Background()

	stream, err := client.ProcessStream(ctx)
	require.NoError(t, err)

	for seq := uint64(0); seq < 3; seq++ {
		require.NoError(t, stream.Send(&StreamChunk{
			StreamID:   "s1",
			StreamType: StreamData,
			Sequence:   seq,
			Data:       []byte{byte(seq)},
			IsFinal:    seq == 2,
		}))
	}

	for seq := uint64(0); seq < 3; seq++ {
		chunk, err := stream.Recv()
		require.NoError(t, err)
		assert.Equal(t, "s1", chunk.StreamID)
		assert.Equal(t, seq, chunk.Sequence)
	}
}
