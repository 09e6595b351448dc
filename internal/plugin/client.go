package plugin

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const methodPrefix = "/" + ServiceName + "/"

var streamDesc = &grpc.StreamDesc{
	StreamName:    "ProcessA2AStream",
	ServerStreams: true,
	ClientStreams: true,
}

// Client is the runtime-side handle to one plugin process.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a plugin endpoint with OTel instrumentation and the
// JSON content subtype.
func Dial(endpoint string) (*Client, error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to plugin at %s: %w", endpoint, err)
	}
	return &Client{conn: conn}, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, methodPrefix+method, req, resp)
}

// Initialize hands the plugin its identity and configuration.
func (c *Client) Initialize(ctx context.Context, req *InitializeRequest) (*InitializeResponse, error) {
	var resp InitializeResponse
	if err := c.invoke(ctx, "Initialize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the plugin to stop cooperatively.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.invoke(ctx, "Shutdown", &Empty{}, &Empty{})
}

// HealthCheck probes plugin liveness.
func (c *Client) HealthCheck(ctx context.Context) (*HealthCheckResponse, error) {
	var resp HealthCheckResponse
	if err := c.invoke(ctx, "HealthCheck", &Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProcessMessage delivers one envelope and returns the optional reply.
func (c *Client) ProcessMessage(ctx context.Context, req *ProcessMessageRequest) (*ProcessMessageResponse, error) {
	var resp ProcessMessageResponse
	if err := c.invoke(ctx, "ProcessA2AMessage", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MessageStream is the bidirectional chunk stream to one plugin.
type MessageStream struct {
	grpc.ClientStream
}

// Send writes one chunk.
func (s *MessageStream) Send(chunk *StreamChunk) error {
	return s.SendMsg(chunk)
}

// Recv reads one chunk.
func (s *MessageStream) Recv() (*StreamChunk, error) {
	var chunk StreamChunk
	if err := s.RecvMsg(&chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// ProcessStream opens the bidirectional chunk stream.
func (c *Client) ProcessStream(ctx context.Context) (*MessageStream, error) {
	cs, err := c.conn.NewStream(ctx, streamDesc, methodPrefix+"ProcessA2AStream")
	if err != nil {
		return nil, err
	}
	return &MessageStream{ClientStream: cs}, nil
}

// RegisterAgent registers one hosted agent through the plugin.
func (c *Client) RegisterAgent(ctx context.Context, req *RegisterAgentRequest) (*RegisterAgentResponse, error) {
	var resp RegisterAgentResponse
	if err := c.invoke(ctx, "RegisterAgent", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UnregisterAgent removes one hosted agent.
func (c *Client) UnregisterAgent(ctx context.Context, agentID string) error {
	return c.invoke(ctx, "UnregisterAgent", &UnregisterAgentRequest{AgentID: agentID}, &Empty{})
}

// ListAgents enumerates the plugin's hosted agents.
func (c *Client) ListAgents(ctx context.Context) (*ListAgentsResponse, error) {
	var resp ListAgentsResponse
	if err := c.invoke(ctx, "ListAgents", &Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAgentCapabilities lists one agent's capabilities.
func (c *Client) GetAgentCapabilities(ctx context.Context, agentID string) (*GetAgentCapabilitiesResponse, error) {
	var resp GetAgentCapabilitiesResponse
	if err := c.invoke(ctx, "GetAgentCapabilities", &GetAgentCapabilitiesRequest{AgentID: agentID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPluginInfo fetches the plugin's descriptor.
func (c *Client) GetPluginInfo(ctx context.Context) (*Info, error) {
	var resp Info
	if err := c.invoke(ctx, "GetPluginInfo", &Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetMetrics fetches plugin-side counters.
func (c *Client) GetMetrics(ctx context.Context) (*MetricsResponse, error) {
	var resp MetricsResponse
	if err := c.invoke(ctx, "GetMetrics", &Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
