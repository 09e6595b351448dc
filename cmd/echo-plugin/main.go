// Command echo-plugin is a reference plugin: it hosts a single echo agent
// and answers every message with its own text. The supervisor spawns it
// with AGENTX_PLUGIN_ID and AGENTX_GRPC_PORT in the environment.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/agentx/agentx/internal/a2a"
	"github.com/agentx/agentx/internal/plugin"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	pluginID := os.Getenv("AGENTX_PLUGIN_ID")
	if pluginID == "" {
		pluginID = "echo-plugin"
	}
	port := os.Getenv("AGENTX_GRPC_PORT")
	if port == "" {
		port = "50100"
	}

	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		logger.Error("Failed to listen", "port", port, "error", err)
		os.Exit(1)
	}

	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	plugin.RegisterServer(srv, newEchoPlugin(pluginID, logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	logger.Info("Echo plugin listening",
		"plugin_id", pluginID,
		"address", lis.Addr().String(),
		"config", configFromEnv(),
	)
	if err := srv.Serve(lis); err != nil {
		logger.Error("Serve failed", "error", err)
		os.Exit(1)
	}
}

// configFromEnv collects the AGENTX_CONFIG_* entries the supervisor set.
func configFromEnv() map[string]string {
	config := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if name, found := strings.CutPrefix(key, "AGENTX_CONFIG_"); found {
			config[strings.ToLower(name)] = value
		}
	}
	return config
}

type echoPlugin struct {
	pluginID string
	card     *a2a.AgentCard
	logger   *slog.Logger
}

func newEchoPlugin(pluginID string, logger *slog.Logger) *echoPlugin {
	card := a2a.NewAgentCard("echo", "Echo Agent", "Replies with the text it receives", "1.0.0")
	card.AddEndpoint(a2a.Endpoint{Protocol: "http", URL: "http://localhost:8080"})
	card.AddCapability(a2a.NewCapability("echo", "Echo text back", a2a.CapTextGeneration))
	return &echoPlugin{pluginID: pluginID, card: card, logger: logger}
}

func (p *echoPlugin) Initialize(ctx context.Context, req *plugin.InitializeRequest) (*plugin.InitializeResponse, error) {
	p.logger.InfoContext(ctx, "Plugin initialized", "plugin_id", req.PluginID, "config_keys", len(req.Config))
	return &plugin.InitializeResponse{
		SupportedFeatures: []string{"messaging", "streaming"},
		Info: plugin.Info{
			Name:      "echo-plugin",
			Version:   "1.0.0",
			Framework: plugin.FrameworkLangChain,
		},
	}, nil
}

func (p *echoPlugin) Shutdown(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Plugin shutting down")
	return nil
}

func (p *echoPlugin) HealthCheck(ctx context.Context) (*plugin.HealthCheckResponse, error) {
	return &plugin.HealthCheckResponse{Status: plugin.HealthServing}, nil
}

func (p *echoPlugin) ProcessMessage(ctx context.Context, req *plugin.ProcessMessageRequest) (*plugin.ProcessMessageResponse, error) {
	text := req.Message.TextContent()
	p.logger.InfoContext(ctx, "Echoing message",
		"message_id", req.Message.MessageID,
		"chars", len(text),
	)
	reply := a2a.NewAgentMessage(fmt.Sprintf("echo: %s", text))
	return &plugin.ProcessMessageResponse{Message: reply}, nil
}

func (p *echoPlugin) ProcessStream(stream plugin.ChunkStream) error {
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

func (p *echoPlugin) RegisterAgent(ctx context.Context, req *plugin.RegisterAgentRequest) (*plugin.RegisterAgentResponse, error) {
	return &plugin.RegisterAgentResponse{AgentID: req.Agent.ID, RegistrationToken: p.pluginID + "-" + req.Agent.ID}, nil
}

func (p *echoPlugin) UnregisterAgent(ctx context.Context, req *plugin.UnregisterAgentRequest) error {
	return nil
}

func (p *echoPlugin) ListAgents(ctx context.Context) (*plugin.ListAgentsResponse, error) {
	return &plugin.ListAgentsResponse{Agents: []*a2a.AgentCard{p.card.Clone()}}, nil
}

func (p *echoPlugin) GetAgentCapabilities(ctx context.Context, req *plugin.GetAgentCapabilitiesRequest) (*plugin.GetAgentCapabilitiesResponse, error) {
	return &plugin.GetAgentCapabilitiesResponse{Capabilities: p.card.Capabilities}, nil
}

func (p *echoPlugin) GetPluginInfo(ctx context.Context) (*plugin.Info, error) {
	return &plugin.Info{Name: "echo-plugin", Version: "1.0.0", Framework: plugin.FrameworkLangChain}, nil
}

func (p *echoPlugin) GetMetrics(ctx context.Context) (*plugin.MetricsResponse, error) {
	return &plugin.MetricsResponse{Metrics: map[string]float64{"uptime_ok": 1}}, nil
}
