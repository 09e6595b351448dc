// Package plugin defines the out-of-process RPC surface between the
// runtime and framework plugins, carried over gRPC with a JSON codec.
package plugin

import (
	"encoding/json"

	"github.com/agentx/agentx/internal/a2a"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "agentx.plugin.v1.Plugin"

// Framework identifies the agent framework a plugin hosts.
type Framework string

const (
	FrameworkLangChain      Framework = "langchain"
	FrameworkAutoGen        Framework = "autogen"
	FrameworkMastra         Framework = "mastra"
	FrameworkCrewAI         Framework = "crewai"
	FrameworkSemanticKernel Framework = "semantic_kernel"
	FrameworkLangGraph      Framework = "langgraph"
)

// LifecycleState is the supervisor-tracked state of a plugin process.
type LifecycleState string

const (
	StateStarting LifecycleState = "starting"
	StateRunning  LifecycleState = "running"
	StateStopping LifecycleState = "stopping"
	StateStopped  LifecycleState = "stopped"
	StateFailed   LifecycleState = "failed"
	StateUnknown  LifecycleState = "unknown"
)

// HealthState mirrors the plugin's self-reported serving status.
type HealthState string

const (
	HealthServing    HealthState = "serving"
	HealthNotServing HealthState = "not_serving"
)

// Info describes a plugin implementation.
type Info struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Framework   Framework `json:"framework"`
	Description string    `json:"description,omitempty"`
}

// InitializeRequest hands the plugin its identity and configuration.
type InitializeRequest struct {
	PluginID string            `json:"pluginId"`
	Config   map[string]string `json:"config,omitempty"`
}

// InitializeResponse reports the plugin's feature set.
type InitializeResponse struct {
	SupportedFeatures []string `json:"supportedFeatures,omitempty"`
	Info              Info     `json:"info"`
}

// HealthCheckResponse reports plugin liveness.
type HealthCheckResponse struct {
	Status  HealthState `json:"status"`
	Message string      `json:"message,omitempty"`
}

// ProcessMessageRequest carries one envelope to the plugin. Native is the
// framework-native translation produced by the bridge; plugins built on a
// framework SDK consume it directly.
type ProcessMessageRequest struct {
	Message  *a2a.Message      `json:"message"`
	Native   json.RawMessage   `json:"native,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ProcessMessageResponse carries the plugin's reply, if any. Native takes
// precedence when set; the bridge converts it back to an envelope.
type ProcessMessageResponse struct {
	Message *a2a.Message    `json:"message,omitempty"`
	Native  json.RawMessage `json:"native,omitempty"`
}

// StreamType classifies a logical stream.
type StreamType string

const (
	StreamFile  StreamType = "file"
	StreamData  StreamType = "data"
	StreamEvent StreamType = "event"
)

// StreamChunk is one frame of a logical stream. Header fields
// (ExpectedChunks, TotalSize, ContentType, Encoding) ride on the first
// chunk of the stream.
type StreamChunk struct {
	StreamID       string     `json:"streamId"`
	StreamType     StreamType `json:"streamType"`
	Sequence       uint64     `json:"sequence"`
	Data           []byte     `json:"data,omitempty"`
	Checksum       string     `json:"checksum,omitempty"`
	IsFinal        bool       `json:"isFinal"`
	Aborted        bool       `json:"aborted,omitempty"`
	ExpectedChunks uint64     `json:"expectedChunks,omitempty"`
	TotalSize      uint64     `json:"totalSize,omitempty"`
	ContentType    string     `json:"contentType,omitempty"`
	Encoding       string     `json:"encoding,omitempty"`
}

// RegisterAgentRequest registers one hosted agent with the runtime.
type RegisterAgentRequest struct {
	Agent *a2a.AgentCard `json:"agent"`
}

// RegisterAgentResponse acknowledges a registration.
type RegisterAgentResponse struct {
	AgentID           string `json:"agentId"`
	RegistrationToken string `json:"registrationToken,omitempty"`
}

// UnregisterAgentRequest removes one hosted agent.
type UnregisterAgentRequest struct {
	AgentID string `json:"agentId"`
}

// ListAgentsResponse enumerates the plugin's hosted agents.
type ListAgentsResponse struct {
	Agents []*a2a.AgentCard `json:"agents,omitempty"`
}

// GetAgentCapabilitiesRequest asks for one agent's capability set.
type GetAgentCapabilitiesRequest struct {
	AgentID string `json:"agentId"`
}

// GetAgentCapabilitiesResponse lists an agent's capabilities.
type GetAgentCapabilitiesResponse struct {
	Capabilities []a2a.Capability `json:"capabilities,omitempty"`
}

// MetricsResponse exposes plugin-side counters to the autoscaler.
type MetricsResponse struct {
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Empty is the empty request/response frame.
type Empty struct{}
