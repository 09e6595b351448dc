package bridge

import (
	"encoding/json"
	"time"

	"github.com/agentx/agentx/internal/a2a"
	"github.com/agentx/agentx/internal/plugin"
)

// Converter translates between envelopes and one framework's native
// message form. Round trips preserve role, concatenated text content, and
// metadata; the message id is regenerated on the way back in, so callers
// correlate by task and context ids across the boundary.
type Converter interface {
	ToFramework(msg *a2a.Message) (json.RawMessage, error)
	FromFramework(data json.RawMessage) (*a2a.Message, error)
	Supports(op string) bool
}

// ForFramework returns the converter for the given framework. Unrecognized
// labels get the generic converter.
func ForFramework(framework plugin.Framework) Converter {
	switch framework {
	case plugin.FrameworkLangChain, plugin.FrameworkCrewAI, plugin.FrameworkLangGraph:
		return langChainConverter{}
	case plugin.FrameworkAutoGen:
		return autoGenConverter{}
	case plugin.FrameworkMastra:
		return mastraConverter{}
	case plugin.FrameworkSemanticKernel:
		return semanticKernelConverter{}
	default:
		return genericConverter{label: string(framework)}
	}
}

// langChainMessage is the LangChain chat message shape, also used by CrewAI
// and LangGraph.
type langChainMessage struct {
	Role             string          `json:"role"`
	Content          string          `json:"content"`
	AdditionalKwargs map[string]any  `json:"additional_kwargs,omitempty"`
	ToolCalls        json.RawMessage `json:"tool_calls,omitempty"`
}

type langChainConverter struct{}

func (langChainConverter) ToFramework(msg *a2a.Message) (json.RawMessage, error) {
	role := "human"
	if msg.Role == a2a.RoleAgent {
		role = "assistant"
	}
	native := langChainMessage{
		Role:             role,
		Content:          msg.TextContent(),
		AdditionalKwargs: msg.Metadata,
	}
	if toolCalls, ok := msg.Metadata["tool_calls"]; ok {
		encoded, err := json.Marshal(toolCalls)
		if err == nil {
			native.ToolCalls = encoded
		}
	}
	return json.Marshal(native)
}

func (langChainConverter) FromFramework(data json.RawMessage) (*a2a.Message, error) {
	var native langChainMessage
	if err := json.Unmarshal(data, &native); err != nil {
		return nil, a2a.WrapError(a2a.KindValidation, err, "malformed langchain message")
	}
	msg := fromRole(native.Role, "human")
	msg.Parts = []a2a.Part{a2a.TextPart{Text: native.Content}}
	if native.AdditionalKwargs != nil {
		msg.Metadata = native.AdditionalKwargs
	}
	if len(native.ToolCalls) > 0 {
		var toolCalls any
		if err := json.Unmarshal(native.ToolCalls, &toolCalls); err == nil {
			msg.Metadata["tool_calls"] = toolCalls
		}
	}
	return msg, nil
}

func (langChainConverter) Supports(op string) bool {
	return op == "message" || op == "stream" || op == "tool_call"
}

// autoGenMessage is the AutoGen conversational message shape.
type autoGenMessage struct {
	Role     string         `json:"role"`
	Content  string         `json:"content"`
	Name     string         `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type autoGenConverter struct{}

func (autoGenConverter) ToFramework(msg *a2a.Message) (json.RawMessage, error) {
	native := autoGenMessage{
		Role:     assistantRole(msg.Role),
		Content:  msg.TextContent(),
		Metadata: msg.Metadata,
	}
	if name, ok := msg.Metadata["agent_name"].(string); ok {
		native.Name = name
	}
	return json.Marshal(native)
}

func (autoGenConverter) FromFramework(data json.RawMessage) (*a2a.Message, error) {
	var native autoGenMessage
	if err := json.Unmarshal(data, &native); err != nil {
		return nil, a2a.WrapError(a2a.KindValidation, err, "malformed autogen message")
	}
	msg := fromRole(native.Role, "user")
	msg.Parts = []a2a.Part{a2a.TextPart{Text: native.Content}}
	if native.Metadata != nil {
		msg.Metadata = native.Metadata
	}
	if native.Name != "" {
		msg.Metadata["agent_name"] = native.Name
	}
	return msg, nil
}

func (autoGenConverter) Supports(op string) bool {
	return op == "message" || op == "group_chat"
}

// mastraMessage is the Mastra message shape.
type mastraMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp string         `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
	Tools     []string       `json:"tools,omitempty"`
}

type mastraConverter struct{}

func (mastraConverter) ToFramework(msg *a2a.Message) (json.RawMessage, error) {
	return json.Marshal(mastraMessage{
		Role:      assistantRole(msg.Role),
		Content:   msg.TextContent(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Context:   msg.Metadata,
	})
}

func (mastraConverter) FromFramework(data json.RawMessage) (*a2a.Message, error) {
	var native mastraMessage
	if err := json.Unmarshal(data, &native); err != nil {
		return nil, a2a.WrapError(a2a.KindValidation, err, "malformed mastra message")
	}
	msg := fromRole(native.Role, "user")
	msg.Parts = []a2a.Part{a2a.TextPart{Text: native.Content}}
	if native.Context != nil {
		msg.Metadata = native.Context
	}
	return msg, nil
}

func (mastraConverter) Supports(op string) bool {
	return op == "message" || op == "workflow"
}

type semanticKernelConverter struct{}

func (semanticKernelConverter) ToFramework(msg *a2a.Message) (json.RawMessage, error) {
	return json.Marshal(map[string]any{
		"role":     assistantRole(msg.Role),
		"content":  msg.TextContent(),
		"metadata": msg.Metadata,
	})
}

func (semanticKernelConverter) FromFramework(data json.RawMessage) (*a2a.Message, error) {
	return genericFrom(data)
}

func (semanticKernelConverter) Supports(op string) bool {
	return op == "message"
}

// genericConverter handles custom framework labels with the lowest common
// denominator shape.
type genericConverter struct {
	label string
}

func (g genericConverter) ToFramework(msg *a2a.Message) (json.RawMessage, error) {
	return json.Marshal(map[string]any{
		"framework": g.label,
		"role":      assistantRole(msg.Role),
		"content":   msg.TextContent(),
		"metadata":  msg.Metadata,
	})
}

func (g genericConverter) FromFramework(data json.RawMessage) (*a2a.Message, error) {
	return genericFrom(data)
}

func (genericConverter) Supports(op string) bool {
	return op == "message"
}

func genericFrom(data json.RawMessage) (*a2a.Message, error) {
	var native struct {
		Role     string         `json:"role"`
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
	if err := json.Unmarshal(data, &native); err != nil {
		return nil, a2a.WrapError(a2a.KindValidation, err, "malformed framework message")
	}
	msg := fromRole(native.Role, "user")
	msg.Parts = []a2a.Part{a2a.TextPart{Text: native.Content}}
	if native.Metadata != nil {
		msg.Metadata = native.Metadata
	}
	return msg, nil
}

func assistantRole(role a2a.Role) string {
	if role == a2a.RoleAgent {
		return "assistant"
	}
	return "user"
}

// fromRole maps a framework role string back onto the envelope role.
// Unknown roles collapse to user.
func fromRole(role, userAlias string) *a2a.Message {
	switch role {
	case "assistant", "ai":
		return a2a.NewAgentMessage("")
	case "user", userAlias:
		return a2a.NewUserMessage("")
	default:
		return a2a.NewUserMessage("")
	}
}
