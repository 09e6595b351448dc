package a2a

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the wire protocol version spoken by this engine. Messages
// carrying a different version are rejected during validation.
const Version = "0.2.5"

// Role identifies the originator side of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// MessageType classifies messages for handler dispatch.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
	MessageTypeError        MessageType = "error"
)

// Part is one element of a message body. Exactly one of the concrete part
// types is carried; the wire form is self-describing via the "kind" field.
type Part interface {
	PartKind() string
}

// TextPart carries plain text content.
type TextPart struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (TextPart) PartKind() string { return "text" }

// FilePart carries file content either inline or by reference.
type FilePart struct {
	Name     string         `json:"name,omitempty"`
	MimeType string         `json:"mimeType,omitempty"`
	Bytes    []byte         `json:"bytes,omitempty"`
	URI      string         `json:"uri,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (FilePart) PartKind() string { return "file" }

// DataPart carries structured JSON content.
type DataPart struct {
	Data     json.RawMessage `json:"data"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

func (DataPart) PartKind() string { return "data" }

// Message is the atomic unit of agent-to-agent traffic. Messages are
// immutable once observed by the engine; Derive produces a modified copy
// under a fresh message id.
type Message struct {
	MessageID string         `json:"messageId"`
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	TaskID    string         `json:"taskId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Routing hints used by the engine; optional on ingress.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	Version   string     `json:"version"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// NewUserMessage builds a user-role message with a single text part.
func NewUserMessage(text string) *Message {
	return newMessage(RoleUser, text)
}

// NewAgentMessage builds an agent-role message with a single text part.
func NewAgentMessage(text string) *Message {
	return newMessage(RoleAgent, text)
}

func newMessage(role Role, text string) *Message {
	return &Message{
		MessageID: uuid.NewString(),
		Role:      role,
		Parts:     []Part{TextPart{Text: text}},
		Metadata:  map[string]any{},
		Version:   Version,
	}
}

// WithTask returns the message with its task correlation id set.
func (m *Message) WithTask(taskID string) *Message {
	m.TaskID = taskID
	return m
}

// WithContext returns the message with its context correlation id set.
func (m *Message) WithContext(contextID string) *Message {
	m.ContextID = contextID
	return m
}

// Derive clones the message under a fresh message id. Callers that need to
// mutate an observed message must work on a derived copy.
func (m *Message) Derive() *Message {
	clone := *m
	clone.MessageID = uuid.NewString()
	clone.Parts = append([]Part(nil), m.Parts...)
	clone.Metadata = make(map[string]any, len(m.Metadata))
	for k, v := range m.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}

// Expired reports whether the message TTL has elapsed.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// TextContent concatenates the text parts of the message.
func (m *Message) TextContent() string {
	var texts []string
	for _, part := range m.Parts {
		if tp, ok := part.(TextPart); ok {
			texts = append(texts, tp.Text)
		}
	}
	return strings.Join(texts, " ")
}

// ErrorResponse synthesizes an error reply correlated to the original
// message.
func (m *Message) ErrorResponse(code, detail string) *Message {
	resp := NewAgentMessage(detail)
	resp.TaskID = m.TaskID
	resp.ContextID = m.ContextID
	resp.To = m.From
	resp.From = m.To
	resp.Metadata["error_code"] = code
	return resp
}

type wirePart struct {
	Kind     string          `json:"kind"`
	Text     string          `json:"text,omitempty"`
	Name     string          `json:"name,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Bytes    []byte          `json:"bytes,omitempty"`
	URI      string          `json:"uri,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// MarshalJSON writes parts in their self-describing wire form.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	parts := make([]wirePart, 0, len(m.Parts))
	for _, part := range m.Parts {
		switch p := part.(type) {
		case TextPart:
			parts = append(parts, wirePart{Kind: "text", Text: p.Text, Metadata: p.Metadata})
		case FilePart:
			parts = append(parts, wirePart{Kind: "file", Name: p.Name, MimeType: p.MimeType, Bytes: p.Bytes, URI: p.URI, Metadata: p.Metadata})
		case DataPart:
			parts = append(parts, wirePart{Kind: "data", Data: p.Data, Metadata: p.Metadata})
		default:
			return nil, fmt.Errorf("unknown message part type %T", part)
		}
	}
	return json.Marshal(struct {
		alias
		Parts []wirePart `json:"parts"`
	}{alias(m), parts})
}

// UnmarshalJSON reads parts from the wire form; unknown part kinds are a
// validation failure. Unknown top-level fields are ignored.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		*alias
		Parts []wirePart `json:"parts"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Parts = make([]Part, 0, len(aux.Parts))
	for _, wp := range aux.Parts {
		switch wp.Kind {
		case "text":
			m.Parts = append(m.Parts, TextPart{Text: wp.Text, Metadata: wp.Metadata})
		case "file":
			m.Parts = append(m.Parts, FilePart{Name: wp.Name, MimeType: wp.MimeType, Bytes: wp.Bytes, URI: wp.URI, Metadata: wp.Metadata})
		case "data":
			m.Parts = append(m.Parts, DataPart{Data: wp.Data, Metadata: wp.Metadata})
		default:
			return ValidationError("unknown message part kind %q", wp.Kind)
		}
	}
	return nil
}
