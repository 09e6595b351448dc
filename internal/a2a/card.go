package a2a

import (
	"encoding/json"
	"time"
)

// AgentStatus reflects an agent's advertised availability.
type AgentStatus string

const (
	AgentOnline      AgentStatus = "online"
	AgentBusy        AgentStatus = "busy"
	AgentMaintenance AgentStatus = "maintenance"
	AgentOffline     AgentStatus = "offline"
	AgentUnknown     AgentStatus = "unknown"
)

// TrustLevel is a totally ordered label gating operations. Comparisons go
// through TrustScore, never equality.
type TrustLevel string

const (
	TrustPublic   TrustLevel = "public"
	TrustVerified TrustLevel = "verified"
	TrustTrusted  TrustLevel = "trusted"
	TrustInternal TrustLevel = "internal"
)

// TrustScore maps the level onto its numeric rank.
func (t TrustLevel) TrustScore() int {
	switch t {
	case TrustVerified:
		return 1
	case TrustTrusted:
		return 2
	case TrustInternal:
		return 3
	default:
		return 0
	}
}

// CapabilityType names the class of a capability. The set is open: values
// outside the predefined constants act as custom labels.
type CapabilityType string

const (
	CapTextGeneration  CapabilityType = "text_generation"
	CapImageProcessing CapabilityType = "image_processing"
	CapAudioProcessing CapabilityType = "audio_processing"
	CapToolExecution   CapabilityType = "tool_execution"
	CapDataAnalysis    CapabilityType = "data_analysis"
	CapCodeGeneration  CapabilityType = "code_generation"
)

// Cost is the advertised price of invoking a capability.
type Cost struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Capability is a typed, named skill an agent offers.
type Capability struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Type         CapabilityType  `json:"type"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Available    bool            `json:"available"`
	Cost         *Cost           `json:"cost,omitempty"`
}

// NewCapability builds an available capability.
func NewCapability(name, description string, capType CapabilityType) Capability {
	return Capability{
		Name:        name,
		Description: description,
		Type:        capType,
		Available:   true,
	}
}

// Endpoint is a typed agent endpoint.
type Endpoint struct {
	Protocol string         `json:"protocol"`
	URL      string         `json:"url"`
	Tags     []string       `json:"tags,omitempty"`
	Auth     map[string]any `json:"auth,omitempty"`
}

// AgentCard is the discovery record describing an agent. Cards are owned by
// the registry and handed out as clones.
type AgentCard struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Version      string       `json:"version"`
	Status       AgentStatus  `json:"status"`
	TrustLevel   TrustLevel   `json:"trustLevel"`
	Endpoints    []Endpoint   `json:"endpoints,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Modalities   []string     `json:"modalities,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	ExpiresAt    *time.Time   `json:"expiresAt,omitempty"`
}

// NewAgentCard builds a card in online status at public trust.
func NewAgentCard(id, name, description, version string) *AgentCard {
	now := time.Now().UTC()
	return &AgentCard{
		ID:          id,
		Name:        name,
		Description: description,
		Version:     version,
		Status:      AgentOnline,
		TrustLevel:  TrustPublic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AddCapability appends a capability to the card.
func (c *AgentCard) AddCapability(capability Capability) *AgentCard {
	c.Capabilities = append(c.Capabilities, capability)
	return c
}

// AddEndpoint appends an endpoint to the card.
func (c *AgentCard) AddEndpoint(endpoint Endpoint) *AgentCard {
	c.Endpoints = append(c.Endpoints, endpoint)
	return c
}

// WithTag appends a tag to the card.
func (c *AgentCard) WithTag(tag string) *AgentCard {
	c.Tags = append(c.Tags, tag)
	return c
}

// Expired reports whether the card has passed its expiry and is ineligible
// for matching.
func (c *AgentCard) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// HasTag reports whether the card carries the given tag.
func (c *AgentCard) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand across async boundaries.
func (c *AgentCard) Clone() *AgentCard {
	clone := *c
	clone.Endpoints = append([]Endpoint(nil), c.Endpoints...)
	clone.Capabilities = append([]Capability(nil), c.Capabilities...)
	clone.Tags = append([]string(nil), c.Tags...)
	clone.Modalities = append([]string(nil), c.Modalities...)
	if c.ExpiresAt != nil {
		expires := *c.ExpiresAt
		clone.ExpiresAt = &expires
	}
	return &clone
}
