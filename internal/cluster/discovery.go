package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentx/agentx/internal/a2a"
)

// Discovery backend identifiers.
const (
	BackendMemory     = "memory"
	BackendConsul     = "consul"
	BackendEtcd       = "etcd"
	BackendKubernetes = "kubernetes"
)

// ServiceRegistration is one agent's entry in service discovery.
type ServiceRegistration struct {
	ServiceID  string            `json:"serviceId"`
	Agent      *a2a.AgentCard    `json:"agent"`
	TTLSeconds int64             `json:"ttlSeconds"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// DiscoveryBackend is the pluggable storage behind service discovery. The
// in-memory backend is always available; external backends are optional.
type DiscoveryBackend interface {
	Register(ctx context.Context, reg ServiceRegistration) error
	Deregister(ctx context.Context, serviceID string) error
	Discover(ctx context.Context, capability string) ([]ServiceRegistration, error)
	UpdateHealth(ctx context.Context, serviceID string, healthy bool) error
	Get(ctx context.Context, serviceID string) (*ServiceRegistration, error)
	List(ctx context.Context) ([]ServiceRegistration, error)
}

// NewBackend builds the backend for the given identifier. Only the memory
// backend is implemented in-process; the others are deployment-provided.
func NewBackend(backend string) (DiscoveryBackend, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryBackend(), nil
	case BackendConsul, BackendEtcd, BackendKubernetes:
		return nil, a2a.ServiceUnavailable("discovery backend %s is not bundled with this runtime", backend)
	default:
		return nil, a2a.ValidationError("unknown discovery backend %q", backend)
	}
}

// MemoryBackend is the default in-process discovery backend.
type MemoryBackend struct {
	mu       sync.RWMutex
	services map[string]ServiceRegistration
	healthy  map[string]bool
}

// NewMemoryBackend builds an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		services: make(map[string]ServiceRegistration),
		healthy:  make(map[string]bool),
	}
}

func (m *MemoryBackend) Register(ctx context.Context, reg ServiceRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[reg.ServiceID] = reg
	m.healthy[reg.ServiceID] = true
	return nil
}

func (m *MemoryBackend) Deregister(ctx context.Context, serviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services, serviceID)
	delete(m.healthy, serviceID)
	return nil
}

// Discover returns healthy registrations, optionally filtered by exact
// capability name.
func (m *MemoryBackend) Discover(ctx context.Context, capability string) ([]ServiceRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ServiceRegistration
	for id, reg := range m.services {
		if !m.healthy[id] {
			continue
		}
		if capability != "" && !hasCapability(reg.Agent, capability) {
			continue
		}
		out = append(out, reg)
	}
	return out, nil
}

func (m *MemoryBackend) UpdateHealth(ctx context.Context, serviceID string, healthy bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[serviceID]; !ok {
		return a2a.AgentNotFound(serviceID)
	}
	m.healthy[serviceID] = healthy
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, serviceID string) (*ServiceRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.services[serviceID]
	if !ok {
		return nil, nil
	}
	return &reg, nil
}

func (m *MemoryBackend) List(ctx context.Context) ([]ServiceRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServiceRegistration, 0, len(m.services))
	for _, reg := range m.services {
		out = append(out, reg)
	}
	return out, nil
}

func hasCapability(card *a2a.AgentCard, name string) bool {
	if card == nil {
		return false
	}
	for _, capability := range card.Capabilities {
		if capability.Name == name {
			return true
		}
	}
	return false
}

// ServiceDiscovery maps agents onto discovery registrations with a TTL and
// runs the expiry sweep.
type ServiceDiscovery struct {
	backend    DiscoveryBackend
	ttlSeconds int64

	mu       sync.Mutex
	services map[string]string // agent id -> service id
}

// NewServiceDiscovery wraps a backend.
func NewServiceDiscovery(backend DiscoveryBackend, ttlSeconds int64) *ServiceDiscovery {
	if ttlSeconds <= 0 {
		ttlSeconds = 300
	}
	return &ServiceDiscovery{
		backend:    backend,
		ttlSeconds: ttlSeconds,
		services:   make(map[string]string),
	}
}

// RegisterAgent publishes an agent into discovery and returns its service
// id.
func (sd *ServiceDiscovery) RegisterAgent(ctx context.Context, card *a2a.AgentCard) (string, error) {
	serviceID := "agent-" + card.ID + "-" + uuid.NewString()[:8]
	now := time.Now().UTC()
	reg := ServiceRegistration{
		ServiceID:  serviceID,
		Agent:      card.Clone(),
		TTLSeconds: sd.ttlSeconds,
		Tags:       append([]string(nil), card.Tags...),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := sd.backend.Register(ctx, reg); err != nil {
		return "", err
	}
	sd.mu.Lock()
	sd.services[card.ID] = serviceID
	sd.mu.Unlock()
	return serviceID, nil
}

// DeregisterAgent removes an agent from discovery.
func (sd *ServiceDiscovery) DeregisterAgent(ctx context.Context, agentID string) error {
	sd.mu.Lock()
	serviceID, ok := sd.services[agentID]
	delete(sd.services, agentID)
	sd.mu.Unlock()
	if !ok {
		return a2a.AgentNotFound(agentID)
	}
	return sd.backend.Deregister(ctx, serviceID)
}

// DiscoverAgents lists healthy agents, optionally by capability name.
func (sd *ServiceDiscovery) DiscoverAgents(ctx context.Context, capability string) ([]*a2a.AgentCard, error) {
	regs, err := sd.backend.Discover(ctx, capability)
	if err != nil {
		return nil, err
	}
	cards := make([]*a2a.AgentCard, 0, len(regs))
	for _, reg := range regs {
		cards = append(cards, reg.Agent)
	}
	return cards, nil
}

// UpdateAgentHealth flips an agent's health flag in the backend.
func (sd *ServiceDiscovery) UpdateAgentHealth(ctx context.Context, agentID string, healthy bool) error {
	sd.mu.Lock()
	serviceID, ok := sd.services[agentID]
	sd.mu.Unlock()
	if !ok {
		return a2a.AgentNotFound(agentID)
	}
	return sd.backend.UpdateHealth(ctx, serviceID, healthy)
}

// Run sweeps expired registrations until the context is canceled.
func (sd *ServiceDiscovery) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(sd.ttlSeconds) * time.Second / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sd.sweep(ctx)
		}
	}
}

func (sd *ServiceDiscovery) sweep(ctx context.Context) {
	regs, err := sd.backend.List(ctx)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	for _, reg := range regs {
		if now.Sub(reg.UpdatedAt) > time.Duration(reg.TTLSeconds)*time.Second {
			sd.backend.Deregister(ctx, reg.ServiceID)
		}
	}
}
