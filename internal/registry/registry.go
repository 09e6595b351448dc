// Package registry stores agent cards and answers capability queries with
// scored matches. It exclusively owns the cards; callers receive clones.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentx/agentx/internal/a2a"
)

// Config holds the registry's health-driven cleanup settings.
type Config struct {
	HealthCheckInterval time.Duration
	AgentTimeout        time.Duration
	MaxErrorCount       int
	EnableAutoCleanup   bool
}

// DefaultConfig returns the registry defaults.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: 30 * time.Second,
		AgentTimeout:        5 * time.Minute,
		MaxErrorCount:       5,
		EnableAutoCleanup:   true,
	}
}

// HealthInfo tracks liveness observations for one agent.
type HealthInfo struct {
	Status         a2a.AgentStatus `json:"status"`
	LastSeen       time.Time       `json:"lastSeen"`
	ResponseTimeMS int64           `json:"responseTimeMs"`
	ErrorCount     int             `json:"errorCount"`
}

// Stats summarizes registry contents.
type Stats struct {
	TotalAgents  int                     `json:"totalAgents"`
	ByStatus     map[a2a.AgentStatus]int `json:"byStatus"`
	Capabilities int                     `json:"capabilities"`
}

// Registry is the in-memory agent card store with capability discovery.
// Reads take a shared guard; register/unregister take the exclusive guard
// for the duration of the local mutation only.
type Registry struct {
	mu     sync.RWMutex
	cards  map[string]*a2a.AgentCard
	health map[string]*HealthInfo
	stats  Stats
	config Config
	logger *slog.Logger
}

// New builds an empty registry.
func New(config Config, logger *slog.Logger) *Registry {
	return &Registry{
		cards:  make(map[string]*a2a.AgentCard),
		health: make(map[string]*HealthInfo),
		stats:  Stats{ByStatus: make(map[a2a.AgentStatus]int)},
		config: config,
		logger: logger,
	}
}

// Register validates and inserts a card, replacing any card under the same
// id atomically.
func (r *Registry) Register(ctx context.Context, card *a2a.AgentCard) error {
	if err := validateCard(card); err != nil {
		return err
	}

	r.mu.Lock()
	r.cards[card.ID] = card.Clone()
	r.health[card.ID] = &HealthInfo{
		Status:   card.Status,
		LastSeen: time.Now().UTC(),
	}
	r.recomputeStatsLocked()
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "Agent registered",
		"agent_id", card.ID,
		"agent_name", card.Name,
		"capabilities", len(card.Capabilities),
	)
	return nil
}

// Unregister drops the card and its health row.
func (r *Registry) Unregister(ctx context.Context, agentID string) error {
	r.mu.Lock()
	_, exists := r.cards[agentID]
	delete(r.cards, agentID)
	delete(r.health, agentID)
	r.recomputeStatsLocked()
	r.mu.Unlock()

	if !exists {
		return a2a.AgentNotFound(agentID)
	}
	r.logger.InfoContext(ctx, "Agent unregistered", "agent_id", agentID)
	return nil
}

// Get returns a clone of the card for the given id.
func (r *Registry) Get(agentID string) (*a2a.AgentCard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.cards[agentID]
	if !ok {
		return nil, false
	}
	return card.Clone(), true
}

// List returns clones of all cards.
func (r *Registry) List() []*a2a.AgentCard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cards := make([]*a2a.AgentCard, 0, len(r.cards))
	for _, card := range r.cards {
		cards = append(cards, card.Clone())
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].ID < cards[j].ID })
	return cards
}

// UpdateStatus sets the advertised status for an agent.
func (r *Registry) UpdateStatus(agentID string, status a2a.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.cards[agentID]
	if !ok {
		return a2a.AgentNotFound(agentID)
	}
	card.Status = status
	card.UpdatedAt = time.Now().UTC()
	if info, ok := r.health[agentID]; ok {
		info.Status = status
	}
	r.recomputeStatsLocked()
	return nil
}

// RecordProbe folds a liveness observation into the agent's health row.
func (r *Registry) RecordProbe(agentID string, ok bool, responseTime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, exists := r.health[agentID]
	if !exists {
		return
	}
	if ok {
		info.LastSeen = time.Now().UTC()
		info.ResponseTimeMS = responseTime.Milliseconds()
		info.ErrorCount = 0
	} else {
		info.ErrorCount++
	}
}

// Health returns the health row for an agent.
func (r *Registry) Health(agentID string) (HealthInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.health[agentID]
	if !ok {
		return HealthInfo{}, false
	}
	return *info, true
}

// Stats returns the current registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byStatus := make(map[a2a.AgentStatus]int, len(r.stats.ByStatus))
	for k, v := range r.stats.ByStatus {
		byStatus[k] = v
	}
	return Stats{TotalAgents: r.stats.TotalAgents, ByStatus: byStatus, Capabilities: r.stats.Capabilities}
}

// AllCapabilities returns the union of capability names across all agents.
func (r *Registry) AllCapabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, card := range r.cards {
		for _, capability := range card.Capabilities {
			seen[capability.Name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run drives the periodic health cleanup until the context is canceled.
func (r *Registry) Run(ctx context.Context) {
	if !r.config.EnableAutoCleanup {
		return
	}
	ticker := time.NewTicker(r.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cleanup(ctx)
		}
	}
}

// cleanup removes cards whose agents have gone silent or keep failing.
func (r *Registry) cleanup(ctx context.Context) {
	now := time.Now().UTC()
	var removed []string

	r.mu.Lock()
	for id, info := range r.health {
		if now.Sub(info.LastSeen) > r.config.AgentTimeout || info.ErrorCount > r.config.MaxErrorCount {
			delete(r.cards, id)
			delete(r.health, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		r.recomputeStatsLocked()
	}
	r.mu.Unlock()

	for _, id := range removed {
		r.logger.InfoContext(ctx, "Agent removed by health cleanup", "agent_id", id)
	}
}

func (r *Registry) recomputeStatsLocked() {
	stats := Stats{ByStatus: make(map[a2a.AgentStatus]int)}
	for _, card := range r.cards {
		stats.TotalAgents++
		stats.ByStatus[card.Status]++
		stats.Capabilities += len(card.Capabilities)
	}
	r.stats = stats
}

func validateCard(card *a2a.AgentCard) error {
	if card.ID == "" {
		return a2a.ValidationError("agent id is required")
	}
	if card.Name == "" {
		return a2a.ValidationError("agent name is required")
	}
	if len(card.Endpoints) == 0 {
		return a2a.ValidationError("at least one endpoint is required")
	}
	for _, endpoint := range card.Endpoints {
		if endpoint.URL == "" {
			return a2a.ValidationError("endpoint URL is required")
		}
		if !strings.HasPrefix(endpoint.URL, "http://") && !strings.HasPrefix(endpoint.URL, "https://") {
			return a2a.ValidationError("invalid endpoint URL: %s", endpoint.URL)
		}
	}
	return nil
}
