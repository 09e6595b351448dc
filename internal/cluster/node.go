// Package cluster is the control plane: node membership, service
// discovery, load-balanced target selection, health probing, and
// autoscaling decisions.
package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// peerExpiry is how long a peer may go without a heartbeat before eviction.
const peerExpiry = 5 * time.Minute

// NodeStatus is the lifecycle state of a node.
type NodeStatus string

const (
	NodeInitializing NodeStatus = "initializing"
	NodeRunning      NodeStatus = "running"
	NodeStopping     NodeStatus = "stopping"
	NodeStopped      NodeStatus = "stopped"
	NodeError        NodeStatus = "error"
	NodeUnreachable  NodeStatus = "unreachable"
)

// NodeRole is the cluster role of a node.
type NodeRole string

const (
	RoleMaster NodeRole = "master"
	RoleWorker NodeRole = "worker"
	RoleEdge   NodeRole = "edge"
)

// NodeInfo describes one cluster node.
type NodeInfo struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Address       string            `json:"address"`
	Status        NodeStatus        `json:"status"`
	StatusDetail  string            `json:"statusDetail,omitempty"`
	Role          NodeRole          `json:"role"`
	Capabilities  []string          `json:"capabilities,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	LastHeartbeat time.Time         `json:"lastHeartbeat"`
}

// NodeConfig configures the local node.
type NodeConfig struct {
	NodeID            string
	NodeName          string
	BindAddress       string
	Role              NodeRole
	Capabilities      []string
	HeartbeatInterval time.Duration
	AgentTimeout      time.Duration
}

// NodeManager owns the local node record and the peer map.
type NodeManager struct {
	mu     sync.RWMutex
	local  NodeInfo
	peers  map[string]NodeInfo
	config NodeConfig
	logger *slog.Logger
}

// NewNodeManager builds a node manager; a missing node id is generated.
func NewNodeManager(config NodeConfig, logger *slog.Logger) *NodeManager {
	if config.NodeID == "" {
		config.NodeID = uuid.NewString()
	}
	if config.Role == "" {
		config.Role = RoleWorker
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	now := time.Now().UTC()
	return &NodeManager{
		local: NodeInfo{
			ID:           config.NodeID,
			Name:         config.NodeName,
			Address:      config.BindAddress,
			Status:       NodeInitializing,
			Role:         config.Role,
			Capabilities: config.Capabilities,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		peers:  make(map[string]NodeInfo),
		config: config,
		logger: logger,
	}
}

// LocalNode returns a copy of the local node record.
func (nm *NodeManager) LocalNode() NodeInfo {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.local
}

// SetStatus updates the local node status.
func (nm *NodeManager) SetStatus(status NodeStatus, detail string) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.local.Status = status
	nm.local.StatusDetail = detail
	nm.local.UpdatedAt = time.Now().UTC()
}

// Heartbeat bumps the local heartbeat timestamp.
func (nm *NodeManager) Heartbeat() {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	now := time.Now().UTC()
	nm.local.LastHeartbeat = now
	nm.local.UpdatedAt = now
}

// ObservePeer records or refreshes a peer node.
func (nm *NodeManager) ObservePeer(info NodeInfo) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	info.LastHeartbeat = time.Now().UTC()
	nm.peers[info.ID] = info
}

// RemovePeer drops a peer node.
func (nm *NodeManager) RemovePeer(nodeID string) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	delete(nm.peers, nodeID)
}

// Nodes lists the local node and all known peers.
func (nm *NodeManager) Nodes() []NodeInfo {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	nodes := make([]NodeInfo, 0, len(nm.peers)+1)
	nodes = append(nodes, nm.local)
	for _, peer := range nm.peers {
		nodes = append(nodes, peer)
	}
	return nodes
}

// GetNode returns one node by id.
func (nm *NodeManager) GetNode(nodeID string) (NodeInfo, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	if nm.local.ID == nodeID {
		return nm.local, true
	}
	peer, ok := nm.peers[nodeID]
	return peer, ok
}

// Run heartbeats the local node and expires silent peers until the context
// is canceled. A peer past the configured agent timeout turns unreachable;
// past the hard expiry it is evicted.
func (nm *NodeManager) Run(ctx context.Context) {
	nm.SetStatus(NodeRunning, "")
	nm.Heartbeat()

	ticker := time.NewTicker(nm.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			nm.SetStatus(NodeStopped, "")
			return
		case <-ticker.C:
			nm.Heartbeat()
			nm.expirePeers(ctx)
		}
	}
}

func (nm *NodeManager) expirePeers(ctx context.Context) {
	now := time.Now().UTC()
	timeout := nm.config.AgentTimeout
	if timeout <= 0 {
		timeout = peerExpiry
	}

	nm.mu.Lock()
	var evicted []string
	for id, peer := range nm.peers {
		silence := now.Sub(peer.LastHeartbeat)
		switch {
		case silence > peerExpiry:
			delete(nm.peers, id)
			evicted = append(evicted, id)
		case silence > timeout && peer.Status != NodeUnreachable:
			peer.Status = NodeUnreachable
			peer.UpdatedAt = now
			nm.peers[id] = peer
		}
	}
	nm.mu.Unlock()

	for _, id := range evicted {
		nm.logger.InfoContext(ctx, "Peer node evicted", "node_id", id)
	}
}
