package gateway

import (
	"sync"
	"time"
)

// NodeRegistry is a concurrent-safe store of live node sessions keyed by
// node id. A reconnecting node supersedes its previous session.
type NodeRegistry struct {
	mu    sync.RWMutex
	nodes map[string]*NodeSession
}

// NewNodeRegistry creates an empty registry.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{nodes: make(map[string]*NodeSession)}
}

// Add registers a session, returning the session it displaced (nil when the
// node id was not connected). The caller closes the old session outside the
// registry lock.
func (r *NodeRegistry) Add(s *NodeSession) *NodeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.nodes[s.NodeID]
	r.nodes[s.NodeID] = s
	return old
}

// Get returns the session for a node id, or false if not connected.
func (r *NodeRegistry) Get(nodeID string) (*NodeSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.nodes[nodeID]
	return s, ok
}

// Remove deletes the session for nodeID only if it is still the registered
// one, so a superseded session's cleanup cannot evict its replacement.
func (r *NodeRegistry) Remove(s *NodeSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nodes[s.NodeID] == s {
		delete(r.nodes, s.NodeID)
	}
}

// Len returns the number of connected nodes.
func (r *NodeRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Range iterates over all sessions. If fn returns false, iteration stops.
func (r *NodeRegistry) Range(fn func(s *NodeSession) bool) {
	r.mu.RLock()
	sessions := make([]*NodeSession, 0, len(r.nodes))
	for _, s := range r.nodes {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		if !fn(s) {
			return
		}
	}
}

// NodeSummary is the serializable view of a connected node for /status.
type NodeSummary struct {
	NodeID      string    `json:"nodeId"`
	DisplayName string    `json:"displayName,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	Version     string    `json:"version,omitempty"`
	Caps        []string  `json:"caps,omitempty"`
	Commands    []string  `json:"commands,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// Snapshot returns summaries of every connected node.
func (r *NodeRegistry) Snapshot() []NodeSummary {
	var out []NodeSummary
	r.Range(func(s *NodeSession) bool {
		out = append(out, s.Summary())
		return true
	})
	return out
}
