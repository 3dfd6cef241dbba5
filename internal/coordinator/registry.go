package coordinator

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Registry maps node ids to the records of the workers tracked under them.
//
// A Registry has exactly one owner: the Coordinator's Run goroutine. It
// carries no lock of its own because its invariants span entries (one
// record per id, clean eviction on crash) and are protected by the loop
// serializing every client request and termination notification.
//
//	┌──────────────────────────────────────┐
//	│              Registry                │
//	├──────────────────────────────────────┤
//	│  nodes: map[nodeID] → *NodeRecord    │
//	├──────────────────────────────────────┤
//	│  "n1" → {relA, n1@host, permanent}   │
//	│  "n2" → {relB, n2@host, temporary}   │
//	└──────────────────────────────────────┘
//
// Performance Characteristics:
//   - Get, Insert, Remove: O(1)
//   - IDs, Snapshot: O(n log n), sorted for stable output
type Registry struct {
	// nodes holds one record per tracked node id. Iteration order is
	// unspecified; IDs sorts when a stable order is needed.
	nodes map[string]*NodeRecord
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*NodeRecord)}
}

// Insert adds rec under rec.NodeID. It never overwrites: inserting an id
// that is already tracked returns ErrConflict and leaves the registry as it was.
func (r *Registry) Insert(rec *NodeRecord) error {
	if _, exists := r.nodes[rec.NodeID]; exists {
		return fmt.Errorf("%w: %q", ErrConflict, rec.NodeID)
	}
	r.nodes[rec.NodeID] = rec
	return nil
}

// Get returns the record for nodeID.
func (r *Registry) Get(nodeID string) (*NodeRecord, bool) {
	rec, ok := r.nodes[nodeID]
	return rec, ok
}

// Has reports whether nodeID is tracked.
func (r *Registry) Has(nodeID string) bool {
	_, ok := r.nodes[nodeID]
	return ok
}

// Remove evicts nodeID and returns the record it held.
func (r *Registry) Remove(nodeID string) (*NodeRecord, bool) {
	rec, ok := r.nodes[nodeID]
	if ok {
		delete(r.nodes, nodeID)
	}
	return rec, ok
}

// Drain empties the registry and returns what it held, in no particular order.
func (r *Registry) Drain() []*NodeRecord {
	out := make([]*NodeRecord, 0, len(r.nodes))
	for _, rec := range r.nodes {
		out = append(out, rec)
	}
	r.nodes = make(map[string]*NodeRecord)
	return out
}

// Len returns the number of tracked nodes.
func (r *Registry) Len() int {
	return len(r.nodes)
}

// IDs returns the tracked node ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Snapshot returns copies of every record, sorted by node id.
func (r *Registry) Snapshot() []NodeRecord {
	ids := r.IDs()
	out := make([]NodeRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.nodes[id].clone())
	}
	return out
}
