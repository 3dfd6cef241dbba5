package cluster

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// Membership is the set of workers that have joined the test cloud, keyed
// by resolved identity.
// Thread-safe: All methods are safe for concurrent access.
type Membership struct {
	members map[string]NodeInfo
	now     func() time.Time
	mu      sync.RWMutex
}

// NewMembership returns an empty membership table.
func NewMembership() *Membership {
	return &Membership{
		members: make(map[string]NodeInfo),
		now:     time.Now,
	}
}

// Join records a worker. A repeated join for the same identity replaces the
// previous entry, which is how a restarted worker with a new address is
// picked up.
func (m *Membership) Join(node NodeInfo) error {
	if node.Identity == "" {
		return errors.New("identity cannot be empty")
	}
	if node.Addr == "" {
		return errors.New("addr cannot be empty")
	}
	if node.JoinedAt.IsZero() {
		node.JoinedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[node.Identity] = node
	return nil
}

// Leave forgets a worker. It reports whether the identity was present.
func (m *Membership) Leave(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.members[identity]
	delete(m.members, identity)
	return ok
}

// Has reports whether identity has joined. It never blocks on I/O and is
// safe to call in a polling loop.
func (m *Membership) Has(identity string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[identity]
	return ok
}

// Lookup returns the entry for identity.
func (m *Membership) Lookup(identity string) (NodeInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	node, ok := m.members[identity]
	return node, ok
}

// All returns every member ordered by identity.
func (m *Membership) All() []NodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.members))
	for id := range m.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]NodeInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.members[id])
	}
	return out
}

// Len returns the number of members.
func (m *Membership) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}
