// Package discovery implements the central discovery service: a node
// registry, synchronous join handling, and the periodic membership push
// cycle with missed-update eviction.
package discovery

import (
	"sort"
	"sync"
	"time"

	"github.com/meshstore/meshstore/pkg/proto"
)

// memberRecord tracks one registered node. Records are mutated only under
// the registry lock.
type memberRecord struct {
	addr          proto.Addr
	lastSeen      time.Time
	missedUpdates int
}

// Registry is the authoritative set of registered nodes. One mutex guards
// every read-modify-write; registry operations are fully serialized.
type Registry struct {
	mu      sync.Mutex
	members map[string]*memberRecord
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{members: make(map[string]*memberRecord)}
}

// Register inserts the address if absent (idempotent) and returns the
// full current listing so the joiner bootstraps immediately.
func (r *Registry) Register(addr proto.Addr) []proto.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := addr.String()
	if _, exists := r.members[key]; !exists {
		r.members[key] = &memberRecord{addr: addr, lastSeen: time.Now()}
	}
	return r.snapshotLocked()
}

// Snapshot returns the current member addresses, sorted for stable logs.
func (r *Registry) Snapshot() []proto.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []proto.Addr {
	addrs := make([]proto.Addr, 0, len(r.members))
	for _, m := range r.members {
		addrs = append(addrs, m.addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].String() < addrs[j].String()
	})
	return addrs
}

// MarkSuccess resets the missed-update counter after an acknowledged push.
func (r *Registry) MarkSuccess(addr proto.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.members[addr.String()]; ok {
		m.missedUpdates = 0
		m.lastSeen = time.Now()
	}
}

// MarkFailure increments the missed-update counter and evicts the node
// once it reaches threshold. Reports whether the node was evicted.
func (r *Registry) MarkFailure(addr proto.Addr, threshold int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := addr.String()
	m, ok := r.members[key]
	if !ok {
		return false
	}
	m.missedUpdates++
	if m.missedUpdates >= threshold {
		delete(r.members, key)
		return true
	}
	return false
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
