package relay

import (
	"fmt"
	"sync"

	"github.com/smallest87/proyek-websocket-pc/internal/domain"
)

// Registry is the concurrency-safe set of live connection handles.
type Registry struct {
	mu      sync.RWMutex
	members map[domain.HandleID]domain.Recipient
}

func NewRegistry() *Registry {
	return &Registry{members: make(map[domain.HandleID]domain.Recipient)}
}

// Add inserts rcpt and returns the resulting live count. Adding an ID that is already present fails with
// domain.ErrDuplicateHandle and leaves the registry unchanged.
func (r *Registry) Add(rcpt domain.Recipient) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := rcpt.ID()
	if _, exists := r.members[id]; exists {
		return len(r.members), fmt.Errorf("add %s: %w", id, domain.ErrDuplicateHandle)
	}
	r.members[id] = rcpt
	return len(r.members), nil
}

// Remove deletes the handle with the given ID. Removing an absent handle is a no-op.
// Returns whether a handle was removed and the resulting live count.
func (r *Registry) Remove(id domain.HandleID) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[id]; !exists {
		return false, len(r.members)
	}
	delete(r.members, id)
	return true, len(r.members)
}

// Snapshot returns a point-in-time copy of the members.
// The slice is owned by the caller and unaffected by later Add/Remove calls.
func (r *Registry) Snapshot() []domain.Recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Recipient, 0, len(r.members))
	for _, rcpt := range r.members {
		out = append(out, rcpt)
	}
	return out
}

// Len returns the live member count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Drain empties the registry and returns everything that was in it.
func (r *Registry) Drain() []domain.Recipient {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Recipient, 0, len(r.members))
	for id, rcpt := range r.members {
		out = append(out, rcpt)
		delete(r.members, id)
	}
	return out
}
