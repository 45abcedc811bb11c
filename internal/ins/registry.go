// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ins

import (
	"sync"

	"github.com/insplane/insfleetd/internal/inserr"
)

// Pending is a pre-registration record: a MAC has already been
// claimed and a spawn already shelled out, but the hypervisor has not
// yet published the resulting domain-id on the bus.
type Pending struct {
	MAC        string
	SerialName string
}

// Registry is the process-wide INS map plus its FIFO pre-registration
// queue, protected by a single reader-writer lock per §5. Supervisor
// reads iterate via Snapshot; the KV dispatcher writes via BindDomainID
// and the suffix-specific mutators on individual *INS values (those
// mutate under the INS's own mutex, not the registry's).
type Registry struct {
	mu      sync.RWMutex
	byID    map[int]*INS
	pending []*Pending

	maxInstances int
}

// NewRegistry creates an empty registry whose cap is maxInstances, as
// reported by MaxInstances and AtCapacity. BindDomainID and EnsureByID
// do not refuse ids once the cap is reached; callers that spawn
// instances check AtCapacity/Len against it.
func NewRegistry(maxInstances int) *Registry {
	return &Registry{
		byID:         make(map[int]*INS),
		maxInstances: maxInstances,
	}
}

// MaxInstances returns the configured cap.
func (r *Registry) MaxInstances() int { return r.maxInstances }

// Len returns the current instance count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// EnqueuePending appends p to the tail of the pre-registration queue.
func (r *Registry) EnqueuePending(p *Pending) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, p)
}

// PendingLen returns the number of instances awaiting domain-id binding.
func (r *Registry) PendingLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// BindDomainID implements the ins_dom_id suffix handler (§4.B): if the
// pre-registration queue is non-empty, pop its head and install it
// under id (preserving its MAC); otherwise create a fresh INS record.
// Rejects re-binding an id that's already present.
func (r *Registry) BindDomainID(id int) (*INS, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return nil, inserr.Errorf(inserr.KindConflict, "domain id %d already bound", id)
	}

	var record *INS
	if len(r.pending) > 0 {
		p := r.pending[0]
		r.pending = r.pending[1:]
		record = New(id, p.MAC)
	} else {
		record = New(id, "")
	}
	r.byID[id] = record
	return record, nil
}

// EnsureByID returns the INS for id, creating an un-MAC'd record if
// none exists yet (used when a non-ins_dom_id event arrives for an id
// that was never seen via BindDomainID, e.g. a restart-time replay).
func (r *Registry) EnsureByID(id int) *INS {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[id]; ok {
		return existing
	}
	record := New(id, "")
	r.byID[id] = record
	return record
}

// Get returns the INS for id, if any.
func (r *Registry) Get(id int) (*INS, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byID[id]
	return v, ok
}

// Delete removes id from the map. Callers are responsible for
// releasing its MAC and invoking hypervisor-destroy first.
func (r *Registry) Delete(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Snapshot returns every tracked instance, safe to range over without
// holding the registry lock.
func (r *Registry) Snapshot() []*INS {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*INS, 0, len(r.byID))
	for _, v := range r.byID {
		out = append(out, v)
	}
	return out
}

// AtCapacity reports whether the registry already holds MaxInstances.
func (r *Registry) AtCapacity() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID) >= r.maxInstances
}
