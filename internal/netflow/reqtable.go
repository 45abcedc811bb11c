// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netflow

import (
	"sync"

	"github.com/insplane/insfleetd/internal/inserr"
)

// RequestTable correlates outstanding FeatureRequest frames with the
// FeatureResponse that eventually answers them, keyed by the 32-bit
// Base.ID the requester chose. A reused id while its predecessor is
// still outstanding is rejected (§3's outstanding-request entity must
// have unique ids in flight).
type RequestTable struct {
	mu      sync.Mutex
	pending map[uint32]chan FeatureResponse
}

// NewRequestTable builds an empty table.
func NewRequestTable() *RequestTable {
	return &RequestTable{pending: make(map[uint32]chan FeatureResponse)}
}

// Register opens a slot for id, returning the channel its eventual
// FeatureResponse will be delivered on. It errors if id is already
// outstanding.
func (t *RequestTable) Register(id uint32) (<-chan FeatureResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[id]; exists {
		return nil, inserr.Errorf(inserr.KindConflict, "netflow: request id %d already outstanding", id)
	}
	ch := make(chan FeatureResponse, 1)
	t.pending[id] = ch
	return ch, nil
}

// Resolve delivers resp to the request it answers and clears the
// slot, reporting whether a request with that id was actually
// outstanding. A false return means the id is unknown (already timed
// out and abandoned, or never registered by this process) and resp
// was dropped; the caller is expected to log that per the error
// table's "unknown response id: log; drop" rule.
func (t *RequestTable) Resolve(resp FeatureResponse) bool {
	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()
	if ok {
		ch <- resp
		close(ch)
	}
	return ok
}

// Abandon removes id from the table without delivering a response,
// for callers that gave up waiting (timeout, connection loss).
func (t *RequestTable) Abandon(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.pending[id]; ok {
		delete(t.pending, id)
		close(ch)
	}
}

// Outstanding reports how many requests are currently in flight.
func (t *RequestTable) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
