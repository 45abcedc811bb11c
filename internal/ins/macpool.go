// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ins

import (
	"sort"
	"sync"

	"github.com/insplane/insfleetd/internal/inserr"
)

// MACPool is the fixed finite multiset of MAC addresses instances are
// drawn from, with its own lock per §5 (acquire/release are its only
// operations).
type MACPool struct {
	mu     sync.Mutex
	all    []string
	inUse  map[string]bool
}

// NewMACPool builds a pool from the configured address list. Order is
// normalized so Acquire is deterministic (lowest-ordered unused MAC).
func NewMACPool(macs []string) *MACPool {
	sorted := append([]string(nil), macs...)
	sort.Strings(sorted)
	return &MACPool{all: sorted, inUse: make(map[string]bool, len(sorted))}
}

// Acquire returns the lowest-ordered MAC not currently in use.
// Exhaustion is a fatal instance-creation error (§3).
func (p *MACPool) Acquire() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, mac := range p.all {
		if !p.inUse[mac] {
			p.inUse[mac] = true
			return mac, nil
		}
	}
	return "", inserr.New(inserr.KindUnavailable, "mac pool exhausted")
}

// Release returns mac to the pool. Safe to call on a mac that was
// never acquired (no-op) so the "release exactly once, at instance
// destruction" rule (§9 open question) can be enforced by the caller
// without Release itself needing to detect double-release.
func (p *MACPool) Release(mac string) {
	if mac == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, mac)
}

// InUse reports whether mac is currently held.
func (p *MACPool) InUse(mac string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse[mac]
}

// Available returns the count of unheld MACs.
func (p *MACPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all) - len(p.inUse)
}
