// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package forwarder owns the three packet-filter rules that redirect
// one external TCP port to one INS address, and enforces that
// activation/deactivation of that bundle is atomic with respect to
// the rule table: either all three rules are installed, or none are.
package forwarder

import (
	"fmt"
	"net"
	"sync"
)

// CommentTag is the stable token every inserted rule carries so
// external tooling can audit what insfleetd has installed.
const CommentTag = "mw1/mw2/mw3"

// Forwarder redirects ExternalPort to Destination once Activate
// succeeds. It is owned by exactly one INS; the supervisor is the
// sole caller of Activate/Deactivate (§4.C).
type Forwarder struct {
	ExternalPort uint16
	Destination  net.IP

	mu       sync.Mutex
	active   bool
	handles  []RuleHandle // insertion order; deactivate walks it LIFO
}

// New creates an inactive Forwarder for port bound to dest.
func New(port uint16, dest net.IP) *Forwarder {
	return &Forwarder{ExternalPort: port, Destination: dest}
}

// Active reports whether the forwarder's rules are currently installed.
func (f *Forwarder) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Activate inserts, in order, the DNAT, forward-accept, and
// established/related-accept rules. On any failure it rolls back
// every rule inserted so far in this call, in reverse order, and
// returns an error; the forwarder is left inactive (scenario S5).
// A no-op if already active.
func (f *Forwarder) Activate(conn Conn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return nil
	}

	comment := fmt.Sprintf("%s %s:%d", CommentTag, f.Destination, f.ExternalPort)

	natTable, natChain, err := conn.EnsureNATPreroutingChain()
	if err != nil {
		return err
	}
	filterTable, filterChain, err := conn.EnsureFilterForwardChain()
	if err != nil {
		return err
	}

	var inserted []RuleHandle
	rollback := func() {
		for i := len(inserted) - 1; i >= 0; i-- {
			_ = conn.DeleteRule(inserted[i])
		}
	}

	h1, err := conn.InsertDNAT(natTable, natChain, f.ExternalPort, f.Destination, comment)
	if err != nil {
		rollback()
		return err
	}
	inserted = append(inserted, h1)

	h2, err := conn.InsertFilterAcceptPort(filterTable, filterChain, f.ExternalPort, comment)
	if err != nil {
		rollback()
		return err
	}
	inserted = append(inserted, h2)

	h3, err := conn.InsertFilterAcceptEstablished(filterTable, filterChain, comment)
	if err != nil {
		rollback()
		return err
	}
	inserted = append(inserted, h3)

	f.handles = inserted
	f.active = true
	return nil
}

// Deactivate removes every installed rule in LIFO order and clears
// the record. A no-op if already inactive. Deletion errors are
// collected but do not stop the LIFO walk — a partially-removed
// forwarder must never be left half-active.
func (f *Forwarder) Deactivate(conn Conn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return nil
	}
	var firstErr error
	for i := len(f.handles) - 1; i >= 0; i-- {
		if err := conn.DeleteRule(f.handles[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.handles = nil
	f.active = false
	return firstErr
}
