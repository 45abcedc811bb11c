// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ins holds the per-instance record (domain id, address,
// stats, heartbeat clock, forwarders, active/overloaded flags) and
// the process-wide registry, MAC pool, and pre-registration queue
// that own them. Mutation discipline follows §5 of the design: each
// INS has its own mutex, the registry has a single reader-writer
// lock, and neither is ever held across a packet-filter call.
package ins

import (
	"net"
	"sync"
	"time"

	"github.com/insplane/insfleetd/internal/forwarder"
)

// INS is one isolated network stack instance as tracked by the
// control plane. Zero value is not meaningful; use New.
type INS struct {
	mu sync.Mutex

	DomainID int
	MAC      string
	address  net.IP

	stats            Stats
	lastContact      time.Time
	missedHeartbeats int
	forwarders       map[uint16]*forwarder.Forwarder
	active           bool
	overloaded       bool

	spawnedAt time.Time
}

// New creates an INS bound to domainID and mac, with last_contact set
// to now so a freshly-spawned instance gets a full heartbeat grace
// period before it can be judged dead.
func New(domainID int, mac string) *INS {
	now := time.Now()
	return &INS{
		DomainID:    domainID,
		MAC:         mac,
		forwarders:  make(map[uint16]*forwarder.Forwarder),
		lastContact: now,
		spawnedAt:   now,
	}
}

// SetAddress stores the INS's post-DHCP address. The dispatcher calls
// it from the ip_addrs event handler and applies bus events in arrival
// order; it does not hold back a listening_ports event that arrives
// before ip_addrs. EnsureForwarder copies the address at creation
// time, so a forwarder created before SetAddress keeps a nil
// Destination.
func (i *INS) SetAddress(addr net.IP) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.address = addr
}

// Address returns the instance's post-DHCP address, or nil if it
// hasn't registered one yet. Reads the field under i.mu since
// SetAddress writes it there too.
func (i *INS) Address() net.IP {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.address
}

// UpdateStats overwrites the four monotone counters.
func (i *INS) UpdateStats(s Stats) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stats = s
}

// Stats returns a copy of the current stats.
func (i *INS) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stats
}

// Heartbeat records contact now and clears the missed-heartbeat count.
func (i *INS) Heartbeat(now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastContact = now
	i.missedHeartbeats = 0
}

// LastContact returns the time of the last recorded heartbeat.
func (i *INS) LastContact() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastContact
}

// MissedHeartbeats returns the current miss count.
func (i *INS) MissedHeartbeats() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.missedHeartbeats
}

// CheckLiveness implements §4.E.1: alive while
// now - last_contact <= heartbeatInterval * (missed+1) + 1s.
// If dead the caller (supervisor) is expected to remove the instance;
// this method only advances the miss counter.
func (i *INS) CheckLiveness(now time.Time, heartbeatInterval time.Duration, maxMisses int) (alive bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	deadline := heartbeatInterval*time.Duration(i.missedHeartbeats+1) + time.Second
	if now.Sub(i.lastContact) <= deadline {
		return true
	}
	if i.missedHeartbeats < maxMisses {
		i.missedHeartbeats++
	}
	return i.missedHeartbeats < maxMisses
}

// EnsureForwarder creates an inactive Forwarder for port if one does
// not already exist on this instance, and returns it either way.
func (i *INS) EnsureForwarder(port uint16) *forwarder.Forwarder {
	i.mu.Lock()
	defer i.mu.Unlock()
	if f, ok := i.forwarders[port]; ok {
		return f
	}
	f := forwarder.New(port, i.address)
	i.forwarders[port] = f
	return f
}

// Forwarders returns a snapshot slice of this instance's forwarders,
// safe to range over without holding the INS lock (and therefore safe
// to call Activate/Deactivate on, which must never run under it).
func (i *INS) Forwarders() []*forwarder.Forwarder {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]*forwarder.Forwarder, 0, len(i.forwarders))
	for _, f := range i.forwarders {
		out = append(out, f)
	}
	return out
}

// HasForwarders reports whether any forwarder has been observed yet.
func (i *INS) HasForwarders() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.forwarders) > 0
}

// Active reports the instance's active flag.
func (i *INS) Active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}

// setActiveFlag is called by Activate/Deactivate once the forwarders'
// rule-table state has actually been synced.
func (i *INS) setActiveFlag(v bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.active = v
}

// Overloaded reports the sticky overloaded flag.
func (i *INS) Overloaded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.overloaded
}

// SetOverloaded sets the sticky overloaded flag.
func (i *INS) SetOverloaded(v bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.overloaded = v
}

// Activate installs every forwarder's rules (if not already active)
// and flips the active flag. It must be called without holding any
// other INS's lock; Forwarder.Activate itself never blocks on i.mu.
func (i *INS) Activate(conn forwarder.Conn) error {
	fwds := i.Forwarders()
	if len(fwds) == 0 {
		// An INS with no listening_ports observations yet is never
		// activated: activation of an empty forwarder set is a no-op.
		return nil
	}
	for _, f := range fwds {
		if err := f.Activate(conn); err != nil {
			return err
		}
	}
	i.setActiveFlag(true)
	return nil
}

// Deactivate removes every forwarder's rules and clears the active flag.
func (i *INS) Deactivate(conn forwarder.Conn) error {
	var firstErr error
	for _, f := range i.Forwarders() {
		if err := f.Deactivate(conn); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	i.setActiveFlag(false)
	return firstErr
}
