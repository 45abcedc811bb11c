// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package loadbalancer implements §4.F: exactly one INS with
// non-empty forwarders is active after Balance returns, unless no
// such INS exists. Balance decides from the registry state plus the
// overloaded-trigger sentinel file; it sets overloaded flags and
// changes activation only through ins.INS.Activate/Deactivate, so the
// activate-then-deactivate ordering (handoff) is centralized here.
package loadbalancer

import (
	"os"

	"github.com/insplane/insfleetd/internal/forwarder"
	"github.com/insplane/insfleetd/internal/ins"
)

// Config bounds the balancer's overload judgment.
type Config struct {
	// OverloadThreshold is the load ratio at or above which an
	// instance is considered overloaded (§4.F: OVERLOAD_THRESHOLD).
	OverloadThreshold float64
	// TriggerPath, if non-empty, names a sentinel file whose mere
	// existence marks the current active instance overloaded; the
	// file is deleted once observed.
	TriggerPath string
}

// externalTriggerFired deletes TriggerPath if it exists and reports
// whether it did.
func (c Config) externalTriggerFired() bool {
	if c.TriggerPath == "" {
		return false
	}
	if _, err := os.Stat(c.TriggerPath); err != nil {
		return false
	}
	_ = os.Remove(c.TriggerPath)
	return true
}

func isOverloaded(i *ins.INS, cfg Config) bool {
	if i.Overloaded() {
		return true
	}
	if i.Stats().Load() >= cfg.OverloadThreshold {
		i.SetOverloaded(true)
		return true
	}
	return false
}

// Balance runs one load-balancing pass over every instance currently
// tracked by registry, implementing the algorithm in §4.F. It returns
// true iff every instance is overloaded and the supervisor should
// spawn a new one.
func Balance(registry *ins.Registry, conn forwarder.Conn, cfg Config) bool {
	all := registry.Snapshot()

	var active []*ins.INS
	for _, i := range all {
		if i.Active() {
			active = append(active, i)
		}
	}
	// Invariant 1 precondition: at most one active instance on entry.
	if len(active) == 0 {
		return bootstrap(all, conn)
	}

	curr := active[0]
	if cfg.externalTriggerFired() {
		curr.SetOverloaded(true)
	}
	if !isOverloaded(curr, cfg) {
		return false
	}

	var candidates []*ins.INS
	for _, i := range all {
		if i == curr {
			continue
		}
		if i.Overloaded() {
			continue
		}
		if !i.HasForwarders() {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		// §9 open question, resolved per the original source's
		// behavior: refuse to spawn beyond MAX_INS_COUNT even when
		// the sole active instance is overloaded with no peers —
		// this return value only ever requests a new spawn attempt,
		// which the supervisor itself caps at MaxInstances.
		return true
	}

	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.Stats().Load() < best.Stats().Load() {
			best = cand
		}
	}

	// Handoff ordering: activate the new instance before deactivating
	// the old one, so the transient "both active" window is acceptable
	// but the "neither active" window never happens on the happy path.
	if err := best.Activate(conn); err != nil {
		return false
	}
	_ = curr.Deactivate(conn)
	return false
}

// bootstrap implements step 2 of §4.F: when nothing is active, pick
// any instance that actually has forwarders and activate it. If none
// qualifies yet, nothing becomes active this pass (preserving
// invariant 2: active implies non-empty forwarders).
func bootstrap(all []*ins.INS, conn forwarder.Conn) bool {
	for _, i := range all {
		if !i.HasForwarders() {
			continue
		}
		if err := i.Activate(conn); err == nil {
			return false
		}
	}
	return false
}
