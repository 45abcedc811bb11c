// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/insplane/insfleetd/internal/forwarder"
	"github.com/insplane/insfleetd/internal/ins"
	"github.com/insplane/insfleetd/internal/loadbalancer"
	"github.com/insplane/insfleetd/internal/logging"
	"github.com/insplane/insfleetd/internal/metrics"
)

// Config bounds the supervisor's loop behavior (§4.E, §6 flags).
type Config struct {
	PollInterval         time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatMaxMisses   int
	StartAll             bool
	RegistrationTimeout  time.Duration
	SpawnTimeout         time.Duration
	DestroyTimeout       time.Duration
	LoadBalancer         loadbalancer.Config
}

// Supervisor runs the main spawn/reap/load-balance loop described in
// §4.E. One background goroutine per process.
type Supervisor struct {
	Registry   *ins.Registry
	MACPool    *ins.MACPool
	Conn       forwarder.Conn
	Hypervisor Hypervisor
	Cfg        Config
	Log        *logging.Logger
	Now        func() time.Time
	// Metrics is optional; a nil value disables metric emission.
	Metrics *metrics.Metrics

	spawnNew bool
}

// New builds a Supervisor. spawnNew starts true, matching the
// original's ins_runner initial state so the very first iteration (or
// eager pre-spawn pass) attempts a spawn.
func New(registry *ins.Registry, pool *ins.MACPool, conn forwarder.Conn, hv Hypervisor, cfg Config, log *logging.Logger) *Supervisor {
	return &Supervisor{
		Registry:   registry,
		MACPool:    pool,
		Conn:       conn,
		Hypervisor: hv,
		Cfg:        cfg,
		Log:        log,
		Now:        time.Now,
		spawnNew:   true,
	}
}

// Run executes the main loop until ctx is canceled. It performs the
// eager pre-spawn pass first (if configured), then ticks at
// Cfg.PollInterval forever.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.Cfg.StartAll {
		s.prespawnAll(ctx)
		s.spawnNew = false
	}

	ticker := time.NewTicker(s.Cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.step(ctx)
		}
	}
}

// prespawnAll spawns instances synchronously until the registry holds
// MaxInstances, matching "start all up front" semantics. An attempt
// whose registration timed out leaves its pending record (and MAC)
// queued and the loop goes on; an attempt that fails without queuing
// a record (hypervisor failure, MAC pool exhausted) ends the pass.
func (s *Supervisor) prespawnAll(ctx context.Context) {
	for s.Registry.Len() < s.Registry.MaxInstances() {
		if ctx.Err() != nil {
			return
		}
		pendingBefore := s.Registry.PendingLen()
		if err := s.spawnOne(ctx); err != nil {
			s.Log.Error("pre-spawn attempt failed", "error", err)
			if s.Registry.PendingLen() <= pendingBefore {
				return
			}
			continue
		}
		s.Log.Debug("pre-spawned INS instance", "count", s.Registry.Len(), "max", s.Registry.MaxInstances())
	}
}

// step runs one iteration of the loop: §4.E's four numbered steps
// (eager pre-spawn is handled once in Run, not per-iteration).
func (s *Supervisor) step(ctx context.Context) {
	if s.spawnNew && s.Registry.Len() < s.Registry.MaxInstances() {
		if err := s.spawnOne(ctx); err != nil {
			s.Log.Error("spawn attempt failed", "error", err)
			if s.Metrics != nil {
				s.Metrics.SpawnFailuresTotal.Inc()
			}
		}
		s.spawnNew = false
	}

	s.reapDead(ctx)

	s.spawnNew = loadbalancer.Balance(s.Registry, s.Conn, s.Cfg.LoadBalancer)

	if s.Metrics != nil {
		s.Metrics.SyncRegistry(s.Registry)
	}
}

// spawnOne draws a MAC, shells out to the hypervisor, enqueues the
// pending record, and blocks (bounded by RegistrationTimeout) until
// the bus dispatcher has bound a domain-id and address for it.
func (s *Supervisor) spawnOne(ctx context.Context) error {
	mac, err := s.MACPool.Acquire()
	if err != nil {
		return err
	}

	serial := fmt.Sprintf("mw-ins-%s", uuid.New().String())

	spawnCtx, cancel := context.WithTimeout(ctx, s.Cfg.SpawnTimeout)
	defer cancel()
	if err := s.Hypervisor.Spawn(spawnCtx, serial, mac); err != nil {
		s.MACPool.Release(mac)
		return err
	}

	s.Registry.EnqueuePending(&ins.Pending{MAC: mac, SerialName: serial})

	return s.waitForRegistration(ctx, mac)
}

// waitForRegistration polls the registry for an instance bound to mac
// with a non-empty address, up to RegistrationTimeout. Failing to
// register in time is logged but not fatal to the supervisor: the
// pending record stays queued for whenever the bus event eventually
// arrives.
func (s *Supervisor) waitForRegistration(ctx context.Context, mac string) error {
	deadline := s.Now().Add(s.Cfg.RegistrationTimeout)
	const pollInterval = 10 * time.Millisecond

	for {
		for _, i := range s.Registry.Snapshot() {
			if i.MAC == mac && i.Address() != nil {
				return nil
			}
		}
		if s.Now().After(deadline) {
			return fmt.Errorf("supervisor: instance with mac %s did not register within %s", mac, s.Cfg.RegistrationTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// reapDead evaluates liveness for every tracked instance and removes
// the ones that failed their heartbeat deadline (§4.E.1), destroying
// them at the hypervisor and releasing their MAC.
func (s *Supervisor) reapDead(ctx context.Context) {
	now := s.Now()
	for _, i := range s.Registry.Snapshot() {
		if i.CheckLiveness(now, s.Cfg.HeartbeatInterval, s.Cfg.HeartbeatMaxMisses) {
			continue
		}

		s.Registry.Delete(i.DomainID)

		destroyCtx, cancel := context.WithTimeout(ctx, s.Cfg.DestroyTimeout)
		if err := s.Hypervisor.Destroy(destroyCtx, i.DomainID); err != nil {
			s.Log.Error("failed to destroy dead INS", "domain_id", i.DomainID, "error", err)
		}
		cancel()

		s.MACPool.Release(i.MAC)
		s.Log.Warn("reaped dead INS", "domain_id", i.DomainID, "missed_heartbeats", i.MissedHeartbeats())
	}
}
