// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package supervisor runs the main INS lifecycle loop (§4.E): eager
// pre-spawn, bounded spawn-and-wait-for-registration, dead-instance
// reaping, and the load balancer. Hypervisor interaction shells out to
// configured spawn/destroy binaries the way tools/pkg/toolbox/vmm does
// for its own qemu child processes, not via a library binding.
package supervisor

import (
	"context"
	"os/exec"
	"strconv"

	"github.com/insplane/insfleetd/internal/inserr"
)

// Hypervisor spawns and destroys INS instances by shelling out to an
// operator-configured CLI. Implementations must bound their own
// subprocess lifetime to ctx.
type Hypervisor interface {
	// Spawn launches a new instance named name with MAC address mac.
	// It must return only once the subprocess exits (the instance's
	// domain-id is not known yet; it arrives later over the bus).
	Spawn(ctx context.Context, name, mac string) error
	// Destroy tears down the instance identified by domainID.
	Destroy(ctx context.Context, domainID int) error
}

// ShellHypervisor invokes external spawn/destroy binaries per call,
// mirroring the original's "xl create"/"xl destroy" subprocess shape.
type ShellHypervisor struct {
	SpawnBin   string
	DestroyBin string
	// SpawnArgs/DestroyArgs are appended before the name/mac or
	// domain-id arguments, for binaries that need e.g. a config-file
	// flag baked in ahead of positional arguments.
	SpawnArgs   []string
	DestroyArgs []string
}

// NewShellHypervisor validates both binaries are resolvable on PATH
// up front, so a misconfiguration is fatal at startup rather than on
// the first spawn attempt deep into the main loop.
func NewShellHypervisor(spawnBin, destroyBin string) (*ShellHypervisor, error) {
	spawnPath, err := exec.LookPath(spawnBin)
	if err != nil {
		return nil, inserr.Wrapf(err, inserr.KindUnavailable, "supervisor: hypervisor spawn binary %q not found", spawnBin)
	}
	destroyPath, err := exec.LookPath(destroyBin)
	if err != nil {
		return nil, inserr.Wrapf(err, inserr.KindUnavailable, "supervisor: hypervisor destroy binary %q not found", destroyBin)
	}
	return &ShellHypervisor{SpawnBin: spawnPath, DestroyBin: destroyPath}, nil
}

// Spawn implements Hypervisor.
func (h *ShellHypervisor) Spawn(ctx context.Context, name, mac string) error {
	args := append(append([]string{}, h.SpawnArgs...), name, mac)
	cmd := exec.CommandContext(ctx, h.SpawnBin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return inserr.Wrapf(err, inserr.KindInternal, "supervisor: spawn of %q failed: %s", name, out)
	}
	return nil
}

// Destroy implements Hypervisor.
func (h *ShellHypervisor) Destroy(ctx context.Context, domainID int) error {
	args := append(append([]string{}, h.DestroyArgs...), strconv.Itoa(domainID))
	cmd := exec.CommandContext(ctx, h.DestroyBin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return inserr.Wrapf(err, inserr.KindInternal, "supervisor: destroy of domain %d failed: %s", domainID, out)
	}
	return nil
}
