// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package spawnconfig loads the HCL document describing how to spawn
// and destroy INS instances: the hypervisor CLI binaries, the
// unikernel image, per-instance resources, and the MAC pool. It uses
// hclsimple.Decode the same way internal/config does for the
// teacher's own schema.
package spawnconfig

import (
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/insplane/insfleetd/internal/inserr"
)

// Config is the decoded spawn-config document (§6: --spawn-config,
// resolved relative to internal/paths.Roots.ConfigDir()).
type Config struct {
	HypervisorSpawnBin   string   `hcl:"hypervisor_spawn_bin"`
	HypervisorDestroyBin string   `hcl:"hypervisor_destroy_bin"`
	UnikernelImage       string   `hcl:"unikernel_image"`
	InstanceMemoryMB     int      `hcl:"instance_memory_mb,optional"`
	MACPool              []string `hcl:"mac_pool"`
	BusRoot              string   `hcl:"bus_root,optional"`
	NetflowBusPath       string   `hcl:"netflow_bus_path,optional"`
}

// defaults applied to fields whose zero value isn't a valid setting,
// matching the `,optional` hcl tags above.
const (
	defaultInstanceMemoryMB = 256
	defaultBusRoot          = "/mw"
	defaultNetflowBusPath   = "/mw/pvm/netflow"
)

// Load reads and decodes the spawn-config file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, inserr.Wrapf(err, inserr.KindValidation, "spawnconfig: failed to decode %s", path)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.InstanceMemoryMB == 0 {
		c.InstanceMemoryMB = defaultInstanceMemoryMB
	}
	if c.BusRoot == "" {
		c.BusRoot = defaultBusRoot
	}
	if c.NetflowBusPath == "" {
		c.NetflowBusPath = defaultNetflowBusPath
	}
}

func (c *Config) validate() error {
	if c.HypervisorSpawnBin == "" {
		return inserr.New(inserr.KindValidation, "spawnconfig: hypervisor_spawn_bin is required")
	}
	if c.HypervisorDestroyBin == "" {
		return inserr.New(inserr.KindValidation, "spawnconfig: hypervisor_destroy_bin is required")
	}
	if c.UnikernelImage == "" {
		return inserr.New(inserr.KindValidation, "spawnconfig: unikernel_image is required")
	}
	if len(c.MACPool) == 0 {
		return inserr.New(inserr.KindValidation, "spawnconfig: mac_pool must list at least one address")
	}
	return nil
}
