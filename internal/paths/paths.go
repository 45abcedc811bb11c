// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package paths resolves the on-disk locations insfleetd reads config
// and spawn state from, cascading through environment overrides before
// falling back to the compiled-in defaults rooted at --root.
package paths

import (
	"os"
	"path/filepath"
)

// EnvPrefix namespaces every override environment variable.
const EnvPrefix = "INSFLEETD"

// Roots holds the directories resolved relative to the --root flag.
// There is no brand package here, and no build-time -ldflags override
// path: a single compile-time default tree rooted at /opt/insfleetd.
type Roots struct {
	Root   string
	Config string
	State  string
	Run    string
}

// Default compiled-in root, overridable entirely by --root or env.
const defaultRoot = "/opt/insfleetd"

// NewRoots resolves every directory relative to root (the --root flag
// value; empty means use the compiled default).
func NewRoots(root string) *Roots {
	if root == "" {
		root = defaultRoot
	}
	return &Roots{
		Root:   root,
		Config: filepath.Join(root, "config"),
		State:  filepath.Join(root, "state"),
		Run:    filepath.Join(root, "run"),
	}
}

// ConfigDir returns the config directory, checking env vars first.
// Priority: INSFLEETD_CONFIG_DIR > INSFLEETD_PREFIX/config > r.Config
func (r *Roots) ConfigDir() string {
	if dir := os.Getenv(EnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(EnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "config")
	}
	return r.Config
}

// StateDir returns the runtime state directory, checking env vars first.
func (r *Roots) StateDir() string {
	if dir := os.Getenv(EnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(EnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return r.State
}

// RunDir returns the directory for sockets, sentinel files, and PID files.
func (r *Roots) RunDir() string {
	if dir := os.Getenv(EnvPrefix + "_RUN_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(EnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "run")
	}
	return r.Run
}

// SpawnConfigPath returns the default location of the HCL spawn
// config file, resolved under ConfigDir unless overridden.
func (r *Roots) SpawnConfigPath() string {
	if p := os.Getenv(EnvPrefix + "_SPAWN_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(r.ConfigDir(), "insfleet.hcl")
}
