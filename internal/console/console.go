// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package console implements the operator console (§4.H): single
// character commands driving the netflow client's traffic-monitor
// toggle and interactive close-socket mitigation. The console is
// optional scaffolding around internal/netflow — its logic is kept
// free of any TTY dependency here so it can be driven by either the
// Bubble Tea model in tui.go or a test harness.
package console

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/insplane/insfleetd/internal/logging"
	"github.com/insplane/insfleetd/internal/netflow"
)

// Console holds the operator-visible toggles layered on top of a
// netflow.Client: muting observation output and enabling/disabling the
// open-socket list, mirroring the original's info_muted/info_display
// globals.
type Console struct {
	Client *netflow.Client
	Log    *logging.Logger

	mu        sync.Mutex
	muted     bool
	monitorOn bool
}

// New builds a Console over an already-dialed netflow client.
// Observation display starts unmuted; the open-socket list starts
// disabled until the operator sends "monitor on" (matching the
// original's initial info_display=False).
func New(client *netflow.Client, log *logging.Logger) *Console {
	return &Console{Client: client, Log: log}
}

// Mute sets the mute flag reported by Muted ('M'). Nothing in this
// package prints observation lines, so the flag has no other effect.
func (c *Console) Mute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = true
}

// Unmute clears the mute flag reported by Muted ('m').
func (c *Console) Unmute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = false
}

// Muted reports the current mute state.
func (c *Console) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// MonitorOn sends the channel-wide traffic-monitor-on feature request
// and enables the open-socket listing ('o').
func (c *Console) MonitorOn(ctx context.Context) error {
	if _, err := c.Client.SendFeature(ctx, netflow.FlagRead, netflow.FeatureTrafficMonitorOn, 0, 0, 0); err != nil {
		return fmt.Errorf("console: monitor-on request failed: %w", err)
	}
	c.mu.Lock()
	c.monitorOn = true
	c.mu.Unlock()
	return nil
}

// MonitorOff sends the channel-wide traffic-monitor-off feature
// request and disables the open-socket listing ('O').
func (c *Console) MonitorOff(ctx context.Context) error {
	if _, err := c.Client.SendFeature(ctx, netflow.FlagRead, netflow.FeatureTrafficMonitorOff, 0, 0, 0); err != nil {
		return fmt.Errorf("console: monitor-off request failed: %w", err)
	}
	c.mu.Lock()
	c.monitorOn = false
	c.mu.Unlock()
	return nil
}

// MonitorEnabled reports whether the open-socket list is currently
// populated for display.
func (c *Console) MonitorEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitorOn
}

// OpenSockets returns the currently tracked sockets in a stable order
// (ascending by sockfd), matching the index the 'c' command prompts
// against. It returns nothing while the monitor is disabled, matching
// "disabled when traffic monitor is off" in the original console.
func (c *Console) OpenSockets() []netflow.SocketInfo {
	if !c.MonitorEnabled() {
		return nil
	}
	socks := c.Client.Sockets.Snapshot()
	sort.Slice(socks, func(i, j int) bool { return socks[i].Sockfd < socks[j].Sockfd })
	return socks
}

// CloseSocketByIndex closes the socket at the given 1-based index into
// OpenSockets' stable ordering ('c'). An out-of-range index is a
// no-op error, never a panic — matching the original's "invalid
// option" handling.
func (c *Console) CloseSocketByIndex(ctx context.Context, index int) (netflow.FeatureResponse, error) {
	socks := c.OpenSockets()
	if index < 1 || index > len(socks) {
		return netflow.FeatureResponse{}, fmt.Errorf("console: index %d out of range (1-%d)", index, len(socks))
	}
	return c.Client.CloseSocket(ctx, socks[index-1].Sockfd)
}
