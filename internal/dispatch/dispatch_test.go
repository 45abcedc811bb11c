// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/insplane/insfleetd/internal/bus"
	"github.com/insplane/insfleetd/internal/ins"
	"github.com/insplane/insfleetd/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(registry *ins.Registry, b bus.Bus) *Dispatcher {
	return New(registry, b, logging.New(logging.Config{Level: logging.LevelCritical}))
}

// TestFirstINSBecomesActive exercises the bus-event sequence of
// scenario S1: ins_dom_id=7, then ip_addrs=10.0.0.5, then
// listening_ports=50 1bb (80 and 443).
func TestFirstINSRegistersAddressForwardersAndSockopts(t *testing.T) {
	r := ins.NewRegistry(4)
	b := bus.NewMemoryBus()
	d := newTestDispatcher(r, b)

	require.NoError(t, d.Handle(bus.Event{Path: "/mw/7/ins_dom_id", Value: "7"}))
	require.NoError(t, d.Handle(bus.Event{Path: "/mw/7/ip_addrs", Value: "10.0.0.5"}))
	require.NoError(t, d.Handle(bus.Event{Path: "/mw/7/listening_ports", Value: "50 1bb"}))

	i, ok := r.Get(7)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", i.Address().String())
	fwds := i.Forwarders()
	assert.Len(t, fwds, 2)

	opts, ok, err := b.Get(context.Background(), "/mw/7/sockopts")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, opts)
}

func TestInsDomIDRejectsMismatchedValue(t *testing.T) {
	r := ins.NewRegistry(4)
	d := newTestDispatcher(r, bus.NewMemoryBus())
	err := d.Handle(bus.Event{Path: "/mw/7/ins_dom_id", Value: "8"})
	assert.Error(t, err)
	_, ok := r.Get(7)
	assert.False(t, ok)
}

func TestIPAddrsFiltersLoopbackAndRequiresExactlyOne(t *testing.T) {
	r := ins.NewRegistry(4)
	d := newTestDispatcher(r, bus.NewMemoryBus())

	err := d.Handle(bus.Event{Path: "/mw/1/ip_addrs", Value: "127.0.0.1 10.0.0.5"})
	require.NoError(t, err)
	i, _ := r.Get(1)
	assert.Equal(t, "10.0.0.5", i.Address().String())

	err = d.Handle(bus.Event{Path: "/mw/2/ip_addrs", Value: "10.0.0.5 10.0.0.6"})
	assert.Error(t, err)
}

func TestNetworkStatsParsesFourHexCounters(t *testing.T) {
	r := ins.NewRegistry(4)
	d := newTestDispatcher(r, bus.NewMemoryBus())

	require.NoError(t, d.Handle(bus.Event{Path: "/mw/1/network_stats", Value: "64:5a:0:0"}))
	i, _ := r.Get(1)
	s := i.Stats()
	assert.Equal(t, uint64(0x64), s.MaxSockets)
	assert.Equal(t, uint64(0x5a), s.UsedSockets)
}

func TestNetworkStatsRejectsWrongFieldCount(t *testing.T) {
	r := ins.NewRegistry(4)
	d := newTestDispatcher(r, bus.NewMemoryBus())
	err := d.Handle(bus.Event{Path: "/mw/1/network_stats", Value: "1:2:3"})
	assert.Error(t, err)
}

func TestHeartbeatUpdatesLastContact(t *testing.T) {
	r := ins.NewRegistry(4)
	d := newTestDispatcher(r, bus.NewMemoryBus())
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Now = func() time.Time { return fixed }

	require.NoError(t, d.Handle(bus.Event{Path: "/mw/1/heartbeat", Value: "1"}))
	i, _ := r.Get(1)
	assert.Equal(t, fixed, i.LastContact())
}

func TestListeningPortsCreatesForwardersOncePerPort(t *testing.T) {
	r := ins.NewRegistry(4)
	d := newTestDispatcher(r, bus.NewMemoryBus())

	require.NoError(t, d.Handle(bus.Event{Path: "/mw/1/listening_ports", Value: "50"}))
	require.NoError(t, d.Handle(bus.Event{Path: "/mw/1/listening_ports", Value: "50 1bb"}))

	i, _ := r.Get(1)
	assert.Len(t, i.Forwarders(), 2)
}

func TestUnknownSuffixIgnored(t *testing.T) {
	r := ins.NewRegistry(4)
	d := newTestDispatcher(r, bus.NewMemoryBus())
	assert.NoError(t, d.Handle(bus.Event{Path: "/mw/1/something_else", Value: "x"}))
	_, ok := r.Get(1)
	assert.False(t, ok)
}

func TestMalformedPathIgnoredNotError(t *testing.T) {
	r := ins.NewRegistry(4)
	d := newTestDispatcher(r, bus.NewMemoryBus())
	assert.NoError(t, d.Handle(bus.Event{Path: "/totally/unrelated", Value: "x"}))
}
