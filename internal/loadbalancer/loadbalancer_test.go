// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package loadbalancer

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/insplane/insfleetd/internal/forwarder"
	"github.com/insplane/insfleetd/internal/ins"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBootstrapActivatesFirstCandidate is scenario S1: empty map,
// one instance registers with forwarders 80 and 443; the next
// balancer pass activates it.
func TestBootstrapActivatesFirstCandidate(t *testing.T) {
	r := ins.NewRegistry(4)
	_, err := r.BindDomainID(7)
	require.NoError(t, err)
	i, _ := r.Get(7)
	i.SetAddress(net.ParseIP("10.0.0.5"))
	i.EnsureForwarder(80)
	i.EnsureForwarder(443)

	conn := forwarder.NewFakeConn()
	spawnMore := Balance(r, conn, Config{OverloadThreshold: 0.5})

	assert.False(t, spawnMore)
	assert.True(t, i.Active())
	assert.Equal(t, 6, conn.InstalledCount()) // 2 forwarders * 3 rules
}

func TestBootstrapSkipsInstanceWithNoForwarders(t *testing.T) {
	r := ins.NewRegistry(4)
	r.BindDomainID(1)
	i, _ := r.Get(1)

	conn := forwarder.NewFakeConn()
	Balance(r, conn, Config{OverloadThreshold: 0.5})
	assert.False(t, i.Active())
}

// TestOverloadHandoff is scenario S2: A active, B inactive, both with
// forwarders. A reports load 0.9 against a 0.5 threshold; expect B
// activated then A deactivated.
func TestOverloadHandoff(t *testing.T) {
	r := ins.NewRegistry(4)
	conn := forwarder.NewFakeConn()

	r.BindDomainID(1)
	r.BindDomainID(2)
	ra, _ := r.Get(1)
	rb, _ := r.Get(2)
	ra.SetAddress(net.ParseIP("10.0.0.1"))
	ra.EnsureForwarder(80)
	rb.SetAddress(net.ParseIP("10.0.0.2"))
	rb.EnsureForwarder(80)

	require.NoError(t, ra.Activate(conn))
	ra.UpdateStats(ins.Stats{MaxSockets: 100, UsedSockets: 90})

	spawnMore := Balance(r, conn, Config{OverloadThreshold: 0.5})

	assert.False(t, spawnMore)
	assert.True(t, rb.Active())
	assert.False(t, ra.Active())
}

func TestRequestsSpawnWhenActiveOverloadedAndNoPeersAvailable(t *testing.T) {
	r := ins.NewRegistry(1)
	conn := forwarder.NewFakeConn()
	r.BindDomainID(1)
	a, _ := r.Get(1)
	a.SetAddress(net.ParseIP("10.0.0.1"))
	a.EnsureForwarder(80)
	require.NoError(t, a.Activate(conn))
	a.UpdateStats(ins.Stats{MaxSockets: 10, UsedSockets: 10})

	spawnMore := Balance(r, conn, Config{OverloadThreshold: 0.5})
	assert.True(t, spawnMore)
}

func TestExternalTriggerMarksActiveOverloaded(t *testing.T) {
	dir := t.TempDir()
	trigger := filepath.Join(dir, "overloaded")
	require.NoError(t, os.WriteFile(trigger, []byte("x"), 0o644))

	r := ins.NewRegistry(4)
	conn := forwarder.NewFakeConn()
	r.BindDomainID(1)
	a, _ := r.Get(1)
	a.SetAddress(net.ParseIP("10.0.0.1"))
	a.EnsureForwarder(80)
	require.NoError(t, a.Activate(conn))

	Balance(r, conn, Config{OverloadThreshold: 0.99, TriggerPath: trigger})

	assert.True(t, a.Overloaded())
	_, err := os.Stat(trigger)
	assert.True(t, os.IsNotExist(err))
}
