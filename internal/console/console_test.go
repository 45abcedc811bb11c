// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package console

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insplane/insfleetd/internal/logging"
	"github.com/insplane/insfleetd/internal/netflow"
)

// dialedPair starts a loopback listener, dials a netflow.Client against
// it, and hands back the server-side net.Conn for the test to drive as
// the simulated INS peer.
func dialedPair(t *testing.T) (*netflow.Client, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	peerCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			peerCh <- conn
		}
	}()

	log := logging.New(logging.Config{Level: logging.LevelCritical})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	client, err := netflow.Dial(ctx, ln.Addr().String(), log)
	require.NoError(t, err)

	peer := <-peerCh
	t.Cleanup(func() { peer.Close() })
	t.Cleanup(func() { client.Close() })
	return client, peer
}

func TestMonitorOnPopulatesOpenSocketsAfterObservation(t *testing.T) {
	client, peer := dialedPair(t)
	c := New(client, logging.New(logging.Config{Level: logging.LevelCritical}))

	assert.Empty(t, c.OpenSockets(), "list stays empty while monitor is off")

	go func() {
		frame, err := netflow.ReadFrame(peer)
		if err != nil {
			return
		}
		req := frame.(*netflow.FeatureRequest)
		resp := netflow.FeatureResponse{Base: netflow.Base{Sig: netflow.SigFeatureResponse, ID: req.ID}}
		peer.Write(netflow.EncodeFeatureResponse(resp))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.MonitorOn(ctx))
	assert.True(t, c.MonitorEnabled())

	o := netflow.Observation{Base: netflow.Base{Sig: netflow.SigObservation, ID: 1}, Obs: netflow.ObsAccept, Sockfd: 0x11, Extra: 0x22}
	_, err := peer.Write(netflow.EncodeObservation(o))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(c.OpenSockets()) == 1
	}, time.Second, 10*time.Millisecond)

	socks := c.OpenSockets()
	require.Len(t, socks, 1)
	assert.Equal(t, uint64(0x22), socks[0].Sockfd, "accept tracks the new socket (extra), not the listening one")
}

func TestCloseSocketByIndexRejectsOutOfRange(t *testing.T) {
	client, _ := dialedPair(t)
	c := New(client, logging.New(logging.Config{Level: logging.LevelCritical}))

	_, err := c.CloseSocketByIndex(context.Background(), 1)
	assert.Error(t, err)
}

func TestMuteUnmuteToggle(t *testing.T) {
	client, _ := dialedPair(t)
	c := New(client, logging.New(logging.Config{Level: logging.LevelCritical}))

	assert.False(t, c.Muted())
	c.Mute()
	assert.True(t, c.Muted())
	c.Unmute()
	assert.False(t, c.Muted())
}

func TestCloseSocketByIndexSendsBySockWriteRequest(t *testing.T) {
	client, peer := dialedPair(t)
	c := New(client, logging.New(logging.Config{Level: logging.LevelCritical}))

	reqCh := make(chan *netflow.FeatureRequest, 2)
	go func() {
		for {
			frame, err := netflow.ReadFrame(peer)
			if err != nil {
				return
			}
			req, ok := frame.(*netflow.FeatureRequest)
			if !ok {
				continue
			}
			reqCh <- req
			resp := netflow.FeatureResponse{Base: netflow.Base{Sig: netflow.SigFeatureResponse, ID: req.ID}}
			peer.Write(netflow.EncodeFeatureResponse(resp))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.MonitorOn(ctx))
	<-reqCh // drain the monitor-on request itself

	o := netflow.Observation{Base: netflow.Base{Sig: netflow.SigObservation, ID: 2}, Obs: netflow.ObsAccept, Sockfd: 0x11, Extra: 0x22}
	_, err := peer.Write(netflow.EncodeObservation(o))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(c.OpenSockets()) == 1 }, time.Second, 10*time.Millisecond)

	_, ok := c.Client.Sockets.Get(0x11)
	assert.False(t, ok, "the listening socket must never appear in the tracked set")

	_, err = c.CloseSocketByIndex(ctx, 1)
	require.NoError(t, err)

	select {
	case req := <-reqCh:
		assert.Equal(t, netflow.FeatureSocketOpen, req.Name)
		assert.Equal(t, netflow.FlagWrite|netflow.FlagBySock, req.Flags)
		assert.Equal(t, uint64(0x22), req.Sockfd)
	case <-time.After(time.Second):
		t.Fatal("close-socket request never arrived")
	}
}
