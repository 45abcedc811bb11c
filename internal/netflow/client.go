// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netflow

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/insplane/insfleetd/internal/inserr"
	"github.com/insplane/insfleetd/internal/logging"
)

// BusPath is where the privileged VM's netflow listen address is
// published (§4.G: "connection-to-netflow-endpoint logic reads
// /mw/pvm/netflow").
const BusPath = "/mw/pvm/netflow"

// Client owns one netflow TCP connection: it decodes the inbound
// Observation stream into Sockets, and lets callers drive
// FeatureRequest/FeatureResponse round trips through Requests.
type Client struct {
	Sockets  *SocketSet
	Requests *RequestTable
	Log      *logging.Logger

	conn   net.Conn
	nextID uint32

	mu      sync.Mutex
	closed  bool
	warned  map[uint16]bool
}

// Dial connects to addr (as read from BusPath) and starts the
// background read loop. Call Close to tear it down.
func Dial(ctx context.Context, addr string, log *logging.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, inserr.Wrap(err, inserr.KindUnavailable, "netflow: dial failed")
	}
	c := &Client{
		Sockets:  NewSocketSet(),
		Requests: NewRequestTable(),
		Log:      log,
		conn:     conn,
		warned:   make(map[uint16]bool),
	}
	go c.readLoop()
	return c, nil
}

// Close shuts down the connection and unblocks the read loop.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readLoop decodes frames until the connection errs or is closed. An
// unrecognized signature is logged once per distinct kind and then
// skipped over, per the error table's "log once per kind; skip the
// header and continue" rule — the 6-byte header is already off the
// wire by the time ReadFrame reports ErrUnknownSignature, so resuming
// the loop is the skip.
func (c *Client) readLoop() {
	for {
		frame, err := ReadFrame(c.conn)
		if err != nil {
			if unk, ok := err.(ErrUnknownSignature); ok {
				c.mu.Lock()
				already := c.warned[unk.Sig]
				c.warned[unk.Sig] = true
				c.mu.Unlock()
				if !already {
					c.Log.Error("netflow: unknown frame signature, skipping and continuing", "sig", unk.Sig)
				}
				continue
			}
			if !c.isClosed() && err != io.EOF {
				c.Log.Warn("netflow: read loop ending", "error", err)
			}
			c.Close()
			return
		}

		switch f := frame.(type) {
		case *Observation:
			c.Sockets.Apply(*f)
		case *FeatureResponse:
			if !c.Requests.Resolve(*f) {
				c.Log.Warn("netflow: feature response for unknown request id, dropping", "id", f.ID)
			}
		case *FeatureRequest:
			// The privileged side only ever receives requests it
			// itself sent reflected back in tests; a real INS peer
			// never emits FeatureRequest frames to us.
			c.Log.Warn("netflow: unexpected feature request frame from peer", "id", f.ID)
		}
	}
}

// SendFeature issues a FeatureRequest and blocks for its
// FeatureResponse or until ctx is done.
func (c *Client) SendFeature(ctx context.Context, flags, name uint16, val0, val1, sockfd uint64) (FeatureResponse, error) {
	id := atomic.AddUint32(&c.nextID, 1)
	respCh, err := c.Requests.Register(id)
	if err != nil {
		return FeatureResponse{}, err
	}

	req := FeatureRequest{
		Base:   Base{Sig: SigFeatureRequest, ID: id},
		Flags:  flags,
		Name:   name,
		Val0:   val0,
		Val1:   val1,
		Sockfd: sockfd,
	}
	if _, err := c.conn.Write(EncodeFeatureRequest(req)); err != nil {
		c.Requests.Abandon(id)
		return FeatureResponse{}, inserr.Wrap(err, inserr.KindUnavailable, "netflow: write failed")
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return FeatureResponse{}, inserr.New(inserr.KindUnavailable, "netflow: connection closed before response")
		}
		return resp, nil
	case <-ctx.Done():
		c.Requests.Abandon(id)
		return FeatureResponse{}, inserr.Wrap(ctx.Err(), inserr.KindTimeout, "netflow: waiting for feature response")
	}
}

// CloseSocket requests the INS mitigate an open socket by closing it
// (scenario S4: the operator issues a close-socket request from the
// console and the INS tears the connection down): a write of
// "socket open ← false" targeted at one sockfd, flags = WRITE|BY_SOCK,
// bounded by defaultRequestTimeout so a stuck INS can't hang the
// console.
func (c *Client) CloseSocket(ctx context.Context, sockfd uint64) (FeatureResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()
	return c.SendFeature(ctx, FlagWrite|FlagBySock, FeatureSocketOpen, 0, 0, sockfd)
}

// defaultRequestTimeout bounds how long SendFeature's caller should
// wait before giving up, mirroring the bounded hypervisor-call
// timeouts used elsewhere in this codebase.
const defaultRequestTimeout = 5 * time.Second
