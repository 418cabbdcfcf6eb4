// Package transport implements the framed binary RPC shim connecting
// swim.Engine instances over TCP: a 4-byte big-endian length prefix
// wrapping a single serialized Request or Response per connection.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-msgio"

	"github.com/nodecluster/swimd/pkg/swim"
)

// Client implements swim.Transport by dialing a fresh TCP connection per
// RPC, writing exactly one framed Request, and reading exactly one framed
// Response before closing: one request/response per connection.
type Client struct {
	dialer net.Dialer
}

// NewClient returns a ready-to-use Client.
func NewClient() *Client {
	return &Client{}
}

// Send dials peer, sends req, and returns its decoded Response. The
// connection's deadline is taken from ctx; a missing deadline on ctx
// defaults to swim.RoundTripTime from now.
func (c *Client) Send(ctx context.Context, peer swim.Address, req swim.Request) (swim.Response, error) {
	id := uuid.New()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(swim.RoundTripTime)
	}

	addr, err := peer.TCPAddr()
	if err != nil {
		return swim.Response{}, fmt.Errorf("transport: resolve %s: %w", peer.String(), err)
	}

	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := c.dialer.DialContext(dctx, "tcp", addr.String())
	if err != nil {
		return swim.Response{}, fmt.Errorf("transport: dial %s [rpc %s]: %w", peer.String(), id, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return swim.Response{}, fmt.Errorf("transport: set deadline %s [rpc %s]: %w", peer.String(), id, err)
	}

	writer := msgio.NewWriter(conn)
	if err := writer.WriteMsg(swim.EncodeRequest(req)); err != nil {
		return swim.Response{}, fmt.Errorf("transport: write request to %s [rpc %s]: %w", peer.String(), id, err)
	}

	reader := msgio.NewReader(conn)
	frame, err := reader.ReadMsg()
	if err != nil {
		return swim.Response{}, fmt.Errorf("transport: read response from %s [rpc %s]: %w", peer.String(), id, err)
	}
	defer reader.ReleaseMsg(frame)

	resp, err := swim.DecodeResponse(frame)
	if err != nil {
		return swim.Response{}, fmt.Errorf("transport: decode response from %s [rpc %s]: %w", peer.String(), id, err)
	}
	return resp, nil
}
