package transport

import (
	"context"
	"testing"
	"time"

	"github.com/nodecluster/swimd/pkg/swim"
)

// stubHandler is a minimal Handler for exercising the wire path without a
// full swim.Engine.
type stubHandler struct {
	joinAccepts bool
	pingGossip  []swim.Gossip
	queryColor  swim.Color
}

func (h *stubHandler) HandleJoin(peerAddr swim.Address) (swim.Response, bool) {
	if !h.joinAccepts {
		return swim.Response{}, false
	}
	return swim.ResponseJoin(peerAddr), true
}

func (h *stubHandler) HandlePing(peerAddr swim.Address, gossipIn []swim.Gossip) (swim.Response, bool) {
	return swim.ResponseAck(h.pingGossip), true
}

func (h *stubHandler) HandlePingReq(ctx context.Context, sender, suspect swim.Address) (swim.Response, bool) {
	return swim.ResponseAck(nil), true
}

func (h *stubHandler) HandleQuery(col swim.Color) swim.Response {
	return swim.ResponseRespond(h.queryColor)
}

func startTestServer(t *testing.T, handler Handler) (swim.Address, func()) {
	t.Helper()
	addr := swim.MustParseAddress("127.0.0.1:0")
	srv, err := Listen(addr, handler)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	boundAddr, err := swim.ParseAddress(srv.listener.Addr().String())
	if err != nil {
		t.Fatalf("parse bound address: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()

	return boundAddr, func() {
		cancel()
		<-done
	}
}

func TestTransport_JoinRoundTrip(t *testing.T) {
	handler := &stubHandler{joinAccepts: true}
	addr, stop := startTestServer(t, handler)
	defer stop()

	client := NewClient()
	self := swim.MustParseAddress("127.0.0.1:7999")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Send(ctx, addr, swim.RequestJoin(self))
	if err != nil {
		t.Fatalf("send join: %v", err)
	}
	if !resp.IsJoin() {
		t.Fatalf("expected Join response, got %+v", resp)
	}
}

func TestTransport_PingRoundTrip(t *testing.T) {
	x := swim.MustParseAddress("127.0.0.1:8001")
	gossip := []swim.Gossip{swim.GossipAliveOf(x)}
	handler := &stubHandler{pingGossip: gossip}
	addr, stop := startTestServer(t, handler)
	defer stop()

	client := NewClient()
	self := swim.MustParseAddress("127.0.0.1:7999")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Send(ctx, addr, swim.RequestPing(self, nil))
	if err != nil {
		t.Fatalf("send ping: %v", err)
	}
	if !resp.IsAck() || len(resp.Gossip) != 1 || resp.Gossip[0] != gossip[0] {
		t.Fatalf("unexpected ack response: %+v", resp)
	}
}

func TestTransport_QueryRoundTrip(t *testing.T) {
	handler := &stubHandler{queryColor: swim.Red}
	addr, stop := startTestServer(t, handler)
	defer stop()

	client := NewClient()
	self := swim.MustParseAddress("127.0.0.1:7999")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Send(ctx, addr, swim.RequestQuery(self, swim.Blue))
	if err != nil {
		t.Fatalf("send query: %v", err)
	}
	if !resp.IsRespond() || resp.Color != swim.Red {
		t.Fatalf("unexpected respond: %+v", resp)
	}
}

func TestTransport_DialUnreachablePeerErrors(t *testing.T) {
	client := NewClient()
	self := swim.MustParseAddress("127.0.0.1:7999")
	unreachable := swim.MustParseAddress("127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if _, err := client.Send(ctx, unreachable, swim.RequestJoin(self)); err == nil {
		t.Fatalf("expected dial error for unreachable peer")
	}
}
