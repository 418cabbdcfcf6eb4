package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"github.com/libp2p/go-msgio"
	"golang.org/x/sync/errgroup"

	"github.com/nodecluster/swimd/pkg/swim"
)

// Handler is implemented by swim.Engine: the server decodes wire Requests
// and calls exactly one of these per request, then writes back whatever
// Response (if any) the handler produced.
type Handler interface {
	HandleJoin(peerAddr swim.Address) (swim.Response, bool)
	HandlePing(peerAddr swim.Address, gossipIn []swim.Gossip) (swim.Response, bool)
	HandlePingReq(ctx context.Context, sender, suspect swim.Address) (swim.Response, bool)
	HandleQuery(col swim.Color) swim.Response
}

// Server accepts TCP connections, reads one framed Request per connection,
// dispatches it to Handler, and writes back the framed Response.
// Connections are served concurrently under an errgroup so the accept
// loop itself never blocks on a slow peer.
type Server struct {
	handler  Handler
	listener net.Listener
	group    *errgroup.Group
}

// Listen binds addr and returns a Server ready to Serve.
func Listen(addr swim.Address, handler Handler) (*Server, error) {
	tcpAddr, err := addr.TCPAddr()
	if err != nil {
		return nil, fmt.Errorf("transport: resolve listen address %s: %w", addr.String(), err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", addr.String(), err)
	}
	return &Server{handler: handler, listener: ln}, nil
}

// Serve runs the accept loop until ctx is canceled or the listener errors.
// Each connection is handled in its own goroutine under a shared errgroup,
// so Serve waits for in-flight connections before returning on cancel. The
// number of concurrently served connections is not capped.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	s.group = g

	go func() {
		<-gctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(gctx.Err(), context.Canceled) {
				return g.Wait()
			}
			slog.Error("transport: accept error", "err", err)
			return fmt.Errorf("transport: accept: %w", err)
		}
		g.Go(func() error {
			s.handleConn(gctx, conn)
			return nil
		})
	}
}

// handleConn reads exactly one framed Request, dispatches it, and writes
// back exactly one framed Response (or none, when the handler produces no
// reply: a duplicate Join, a Ping from an unknown peer, a failed PingReq
// relay).
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	id := uuid.New()
	defer conn.Close()

	reader := msgio.NewReader(conn)
	frame, err := reader.ReadMsg()
	if err != nil {
		slog.Debug("transport: read request failed", "rpc", id, "err", err)
		return
	}
	defer reader.ReleaseMsg(frame)

	req, err := swim.DecodeRequest(frame)
	if err != nil {
		slog.Warn("transport: malformed request, closing connection", "rpc", id, "err", err)
		return
	}

	resp, ok := s.dispatch(ctx, req)
	if !ok {
		return
	}

	writer := msgio.NewWriter(conn)
	if err := writer.WriteMsg(swim.EncodeResponse(resp)); err != nil {
		slog.Debug("transport: write response failed", "rpc", id, "err", err)
	}
}

func (s *Server) dispatch(ctx context.Context, req swim.Request) (swim.Response, bool) {
	switch {
	case req.IsJoin():
		return s.handler.HandleJoin(req.Addr)
	case req.IsPing():
		return s.handler.HandlePing(req.Addr, req.Gossip)
	case req.IsPingReq():
		return s.handler.HandlePingReq(ctx, req.Addr, req.Suspect)
	case req.IsQuery():
		return s.handler.HandleQuery(req.Color), true
	default:
		return swim.Response{}, false
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}
