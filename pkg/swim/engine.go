package swim

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// ProtocolPeriod (T) is the interval between protocol ticks.
const ProtocolPeriod = 1000 * time.Millisecond

// Transport is the single RPC primitive the engine needs from the network
// layer: send req to peer, wait up to Delta, and return the decoded
// Response or an error (timeout, refused connection, decode failure). The
// engine depends on this interface rather than internal/transport directly,
// the same way the protocol package takes a QueryFunc — it keeps pkg/swim
// import-cycle-free and lets tests substitute an in-memory transport.
type Transport interface {
	Send(ctx context.Context, peer Address, req Request) (Response, error)
}

// Engine is the single owner of a node's membership view, dissemination
// queue, timeout cache and consensus state. Handlers and the protocol tick
// are methods on Engine rather than free functions closing over shared
// pointers, which is how the corpus avoids the cyclic-ownership problem of
// several components each holding references to each other.
type Engine struct {
	self      Address
	transport Transport

	membership    *Membership
	dissemination *Dissemination
	timeouts      *TimeoutCache
	consensus     Consensus
	metrics       *Metrics

	// handlerDelay is an artificial latency injected into every inbound
	// handler, for testing under simulated slow peers (-d/--delay).
	handlerDelay time.Duration

	// lastTick is a Unix-nanosecond timestamp of the most recently
	// completed Tick, for an external liveness check on the protocol
	// loop (see cmd/swimd's watchdog wiring).
	lastTick atomic.Int64
}

// NewEngine constructs an Engine. consensus may be a *Snowball or *Slush (or
// any other Consensus implementation); callers that don't care should use
// NewSnowball(self) for the production default.
func NewEngine(self Address, transport Transport, consensus Consensus, handlerDelay time.Duration) *Engine {
	return NewEngineWithClock(self, transport, consensus, handlerDelay, clock.New())
}

// NewEngineWithClock is NewEngine with an explicit clock.Clock, so tests can
// drive the TimeoutCache with clock.NewMock() instead of real sleeps.
func NewEngineWithClock(self Address, transport Transport, consensus Consensus, handlerDelay time.Duration, c clock.Clock) *Engine {
	return &Engine{
		self:          self,
		transport:     transport,
		membership:    NewMembership(self),
		dissemination: NewDissemination(),
		timeouts:      NewTimeoutCacheWithClock(c),
		consensus:     consensus,
		metrics:       NewMetrics(),
		handlerDelay:  handlerDelay,
	}
}

// Membership exposes the read side of the membership view, e.g. for an
// operator status endpoint.
func (e *Engine) Membership() *Membership { return e.membership }

// ConsensusColor exposes the current consensus preference.
func (e *Engine) ConsensusColor() Color { return e.consensus.Color() }

// Metrics exposes the engine's Prometheus collectors for registration by
// the process that owns the metrics HTTP endpoint.
func (e *Engine) Metrics() *Metrics { return e.metrics }

func (e *Engine) delay() {
	if e.handlerDelay > 0 {
		time.Sleep(e.handlerDelay)
	}
}

// --- Bootstrap ---------------------------------------------------------

// Bootstrap issues a synchronous Join(self) to seed with timeout Delta. On
// a successful Join(peer) reply, if the peer is new, the join is recorded
// and gossiped. Failure to bootstrap is logged and the daemon continues as
// a singleton cluster.
func (e *Engine) Bootstrap(ctx context.Context, seed Address) {
	ctx, cancel := context.WithTimeout(ctx, RoundTripTime)
	defer cancel()

	resp, err := e.transport.Send(ctx, seed, RequestJoin(e.self))
	if err != nil {
		slog.Warn("engine: bootstrap failed, continuing as singleton", "seed", seed.String(), "err", err)
		return
	}
	if !resp.IsJoin() {
		slog.Warn("engine: bootstrap got unexpected response type, continuing as singleton", "seed", seed.String())
		return
	}
	if e.membership.InsertIfAbsent(resp.Addr) {
		e.dissemination.GossipJoin(resp.Addr)
		e.metrics.JoinsObserved.Inc()
	}
}

// --- Inbound handlers ----------------------------------------------------

// HandleJoin handles an inbound Join(peerAddr). If peerAddr is new, it
// replies Join(self) and gossips the join; a duplicate join gets no reply
// (the false return tells the caller's transport layer to send nothing).
func (e *Engine) HandleJoin(peerAddr Address) (Response, bool) {
	e.delay()
	if !e.membership.InsertIfAbsent(peerAddr) {
		return Response{}, false
	}
	e.dissemination.GossipJoin(peerAddr)
	e.metrics.JoinsObserved.Inc()
	return ResponseJoin(e.self), true
}

// HandlePing handles an inbound Ping(peerAddr, gossipIn). peerAddr must
// already be a known member: a Ping from an address this node hasn't
// joined with yet is logged at slog.Warn and dropped without an Ack, the
// same way a duplicate Join gets no reply. Otherwise it applies the
// piggy-backed gossip and replies with whatever this node has to
// disseminate next.
func (e *Engine) HandlePing(peerAddr Address, gossipIn []Gossip) (Response, bool) {
	e.delay()
	if _, ok := e.membership.Get(peerAddr); !ok {
		slog.Warn("engine: ping from unknown peer, dropping", "peer", peerAddr.String())
		return Response{}, false
	}
	for _, g := range gossipIn {
		e.processGossip(g)
	}
	return ResponseAck(e.dissemination.Acquire(e.membership.Len())), true
}

// HandlePingReq handles an inbound PingReq(sender, suspect).
//
// If suspect is this node itself, it replies immediately with an Ack. Else
// it relays a Ping to suspect and forwards the result back to sender: on a
// timely Ack, that Ack (and its gossip); on timeout, it arms a suspect
// timeout and the caller gets no reply (the sender's own Ping-level timeout
// will eventually escalate). While the relay is outstanding this node has
// promised to forward suspect's Ack back to sender, tracked as an
// indirect-ack timer for observability; it's cleared on reply and simply
// expires untouched if the relay never answers.
func (e *Engine) HandlePingReq(ctx context.Context, sender, suspect Address) (Response, bool) {
	e.delay()
	if suspect == e.self {
		return ResponseAck(e.dissemination.Acquire(e.membership.Len())), true
	}

	rctx, cancel := context.WithTimeout(ctx, RoundTripTime)
	defer cancel()

	e.timeouts.CreateIndirectAckTimeout(suspect, sender)
	resp, err := e.transport.Send(rctx, suspect, RequestPing(e.self, e.dissemination.Acquire(e.membership.Len())))
	if err != nil {
		e.timeouts.CreateSuspectTimeout(suspect)
		return Response{}, false
	}
	e.timeouts.RemoveIndirectAckTimeout(suspect)
	if resp.IsAck() {
		for _, g := range resp.Gossip {
			e.processGossip(g)
		}
	}
	return resp, true
}

// HandleQuery handles an inbound consensus Query(peerAddr, col) by
// delegating to the consensus component and wrapping its answer.
func (e *Engine) HandleQuery(col Color) Response {
	e.delay()
	return ResponseRespond(e.consensus.HandleQuery(col))
}

// --- Gossip application --------------------------------------------------

// processGossip applies one inbound gossip item. Self in any gossip except
// Confirm(self) is ignored; Confirm(self) is also ignored — no suicide by
// rumor.
func (e *Engine) processGossip(g Gossip) {
	if g.Addr == e.self {
		return
	}
	switch g.Tag {
	case GossipJoin:
		if e.membership.InsertIfAbsent(g.Addr) {
			e.sendSelfJoin(g.Addr)
			e.dissemination.GossipJoin(g.Addr)
			e.metrics.JoinsObserved.Inc()
		}
	case GossipAlive:
		e.membership.SetAlive(g.Addr)
		e.dissemination.GossipAlive(g.Addr)
		e.timeouts.RemoveSuspectTimeout(g.Addr)
	case GossipSuspect:
		if e.membership.SetSuspect(g.Addr) {
			e.dissemination.GossipSuspect(g.Addr)
			e.timeouts.CreateSuspectTimeout(g.Addr)
		}
		// Unknown peer: set_suspect no-ops and we deliberately skip the
		// timer too, avoiding the orphan-timer hazard the source left open.
	case GossipConfirm:
		e.membership.Remove(g.Addr)
		e.dissemination.GossipConfirm(g.Addr)
	}
}

// sendSelfJoin fires a best-effort, fire-and-forget Join(self) at a
// newly-learned peer so it learns about this node even if it never samples
// this node directly.
func (e *Engine) sendSelfJoin(peer Address) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), RoundTripTime)
		defer cancel()
		if _, err := e.transport.Send(ctx, peer, RequestJoin(e.self)); err != nil {
			slog.Debug("engine: self-join to newly-learned peer failed", "peer", peer.String(), "err", err)
		}
	}()
}

// --- Protocol tick ---------------------------------------------------------

// Tick runs one protocol period: probe a peer, run the consensus round,
// and drain expired timers. The probe is spawned rather than awaited, so
// a slow or dropped Ack doesn't delay the next period's sampling or the
// timeout drain. The consensus round is not spawned: it runs inline and
// waits for its query replies, so the drain runs only after those replies
// arrive or their RPCs time out.
func (e *Engine) Tick(ctx context.Context) {
	if e.membership.Len() >= 2 {
		peer := e.membership.SampleRR(1, []Address{e.self})[0]
		go e.sendPing(ctx, peer)
	}

	if decided := e.consensus.Tick(ctx, e.membership, e.consensusQuery); decided {
		e.metrics.ConsensusDecisions.Inc()
		slog.Info("engine: consensus decided", "color", e.consensus.Color().String())
	}

	e.drainTimeouts()
	e.lastTick.Store(time.Now().UnixNano())
}

// LastTick returns the time of the most recently completed Tick. The zero
// Time is returned if Tick has never run.
func (e *Engine) LastTick() time.Time {
	ns := e.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// sendPing issues Ping(self, acquire()) to peer with timeout Delta. On Ack,
// it applies the returned gossip. On timeout, it escalates to an indirect
// probe. The wait is tracked with an ack timer for observability; left
// armed and simply drained untouched if peer never answers.
func (e *Engine) sendPing(ctx context.Context, peer Address) {
	rctx, cancel := context.WithTimeout(ctx, RoundTripTime)
	defer cancel()

	e.timeouts.CreateAckTimeout(peer)
	resp, err := e.transport.Send(rctx, peer, RequestPing(e.self, e.dissemination.Acquire(e.membership.Len())))
	if err != nil {
		e.metrics.ProbeTimeouts.Inc()
		e.sendPingReq(ctx, peer)
		return
	}
	e.timeouts.RemoveAckTimeout(peer)
	e.metrics.ProbesSucceeded.Inc()
	if resp.IsAck() {
		for _, g := range resp.Gossip {
			e.processGossip(g)
		}
	}
}

// sendPingReq samples one other peer as a proxy and issues
// PingReq(self, suspect) to it with timeout Delta. On response, it applies
// the gossip; on timeout, it marks suspect locally Suspected, gossips that
// suspicion, and arms its suspect timeout. The relay is tracked with a
// probe timer, keyed on suspect, for observability; left armed and simply
// drained untouched if the proxy never answers.
//
// The gossip/state mutation on this path isn't spelled out in so many
// words by the ping_req escalation description alone, but the scenario
// walkthrough for silent-peer suspicion requires it: suspect, gossip, arm
// the timer, together (see suspectPeer).
func (e *Engine) sendPingReq(ctx context.Context, suspect Address) {
	if e.membership.Len() < 2 {
		e.suspectPeer(suspect)
		return
	}
	proxy := e.membership.SampleUniform(1, []Address{e.self, suspect})[0]

	rctx, cancel := context.WithTimeout(ctx, RoundTripTime)
	defer cancel()

	e.timeouts.CreateProbeTimeout(suspect)
	resp, err := e.transport.Send(rctx, proxy, RequestPingReq(e.self, suspect))
	if err != nil {
		e.suspectPeer(suspect)
		e.metrics.IndirectProbeTimeouts.Inc()
		return
	}
	e.timeouts.RemoveProbeTimeout(suspect)
	if resp.IsAck() {
		for _, g := range resp.Gossip {
			e.processGossip(g)
		}
	}
}

// suspectPeer marks addr Suspected, gossips the suspicion, and arms its
// suspect timeout, after a direct and an indirect probe have both failed.
func (e *Engine) suspectPeer(addr Address) {
	e.membership.SetSuspect(addr)
	e.dissemination.GossipSuspect(addr)
	e.timeouts.CreateSuspectTimeout(addr)
}

// consensusQuery adapts the engine's Transport into the protocol package's
// QueryFunc shape, so Snowball/Slush can issue Query RPCs without knowing
// about Request/Response framing. Each outstanding query is tracked with a
// query timer for observability; left armed and simply drained untouched
// if peer never answers.
func (e *Engine) consensusQuery(ctx context.Context, peer Address, self Address, col Color) (Color, error) {
	e.timeouts.CreateQueryTimeout(peer)
	resp, err := e.transport.Send(ctx, peer, RequestQuery(self, col))
	if err != nil {
		return Undecided, err
	}
	e.timeouts.RemoveQueryTimeout(peer)
	return resp.Color, nil
}

// drainTimeouts is the tick's reaction to expired timers. Only the suspect
// class feeds a reaction: each expired suspect is removed from membership
// and a Confirm is gossiped.
func (e *Engine) drainTimeouts() {
	expired := e.timeouts.PollExpired()
	for _, addr := range expired.Suspect {
		e.membership.Remove(addr)
		e.dissemination.GossipConfirm(addr)
		e.metrics.ConfirmsEmitted.Inc()
	}
}

// Run drives the protocol tick every period until ctx is canceled.
func (e *Engine) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}
