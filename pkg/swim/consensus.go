package swim

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Consensus parameters.
const (
	SnowballK     = 4   // peers sampled per round
	SnowballAlpha = 0.5 // quorum threshold fraction
	SnowballBeta  = 11  // confirmations required to decide
)

// QuorumThreshold is ceil(alpha * K).
func QuorumThreshold() int {
	return ceilFrac(SnowballAlpha, SnowballK)
}

func ceilFrac(alpha float64, k int) int {
	t := int(alpha * float64(k))
	if float64(t) < alpha*float64(k) {
		t++
	}
	return t
}

// Consensus is the interface the engine drives once per protocol tick. Both
// Snowball (decides) and Slush (never decides, always returns false) satisfy
// it, so the engine can be built against either without caring which.
type Consensus interface {
	Color() Color
	HandleQuery(peerCol Color) Color
	Tick(ctx context.Context, membership *Membership, query QueryFunc) (decided bool)
}

// QueryFunc sends a Query(self, col) to peer and returns its Respond(color),
// or an error on timeout/IO failure. Both Slush and Snowball take this as a
// dependency instead of importing the transport package directly, keeping
// this package free of any network I/O concerns.
type QueryFunc func(ctx context.Context, peer Address, self Address, col Color) (Color, error)

// collectReplies fans QueryFunc out to every peer concurrently and returns
// whatever replies arrived, dropping peers that errored or timed out: a
// bounded receive with a short drain. The errgroup bounds the fan-out and
// ctx bounds how long any one query is allowed to take before the caller
// gives up on it.
func collectReplies(ctx context.Context, query QueryFunc, peers []Address, self Address, col Color) []Color {
	replies := make([]Color, len(peers))
	ok := make([]bool, len(peers))

	g, gctx := errgroup.WithContext(ctx)
	for i, peer := range peers {
		i, peer := i, peer
		g.Go(func() error {
			c, err := query(gctx, peer, self, col)
			if err != nil {
				slog.Debug("consensus: query failed", "peer", peer.String(), "err", err)
				return nil
			}
			replies[i] = c
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Color, 0, len(peers))
	for i, present := range ok {
		if present {
			out = append(out, replies[i])
		}
	}
	return out
}

// tally counts replies into (red, blue), ignoring Undecided as an error
// signal.
func tally(replies []Color) (red, blue int) {
	for _, c := range replies {
		switch c {
		case Red:
			red++
		case Blue:
			blue++
		case Undecided:
			slog.Warn("consensus: undecided reply treated as error signal")
		}
	}
	return red, blue
}
