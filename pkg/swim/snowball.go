package swim

import (
	"context"
	"log/slog"
	"sync"
)

// Snowball is the decision-tracking consensus variant: on top of Slush's
// color flipping it keeps a per-color outcome counter (d) and a
// consecutive-same-answer streak (last_col/cnt), deciding a color once that
// streak exceeds beta.
type Snowball struct {
	self Address

	mu      sync.Mutex
	col     Color
	lastCol Color
	cnt     uint32
	d       map[Color]uint32
	decided bool
}

// NewSnowball creates a Snowball state machine with a uniformly random
// initial color.
func NewSnowball(self Address) *Snowball {
	return &Snowball{
		self: self,
		col:  randomColor(),
		d:    make(map[Color]uint32),
	}
}

// Color returns the current preference.
func (s *Snowball) Color() Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.col
}

// Decided reports whether this node has reached a final, sticky decision.
func (s *Snowball) Decided() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decided
}

// HandleQuery is the same server-side handler Slush implements: reply with
// the current preference, adopting the peer's color first if still
// Undecided.
func (s *Snowball) HandleQuery(peerCol Color) Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.col == Undecided {
		s.col = peerCol
	}
	return s.col
}

// Tick runs one round. It samples K peers, queries them, tallies the
// replies, and updates d/last_col/cnt. It returns true the tick on which
// this node first decides; once decided, further ticks are no-ops (decided
// state is sticky).
func (s *Snowball) Tick(ctx context.Context, membership *Membership, query QueryFunc) bool {
	if membership.Len() < SnowballK {
		return false
	}

	s.mu.Lock()
	if s.decided {
		s.mu.Unlock()
		return false
	}
	col := s.col
	s.mu.Unlock()
	if col == Undecided {
		return false
	}

	peers := membership.SampleUniform(SnowballK, []Address{s.self})
	replies := collectReplies(ctx, query, peers, s.self, col)
	red, blue := tally(replies)
	threshold := QuorumThreshold()

	s.mu.Lock()
	defer s.mu.Unlock()

	// At most one branch fires per tick: Red is checked first, Blue only
	// if Red's quorum wasn't met.
	switch {
	case red > threshold:
		return s.advance(Red)
	case blue > threshold:
		return s.advance(Blue)
	}
	return false
}

// advance applies the winning color's bookkeeping. Caller holds s.mu.
func (s *Snowball) advance(winner Color) bool {
	s.d[winner]++
	if s.d[winner] > s.d[s.col] {
		s.col = winner
	}

	if s.lastCol == winner {
		s.cnt++
		if s.cnt > SnowballBeta {
			s.decided = true
			slog.Debug("snowball: decided", "color", winner.String(), "cnt", s.cnt)
			return true
		}
		return false
	}

	s.lastCol = winner
	s.cnt = 0
	return false
}
