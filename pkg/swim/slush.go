package swim

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
)

// Slush is the simpler randomized-sampling consensus variant: it flips its
// preference whenever a quorum of replies disagrees with it, and never
// decides.
type Slush struct {
	self Address

	mu  sync.Mutex
	col Color
}

// NewSlush creates a Slush state machine with a uniformly random initial
// color, chosen from the three values at process start.
func NewSlush(self Address) *Slush {
	return &Slush{self: self, col: randomColor()}
}

func randomColor() Color {
	return Color(rand.IntN(3))
}

// Color returns the current preference.
func (s *Slush) Color() Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.col
}

// HandleQuery implements the server-side query handler shared by both
// consensus variants: if this node already has a preference, it replies
// with that preference; otherwise it adopts the querying peer's color and
// replies with the (now updated) preference.
func (s *Slush) HandleQuery(peerCol Color) Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.col == Undecided {
		s.col = peerCol
	}
	return s.col
}

// Tick runs one round: if membership has at least K members and this node
// has a preference, it samples K peers, queries them, and flips to
// whichever color a quorum of replies favored. Slush never decides, so
// Tick always returns false; the bool return exists only so Slush and
// Snowball share the Consensus interface the engine drives.
func (s *Slush) Tick(ctx context.Context, membership *Membership, query QueryFunc) bool {
	if membership.Len() < SnowballK {
		return false
	}
	s.mu.Lock()
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
	switch {
	case red > threshold:
		s.col = Red
		slog.Debug("slush: converged", "color", Red.String(), "red", red, "blue", blue)
	case blue > threshold:
		s.col = Blue
		slog.Debug("slush: converged", "color", Blue.String(), "red", red, "blue", blue)
	}
	return false
}
