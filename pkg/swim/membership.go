package swim

import (
	"log/slog"
	"math/rand/v2"
	"sync"
)

// PeerState is the locally-known liveness state of a cluster member.
// A peer not present in Membership at all is logically Unknown, which is
// equivalent to Confirmed-dead-and-forgotten.
type PeerState int

const (
	// Alive means the peer last responded (directly or indirectly) within
	// its timeout budget.
	Alive PeerState = iota
	// Suspected means a probe to this peer timed out and it has not yet
	// been confirmed dead or re-confirmed alive.
	Suspected
)

func (s PeerState) String() string {
	switch s {
	case Alive:
		return "alive"
	case Suspected:
		return "suspected"
	default:
		return "unknown"
	}
}

// Membership is the concurrent map of known peers to their liveness state,
// plus the two samplers the SWIM engine and the consensus protocol draw
// from. Self-address never appears in the map.
//
// Every single-entry operation (Get/SetAlive/SetSuspect/Remove/InsertIfAbsent)
// is atomic; compound sequences built from them (e.g. "insert then gossip")
// are not, and the engine is written to tolerate the resulting benign races.
type Membership struct {
	self Address

	mu      sync.RWMutex
	members map[Address]PeerState

	rrMu  sync.Mutex
	rrBuf []Address // round-robin sampler buffer, drained front-to-back
}

// NewMembership creates an empty membership view for the given self address.
func NewMembership(self Address) *Membership {
	return &Membership{
		self:    self,
		members: make(map[Address]PeerState),
	}
}

// Len returns the number of known peers (excluding self, which is never
// present).
func (m *Membership) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

// Get returns the current state of addr and whether it is known at all.
func (m *Membership) Get(addr Address) (PeerState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.members[addr]
	return s, ok
}

// InsertIfAbsent inserts addr as Alive iff it is not already present (and
// is not self). Returns true iff a new entry was created.
func (m *Membership) InsertIfAbsent(addr Address) bool {
	if addr == m.self {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[addr]; ok {
		return false
	}
	m.members[addr] = Alive
	return true
}

// SetAlive transitions addr to Alive. No-op if addr is unknown or self.
func (m *Membership) SetAlive(addr Address) {
	if addr == m.self {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[addr]; ok {
		m.members[addr] = Alive
	}
}

// SetSuspect transitions addr to Suspected. No-op if addr is unknown or
// self — a peer must be known before it can be suspected. Returns true iff
// the transition actually applied to a known peer.
func (m *Membership) SetSuspect(addr Address) bool {
	if addr == m.self {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[addr]; ok {
		m.members[addr] = Suspected
		return true
	}
	return false
}

// Remove deletes addr from the membership view. Removing an absent entry
// is a no-op warning, not an error.
func (m *Membership) Remove(addr Address) {
	m.mu.Lock()
	_, ok := m.members[addr]
	if ok {
		delete(m.members, addr)
	}
	m.mu.Unlock()
	if !ok {
		slog.Warn("membership: remove of non-present entry", "addr", addr.String())
	}
}

// snapshot returns the current members minus the excluded addresses, as a
// freshly allocated slice. Caller-held lock not required; takes RLock itself.
func (m *Membership) snapshot(exclude []Address) []Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Address, 0, len(m.members))
outer:
	for addr := range m.members {
		for _, ex := range exclude {
			if addr == ex {
				continue outer
			}
		}
		out = append(out, addr)
	}
	return out
}

// SampleUniform returns k distinct addresses chosen uniformly at random
// from the membership minus exclude. Requires k <= |members \ exclude|;
// violating the precondition is a programmer error, not a runtime failure.
func (m *Membership) SampleUniform(k int, exclude []Address) []Address {
	candidates := m.snapshot(exclude)
	if k > len(candidates) {
		panic("swim: SampleUniform: k exceeds available members")
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	return candidates[:k]
}

// SampleRR is the round-robin sampler: it maintains a shuffled buffer of
// addresses, draining k per call; when the buffer is exhausted it is
// refilled from the current membership (minus exclude) in a freshly
// randomized order. Every member is visited roughly once per sweep through
// the buffer; churn during a sweep is absorbed at the next refill.
func (m *Membership) SampleRR(k int, exclude []Address) []Address {
	if k > len(m.snapshot(exclude)) {
		panic("swim: SampleRR: k exceeds available members")
	}

	m.rrMu.Lock()
	defer m.rrMu.Unlock()

	out := make([]Address, 0, k)
	for len(out) < k {
		if len(m.rrBuf) == 0 {
			m.rrBuf = m.snapshot(exclude)
			rand.Shuffle(len(m.rrBuf), func(i, j int) {
				m.rrBuf[i], m.rrBuf[j] = m.rrBuf[j], m.rrBuf[i]
			})
		}
		out = append(out, m.rrBuf[0])
		m.rrBuf = m.rrBuf[1:]
	}
	return out
}
