package swim

import (
	"math"
	"sync"
)

// GossipRate and MinimumMembers fix an otherwise-open tuning choice: this
// build uses GOSSIP_RATE = 3 and a Join-retention floor of 2 members (see
// DESIGN.md for the reasoning).
const (
	GossipRate     = 3
	MinimumMembers = 2
)

// Dissemination is the bounded-rate piggy-back queue of gossip items. Each
// entry tracks how many times it has been attached to an outgoing message;
// once that count reaches the per-tick budget lambda(n), the item is
// dropped from the queue on the next Acquire.
type Dissemination struct {
	mu    sync.Mutex
	items map[Gossip]uint32
	order []Gossip // preserves insertion order for deterministic iteration
}

// NewDissemination creates an empty dissemination queue.
func NewDissemination() *Dissemination {
	return &Dissemination{items: make(map[Gossip]uint32)}
}

// Observe inserts g at count 0 if it is not already tracked. A duplicate
// observation is a no-op — it does not reset the dissemination counter.
func (d *Dissemination) Observe(g Gossip) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.items[g]; ok {
		return
	}
	d.items[g] = 0
	d.order = append(d.order, g)
}

func (d *Dissemination) GossipJoin(addr Address)    { d.Observe(GossipJoinOf(addr)) }
func (d *Dissemination) GossipAlive(addr Address)   { d.Observe(GossipAliveOf(addr)) }
func (d *Dissemination) GossipSuspect(addr Address) { d.Observe(GossipSuspectOf(addr)) }
func (d *Dissemination) GossipConfirm(addr Address) { d.Observe(GossipConfirmOf(addr)) }

// Budget computes lambda(n) = GOSSIP_RATE * ceil(ln(n+1)) for a membership
// of size n.
func Budget(n int) uint32 {
	return uint32(GossipRate) * uint32(math.Ceil(math.Log(float64(n+1))))
}

// Acquire returns the batch of gossip items to piggy-back on the next
// outgoing message, given the current membership size. Each returned item
// has its dissemination counter incremented by one; items whose counter
// would exceed the budget are dropped from the queue instead (except Join
// items while membership is below MinimumMembers, which are retained
// unconditionally).
func (d *Dissemination) Acquire(memberCount int) []Gossip {
	budget := Budget(memberCount)

	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Gossip, 0, len(d.order))
	kept := d.order[:0:0]
	for _, g := range d.order {
		count, ok := d.items[g]
		if !ok {
			continue // already dropped by an earlier pass over a duplicate order entry
		}

		// A freshly-observed item starts at count 0 and is attached to
		// exactly budget outgoing messages (counts 0..budget-1) before
		// being dropped on the budget-th subsequent attempt (lambda=9
		// means exactly 9 emissions).
		pinned := g.Tag == GossipJoin && memberCount < MinimumMembers
		if !pinned && count >= budget {
			delete(d.items, g)
			continue
		}

		d.items[g] = count + 1
		out = append(out, g)
		kept = append(kept, g)
	}
	d.order = kept
	return out
}

// Len reports how many distinct gossip items are currently tracked.
func (d *Dissemination) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
