package swim

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RoundTripTime (Delta) is the shared expiry constant for every timer
// class in the TimeoutCache.
const RoundTripTime = 333 * time.Millisecond

// IndirectAck is the value stored for an outstanding indirect-ack promise:
// this node promised to forward suspect's Ack back to Requester.
type IndirectAck struct {
	Requester Address
}

// Timeouts is the bulk result of a TimeoutCache drain: one slice of
// addresses per timer class that expired since the last poll.
type Timeouts struct {
	Ack         []Address
	IndirectAck []Address
	Probe       []Address
	Suspect     []Address
	Query       []Address
}

// timerClass is a single named delay-queue: a map from address to the
// deadline it was armed with, plus (for indirect-ack) an associated value.
// create/remove are guarded by one mutex per class: create takes the map
// before any secondary bookkeeping, remove's ordering doesn't matter
// because removal is idempotent.
type timerClass struct {
	mu       sync.Mutex
	deadline map[Address]time.Time
	indirect map[Address]IndirectAck // only populated by the indirect-ack class
}

func newTimerClass() *timerClass {
	return &timerClass{
		deadline: make(map[Address]time.Time),
		indirect: make(map[Address]IndirectAck),
	}
}

// create arms addr if it is not already armed. No-op (idempotent) if a
// timer for addr is already live in this class.
func (c *timerClass) create(addr Address, d time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.deadline[addr]; ok {
		return
	}
	c.deadline[addr] = now.Add(d)
}

// createIndirect is create, plus recording the forwarding requester.
func (c *timerClass) createIndirect(addr Address, requester Address, d time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.deadline[addr]; ok {
		return
	}
	c.deadline[addr] = now.Add(d)
	c.indirect[addr] = IndirectAck{Requester: requester}
}

// remove clears any pending timer for addr. No-op if absent.
func (c *timerClass) remove(addr Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deadline, addr)
	delete(c.indirect, addr)
}

// removeIndirect is remove, but also returns the requester that was
// recorded on create, so the caller can forward the Ack.
func (c *timerClass) removeIndirect(addr Address) (IndirectAck, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.indirect[addr]
	delete(c.deadline, addr)
	delete(c.indirect, addr)
	return v, ok
}

// drain returns every address whose deadline has passed as of now, and
// clears those entries. Each expired address is returned exactly once.
func (c *timerClass) drain(now time.Time) []Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expired []Address
	for addr, deadline := range c.deadline {
		if !now.Before(deadline) {
			expired = append(expired, addr)
			delete(c.deadline, addr)
			delete(c.indirect, addr)
		}
	}
	return expired
}

// TimeoutCache holds the five independently-keyed delay queues the SWIM
// engine uses to track outstanding Acks, indirect-ack promises, in-flight
// proxied probes, suspected peers pending confirmation, and outstanding
// consensus queries.
//
// Only the suspect class's expiry feeds the protocol tick's reaction
// directly; the other four exist for idempotent bookkeeping and
// observability around in-flight RPCs.
type TimeoutCache struct {
	ack         *timerClass
	indirectAck *timerClass
	probe       *timerClass
	suspect     *timerClass
	query       *timerClass

	clock clock.Clock // clock.New() in production; clock.NewMock() in tests
}

// NewTimeoutCache creates an empty TimeoutCache backed by the real clock.
func NewTimeoutCache() *TimeoutCache {
	return NewTimeoutCacheWithClock(clock.New())
}

// NewTimeoutCacheWithClock creates an empty TimeoutCache backed by an
// explicit clock.Clock, so tests can use clock.NewMock() to deterministically
// advance time past Delta without sleeping.
func NewTimeoutCacheWithClock(c clock.Clock) *TimeoutCache {
	return &TimeoutCache{
		ack:         newTimerClass(),
		indirectAck: newTimerClass(),
		probe:       newTimerClass(),
		suspect:     newTimerClass(),
		query:       newTimerClass(),
		clock:       c,
	}
}

func (c *TimeoutCache) CreateAckTimeout(addr Address) {
	c.ack.create(addr, RoundTripTime, c.clock.Now())
}
func (c *TimeoutCache) RemoveAckTimeout(addr Address) {
	c.ack.remove(addr)
}

func (c *TimeoutCache) CreateIndirectAckTimeout(addr, requester Address) {
	c.indirectAck.createIndirect(addr, requester, RoundTripTime, c.clock.Now())
}

// RemoveIndirectAckTimeout clears the indirect-ack promise for addr and
// returns the requester it was recorded against, so the caller can
// forward the Ack back to them.
func (c *TimeoutCache) RemoveIndirectAckTimeout(addr Address) (requester Address, ok bool) {
	v, ok := c.indirectAck.removeIndirect(addr)
	return v.Requester, ok
}

func (c *TimeoutCache) CreateProbeTimeout(addr Address) {
	c.probe.create(addr, RoundTripTime, c.clock.Now())
}
func (c *TimeoutCache) RemoveProbeTimeout(addr Address) {
	c.probe.remove(addr)
}

func (c *TimeoutCache) CreateSuspectTimeout(addr Address) {
	c.suspect.create(addr, RoundTripTime, c.clock.Now())
}
func (c *TimeoutCache) RemoveSuspectTimeout(addr Address) {
	c.suspect.remove(addr)
}

func (c *TimeoutCache) CreateQueryTimeout(addr Address) {
	c.query.create(addr, RoundTripTime, c.clock.Now())
}
func (c *TimeoutCache) RemoveQueryTimeout(addr Address) {
	c.query.remove(addr)
}

// PollExpired is the non-blocking bulk drain: it returns immediately with
// whatever has expired in each class since the last call.
func (c *TimeoutCache) PollExpired() Timeouts {
	now := c.clock.Now()
	return Timeouts{
		Ack:         c.ack.drain(now),
		IndirectAck: c.indirectAck.drain(now),
		Probe:       c.probe.drain(now),
		Suspect:     c.suspect.drain(now),
		Query:       c.query.drain(now),
	}
}
