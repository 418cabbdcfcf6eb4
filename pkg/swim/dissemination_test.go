package swim

import "testing"

func TestDissemination_ObserveDoesNotResetCounter(t *testing.T) {
	d := NewDissemination()
	x := MustParseAddress("127.0.0.1:7001")
	d.GossipSuspect(x)

	// Disseminate it a couple of times.
	_ = d.Acquire(8)
	_ = d.Acquire(8)

	// Re-observing the same item must not reset its counter.
	d.GossipSuspect(x)
	if d.Len() != 1 {
		t.Fatalf("expected exactly one tracked entry, got %d", d.Len())
	}
	if got := d.items[GossipSuspectOf(x)]; got != 2 {
		t.Fatalf("expected counter to stay at 2 after re-observe, got %d", got)
	}
}

func TestDissemination_RateLaw_ScenarioFour(t *testing.T) {
	// n=8, GOSSIP_RATE=3 -> lambda = 3*ceil(ln(9)) = 9. A single Suspect(x)
	// is emitted on exactly 9 subsequent outgoing messages before being
	// dropped.
	d := NewDissemination()
	x := MustParseAddress("127.0.0.1:7001")
	d.GossipSuspect(x)

	const n = 8
	if got := Budget(n); got != 9 {
		t.Fatalf("expected budget(8) == 9, got %d", got)
	}

	emissions := 0
	for i := 0; i < 20; i++ {
		batch := d.Acquire(n)
		found := false
		for _, g := range batch {
			if g == GossipSuspectOf(x) {
				found = true
			}
		}
		if found {
			emissions++
		}
	}
	if emissions != 9 {
		t.Fatalf("expected exactly 9 emissions, got %d", emissions)
	}
	if d.Len() != 0 {
		t.Fatalf("expected item to be dropped from the queue after budget exceeded")
	}
}

func TestDissemination_JoinPinnedBelowMinimumMembers(t *testing.T) {
	d := NewDissemination()
	x := MustParseAddress("127.0.0.1:7001")
	d.GossipJoin(x)

	// With membership below MinimumMembers, Join is retained regardless
	// of how many times it has been acquired.
	for i := 0; i < 50; i++ {
		batch := d.Acquire(1) // memberCount < MinimumMembers(2)
		present := false
		for _, g := range batch {
			if g == GossipJoinOf(x) {
				present = true
			}
		}
		if !present {
			t.Fatalf("expected Join to remain pinned at iteration %d", i)
		}
	}
}

func TestDissemination_DeterministicOrder(t *testing.T) {
	d := NewDissemination()
	a := MustParseAddress("127.0.0.1:7001")
	b := MustParseAddress("127.0.0.1:7002")
	c := MustParseAddress("127.0.0.1:7003")
	d.GossipJoin(a)
	d.GossipAlive(b)
	d.GossipSuspect(c)

	first := d.Acquire(8)
	second := NewDissemination()
	second.GossipJoin(a)
	second.GossipAlive(b)
	second.GossipSuspect(c)
	other := second.Acquire(8)

	if len(first) != len(other) {
		t.Fatalf("expected identical batch sizes")
	}
	for i := range first {
		if first[i] != other[i] {
			t.Fatalf("expected deterministic order given identical insertion history")
		}
	}
}
