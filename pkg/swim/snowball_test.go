package swim

import (
	"context"
	"strconv"
	"testing"
)

func newTestMembership(t *testing.T, self Address, n int) *Membership {
	t.Helper()
	m := NewMembership(self)
	for i := 0; i < n; i++ {
		addr := MustParseAddress("127.0.0.1:" + strconv.Itoa(7100+i))
		m.InsertIfAbsent(addr)
	}
	return m
}

func constantQuery(c Color, err error) QueryFunc {
	return func(ctx context.Context, peer Address, self Address, col Color) (Color, error) {
		return c, err
	}
}

func TestSnowball_BelowKIsNoop(t *testing.T) {
	self := MustParseAddress("127.0.0.1:7000")
	sb := NewSnowball(self)
	sb.col = Red
	m := newTestMembership(t, self, 2) // < SnowballK(4)
	if decided := sb.Tick(context.Background(), m, constantQuery(Blue, nil)); decided {
		t.Fatalf("expected no-op below K members")
	}
	if sb.Color() != Red {
		t.Fatalf("expected color unchanged, got %s", sb.Color())
	}
}

func TestSnowball_UndecidedSelfIsNoop(t *testing.T) {
	self := MustParseAddress("127.0.0.1:7000")
	sb := NewSnowball(self)
	sb.col = Undecided
	m := newTestMembership(t, self, 8)
	if decided := sb.Tick(context.Background(), m, constantQuery(Red, nil)); decided {
		t.Fatalf("expected undecided self to skip the round")
	}
}

func TestSnowball_ConvergesAndDecidesAfterBetaStreak(t *testing.T) {
	self := MustParseAddress("127.0.0.1:7000")
	sb := NewSnowball(self)
	sb.col = Red
	m := newTestMembership(t, self, 8)

	decided := false
	for i := 0; i < 20 && !decided; i++ {
		decided = sb.Tick(context.Background(), m, constantQuery(Red, nil))
	}
	if !decided {
		t.Fatalf("expected node to decide after a sustained unanimous streak")
	}
	if sb.Color() != Red {
		t.Fatalf("expected decided color red, got %s", sb.Color())
	}
	if !sb.Decided() {
		t.Fatalf("expected Decided() true")
	}
}

func TestSnowball_DecidedStateIsSticky(t *testing.T) {
	self := MustParseAddress("127.0.0.1:7000")
	sb := NewSnowball(self)
	sb.col = Red
	m := newTestMembership(t, self, 8)

	for i := 0; i < 20; i++ {
		sb.Tick(context.Background(), m, constantQuery(Red, nil))
		if sb.Decided() {
			break
		}
	}
	if !sb.Decided() {
		t.Fatalf("setup failed to reach decision")
	}

	// Feeding the opposite color after deciding must not flip col.
	if decided := sb.Tick(context.Background(), m, constantQuery(Blue, nil)); decided {
		t.Fatalf("expected no further decision event once already decided")
	}
	if sb.Color() != Red {
		t.Fatalf("decided color must not change, got %s", sb.Color())
	}
}

func TestSnowball_HandleQueryAdoptsOnlyWhenUndecided(t *testing.T) {
	self := MustParseAddress("127.0.0.1:7000")
	sb := NewSnowball(self)
	sb.col = Undecided

	got := sb.HandleQuery(Blue)
	if got != Blue {
		t.Fatalf("expected adoption of peer color, got %s", got)
	}

	// Now decided (locally) to Blue; a later query with Red must not flip it.
	got2 := sb.HandleQuery(Red)
	if got2 != Blue {
		t.Fatalf("expected existing preference to be kept, got %s", got2)
	}
}

func TestSnowball_AtMostOneBranchFiresPerTick(t *testing.T) {
	self := MustParseAddress("127.0.0.1:7000")
	sb := NewSnowball(self)
	sb.col = Red
	m := newTestMembership(t, self, 8)

	before := sb.d[Red]
	sb.Tick(context.Background(), m, constantQuery(Red, nil))
	// Exactly the winning branch's counter moved; blue's did not.
	if sb.d[Blue] != 0 {
		t.Fatalf("expected blue's outcome counter untouched, got %d", sb.d[Blue])
	}
	if sb.d[Red] != before+1 {
		t.Fatalf("expected red's outcome counter incremented once, got %d", sb.d[Red])
	}
}
