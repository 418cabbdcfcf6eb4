package swim

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestTimeoutCache_CreateIsIdempotent(t *testing.T) {
	mock := clock.NewMock()
	c := NewTimeoutCacheWithClock(mock)
	addr := MustParseAddress("127.0.0.1:7001")

	c.CreateSuspectTimeout(addr)
	c.CreateSuspectTimeout(addr) // second call must be a no-op

	mock.Add(RoundTripTime + time.Millisecond)
	expired := c.PollExpired().Suspect
	if len(expired) != 1 {
		t.Fatalf("expected exactly one pending timer for addr, drained %d", len(expired))
	}
}

func TestTimeoutCache_RemoveAbsentIsNoop(t *testing.T) {
	c := NewTimeoutCache()
	c.RemoveAckTimeout(MustParseAddress("127.0.0.1:9999")) // must not panic
}

func TestTimeoutCache_DrainReturnsEachExpiryOnce(t *testing.T) {
	mock := clock.NewMock()
	c := NewTimeoutCacheWithClock(mock)
	a := MustParseAddress("127.0.0.1:7001")
	b := MustParseAddress("127.0.0.1:7002")

	c.CreateSuspectTimeout(a)
	c.CreateSuspectTimeout(b)

	mock.Add(RoundTripTime + time.Millisecond)

	first := c.PollExpired().Suspect
	if len(first) != 2 {
		t.Fatalf("expected both to expire, got %d", len(first))
	}

	second := c.PollExpired().Suspect
	if len(second) != 0 {
		t.Fatalf("expected no further expiries on second drain, got %d", len(second))
	}
}

func TestTimeoutCache_DrainNonBlockingBeforeExpiry(t *testing.T) {
	mock := clock.NewMock()
	c := NewTimeoutCacheWithClock(mock)
	c.CreateSuspectTimeout(MustParseAddress("127.0.0.1:7001"))

	// No time has passed: nothing should be drained.
	if got := c.PollExpired().Suspect; len(got) != 0 {
		t.Fatalf("expected no expiries before Delta elapses, got %d", len(got))
	}
}

func TestTimeoutCache_IndirectAckReturnsRequester(t *testing.T) {
	mock := clock.NewMock()
	c := NewTimeoutCacheWithClock(mock)
	suspect := MustParseAddress("127.0.0.1:7001")
	requester := MustParseAddress("127.0.0.1:7002")

	c.CreateIndirectAckTimeout(suspect, requester)
	got, ok := c.RemoveIndirectAckTimeout(suspect)
	if !ok {
		t.Fatalf("expected indirect-ack entry to be present")
	}
	if got != requester {
		t.Fatalf("expected requester %v, got %v", requester, got)
	}

	if _, ok := c.RemoveIndirectAckTimeout(suspect); ok {
		t.Fatalf("expected second remove to report absent")
	}
}
