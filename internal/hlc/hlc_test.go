package hlc

import "testing"

func TestClockMonotonic(t *testing.T) {
	c := NewClock()
	tick := int64(1000)
	c.now = func() int64 { return tick }

	a := c.Now()
	b := c.Now()
	if !a.Less(b) {
		t.Errorf("expected a < b for same wall clock reading, got a=%s b=%s", a, b)
	}

	tick = 2000
	d := c.Now()
	if !b.Less(d) {
		t.Errorf("expected b < d after wall clock advanced, got b=%s d=%s", b, d)
	}
}

func TestClockUpdateAdvancesFutureNow(t *testing.T) {
	c := NewClock()
	tick := int64(1000)
	c.now = func() int64 { return tick }

	future := Timestamp{wall: 5000, counter: 7}
	c.Update(future)

	next := c.Now()
	if !future.Less(next) {
		t.Errorf("expected Now() after Update to exceed observed timestamp, got %s <= %s", next, future)
	}
}

func TestTimestampStringOrderMatchesCompare(t *testing.T) {
	a := Timestamp{wall: 100, counter: 1}
	b := Timestamp{wall: 100, counter: 2}
	c := Timestamp{wall: 101, counter: 0}

	if !(a.String() < b.String()) {
		t.Errorf("expected %s < %s lexicographically", a, b)
	}
	if !(b.String() < c.String()) {
		t.Errorf("expected %s < %s lexicographically", b, c)
	}
}

func TestParseRoundTrip(t *testing.T) {
	c := NewClock()
	ts := c.Now()
	parsed, err := Parse(ts.String())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Compare(ts) != 0 {
		t.Errorf("round trip mismatch: got %s, want %s", parsed, ts)
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse("not-a-timestamp"); err == nil {
		t.Error("expected error parsing malformed timestamp")
	}
}

func TestTieBreakNewerWriteWins(t *testing.T) {
	// An LWW tie (equal HLCs) must resolve in favor of the newly-arriving
	// write, per the tie-break rule in the testable properties.
	h1 := MustParse(Timestamp{wall: 42, counter: 3}.String())
	h2 := h1
	incomingWins := h2.Compare(h1) >= 0
	if !incomingWins {
		t.Error("expected equal incoming HLC to win the tie")
	}
}
