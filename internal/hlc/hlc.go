// Package hlc implements a process-wide Hybrid Logical Clock.
//
// A single Clock is shared by every engine instance in the process so that
// causal ordering holds even across databases opened independently — see
// the "Global HLC singleton" design note.
package hlc

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Timestamp is an opaque, totally ordered HLC value. Two timestamps compare
// equal, less, or greater exactly as their String() forms do under
// lexicographic byte order, so callers may sort or compare raw strings
// stored in a column without ever constructing a Timestamp.
type Timestamp struct {
	wall    int64 // milliseconds since epoch
	counter uint32
}

// wallWidth/counterWidth are chosen so that the zero-padded decimal
// encoding sorts identically to temporal order: 20 digits hold any
// non-negative int64 millisecond reading, and 10 digits any uint32 counter.
const (
	wallWidth    = 20
	counterWidth = 10
)

// String renders the timestamp as its opaque wire form.
func (t Timestamp) String() string {
	return fmt.Sprintf("%0*d%0*d", wallWidth, t.wall, counterWidth, t.counter)
}

// IsZero reports whether t is the unset zero value.
func (t Timestamp) IsZero() bool {
	return t.wall == 0 && t.counter == 0
}

// Compare returns -1, 0, or 1 as t is less than, equal to, or greater than
// other, matching lexicographic order of their String() forms.
func (t Timestamp) Compare(other Timestamp) int {
	if t.wall != other.wall {
		if t.wall < other.wall {
			return -1
		}
		return 1
	}
	if t.counter != other.counter {
		if t.counter < other.counter {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether t happened strictly before other.
func (t Timestamp) Less(other Timestamp) bool { return t.Compare(other) < 0 }

// Parse decodes a timestamp previously produced by String(). It is used
// when reading an HLC value back out of a `c__hlc` or `system_version`
// column.
func Parse(s string) (Timestamp, error) {
	if len(s) != wallWidth+counterWidth {
		return Timestamp{}, fmt.Errorf("hlc: malformed timestamp %q", s)
	}
	var wall int64
	var counter uint32
	if _, err := fmt.Sscanf(s[:wallWidth], "%d", &wall); err != nil {
		return Timestamp{}, fmt.Errorf("hlc: malformed wall component of %q: %w", s, err)
	}
	if _, err := fmt.Sscanf(s[wallWidth:], "%d", &counter); err != nil {
		return Timestamp{}, fmt.Errorf("hlc: malformed counter component of %q: %w", s, err)
	}
	return Timestamp{wall: wall, counter: counter}, nil
}

// MustParse is like Parse but panics on malformed input; useful in tests
// and in code paths where the value is known to have come from String().
func MustParse(s string) Timestamp {
	ts, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return ts
}

// Compare compares two opaque wire-form strings without needing the caller
// to Parse either one, matching the "byte-wise comparison equals causal
// order" contract.
func Compare(a, b string) int {
	return strings.Compare(a, b)
}

// Clock produces monotonically advancing Timestamps.
type Clock struct {
	mu   sync.Mutex
	last Timestamp
	now  func() int64 // milliseconds since epoch; overridable for tests
}

// NewClock constructs an independent clock. Most callers should use the
// process-wide singleton via Now/Update instead; NewClock exists for tests
// that need isolation from global state.
func NewClock() *Clock {
	return &Clock{now: func() int64 { return time.Now().UnixMilli() }}
}

// Now produces a Timestamp strictly greater than every Timestamp this
// Clock has previously produced or observed via Update.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now()
	if wall <= c.last.wall {
		wall = c.last.wall
		c.last.counter++
	} else {
		c.last.counter = 0
	}
	c.last.wall = wall
	return c.last
}

// Update folds an externally observed Timestamp into the clock so that
// subsequent Now() calls remain strictly greater than it. Used when the
// engine ingests a server-applied HLC (applyServerUpdate) that may be
// ahead of the local clock.
func (c *Clock) Update(observed Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if observed.Compare(c.last) > 0 {
		c.last = observed
	}
}

var (
	singletonOnce sync.Once
	singleton     *Clock
)

func process() *Clock {
	singletonOnce.Do(func() {
		singleton = NewClock()
	})
	return singleton
}

// Now produces the next Timestamp from the process-wide clock. All engine
// instances in the process share this clock.
func Now() Timestamp { return process().Now() }

// Update folds an externally observed Timestamp into the process-wide
// clock. See Clock.Update.
func Update(observed Timestamp) { process().Update(observed) }
