package testutil

import (
	"strconv"
	"sync"
	"time"

	"clipsave/internal/autosave"
)

// CaptureTime is the capture instant FixedClock reports. Files saved at it
// are named "20240115_103000_250_<name>".
var CaptureTime = time.Date(2024, 1, 15, 10, 30, 0, 250*int(time.Millisecond), time.UTC)

// StubClock is a manually driven autosave.Clock. When a step is set, every
// Now call moves the clock forward by it afterwards.
type StubClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

var _ autosave.Clock = (*StubClock)(nil)

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock stopped at CaptureTime.
func FixedClock() *StubClock {
	return NewStubClock(CaptureTime)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Tick makes each subsequent Now call advance the clock by d.
func (c *StubClock) Tick(d time.Duration) {
	c.mu.Lock()
	c.step = d
	c.mu.Unlock()
}

// StubIDGenerator hands out "id-1", "id-2", ... so ticket and history ids
// are predictable in assertions.
type StubIDGenerator struct {
	mu   sync.Mutex
	next int
}

var _ autosave.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return "id-" + strconv.Itoa(g.next)
}

// Issued is how many ids have been handed out.
func (g *StubIDGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next
}
