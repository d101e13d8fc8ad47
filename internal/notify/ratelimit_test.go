package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/reujab/ramon/pkg/config"
)

// collector records flushes with their arrival times.
type collector struct {
	mu      sync.Mutex
	flushes []Flush
	times   []time.Time
}

func (c *collector) send(f Flush) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes = append(c.flushes, f)
	c.times = append(c.times, time.Now())
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flushes)
}

func (c *collector) waitFor(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d flushes, have %d", n, c.count())
}

func flushN(n int) Flush {
	return Flush{Category: "test", Count: n, Titles: []string{"t"}}
}

func TestGateBurstThenRegeneration(t *testing.T) {
	c := &collector{}
	// 4 per second: burst of 4 immediate, 5th after ~250ms.
	g := NewGate("test", config.Rate{Count: 4, Per: time.Second}, c.send, zerolog.Nop())
	defer g.Drain(context.Background())

	start := time.Now()
	for i := 0; i < 5; i++ {
		g.Submit(flushN(1))
	}

	c.waitFor(t, 4, time.Second)
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("first 4 flushes took %v, want immediate", elapsed)
	}

	c.waitFor(t, 5, 2*time.Second)
	c.mu.Lock()
	fifth := c.times[4].Sub(start)
	c.mu.Unlock()
	if fifth < 150*time.Millisecond {
		t.Errorf("5th flush released after %v, want ~250ms", fifth)
	}
	if got := g.Sent(); got != 5 {
		t.Errorf("Sent = %d, want 5", got)
	}
}

func TestGateNeverDropsAndPreservesOrder(t *testing.T) {
	c := &collector{}
	g := NewGate("test", config.Rate{Count: 2, Per: 100 * time.Millisecond}, c.send, zerolog.Nop())
	defer g.Drain(context.Background())

	const total = 10
	for i := 0; i < total; i++ {
		g.Submit(Flush{Category: "test", Count: i + 1})
	}

	c.waitFor(t, total, 5*time.Second)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, f := range c.flushes {
		if f.Count != i+1 {
			t.Fatalf("flush %d has Count %d, want %d (FIFO order broken)", i, f.Count, i+1)
		}
	}
}

func TestGateUnlimitedPassesThrough(t *testing.T) {
	c := &collector{}
	g := NewGate("test", config.Rate{}, c.send, zerolog.Nop())
	defer g.Drain(context.Background())

	for i := 0; i < 100; i++ {
		g.Submit(flushN(1))
	}
	c.waitFor(t, 100, time.Second)
}

func TestGateDrainDeliversQueued(t *testing.T) {
	c := &collector{}
	g := NewGate("test", config.Rate{Count: 5, Per: 50 * time.Millisecond}, c.send, zerolog.Nop())

	for i := 0; i < 8; i++ {
		g.Submit(flushN(1))
	}
	g.Drain(context.Background())

	if got := c.count(); got != 8 {
		t.Errorf("flushes after drain = %d, want 8", got)
	}
}

func TestGateDrainGraceExpiry(t *testing.T) {
	c := &collector{}
	// One token per minute: the queue cannot drain within the grace.
	g := NewGate("test", config.Rate{Count: 1, Per: time.Minute}, c.send, zerolog.Nop())

	for i := 0; i < 3; i++ {
		g.Submit(flushN(1))
	}
	c.waitFor(t, 1, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	g.Drain(ctx)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Drain took %v, want bounded by the 100ms grace", elapsed)
	}
	if got := c.count(); got >= 3 {
		t.Errorf("flushes = %d, expected some abandoned at grace expiry", got)
	}
}
