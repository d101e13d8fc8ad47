package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/reujab/ramon/pkg/config"
)

// Gate is the per-category rate-limit stage between aggregation and
// delivery. Tokens refill continuously at one per Rate.Interval, capped at
// Rate.Count. A flush with no token available is queued FIFO and released
// when a token regenerates; flushes are never dropped.
type Gate struct {
	category string
	limiter  *rate.Limiter // nil disables limiting
	send     func(Flush)
	log      zerolog.Logger

	mu      sync.Mutex
	queue   []Flush
	closing bool

	wake    chan struct{}
	drained chan struct{}
	cancel  context.CancelFunc
	ctx     context.Context

	sent   atomic.Int64
	queued atomic.Int64
}

// NewGate creates a gate and starts its release worker. The send callback
// runs on the worker goroutine, never on the submitting goroutine.
func NewGate(category string, r config.Rate, send func(Flush), log zerolog.Logger) *Gate {
	var limiter *rate.Limiter
	if r.Count > 0 {
		limiter = rate.NewLimiter(rate.Every(r.Interval()), r.Count)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gate{
		category: category,
		limiter:  limiter,
		send:     send,
		log:      log,
		wake:     make(chan struct{}, 1),
		drained:  make(chan struct{}),
		cancel:   cancel,
		ctx:      ctx,
	}
	go g.run()
	return g
}

// Submit enqueues a flush for rate-limited delivery.
func (g *Gate) Submit(f Flush) {
	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		g.log.Warn().Str("category", g.category).Msg("gate closing, notification not accepted")
		return
	}
	g.queue = append(g.queue, f)
	g.queued.Add(1)
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// QueueLen returns the number of flushes waiting for a token.
func (g *Gate) QueueLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Sent returns the number of flushes released downstream.
func (g *Gate) Sent() int64 {
	return g.sent.Load()
}

// Drain stops accepting new flushes and waits for the queue to empty,
// bounded by ctx. When ctx expires first, the remaining flushes are
// abandoned and their count logged.
func (g *Gate) Drain(ctx context.Context) {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}

	select {
	case <-g.drained:
	case <-ctx.Done():
		g.cancel()
		<-g.drained
		g.mu.Lock()
		remaining := len(g.queue)
		g.mu.Unlock()
		if remaining > 0 {
			g.log.Warn().Str("category", g.category).Int("remaining", remaining).
				Msg("shutdown grace expired with notifications still queued")
		}
	}
}

func (g *Gate) run() {
	defer close(g.drained)

	for {
		g.mu.Lock()
		if len(g.queue) == 0 {
			closing := g.closing
			g.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-g.wake:
				continue
			case <-g.ctx.Done():
				return
			}
		}
		f := g.queue[0]
		g.queue = g.queue[1:]
		g.mu.Unlock()

		if g.limiter != nil {
			if err := g.limiter.Wait(g.ctx); err != nil {
				// Forced stop mid-wait; put the flush back so Drain
				// can report it.
				g.mu.Lock()
				g.queue = append([]Flush{f}, g.queue...)
				g.mu.Unlock()
				return
			}
		}
		g.send(f)
		g.sent.Add(1)
	}
}
