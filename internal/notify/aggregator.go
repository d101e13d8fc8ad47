package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reujab/ramon/internal/metrics"
	"github.com/reujab/ramon/internal/sched"
)

// sendTimeout bounds a single dispatcher delivery.
const sendTimeout = 30 * time.Second

// Aggregator buffers submitted notifications into per-category buckets and
// flushes combined messages through the rate-limit gate to the dispatcher.
//
// A category runs in one of three modes, decided by its resolved settings:
// immediate (no batching), window (flush after an idle gap, capped by a
// hard deadline), or schedule (flush at the next wall-clock occurrence).
// SettingsResolver yields the effective settings for a category fired by a
// monitor. *Cascade is the production implementation.
type SettingsResolver interface {
	Resolve(category, monitor string) (Settings, error)
}

type Aggregator struct {
	cascade    SettingsResolver
	scheduler  *sched.Scheduler
	dispatcher Dispatcher
	log        zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	gates   map[string]*Gate
}

// bucket is the pending state for one category.
type bucket struct {
	settings       Settings
	reqs           []Request
	first          time.Time
	last           time.Time
	windowDeadline time.Time
	hardDeadline   time.Time
	timer          sched.ID
}

// NewAggregator creates an aggregator. The scheduler drives all flush
// deadlines; the dispatcher receives combined messages on gate workers.
func NewAggregator(cascade SettingsResolver, scheduler *sched.Scheduler, dispatcher Dispatcher, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		cascade:    cascade,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
		gates:      make(map[string]*Gate),
	}
}

// Submit accepts one fired notification. Safe for concurrent use; never
// blocks on delivery.
func (a *Aggregator) Submit(req Request) {
	settings, err := a.cascade.Resolve(req.Category, req.Monitor)
	if err != nil {
		a.log.Error().Err(err).Str("category", req.Category).Msg("failed to resolve notification settings")
		return
	}

	metrics.NotificationsSubmitted.WithLabelValues(req.Category).Inc()

	if settings.Immediate() {
		a.gate(req.Category, settings).Submit(Flush{
			Category: req.Category,
			Count:    1,
			Titles:   []string{req.Title},
			First:    req.Time,
			Last:     req.Time,
			Settings: settings,
		})
		return
	}

	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	b, open := a.buckets[req.Category]
	if !open {
		b = &bucket{settings: settings, first: req.Time}
		a.buckets[req.Category] = b
		if settings.Schedule != nil {
			b.windowDeadline = settings.Schedule.Next(now)
		} else {
			b.hardDeadline = now.Add(settings.HardTimeout())
			b.windowDeadline = minTime(now.Add(settings.Aggregate), b.hardDeadline)
		}
		b.timer = a.scheduler.Schedule(b.windowDeadline, a.flusher(req.Category))
	} else if settings.Schedule == nil {
		// Each submission extends the idle window, up to the hard
		// deadline. Schedule-mode buckets never move their deadline.
		deadline := minTime(now.Add(b.settings.Aggregate), b.hardDeadline)
		if !deadline.Equal(b.windowDeadline) {
			b.windowDeadline = deadline
			a.scheduler.Cancel(b.timer)
			b.timer = a.scheduler.Schedule(b.windowDeadline, a.flusher(req.Category))
		}
	}

	b.reqs = append(b.reqs, req)
	b.last = req.Time
}

// flusher returns the scheduler callback that flushes a category.
func (a *Aggregator) flusher(category string) func() {
	return func() { a.flush(category) }
}

// flush closes the category's bucket and hands the combined message to the
// rate-limit gate. Each bucket reaches the dispatcher exactly once.
func (a *Aggregator) flush(category string) {
	a.mu.Lock()
	b, ok := a.buckets[category]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.buckets, category)
	a.mu.Unlock()

	titles := make([]string, len(b.reqs))
	for i, req := range b.reqs {
		titles[i] = req.Title
	}

	metrics.NotificationsFlushed.WithLabelValues(category).Inc()
	a.gate(category, b.settings).Submit(Flush{
		Category: category,
		Count:    len(b.reqs),
		Titles:   titles,
		First:    b.first,
		Last:     b.last,
		Settings: b.settings,
	})
}

// gate returns the category's rate-limit gate, creating it on first use.
func (a *Aggregator) gate(category string, settings Settings) *Gate {
	a.mu.Lock()
	defer a.mu.Unlock()

	if g, ok := a.gates[category]; ok {
		return g
	}
	g := NewGate(category, settings.RateLimit, a.dispatch, a.log)
	a.gates[category] = g
	return g
}

// dispatch delivers one flush. Runs on a gate worker goroutine. Failures
// are logged and counted, never retried here.
func (a *Aggregator) dispatch(f Flush) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := a.dispatcher.Send(ctx, f); err != nil {
		metrics.NotificationsFailed.WithLabelValues(f.Category).Inc()
		a.log.Error().Err(err).Str("category", f.Category).Int("count", f.Count).
			Msg("dispatcher send failed")
		return
	}
	metrics.NotificationsSent.WithLabelValues(f.Category).Inc()
}

// Pending returns the number of open buckets.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}

// Shutdown flushes every open bucket and drains the rate-limit queues,
// bounded by ctx.
func (a *Aggregator) Shutdown(ctx context.Context) {
	a.mu.Lock()
	categories := make([]string, 0, len(a.buckets))
	for category, b := range a.buckets {
		a.scheduler.Cancel(b.timer)
		categories = append(categories, category)
	}
	gates := make([]*Gate, 0, len(a.gates))
	for _, g := range a.gates {
		gates = append(gates, g)
	}
	a.mu.Unlock()

	for _, category := range categories {
		a.flush(category)
	}
	for _, g := range gates {
		g.Drain(ctx)
	}
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
