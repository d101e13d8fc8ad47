package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/reujab/ramon/internal/sched"
)

// fixedResolver returns the same settings for every category.
type fixedResolver struct {
	settings Settings
}

func (r fixedResolver) Resolve(category, monitor string) (Settings, error) {
	return r.settings, nil
}

// captureDispatcher records delivered flushes.
type captureDispatcher struct {
	mu      sync.Mutex
	flushes []Flush
	times   []time.Time
}

func (d *captureDispatcher) Send(_ context.Context, f Flush) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushes = append(d.flushes, f)
	d.times = append(d.times, time.Now())
	return nil
}

func (d *captureDispatcher) Close() error { return nil }

func (d *captureDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.flushes)
}

func (d *captureDispatcher) waitFor(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d flushes, have %d", n, d.count())
}

func newTestAggregator(t *testing.T, settings Settings) (*Aggregator, *captureDispatcher) {
	t.Helper()
	scheduler := sched.New()
	t.Cleanup(scheduler.Stop)
	dispatcher := &captureDispatcher{}
	agg := NewAggregator(fixedResolver{settings}, scheduler, dispatcher, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		agg.Shutdown(ctx)
	})
	return agg, dispatcher
}

func submitN(agg *Aggregator, category string, n int) {
	for i := 0; i < n; i++ {
		agg.Submit(NewRequest(category, "title", "mon", time.Now()))
	}
}

func TestImmediateModeFlushesEverySubmit(t *testing.T) {
	agg, dispatcher := newTestAggregator(t, Settings{AggregateSet: true})

	submitN(agg, "critical", 3)
	dispatcher.waitFor(t, 3, time.Second)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	for _, f := range dispatcher.flushes {
		if f.Count != 1 {
			t.Errorf("immediate flush Count = %d, want 1", f.Count)
		}
	}
}

func TestWindowModeCombinesIdleGap(t *testing.T) {
	agg, dispatcher := newTestAggregator(t, Settings{
		Aggregate:        80 * time.Millisecond,
		AggregateSet:     true,
		AggregateTimeout: time.Second,
	})

	submitN(agg, "error", 3)

	// Nothing flushes before the idle window elapses.
	time.Sleep(30 * time.Millisecond)
	if got := dispatcher.count(); got != 0 {
		t.Fatalf("flushed %d before window elapsed", got)
	}

	dispatcher.waitFor(t, 1, time.Second)
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.flushes) != 1 {
		t.Fatalf("flushes = %d, want 1", len(dispatcher.flushes))
	}
	f := dispatcher.flushes[0]
	if f.Count != 3 || len(f.Titles) != 3 {
		t.Errorf("combined flush Count = %d Titles = %d, want 3", f.Count, len(f.Titles))
	}
}

func TestWindowModeHardDeadlineCapsExtension(t *testing.T) {
	agg, dispatcher := newTestAggregator(t, Settings{
		Aggregate:        60 * time.Millisecond,
		AggregateSet:     true,
		AggregateTimeout: 250 * time.Millisecond,
	})

	// Keep submitting every 30ms so the idle window never elapses; the
	// hard deadline must force a single combined flush.
	start := time.Now()
	stop := make(chan struct{})
	var submitted int
	go func() {
		defer close(stop)
		ticker := time.NewTicker(30 * time.Millisecond)
		defer ticker.Stop()
		for time.Since(start) < 400*time.Millisecond {
			<-ticker.C
			agg.Submit(NewRequest("error", "title", "mon", time.Now()))
			submitted++
		}
	}()

	dispatcher.waitFor(t, 1, 2*time.Second)
	elapsed := time.Since(start)
	if elapsed < 200*time.Millisecond {
		t.Errorf("flush after %v, want ~250ms hard deadline", elapsed)
	}

	<-stop
	dispatcher.mu.Lock()
	first := dispatcher.flushes[0]
	dispatcher.mu.Unlock()
	if first.Count < 5 {
		t.Errorf("hard-deadline flush combined %d requests, want the full burst", first.Count)
	}
}

func TestWindowModeSeparateBucketsPerCategory(t *testing.T) {
	agg, dispatcher := newTestAggregator(t, Settings{
		Aggregate:        50 * time.Millisecond,
		AggregateSet:     true,
		AggregateTimeout: time.Second,
	})

	submitN(agg, "error", 2)
	submitN(agg, "warn", 1)

	if got := agg.Pending(); got != 2 {
		t.Errorf("Pending = %d, want 2 buckets", got)
	}

	dispatcher.waitFor(t, 2, time.Second)
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	counts := map[string]int{}
	for _, f := range dispatcher.flushes {
		counts[f.Category] = f.Count
	}
	if counts["error"] != 2 || counts["warn"] != 1 {
		t.Errorf("per-category counts = %v", counts)
	}
}

func TestScheduleModeDeadlineDoesNotExtend(t *testing.T) {
	schedule, err := ParseSchedule("* * 8:00AM")
	if err != nil {
		t.Fatal(err)
	}
	agg, dispatcher := newTestAggregator(t, Settings{Schedule: schedule})

	submitN(agg, "digest", 1)

	agg.mu.Lock()
	b := agg.buckets["digest"]
	firstDeadline := b.windowDeadline
	firstTimer := b.timer
	agg.mu.Unlock()

	if firstDeadline.Hour() != 8 || firstDeadline.Minute() != 0 {
		t.Errorf("schedule deadline = %v, want next 8:00AM", firstDeadline)
	}

	submitN(agg, "digest", 2)

	agg.mu.Lock()
	b = agg.buckets["digest"]
	if !b.windowDeadline.Equal(firstDeadline) || b.timer != firstTimer {
		t.Error("schedule-mode deadline moved on subsequent submits")
	}
	if len(b.reqs) != 3 {
		t.Errorf("bucket holds %d requests, want 3", len(b.reqs))
	}
	agg.mu.Unlock()

	if dispatcher.count() != 0 {
		t.Error("schedule bucket flushed before its occurrence")
	}
}

func TestShutdownFlushesOpenBuckets(t *testing.T) {
	scheduler := sched.New()
	defer scheduler.Stop()
	dispatcher := &captureDispatcher{}
	agg := NewAggregator(fixedResolver{Settings{
		Aggregate:        time.Hour,
		AggregateSet:     true,
		AggregateTimeout: 2 * time.Hour,
	}}, scheduler, dispatcher, zerolog.Nop())

	submitN(agg, "error", 4)
	if dispatcher.count() != 0 {
		t.Fatal("nothing should flush before shutdown")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	agg.Shutdown(ctx)

	if got := dispatcher.count(); got != 1 {
		t.Fatalf("flushes after shutdown = %d, want 1", got)
	}
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if dispatcher.flushes[0].Count != 4 {
		t.Errorf("shutdown flush Count = %d, want 4", dispatcher.flushes[0].Count)
	}
}

func TestFlushTitle(t *testing.T) {
	single := Flush{Count: 1, Titles: []string{"disk full on web1"}}
	if got := single.Title(); got != "disk full on web1" {
		t.Errorf("single Title = %q", got)
	}

	batch := Flush{Count: 3, Titles: []string{"disk full on web1", "a", "b"}}
	if got := batch.Title(); got != "disk full on web1 (+2 more)" {
		t.Errorf("batch Title = %q", got)
	}
}
