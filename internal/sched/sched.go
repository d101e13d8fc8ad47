// Package sched provides a single-loop, deadline-ordered scheduler. All
// pending deadlines in the process (aggregation flushes, duration timers)
// share one timer and one goroutine instead of one timer each.
package sched

import (
	"container/heap"
	"sync"
	"time"
)

// ID identifies a scheduled deadline for cancellation.
type ID uint64

type item struct {
	at       time.Time
	id       ID
	fn       func()
	canceled bool
	index    int
}

type deadlineHeap []*item

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Scheduler runs callbacks at their deadlines from a single goroutine.
// Callbacks must return quickly; long work belongs in the callback's own
// goroutine.
type Scheduler struct {
	mu      sync.Mutex
	heap    deadlineHeap
	items   map[ID]*item
	nextID  ID
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

// New creates a scheduler and starts its timer loop.
func New() *Scheduler {
	s := &Scheduler{
		items: make(map[ID]*item),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Schedule registers fn to run at the given time. A deadline in the past
// runs as soon as the loop notices it.
func (s *Scheduler) Schedule(at time.Time, fn func()) ID {
	s.mu.Lock()
	s.nextID++
	it := &item{at: at, id: s.nextID, fn: fn}
	s.items[it.id] = it
	heap.Push(&s.heap, it)
	earliest := s.heap[0] == it
	s.mu.Unlock()

	if earliest {
		s.notify()
	}
	return it.id
}

// Cancel removes a pending deadline. Returns false if it already fired or
// was already canceled.
func (s *Scheduler) Cancel(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok || it.canceled {
		return false
	}
	it.canceled = true
	delete(s.items, id)
	heap.Remove(&s.heap, it.index)
	return true
}

// Pending returns the number of deadlines not yet fired.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Stop halts the timer loop. Pending deadlines do not fire.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.done)
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		var due []*item

		s.mu.Lock()
		now := time.Now()
		for len(s.heap) > 0 && !s.heap[0].at.After(now) {
			it := heap.Pop(&s.heap).(*item)
			delete(s.items, it.id)
			due = append(due, it)
		}
		var wait time.Duration = -1
		if len(s.heap) > 0 {
			wait = s.heap[0].at.Sub(now)
		}
		s.mu.Unlock()

		for _, it := range due {
			it.fn()
		}
		if len(due) > 0 {
			// Re-check the heap before sleeping; callbacks may have
			// scheduled new deadlines.
			continue
		}

		if wait >= 0 {
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-s.wake:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			case <-s.done:
				timer.Stop()
				return
			}
		} else {
			select {
			case <-s.wake:
			case <-s.done:
				return
			}
		}
	}
}
