// Package notify implements the notification pipeline: cascading
// per-category settings, time- and schedule-based aggregation, token-bucket
// rate limiting, and handoff to a delivery dispatcher.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Request is a single fired notification as submitted by the rule engine.
// Immutable once created.
type Request struct {
	// ID is a unique id for tracing.
	ID string
	// Category is the notification category (cascade key).
	Category string
	// Title is the fully resolved title.
	Title string
	// Monitor is the submitting monitor's name.
	Monitor string
	// Time is the submission time.
	Time time.Time
}

// NewRequest creates a request with a fresh id.
func NewRequest(category, title, monitor string, at time.Time) Request {
	return Request{
		ID:       uuid.New().String(),
		Category: category,
		Title:    title,
		Monitor:  monitor,
		Time:     at,
	}
}

// Flush is one combined outbound message produced when a bucket flushes.
type Flush struct {
	// Category is the bucket's category.
	Category string
	// Count is the number of buffered requests.
	Count int
	// Titles are the resolved titles of all buffered requests, in
	// submission order.
	Titles []string
	// First and Last bound the covered time span.
	First time.Time
	Last  time.Time
	// Settings are the resolved delivery settings for the category.
	Settings Settings
}

// Title returns the combined title: the single title for a lone request,
// or the first title plus a count for a batch.
func (f Flush) Title() string {
	if len(f.Titles) == 0 {
		return ""
	}
	if f.Count == 1 {
		return f.Titles[0]
	}
	return fmt.Sprintf("%s (+%d more)", f.Titles[0], f.Count-1)
}

// Dispatcher delivers flushed notifications. Delivery retries and backoff
// are the dispatcher's concern; the pipeline submits each flush exactly
// once and reports failures without retrying.
type Dispatcher interface {
	// Send delivers one combined notification.
	Send(ctx context.Context, flush Flush) error
	// Close releases any resources.
	Close() error
}
