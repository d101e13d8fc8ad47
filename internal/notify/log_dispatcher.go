package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogDispatcher writes flushed notifications to the log instead of
// delivering them. Used when no SMTP transport is configured and for dry
// runs.
type LogDispatcher struct {
	log zerolog.Logger
}

// NewLogDispatcher creates a log-only dispatcher.
func NewLogDispatcher(log zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

// Send logs the combined notification.
func (d *LogDispatcher) Send(_ context.Context, f Flush) error {
	d.log.Info().
		Str("category", f.Category).
		Int("count", f.Count).
		Strs("titles", f.Titles).
		Msg(f.Title())
	return nil
}

// Close is a no-op.
func (d *LogDispatcher) Close() error {
	return nil
}
