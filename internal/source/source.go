// Package source implements the event sources that feed the rule engine:
// file tailing, journald units, resource sampling, path watching, and
// HTTP/TCP probes. Each source belongs to exactly one monitor and emits
// events under that monitor's name.
package source

import (
	"context"

	"github.com/reujab/ramon/internal/event"
	"github.com/reujab/ramon/internal/metrics"
)

// Sink receives events from sources. Satisfied by *rules.Engine.
type Sink interface {
	OnEvent(ev event.Event)
}

// Source produces events until its context is cancelled. Run returns nil
// on cancellation and an error only when the source cannot continue.
type Source interface {
	// Name is the owning monitor's name.
	Name() string
	Run(ctx context.Context) error
}

func emit(sink Sink, ev event.Event) {
	metrics.SourceEvents.WithLabelValues(ev.Source).Inc()
	sink.OnEvent(ev)
}
