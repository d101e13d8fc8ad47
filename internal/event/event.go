// Package event defines the events that flow from sources into the rule
// engine and the per-evaluation match context derived from them.
package event

import "time"

// Kind identifies what produced an event.
type Kind string

const (
	// KindLogLine is a line read from a tailed log file or journald unit.
	KindLogLine Kind = "log_line"
	// KindSample is a periodic resource sample (cpu, memory, disk).
	KindSample Kind = "sample"
	// KindFileChange is a batch of changed paths from a file watcher.
	KindFileChange Kind = "file_change"
	// KindProbe is an HTTP or TCP probe result.
	KindProbe Kind = "probe"
	// KindTick is an interval tick with no attached data.
	KindTick Kind = "tick"
)

// Event is a single observation delivered to the rule engine. Events are
// immutable once produced; sources must not retain or modify the Fields map
// after delivery.
type Event struct {
	// Source identifies the producing source (monitor name or source id).
	Source string
	// Kind is the event kind.
	Kind Kind
	// Fields carries the event payload as flat string key/values
	// (e.g. "line", "cpu", "status", "files").
	Fields map[string]string
	// Time is when the event was observed.
	Time time.Time
}

// Field returns the named field and whether it is present.
func (e Event) Field(name string) (string, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// MatchContext is the per-evaluation mapping of captured and ambient fields.
// It is built once per rule evaluation from one event and discarded after
// the monitor's action blocks have run.
type MatchContext struct {
	fields map[string]string
}

// NewMatchContext creates a context seeded with the event's fields.
func NewMatchContext(ev Event) *MatchContext {
	fields := make(map[string]string, len(ev.Fields)+4)
	for k, v := range ev.Fields {
		fields[k] = v
	}
	return &MatchContext{fields: fields}
}

// Set adds or overwrites a field. Pattern captures overwrite event fields of
// the same name; ambient fields are set last by the engine.
func (c *MatchContext) Set(name, value string) {
	c.fields[name] = value
}

// Get returns the named field and whether it is present.
func (c *MatchContext) Get(name string) (string, bool) {
	v, ok := c.fields[name]
	return v, ok
}

// Fields returns the underlying field map. The caller must treat it as
// read-only.
func (c *MatchContext) Fields() map[string]string {
	return c.fields
}
