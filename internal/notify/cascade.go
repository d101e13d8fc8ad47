package notify

import (
	"fmt"
	"time"

	"github.com/reujab/ramon/pkg/config"
)

// Settings are the effective notification settings for one category after
// cascade resolution.
type Settings struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	From         string
	To           []string

	// RateLimit is zero-valued when no layer sets one (unlimited).
	RateLimit config.Rate

	// Aggregate is the idle window; AggregateSet distinguishes an
	// explicit "0s" (immediate mode) from no aggregation configured
	// (also immediate, but inheritable).
	Aggregate    time.Duration
	AggregateSet bool
	// AggregateTimeout caps window extension. Zero means 6x Aggregate.
	AggregateTimeout time.Duration
	// Schedule switches the bucket to schedule mode when non-nil.
	Schedule *Schedule
}

// Immediate reports whether submissions bypass batching entirely.
func (s Settings) Immediate() bool {
	return s.Schedule == nil && s.Aggregate <= 0
}

// HardTimeout returns the effective aggregation hard deadline span.
func (s Settings) HardTimeout() time.Duration {
	if s.AggregateTimeout > 0 {
		return s.AggregateTimeout
	}
	return 6 * s.Aggregate
}

// Cascade resolves effective per-category settings from three layers:
// monitor overrides, then category settings, then the default layer. The
// first layer with a value set wins, per setting.
type Cascade struct {
	def        config.NotifySettings
	categories map[string]config.NotifySettings
	monitors   map[string]config.NotifySettings
}

// NewCascade builds a cascade from the notification config plus each
// monitor's override layer.
func NewCascade(cfg config.NotifyConfig, monitorOverrides map[string]config.NotifySettings) *Cascade {
	return &Cascade{
		def:        cfg.Default,
		categories: cfg.Categories,
		monitors:   monitorOverrides,
	}
}

// Known reports whether the category has its own layer or a default layer
// exists to fall back on. Rule compilation rejects unknown categories.
func (c *Cascade) Known(category string) bool {
	if _, ok := c.categories[category]; ok {
		return true
	}
	return !isZero(c.def)
}

func isZero(s config.NotifySettings) bool {
	return s.SMTPHost == "" && s.SMTPPort == 0 && s.SMTPUser == "" &&
		s.SMTPPassword == "" && s.From == "" && len(s.To) == 0 &&
		s.RateLimit == "" && s.Aggregate == nil &&
		s.AggregateTimeout == "" && s.Schedule == ""
}

// Resolve computes the effective settings for a category fired by a
// monitor. Literals were validated at config load, so parse errors here
// cannot occur; Resolve still propagates them rather than panic.
func (c *Cascade) Resolve(category, monitor string) (Settings, error) {
	layers := make([]config.NotifySettings, 0, 3)
	if m, ok := c.monitors[monitor]; ok {
		layers = append(layers, m)
	}
	if t, ok := c.categories[category]; ok {
		layers = append(layers, t)
	}
	layers = append(layers, c.def)

	var out Settings
	for _, layer := range layers {
		if out.SMTPHost == "" {
			out.SMTPHost = layer.SMTPHost
		}
		if out.SMTPPort == 0 {
			out.SMTPPort = layer.SMTPPort
		}
		if out.SMTPUser == "" {
			out.SMTPUser = layer.SMTPUser
		}
		if out.SMTPPassword == "" {
			out.SMTPPassword = layer.SMTPPassword
		}
		if out.From == "" {
			out.From = layer.From
		}
		if len(out.To) == 0 {
			out.To = layer.To
		}
		if out.RateLimit == (config.Rate{}) && layer.RateLimit != "" {
			rate, err := config.ParseRate(layer.RateLimit)
			if err != nil {
				return Settings{}, fmt.Errorf("category %q: %w", category, err)
			}
			out.RateLimit = rate
		}
		// Aggregation mode: the first layer that sets either aggregate
		// or schedule decides the mode for the category.
		if !out.AggregateSet && out.Schedule == nil {
			if layer.Schedule != "" {
				schedule, err := ParseSchedule(layer.Schedule)
				if err != nil {
					return Settings{}, fmt.Errorf("category %q: %w", category, err)
				}
				out.Schedule = schedule
			} else if layer.Aggregate != nil {
				aggregate, err := config.ParseDuration(*layer.Aggregate)
				if err != nil {
					return Settings{}, fmt.Errorf("category %q: %w", category, err)
				}
				out.Aggregate = aggregate
				out.AggregateSet = true
			}
		}
		if out.AggregateTimeout == 0 && layer.AggregateTimeout != "" {
			timeout, err := config.ParseDuration(layer.AggregateTimeout)
			if err != nil {
				return Settings{}, fmt.Errorf("category %q: %w", category, err)
			}
			out.AggregateTimeout = timeout
		}
	}

	return out, nil
}
