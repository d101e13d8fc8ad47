package source

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/reujab/ramon/pkg/config"
)

// Build constructs the event source a monitor's config names. Config
// validation has already ensured exactly one source key is set.
func Build(name string, cfg *config.MonitorConfig, sink Sink, log zerolog.Logger) (Source, error) {
	switch {
	case cfg.Log != "":
		return NewTailer(name, cfg.Log, sink, log)
	case cfg.Service != "":
		return NewJournal(name, cfg.Service, sink, log), nil
	case cfg.Every != "":
		interval, err := config.ParseDuration(cfg.Every)
		if err != nil {
			return nil, fmt.Errorf("monitor %q: %w", name, err)
		}
		return NewSampler(name, interval, sink, log), nil
	case len(cfg.Watch) > 0:
		return NewWatcher(name, cfg.Watch, sink, log), nil
	case cfg.HTTP != "":
		interval, err := probeInterval(cfg)
		if err != nil {
			return nil, fmt.Errorf("monitor %q: %w", name, err)
		}
		return NewHTTPProbe(name, cfg.HTTP, interval, sink, log), nil
	case cfg.Port != "":
		interval, err := probeInterval(cfg)
		if err != nil {
			return nil, fmt.Errorf("monitor %q: %w", name, err)
		}
		return NewPortProbe(name, cfg.Port, interval, sink, log), nil
	}
	return nil, fmt.Errorf("monitor %q: no event source configured", name)
}

func probeInterval(cfg *config.MonitorConfig) (time.Duration, error) {
	if cfg.Interval == "" {
		return DefaultProbeInterval, nil
	}
	return config.ParseDuration(cfg.Interval)
}
