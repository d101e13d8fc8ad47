package source

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/reujab/ramon/internal/event"
	"github.com/reujab/ramon/internal/metrics"
)

// probeTimeout bounds a single HTTP or TCP probe attempt.
const probeTimeout = 10 * time.Second

// DefaultProbeInterval is used when a probe monitor has no interval set.
const DefaultProbeInterval = 30 * time.Second

// HTTPProbe issues a GET on an interval and emits a probe event with
// status, latency_ms, and error fields.
type HTTPProbe struct {
	name     string
	url      string
	interval time.Duration
	sink     Sink
	log      zerolog.Logger
	client   *http.Client
}

// NewHTTPProbe creates an HTTP probe for the monitor.
func NewHTTPProbe(name, url string, interval time.Duration, sink Sink, log zerolog.Logger) *HTTPProbe {
	return &HTTPProbe{
		name:     name,
		url:      url,
		interval: interval,
		sink:     sink,
		log:      log,
		client:   &http.Client{Timeout: probeTimeout},
	}
}

// Name returns the owning monitor's name.
func (p *HTTPProbe) Name() string { return p.name }

// Run probes until the context is cancelled.
func (p *HTTPProbe) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			p.probe(ctx, now)
		}
	}
}

func (p *HTTPProbe) probe(ctx context.Context, now time.Time) {
	fields := map[string]string{"url": p.url}

	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.url, nil)
	if err != nil {
		fields["error"] = err.Error()
		emit(p.sink, p.event(fields, now))
		return
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		metrics.SourceErrors.WithLabelValues(p.name).Inc()
		fields["error"] = err.Error()
		emit(p.sink, p.event(fields, now))
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()

	fields["status"] = strconv.Itoa(resp.StatusCode)
	fields["latency_ms"] = strconv.FormatInt(latency.Milliseconds(), 10)
	emit(p.sink, p.event(fields, now))
}

func (p *HTTPProbe) event(fields map[string]string, now time.Time) event.Event {
	return event.Event{Source: p.name, Kind: event.KindProbe, Fields: fields, Time: now}
}

// PortProbe dials a TCP address on an interval and emits a probe event
// with open=true or open=false.
type PortProbe struct {
	name     string
	addr     string
	interval time.Duration
	sink     Sink
	log      zerolog.Logger
}

// NewPortProbe creates a TCP probe for the monitor.
func NewPortProbe(name, addr string, interval time.Duration, sink Sink, log zerolog.Logger) *PortProbe {
	return &PortProbe{name: name, addr: addr, interval: interval, sink: sink, log: log}
}

// Name returns the owning monitor's name.
func (p *PortProbe) Name() string { return p.name }

// Run probes until the context is cancelled.
func (p *PortProbe) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			p.probe(now)
		}
	}
}

func (p *PortProbe) probe(now time.Time) {
	fields := map[string]string{"addr": p.addr}

	conn, err := net.DialTimeout("tcp", p.addr, probeTimeout)
	if err != nil {
		fields["open"] = "false"
		fields["error"] = err.Error()
	} else {
		conn.Close()
		fields["open"] = "true"
	}

	emit(p.sink, event.Event{Source: p.name, Kind: event.KindProbe, Fields: fields, Time: now})
}
