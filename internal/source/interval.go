package source

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/reujab/ramon/internal/event"
	"github.com/reujab/ramon/internal/metrics"
)

// Sampler emits a resource sample event on a fixed interval: cpu (percent
// busy since the previous tick), mem_percent, and disk_percent of the root
// filesystem.
type Sampler struct {
	name     string
	interval time.Duration
	sink     Sink
	log      zerolog.Logger

	prevBusy  uint64
	prevTotal uint64
}

// NewSampler creates a resource sampler for the monitor.
func NewSampler(name string, interval time.Duration, sink Sink, log zerolog.Logger) *Sampler {
	return &Sampler{name: name, interval: interval, sink: sink, log: log}
}

// Name returns the owning monitor's name.
func (s *Sampler) Name() string { return s.name }

// Run samples until the context is cancelled. The first tick establishes
// the cpu baseline and emits no event.
func (s *Sampler) Run(ctx context.Context) error {
	if busy, total, err := readCPU(); err == nil {
		s.prevBusy, s.prevTotal = busy, total
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.sample(now)
		}
	}
}

func (s *Sampler) sample(now time.Time) {
	fields := make(map[string]string, 3)

	busy, total, err := readCPU()
	if err != nil {
		metrics.SourceErrors.WithLabelValues(s.name).Inc()
		s.log.Warn().Err(err).Msg("cpu sample failed")
	} else {
		if total > s.prevTotal {
			dBusy := float64(busy - s.prevBusy)
			dTotal := float64(total - s.prevTotal)
			fields["cpu"] = formatPercent(100 * dBusy / dTotal)
		}
		s.prevBusy, s.prevTotal = busy, total
	}

	if pct, err := readMemPercent(); err != nil {
		metrics.SourceErrors.WithLabelValues(s.name).Inc()
		s.log.Warn().Err(err).Msg("memory sample failed")
	} else {
		fields["mem_percent"] = formatPercent(pct)
	}

	if pct, err := readDiskPercent("/"); err != nil {
		metrics.SourceErrors.WithLabelValues(s.name).Inc()
		s.log.Warn().Err(err).Msg("disk sample failed")
	} else {
		fields["disk_percent"] = formatPercent(pct)
	}

	emit(s.sink, event.Event{
		Source: s.name,
		Kind:   event.KindSample,
		Fields: fields,
		Time:   now,
	})
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// readCPU returns aggregate busy and total jiffies from /proc/stat.
func readCPU() (busy, total uint64, err error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, fmt.Errorf("unexpected /proc/stat format")
	}
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("parse /proc/stat field %d: %w", i+1, err)
		}
		total += v
		// Fields 4 and 5 are idle and iowait.
		if i != 3 && i != 4 {
			busy += v
		}
	}
	return busy, total, nil
}

func readMemPercent() (float64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	var memTotal, memAvailable uint64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			memTotal, _ = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable:":
			memAvailable, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}
	if memTotal == 0 {
		return 0, fmt.Errorf("MemTotal missing from /proc/meminfo")
	}
	return 100 * float64(memTotal-memAvailable) / float64(memTotal), nil
}

func readDiskPercent(path string) (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	total := st.Blocks * uint64(st.Bsize)
	if total == 0 {
		return 0, fmt.Errorf("statfs %s: zero total blocks", path)
	}
	free := st.Bavail * uint64(st.Bsize)
	return 100 * float64(total-free) / float64(total), nil
}
