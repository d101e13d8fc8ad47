package source

import (
	"bufio"
	"context"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/reujab/ramon/internal/event"
	"github.com/reujab/ramon/internal/metrics"
)

// journalRestartDelay is the backoff before restarting a dead journalctl.
const journalRestartDelay = 5 * time.Second

// Journal follows a systemd unit's journal by running
// `journalctl -n0 -f -u <unit> -o cat` and emitting each line. If the
// subprocess dies it is restarted after a short backoff.
type Journal struct {
	name string
	unit string
	sink Sink
	log  zerolog.Logger
}

// NewJournal creates a journald source for the monitor's unit.
func NewJournal(name, unit string, sink Sink, log zerolog.Logger) *Journal {
	return &Journal{name: name, unit: unit, sink: sink, log: log}
}

// Name returns the owning monitor's name.
func (j *Journal) Name() string { return j.name }

// Run follows the unit until the context is cancelled.
func (j *Journal) Run(ctx context.Context) error {
	for {
		err := j.follow(ctx)
		if ctx.Err() != nil {
			return nil
		}
		metrics.SourceErrors.WithLabelValues(j.name).Inc()
		j.log.Warn().Str("unit", j.unit).Err(err).Msg("journalctl exited, restarting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(journalRestartDelay):
		}
	}
}

func (j *Journal) follow(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "journalctl", "-n0", "-f", "-u", j.unit, "-o", "cat")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit(j.sink, event.Event{
			Source: j.name,
			Kind:   event.KindLogLine,
			Fields: map[string]string{"line": scanner.Text()},
			Time:   time.Now(),
		})
	}

	if err := cmd.Wait(); err != nil {
		return err
	}
	return scanner.Err()
}
