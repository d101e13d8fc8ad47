package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/reujab/ramon/internal/event"
	"github.com/reujab/ramon/internal/metrics"
)

// tailPollInterval is the fallback poll cadence when fsnotify misses
// writes (NFS, some container filesystems).
const tailPollInterval = 250 * time.Millisecond

// Tailer follows one log file from its current end, surviving rotation
// (rename+create) and truncation (copytruncate). Each complete line becomes
// one log_line event.
type Tailer struct {
	name string
	path string
	sink Sink
	log  zerolog.Logger

	file   *os.File
	reader *bufio.Reader
	size   int64
}

// NewTailer creates a tailer for the monitor's log file. The file does not
// have to exist yet; tailing begins when it appears.
func NewTailer(name, path string, sink Sink, log zerolog.Logger) (*Tailer, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("monitor %q: %w", name, err)
	}
	return &Tailer{name: name, path: abs, sink: sink, log: log}, nil
}

// Name returns the owning monitor's name.
func (t *Tailer) Name() string { return t.name }

// Run tails the file until the context is cancelled. Existing content is
// skipped; only lines written after startup produce events.
func (t *Tailer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("monitor %q: watcher: %w", t.name, err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: rotation replaces the inode and
	// a file-level watch would die with the old one.
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("monitor %q: watch %s: %w", t.name, filepath.Dir(t.path), err)
	}

	if err := t.openAtEnd(); err != nil {
		t.log.Warn().Str("path", t.path).Err(err).Msg("log file not available yet, waiting")
	}
	defer t.closeFile()

	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != t.path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write):
				t.readLines()
			case ev.Has(fsnotify.Create):
				t.reopen()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			metrics.SourceErrors.WithLabelValues(t.name).Inc()
			t.log.Warn().Str("path", t.path).Err(err).Msg("watch error")
		case <-ticker.C:
			t.poll()
		}
	}
}

func (t *Tailer) openAtEnd() error {
	file, err := os.Open(t.path)
	if err != nil {
		return err
	}
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return err
	}
	t.file = file
	t.reader = bufio.NewReader(file)
	t.size = size
	return nil
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
		t.reader = nil
	}
}

// reopen handles rotation: the old inode is drained implicitly by the last
// Write event, then the new file is read from the start.
func (t *Tailer) reopen() {
	t.closeFile()
	file, err := os.Open(t.path)
	if err != nil {
		metrics.SourceErrors.WithLabelValues(t.name).Inc()
		t.log.Warn().Str("path", t.path).Err(err).Msg("reopen after rotation failed")
		return
	}
	t.file = file
	t.reader = bufio.NewReader(file)
	t.size = 0
	t.log.Debug().Str("path", t.path).Msg("reopened rotated log file")
	t.readLines()
}

func (t *Tailer) poll() {
	info, err := os.Stat(t.path)
	if err != nil {
		return
	}
	if t.file == nil {
		t.reopen()
		return
	}
	switch {
	case info.Size() < t.size:
		// copytruncate rotation
		t.file.Seek(0, io.SeekStart)
		t.reader = bufio.NewReader(t.file)
		t.size = 0
		t.readLines()
	case info.Size() > t.size:
		t.readLines()
	}
}

func (t *Tailer) readLines() {
	if t.reader == nil {
		return
	}
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// Partial line: seek back so the next read sees it whole.
				if len(line) > 0 {
					t.file.Seek(-int64(len(line)), io.SeekCurrent)
					t.reader = bufio.NewReader(t.file)
				}
				return
			}
			metrics.SourceErrors.WithLabelValues(t.name).Inc()
			t.log.Warn().Str("path", t.path).Err(err).Msg("read error")
			return
		}
		t.size += int64(len(line))

		line = trimEOL(line)
		emit(t.sink, event.Event{
			Source: t.name,
			Kind:   event.KindLogLine,
			Fields: map[string]string{"line": line},
			Time:   time.Now(),
		})
	}
}

func trimEOL(line string) string {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
