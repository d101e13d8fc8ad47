package source

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/reujab/ramon/internal/event"
	"github.com/reujab/ramon/internal/metrics"
)

// watchDebounce is how long the watcher waits after the last change before
// emitting a batch, so a burst of writes becomes one event.
const watchDebounce = 2 * time.Second

// Watcher watches a set of paths and emits one file_change event per burst
// of changes, with the changed paths in the "files" field.
type Watcher struct {
	name  string
	paths []string
	sink  Sink
	log   zerolog.Logger
}

// NewWatcher creates a file watcher for the monitor's paths.
func NewWatcher(name string, paths []string, sink Sink, log zerolog.Logger) *Watcher {
	return &Watcher{name: name, paths: paths, sink: sink, log: log}
}

// Name returns the owning monitor's name.
func (w *Watcher) Name() string { return w.name }

// Run watches until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, path := range w.paths {
		if err := watcher.Add(path); err != nil {
			metrics.SourceErrors.WithLabelValues(w.name).Inc()
			w.log.Warn().Str("path", path).Err(err).Msg("cannot watch path")
		}
	}

	changed := make(map[string]struct{})
	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			changed[ev.Name] = struct{}{}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
				fire = debounce.C
			} else {
				if !debounce.Stop() {
					<-debounce.C
				}
				debounce.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			metrics.SourceErrors.WithLabelValues(w.name).Inc()
			w.log.Warn().Err(err).Msg("watch error")
		case <-fire:
			w.emitBatch(changed)
			changed = make(map[string]struct{})
			debounce = nil
			fire = nil
		}
	}
}

func (w *Watcher) emitBatch(changed map[string]struct{}) {
	if len(changed) == 0 {
		return
	}
	files := make([]string, 0, len(changed))
	for path := range changed {
		files = append(files, path)
	}
	sort.Strings(files)

	emit(w.sink, event.Event{
		Source: w.name,
		Kind:   event.KindFileChange,
		Fields: map[string]string{
			"files": strings.Join(files, "\n"),
			"count": strconv.Itoa(len(files)),
		},
		Time: time.Now(),
	})
}
