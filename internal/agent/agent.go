// Package agent assembles the full monitoring pipeline from a parsed
// configuration: variable store, notification cascade, rule engine, event
// sources, and the metrics endpoint.
package agent

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/reujab/ramon/internal/logging"
	"github.com/reujab/ramon/internal/metrics"
	"github.com/reujab/ramon/internal/notify"
	"github.com/reujab/ramon/internal/rules"
	"github.com/reujab/ramon/internal/sched"
	"github.com/reujab/ramon/internal/source"
	"github.com/reujab/ramon/internal/storage"
	"github.com/reujab/ramon/internal/vars"
	"github.com/reujab/ramon/pkg/config"
)

// shutdownGrace bounds how long shutdown waits for pending notifications
// to flush and drain through the rate gates.
const shutdownGrace = 30 * time.Second

// Agent owns every long-lived component of a running ramon instance.
type Agent struct {
	cfg *config.Config
	log zerolog.Logger

	db         *storage.SQLiteStore
	store      *vars.Store
	scheduler  *sched.Scheduler
	dispatcher notify.Dispatcher
	aggregator *notify.Aggregator
	engine     *rules.Engine
	sources    []source.Source
	metricsSrv *metrics.Server
}

// New wires the pipeline from a validated configuration. All config
// cross-reference errors (unknown variables, unknown categories, bad
// patterns) surface here, before any source starts.
func New(cfg *config.Config, log zerolog.Logger) (*Agent, error) {
	a := &Agent{cfg: cfg, log: log}

	if hasPersistentVars(cfg) {
		a.db = storage.NewSQLiteStore(cfg.StateFile)
		if err := a.db.Open(); err != nil {
			return nil, fmt.Errorf("open state file %s: %w", cfg.StateFile, err)
		}
	}

	var persist vars.Persistence
	if a.db != nil {
		persist = a.db
	}
	store, loadErrs := vars.New(varDefs(cfg), persist, logging.WithComponent(log, "vars"))
	for _, err := range loadErrs {
		log.Warn().Err(err).Msg("variable load problem")
	}
	a.store = store

	overrides := make(map[string]config.NotifySettings, len(cfg.Monitors))
	for name, mcfg := range cfg.Monitors {
		overrides[name] = mcfg.NotifyOverrides
	}
	if err := validateSchedules(cfg); err != nil {
		return nil, err
	}
	cascade := notify.NewCascade(cfg.Notify, overrides)

	a.scheduler = sched.New()
	a.dispatcher = buildDispatcher(cfg, log)
	a.aggregator = notify.NewAggregator(cascade, a.scheduler, a.dispatcher, logging.WithComponent(log, "notify"))

	hostname := cfg.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	monitors := make([]*rules.Monitor, 0, len(cfg.Monitors))
	for _, name := range sortedMonitorNames(cfg) {
		m, err := rules.CompileMonitor(name, cfg.Monitors[name], store, cascade)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, m)
	}

	a.engine = rules.NewEngine(monitors, store, a.aggregator, a.scheduler, hostname, logging.WithComponent(log, "engine"))
	a.engine.SetExecRunner(execRunner(logging.WithComponent(log, "exec")))

	for _, name := range sortedMonitorNames(cfg) {
		src, err := source.Build(name, cfg.Monitors[name], a.engine, logging.WithComponent(log, "source"))
		if err != nil {
			return nil, err
		}
		a.sources = append(a.sources, src)
	}

	if cfg.Listen != "" {
		a.metricsSrv = metrics.NewServer(cfg.Listen, logging.WithComponent(log, "metrics"))
	}

	return a, nil
}

// Run starts every source and blocks until the context is cancelled, then
// shuts down in order: sources stop, pending notifications flush and
// drain, variables persist.
func (a *Agent) Run(ctx context.Context) error {
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Start(); err != nil {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		a.log.Info().Str("addr", a.metricsSrv.Addr()).Msg("metrics endpoint listening")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range a.sources {
		src := src
		g.Go(func() error {
			if err := src.Run(gctx); err != nil {
				return fmt.Errorf("source %q: %w", src.Name(), err)
			}
			return nil
		})
	}

	a.log.Info().
		Int("monitors", len(a.sources)).
		Int("variables", len(a.store.Names())).
		Msg("agent started")

	runErr := g.Wait()
	a.shutdown()
	return runErr
}

func (a *Agent) shutdown() {
	a.log.Info().Msg("shutting down")

	graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	a.aggregator.Shutdown(graceCtx)
	a.scheduler.Stop()

	if err := a.dispatcher.Close(); err != nil {
		a.log.Warn().Err(err).Msg("dispatcher close failed")
	}
	if err := a.store.Close(); err != nil {
		a.log.Error().Err(err).Msg("failed to persist variables")
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn().Err(err).Msg("state file close failed")
		}
	}
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("metrics endpoint shutdown failed")
		}
	}

	a.log.Info().Msg("shutdown complete")
}

// validateSchedules parses every schedule literal in the cascade so a bad
// expression fails at startup, not on the first notification.
func validateSchedules(cfg *config.Config) error {
	check := func(scope, expr string) error {
		if expr == "" {
			return nil
		}
		if _, err := notify.ParseSchedule(expr); err != nil {
			return fmt.Errorf("%s: %w", scope, err)
		}
		return nil
	}

	if err := check("notify.default", cfg.Notify.Default.Schedule); err != nil {
		return err
	}
	for category, settings := range cfg.Notify.Categories {
		if err := check("notify.categories."+category, settings.Schedule); err != nil {
			return err
		}
	}
	for name, mcfg := range cfg.Monitors {
		if err := check(fmt.Sprintf("monitor %q notify_overrides", name), mcfg.NotifyOverrides.Schedule); err != nil {
			return err
		}
	}
	return nil
}

func hasPersistentVars(cfg *config.Config) bool {
	for _, v := range cfg.Vars {
		if v.Store {
			return true
		}
	}
	return false
}

func varDefs(cfg *config.Config) []vars.Def {
	names := make([]string, 0, len(cfg.Vars))
	for name := range cfg.Vars {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]vars.Def, 0, len(names))
	for _, name := range names {
		v := cfg.Vars[name]
		defs = append(defs, vars.Def{Name: name, Capacity: v.Length, Persistent: v.Store})
	}
	return defs
}

func sortedMonitorNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Monitors))
	for name := range cfg.Monitors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// buildDispatcher picks the delivery mechanism: SMTP when the default layer
// configures a host, otherwise notifications go to the log.
func buildDispatcher(cfg *config.Config, log zerolog.Logger) notify.Dispatcher {
	if cfg.Notify.Default.SMTPHost != "" {
		return notify.NewEmailDispatcher()
	}
	return notify.NewLogDispatcher(logging.WithComponent(log, "dispatch"))
}
