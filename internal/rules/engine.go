// Package rules implements the stateful rule engine: pattern matching,
// conjunctive condition evaluation over the variable store, ordered action
// execution, and duration/cooldown gating.
package rules

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/reujab/ramon/internal/event"
	"github.com/reujab/ramon/internal/metrics"
	"github.com/reujab/ramon/internal/notify"
	"github.com/reujab/ramon/internal/sched"
	"github.com/reujab/ramon/internal/vars"
)

// Submitter receives fired notifications. Satisfied by *notify.Aggregator.
type Submitter interface {
	Submit(req notify.Request)
}

// ExecRunner runs an action's exec command with the match context in env.
// Runs on its own goroutine; the engine never waits for it.
type ExecRunner func(command string, env map[string]string)

// Engine evaluates incoming events against the compiled monitors.
type Engine struct {
	monitors  map[string]*Monitor
	store     *vars.Store
	submitter Submitter
	scheduler *sched.Scheduler
	exec      ExecRunner
	hostname  string
	log       zerolog.Logger
}

// NewEngine creates an engine. The scheduler drives duration deadlines and
// may be nil, in which case duration fires happen only on event arrival.
func NewEngine(monitors []*Monitor, store *vars.Store, submitter Submitter, scheduler *sched.Scheduler, hostname string, log zerolog.Logger) *Engine {
	byName := make(map[string]*Monitor, len(monitors))
	for _, m := range monitors {
		byName[m.Name] = m
	}
	return &Engine{
		monitors:  byName,
		store:     store,
		submitter: submitter,
		scheduler: scheduler,
		hostname:  hostname,
		log:       log,
	}
}

// SetExecRunner installs the exec action runner.
func (e *Engine) SetExecRunner(runner ExecRunner) {
	e.exec = runner
}

// Monitors returns the compiled monitors, unordered.
func (e *Engine) Monitors() []*Monitor {
	out := make([]*Monitor, 0, len(e.monitors))
	for _, m := range e.monitors {
		out = append(out, m)
	}
	return out
}

// OnEvent processes one event synchronously. Events for the same monitor
// are serialized; events for different monitors proceed concurrently.
func (e *Engine) OnEvent(ev event.Event) {
	e.OnEventAt(ev, time.Now())
}

// OnEventAt processes an event at a specific time (useful for testing).
func (e *Engine) OnEventAt(ev event.Event, now time.Time) {
	m, ok := e.monitors[ev.Source]
	if !ok {
		return
	}

	metrics.EventsTotal.WithLabelValues(m.Name, string(ev.Kind)).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx := event.NewMatchContext(ev)

	if m.Pattern != nil {
		line, ok := ev.Field("line")
		if !ok {
			return
		}
		match := m.Pattern.FindStringSubmatch(line)
		if match == nil {
			// No match: not an error, just not this monitor's line.
			return
		}
		metrics.PatternMatches.WithLabelValues(m.Name).Inc()
		for i, name := range m.Pattern.SubexpNames() {
			if name != "" && i < len(match) {
				ctx.Set(name, match[i])
			}
		}
	}
	if m.Ignore != nil {
		if line, ok := ev.Field("line"); ok && m.Ignore.MatchString(line) {
			return
		}
	}

	// Ambient fields, set last so they cannot be shadowed by captures.
	ctx.Set("host", e.hostname)
	ctx.Set("monitor", m.Name)
	ctx.Set("source", ev.Source)

	if m.tracker != nil {
		e.observeDuration(m, ctx, now)
		return
	}

	for i := range m.Actions {
		action := &m.Actions[i]
		if action.Condition.Eval(ctx, e.store) {
			e.fireAction(m, action, ctx, now)
		}
	}
}

// observeDuration feeds a duration-gated monitor's condition sample into
// its tracker. Caller holds m.mu.
func (e *Engine) observeDuration(m *Monitor, ctx *event.MatchContext, now time.Time) {
	action := &m.Actions[0]
	condTrue := action.Condition.Eval(ctx, e.store)
	if condTrue {
		m.lastCtx = ctx
	}

	d := m.tracker.Observe(condTrue, now)
	if d.Disarm && m.hasTimer {
		e.scheduler.Cancel(m.timer)
		m.hasTimer = false
	}
	if d.Arm && e.scheduler != nil {
		m.timer = e.scheduler.Schedule(d.ArmAt, func() { e.durationDeadline(m) })
		m.hasTimer = true
	}
	if d.Fire {
		metrics.DurationFires.WithLabelValues(m.Name).Inc()
		e.fireAction(m, action, ctx, now)
	}
}

// durationDeadline fires a duration-gated monitor whose condition has held
// for the full span without an event arriving to trigger the check.
func (e *Engine) durationDeadline(m *Monitor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hasTimer = false
	now := time.Now()
	if !m.tracker.DeadlineFire(now) {
		return
	}
	metrics.DurationFires.WithLabelValues(m.Name).Inc()
	e.fireAction(m, &m.Actions[0], m.lastCtx, now)
}

// fireAction executes one action block's directives in order: pushes,
// then notify, then exec. Caller holds m.mu.
func (e *Engine) fireAction(m *Monitor, action *Action, ctx *event.MatchContext, now time.Time) {
	metrics.ActionsFired.WithLabelValues(m.Name).Inc()

	for _, push := range action.Pushes {
		value := push.Value.Render(ctx)
		e.store.Push(push.Var, value)
		metrics.VariablePushes.WithLabelValues(push.Var).Inc()
		e.log.Debug().Str("monitor", m.Name).Str("variable", push.Var).Str("value", value).Msg("pushed variable")
	}

	if action.Notify != nil {
		title := action.Notify.Title.Render(ctx)
		e.log.Info().Str("monitor", m.Name).Str("category", action.Notify.Category).Str("title", title).Msg("notification fired")
		e.submitter.Submit(notify.NewRequest(action.Notify.Category, title, m.Name, now))
	}

	if action.Exec != "" && e.exec != nil {
		env := make(map[string]string, len(ctx.Fields()))
		for k, v := range ctx.Fields() {
			env[k] = v
		}
		go e.exec(action.Exec, env)
	}
}
