package rules

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/reujab/ramon/internal/event"
	"github.com/reujab/ramon/internal/sched"
	"github.com/reujab/ramon/pkg/config"
)

// Push is one compiled push directive.
type Push struct {
	Var   string
	Value *Template
}

// Notify is one compiled notify directive.
type Notify struct {
	Category string
	Title    *Template
}

// Action is one compiled action block. Blocks execute in declared order;
// pushes from an earlier block are visible to a later block's condition
// within the same event.
type Action struct {
	Condition *Condition
	Pushes    []Push
	Notify    *Notify
	Exec      string
}

// Monitor is a compiled monitor: an event filter plus ordered action
// blocks. Immutable after compilation except for the tracker state, which
// the engine guards with mu.
type Monitor struct {
	Name string

	// Pattern extracts named captures from log lines. Nil for monitors
	// without match_log.
	Pattern *regexp.Regexp
	// Ignore skips matching lines after capture.
	Ignore *regexp.Regexp

	Actions []Action

	// Duration/Cooldown gate the monitor's single action on its
	// condition holding continuously.
	Duration time.Duration
	Cooldown time.Duration

	// mu serializes event processing for this monitor. Distinct
	// monitors process events concurrently.
	mu      sync.Mutex
	tracker *DurationTracker

	// Engine-owned duration state, guarded by mu: the context of the
	// most recent condition-true sample and the armed deadline, if any.
	lastCtx  *event.MatchContext
	timer    sched.ID
	hasTimer bool
}

// VarResolver reports whether a variable name is declared. Satisfied by
// *vars.Store.
type VarResolver interface {
	Resolve(name string) bool
}

// CategoryResolver reports whether a notification category can resolve
// through the cascade. Satisfied by *notify.Cascade.
type CategoryResolver interface {
	Known(category string) bool
}

// CompileMonitor compiles and validates one monitor's rules. All
// cross-reference errors (unknown variables, unknown categories, invalid
// patterns) surface here, before the agent starts.
func CompileMonitor(name string, cfg *config.MonitorConfig, varsR VarResolver, categories CategoryResolver) (*Monitor, error) {
	m := &Monitor{Name: name}

	if cfg.MatchLog != "" {
		pattern, err := regexp.Compile(cfg.MatchLog)
		if err != nil {
			return nil, fmt.Errorf("monitor %q: invalid match_log: %w", name, err)
		}
		m.Pattern = pattern
	}
	if cfg.IgnoreLog != "" {
		ignore, err := regexp.Compile(cfg.IgnoreLog)
		if err != nil {
			return nil, fmt.Errorf("monitor %q: invalid ignore_log: %w", name, err)
		}
		m.Ignore = ignore
	}

	if cfg.Duration != "" {
		duration, err := config.ParseDuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("monitor %q: %w", name, err)
		}
		m.Duration = duration
		if cfg.Cooldown != "" {
			cooldown, err := config.ParseDuration(cfg.Cooldown)
			if err != nil {
				return nil, fmt.Errorf("monitor %q: %w", name, err)
			}
			m.Cooldown = cooldown
		}
		m.tracker = NewDurationTracker(m.Duration, m.Cooldown)
	}

	for i, actionCfg := range cfg.Actions {
		action, err := compileAction(actionCfg, varsR, categories)
		if err != nil {
			return nil, fmt.Errorf("monitor %q: action %d: %w", name, i, err)
		}
		m.Actions = append(m.Actions, action)
	}

	return m, nil
}

func compileAction(cfg config.ActionConfig, varsR VarResolver, categories CategoryResolver) (Action, error) {
	var action Action

	condition, err := ParseCondition(cfg.If)
	if err != nil {
		return Action{}, err
	}
	action.Condition = condition
	for _, varName := range condition.Vars() {
		if !varsR.Resolve(varName) {
			return Action{}, fmt.Errorf("condition references unknown variable %q", varName)
		}
	}

	for _, push := range cfg.Push {
		if !varsR.Resolve(push.Var) {
			return Action{}, fmt.Errorf("push references unknown variable %q", push.Var)
		}
		value, err := ParseTemplate(push.Value)
		if err != nil {
			return Action{}, fmt.Errorf("push %q: %w", push.Var, err)
		}
		action.Pushes = append(action.Pushes, Push{Var: push.Var, Value: value})
	}

	if cfg.Notify != nil {
		if !categories.Known(cfg.Notify.Category) {
			return Action{}, fmt.Errorf("notify references category %q with no settings and no default layer", cfg.Notify.Category)
		}
		title, err := ParseTemplate(cfg.Notify.Title)
		if err != nil {
			return Action{}, fmt.Errorf("notify title: %w", err)
		}
		action.Notify = &Notify{Category: cfg.Notify.Category, Title: title}
	}

	action.Exec = cfg.Exec
	return action, nil
}
