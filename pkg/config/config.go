package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level agent configuration.
type Config struct {
	// LogLevel is the zerolog level name (default: info).
	LogLevel string `yaml:"log_level"`
	// Listen is the address for the metrics/health endpoint. Empty
	// disables the endpoint.
	Listen string `yaml:"listen"`
	// StateFile is the SQLite database path for persistent variables
	// (default: /var/lib/ramon/state.db).
	StateFile string `yaml:"state_file"`
	// Hostname overrides the ambient `host` field (default: os.Hostname).
	Hostname string `yaml:"hostname"`

	// Vars declares the variable table.
	Vars map[string]VarConfig `yaml:"vars"`
	// Notify holds the cascading notification settings.
	Notify NotifyConfig `yaml:"notify"`
	// Monitors declares the monitors by name.
	Monitors map[string]*MonitorConfig `yaml:"monitors"`
}

// VarConfig declares a single variable.
type VarConfig struct {
	// Length is the capacity; 0 means the default capacity.
	Length int `yaml:"length"`
	// Store marks the variable persistent across restarts.
	Store bool `yaml:"store"`
}

// NotifySettings is one layer of the notification cascade. Every field is
// optional; unset fields inherit from the next layer down.
type NotifySettings struct {
	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPUser     string   `yaml:"smtp_user"`
	SMTPPassword string   `yaml:"smtp_password"`
	From         string   `yaml:"from"`
	To           []string `yaml:"to"`

	// RateLimit is a rate literal like "4/m".
	RateLimit string `yaml:"rate_limit"`
	// Aggregate is a duration literal; "0s" means flush every submission
	// immediately. A pointer so "unset" and "0s" stay distinct.
	Aggregate *string `yaml:"aggregate"`
	// AggregateTimeout caps how long a busy bucket may defer its flush.
	AggregateTimeout string `yaml:"aggregate_timeout"`
	// Schedule is a wall-clock schedule expression (e.g. "* * 8:00AM").
	// Mutually exclusive with Aggregate.
	Schedule string `yaml:"schedule"`
}

// NotifyConfig holds the default layer plus per-category overrides.
type NotifyConfig struct {
	Default    NotifySettings            `yaml:"default"`
	Categories map[string]NotifySettings `yaml:"categories"`
}

// MonitorConfig declares a monitor: one event source plus its action blocks.
type MonitorConfig struct {
	// Event source, exactly one of:
	Log     string   `yaml:"log"`     // tail a log file
	Service string   `yaml:"service"` // follow a journald unit
	Every   string   `yaml:"every"`   // sample resources on an interval
	Watch   []string `yaml:"watch"`   // watch paths for changes
	HTTP    string   `yaml:"http"`    // probe an HTTP endpoint
	Port    string   `yaml:"port"`    // probe a TCP address

	// Interval for http/port probes (default: 30s).
	Interval string `yaml:"interval"`

	// MatchLog is the capture pattern applied to log lines.
	MatchLog string `yaml:"match_log"`
	// IgnoreLog skips lines matching this pattern.
	IgnoreLog string `yaml:"ignore_log"`

	// Duration gates the monitor on its condition holding continuously.
	Duration string `yaml:"duration"`
	// Cooldown suppresses re-fires after a duration-gated fire.
	Cooldown string `yaml:"cooldown"`

	// NotifyOverrides is the monitor layer of the notification cascade.
	NotifyOverrides NotifySettings `yaml:"notify_overrides"`

	// Actions are evaluated in order on every matching event.
	Actions []ActionConfig `yaml:"actions"`
}

// ActionConfig is one action block: an optional condition plus directives.
type ActionConfig struct {
	// If is the conjunctive condition: one atom or a list of atoms.
	If StringList `yaml:"if"`
	// Push maps variable names to value expressions, in declared order.
	Push PushList `yaml:"push"`
	// Notify submits a notification when the condition holds.
	Notify *NotifyDirective `yaml:"notify"`
	// Exec runs a shell command with the match context in its environment.
	Exec string `yaml:"exec"`
}

// NotifyDirective names the category and title template of a notification.
type NotifyDirective struct {
	Category string `yaml:"category"`
	Title    string `yaml:"title"`
}

// StringList unmarshals from either a scalar or a sequence of scalars.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = StringList(items)
		return nil
	default:
		return fmt.Errorf("line %d: want a string or list of strings", node.Line)
	}
}

// PushDirective is one variable push: name and value expression.
type PushDirective struct {
	Var   string
	Value string
}

// PushList unmarshals a YAML mapping while preserving key order, since
// pushes execute in declared order.
type PushList []PushDirective

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *PushList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: push must be a mapping of variable to value", node.Line)
	}
	list := make(PushList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name, value string
		if err := node.Content[i].Decode(&name); err != nil {
			return err
		}
		if err := node.Content[i+1].Decode(&value); err != nil {
			return err
		}
		list = append(list, PushDirective{Var: name, Value: value})
	}
	*p = list
	return nil
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults fills in defaults for missing fields.
func (c *Config) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.StateFile == "" {
		c.StateFile = "/var/lib/ramon/state.db"
	}
	if c.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Hostname = hostname
	}
	if c.Vars == nil {
		c.Vars = make(map[string]VarConfig)
	}
	for name, mon := range c.Monitors {
		if mon == nil {
			c.Monitors[name] = &MonitorConfig{}
			continue
		}
		if mon.Interval == "" {
			mon.Interval = "30s"
		}
	}
}

// Validate checks structural and literal-grammar errors. Cross-references
// (variable names in conditions, capture groups) are checked when the rule
// set is compiled, but both run before the agent starts.
func (c *Config) Validate() error {
	if len(c.Monitors) == 0 {
		return fmt.Errorf("no monitors configured")
	}

	if err := validateSettings("notify.default", c.Notify.Default); err != nil {
		return err
	}
	for category, settings := range c.Notify.Categories {
		if err := validateSettings("notify.categories."+category, settings); err != nil {
			return err
		}
	}

	for name, mon := range c.Monitors {
		if err := mon.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func validateSettings(scope string, s NotifySettings) error {
	if s.RateLimit != "" {
		if _, err := ParseRate(s.RateLimit); err != nil {
			return fmt.Errorf("%s: %w", scope, err)
		}
	}
	if s.Aggregate != nil {
		if s.Schedule != "" {
			return fmt.Errorf("%s: aggregate and schedule are mutually exclusive", scope)
		}
		if _, err := ParseDuration(*s.Aggregate); err != nil {
			return fmt.Errorf("%s: %w", scope, err)
		}
	}
	if s.AggregateTimeout != "" {
		if _, err := ParseDuration(s.AggregateTimeout); err != nil {
			return fmt.Errorf("%s: %w", scope, err)
		}
	}
	return nil
}

func (m *MonitorConfig) validate(name string) error {
	sources := 0
	if m.Log != "" {
		sources++
	}
	if m.Service != "" {
		sources++
	}
	if m.Every != "" {
		sources++
	}
	if len(m.Watch) > 0 {
		sources++
	}
	if m.HTTP != "" {
		sources++
	}
	if m.Port != "" {
		sources++
	}
	if sources == 0 {
		return fmt.Errorf("monitor %q: no event source (one of log, service, every, watch, http, port)", name)
	}
	if sources > 1 {
		return fmt.Errorf("monitor %q: multiple event sources declared", name)
	}

	if m.MatchLog != "" && m.Log == "" && m.Service == "" {
		return fmt.Errorf("monitor %q: match_log requires a log or service source", name)
	}

	for _, field := range []struct{ key, val string }{
		{"every", m.Every},
		{"interval", m.Interval},
		{"duration", m.Duration},
		{"cooldown", m.Cooldown},
	} {
		if field.val == "" {
			continue
		}
		if _, err := ParseDuration(field.val); err != nil {
			return fmt.Errorf("monitor %q: %s: %w", name, field.key, err)
		}
	}

	if m.Cooldown != "" && m.Duration == "" {
		return fmt.Errorf("monitor %q: cooldown requires duration", name)
	}
	if m.Duration != "" && len(m.Actions) != 1 {
		return fmt.Errorf("monitor %q: duration-gated monitors must declare exactly one action", name)
	}

	if err := validateSettings(fmt.Sprintf("monitor %q notify_overrides", name), m.NotifyOverrides); err != nil {
		return err
	}

	if len(m.Actions) == 0 {
		return fmt.Errorf("monitor %q: no actions declared", name)
	}
	for i, action := range m.Actions {
		if len(action.Push) == 0 && action.Notify == nil && action.Exec == "" {
			return fmt.Errorf("monitor %q: action %d has no directives", name, i)
		}
		if action.Notify != nil {
			if action.Notify.Category == "" {
				return fmt.Errorf("monitor %q: action %d: notify.category is required", name, i)
			}
			if action.Notify.Title == "" {
				return fmt.Errorf("monitor %q: action %d: notify.title is required", name, i)
			}
		}
	}
	return nil
}
