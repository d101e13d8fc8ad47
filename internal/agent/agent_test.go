package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/reujab/ramon/pkg/config"
)

const wiringConfig = `
vars:
  ssh_ips:
    length: 512
    store: true

notify:
  default:
    aggregate: 1h
  categories:
    security:
      aggregate: 0s

monitors:
  sshd:
    log: %s
    match_log: 'Accepted \S+ for (?P<user>\S+) from (?P<ip>\S+)'
    actions:
      - if: '!ssh_ips = ${ip}'
        push:
          ssh_ips: ${ip}
        notify:
          category: security
          title: New SSH login from ${ip}
`

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

func TestNewWiresFullPipeline(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "auth.log")
	if err := os.WriteFile(logFile, nil, 0644); err != nil {
		t.Fatal(err)
	}

	yaml := strings.Replace(wiringConfig, "%s", logFile, 1)
	cfg := testConfig(t, yaml)
	cfg.StateFile = filepath.Join(tmpDir, "state.db")

	a, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.db == nil {
		t.Error("persistent variable declared, state store should be open")
	}
	if len(a.sources) != 1 {
		t.Errorf("got %d sources, want 1", len(a.sources))
	}
	if !a.store.Resolve("ssh_ips") {
		t.Error("ssh_ips should be declared")
	}

	// Run briefly and shut down cleanly.
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestNewRejectsUnknownVariable(t *testing.T) {
	cfg := testConfig(t, `
monitors:
  app:
    log: /var/log/app.log
    actions:
      - if: '!mystery = ${x}'
        notify:
          category: errors
          title: boom
`)
	if _, err := New(cfg, zerolog.Nop()); err == nil {
		t.Error("New succeeded with unknown variable reference")
	} else if !strings.Contains(err.Error(), "mystery") {
		t.Errorf("error %q should name the unknown variable", err)
	}
}

func TestNewRejectsBadPattern(t *testing.T) {
	cfg := testConfig(t, `
monitors:
  app:
    log: /var/log/app.log
    match_log: '(unclosed'
    actions:
      - notify:
          category: errors
          title: boom
`)
	if _, err := New(cfg, zerolog.Nop()); err == nil {
		t.Error("New succeeded with invalid match pattern")
	}
}

func TestVariablesPersistAcrossRestart(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "auth.log")
	if err := os.WriteFile(logFile, nil, 0644); err != nil {
		t.Fatal(err)
	}
	stateFile := filepath.Join(tmpDir, "state.db")

	yaml := strings.Replace(wiringConfig, "%s", logFile, 1)

	cfg := testConfig(t, yaml)
	cfg.StateFile = stateFile
	a, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	a.store.Push("ssh_ips", "1.2.3.4")
	a.shutdown()

	cfg2 := testConfig(t, yaml)
	cfg2.StateFile = stateFile
	a2, err := New(cfg2, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer a2.shutdown()

	if !a2.store.Contains("ssh_ips", "1.2.3.4") {
		t.Error("pushed value should survive restart via the state file")
	}
}
