package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asheshgoplani/agent-tower/internal/tower"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMinimal(t *testing.T) {
	path := writeConfig(t, `
[[sessions]]
name = "main"
pane = "%0"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Sessions) != 1 || cfg.Sessions[0].Name != "main" {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
	// Defaults fill in.
	if got := cfg.PollInterval(); got != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", got)
	}
	if got := cfg.StallThreshold(); got != 60*time.Second {
		t.Errorf("StallThreshold = %v, want 60s", got)
	}
	if got := cfg.Cooldown(); got != 5*time.Minute {
		t.Errorf("Cooldown = %v, want 5m", got)
	}
	if !cfg.HooksEnabled() {
		t.Error("HooksEnabled should default to true")
	}
	if cfg.Web.Listen != "127.0.0.1:8787" {
		t.Errorf("Web.Listen = %q", cfg.Web.Listen)
	}
}

func TestLoadNoSessions(t *testing.T) {
	path := writeConfig(t, `
[poll]
interval_secs = 5
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty session list")
	}
}

func TestLoadDuplicateSessionNames(t *testing.T) {
	path := writeConfig(t, `
[[sessions]]
name = "api"
pane = "%0"

[[sessions]]
name = "api"
pane = "%1"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate session name")
	}
}

func TestLoadMissingPane(t *testing.T) {
	path := writeConfig(t, `
[[sessions]]
name = "api"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for session without pane")
	}
}

func TestPatternOverridesAndExtras(t *testing.T) {
	path := writeConfig(t, `
[[sessions]]
name = "main"
pane = "%0"

[patterns]
error = ["BOOM"]

[patterns.extra]
permission = ["Shall I continue"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m := cfg.Matchers()
	if len(m.Error) != 1 || m.Error[0] != "BOOM" {
		t.Errorf("error patterns not overridden: %v", m.Error)
	}
	defaults := len(tower.DefaultRawMatchers().Permission)
	if len(m.Permission) != defaults+1 {
		t.Errorf("permission patterns = %d, want defaults+1 = %d", len(m.Permission), defaults+1)
	}
	found := false
	for _, p := range m.Permission {
		if p == "Shall I continue" {
			found = true
		}
	}
	if !found {
		t.Error("extra permission pattern missing")
	}
}

func TestTimingOverrides(t *testing.T) {
	path := writeConfig(t, `
[[sessions]]
name = "main"
pane = "%0"

[poll]
interval_secs = 5
stall_secs = 120
settle_ms = 500
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.PollInterval(); got != 5*time.Second {
		t.Errorf("PollInterval = %v", got)
	}
	if got := cfg.StallThreshold(); got != 2*time.Minute {
		t.Errorf("StallThreshold = %v", got)
	}
	if got := cfg.SettleDelay(); got != 500*time.Millisecond {
		t.Errorf("SettleDelay = %v", got)
	}
}

func TestHooksDisabled(t *testing.T) {
	path := writeConfig(t, `
[[sessions]]
name = "main"
pane = "%0"

[hooks]
enabled = false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HooksEnabled() {
		t.Error("HooksEnabled should be false")
	}
}

func TestWriteExampleRefusesOverwrite(t *testing.T) {
	path := writeConfig(t, "# existing")
	if err := WriteExample(path); err == nil {
		t.Fatal("expected error writing over existing config")
	}
}

func TestWriteExampleIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := WriteExample(path); err != nil {
		t.Fatalf("WriteExample: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
}

func TestGetTowerDirEnvOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "towerhome")
	t.Setenv(EnvHome, dir)
	got, err := GetTowerDir()
	if err != nil {
		t.Fatalf("GetTowerDir: %v", err)
	}
	if got != dir {
		t.Errorf("GetTowerDir = %q, want %q", got, dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("dir not created: %v", err)
	}
}
