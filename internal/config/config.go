// Package config loads the tower's TOML configuration. The session list is
// static for the process lifetime: panes are discovered from configuration
// at boot and never added or removed during a run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/asheshgoplani/agent-tower/internal/tower"
)

// FileName is the TOML config file inside the tower directory.
const FileName = "config.toml"

// EnvHome overrides the tower directory (default ~/.agent-tower).
const EnvHome = "AGENT_TOWER_HOME"

// Config is the user-facing configuration.
type Config struct {
	// Sessions is the static list of panes under supervision.
	Sessions []SessionConfig `toml:"sessions"`

	// Poll controls the scheduler's timing knobs.
	Poll PollSettings `toml:"poll"`

	// Patterns overrides or extends the built-in classification
	// signatures. A set field replaces the default list entirely;
	// [patterns.extra] appends instead.
	Patterns PatternSettings `toml:"patterns"`

	// Summarizer configures the external summarizer command.
	Summarizer SummarizerSettings `toml:"summarizer"`

	// Hooks configures the instant hook-event listener.
	Hooks HookSettings `toml:"hooks"`

	// Web configures the web front end.
	Web WebSettings `toml:"web"`

	// Logs configures structured logging.
	Logs LogSettings `toml:"logs"`

	// Store configures the interaction log database.
	Store StoreSettings `toml:"store"`
}

// SessionConfig names one pane under supervision.
type SessionConfig struct {
	// Name is the unique human-assigned session name.
	Name string `toml:"name"`

	// Pane is the tmux target: a pane id ("%3") or "session:window.pane".
	Pane string `toml:"pane"`
}

// PollSettings holds the scheduler timing knobs, in plain units so the
// config file stays obvious.
type PollSettings struct {
	// IntervalSecs is the sampling interval (default: 2)
	IntervalSecs int `toml:"interval_secs"`

	// StallSecs is how long unchanged output means stuck (default: 60)
	StallSecs int `toml:"stall_secs"`

	// CooldownSecs is the per-(session, kind) notification cooldown
	// (default: 300)
	CooldownSecs int `toml:"cooldown_secs"`

	// SettleMs is the delay before the post-injection re-sample
	// (default: 1500)
	SettleMs int `toml:"settle_ms"`

	// CaptureLines is the trailing window sampled per pane (default: 50)
	CaptureLines int `toml:"capture_lines"`

	// DecisionTTLSecs is how long a pending decision waits for a human
	// response before expiring (default: 1800)
	DecisionTTLSecs int `toml:"decision_ttl_secs"`
}

// PatternSettings mirrors tower.RawMatchers in TOML form.
type PatternSettings struct {
	Error      []string      `toml:"error"`
	Permission []string      `toml:"permission"`
	Deploy     []string      `toml:"deploy"`
	Extra      PatternExtras `toml:"extra"`
}

// PatternExtras appends to the defaults instead of replacing them.
type PatternExtras struct {
	Error      []string `toml:"error"`
	Permission []string `toml:"permission"`
	Deploy     []string `toml:"deploy"`
}

// SummarizerSettings configures the external summarizer.
type SummarizerSettings struct {
	// Command is the summarizer argv. Empty means fallback-only mode.
	Command []string `toml:"command"`

	// TimeoutSecs bounds each summarizer call (default: 10)
	TimeoutSecs int `toml:"timeout_secs"`

	// RawLimit bounds the pane text handed to the command (default: 2000)
	RawLimit int `toml:"raw_limit"`
}

// HookSettings configures the fsnotify hook-event listener.
type HookSettings struct {
	// Enabled turns the listener on (default: true)
	Enabled *bool `toml:"enabled"`

	// EventsDir overrides the watched directory
	// (default: <tower-dir>/events)
	EventsDir string `toml:"events_dir"`
}

// WebSettings configures the web front end.
type WebSettings struct {
	// Enabled starts the web server (default: false)
	Enabled bool `toml:"enabled"`

	// Listen is the bind address (default: 127.0.0.1:8787)
	Listen string `toml:"listen"`

	// Token, when set, is required as a Bearer token on every request.
	Token string `toml:"token"`

	// PushSubject is the VAPID subject (mailto: or https: URL).
	PushSubject string `toml:"push_subject"`
}

// LogSettings configures structured logging.
type LogSettings struct {
	// Level is "debug", "info", "warn", or "error" (default: info)
	Level string `toml:"level"`

	// Format is "json" (default) or "text"
	Format string `toml:"format"`

	// Dir overrides the log directory (default: tower dir)
	Dir string `toml:"dir"`
}

// StoreSettings configures the interaction log database.
type StoreSettings struct {
	// Path overrides the database file (default: <tower-dir>/tower.db).
	// "off" disables persistence.
	Path string `toml:"path"`
}

// GetTowerDir returns the tower data directory, creating it if needed.
func GetTowerDir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create tower dir: %w", err)
		}
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".agent-tower")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create tower dir: %w", err)
	}
	return dir, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := GetTowerDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		// Unknown keys are almost always typos; call them out but don't
		// refuse to start.
		for _, key := range undecoded {
			fmt.Fprintf(os.Stderr, "warning: unknown config key %q in %s\n", key.String(), path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Validate checks the configuration. An empty session list is the only
// fatal startup error in the tower.
func (c *Config) Validate() error {
	if len(c.Sessions) == 0 {
		return fmt.Errorf("no sessions configured: add at least one [[sessions]] entry")
	}
	seen := make(map[string]bool, len(c.Sessions))
	for i, s := range c.Sessions {
		if s.Name == "" {
			return fmt.Errorf("sessions[%d]: name is required", i)
		}
		if s.Pane == "" {
			return fmt.Errorf("session %q: pane is required", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate session name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Poll.IntervalSecs <= 0 {
		c.Poll.IntervalSecs = 2
	}
	if c.Poll.StallSecs <= 0 {
		c.Poll.StallSecs = 60
	}
	if c.Poll.CooldownSecs <= 0 {
		c.Poll.CooldownSecs = 300
	}
	if c.Poll.SettleMs <= 0 {
		c.Poll.SettleMs = 1500
	}
	if c.Poll.CaptureLines <= 0 {
		c.Poll.CaptureLines = 50
	}
	if c.Poll.DecisionTTLSecs <= 0 {
		c.Poll.DecisionTTLSecs = 1800
	}
	if c.Summarizer.TimeoutSecs <= 0 {
		c.Summarizer.TimeoutSecs = 10
	}
	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:8787"
	}
	if c.Logs.Level == "" {
		c.Logs.Level = "info"
	}
}

// PollInterval returns the sampling interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSecs) * time.Second
}

// StallThreshold returns the stuck threshold as a duration.
func (c *Config) StallThreshold() time.Duration {
	return time.Duration(c.Poll.StallSecs) * time.Second
}

// Cooldown returns the debounce cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Poll.CooldownSecs) * time.Second
}

// SettleDelay returns the post-injection settle delay.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Poll.SettleMs) * time.Millisecond
}

// DecisionTTL returns the pending decision lifetime.
func (c *Config) DecisionTTL() time.Duration {
	return time.Duration(c.Poll.DecisionTTLSecs) * time.Second
}

// SummarizerTimeout returns the per-call summarizer bound.
func (c *Config) SummarizerTimeout() time.Duration {
	return time.Duration(c.Summarizer.TimeoutSecs) * time.Second
}

// HooksEnabled reports whether the hook listener should run.
func (c *Config) HooksEnabled() bool {
	if c.Hooks.Enabled == nil {
		return true
	}
	return *c.Hooks.Enabled
}

// Matchers resolves the configured pattern set: defaults, with full-field
// overrides and appended extras.
func (c *Config) Matchers() *tower.RawMatchers {
	overrides := &tower.RawMatchers{
		Error:      c.Patterns.Error,
		Permission: c.Patterns.Permission,
		Deploy:     c.Patterns.Deploy,
	}
	extras := &tower.RawMatchers{
		Error:      c.Patterns.Extra.Error,
		Permission: c.Patterns.Extra.Permission,
		Deploy:     c.Patterns.Extra.Deploy,
	}
	return tower.MergeRawMatchers(tower.DefaultRawMatchers(), overrides, extras)
}

// WriteExample writes a starter config to path. Fails if the file exists.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(exampleConfig), 0o644)
}

const exampleConfig = `# agent-tower configuration

[[sessions]]
name = "main"
pane = "%0"

# [[sessions]]
# name = "backend"
# pane = "work:1.0"

[poll]
interval_secs = 2
stall_secs = 60
cooldown_secs = 300

# [summarizer]
# command = ["my-summarize-script"]
# timeout_secs = 10

# [patterns.extra]
# permission = ["Shall I continue"]

# [web]
# enabled = true
# listen = "127.0.0.1:8787"
# push_subject = "mailto:you@example.com"

[logs]
level = "info"
`
