package main

import (
	"strings"
	"testing"

	"github.com/asheshgoplani/agent-tower/internal/config"
	"github.com/asheshgoplani/agent-tower/internal/tmux"
	"github.com/asheshgoplani/agent-tower/internal/tower"
)

func TestExtractConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantPath string
		wantRest []string
	}{
		{
			name:     "no flag",
			args:     []string{"status", "-json"},
			wantPath: "",
			wantRest: []string{"status", "-json"},
		},
		{
			name:     "before subcommand",
			args:     []string{"-c", "/tmp/t.toml", "run"},
			wantPath: "/tmp/t.toml",
			wantRest: []string{"run"},
		},
		{
			name:     "after subcommand",
			args:     []string{"status", "--config", "/tmp/t.toml"},
			wantPath: "/tmp/t.toml",
			wantRest: []string{"status"},
		},
		{
			name:     "dangling flag with no value",
			args:     []string{"run", "-c"},
			wantPath: "",
			wantRest: []string{"run"},
		},
		{
			name:     "empty",
			args:     nil,
			wantPath: "",
			wantRest: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, rest := extractConfigFlag(tt.args)
			if path != tt.wantPath {
				t.Errorf("path = %q, want %q", path, tt.wantPath)
			}
			if len(rest) != len(tt.wantRest) {
				t.Fatalf("rest = %v, want %v", rest, tt.wantRest)
			}
			for i := range rest {
				if rest[i] != tt.wantRest[i] {
					t.Errorf("rest[%d] = %q, want %q", i, rest[i], tt.wantRest[i])
				}
			}
		})
	}
}

func TestBuildSummarizer(t *testing.T) {
	cfg := &config.Config{}
	if s := buildSummarizer(cfg); s != nil {
		t.Error("no command configured should mean no summarizer")
	}

	cfg.Summarizer.Command = []string{"my-script", "--fast"}
	if s := buildSummarizer(cfg); s == nil {
		t.Error("configured command should produce a summarizer")
	}
}

func TestOpenStoreDisabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Store.Path = "off"
	st, err := openStore(cfg, t.TempDir())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	if st != nil {
		t.Error("path \"off\" should disable the store")
	}
}

func TestSelectSessions(t *testing.T) {
	registry, err := tower.NewRegistry([]*tower.Session{
		tower.NewSession("api", "%0", tmux.NewPane("%0", 50)),
		tower.NewSession("web", "%1", tmux.NewPane("%1", 50)),
	})
	if err != nil {
		t.Fatal(err)
	}

	all, err := selectSessions(registry, nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("no filter: sessions = %d, err = %v, want all 2", len(all), err)
	}

	one, err := selectSessions(registry, []string{"web"})
	if err != nil {
		t.Fatalf("selectSessions(web): %v", err)
	}
	if len(one) != 1 || one[0].Name != "web" {
		t.Errorf("filtered = %v, want just web", one)
	}

	if _, err := selectSessions(registry, []string{"ghost"}); err == nil {
		t.Error("unknown session should error")
	}
}

func TestFormatEventCounts(t *testing.T) {
	if got := formatEventCounts(nil); !strings.Contains(got, "none recorded") {
		t.Errorf("empty counts output = %q", got)
	}

	counts := map[string]map[tower.EventKind]int{
		"web": {tower.EventError: 2},
		"api": {tower.EventPermission: 3, tower.EventError: 1},
	}
	got := formatEventCounts(counts)
	if !strings.Contains(got, "error=1 permission=3") {
		t.Errorf("kinds not tallied in order: %q", got)
	}
	if !strings.Contains(got, "error=2") {
		t.Errorf("missing web tally: %q", got)
	}
	if strings.Index(got, "api") > strings.Index(got, "web") {
		t.Errorf("sessions not in stable order: %q", got)
	}
}
