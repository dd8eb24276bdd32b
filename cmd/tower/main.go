package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/asheshgoplani/agent-tower/internal/config"
	"github.com/asheshgoplani/agent-tower/internal/hooks"
	"github.com/asheshgoplani/agent-tower/internal/logging"
	"github.com/asheshgoplani/agent-tower/internal/store"
	"github.com/asheshgoplani/agent-tower/internal/summarize"
	"github.com/asheshgoplani/agent-tower/internal/tmux"
	"github.com/asheshgoplani/agent-tower/internal/tower"
	"github.com/asheshgoplani/agent-tower/internal/ui"
	"github.com/asheshgoplani/agent-tower/internal/web"
)

const Version = "0.3.1"

// init sets up color profile for consistent terminal colors across environments
func init() {
	initColorProfile()
}

// initColorProfile configures lipgloss color profile based on terminal capabilities.
// Prefers TrueColor for best visuals, falls back to ANSI256 for compatibility.
func initColorProfile() {
	// Allow user override via environment variable
	// AGENT_TOWER_COLOR: truecolor, 256, 16, none
	if colorEnv := os.Getenv("AGENT_TOWER_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	// Explicit TrueColor support
	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	// Check TERM for capability hints
	termName := os.Getenv("TERM")
	trueColorTerms := []string{
		"xterm-256color",
		"screen-256color",
		"tmux-256color",
		"xterm-direct",
		"alacritty",
		"kitty",
		"wezterm",
	}
	for _, t := range trueColorTerms {
		if strings.Contains(termName, t) {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	// Common terminal emulators advertise themselves via env vars instead
	if os.Getenv("WT_SESSION") != "" || // Windows Terminal
		os.Getenv("ITERM_SESSION_ID") != "" || // iTerm2
		os.Getenv("TERMINAL_EMULATOR") != "" || // JetBrains terminals
		os.Getenv("KONSOLE_VERSION") != "" { // Konsole
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	// Fallback: ANSI256 works in SSH, basic terminals, and older emulators
	lipgloss.SetColorProfile(termenv.ANSI256)
}

func main() {
	// Extract global -c/--config flag before subcommand dispatch
	configPath, args := extractConfigFlag(os.Args[1:])

	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("Agent Tower v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "init":
			handleInit(configPath, args[1:])
			return
		case "run":
			handleRun(configPath, args[1:])
			return
		case "status":
			handleStatus(configPath, args[1:])
			return
		case "send":
			handleSend(configPath, args[1:])
			return
		case "history":
			handleHistory(configPath, args[1:])
			return
		case "tui":
			handleTui(configPath, args[1:])
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
			printHelp()
			os.Exit(1)
		}
	}

	// No subcommand: launch the dashboard
	handleTui(configPath, nil)
}

// extractConfigFlag pulls -c/--config out of the arg list so it can appear
// before or after the subcommand.
func extractConfigFlag(args []string) (string, []string) {
	var configPath string
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-c", "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		default:
			rest = append(rest, args[i])
		}
	}
	return configPath, rest
}

func printHelp() {
	fmt.Printf(`Agent Tower v%s - notification and remote-control bridge for coding agents

Usage: tower [-c config.toml] <command> [options]

Commands:
  tui              Launch the dashboard (default)
  run              Run headless: poll sessions, serve front ends
  status           One-shot status of every configured session
  send <session> <text>   Inject a response into a session's pane
  history          Show recorded decisions and events
  init             Write a starter config file
  version          Show version
  help             Show this help

Examples:
  tower init                     # Create ~/.agent-tower/config.toml
  tower run                      # Headless, with web front end per config
  tower status -json             # Status as JSON (for scripts)
  tower send backend "2"         # Answer a pending decision by option key
  tower send api "retry with -v" # Or inject free text
  tower history -session api     # Past decisions for one session
`, Version)
}

// loadConfig resolves the config path (explicit flag or the default
// location) and loads it.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", configPath, err)
	}
	return cfg, nil
}

// buildCore assembles the registry, classifier, debouncer, and injector
// from configuration.
func buildCore(cfg *config.Config) (*tower.Registry, *tower.Classifier, *tower.Debouncer, *tower.Injector, error) {
	matchers, err := tower.CompileMatchers(cfg.Matchers())
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("compile patterns: %w", err)
	}

	sessions := make([]*tower.Session, 0, len(cfg.Sessions))
	for _, sc := range cfg.Sessions {
		pane := tmux.NewPane(sc.Pane, cfg.Poll.CaptureLines)
		sessions = append(sessions, tower.NewSession(sc.Name, sc.Pane, pane))
	}
	registry, err := tower.NewRegistry(sessions)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	classifier := tower.NewClassifier(matchers, cfg.StallThreshold())
	debouncer := tower.NewDebouncer(cfg.Cooldown())
	injector := tower.NewInjector(registry, cfg.SettleDelay())
	return registry, classifier, debouncer, injector, nil
}

func buildSummarizer(cfg *config.Config) summarize.Summarizer {
	if len(cfg.Summarizer.Command) == 0 {
		return nil
	}
	return &summarize.ExecSummarizer{
		Command:  cfg.Summarizer.Command,
		RawLimit: cfg.Summarizer.RawLimit,
	}
}

// openStore opens the interaction database per config. Returns nil when
// persistence is disabled.
func openStore(cfg *config.Config, towerDir string) (*store.Store, error) {
	path := cfg.Store.Path
	if path == "off" {
		return nil, nil
	}
	if path == "" {
		path = filepath.Join(towerDir, "tower.db")
	}
	return store.Open(path)
}

// lateController breaks the construction cycle between the front ends and
// the tower: front ends are handed to tower.New at construction, but their
// respond path needs the tower itself. The field is set before any front
// end starts serving.
type lateController struct {
	tw *tower.Tower
}

func (c *lateController) Respond(ctx context.Context, session, keyOrText string) error {
	return c.tw.Respond(ctx, session, keyOrText)
}

func initLogging(cfg *config.Config, towerDir string) {
	logDir := cfg.Logs.Dir
	if logDir == "" {
		logDir = towerDir
	}
	logging.Init(logging.Config{
		LogDir: logDir,
		Level:  cfg.Logs.Level,
		Format: cfg.Logs.Format,
		Debug:  os.Getenv("AGENT_TOWER_DEBUG") != "",
	})

	// SIGUSR1 dumps the ring buffer for post-mortem debugging
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	go func() {
		for range usr1 {
			dumpPath := filepath.Join(logDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err != nil {
				logging.Logger().Error("crash_dump_failed", "error", err.Error())
			} else {
				logging.Logger().Info("crash_dump_written", "path", dumpPath)
			}
		}
	}()
}

// handleRun runs the tower headless until SIGINT/SIGTERM.
func handleRun(configPath string, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	forceWeb := fs.Bool("web", false, "Start the web front end even if disabled in config")
	fs.Usage = func() {
		fmt.Println("Usage: tower run [options]")
		fmt.Println()
		fmt.Println("Poll the configured sessions and serve the configured front ends")
		fmt.Println("until interrupted.")
		fmt.Println()
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}
	if *forceWeb {
		cfg.Web.Enabled = true
	}
	if err := tmux.IsTmuxAvailable(); err != nil {
		fatal(err)
	}

	towerDir, err := config.GetTowerDir()
	if err != nil {
		fatal(err)
	}
	initLogging(cfg, towerDir)
	defer logging.Shutdown()

	tw, cleanup, err := assemble(cfg, towerDir, nil)
	if err != nil {
		fatal(err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("agent-tower v%s watching %d session(s)\n", Version, tw.Registry().Len())
	if err := tw.Run(ctx); err != nil {
		fatal(err)
	}
}

// handleTui runs the tower with the terminal dashboard attached.
func handleTui(configPath string, args []string) {
	fs := flag.NewFlagSet("tui", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println("Usage: tower tui")
		fmt.Println()
		fmt.Println("Launch the dashboard. The polling loop, hook listener, and web")
		fmt.Println("front end (when enabled) all run in the same process.")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}
	if err := tmux.IsTmuxAvailable(); err != nil {
		fatal(err)
	}

	towerDir, err := config.GetTowerDir()
	if err != nil {
		fatal(err)
	}
	initLogging(cfg, towerDir)
	defer logging.Shutdown()

	var dash *ui.Dashboard
	tw, cleanup, err := assemble(cfg, towerDir, func(ctrl *lateController, registry *tower.Registry) tower.FrontEnd {
		dash = ui.NewDashboard(ctrl, registry)
		return dash
	})
	if err != nil {
		fatal(err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		_ = tw.Run(ctx)
		dash.Quit()
	}()

	if err := dash.Run(); err != nil {
		fatal(err)
	}
	stop()
}

// assemble wires the full pipeline: store, front ends, tower, and hook
// listener. extraFrontEnd, when non-nil, contributes one more front end
// (the dashboard). The returned cleanup stops everything in reverse order.
func assemble(cfg *config.Config, towerDir string, extraFrontEnd func(*lateController, *tower.Registry) tower.FrontEnd) (*tower.Tower, func(), error) {
	registry, classifier, debouncer, injector, err := buildCore(cfg)
	if err != nil {
		return nil, nil, err
	}

	st, err := openStore(cfg, towerDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	ctrl := &lateController{}
	frontends := []tower.FrontEnd{tower.LogFrontEnd{}}
	var webSrv *web.Server
	if cfg.Web.Enabled {
		webSrv = web.NewServer(web.Config{
			ListenAddr:  cfg.Web.Listen,
			Token:       cfg.Web.Token,
			DataDir:     towerDir,
			PushSubject: cfg.Web.PushSubject,
		}, ctrl, registry)
		frontends = append(frontends, webSrv)
	}
	if extraFrontEnd != nil {
		frontends = append(frontends, extraFrontEnd(ctrl, registry))
	}

	opts := tower.Options{
		PollInterval:     cfg.PollInterval(),
		SummarizeTimeout: cfg.SummarizerTimeout(),
		DecisionTTL:      cfg.DecisionTTL(),
		Summarizer:       buildSummarizer(cfg),
		FrontEnds:        frontends,
	}
	if st != nil {
		opts.Recorder = st
	}
	tw := tower.New(registry, classifier, debouncer, injector, opts)
	ctrl.tw = tw

	var hookWatcher *hooks.Watcher
	if cfg.HooksEnabled() {
		eventsDir := cfg.Hooks.EventsDir
		if eventsDir == "" {
			eventsDir = filepath.Join(towerDir, "events")
		}
		hookWatcher, err = hooks.NewWatcher(eventsDir, tw)
		if err != nil {
			if st != nil {
				_ = st.Close()
			}
			return nil, nil, fmt.Errorf("hook listener: %w", err)
		}
		go hookWatcher.Start(context.Background())
	}

	if webSrv != nil {
		go func() {
			if err := webSrv.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "web server: %v\n", err)
			}
		}()
	}

	cleanup := func() {
		if hookWatcher != nil {
			hookWatcher.Stop()
		}
		if webSrv != nil {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = webSrv.Shutdown(shutCtx)
			cancel()
		}
		if st != nil {
			_ = st.Close()
		}
	}
	return tw, cleanup, nil
}

// handleStatus samples every configured pane once and prints the result.
// It runs against the panes directly, so it works whether or not a tower
// process is running.
func handleStatus(configPath string, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	quiet := fs.Bool("q", false, "Only output the count of sessions needing attention")
	aiSummary := fs.Bool("ai", false, "Summarize each pane with the configured summarizer")
	counts := fs.Bool("counts", false, "Include recorded event counts from the last 24h")
	fs.Usage = func() {
		fmt.Println("Usage: tower status [options] [session]")
		fmt.Println()
		fmt.Println("Sample each configured pane once and classify it.")
		fmt.Println()
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  tower status           # Per-session table")
		fmt.Println("  tower status -q        # Just the attention count")
		fmt.Println("  tower status -json     # Machine-readable")
		fmt.Println("  tower status -ai api   # Summarizer-written report for one session")
		fmt.Println("  tower status -counts   # Table plus recorded event counts")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}
	if err := tmux.IsTmuxAvailable(); err != nil {
		fatal(err)
	}

	registry, classifier, _, _, err := buildCore(cfg)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	tmux.RefreshPaneCache(ctx)

	if *aiSummary {
		statusSummaries(ctx, cfg, registry, fs.Args())
		return
	}

	sessions, err := selectSessions(registry, fs.Args())
	if err != nil {
		fatal(err)
	}

	type row struct {
		Name  string `json:"name"`
		Pane  string `json:"pane"`
		State string `json:"state"`
	}
	var rows []row
	attention := 0
	for _, sess := range sessions {
		state := tower.StateGone
		sample, err := sess.Pane.Sample(ctx)
		if err == nil {
			// One-shot: no history, so stuck cannot be detected here.
			cl := classifier.Classify(tower.StateIdle, sample.Text, true, 0, time.Hour)
			state = cl.State
		}
		if state.NeedsAttention() {
			attention++
		}
		rows = append(rows, row{Name: sess.Name, Pane: sess.PaneTarget, State: string(state)})
	}

	var eventCounts map[string]map[tower.EventKind]int
	if *counts {
		eventCounts, err = loadEventCounts(cfg, 24*time.Hour)
		if err != nil {
			fatal(err)
		}
	}

	switch {
	case *jsonOutput:
		out, _ := json.Marshal(struct {
			Attention int                                `json:"attention"`
			Total     int                                `json:"total"`
			Sessions  []row                              `json:"sessions"`
			Counts    map[string]map[tower.EventKind]int `json:"event_counts,omitempty"`
		}{attention, len(rows), rows, eventCounts})
		fmt.Println(string(out))
	case *quiet:
		fmt.Println(attention)
	default:
		styled := term.IsTerminal(int(os.Stdout.Fd()))
		for _, r := range rows {
			state := tower.State(r.State)
			label := string(state)
			if styled {
				label = stateStyleFor(state).Render(label)
			}
			fmt.Printf("%s %-16s %-12s %s\n", state.Icon(), r.Name, r.Pane, label)
		}
		if attention > 0 {
			fmt.Printf("\n%d session(s) need attention\n", attention)
		}
		if *counts {
			fmt.Printf("\nEvents in the last 24h:\n%s", formatEventCounts(eventCounts))
		}
	}
}

// selectSessions resolves an optional positional session argument against
// the registry. No argument means every configured session.
func selectSessions(registry *tower.Registry, names []string) ([]*tower.Session, error) {
	if len(names) == 0 {
		return registry.All(), nil
	}
	sess, err := registry.Get(names[0])
	if err != nil {
		return nil, err
	}
	return []*tower.Session{sess}, nil
}

// loadEventCounts opens the store and tallies recorded events over the
// trailing window.
func loadEventCounts(cfg *config.Config, window time.Duration) (map[string]map[tower.EventKind]int, error) {
	if cfg.Store.Path == "off" {
		return nil, fmt.Errorf("event counts need persistence ([store] path = \"off\")")
	}
	towerDir, err := config.GetTowerDir()
	if err != nil {
		return nil, err
	}
	st, err := openStore(cfg, towerDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return st.EventCounts(ctx, time.Now().Add(-window))
}

// formatEventCounts renders per-session event tallies one session per
// line, sessions and kinds in stable order.
func formatEventCounts(counts map[string]map[tower.EventKind]int) string {
	if len(counts) == 0 {
		return "  (none recorded)\n"
	}
	sessions := make([]string, 0, len(counts))
	for name := range counts {
		sessions = append(sessions, name)
	}
	sort.Strings(sessions)

	var b strings.Builder
	for _, name := range sessions {
		kinds := make([]string, 0, len(counts[name]))
		for k := range counts[name] {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		parts := make([]string, 0, len(kinds))
		for _, k := range kinds {
			parts = append(parts, fmt.Sprintf("%s=%d", k, counts[name][tower.EventKind(k)]))
		}
		fmt.Fprintf(&b, "  %-16s %s\n", name, strings.Join(parts, " "))
	}
	return b.String()
}

// statusSummaries runs the summarizer against each pane's current text,
// outside any event. Degrades to the raw-text fallback when no summarizer
// is configured or a call fails.
func statusSummaries(ctx context.Context, cfg *config.Config, registry *tower.Registry, names []string) {
	summarizer := buildSummarizer(cfg)
	fallback := &summarize.Fallback{}

	sessions, err := selectSessions(registry, names)
	if err != nil {
		fatal(err)
	}

	for _, sess := range sessions {
		sample, err := sess.Pane.Sample(ctx)
		if err != nil {
			fmt.Printf("%s: pane unavailable\n", sess.Name)
			continue
		}
		var summary *summarize.Summary
		if summarizer != nil {
			sctx, cancel := context.WithTimeout(ctx, cfg.SummarizerTimeout())
			summary, err = summarizer.Summarize(sctx, sample.Text, "status")
			cancel()
			if err != nil {
				fmt.Fprintf(os.Stderr, "summarizer failed for %s: %v\n", sess.Name, err)
			}
		}
		if summary == nil {
			summary, _ = fallback.Summarize(ctx, sample.Text, "status")
		}
		fmt.Printf("%s: %s\n", sess.Name, summary.SpeechText)
	}
}

func stateStyleFor(s tower.State) lipgloss.Style {
	switch s {
	case tower.StateWorking:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	case tower.StateWaiting:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	case tower.StateStuck:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	case tower.StateFailed, tower.StateGone:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	default:
		return lipgloss.NewStyle().Faint(true)
	}
}

// handleSend injects text into a session's pane. This goes straight to
// tmux, so it works whether or not a tower process is running; option-key
// resolution against a pending decision happens only inside a running
// tower (use the web API or the dashboard for that).
func handleSend(configPath string, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println("Usage: tower send <session> <text...>")
		fmt.Println()
		fmt.Println("Type the given text into the session's pane and press Enter.")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	rest := fs.Args()
	if len(rest) < 2 {
		fs.Usage()
		os.Exit(1)
	}
	sessionName := rest[0]
	text := strings.Join(rest[1:], " ")

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}
	if err := tmux.IsTmuxAvailable(); err != nil {
		fatal(err)
	}

	_, _, _, injector, err := buildCore(cfg)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	tmux.RefreshPaneCache(ctx)

	if err := injector.Inject(ctx, sessionName, text); err != nil {
		fatal(err)
	}
	fmt.Printf("Sent to %s\n", sessionName)
}

// handleHistory prints recorded decisions or events from the store.
func handleHistory(configPath string, args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	sessionFilter := fs.String("session", "", "Only show entries for this session")
	limit := fs.Int("limit", 20, "Maximum entries to show")
	showEvents := fs.Bool("events", false, "Show raw events instead of decisions")
	pruneOlder := fs.Duration("prune", 0, "Delete entries older than this (e.g. 720h) instead of listing")
	fs.Usage = func() {
		fmt.Println("Usage: tower history [options]")
		fmt.Println()
		fmt.Println("Show the recorded decision log (or raw events with -events).")
		fmt.Println()
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  tower history -session api   # Decisions for one session")
		fmt.Println("  tower history -events        # Raw event log")
		fmt.Println("  tower history -prune 720h    # Drop entries older than 30 days")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Store.Path == "off" {
		fatal(fmt.Errorf("persistence is disabled ([store] path = \"off\")"))
	}
	towerDir, err := config.GetTowerDir()
	if err != nil {
		fatal(err)
	}
	st, err := openStore(cfg, towerDir)
	if err != nil {
		fatal(fmt.Errorf("open store: %w", err))
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if *pruneOlder > 0 {
		n, err := st.Prune(ctx, *pruneOlder)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Pruned %d row(s) older than %s\n", n, *pruneOlder)
		return
	}

	if *showEvents {
		events, err := st.RecentEvents(ctx, *sessionFilter, *limit)
		if err != nil {
			fatal(err)
		}
		if len(events) == 0 {
			fmt.Println("No events recorded.")
			return
		}
		for _, ev := range events {
			fmt.Printf("%s  %-12s %-16s %s\n",
				ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Session, ev.Kind, ev.State)
		}
		return
	}

	interactions, err := st.RecentInteractions(ctx, *sessionFilter, *limit)
	if err != nil {
		fatal(err)
	}
	if len(interactions) == 0 {
		fmt.Println("No decisions recorded.")
		return
	}
	for _, in := range interactions {
		fmt.Println(store.DescribeInteraction(in))
	}
}

// handleInit writes a starter config file.
func handleInit(configPath string, args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println("Usage: tower [-c path] init")
		fmt.Println()
		fmt.Println("Write a starter config file (default: ~/.agent-tower/config.toml).")
		fmt.Println("Refuses to overwrite an existing file.")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			fatal(err)
		}
		path = p
	}
	if err := config.WriteExample(path); err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %s\n", path)
	fmt.Println("Edit the [[sessions]] entries to point at your tmux panes, then run: tower")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
