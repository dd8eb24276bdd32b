package ui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/asheshgoplani/agent-tower/internal/tower"
)

// refreshInterval is how often the dashboard re-pulls session snapshots.
const refreshInterval = 2 * time.Second

// maxFeedEntries bounds the notification feed at the bottom of the screen.
const maxFeedEntries = 6

// Controller routes human responses into panes.
type Controller interface {
	Respond(ctx context.Context, session, keyOrText string) error
}

// StatusSource provides session snapshots and pending decisions.
type StatusSource interface {
	SnapshotAll() []tower.Snapshot
	PendingDecision(name string) *tower.PendingDecision
}

type tickMsg time.Time

type themeMsg bool

// NotificationMsg delivers a live notification into the dashboard.
type NotificationMsg tower.Notification

type respondResultMsg struct {
	session string
	err     error
}

type feedEntry struct {
	at   time.Time
	text string
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	controller Controller
	status     StatusSource

	sessions []tower.Snapshot
	cursor   int

	inputMode bool
	input     string

	feed []feedEntry

	themeWatcher *ThemeWatcher
	width        int
	height       int
	statusLine   string
}

// NewModel builds the dashboard model. The theme watcher starts here so
// its lifetime matches the dashboard's, not a single Init call.
func NewModel(controller Controller, status StatusSource) Model {
	InitTheme(DetectTheme())
	return Model{
		controller:   controller,
		status:       status,
		sessions:     status.SnapshotAll(),
		themeWatcher: NewThemeWatcher(context.Background()),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tick()}
	if m.themeWatcher != nil {
		cmds = append(cmds, watchTheme(m.themeWatcher))
	}
	return tea.Batch(cmds...)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func watchTheme(tw *ThemeWatcher) tea.Cmd {
	return func() tea.Msg {
		isDark, ok := <-tw.Changes()
		if !ok {
			return nil
		}
		return themeMsg(isDark)
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.sessions = m.status.SnapshotAll()
		if m.cursor >= len(m.sessions) {
			m.cursor = max(0, len(m.sessions)-1)
		}
		return m, tick()

	case themeMsg:
		if bool(msg) {
			InitTheme("dark")
		} else {
			InitTheme("light")
		}
		if m.themeWatcher != nil {
			return m, watchTheme(m.themeWatcher)
		}
		return m, nil

	case NotificationMsg:
		n := tower.Notification(msg)
		m.pushFeed(fmt.Sprintf("%s %s: %s", n.State.Icon(), n.SessionName, n.SpeechText))
		m.sessions = m.status.SnapshotAll()
		return m, nil

	case respondResultMsg:
		if msg.err != nil {
			m.statusLine = failedStyle.Render(fmt.Sprintf("respond to %s failed: %v", msg.session, msg.err))
		} else {
			m.statusLine = helpKeyStyle.Render(fmt.Sprintf("response sent to %s", msg.session))
		}
		m.sessions = m.status.SnapshotAll()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.inputMode {
		switch msg.Type {
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input)
			m.inputMode = false
			m.input = ""
			if text == "" {
				return m, nil
			}
			return m, m.respond(text)
		case tea.KeyEsc:
			m.inputMode = false
			m.input = ""
			return m, nil
		case tea.KeyBackspace:
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
			return m, nil
		case tea.KeyRunes, tea.KeySpace:
			m.input += string(msg.Runes)
			if msg.Type == tea.KeySpace {
				m.input += " "
			}
			return m, nil
		default:
			return m, nil
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if m.themeWatcher != nil {
			m.themeWatcher.Close()
		}
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case "down", "j":
		if m.cursor < len(m.sessions)-1 {
			m.cursor++
		}
		return m, nil

	case "i":
		if m.selected() != nil {
			m.inputMode = true
			m.input = ""
		}
		return m, nil

	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		// Option keys route through the pending decision.
		if snap := m.selected(); snap != nil && snap.PendingDecisionID != "" {
			return m, m.respond(msg.String())
		}
		m.statusLine = dimStyle.Render("no pending decision on selected session")
		return m, nil

	case "y", "n":
		if m.selected() != nil {
			return m, m.respond(msg.String())
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) selected() *tower.Snapshot {
	if m.cursor < 0 || m.cursor >= len(m.sessions) {
		return nil
	}
	return &m.sessions[m.cursor]
}

func (m *Model) respond(keyOrText string) tea.Cmd {
	snap := m.selected()
	if snap == nil {
		return nil
	}
	session := snap.Name
	controller := m.controller
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := controller.Respond(ctx, session, keyOrText)
		if err != nil {
			uiLog.Warn("dashboard_respond_failed",
				slog.String("session", session),
				slog.String("error", err.Error()))
		}
		return respondResultMsg{session: session, err: err}
	}
}

func (m *Model) pushFeed(text string) {
	m.feed = append(m.feed, feedEntry{at: time.Now(), text: text})
	if len(m.feed) > maxFeedEntries {
		m.feed = m.feed[len(m.feed)-maxFeedEntries:]
	}
}

// View implements tea.Model.
func (m Model) View() string {
	themeMu.RLock()
	defer themeMu.RUnlock()

	width := m.width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("agent tower"))
	b.WriteString("\n\n")

	for i, snap := range m.sessions {
		b.WriteString(m.renderSession(i, snap, width))
		b.WriteString("\n")
	}

	if snap := m.selected(); snap != nil && snap.PendingDecisionID != "" {
		if d := m.status.PendingDecision(snap.Name); d != nil {
			b.WriteString("\n")
			b.WriteString(m.renderDecision(snap.Name, d, width))
		}
	}

	if len(m.feed) > 0 {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("recent"))
		b.WriteString("\n")
		for _, e := range m.feed {
			line := fmt.Sprintf("%s  %s", e.at.Format("15:04:05"), e.text)
			b.WriteString(truncate(line, width))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if m.inputMode {
		b.WriteString(selectStyle.Render("> ") + m.input + "_")
	} else if m.statusLine != "" {
		b.WriteString(m.statusLine)
	} else {
		b.WriteString(helpBar())
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderSession(i int, snap tower.Snapshot, width int) string {
	cursor := "  "
	if i == m.cursor {
		cursor = selectStyle.Render("> ")
	}

	name := runewidth.FillRight(runewidth.Truncate(snap.Name, 16, "…"), 16)
	state := stateStyle(snap.State).Render(
		runewidth.FillRight(string(snap.State), 17))

	age := ""
	if !snap.LastStateChange.IsZero() {
		age = dimStyle.Render(humanAge(time.Since(snap.LastStateChange)))
	}
	pending := ""
	if snap.PendingDecisionID != "" {
		pending = waitingStyle.Render(" [decision pending]")
	}
	if snap.QueuedDecisions > 0 {
		pending += dimStyle.Render(fmt.Sprintf(" +%d queued", snap.QueuedDecisions))
	}

	line := fmt.Sprintf("%s%s %s %s %s%s", cursor, snap.State.Icon(), name, state, age, pending)
	return truncate(line, width)
}

func (m Model) renderDecision(session string, d *tower.PendingDecision, width int) string {
	var b strings.Builder
	b.WriteString(truncate(waitingStyle.Render(d.Summary.SpeechText), width-4))
	b.WriteString("\n")
	for _, opt := range d.Summary.Options {
		line := fmt.Sprintf("%s %s", helpKeyStyle.Render("["+opt.Key+"]"), opt.Label)
		b.WriteString(truncate(line, width-4))
		b.WriteString("\n")
	}
	return panelStyle.Width(min(width-2, 72)).Render(strings.TrimRight(b.String(), "\n"))
}

func stateStyle(s tower.State) lipgloss.Style {
	switch s {
	case tower.StateWorking:
		return workingStyle
	case tower.StateWaiting:
		return waitingStyle
	case tower.StateStuck:
		return stuckStyle
	case tower.StateFailed:
		return failedStyle
	default:
		return dimStyle
	}
}

func helpBar() string {
	parts := []string{
		helpKeyStyle.Render("↑/↓") + dimStyle.Render(" select"),
		helpKeyStyle.Render("1-9") + dimStyle.Render(" answer"),
		helpKeyStyle.Render("i") + dimStyle.Render(" free text"),
		helpKeyStyle.Render("q") + dimStyle.Render(" quit"),
	}
	return strings.Join(parts, dimStyle.Render("  ·  "))
}

func truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width-1, "…")
}

func humanAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
