// Package ui is the terminal dashboard: a compact live view of every
// supervised session with inline response keys.
package ui

import (
	"sync"

	"github.com/charmbracelet/lipgloss"
	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/asheshgoplani/agent-tower/internal/logging"
)

var uiLog = logging.ForComponent(logging.CompUI)

// Theme represents the current color scheme
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

var currentTheme Theme = ThemeDark

// Dark Theme - Tokyo Night
var darkColors = struct {
	Border, Text, TextDim              lipgloss.Color
	Accent, Green, Yellow, Orange, Red lipgloss.Color
}{
	Border:  lipgloss.Color("#414868"),
	Text:    lipgloss.Color("#c0caf5"),
	TextDim: lipgloss.Color("#787fa0"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Green:   lipgloss.Color("#9ece6a"),
	Yellow:  lipgloss.Color("#e0af68"),
	Orange:  lipgloss.Color("#ff9e64"),
	Red:     lipgloss.Color("#f7768e"),
}

// Light Theme - Tokyo Night Light variant
var lightColors = struct {
	Border, Text, TextDim              lipgloss.Color
	Accent, Green, Yellow, Orange, Red lipgloss.Color
}{
	Border:  lipgloss.Color("#9699a3"),
	Text:    lipgloss.Color("#343b58"),
	TextDim: lipgloss.Color("#6a6d7c"),
	Accent:  lipgloss.Color("#34548a"),
	Green:   lipgloss.Color("#485e30"),
	Yellow:  lipgloss.Color("#8f5e15"),
	Orange:  lipgloss.Color("#965027"),
	Red:     lipgloss.Color("#8c4351"),
}

// themeMu protects global style variables during live theme switches.
var themeMu sync.RWMutex

var (
	titleStyle   lipgloss.Style
	panelStyle   lipgloss.Style
	dimStyle     lipgloss.Style
	selectStyle  lipgloss.Style
	workingStyle lipgloss.Style
	waitingStyle lipgloss.Style
	stuckStyle   lipgloss.Style
	failedStyle  lipgloss.Style
	helpKeyStyle lipgloss.Style
)

// InitTheme sets the active palette. Must be called before rendering.
func InitTheme(theme string) {
	themeMu.Lock()
	defer themeMu.Unlock()

	colors := darkColors
	currentTheme = ThemeDark
	if theme == "light" {
		colors = lightColors
		currentTheme = ThemeLight
	}

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colors.Accent)
	panelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colors.Border).
		Padding(0, 1)
	dimStyle = lipgloss.NewStyle().Foreground(colors.TextDim)
	selectStyle = lipgloss.NewStyle().Bold(true).Foreground(colors.Accent)
	workingStyle = lipgloss.NewStyle().Foreground(colors.Accent)
	waitingStyle = lipgloss.NewStyle().Foreground(colors.Yellow)
	stuckStyle = lipgloss.NewStyle().Foreground(colors.Orange)
	failedStyle = lipgloss.NewStyle().Bold(true).Foreground(colors.Red)
	helpKeyStyle = lipgloss.NewStyle().Bold(true).Foreground(colors.Green)
}

// GetCurrentTheme returns the active theme.
func GetCurrentTheme() Theme {
	themeMu.RLock()
	defer themeMu.RUnlock()
	return currentTheme
}

// DetectTheme asks the OS for its dark-mode setting, defaulting to dark.
func DetectTheme() string {
	isDark, err := dark.IsDarkMode()
	if err != nil {
		return "dark"
	}
	if isDark {
		return "dark"
	}
	return "light"
}

func init() {
	InitTheme("dark")
}
