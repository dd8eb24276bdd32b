// Package summarize defines the narrow contract the tower core uses to turn
// raw pane output into a speakable summary with actionable options. The
// actual intelligence lives behind this interface; the core only requires
// that implementations respect the context deadline.
package summarize

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Option is one action the operator can pick, keyed the way a phone keypad
// would be.
type Option struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Instruction string `json:"instruction"`
}

// Summary is the structured result delivered to front ends.
type Summary struct {
	SpeechText string   `json:"speech"`
	Options    []Option `json:"options"`
	KeyLines   []string `json:"key_lines,omitempty"`
}

// Summarizer converts raw pane text into a Summary. Implementations must
// return promptly once ctx is done; the scheduler treats overruns as failed.
type Summarizer interface {
	Summarize(ctx context.Context, rawText string, eventKind string) (*Summary, error)
}

// StopOptionKey is always present in a summary's option list so the
// operator can halt the agent no matter what the summarizer proposed.
const StopOptionKey = "9"

var stopOption = Option{
	Key:         StopOptionKey,
	Label:       "stop everything",
	Instruction: "Stop immediately and wait for me",
}

// EnsureStopOption appends the stop option if no option uses its key.
func EnsureStopOption(opts []Option) []Option {
	for _, o := range opts {
		if o.Key == StopOptionKey {
			return opts
		}
	}
	return append(opts, stopOption)
}

// Fallback is the degraded-mode summarizer: truncated raw text, generic
// options. Used directly when no summarizer is configured, and as the
// substitute output when a real summarizer times out or errors.
type Fallback struct {
	// MaxChars bounds the raw text carried into the summary (default 500).
	MaxChars int
}

func (f *Fallback) Summarize(_ context.Context, rawText string, eventKind string) (*Summary, error) {
	max := f.MaxChars
	if max <= 0 {
		max = 500
	}
	text := TrailingWindow(strings.TrimSpace(rawText), max)

	speech := "Session needs your attention."
	switch eventKind {
	case "error":
		speech = "Session hit an error and stopped making progress."
	case "permission":
		speech = "Session is waiting for your approval."
	case "stuck":
		speech = "Session has produced no output for a while and may be stuck."
	case "deploy-decision":
		speech = "Session is waiting on a deploy decision."
	}

	return &Summary{
		SpeechText: speech,
		Options: EnsureStopOption([]Option{
			{Key: "1", Label: "continue", Instruction: "Continue with the current task"},
			{Key: "2", Label: "stop", Instruction: "Stop and wait for me"},
		}),
		KeyLines: lastLines(text, 5),
	}, nil
}

// TrailingWindow keeps the last max bytes of s. The cut is advanced past
// any UTF-8 continuation bytes so the kept window never starts mid-rune.
func TrailingWindow(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	s = s[len(s)-max:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}

func lastLines(text string, n int) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
