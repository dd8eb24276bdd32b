package summarize

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestFallbackAlwaysHasStopOption(t *testing.T) {
	f := &Fallback{}
	for _, kind := range []string{"error", "permission", "stuck", "deploy-decision", "normal-cleared"} {
		s, err := f.Summarize(context.Background(), "some output", kind)
		if err != nil {
			t.Fatalf("Fallback(%s): %v", kind, err)
		}
		var hasStop bool
		for _, o := range s.Options {
			if o.Key == StopOptionKey {
				hasStop = true
			}
		}
		if !hasStop {
			t.Errorf("kind %s: no stop option in %+v", kind, s.Options)
		}
	}
}

func TestFallbackTruncatesRawText(t *testing.T) {
	f := &Fallback{MaxChars: 40}
	long := strings.Repeat("line of output\n", 100)
	s, err := f.Summarize(context.Background(), long, "error")
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range s.KeyLines {
		if len(line) > 40 {
			t.Errorf("key line longer than cap: %q", line)
		}
	}
	if s.SpeechText == "" {
		t.Error("empty speech text")
	}
}

func TestTrailingWindowKeepsRuneBoundary(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short passes through", "hello", 10, "hello"},
		{"ascii cut", "abcdef", 3, "def"},
		{"cut lands mid-rune", "abécd", 3, "cd"}, // é is 2 bytes; a naive byte cut keeps its tail
		{"all multibyte", strings.Repeat("日", 10), 7, "日日"},
		{"zero max passes through", "abc", 0, "abc"},
	}
	for _, tc := range cases {
		if got := TrailingWindow(tc.in, tc.max); got != tc.want {
			t.Errorf("%s: TrailingWindow(%q, %d) = %q, want %q", tc.name, tc.in, tc.max, got, tc.want)
		}
	}
}

func TestFallbackTruncationDoesNotSplitRunes(t *testing.T) {
	f := &Fallback{MaxChars: 41}
	long := strings.Repeat("é", 100) // 200 bytes; a 41-byte cut lands mid-rune
	s, err := f.Summarize(context.Background(), long, "error")
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range s.KeyLines {
		if !utf8.ValidString(line) {
			t.Errorf("key line carries a broken rune: %q", line)
		}
	}
}

func TestEnsureStopOptionIdempotent(t *testing.T) {
	opts := EnsureStopOption(nil)
	if len(opts) != 1 {
		t.Fatalf("want 1 option, got %d", len(opts))
	}
	again := EnsureStopOption(opts)
	if len(again) != 1 {
		t.Errorf("stop option duplicated: %+v", again)
	}
}

func TestExecSummarizerParsesJSON(t *testing.T) {
	e := &ExecSummarizer{Command: []string{"sh", "-c",
		`echo '{"speech":"tests are failing","options":[{"key":"1","label":"retry","instruction":"run the tests again"}]}'`}}
	s, err := e.Summarize(context.Background(), "FAILED test_auth", "error")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.SpeechText != "tests are failing" {
		t.Errorf("speech = %q", s.SpeechText)
	}
	// Stop option appended to whatever the command produced.
	if s.Options[len(s.Options)-1].Key != StopOptionKey {
		t.Errorf("stop option missing: %+v", s.Options)
	}
}

func TestExecSummarizerBadJSON(t *testing.T) {
	e := &ExecSummarizer{Command: []string{"sh", "-c", "echo not-json"}}
	if _, err := e.Summarize(context.Background(), "raw", "error"); err == nil {
		t.Error("expected error for invalid JSON output")
	}
}

func TestExecSummarizerTimeout(t *testing.T) {
	e := &ExecSummarizer{Command: []string{"sleep", "5"}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := e.Summarize(ctx, "raw", "stuck")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("summarizer not killed on deadline, took %v", time.Since(start))
	}
}
