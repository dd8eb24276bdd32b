package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/asheshgoplani/agent-tower/internal/logging"
)

var sumLog = logging.ForComponent(logging.CompNotif)

// ExecSummarizer shells out to a configured command (typically a small
// script wrapping an LLM CLI). The event is written to stdin as JSON and
// the command must print a Summary as JSON on stdout:
//
//	{"speech": "...", "options": [{"key":"1","label":"...","instruction":"..."}]}
//
// The command is killed when ctx expires.
type ExecSummarizer struct {
	Command []string

	// RawLimit bounds how much pane text is handed to the command
	// (default 2000 chars, trailing window).
	RawLimit int
}

type execRequest struct {
	EventKind string `json:"event_kind"`
	RawOutput string `json:"raw_output"`
}

func (e *ExecSummarizer) Summarize(ctx context.Context, rawText string, eventKind string) (*Summary, error) {
	if len(e.Command) == 0 {
		return nil, fmt.Errorf("summarizer command not configured")
	}

	limit := e.RawLimit
	if limit <= 0 {
		limit = 2000
	}
	rawText = TrailingWindow(rawText, limit)

	input, err := json.Marshal(execRequest{EventKind: eventKind, RawOutput: rawText})
	if err != nil {
		return nil, fmt.Errorf("marshal summarizer request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("summarizer timed out: %w", ctx.Err())
		}
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg != "" {
			return nil, fmt.Errorf("summarizer failed: %s", errMsg)
		}
		return nil, fmt.Errorf("summarizer failed: %w", err)
	}

	var summary Summary
	if err := json.Unmarshal(stdout.Bytes(), &summary); err != nil {
		sumLog.Warn("summarizer_bad_json", "error", err.Error())
		return nil, fmt.Errorf("summarizer returned invalid JSON: %w", err)
	}
	if strings.TrimSpace(summary.SpeechText) == "" {
		return nil, fmt.Errorf("summarizer returned empty speech text")
	}

	summary.Options = EnsureStopOption(summary.Options)
	return &summary, nil
}
