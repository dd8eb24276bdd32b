// Package tower is the supervision core: it samples tmux panes hosting
// autonomous coding agents, classifies their state, debounces the resulting
// events, fans summaries out to front ends, and injects operator decisions
// back into the originating pane.
package tower

import (
	"time"

	"github.com/asheshgoplani/agent-tower/internal/summarize"
)

// State is the logical state of a supervised session.
type State string

const (
	// StateIdle means no activity is expected (empty or quiet pane).
	StateIdle State = "idle"
	// StateWorking means the agent is actively producing output.
	StateWorking State = "working"
	// StateWaiting means a permission/approval prompt was detected.
	StateWaiting State = "waiting_for_input"
	// StateStuck means no new output past the stall threshold while working.
	StateStuck State = "stuck"
	// StateFailed means an error/failure pattern was detected.
	StateFailed State = "failed"
	// StateGone means the pane no longer resolves. Terminal until restart.
	StateGone State = "gone"
)

// Icon returns the status glyph used in status reports.
func (s State) Icon() string {
	switch s {
	case StateWorking:
		return "🔵"
	case StateWaiting:
		return "🟡"
	case StateStuck:
		return "🟠"
	case StateFailed:
		return "🔴"
	case StateGone:
		return "⚫"
	default:
		return "⚪"
	}
}

// NeedsAttention reports whether the state should be escalated to a human.
func (s State) NeedsAttention() bool {
	switch s {
	case StateWaiting, StateStuck, StateFailed:
		return true
	default:
		return false
	}
}

// EventKind classifies a notification-worthy transition.
type EventKind string

const (
	EventError         EventKind = "error"
	EventPermission    EventKind = "permission"
	EventStuck         EventKind = "stuck"
	EventDeploy        EventKind = "deploy-decision"
	EventNormalCleared EventKind = "normal-cleared"
)

// Severity ranks event kinds for decision preemption: a new event replaces
// an outstanding pending decision only when it is strictly more severe.
func (k EventKind) Severity() int {
	switch k {
	case EventError:
		return 5
	case EventPermission:
		return 4
	case EventDeploy:
		return 3
	case EventStuck:
		return 2
	case EventNormalCleared:
		return 1
	default:
		return 0
	}
}

// RawTextLimit bounds the pane snapshot carried inside an Event.
const RawTextLimit = 4000

// Event is a detected, non-suppressed transition for a session.
type Event struct {
	SessionName string
	Kind        EventKind
	State       State
	RawText     string
	KeyLines    []string
	DetectedAt  time.Time
}

// NewEvent builds an event with the raw text bounded to RawTextLimit
// (trailing window, since the newest output is what matters).
func NewEvent(session string, kind EventKind, state State, rawText string, keyLines []string) Event {
	return Event{
		SessionName: session,
		Kind:        kind,
		State:       state,
		RawText:     summarize.TrailingWindow(rawText, RawTextLimit),
		KeyLines:    keyLines,
		DetectedAt:  time.Now(),
	}
}
