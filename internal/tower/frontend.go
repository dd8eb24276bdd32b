package tower

import (
	"context"
	"log/slog"
	"time"

	"github.com/asheshgoplani/agent-tower/internal/summarize"
)

// Notification is the structured payload delivered to front ends when a
// session needs attention. Front ends keep only the session name and
// decision id; the decision itself stays owned by the registry.
type Notification struct {
	SessionName string             `json:"session"`
	Kind        EventKind          `json:"kind"`
	State       State              `json:"state"`
	SpeechText  string             `json:"speech"`
	Options     []summarize.Option `json:"options,omitempty"`
	KeyLines    []string           `json:"key_lines,omitempty"`
	DecisionID  string             `json:"decision_id,omitempty"`
	DetectedAt  time.Time          `json:"detected_at"`
}

// FrontEnd is the narrow adapter interface every transport implements.
// Notify is fire-and-forget from the scheduler's point of view: delivery
// runs on its own goroutine with its own timeout and a failure is logged,
// never propagated back into the sampling loop. Responses flow back
// through Tower.Respond; the core never knows which transport delivered a
// given response.
type FrontEnd interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Interaction is the record written for each resolved decision.
type Interaction struct {
	ID          string
	Timestamp   time.Time
	Session     string
	EventKind   EventKind
	SpeechText  string
	Options     []summarize.Option
	Response    string
	Instruction string
	Outcome     string
}

// Interaction outcomes. A response that resolves no pending option is
// still injected as free text, but recorded as no_match.
const (
	OutcomeSent       = "sent"
	OutcomeSendFailed = "send_failed"
	OutcomeNoMatch    = "no_match"
	OutcomeExpired    = "expired"
)

// Recorder persists events and interactions. The core treats persistence
// as an external collaborator: a nil recorder or a recorder error never
// affects supervision.
type Recorder interface {
	RecordEvent(ctx context.Context, ev Event) error
	RecordInteraction(ctx context.Context, in Interaction) error
}

// LogFrontEnd writes every notification to the structured log. It is
// always attached, so a headless run with no other front end still leaves
// a trace of what needed attention.
type LogFrontEnd struct{}

// Name implements FrontEnd.
func (LogFrontEnd) Name() string { return "log" }

// Notify implements FrontEnd.
func (LogFrontEnd) Notify(_ context.Context, n Notification) error {
	notifLog.Info("notification",
		slog.String("session", n.SessionName),
		slog.String("kind", string(n.Kind)),
		slog.String("state", string(n.State)),
		slog.String("speech", n.SpeechText),
		slog.Int("options", len(n.Options)))
	return nil
}
