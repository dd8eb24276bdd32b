package tower

import (
	"strings"
	"time"
)

// DefaultStallThreshold is how long a working session's output may stay
// unchanged before it is reclassified stuck.
const DefaultStallThreshold = 60 * time.Second

// Classifier decides a session's next state from its current pane text and
// prior recorded state. It is pure: all mutable session bookkeeping lives
// in the registry.
type Classifier struct {
	matchers       *ResolvedMatchers
	stallThreshold time.Duration
}

// NewClassifier builds a classifier over the given matcher set.
func NewClassifier(matchers *ResolvedMatchers, stallThreshold time.Duration) *Classifier {
	if stallThreshold <= 0 {
		stallThreshold = DefaultStallThreshold
	}
	return &Classifier{matchers: matchers, stallThreshold: stallThreshold}
}

// StallThreshold returns the configured stall threshold.
func (c *Classifier) StallThreshold() time.Duration {
	return c.stallThreshold
}

// Classification is the classifier's verdict for one sample.
type Classification struct {
	State State

	// Kind is meaningful only when Emit is true.
	Kind EventKind

	// Emit reports whether this sample constitutes a notification-worthy
	// event (a real transition, or a periodic stuck re-raise).
	Emit bool

	// KeyLines are the matched lines when a pattern fired.
	KeyLines []string
}

// Classify maps (previous state, current text) to a new state and an
// optional event.
//
//	changed     — whether the content fingerprint differs from last sample
//	sinceChange — time since the fingerprint last changed
//	sinceEvent  — time since the last emitted event for this session
//
// Pattern matches take precedence over the fingerprint heuristic; error
// patterns take precedence over permission patterns. Events are emitted
// only on actual transitions, except stuck, which re-raises every stall
// threshold interval.
func (c *Classifier) Classify(prev State, text string, changed bool, sinceChange, sinceEvent time.Duration) Classification {
	// Gone is terminal until reconfiguration.
	if prev == StateGone {
		return Classification{State: StateGone}
	}

	if match := c.matchers.Match(text); match != nil {
		out := Classification{State: match.State, Kind: match.Kind, KeyLines: match.KeyLines}
		out.Emit = match.State != prev
		return out
	}

	if strings.TrimSpace(text) == "" {
		return Classification{State: StateIdle}
	}

	if changed {
		out := Classification{State: StateWorking}
		// Coming back from an attention state is itself worth reporting:
		// the operator was told something was wrong and should hear that
		// it cleared.
		if prev.NeedsAttention() {
			out.Kind = EventNormalCleared
			out.Emit = true
		}
		return out
	}

	// Unchanged output: working sessions go stuck past the threshold, and
	// stuck sessions re-raise every threshold interval since the human may
	// need repeated prompting while the agent is blocked.
	if sinceChange >= c.stallThreshold {
		switch prev {
		case StateWorking:
			return Classification{State: StateStuck, Kind: EventStuck, Emit: true}
		case StateStuck:
			if sinceEvent >= c.stallThreshold {
				return Classification{State: StateStuck, Kind: EventStuck, Emit: true}
			}
			return Classification{State: StateStuck}
		}
	}

	return Classification{State: prev}
}
