package tower

import (
	"time"

	"github.com/google/uuid"

	"github.com/asheshgoplani/agent-tower/internal/summarize"
)

// DefaultDecisionTTL is how long a pending decision waits for a human
// response before expiring.
const DefaultDecisionTTL = 30 * time.Minute

// PendingDecision correlates an outbound notification with the eventual
// human response. Owned by the session registry; front ends hold only the
// (session name, decision id) reference.
type PendingDecision struct {
	ID        string
	Event     Event
	Summary   *summarize.Summary
	CreatedAt time.Time
	ExpiresAt time.Time

	Resolved          bool
	ChosenInstruction string
}

// NewPendingDecision creates an unresolved decision for an event.
func NewPendingDecision(ev Event, summary *summarize.Summary, ttl time.Duration) *PendingDecision {
	if ttl <= 0 {
		ttl = DefaultDecisionTTL
	}
	now := time.Now()
	return &PendingDecision{
		ID:        uuid.NewString(),
		Event:     ev,
		Summary:   summary,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the decision's response window has passed.
func (d *PendingDecision) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// OptionFor resolves a response key to its instruction. Returns the
// matched option and true, or false when the key matches no option.
func (d *PendingDecision) OptionFor(key string) (summarize.Option, bool) {
	if d.Summary == nil {
		return summarize.Option{}, false
	}
	for _, opt := range d.Summary.Options {
		if opt.Key == key {
			return opt, true
		}
	}
	return summarize.Option{}, false
}
