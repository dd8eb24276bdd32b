package tower

import (
	"context"
	"sync"
	"time"

	"github.com/asheshgoplani/agent-tower/internal/tmux"
)

// PaneIO is the slice of pane behavior the core depends on. *tmux.Pane
// implements it; tests substitute fakes.
type PaneIO interface {
	Sample(ctx context.Context) (*tmux.Sample, error)
	SendKeys(ctx context.Context, text string) error
	InvalidateCache()
}

// Session is a tracked terminal pane under supervision. All mutable fields
// are guarded by mu; the scheduler and the injector are the only writers.
type Session struct {
	Name       string
	PaneTarget string
	Pane       PaneIO

	mu sync.Mutex

	state           State
	lastFingerprint string
	lastSampleTime  time.Time
	lastStateChange time.Time
	lastChangeTime  time.Time // last time the fingerprint changed
	lastEventKind   EventKind
	lastEventTime   time.Time

	pending *PendingDecision
	queued  []*PendingDecision
}

// NewSession creates a session in the idle state.
func NewSession(name, paneTarget string, pane PaneIO) *Session {
	now := time.Now()
	return &Session{
		Name:            name,
		PaneTarget:      paneTarget,
		Pane:            pane,
		state:           StateIdle,
		lastStateChange: now,
		lastChangeTime:  now,
	}
}

// Snapshot is an immutable point-in-time copy of a session's state,
// safe to hand to front ends.
type Snapshot struct {
	Name            string
	PaneTarget      string
	State           State
	LastFingerprint string
	LastSampleTime  time.Time
	LastStateChange time.Time
	LastEventKind   EventKind
	LastEventTime   time.Time

	PendingDecisionID string
	PendingOptions    int
	QueuedDecisions   int
}

// lock/unlock expose per-session mutual exclusion to the injector so a
// concurrent scheduler pass on the same pane cannot interleave with an
// injection's write-settle-resample sequence.
func (s *Session) lock()   { s.mu.Lock() }
func (s *Session) unlock() { s.mu.Unlock() }

// snapshotLocked builds a Snapshot. Caller holds s.mu.
func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Name:            s.Name,
		PaneTarget:      s.PaneTarget,
		State:           s.state,
		LastFingerprint: s.lastFingerprint,
		LastSampleTime:  s.lastSampleTime,
		LastStateChange: s.lastStateChange,
		LastEventKind:   s.lastEventKind,
		LastEventTime:   s.lastEventTime,
		QueuedDecisions: len(s.queued),
	}
	if s.pending != nil {
		snap.PendingDecisionID = s.pending.ID
		if s.pending.Summary != nil {
			snap.PendingOptions = len(s.pending.Summary.Options)
		}
	}
	return snap
}

// Snapshot returns a consistent point-in-time view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// State returns the current logical state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// applySampleLocked records a sample and its classification atomically.
// Caller holds s.mu. Returns the time since the last fingerprint change
// as it stood before this sample, for classifier input symmetry in tests.
func (s *Session) applySampleLocked(fp string, now time.Time, cl Classification) {
	if fp != s.lastFingerprint {
		s.lastFingerprint = fp
		s.lastChangeTime = now
	}
	s.lastSampleTime = now
	if cl.State != s.state {
		s.state = cl.State
		s.lastStateChange = now
	}
	if cl.Emit {
		s.lastEventKind = cl.Kind
		s.lastEventTime = now
	}
}

// markGoneLocked transitions the session to the terminal gone state.
func (s *Session) markGoneLocked(now time.Time) {
	if s.state != StateGone {
		s.state = StateGone
		s.lastStateChange = now
	}
	s.lastSampleTime = now
}

// setPendingLocked installs a decision per the preemption policy: a
// strictly more severe event replaces the outstanding decision, anything
// else queues behind it. Never silently drops. Returns the decision that
// was displaced, if any.
func (s *Session) setPendingLocked(d *PendingDecision) (displaced *PendingDecision) {
	if s.pending == nil || s.pending.Resolved || s.pending.Expired(time.Now()) {
		s.pending = d
		return nil
	}
	if d.Event.Kind.Severity() > s.pending.Event.Kind.Severity() {
		displaced = s.pending
		s.pending = d
		// The displaced decision goes to the queue head so it is not lost.
		s.queued = append([]*PendingDecision{displaced}, s.queued...)
		return displaced
	}
	s.queued = append(s.queued, d)
	return nil
}

// resolvePendingLocked marks the current decision resolved and promotes
// the next queued decision, skipping expired ones. Returns the resolved
// decision (nil when none was pending).
func (s *Session) resolvePendingLocked(instruction string, now time.Time) *PendingDecision {
	resolved := s.pending
	if resolved != nil {
		resolved.Resolved = true
		resolved.ChosenInstruction = instruction
	}
	s.pending = nil
	for len(s.queued) > 0 {
		next := s.queued[0]
		s.queued = s.queued[1:]
		if !next.Expired(now) {
			s.pending = next
			break
		}
	}
	return resolved
}

// Pending returns the unresolved decision, nil if none.
func (s *Session) Pending() *PendingDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil && !s.pending.Resolved {
		return s.pending
	}
	return nil
}
