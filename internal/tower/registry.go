package tower

import (
	"errors"
	"fmt"

	"github.com/sahilm/fuzzy"
)

// ErrUnknownSession is returned when a front end references a session name
// that matches nothing in the configuration. User error, never a crash.
var ErrUnknownSession = errors.New("unknown session")

// Registry is the in-memory source of truth for all tracked sessions.
// The session set is fixed at construction (config order is preserved);
// mutation of individual sessions goes through each session's own lock, so
// unrelated sessions never serialize against each other.
type Registry struct {
	order    []string
	sessions map[string]*Session
}

// NewRegistry builds a registry from configured sessions. Fails on
// duplicate names or an empty set — no sessions defined is the only fatal
// configuration error in the tower.
func NewRegistry(sessions []*Session) (*Registry, error) {
	if len(sessions) == 0 {
		return nil, errors.New("no sessions configured")
	}
	r := &Registry{
		sessions: make(map[string]*Session, len(sessions)),
	}
	for _, s := range sessions {
		if _, dup := r.sessions[s.Name]; dup {
			return nil, fmt.Errorf("duplicate session name %q", s.Name)
		}
		r.sessions[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return r, nil
}

// Get looks a session up by name. The error message carries a fuzzy
// best-match suggestion so the operator immediately sees a likely typo.
func (r *Registry) Get(name string) (*Session, error) {
	if s, ok := r.sessions[name]; ok {
		return s, nil
	}
	if matches := fuzzy.Find(name, r.order); len(matches) > 0 {
		return nil, fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownSession, name, matches[0].Str)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSession, name)
}

// Names returns session names in configuration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	return len(r.order)
}

// All returns the sessions in configuration order.
func (r *Registry) All() []*Session {
	out := make([]*Session, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sessions[name])
	}
	return out
}

// PendingDecision returns the unresolved decision for a session, nil when
// there is none or the name is unknown. Front ends use this to render
// option menus.
func (r *Registry) PendingDecision(name string) *PendingDecision {
	s, ok := r.sessions[name]
	if !ok {
		return nil
	}
	return s.Pending()
}

// SnapshotAll returns a point-in-time copy of every session in
// configuration order. Each snapshot is taken under that session's lock,
// so no snapshot ever observes a torn update, and a slow session cannot
// block snapshots of the others for long.
func (r *Registry) SnapshotAll() []Snapshot {
	out := make([]Snapshot, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sessions[name].Snapshot())
	}
	return out
}
