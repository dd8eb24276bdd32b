package tower

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum interval between repeated notifications
// for the same (session, event kind) pair.
const DefaultCooldown = 5 * time.Minute

type debounceKey struct {
	session string
	kind    EventKind
}

// Debouncer suppresses duplicate notifications per (session, kind).
// The cooldown is per-kind, not global: a failed event does not suppress a
// later permission event on the same session.
type Debouncer struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[debounceKey]time.Time
}

// NewDebouncer creates a debouncer with the given cooldown.
func NewDebouncer(cooldown time.Duration) *Debouncer {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Debouncer{
		cooldown: cooldown,
		last:     make(map[debounceKey]time.Time),
	}
}

// ShouldNotify reports whether a notification for (session, kind) is due
// at now, and records now as the last-notified time when it is.
func (d *Debouncer) ShouldNotify(session string, kind EventKind, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := debounceKey{session: session, kind: kind}
	if last, ok := d.last[key]; ok && now.Sub(last) < d.cooldown {
		return false
	}
	d.last[key] = now
	return true
}

// Reset clears the debounce record for a session so the next event of any
// kind notifies immediately. Called after an instruction is injected: the
// operator just acted, so the next development is news.
func (d *Debouncer) Reset(session string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.last {
		if key.session == session {
			delete(d.last, key)
		}
	}
}
