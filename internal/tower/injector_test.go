package tower

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInjectUnknownSessionLeavesRegistryUntouched(t *testing.T) {
	reg, panes := newTestRegistry(t, "api")
	inj := NewInjector(reg, time.Millisecond)

	before := reg.SnapshotAll()
	err := inj.Inject(context.Background(), "nope", "hello")
	if !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("err = %v, want ErrUnknownSession", err)
	}

	after := reg.SnapshotAll()
	if len(before) != len(after) || before[0].State != after[0].State {
		t.Error("registry changed on unknown-session inject")
	}
	if len(panes["api"].sentTexts()) != 0 {
		t.Error("text was sent despite unknown session")
	}
}

func TestInjectWritesAndResetsToWorking(t *testing.T) {
	reg, panes := newTestRegistry(t, "api")
	inj := NewInjector(reg, time.Millisecond)

	sess, _ := reg.Get("api")
	sess.lock()
	sess.state = StateWaiting
	sess.setPendingLocked(newDecision(EventPermission, time.Hour))
	sess.unlock()

	panes["api"].setText("$ running again")

	if err := inj.Inject(context.Background(), "api", "yes, proceed"); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	if got := panes["api"].sentTexts(); len(got) != 1 || got[0] != "yes, proceed" {
		t.Errorf("sent = %v", got)
	}
	snap, _ := reg.Get("api")
	if snap.State() != StateWorking {
		t.Errorf("state = %s, want working after inject", snap.State())
	}
	if sess.Pending() != nil {
		t.Error("pending decision not cleared by inject")
	}
}

func TestInjectRetriesOnceThenFails(t *testing.T) {
	reg, panes := newTestRegistry(t, "api")
	inj := NewInjector(reg, time.Millisecond)

	t.Run("first write fails, retry succeeds", func(t *testing.T) {
		panes["api"].sendErrs = []error{errors.New("tmux hiccup"), nil}
		if err := inj.Inject(context.Background(), "api", "retry me"); err != nil {
			t.Fatalf("Inject with one transient failure: %v", err)
		}
		if got := panes["api"].sentTexts(); len(got) != 1 {
			t.Errorf("sent = %v, want exactly one delivery", got)
		}
	})

	t.Run("both writes fail", func(t *testing.T) {
		panes["api"].sendErrs = []error{errors.New("down"), errors.New("still down")}
		err := inj.Inject(context.Background(), "api", "doomed")
		if !errors.Is(err, ErrInjectionFailed) {
			t.Fatalf("err = %v, want ErrInjectionFailed", err)
		}
	})
}

func TestInjectIdempotentStateReset(t *testing.T) {
	reg, panes := newTestRegistry(t, "api")
	inj := NewInjector(reg, time.Millisecond)
	panes["api"].setText("output")

	// Two immediate injections: the registry must never be observed in a
	// half-updated condition and ends at exactly one coherent state.
	if err := inj.Inject(context.Background(), "api", "go"); err != nil {
		t.Fatal(err)
	}
	firstChange := func() time.Time {
		s, _ := reg.Get("api")
		return s.Snapshot().LastStateChange
	}()
	if err := inj.Inject(context.Background(), "api", "go"); err != nil {
		t.Fatal(err)
	}

	sess, _ := reg.Get("api")
	snap := sess.Snapshot()
	if snap.State != StateWorking {
		t.Errorf("state = %s, want working", snap.State)
	}
	// Second inject found the session already working: no second reset.
	if !snap.LastStateChange.Equal(firstChange) {
		t.Error("state reset applied twice for idempotent inject")
	}
}
