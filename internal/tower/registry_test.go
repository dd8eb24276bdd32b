package tower

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asheshgoplani/agent-tower/internal/tmux"
)

// fakePane is an in-memory PaneIO for tests.
type fakePane struct {
	mu       sync.Mutex
	text     string
	err      error
	sendErrs []error // popped per SendKeys call; nil entry means success
	sent     []string
}

func (f *fakePane) setText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
}

func (f *fakePane) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakePane) Sample(_ context.Context) (*tmux.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &tmux.Sample{
		Text:        f.text,
		Fingerprint: tmux.Fingerprint(f.text),
		TakenAt:     time.Now(),
	}, nil
}

func (f *fakePane) SendKeys(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakePane) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakePane) InvalidateCache() {}

func newTestRegistry(t *testing.T, names ...string) (*Registry, map[string]*fakePane) {
	t.Helper()
	panes := make(map[string]*fakePane)
	var sessions []*Session
	for i, name := range names {
		pane := &fakePane{}
		panes[name] = pane
		sessions = append(sessions, NewSession(name, "%"+string(rune('0'+i)), pane))
	}
	reg, err := NewRegistry(sessions)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg, panes
}

func TestRegistryRejectsEmptyAndDuplicates(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Error("empty registry must be an error")
	}

	dup := []*Session{
		NewSession("api", "%0", &fakePane{}),
		NewSession("api", "%1", &fakePane{}),
	}
	if _, err := NewRegistry(dup); err == nil {
		t.Error("duplicate session names must be an error")
	}
}

func TestRegistryUnknownSessionWithSuggestion(t *testing.T) {
	reg, _ := newTestRegistry(t, "backend", "frontend")

	_, err := reg.Get("backnd")
	if !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("err = %v, want ErrUnknownSession", err)
	}
	if !strings.Contains(err.Error(), "backend") {
		t.Errorf("error %q carries no suggestion", err.Error())
	}
}

func TestRegistrySnapshotOrderMatchesConfig(t *testing.T) {
	reg, _ := newTestRegistry(t, "zeta", "alpha", "mid")

	snaps := reg.SnapshotAll()
	want := []string{"zeta", "alpha", "mid"}
	for i, s := range snaps {
		if s.Name != want[i] {
			t.Errorf("snapshot[%d].Name = %s, want %s", i, s.Name, want[i])
		}
	}
}

func TestRegistrySnapshotIsConsistentUnderConcurrentWrites(t *testing.T) {
	reg, panes := newTestRegistry(t, "api")
	panes["api"].setText("working away")

	sess, _ := reg.Get("api")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			sess.lock()
			sess.applySampleLocked(tmux.Fingerprint("x"), time.Now(), Classification{State: StateWorking})
			sess.unlock()
		}
	}()

	for i := 0; i < 1000; i++ {
		for _, snap := range reg.SnapshotAll() {
			// A torn update would show a state outside the enum or a
			// zero name; both indicate the lock was bypassed.
			if snap.Name == "" {
				t.Fatal("torn snapshot: empty name")
			}
			switch snap.State {
			case StateIdle, StateWorking, StateWaiting, StateStuck, StateFailed, StateGone:
			default:
				t.Fatalf("torn snapshot: invalid state %q", snap.State)
			}
		}
	}
	close(stop)
	wg.Wait()
}
