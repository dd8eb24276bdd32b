package tower

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/asheshgoplani/agent-tower/internal/summarize"
	"github.com/asheshgoplani/agent-tower/internal/tmux"
)

type fakeFrontEnd struct {
	name string
	ch   chan Notification
	err  error
}

func newFakeFrontEnd(name string) *fakeFrontEnd {
	return &fakeFrontEnd{name: name, ch: make(chan Notification, 16)}
}

func (f *fakeFrontEnd) Name() string { return f.name }

func (f *fakeFrontEnd) Notify(ctx context.Context, n Notification) error {
	if f.err != nil {
		return f.err
	}
	select {
	case f.ch <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeFrontEnd) wait(t *testing.T) Notification {
	t.Helper()
	select {
	case n := <-f.ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notification delivered")
		return Notification{}
	}
}

func (f *fakeFrontEnd) expectNone(t *testing.T) {
	t.Helper()
	select {
	case n := <-f.ch:
		t.Fatalf("unexpected notification: %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

type fakeSummarizer struct {
	summary *summarize.Summary
	err     error
	mu      sync.Mutex
	calls   int
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ string, _ string) (*summarize.Summary, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

type memRecorder struct {
	mu           sync.Mutex
	events       []Event
	interactions []Interaction
}

func (m *memRecorder) RecordEvent(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memRecorder) RecordInteraction(_ context.Context, in Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactions = append(m.interactions, in)
	return nil
}

func newTestTower(t *testing.T, reg *Registry, opts Options) *Tower {
	t.Helper()
	matchers, err := CompileMatchers(DefaultRawMatchers())
	if err != nil {
		t.Fatal(err)
	}
	if opts.RefreshPanes == nil {
		opts.RefreshPanes = func(context.Context) {}
	}
	classifier := NewClassifier(matchers, 60*time.Second)
	debouncer := NewDebouncer(5 * time.Minute)
	injector := NewInjector(reg, time.Millisecond)
	return New(reg, classifier, debouncer, injector, opts)
}

func TestRoundTripApprovalFlow(t *testing.T) {
	reg, panes := newTestRegistry(t, "api")
	fe := newFakeFrontEnd("test")
	rec := &memRecorder{}
	sum := &fakeSummarizer{summary: &summarize.Summary{
		SpeechText: "api wants to run a migration",
		Options: []summarize.Option{
			{Key: "1", Label: "approve", Instruction: "yes, run it"},
		},
	}}
	tw := newTestTower(t, reg, Options{
		Summarizer: sum,
		FrontEnds:  []FrontEnd{fe},
		Recorder:   rec,
	})
	ctx := context.Background()

	// Agent starts producing output.
	panes["api"].setText("running db migration...")
	tw.Tick(ctx)
	sess, _ := reg.Get("api")
	if sess.State() != StateWorking {
		t.Fatalf("state = %s, want working", sess.State())
	}

	// A permission prompt appears.
	panes["api"].setText("Do you want to proceed?")
	tw.Tick(ctx)
	if sess.State() != StateWaiting {
		t.Fatalf("state = %s, want waiting", sess.State())
	}

	n := fe.wait(t)
	if n.Kind != EventPermission || n.SessionName != "api" {
		t.Fatalf("notification = %+v", n)
	}
	if n.DecisionID == "" || len(n.Options) == 0 {
		t.Fatalf("notification carries no decision: %+v", n)
	}

	// Operator picks option 1; the instruction lands in the pane and the
	// session returns to working.
	panes["api"].setText("migration running")
	if err := tw.Respond(ctx, "api", "1"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got := panes["api"].sentTexts(); len(got) != 1 || got[0] != "yes, run it" {
		t.Fatalf("injected = %v, want the chosen option's instruction", got)
	}
	if sess.State() != StateWorking {
		t.Errorf("state = %s, want working after response", sess.State())
	}
	if sess.Pending() != nil {
		t.Error("pending decision survived the response")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.interactions) != 1 {
		t.Fatalf("interactions = %d, want 1", len(rec.interactions))
	}
	in := rec.interactions[0]
	if in.Outcome != OutcomeSent || in.Instruction != "yes, run it" || in.Response != "1" {
		t.Errorf("interaction = %+v", in)
	}
}

func TestPaneGoneIsTerminal(t *testing.T) {
	reg, panes := newTestRegistry(t, "api")
	fe := newFakeFrontEnd("test")
	tw := newTestTower(t, reg, Options{FrontEnds: []FrontEnd{fe}})
	ctx := context.Background()

	panes["api"].setErr(tmux.ErrPaneUnavailable)
	tw.Tick(ctx)

	sess, _ := reg.Get("api")
	if sess.State() != StateGone {
		t.Fatalf("state = %s, want gone", sess.State())
	}

	// Pane comes back with provocative content: gone stays gone, no
	// classification happens until restart.
	panes["api"].setErr(nil)
	panes["api"].setText("Traceback (most recent call last)")
	tw.Tick(ctx)
	if sess.State() != StateGone {
		t.Errorf("state = %s, gone must be terminal", sess.State())
	}
	fe.expectNone(t)
}

func TestCaptureTimeoutPreservesState(t *testing.T) {
	reg, panes := newTestRegistry(t, "api")
	tw := newTestTower(t, reg, Options{})
	ctx := context.Background()

	panes["api"].setText("building...")
	tw.Tick(ctx)
	sess, _ := reg.Get("api")
	if sess.State() != StateWorking {
		t.Fatal("setup failed")
	}

	panes["api"].setErr(tmux.ErrCaptureTimeout)
	tw.Tick(ctx)
	if sess.State() != StateWorking {
		t.Errorf("state = %s, capture timeout must preserve previous state", sess.State())
	}
}

func TestRepeatedErrorStateNotifiesOnce(t *testing.T) {
	reg, panes := newTestRegistry(t, "api")
	fe := newFakeFrontEnd("test")
	tw := newTestTower(t, reg, Options{FrontEnds: []FrontEnd{fe}})
	ctx := context.Background()

	panes["api"].setText("Error: build failed\nsome more output")
	tw.Tick(ctx)
	fe.wait(t)

	// Output keeps changing but keeps matching the error pattern: the
	// state transition already happened, so nothing new is emitted.
	panes["api"].setText("Error: build failed\neven more output")
	tw.Tick(ctx)
	fe.expectNone(t)
}

func TestSummarizerFailureDegradesToFallback(t *testing.T) {
	reg, panes := newTestRegistry(t, "api")
	fe := newFakeFrontEnd("test")
	sum := &fakeSummarizer{err: errors.New("model unavailable")}
	tw := newTestTower(t, reg, Options{Summarizer: sum, FrontEnds: []FrontEnd{fe}})

	panes["api"].setText("FAILED tests/test_auth.py")
	tw.Tick(context.Background())

	n := fe.wait(t)
	if n.SpeechText == "" {
		t.Error("fallback produced no speech text")
	}
	var hasStop bool
	for _, o := range n.Options {
		if o.Key == summarize.StopOptionKey {
			hasStop = true
		}
	}
	if !hasStop {
		t.Errorf("fallback options missing stop: %+v", n.Options)
	}
}

func TestSlowFrontEndDoesNotBlockTick(t *testing.T) {
	reg, panes := newTestRegistry(t, "api")
	slow := &fakeFrontEnd{name: "slow", ch: make(chan Notification)} // unbuffered, never read
	tw := newTestTower(t, reg, Options{FrontEnds: []FrontEnd{slow}, DeliveryTimeout: 50 * time.Millisecond})

	panes["api"].setText("Error: kaboom")
	start := time.Now()
	tw.Tick(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("tick blocked on delivery for %v", elapsed)
	}
}

func TestFailureInOneSessionDoesNotAbortOthers(t *testing.T) {
	reg, panes := newTestRegistry(t, "broken", "healthy")
	tw := newTestTower(t, reg, Options{})
	ctx := context.Background()

	panes["broken"].setErr(errors.New("capture exploded"))
	panes["healthy"].setText("making progress")
	tw.Tick(ctx)

	healthy, _ := reg.Get("healthy")
	if healthy.State() != StateWorking {
		t.Errorf("healthy session state = %s, isolation failed", healthy.State())
	}
}

func TestIngestEventFeedsPipeline(t *testing.T) {
	reg, _ := newTestRegistry(t, "api")
	fe := newFakeFrontEnd("test")
	tw := newTestTower(t, reg, Options{FrontEnds: []FrontEnd{fe}})
	ctx := context.Background()

	err := tw.IngestEvent(ctx, "api", EventPermission, "Permission requested for: Bash", []string{"Command: rm -rf build"})
	if err != nil {
		t.Fatalf("IngestEvent: %v", err)
	}

	sess, _ := reg.Get("api")
	if sess.State() != StateWaiting {
		t.Errorf("state = %s, want waiting", sess.State())
	}
	n := fe.wait(t)
	if n.Kind != EventPermission {
		t.Errorf("kind = %s", n.Kind)
	}

	if err := tw.IngestEvent(ctx, "ghost", EventPermission, "", nil); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("unknown session err = %v", err)
	}
}

func TestIngestEventStateFollowsKind(t *testing.T) {
	reg, _ := newTestRegistry(t, "api")
	tw := newTestTower(t, reg, Options{})
	ctx := context.Background()
	sess, _ := reg.Get("api")

	cases := []struct {
		kind EventKind
		want State
	}{
		{EventStuck, StateStuck},
		{EventError, StateFailed},
		{EventPermission, StateWaiting},
		{EventDeploy, StateWaiting},
		{EventNormalCleared, StateWorking},
	}
	for _, tc := range cases {
		if err := tw.IngestEvent(ctx, "api", tc.kind, "raw output", nil); err != nil {
			t.Fatalf("IngestEvent(%s): %v", tc.kind, err)
		}
		if sess.State() != tc.want {
			t.Errorf("state after %s event = %s, want %s", tc.kind, sess.State(), tc.want)
		}
	}
}

func TestRespondFreeTextRecordsNoMatch(t *testing.T) {
	reg, panes := newTestRegistry(t, "api")
	fe := newFakeFrontEnd("test")
	rec := &memRecorder{}
	tw := newTestTower(t, reg, Options{FrontEnds: []FrontEnd{fe}, Recorder: rec})
	ctx := context.Background()

	panes["api"].setText("Do you want to proceed?")
	tw.Tick(ctx)
	fe.wait(t)

	// The operator types something that is not an option key: it is
	// injected literally and recorded as a non-matching response.
	panes["api"].setText("thinking...")
	if err := tw.Respond(ctx, "api", "check the logs first"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got := panes["api"].sentTexts(); len(got) != 1 || got[0] != "check the logs first" {
		t.Fatalf("injected = %v, want the literal text", got)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.interactions) != 1 {
		t.Fatalf("interactions = %d, want 1", len(rec.interactions))
	}
	in := rec.interactions[0]
	if in.Outcome != OutcomeNoMatch || in.Instruction != "check the logs first" {
		t.Errorf("interaction = %+v, want outcome %q", in, OutcomeNoMatch)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	reg, panes := newTestRegistry(t, "api")
	panes["api"].setText("output")
	tw := newTestTower(t, reg, Options{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tw.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
