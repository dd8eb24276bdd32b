package tower

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/agent-tower/internal/logging"
	"github.com/asheshgoplani/agent-tower/internal/summarize"
	"github.com/asheshgoplani/agent-tower/internal/tmux"
)

var schedLog = logging.ForComponent(logging.CompSched)
var notifLog = logging.ForComponent(logging.CompNotif)

// Defaults for the scheduler's timing knobs.
const (
	DefaultPollInterval     = 2 * time.Second
	DefaultSummarizeTimeout = 10 * time.Second
	DefaultDeliveryTimeout  = 10 * time.Second
)

// Options configures a Tower.
type Options struct {
	PollInterval     time.Duration
	SummarizeTimeout time.Duration
	DeliveryTimeout  time.Duration
	DecisionTTL      time.Duration

	Summarizer summarize.Summarizer // nil means fallback-only
	FrontEnds  []FrontEnd
	Recorder   Recorder // nil means no persistence

	// RefreshPanes runs once per tick before sampling so per-pane
	// existence checks don't spawn a subprocess each. Defaults to the
	// tmux pane cache refresh; tests substitute a no-op.
	RefreshPanes func(ctx context.Context)
}

// Tower is the single scheduling authority: one periodic loop drives every
// session through sample, classify, registry update, and debounce; on a
// non-suppressed event it runs the summarizer and fans the result out to
// the front ends.
type Tower struct {
	registry   *Registry
	classifier *Classifier
	debouncer  *Debouncer
	injector   *Injector

	summarizer summarize.Summarizer
	fallback   *summarize.Fallback
	frontends  []FrontEnd
	recorder   Recorder

	interval         time.Duration
	summarizeTimeout time.Duration
	deliveryTimeout  time.Duration
	decisionTTL      time.Duration

	refreshPanes func(ctx context.Context)
}

// New assembles a Tower from its parts.
func New(registry *Registry, classifier *Classifier, debouncer *Debouncer, injector *Injector, opts Options) *Tower {
	t := &Tower{
		registry:         registry,
		classifier:       classifier,
		debouncer:        debouncer,
		injector:         injector,
		summarizer:       opts.Summarizer,
		fallback:         &summarize.Fallback{},
		frontends:        opts.FrontEnds,
		recorder:         opts.Recorder,
		interval:         opts.PollInterval,
		summarizeTimeout: opts.SummarizeTimeout,
		deliveryTimeout:  opts.DeliveryTimeout,
		decisionTTL:      opts.DecisionTTL,
		refreshPanes:     opts.RefreshPanes,
	}
	if t.interval <= 0 {
		t.interval = DefaultPollInterval
	}
	if t.summarizeTimeout <= 0 {
		t.summarizeTimeout = DefaultSummarizeTimeout
	}
	if t.deliveryTimeout <= 0 {
		t.deliveryTimeout = DefaultDeliveryTimeout
	}
	if t.decisionTTL <= 0 {
		t.decisionTTL = DefaultDecisionTTL
	}
	if t.refreshPanes == nil {
		t.refreshPanes = tmux.RefreshPaneCache
	}
	return t
}

// Registry exposes the session registry to front ends (read path only).
func (t *Tower) Registry() *Registry {
	return t.registry
}

// Run drives the scheduler loop until ctx is cancelled. Per-session
// updates are atomic, so cancellation mid-pass never leaves a session
// half-updated.
func (t *Tower) Run(ctx context.Context) error {
	schedLog.Info("scheduler_started",
		slog.Int("sessions", t.registry.Len()),
		slog.Duration("interval", t.interval))

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			schedLog.Info("scheduler_stopped")
			return nil
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick runs one sampling pass over every session. Sessions are fanned out
// concurrently; each session's own sample-classify-update sequence runs
// under that session's lock. A failure in one session never aborts the
// pass for the others.
func (t *Tower) Tick(ctx context.Context) {
	t.refreshPanes(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range t.registry.All() {
		g.Go(func() error {
			t.pollSession(gctx, sess)
			return nil
		})
	}
	_ = g.Wait()
}

// pollSession samples one session, classifies the result, and dispatches
// any non-suppressed event.
func (t *Tower) pollSession(ctx context.Context, sess *Session) {
	sess.lock()

	if sess.state == StateGone {
		// Terminal; nothing to sample until reconfiguration.
		expired := t.expirePendingLocked(sess)
		sess.unlock()
		t.recordExpired(ctx, sess.Name, expired)
		return
	}

	sample, err := sess.Pane.Sample(ctx)
	now := time.Now()
	if err != nil {
		switch {
		case errors.Is(err, tmux.ErrPaneUnavailable):
			sess.markGoneLocked(now)
			sess.unlock()
			schedLog.Warn("pane_gone", slog.String("session", sess.Name))
		case errors.Is(err, tmux.ErrCaptureTimeout):
			// Transient: keep previous state rather than guessing.
			sess.unlock()
			schedLog.Debug("capture_timeout", slog.String("session", sess.Name))
		default:
			sess.unlock()
			schedLog.Warn("sample_failed",
				slog.String("session", sess.Name),
				slog.String("error", err.Error()))
		}
		return
	}

	changed := sample.Fingerprint != sess.lastFingerprint
	sinceChange := now.Sub(sess.lastChangeTime)
	if changed {
		sinceChange = 0
	}
	sinceEvent := time.Duration(1<<62 - 1) // no event yet
	if !sess.lastEventTime.IsZero() {
		sinceEvent = now.Sub(sess.lastEventTime)
	}

	cl := t.classifier.Classify(sess.state, sample.Text, changed, sinceChange, sinceEvent)
	sess.applySampleLocked(sample.Fingerprint, now, cl)
	expired := t.expirePendingLocked(sess)
	sess.unlock()

	t.recordExpired(ctx, sess.Name, expired)

	if !cl.Emit {
		return
	}
	if !t.debouncer.ShouldNotify(sess.Name, cl.Kind, now) {
		schedLog.Debug("event_debounced",
			slog.String("session", sess.Name),
			slog.String("kind", string(cl.Kind)))
		return
	}

	ev := NewEvent(sess.Name, cl.Kind, cl.State, sample.Text, cl.KeyLines)
	t.dispatch(ctx, sess, ev)
}

// IngestEvent feeds an externally detected event (agent hooks) into the
// same debounce, summarize, and notify pipeline as polled events. The
// session's state is updated to match the event kind so snapshots agree
// with what was reported.
func (t *Tower) IngestEvent(ctx context.Context, sessionName string, kind EventKind, rawText string, keyLines []string) error {
	sess, err := t.registry.Get(sessionName)
	if err != nil {
		return err
	}

	now := time.Now()
	var state State
	switch kind {
	case EventError:
		state = StateFailed
	case EventStuck:
		state = StateStuck
	case EventNormalCleared:
		state = StateWorking
	default:
		state = StateWaiting
	}

	sess.lock()
	if sess.state == StateGone {
		sess.unlock()
		return nil
	}
	if sess.state != state {
		sess.state = state
		sess.lastStateChange = now
	}
	sess.lastEventKind = kind
	sess.lastEventTime = now
	sess.unlock()

	if !t.debouncer.ShouldNotify(sessionName, kind, now) {
		return nil
	}
	t.dispatch(ctx, sess, NewEvent(sessionName, kind, state, rawText, keyLines))
	return nil
}

// dispatch summarizes an event, installs the pending decision, and fans
// the notification out. Never blocks the caller beyond the summarizer
// timeout; delivery itself is fire-and-forget.
func (t *Tower) dispatch(ctx context.Context, sess *Session, ev Event) {
	if t.recorder != nil {
		if err := t.recorder.RecordEvent(ctx, ev); err != nil {
			schedLog.Warn("record_event_failed", slog.String("error", err.Error()))
		}
	}

	summary := t.summarizeEvent(ctx, ev)

	var decisionID string
	if ev.Kind != EventNormalCleared {
		decision := NewPendingDecision(ev, summary, t.decisionTTL)
		sess.lock()
		displaced := sess.setPendingLocked(decision)
		sess.unlock()
		decisionID = decision.ID
		if displaced != nil {
			notifLog.Info("decision_preempted",
				slog.String("session", sess.Name),
				slog.String("by_kind", string(ev.Kind)),
				slog.String("was_kind", string(displaced.Event.Kind)))
		}
	}

	n := Notification{
		SessionName: ev.SessionName,
		Kind:        ev.Kind,
		State:       ev.State,
		SpeechText:  summary.SpeechText,
		Options:     summary.Options,
		KeyLines:    summary.KeyLines,
		DecisionID:  decisionID,
		DetectedAt:  ev.DetectedAt,
	}

	for _, fe := range t.frontends {
		go t.deliver(fe, n)
	}
}

// deliver pushes one notification to one front end with its own timeout.
// A slow or unreachable front end costs a goroutine, not a tick.
func (t *Tower) deliver(fe FrontEnd, n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), t.deliveryTimeout)
	defer cancel()
	if err := fe.Notify(ctx, n); err != nil {
		notifLog.Warn("delivery_failed",
			slog.String("frontend", fe.Name()),
			slog.String("session", n.SessionName),
			slog.String("error", err.Error()))
	}
}

// summarizeEvent runs the configured summarizer bounded by its timeout,
// degrading to the raw-text fallback on any failure.
func (t *Tower) summarizeEvent(ctx context.Context, ev Event) *summarize.Summary {
	if t.summarizer != nil {
		sctx, cancel := context.WithTimeout(ctx, t.summarizeTimeout)
		defer cancel()
		summary, err := t.summarizer.Summarize(sctx, ev.RawText, string(ev.Kind))
		if err == nil {
			return summary
		}
		notifLog.Warn("summarizer_degraded",
			slog.String("session", ev.SessionName),
			slog.String("error", err.Error()))
	}
	summary, _ := t.fallback.Summarize(ctx, ev.RawText, string(ev.Kind))
	if len(ev.KeyLines) > 0 {
		summary.KeyLines = ev.KeyLines
	}
	return summary
}

// Respond routes a human response (an option key or free text) from any
// front end into the originating pane. Option keys resolve against the
// session's pending decision; anything else is injected literally.
func (t *Tower) Respond(ctx context.Context, sessionName, keyOrText string) error {
	sess, err := t.registry.Get(sessionName)
	if err != nil {
		return err
	}

	instruction := keyOrText
	matched := false
	var pending *PendingDecision
	if p := sess.Pending(); p != nil && !p.Expired(time.Now()) {
		pending = p
		if opt, ok := p.OptionFor(keyOrText); ok {
			instruction = opt.Instruction
			matched = true
		}
	}

	injectErr := t.injector.Inject(ctx, sessionName, instruction)

	if t.recorder != nil && pending != nil {
		outcome := OutcomeSent
		if !matched {
			outcome = OutcomeNoMatch
		}
		if injectErr != nil {
			outcome = OutcomeSendFailed
		}
		in := Interaction{
			ID:          pending.ID,
			Timestamp:   time.Now(),
			Session:     sessionName,
			EventKind:   pending.Event.Kind,
			SpeechText:  pending.Summary.SpeechText,
			Options:     pending.Summary.Options,
			Response:    keyOrText,
			Instruction: instruction,
			Outcome:     outcome,
		}
		if err := t.recorder.RecordInteraction(ctx, in); err != nil {
			notifLog.Warn("record_interaction_failed", slog.String("error", err.Error()))
		}
	}

	if injectErr != nil {
		return injectErr
	}

	// The operator just acted; lift the cooldown so the next development
	// on this session notifies immediately.
	t.debouncer.Reset(sessionName)
	return nil
}

// expirePendingLocked drops an expired pending decision and promotes the
// next queued one. Caller holds the session lock. Returns the expired
// decision, nil if none.
func (t *Tower) expirePendingLocked(sess *Session) *PendingDecision {
	if sess.pending == nil || !sess.pending.Expired(time.Now()) {
		return nil
	}
	expired := sess.pending
	sess.resolvePendingLocked("", time.Now())
	expired.ChosenInstruction = ""
	return expired
}

func (t *Tower) recordExpired(ctx context.Context, session string, expired *PendingDecision) {
	if expired == nil {
		return
	}
	notifLog.Info("decision_expired",
		slog.String("session", session),
		slog.String("kind", string(expired.Event.Kind)))
	if t.recorder == nil {
		return
	}
	in := Interaction{
		ID:         expired.ID,
		Timestamp:  time.Now(),
		Session:    session,
		EventKind:  expired.Event.Kind,
		SpeechText: expired.Summary.SpeechText,
		Options:    expired.Summary.Options,
		Outcome:    OutcomeExpired,
	}
	if err := t.recorder.RecordInteraction(ctx, in); err != nil {
		notifLog.Warn("record_interaction_failed", slog.String("error", err.Error()))
	}
}
