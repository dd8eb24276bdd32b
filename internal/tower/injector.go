package tower

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/asheshgoplani/agent-tower/internal/logging"
)

var injectLog = logging.ForComponent(logging.CompInject)

// ErrInjectionFailed is returned when the write to the pane did not take
// effect. Surfaced to the invoking front end, never fatal.
var ErrInjectionFailed = errors.New("injection failed")

// DefaultSettleDelay is how long the injector waits before re-sampling to
// confirm the pane reacted to the injected text.
const DefaultSettleDelay = 1500 * time.Millisecond

// Injector writes literal instructions into a session's pane and verifies
// (best effort) that the pane's content changed as a result.
type Injector struct {
	registry *Registry
	settle   time.Duration
}

// NewInjector creates an injector over the registry.
func NewInjector(registry *Registry, settle time.Duration) *Injector {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Injector{registry: registry, settle: settle}
}

// Inject resolves the session, writes text followed by a submit action to
// its pane, re-samples after a settle delay, and on success clears any
// pending decision and resets the session to working.
//
// The whole write-settle-resample sequence runs under the session's lock
// so a concurrent scheduler sample of the same pane cannot observe a torn
// update. A failed write is retried once before surfacing
// ErrInjectionFailed.
func (i *Injector) Inject(ctx context.Context, sessionName, text string) error {
	sess, err := i.registry.Get(sessionName)
	if err != nil {
		return err
	}

	sess.lock()
	defer sess.unlock()

	if err := i.sendWithRetry(ctx, sess, text); err != nil {
		return err
	}

	// Re-sample to confirm the pane reacted. Terminal output may
	// coincidentally be unchanged, so an identical fingerprint is logged
	// but not treated as failure.
	sess.Pane.InvalidateCache()
	select {
	case <-time.After(i.settle):
	case <-ctx.Done():
		return ctx.Err()
	}

	now := time.Now()
	sample, err := sess.Pane.Sample(ctx)
	switch {
	case err != nil:
		injectLog.Warn("post_inject_sample_failed",
			slog.String("session", sess.Name),
			slog.String("error", err.Error()))
	case sample.Fingerprint == sess.lastFingerprint:
		injectLog.Debug("pane_unchanged_after_inject", slog.String("session", sess.Name))
	default:
		sess.lastFingerprint = sample.Fingerprint
		sess.lastChangeTime = now
		sess.lastSampleTime = now
	}

	// The operator just acted: the decision is consumed and the agent is
	// presumed working again until the next sample says otherwise.
	sess.resolvePendingLocked(text, now)
	if sess.state != StateWorking {
		sess.state = StateWorking
		sess.lastStateChange = now
	}

	injectLog.Info("instruction_injected",
		slog.String("session", sess.Name),
		slog.Int("chars", len(text)))
	return nil
}

func (i *Injector) sendWithRetry(ctx context.Context, sess *Session, text string) error {
	err := sess.Pane.SendKeys(ctx, text)
	if err == nil {
		return nil
	}
	injectLog.Warn("send_keys_retrying",
		slog.String("session", sess.Name),
		slog.String("error", err.Error()))

	if retryErr := sess.Pane.SendKeys(ctx, text); retryErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrInjectionFailed, sess.Name, retryErr)
	}
	return nil
}
