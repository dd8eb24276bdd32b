package tower

import (
	"testing"
	"time"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	matchers, err := CompileMatchers(DefaultRawMatchers())
	if err != nil {
		t.Fatalf("CompileMatchers: %v", err)
	}
	return NewClassifier(matchers, 60*time.Second)
}

func TestClassifyPermissionPrompt(t *testing.T) {
	c := newTestClassifier(t)

	cl := c.Classify(StateWorking, "Do you want to proceed?", true, 0, time.Hour)
	if cl.State != StateWaiting {
		t.Errorf("state = %s, want %s", cl.State, StateWaiting)
	}
	if !cl.Emit || cl.Kind != EventPermission {
		t.Errorf("emit=%v kind=%s, want permission event", cl.Emit, cl.Kind)
	}
}

func TestClassifyErrorTakesPrecedenceOverPermission(t *testing.T) {
	c := newTestClassifier(t)

	text := "Traceback (most recent call last)\nDo you want to proceed?"
	cl := c.Classify(StateWorking, text, true, 0, time.Hour)
	if cl.State != StateFailed {
		t.Errorf("state = %s, want %s (error wins)", cl.State, StateFailed)
	}
	if !cl.Emit || cl.Kind != EventError {
		t.Errorf("emit=%v kind=%s, want error event", cl.Emit, cl.Kind)
	}
}

func TestClassifyIdenticalSamplesEmitNothing(t *testing.T) {
	c := newTestClassifier(t)

	// Same fingerprint, same matching text: state holds, no new event.
	cl := c.Classify(StateWaiting, "Do you want to proceed?", false, 10*time.Second, 10*time.Second)
	if cl.State != StateWaiting {
		t.Errorf("state = %s, want %s", cl.State, StateWaiting)
	}
	if cl.Emit {
		t.Error("repeated sample of same state emitted an event")
	}

	cl = c.Classify(StateFailed, "Error: boom", false, 10*time.Second, 10*time.Second)
	if cl.Emit {
		t.Error("repeated error sample emitted an event")
	}
}

func TestClassifyStallToStuck(t *testing.T) {
	c := newTestClassifier(t)

	// Below threshold: still working.
	cl := c.Classify(StateWorking, "compiling...", false, 59*time.Second, time.Hour)
	if cl.State != StateWorking || cl.Emit {
		t.Errorf("pre-threshold: state=%s emit=%v, want working/no event", cl.State, cl.Emit)
	}

	// Past threshold: stuck, with event.
	cl = c.Classify(StateWorking, "compiling...", false, 61*time.Second, time.Hour)
	if cl.State != StateStuck || !cl.Emit || cl.Kind != EventStuck {
		t.Errorf("post-threshold: state=%s emit=%v kind=%s", cl.State, cl.Emit, cl.Kind)
	}
}

func TestClassifyStuckReRaisesPeriodically(t *testing.T) {
	c := newTestClassifier(t)

	// Still stuck but within the threshold since last event: silent.
	cl := c.Classify(StateStuck, "compiling...", false, 90*time.Second, 30*time.Second)
	if cl.State != StateStuck || cl.Emit {
		t.Errorf("early re-check: state=%s emit=%v, want stuck/silent", cl.State, cl.Emit)
	}

	// A further threshold interval with no change: re-raise.
	cl = c.Classify(StateStuck, "compiling...", false, 120*time.Second, 61*time.Second)
	if !cl.Emit || cl.Kind != EventStuck {
		t.Errorf("re-raise: emit=%v kind=%s, want stuck event", cl.Emit, cl.Kind)
	}
}

func TestClassifyRecoveryEmitsNormalCleared(t *testing.T) {
	c := newTestClassifier(t)

	for _, prev := range []State{StateFailed, StateWaiting, StateStuck} {
		cl := c.Classify(prev, "writing src/main.go", true, 0, time.Hour)
		if cl.State != StateWorking {
			t.Errorf("from %s: state = %s, want working", prev, cl.State)
		}
		if !cl.Emit || cl.Kind != EventNormalCleared {
			t.Errorf("from %s: emit=%v kind=%s, want normal-cleared", prev, cl.Emit, cl.Kind)
		}
	}

	// Idle to working is not an attention transition.
	cl := c.Classify(StateIdle, "starting up", true, 0, time.Hour)
	if cl.State != StateWorking || cl.Emit {
		t.Errorf("idle->working: state=%s emit=%v, want silent working", cl.State, cl.Emit)
	}
}

func TestClassifyGoneIsTerminal(t *testing.T) {
	c := newTestClassifier(t)

	cl := c.Classify(StateGone, "Do you want to proceed?", true, 0, 0)
	if cl.State != StateGone || cl.Emit {
		t.Errorf("gone session classified to %s emit=%v", cl.State, cl.Emit)
	}
}

func TestClassifyEmptyPaneIsIdle(t *testing.T) {
	c := newTestClassifier(t)

	cl := c.Classify(StateWorking, "   \n  \n", true, 0, time.Hour)
	if cl.State != StateIdle {
		t.Errorf("state = %s, want idle for empty pane", cl.State)
	}
}

func TestClassifyDeployDecision(t *testing.T) {
	c := newTestClassifier(t)

	cl := c.Classify(StateWorking, "All checks passed. Ready to deploy commit abc123", true, 0, time.Hour)
	if cl.State != StateWaiting || !cl.Emit || cl.Kind != EventDeploy {
		t.Errorf("state=%s emit=%v kind=%s, want waiting/deploy-decision", cl.State, cl.Emit, cl.Kind)
	}
}
