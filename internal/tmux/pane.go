package tmux

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/agent-tower/internal/logging"
)

var samplerLog = logging.ForComponent(logging.CompSampler)

// ErrPaneUnavailable is returned when the pane target no longer resolves
// (session killed, pane closed). Callers must treat this as the session
// going away, not as a transient capture failure.
var ErrPaneUnavailable = errors.New("pane unavailable")

// ErrCaptureTimeout is returned when a capture exceeds its timeout.
// Callers should preserve previous state rather than transitioning.
var ErrCaptureTimeout = errors.New("capture-pane timed out")

// DefaultCaptureLines is the trailing window captured per sample.
const DefaultCaptureLines = 50

const captureCacheTTL = 500 * time.Millisecond

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)

// StripANSI removes ANSI escape and OSC sequences from terminal output.
func StripANSI(text string) string {
	return ansiPattern.ReplaceAllString(text, "")
}

// Fingerprint returns a cheap content hash used to detect pane changes.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Sample is one captured view of a pane: plain text plus its fingerprint.
type Sample struct {
	Text        string
	Fingerprint string
	TakenAt     time.Time
}

// Pane wraps a tmux pane target ("%3", "work:0.1", ...) for capture and
// key injection. Safe for concurrent use.
type Pane struct {
	Target string
	Lines  int

	cacheMu      sync.RWMutex
	cacheSample  *Sample
	cacheTime    time.Time
	captureGroup singleflight.Group
}

// NewPane creates a pane handle capturing the last lines lines per sample.
func NewPane(target string, lines int) *Pane {
	if lines <= 0 {
		lines = DefaultCaptureLines
	}
	return &Pane{Target: target, Lines: lines}
}

// Pane cache - reduces subprocess spawns from O(n) to O(1) per tick.
// Instead of running `tmux display-message` per pane to check existence,
// we run `tmux list-panes -a` ONCE and cache the live pane targets.
var (
	paneCacheMu   sync.RWMutex
	paneCacheData map[string]bool
	paneCacheTime time.Time
)

// RefreshPaneCache updates the cache of live pane targets. Call once per
// scheduler tick; Exists() then reads from cache without spawning tmux.
func RefreshPaneCache(ctx context.Context) {
	cmd := exec.CommandContext(ctx, "tmux", "list-panes", "-a", "-F", "#{pane_id}\t#{session_name}:#{window_index}.#{pane_index}")
	output, err := cmd.Output()
	if err != nil {
		paneCacheMu.Lock()
		paneCacheData = nil
		paneCacheTime = time.Time{}
		paneCacheMu.Unlock()
		return
	}

	newCache := make(map[string]bool)
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		for _, target := range strings.Split(line, "\t") {
			if target != "" {
				newCache[target] = true
			}
		}
	}

	paneCacheMu.Lock()
	paneCacheData = newCache
	paneCacheTime = time.Now()
	paneCacheMu.Unlock()
}

// paneExistsFromCache checks pane existence using cached data.
// Returns (exists, cacheValid); a stale or empty cache is not valid.
func paneExistsFromCache(target string) (bool, bool) {
	paneCacheMu.RLock()
	defer paneCacheMu.RUnlock()

	if paneCacheData == nil || time.Since(paneCacheTime) > 2*time.Second {
		return false, false
	}
	return paneCacheData[target], true
}

// Exists reports whether the pane target still resolves. Uses the pane
// cache when fresh, falls back to a display-message probe.
func (p *Pane) Exists(ctx context.Context) bool {
	if exists, valid := paneExistsFromCache(p.Target); valid {
		return exists
	}
	cmd := exec.CommandContext(ctx, "tmux", "display-message", "-p", "-t", p.Target, "ok")
	return cmd.Run() == nil
}

// Sample captures the trailing window of the pane, strips control
// sequences, and fingerprints the result. Results are cached briefly and
// concurrent captures of the same pane are deduplicated via singleflight.
func (p *Pane) Sample(ctx context.Context) (*Sample, error) {
	// Fast path: fresh cached sample
	p.cacheMu.RLock()
	if p.cacheSample != nil && time.Since(p.cacheTime) < captureCacheTTL {
		s := p.cacheSample
		p.cacheMu.RUnlock()
		return s, nil
	}
	p.cacheMu.RUnlock()

	v, err, _ := p.captureGroup.Do("capture", func() (interface{}, error) {
		// Double-check cache inside singleflight
		p.cacheMu.RLock()
		if p.cacheSample != nil && time.Since(p.cacheTime) < captureCacheTTL {
			s := p.cacheSample
			p.cacheMu.RUnlock()
			return s, nil
		}
		p.cacheMu.RUnlock()

		if exists, valid := paneExistsFromCache(p.Target); valid && !exists {
			return nil, ErrPaneUnavailable
		}

		// -J joins wrapped lines so hashes don't change on resize
		captureCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		cmd := exec.CommandContext(captureCtx, "tmux", "capture-pane",
			"-t", p.Target, "-p", "-J", "-S", fmt.Sprintf("-%d", p.Lines))
		output, err := cmd.Output()
		if err != nil {
			if captureCtx.Err() == context.DeadlineExceeded {
				return nil, ErrCaptureTimeout
			}
			if exitErr := new(exec.ExitError); errors.As(err, &exitErr) {
				// tmux exits non-zero when the target can't be found
				return nil, ErrPaneUnavailable
			}
			return nil, fmt.Errorf("capture pane %s: %w", p.Target, err)
		}

		text := StripANSI(string(output))
		sample := &Sample{
			Text:        text,
			Fingerprint: Fingerprint(text),
			TakenAt:     time.Now(),
		}

		p.cacheMu.Lock()
		p.cacheSample = sample
		p.cacheTime = time.Now()
		p.cacheMu.Unlock()

		return sample, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Sample), nil
}

// InvalidateCache drops the cached sample so the next Sample hits tmux.
// The injector calls this after writing so the settle re-sample sees
// fresh content instead of the pre-write cache.
func (p *Pane) InvalidateCache() {
	p.cacheMu.Lock()
	p.cacheSample = nil
	p.cacheTime = time.Time{}
	p.cacheMu.Unlock()
}

// SendKeys writes literal text into the pane followed by Enter.
func (p *Pane) SendKeys(ctx context.Context, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// -l sends the text literally so tmux doesn't interpret key names
	cmd := exec.CommandContext(sendCtx, "tmux", "send-keys", "-t", p.Target, "-l", text)
	if err := cmd.Run(); err != nil {
		samplerLog.Warn("send_keys_failed", "target", p.Target, "error", err.Error())
		return fmt.Errorf("send-keys to %s: %w", p.Target, err)
	}

	cmd = exec.CommandContext(sendCtx, "tmux", "send-keys", "-t", p.Target, "Enter")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("send-keys Enter to %s: %w", p.Target, err)
	}
	return nil
}

// IsTmuxAvailable checks if tmux is installed and accessible.
func IsTmuxAvailable() error {
	cmd := exec.Command("tmux", "-V")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux not found or not working: %w (output: %s)", err, string(output))
	}
	return nil
}
